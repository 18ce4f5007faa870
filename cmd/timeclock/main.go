// Command timeclock is the device-side host of an attendance session. It
// drives the attendance engine against a timeclock server.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
