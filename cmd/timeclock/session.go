package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"timeclock/internal/attendance/engine"
	"timeclock/internal/attendance/heartbeat"
	"timeclock/internal/attendance/location"
	att "timeclock/internal/attendance/models"
	dErrors "timeclock/pkg/domain-errors"
)

const sessionHelp = `commands:
  fix <lat> <lng> <accuracy_m>  set the device position
  clock_in [site_id]            clock in (site optional with one assigned site)
  lunch_start | lunch_end       start or end the lunch break
  clock_out                     clock out
  hide | show                   background or foreground the app
  status                        print the session state
  reset                         start a new session after clock-out
  quit                          end the session`

func newSessionCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "session",
		Short: "Run an interactive attendance session reading commands from stdin",
		Long:  "Run an interactive attendance session reading commands from stdin.\n\n" + sessionHelp,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			log := newLogger(cmd, cfg.LogLevel)
			c, err := opts.client(cmd, cfg, log)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			fix := location.NewFixed()
			visibility := heartbeat.NewSignal()
			out := cmd.OutOrStdout()
			eng, err := engine.New(cfg.ApprenticeID, c, c, fix, visibility,
				engine.WithPolicy(cfg.Policy),
				engine.WithLogger(log),
				engine.WithSampleObserver(func(s att.HeartbeatSample) {
					fmt.Fprintf(out, "heartbeat: %s\n", describeVerdict(s.Verdict))
				}),
			)
			if err != nil {
				return err
			}
			return runSession(ctx, cmd.InOrStdin(), out, eng, fix, visibility)
		},
	}
}

// session feeds text commands to one engine.
type session struct {
	engine     *engine.Engine
	fix        *location.Fixed
	visibility *heartbeat.Signal
	out        io.Writer
}

func runSession(ctx context.Context, in io.Reader, out io.Writer, eng *engine.Engine, fix *location.Fixed, visibility *heartbeat.Signal) error {
	if err := eng.Start(ctx); err != nil {
		return err
	}
	defer eng.Stop()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s := &session{engine: eng, fix: fix, visibility: visibility, out: out}
	s.status()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if s.exec(ctx, line) {
				return nil
			}
		}
	}
}

// exec runs one command line and reports whether the session should end.
func (s *session) exec(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	switch cmd, args := fields[0], fields[1:]; cmd {
	case "quit", "exit":
		return true
	case "help":
		fmt.Fprintln(s.out, sessionHelp)
	case "fix":
		s.setFix(args)
	case "hide":
		s.visibility.SetVisible(false)
		fmt.Fprintln(s.out, "app hidden; heartbeats paused")
	case "show":
		s.visibility.SetVisible(true)
		fmt.Fprintln(s.out, "app visible")
	case "status":
		s.status()
	case "reset":
		if err := s.engine.Reset(); err != nil {
			s.printError(err)
			return false
		}
		fmt.Fprintln(s.out, "ready for a new shift")
	default:
		action, err := att.ParseAction(cmd)
		if err != nil {
			fmt.Fprintf(s.out, "unknown command %q (try help)\n", cmd)
			return false
		}
		req := engine.ActionRequest{Action: action, ApprenticeID: s.engine.ApprenticeID()}
		if action == att.ActionClockIn && len(args) > 0 {
			req.SiteID = args[0]
		}
		s.act(ctx, req)
	}
	return false
}

func (s *session) setFix(args []string) {
	if len(args) != 3 {
		fmt.Fprintln(s.out, "usage: fix <lat> <lng> <accuracy_m>")
		return
	}
	var vals [3]float64
	for i, a := range args {
		v, err := strconv.ParseFloat(a, 64)
		if err != nil {
			fmt.Fprintf(s.out, "invalid number %q\n", a)
			return
		}
		vals[i] = v
	}
	s.fix.Set(att.LocationReading{Latitude: vals[0], Longitude: vals[1], AccuracyMeters: vals[2]})
	fmt.Fprintf(s.out, "position set: %.6f,%.6f ±%.0fm\n", vals[0], vals[1], vals[2])
}

func (s *session) act(ctx context.Context, req engine.ActionRequest) {
	res, err := s.engine.RequestAction(ctx, req)
	if err != nil {
		s.printError(err)
		return
	}
	line := fmt.Sprintf("%s ok: state %s", res.Action, res.State)
	if res.Verdict != nil {
		line += ", " + describeVerdict(*res.Verdict)
	}
	fmt.Fprintln(s.out, line)
}

func (s *session) status() {
	fmt.Fprintf(s.out, "state: %s\n", s.engine.State())
	if e := s.engine.Entry(); e != nil {
		fmt.Fprintf(s.out, "entry: %s at %s since %s\n", e.EntryID, e.SiteID, e.ClockInAt.Format("15:04:05Z07:00"))
	}
	var allowed []string
	for _, a := range s.engine.AllowedActions() {
		allowed = append(allowed, string(a))
	}
	fmt.Fprintf(s.out, "allowed: %s\n", strings.Join(allowed, ", "))
	if s.engine.HeartbeatRunning() {
		hb := "heartbeat: running"
		if last := s.engine.LastSample(); last != nil {
			hb += " (last " + describeVerdict(last.Verdict) + ")"
		}
		fmt.Fprintln(s.out, hb)
	}
}

func (s *session) printError(err error) {
	if code := dErrors.CodeOf(err); code != "" {
		fmt.Fprintf(s.out, "error: %s: %v\n", code, err)
		return
	}
	fmt.Fprintf(s.out, "error: %v\n", err)
}

func describeVerdict(v att.GeofenceVerdict) string {
	where := "inside"
	if !v.WithinGeofence {
		where = "outside"
	}
	return fmt.Sprintf("%s geofence (%.0fm from site)", where, v.DistanceMeters)
}
