// Package geofence decides whether a location reading lies inside a site's
// circular boundary.
package geofence

import (
	"math"
	"time"

	"timeclock/internal/attendance/models"
)

// EarthRadiusMeters is the mean Earth radius used by the haversine formula.
const EarthRadiusMeters = 6371000.0

// DistanceMeters returns the great-circle distance between two coordinates.
func DistanceMeters(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := toRadians(lat2 - lat1)
	dLng := toRadians(lng2 - lng1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRadians(lat1))*math.Cos(toRadians(lat2))*
			math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusMeters * c
}

// Evaluate computes the verdict for reading against site. It is total:
// degenerate coordinates still yield a number; rejecting implausible
// readings is the gate's job.
func Evaluate(reading models.LocationReading, site models.Site, at time.Time) models.GeofenceVerdict {
	d := DistanceMeters(reading.Latitude, reading.Longitude, site.Latitude, site.Longitude)
	return models.GeofenceVerdict{
		WithinGeofence: d <= site.RadiusMeters,
		DistanceMeters: d,
		EvaluatedAt:    at,
	}
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}
