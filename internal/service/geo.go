package service

import (
	"math"
	"time"

	"recovery/internal/domain"
)

const earthRadiusKm = 6371.0

// DistanceKm returns the great-circle distance between two points.
func DistanceKm(a, b domain.Location) float64 {
	dLat := toRadians(b.Lat - a.Lat)
	dLng := toRadians(b.Lng - a.Lng)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRadians(a.Lat))*math.Cos(toRadians(b.Lat))*
			math.Sin(dLng/2)*math.Sin(dLng/2)

	return earthRadiusKm * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}

// EstimateETA converts a straight-line distance into a rough travel time.
func EstimateETA(distanceKm, speedKmh float64) time.Duration {
	if distanceKm <= 0 || speedKmh <= 0 {
		return 0
	}
	return time.Duration(distanceKm / speedKmh * float64(time.Hour))
}

// ETAMinutes rounds an ETA up to whole minutes.
func ETAMinutes(eta time.Duration) int {
	return int(math.Ceil(eta.Minutes()))
}

func isValidLatitude(lat float64) bool {
	return lat >= -90 && lat <= 90
}

func isValidLongitude(lng float64) bool {
	return lng >= -180 && lng <= 180
}

func validLocation(loc *domain.Location) bool {
	return loc != nil && isValidLatitude(loc.Lat) && isValidLongitude(loc.Lng)
}
