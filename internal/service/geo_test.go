package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"recovery/internal/domain"
)

func TestDistanceKm(t *testing.T) {
	a := domain.Location{Lat: 25.2, Lng: 55.3}
	b := domain.Location{Lat: 25.3, Lng: 55.3}

	assert.InDelta(t, 11.12, DistanceKm(a, b), 0.01)
	assert.InDelta(t, DistanceKm(a, b), DistanceKm(b, a), 1e-9)
	assert.Zero(t, DistanceKm(a, a))
}

func TestETA(t *testing.T) {
	assert.Equal(t, 30*time.Minute, EstimateETA(20, 40))
	assert.Zero(t, EstimateETA(0, 40))
	assert.Zero(t, EstimateETA(5, 0))

	assert.Equal(t, 17, ETAMinutes(EstimateETA(11.12, 40)))
	assert.Equal(t, 0, ETAMinutes(0))
}

func TestValidLocation(t *testing.T) {
	assert.True(t, validLocation(&domain.Location{Lat: -90, Lng: 180}))
	assert.False(t, validLocation(&domain.Location{Lat: 90.1, Lng: 0}))
	assert.False(t, validLocation(&domain.Location{Lat: 0, Lng: -180.1}))
	assert.False(t, validLocation(nil))
}
