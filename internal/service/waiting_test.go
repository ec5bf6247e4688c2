package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"recovery/internal/domain"
)

func TestWaitingCharge(t *testing.T) {
	cfg := domain.WaitingChargeConfig{FreeMinutes: 5, PerMinuteRate: 2, MaxCharge: 20}

	tests := []struct {
		name    string
		elapsed float64
		want    float64
	}{
		{"within free minutes", 4.9, 0},
		{"exactly free minutes", 5, 0},
		{"partial minute rounds up", 5.1, 2},
		{"twelve minutes", 12, 14},
		{"capped", 40, 20},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, WaitingCharge(tt.elapsed, cfg))
		})
	}
}

func TestQuoteWaiting_StopsAtStopTime(t *testing.T) {
	start := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	w := &domain.WaitingTimer{
		StartedAt:     start,
		StoppedAt:     start.Add(8 * time.Minute),
		FreeMinutes:   5,
		PerMinuteRate: 2,
		MaxCharge:     20,
	}

	q := quoteWaiting("b1", w, start.Add(time.Hour))
	assert.Equal(t, 8.0, q.ElapsedMinutes)
	assert.Equal(t, 3, q.ChargeableMinutes)
	assert.Equal(t, 6.0, q.Charge)
	assert.True(t, q.Stopped)
}

func TestQuoteWaiting_ClockBeforeStart(t *testing.T) {
	start := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	w := &domain.WaitingTimer{StartedAt: start, FreeMinutes: 5, PerMinuteRate: 2, MaxCharge: 20}

	q := quoteWaiting("b1", w, start.Add(-time.Minute))
	assert.Zero(t, q.ElapsedMinutes)
	assert.Zero(t, q.Charge)
}
