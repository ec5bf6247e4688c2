package realtime

import (
	"time"

	"github.com/apex/log"
)

// DefaultHeartbeatInterval is the default ping period.
const DefaultHeartbeatInterval = 30 * time.Second

// Monitor probes session liveness and evicts sessions that stop answering.
// A half-open connection is reclaimed within two intervals.
type Monitor struct {
	interval time.Duration
	logTags  log.Fields
}

// NewMonitor creates a monitor ticking every interval.
func NewMonitor(interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	return &Monitor{
		interval: interval,
		logTags:  log.Fields{"module": "realtime", "component": "presence"},
	}
}

// Track starts the heartbeat of s. It stops when s closes.
func (m *Monitor) Track(s *Session) {
	go func() {
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.Done():
				return
			case <-ticker.C:
				if !m.Tick(s) {
					return
				}
			}
		}
	}()
}

// Tick runs one heartbeat round and reports whether s is still alive.
func (m *Monitor) Tick(s *Session) bool {
	if s.Closed() {
		return false
	}
	if s.AwaitingPong() {
		log.WithFields(m.logTags).WithFields(log.Fields{
			"session": s.ID(), "identity": s.IdentityID(),
		}).Info("Heartbeat missed, terminating session")
		s.Terminate()
		return false
	}
	if err := s.ping(); err != nil {
		log.WithError(err).WithFields(m.logTags).WithField("session", s.ID()).Info("Ping failed, terminating session")
		s.Terminate()
		return false
	}
	return true
}
