package realtime

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"recovery/internal/domain"
)

type fakeTransport struct {
	mu      sync.Mutex
	pings   int
	closed  bool
	pingErr error
}

func (f *fakeTransport) Ping() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pings++
	return f.pingErr
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.New("already closed")
	}
	f.closed = true
	return nil
}

func (f *fakeTransport) Pings() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pings
}

func (f *fakeTransport) IsClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func newTestSession(id string, role domain.Role) *Session {
	return NewSession(Identity{ID: id, Role: role}, &fakeTransport{}, 16)
}

// drain returns every message queued on s without blocking.
func drain(s *Session) []*Message {
	var out []*Message
	for {
		select {
		case msg, ok := <-s.Outbound():
			if !ok {
				return out
			}
			out = append(out, msg)
		default:
			return out
		}
	}
}

func receive(t *testing.T, s *Session) *Message {
	t.Helper()
	select {
	case msg, ok := <-s.Outbound():
		require.True(t, ok, "session queue closed")
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
	return nil
}
