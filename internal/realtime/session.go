package realtime

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/apex/log"
	"github.com/google/uuid"

	"recovery/internal/domain"
)

var (
	// ErrSessionClosed is returned when sending to a session whose transport is gone.
	ErrSessionClosed = errors.New("session closed")

	// ErrSendQueueFull is returned when a slow client cannot keep up.
	ErrSendQueueFull = errors.New("session send queue full")
)

// Transport is the connection-level side of a session.
type Transport interface {
	// Ping sends a liveness probe to the peer.
	Ping() error
	// Close tears the connection down.
	Close() error
}

// Identity is an authenticated principal.
type Identity struct {
	ID   string
	Role domain.Role
}

// Session is one live authenticated connection.
type Session struct {
	id              string
	identityID      string
	grantedRole     domain.Role
	authenticatedAt time.Time
	transport       Transport
	send            chan *Message
	done            chan struct{}

	mu      sync.RWMutex
	role    domain.Role
	topics  map[string]struct{}
	closed  bool
	onClose []func(*Session)

	awaitingPong atomic.Bool
	closeOnce    sync.Once

	logTags log.Fields
}

// NewSession creates a session for identity. transport may be nil for in-process sessions.
func NewSession(identity Identity, transport Transport, queueSize int) *Session {
	if queueSize <= 0 {
		queueSize = 64
	}
	id := uuid.New().String()
	return &Session{
		id:              id,
		identityID:      identity.ID,
		grantedRole:     identity.Role,
		role:            identity.Role,
		authenticatedAt: time.Now().UTC(),
		transport:       transport,
		send:            make(chan *Message, queueSize),
		done:            make(chan struct{}),
		topics:          make(map[string]struct{}),
		logTags: log.Fields{
			"module": "realtime", "component": "session", "session": id, "identity": identity.ID,
		},
	}
}

// ID returns the connection id.
func (s *Session) ID() string { return s.id }

// IdentityID returns the owning identity id.
func (s *Session) IdentityID() string { return s.identityID }

// GrantedRole returns the role the credential was issued for. It never changes.
func (s *Session) GrantedRole() domain.Role { return s.grantedRole }

// AuthenticatedAt returns when the handshake completed.
func (s *Session) AuthenticatedAt() time.Time { return s.authenticatedAt }

// Role returns the role the session currently acts in.
func (s *Session) Role() domain.Role {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.role
}

// Topics returns the names of the topics the session joined.
func (s *Session) Topics() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.topics))
	for name := range s.topics {
		out = append(out, name)
	}
	return out
}

// Outbound is the queue drained by the transport writer.
func (s *Session) Outbound() <-chan *Message { return s.send }

// Done is closed once the session is closed.
func (s *Session) Done() <-chan struct{} { return s.done }

// Closed reports whether the session was closed.
func (s *Session) Closed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// Send queues msg for delivery. It never blocks.
func (s *Session) Send(msg *Message) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrSessionClosed
	}
	select {
	case s.send <- msg:
		return nil
	default:
		log.WithFields(s.logTags).Warnf("Dropping %s, send queue full", msg.Event)
		return ErrSendQueueFull
	}
}

// OnClose registers fn to run once when the session closes.
func (s *Session) OnClose(fn func(*Session)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onClose = append(s.onClose, fn)
}

// Pong records a pong from the peer.
func (s *Session) Pong() {
	s.awaitingPong.Store(false)
}

// AwaitingPong reports whether the last ping is still unanswered.
func (s *Session) AwaitingPong() bool {
	return s.awaitingPong.Load()
}

func (s *Session) ping() error {
	s.awaitingPong.Store(true)
	if s.transport == nil {
		return nil
	}
	return s.transport.Ping()
}

// Terminate forcibly closes the transport and the session.
func (s *Session) Terminate() {
	if s.transport != nil {
		if err := s.transport.Close(); err != nil {
			log.WithError(err).WithFields(s.logTags).Debug("Transport close failed")
		}
	}
	s.Close()
}

// Close marks the session closed and runs the close hooks once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.done)
		close(s.send)
		hooks := s.onClose
		s.onClose = nil
		s.mu.Unlock()

		for _, fn := range hooks {
			fn(s)
		}
		log.WithFields(s.logTags).Debug("Session closed")
	})
}

func (s *Session) setRole(role domain.Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.role = role
}

func (s *Session) addTopic(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.topics[name] = struct{}{}
	}
}

func (s *Session) removeTopic(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.topics, name)
}
