package realtime

import (
	"slices"
	"sync"
	"time"

	"github.com/apex/log"

	"recovery/internal/domain"
)

// Core owns the connection-side state of the dispatch process: the session
// registry, the topic router, the event dispatcher and the presence monitor.
type Core struct {
	Registry   *Registry
	Router     *Router
	Dispatcher *Dispatcher
	Presence   *Monitor
	logTags    log.Fields

	mu           sync.RWMutex
	onDisconnect []func(*Session)
}

// NewCore wires a fresh set of realtime components.
func NewCore(heartbeat time.Duration) *Core {
	return &Core{
		Registry:   NewRegistry(),
		Router:     NewRouter(),
		Dispatcher: NewDispatcher(),
		Presence:   NewMonitor(heartbeat),
		logTags:    log.Fields{"module": "realtime", "component": "core"},
	}
}

// authenticatedPayload is pushed right after a successful handshake.
type authenticatedPayload struct {
	IdentityID string      `json:"identityId"`
	Role       domain.Role `json:"role"`
	SessionID  string      `json:"sessionId"`
	Timestamp  time.Time   `json:"timestamp"`
}

// Connect admits an authenticated session: it announces the identity, joins
// the default topics and starts the heartbeat. Closing the session undoes it.
func (c *Core) Connect(s *Session) {
	c.Registry.Register(s)
	s.OnClose(c.Disconnect)

	if err := s.Send(NewMessage(EventAuthenticated, authenticatedPayload{
		IdentityID: s.IdentityID(),
		Role:       s.Role(),
		SessionID:  s.ID(),
		Timestamp:  s.AuthenticatedAt(),
	})); err != nil {
		log.WithError(err).WithFields(c.logTags).WithField("session", s.ID()).Warn("Failed to announce session")
	}

	c.Router.Join(s, UserTopic(s.IdentityID()))
	c.Router.Join(s, RoleTopic(s.Role()))
	c.Presence.Track(s)

	log.WithFields(c.logTags).WithFields(log.Fields{
		"session": s.ID(), "identity": s.IdentityID(), "role": s.Role(),
	}).Info("Session connected")
}

// OnDisconnect registers fn to run after a session has been cleaned up.
func (c *Core) OnDisconnect(fn func(*Session)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDisconnect = append(c.onDisconnect, fn)
}

// Disconnect removes every trace of the session.
func (c *Core) Disconnect(s *Session) {
	c.Router.LeaveAll(s)
	c.Registry.Unregister(s)
	log.WithFields(c.logTags).WithFields(log.Fields{
		"session": s.ID(), "identity": s.IdentityID(),
	}).Info("Session disconnected")

	c.mu.RLock()
	hooks := slices.Clone(c.onDisconnect)
	c.mu.RUnlock()
	for _, fn := range hooks {
		fn(s)
	}
}

// SwitchRole moves the session to another role topic atomically.
func (c *Core) SwitchRole(s *Session, role domain.Role) {
	c.Router.SwitchRole(s, role)
}

// IsOnline reports whether the identity has a live session.
func (c *Core) IsOnline(identityID string) bool {
	return c.Registry.IsOnline(identityID)
}

// SendTo delivers msg to every session of the identity.
func (c *Core) SendTo(identityID string, msg *Message) int {
	return c.Registry.SendTo(identityID, msg)
}

// SendToMany delivers msg to every session of every listed identity.
func (c *Core) SendToMany(identityIDs []string, msg *Message) int {
	return c.Registry.SendToMany(identityIDs, msg)
}

// Publish delivers msg to every member of the topic.
func (c *Core) Publish(topic string, msg *Message) int {
	return c.Router.Publish(topic, msg)
}

// PublishTo delivers msg to the listed identities among the topic members.
func (c *Core) PublishTo(topic string, identityIDs []string, msg *Message) []string {
	return c.Router.PublishTo(topic, identityIDs, msg)
}

// JoinIdentity subscribes every live session of the identity to the topic.
func (c *Core) JoinIdentity(identityID, topic string) {
	for _, s := range c.Registry.SessionsOf(identityID) {
		c.Router.Join(s, topic)
	}
}

// LeaveTopic drops every member of the topic.
func (c *Core) LeaveTopic(topic string) {
	for _, s := range c.Router.MembersOf(topic) {
		c.Router.Leave(s, topic)
	}
}

// Shutdown terminates every live session.
func (c *Core) Shutdown() {
	sessions := c.Registry.All()
	for _, s := range sessions {
		s.Terminate()
	}
	log.WithFields(c.logTags).WithField("sessions", len(sessions)).Info("Realtime core shut down")
}
