package realtime

import (
	"sync"

	"github.com/apex/log"
)

// Registry maps identities to their live sessions.
type Registry struct {
	mu         sync.RWMutex
	identities map[string]map[string]*Session
	logTags    log.Fields
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		identities: make(map[string]map[string]*Session),
		logTags:    log.Fields{"module": "realtime", "component": "registry"},
	}
}

// Register adds a session to its identity's set.
func (r *Registry) Register(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.identities[s.IdentityID()]
	if !ok {
		set = make(map[string]*Session)
		r.identities[s.IdentityID()] = set
	}
	set[s.ID()] = s
	log.WithFields(r.logTags).WithFields(log.Fields{
		"identity": s.IdentityID(), "session": s.ID(), "sessions": len(set),
	}).Debug("Session registered")
}

// Unregister removes a session. The identity goes offline with its last session.
func (r *Registry) Unregister(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.identities[s.IdentityID()]
	if !ok {
		return
	}
	delete(set, s.ID())
	if len(set) == 0 {
		delete(r.identities, s.IdentityID())
	}
	log.WithFields(r.logTags).WithFields(log.Fields{
		"identity": s.IdentityID(), "session": s.ID(), "sessions": len(set),
	}).Debug("Session unregistered")
}

// IsOnline reports whether the identity has at least one live session.
func (r *Registry) IsOnline(identityID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.identities[identityID]) > 0
}

// SessionsOf returns the live sessions of an identity.
func (r *Registry) SessionsOf(identityID string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.identities[identityID]
	out := make([]*Session, 0, len(set))
	for _, s := range set {
		out = append(out, s)
	}
	return out
}

// All returns every live session.
func (r *Registry) All() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Session
	for _, set := range r.identities {
		for _, s := range set {
			out = append(out, s)
		}
	}
	return out
}

// SendTo delivers msg to every live session of the identity and returns the
// number of sessions reached. Offline identities are a logged no-op.
func (r *Registry) SendTo(identityID string, msg *Message) int {
	sessions := r.SessionsOf(identityID)
	if len(sessions) == 0 {
		log.WithFields(r.logTags).WithFields(log.Fields{
			"identity": identityID, "event": msg.Event,
		}).Debug("Identity offline, dropping message")
		return 0
	}
	delivered := 0
	for _, s := range sessions {
		if err := s.Send(msg); err != nil {
			log.WithError(err).WithFields(r.logTags).WithField("session", s.ID()).Debug("Delivery failed")
			continue
		}
		delivered++
	}
	return delivered
}

// SendToMany delivers msg to every listed identity.
func (r *Registry) SendToMany(identityIDs []string, msg *Message) int {
	delivered := 0
	for _, id := range identityIDs {
		delivered += r.SendTo(id, msg)
	}
	return delivered
}
