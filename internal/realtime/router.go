package realtime

import (
	"strings"
	"sync"

	"github.com/apex/log"

	"recovery/internal/domain"
)

// Topic name prefixes.
const (
	userTopicPrefix    = "user:"
	roleTopicPrefix    = "role:"
	bookingTopicPrefix = "booking:"
)

// UserTopic is the personal topic of an identity.
func UserTopic(identityID string) string { return userTopicPrefix + identityID }

// RoleTopic is the topic shared by every session acting in role.
func RoleTopic(role domain.Role) string { return roleTopicPrefix + string(role) }

// BookingTopic is the topic shared by the parties of a booking.
func BookingTopic(bookingID string) string { return bookingTopicPrefix + bookingID }

// BookingIDFromTopic extracts the booking id of a booking topic.
func BookingIDFromTopic(name string) (string, bool) {
	if !strings.HasPrefix(name, bookingTopicPrefix) {
		return "", false
	}
	id := strings.TrimPrefix(name, bookingTopicPrefix)
	return id, id != ""
}

// topic keeps its members in join order.
type topic struct {
	members []*Session
}

func (t *topic) indexOf(s *Session) int {
	for i, m := range t.members {
		if m == s {
			return i
		}
	}
	return -1
}

// Router is the topic membership index and fan-out.
// Delivery runs under the read lock so membership changes are never observed mid-publish.
type Router struct {
	mu      sync.RWMutex
	topics  map[string]*topic
	logTags log.Fields
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{
		topics:  make(map[string]*topic),
		logTags: log.Fields{"module": "realtime", "component": "router"},
	}
}

// Join subscribes s to the topic. Joining twice is a no-op that returns false.
func (r *Router) Join(s *Session, name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.join(s, name)
}

func (r *Router) join(s *Session, name string) bool {
	if s.Closed() {
		return false
	}
	t, ok := r.topics[name]
	if !ok {
		t = &topic{}
		r.topics[name] = t
	}
	if t.indexOf(s) >= 0 {
		return false
	}
	t.members = append(t.members, s)
	s.addTopic(name)
	return true
}

// Leave unsubscribes s from the topic. Empty topics are dropped.
func (r *Router) Leave(s *Session, name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leave(s, name)
}

func (r *Router) leave(s *Session, name string) bool {
	t, ok := r.topics[name]
	if !ok {
		return false
	}
	i := t.indexOf(s)
	if i < 0 {
		return false
	}
	t.members = append(t.members[:i], t.members[i+1:]...)
	if len(t.members) == 0 {
		delete(r.topics, name)
	}
	s.removeTopic(name)
	return true
}

// LeaveAll removes s from every topic it joined.
func (r *Router) LeaveAll(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, name := range s.Topics() {
		r.leave(s, name)
	}
}

// SwitchRole moves s from its current role topic to the new one in a single
// critical section, so no publish can see it in both or neither.
func (r *Router) SwitchRole(s *Session, role domain.Role) {
	r.mu.Lock()
	defer r.mu.Unlock()
	old := s.Role()
	if old != role {
		r.leave(s, RoleTopic(old))
	}
	s.setRole(role)
	r.join(s, RoleTopic(role))
}

// MembersOf returns the members of a topic in join order.
func (r *Router) MembersOf(name string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.topics[name]
	if !ok {
		return nil
	}
	return append([]*Session(nil), t.members...)
}

// Publish delivers msg to every member of the topic in join order and returns
// the number of members reached. A failed member never stops the fan-out.
func (r *Router) Publish(name string, msg *Message) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.topics[name]
	if !ok {
		return 0
	}
	delivered := 0
	for _, s := range t.members {
		if r.deliver(s, msg) {
			delivered++
		}
	}
	return delivered
}

// PublishTo delivers msg to the topic members owned by identityIDs, following
// the order of identityIDs. It returns the identities reached.
func (r *Router) PublishTo(name string, identityIDs []string, msg *Message) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.topics[name]
	if !ok {
		return nil
	}
	var reached []string
	for _, id := range identityIDs {
		hit := false
		for _, s := range t.members {
			if s.IdentityID() != id {
				continue
			}
			if r.deliver(s, msg) {
				hit = true
			}
		}
		if hit {
			reached = append(reached, id)
		}
	}
	return reached
}

func (r *Router) deliver(s *Session, msg *Message) bool {
	if err := s.Send(msg); err != nil {
		log.WithError(err).WithFields(r.logTags).WithFields(log.Fields{
			"session": s.ID(), "event": msg.Event,
		}).Debug("Skipping member")
		return false
	}
	return true
}
