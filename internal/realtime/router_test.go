package realtime

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recovery/internal/domain"
)

func TestRouter_JoinIsIdempotent(t *testing.T) {
	r := NewRouter()
	s := newTestSession("rider-1", domain.RoleRider)

	assert.True(t, r.Join(s, "booking:1"))
	assert.False(t, r.Join(s, "booking:1"))
	assert.Len(t, r.MembersOf("booking:1"), 1)

	assert.True(t, r.Leave(s, "booking:1"))
	assert.Nil(t, r.MembersOf("booking:1"))
	assert.False(t, r.Leave(s, "booking:1"))
}

func TestRouter_PublishIsolatesClosedMember(t *testing.T) {
	r := NewRouter()
	members := []*Session{
		newTestSession("d1", domain.RoleDriver),
		newTestSession("d2", domain.RoleDriver),
		newTestSession("d3", domain.RoleDriver),
	}
	for _, s := range members {
		r.Join(s, RoleTopic(domain.RoleDriver))
	}
	members[1].Close()

	n := r.Publish(RoleTopic(domain.RoleDriver), NewMessage(EventRecoveryBroadcast, nil))
	assert.Equal(t, 2, n)
	assert.Len(t, drain(members[0]), 1)
	assert.Len(t, drain(members[2]), 1)
}

func TestRouter_PublishToFollowsGivenOrder(t *testing.T) {
	r := NewRouter()
	far := newTestSession("far", domain.RoleDriver)
	near := newTestSession("near", domain.RoleDriver)
	other := newTestSession("other", domain.RoleDriver)
	r.Join(far, RoleTopic(domain.RoleDriver))
	r.Join(near, RoleTopic(domain.RoleDriver))
	r.Join(other, RoleTopic(domain.RoleDriver))

	reached := r.PublishTo(RoleTopic(domain.RoleDriver), []string{"near", "far", "offline"}, NewMessage(EventRecoveryBroadcast, nil))
	assert.Equal(t, []string{"near", "far"}, reached)
	assert.Empty(t, drain(other))
}

func TestRouter_SwitchRole(t *testing.T) {
	r := NewRouter()
	s := newTestSession("u1", domain.RoleRider)
	r.Join(s, RoleTopic(domain.RoleRider))

	r.SwitchRole(s, domain.RoleDriver)

	assert.Equal(t, domain.RoleDriver, s.Role())
	assert.Empty(t, r.MembersOf(RoleTopic(domain.RoleRider)))
	require.Len(t, r.MembersOf(RoleTopic(domain.RoleDriver)), 1)
	assert.ElementsMatch(t, []string{RoleTopic(domain.RoleDriver)}, s.Topics())
}

func TestRouter_SwitchRoleNeverDoubleDelivers(t *testing.T) {
	r := NewRouter()
	s := NewSession(Identity{ID: "u1", Role: domain.RoleRider}, nil, 4096)
	r.Join(s, RoleTopic(domain.RoleRider))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			if i%2 == 0 {
				r.SwitchRole(s, domain.RoleDriver)
			} else {
				r.SwitchRole(s, domain.RoleRider)
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			r.Publish(RoleTopic(domain.RoleRider), NewMessage(EventRecoveryBroadcast, i))
			r.Publish(RoleTopic(domain.RoleDriver), NewMessage(EventRecoveryBroadcast, i))
		}
	}()
	wg.Wait()

	seen := make(map[int]int)
	for _, msg := range drain(s) {
		seen[msg.Data.(int)]++
	}
	for i, n := range seen {
		assert.LessOrEqual(t, n, 2, "round %d", i)
	}
	total := len(r.MembersOf(RoleTopic(domain.RoleDriver))) + len(r.MembersOf(RoleTopic(domain.RoleRider)))
	assert.Equal(t, 1, total)
}

func TestRouter_LeaveAll(t *testing.T) {
	r := NewRouter()
	s := newTestSession("u1", domain.RoleRider)
	r.Join(s, UserTopic("u1"))
	r.Join(s, BookingTopic("b1"))

	r.LeaveAll(s)

	assert.Empty(t, s.Topics())
	assert.Nil(t, r.MembersOf(UserTopic("u1")))
	assert.Nil(t, r.MembersOf(BookingTopic("b1")))
}

func TestBookingIDFromTopic(t *testing.T) {
	id, ok := BookingIDFromTopic(BookingTopic("abc"))
	assert.True(t, ok)
	assert.Equal(t, "abc", id)

	_, ok = BookingIDFromTopic(UserTopic("abc"))
	assert.False(t, ok)
}
