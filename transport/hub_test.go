package transport

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/entitystream/config"
	"github.com/c360/entitystream/errors"
	"github.com/c360/entitystream/event"
)

func hubEvent(id, entityType, eventType string) *event.Event {
	return &event.Event{
		ID:         id,
		EntityType: entityType,
		EventType:  eventType,
		Timestamp:  time.Now(),
		Data:       map[string]any{"entityId": "x-1"},
	}
}

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	h, err := NewHub(config.Default().Buffer, config.Default().Transport)
	require.NoError(t, err)
	t.Cleanup(h.Close)
	return h
}

// collector records delivered events in order.
type collector struct {
	mu     sync.Mutex
	events []*event.Event
}

func (c *collector) callback(e *event.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
	return nil
}

func (c *collector) ids() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.events))
	for i, e := range c.events {
		out[i] = e.ID
	}
	return out
}

func TestReplayPrecedesLiveEvents(t *testing.T) {
	h := newTestHub(t)

	h.Publish(hubEvent("e1", event.EntityCustomer, event.TypeCreated))
	h.Publish(hubEvent("e2", event.EntityCustomer, event.TypeUpdated))

	c := &collector{}
	sub, err := h.Subscribe(event.Filter{}, c.callback)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	h.Publish(hubEvent("e3", event.EntityCustomer, event.TypeDeleted))

	require.Eventually(t, func() bool { return len(c.ids()) == 3 },
		time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"e1", "e2", "e3"}, c.ids(),
		"buffered events replay strictly before live events")
}

func TestSubscribeFilterMatching(t *testing.T) {
	h := newTestHub(t)

	c := &collector{}
	sub, err := h.Subscribe(event.Filter{EntityTypes: []string{event.EntityCustomer}}, c.callback)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	h.Publish(hubEvent("e1", event.EntityCustomer, event.TypeCreated))
	h.Publish(hubEvent("e2", event.EntityService, event.TypeCreated))
	h.Publish(hubEvent("e3", event.EntityCustomer, event.TypeUpdated))

	require.Eventually(t, func() bool { return len(c.ids()) == 2 },
		time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"e1", "e3"}, c.ids())
}

func TestUnsubscribeIdempotent(t *testing.T) {
	h := newTestHub(t)

	c := &collector{}
	sub, err := h.Subscribe(event.Filter{}, c.callback)
	require.NoError(t, err)

	sub.Unsubscribe()
	sub.Unsubscribe()
	h.Unsubscribe("no-such-subscription")

	h.Publish(hubEvent("e1", event.EntityCustomer, event.TypeCreated))
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, c.ids())
	assert.Equal(t, 0, h.SubscriberCount())
}

func TestCallbackPanicIsolation(t *testing.T) {
	h := newTestHub(t)

	panicking, err := h.Subscribe(event.Filter{}, func(e *event.Event) error {
		panic("subscriber bug")
	})
	require.NoError(t, err)
	defer panicking.Unsubscribe()

	c := &collector{}
	healthy, err := h.Subscribe(event.Filter{}, c.callback)
	require.NoError(t, err)
	defer healthy.Unsubscribe()

	h.Publish(hubEvent("e1", event.EntityCustomer, event.TypeCreated))
	h.Publish(hubEvent("e2", event.EntityCustomer, event.TypeUpdated))

	require.Eventually(t, func() bool { return len(c.ids()) == 2 },
		time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"e1", "e2"}, c.ids(),
		"a panicking subscriber must not affect the others")
}

func TestUpdateFilter(t *testing.T) {
	h := newTestHub(t)

	c := &collector{}
	sub, err := h.Subscribe(event.Filter{EntityTypes: []string{event.EntityCustomer}}, c.callback)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	h.Publish(hubEvent("e1", event.EntityService, event.TypeCreated))
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, c.ids())

	require.NoError(t, sub.UpdateFilter(event.Filter{EntityTypes: []string{event.EntityService}}))
	h.Publish(hubEvent("e2", event.EntityService, event.TypeUpdated))

	require.Eventually(t, func() bool { return len(c.ids()) == 1 },
		time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"e2"}, c.ids())

	err = h.UpdateFilter("no-such-subscription", event.Filter{})
	assert.ErrorIs(t, err, errors.ErrSubscriptionNotFound)
}

func TestSubscriberOverflowDropsOldest(t *testing.T) {
	cfg := config.Default().Transport
	cfg.SubscriberBuffer = 1
	h, err := NewHub(config.Default().Buffer, cfg)
	require.NoError(t, err)
	t.Cleanup(h.Close)

	entered := make(chan struct{})
	gate := make(chan struct{})
	c := &collector{}
	sub, err := h.Subscribe(event.Filter{}, func(e *event.Event) error {
		if err := c.callback(e); err != nil {
			return err
		}
		if e.ID == "e1" {
			close(entered)
			<-gate
		}
		return nil
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	h.Publish(hubEvent("e1", event.EntityCustomer, event.TypeCreated))
	<-entered // delivery goroutine is parked inside the callback

	h.Publish(hubEvent("e2", event.EntityCustomer, event.TypeUpdated)) // fills the channel
	h.Publish(hubEvent("e3", event.EntityCustomer, event.TypeDeleted)) // evicts e2
	close(gate)

	require.Eventually(t, func() bool { return len(c.ids()) == 2 },
		time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"e1", "e3"}, c.ids())
	assert.Equal(t, int64(1), h.Stats().Dropped)
}

func TestSubscribeRejectsNilCallback(t *testing.T) {
	h := newTestHub(t)
	_, err := h.Subscribe(event.Filter{}, nil)
	assert.ErrorIs(t, err, errors.ErrSubscriptionFailed)
}

func TestSubscribersByType(t *testing.T) {
	h := newTestHub(t)

	noop := func(*event.Event) error { return nil }
	s1, _ := h.Subscribe(event.Filter{EntityTypes: []string{event.EntityCustomer}}, noop)
	s2, _ := h.Subscribe(event.Filter{EntityTypes: []string{event.EntityCustomer, event.EntityRoute}}, noop)
	s3, _ := h.Subscribe(event.Filter{}, noop)
	defer s1.Unsubscribe()
	defer s2.Unsubscribe()
	defer s3.Unsubscribe()

	byType := h.SubscribersByType()
	assert.Equal(t, 2, byType[event.EntityCustomer])
	assert.Equal(t, 1, byType[event.EntityRoute])
	assert.Equal(t, 1, byType["all"])
}

func TestRecentActivityAndStats(t *testing.T) {
	h := newTestHub(t)

	for i := 1; i <= 5; i++ {
		h.Publish(hubEvent(fmt.Sprintf("e%d", i), event.EntityCustomer, event.TypeUpdated))
	}

	recent := h.RecentActivity(3)
	require.Len(t, recent, 3)
	assert.Equal(t, "e3", recent[0].EventID)
	assert.Equal(t, "e5", recent[2].EventID)

	stats := h.Stats()
	assert.Equal(t, int64(5), stats.EventsFanned)
	assert.Equal(t, 5, stats.BufferedSize)
	assert.Equal(t, 0, stats.Subscribers)
}
