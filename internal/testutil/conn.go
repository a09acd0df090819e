// Package testutil provides in-memory collaborators for coordinator tests.
package testutil

import (
	"errors"
	"sync"

	"github.com/google/uuid"

	"classroom/pkg/types"
)

var ErrFakeClosed = errors.New("fake connection closed")

// FakeConn records every event sent to it
type FakeConn struct {
	id       string
	identity types.Identity

	mu     sync.Mutex
	events []types.Event
	closed bool
}

// NewFakeConn creates a connection with a fresh transport ID
func NewFakeConn(userID string, role types.Role) *FakeConn {
	return &FakeConn{
		id:       uuid.NewString(),
		identity: types.Identity{UserID: userID, Name: "name-" + userID, Role: role},
	}
}

func (c *FakeConn) ID() string               { return c.id }
func (c *FakeConn) Identity() types.Identity { return c.identity }

func (c *FakeConn) Send(event types.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrFakeClosed
	}
	c.events = append(c.events, event)
	return nil
}

func (c *FakeConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

// Events returns a copy of everything received so far
func (c *FakeConn) Events() []types.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]types.Event(nil), c.events...)
}

// EventsOfType filters received events by type
func (c *FakeConn) EventsOfType(eventType string) []types.Event {
	var out []types.Event
	for _, ev := range c.Events() {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}

// Count returns how many events of eventType were received
func (c *FakeConn) Count(eventType string) int {
	return len(c.EventsOfType(eventType))
}

// Last returns the most recent event of eventType
func (c *FakeConn) Last(eventType string) (types.Event, bool) {
	evs := c.EventsOfType(eventType)
	if len(evs) == 0 {
		return types.Event{}, false
	}
	return evs[len(evs)-1], true
}

// Reset forgets recorded events
func (c *FakeConn) Reset() {
	c.mu.Lock()
	c.events = nil
	c.mu.Unlock()
}
