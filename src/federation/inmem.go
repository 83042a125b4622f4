package federation

import (
	"context"
	"crypto/ed25519"
	"sync"

	"github.com/hearthnet/hearth/src/event"
)

// InmemClient is an in-process Client for tests and single-node setups. It
// serves events and key sets from maps and can simulate unreachable servers
// and transient failures.
type InmemClient struct {
	sync.Mutex

	events map[string]*event.Event
	states map[string][]*event.Event
	keys   map[string]KeySet

	unreachable map[string]bool
	// failures counts down: while positive for a server, calls fail with
	// ErrUnreachable and the counter decrements.
	failures map[string]int

	fetchCount map[string]int
}

// NewInmemClient creates an empty InmemClient.
func NewInmemClient() *InmemClient {
	return &InmemClient{
		events:      make(map[string]*event.Event),
		states:      make(map[string][]*event.Event),
		keys:        make(map[string]KeySet),
		unreachable: make(map[string]bool),
		failures:    make(map[string]int),
		fetchCount:  make(map[string]int),
	}
}

// AddEvent makes an event fetchable.
func (c *InmemClient) AddEvent(e *event.Event) {
	c.Lock()
	defer c.Unlock()
	c.events[e.EventID] = e
}

// AddState sets the state response for an event id.
func (c *InmemClient) AddState(eventID string, state []*event.Event) {
	c.Lock()
	defer c.Unlock()
	c.states[eventID] = state
}

// AddServerKey publishes a key for a server.
func (c *InmemClient) AddServerKey(serverName, keyID string, pub ed25519.PublicKey) {
	c.Lock()
	defer c.Unlock()
	set, ok := c.keys[serverName]
	if !ok {
		set = KeySet{ServerName: serverName, Keys: make(map[string]ed25519.PublicKey)}
	}
	set.Keys[keyID] = pub
	c.keys[serverName] = set
}

// SetUnreachable marks a server as permanently down.
func (c *InmemClient) SetUnreachable(serverName string, down bool) {
	c.Lock()
	defer c.Unlock()
	c.unreachable[serverName] = down
}

// FailNext makes the next n calls against a server fail with ErrUnreachable.
func (c *InmemClient) FailNext(serverName string, n int) {
	c.Lock()
	defer c.Unlock()
	c.failures[serverName] = n
}

// FetchCount returns how many calls were made against a server, including
// failed ones.
func (c *InmemClient) FetchCount(serverName string) int {
	c.Lock()
	defer c.Unlock()
	return c.fetchCount[serverName]
}

func (c *InmemClient) checkServer(serverName string) error {
	c.fetchCount[serverName]++
	if c.unreachable[serverName] {
		return ErrUnreachable
	}
	if c.failures[serverName] > 0 {
		c.failures[serverName]--
		return ErrUnreachable
	}
	return nil
}

// FetchEvent implements the Client interface.
func (c *InmemClient) FetchEvent(ctx context.Context, serverName, roomID, eventID string) (*event.Event, error) {
	c.Lock()
	defer c.Unlock()

	if err := c.checkServer(serverName); err != nil {
		return nil, err
	}
	e, ok := c.events[eventID]
	if !ok || e.RoomID != roomID {
		return nil, ErrNotFound
	}
	return e, nil
}

// FetchState implements the Client interface.
func (c *InmemClient) FetchState(ctx context.Context, serverName, roomID, eventID string) ([]*event.Event, error) {
	c.Lock()
	defer c.Unlock()

	if err := c.checkServer(serverName); err != nil {
		return nil, err
	}
	state, ok := c.states[eventID]
	if !ok {
		return nil, ErrNotFound
	}
	return state, nil
}

// FetchServerKeys implements the Client interface.
func (c *InmemClient) FetchServerKeys(ctx context.Context, serverName string) (KeySet, error) {
	c.Lock()
	defer c.Unlock()

	if err := c.checkServer(serverName); err != nil {
		return KeySet{}, err
	}
	set, ok := c.keys[serverName]
	if !ok {
		return KeySet{}, ErrNotFound
	}
	return set, nil
}
