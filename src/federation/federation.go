package federation

import (
	"context"
	"crypto/ed25519"
	"errors"

	"github.com/hearthnet/hearth/src/event"
)

// ErrUnreachable means the remote server could not be contacted. Callers may
// retry later.
var ErrUnreachable = errors.New("federation: server unreachable")

// ErrNotFound means the remote server answered but does not hold the
// requested object. Retrying the same server is pointless.
var ErrNotFound = errors.New("federation: not found")

// KeySet holds the signing keys a server published, keyed by key id.
type KeySet struct {
	ServerName string
	Keys       map[string]ed25519.PublicKey
}

// Client fetches events, state, and keys from remote servers. Everything a
// Client returns is untrusted input and goes through the full validation
// pipeline before it is used.
type Client interface {
	// FetchEvent retrieves a single event by id.
	FetchEvent(ctx context.Context, serverName, roomID, eventID string) (*event.Event, error)

	// FetchState retrieves the full room state at the given event, as the
	// remote server sees it.
	FetchState(ctx context.Context, serverName, roomID, eventID string) ([]*event.Event, error)

	// FetchServerKeys retrieves the published signing keys of a server.
	FetchServerKeys(ctx context.Context, serverName string) (KeySet, error)
}

// NopClient is a Client connected to nothing. A node configured with it
// accepts only events whose dependencies it already holds.
type NopClient struct{}

// FetchEvent implements the Client interface.
func (NopClient) FetchEvent(ctx context.Context, serverName, roomID, eventID string) (*event.Event, error) {
	return nil, ErrUnreachable
}

// FetchState implements the Client interface.
func (NopClient) FetchState(ctx context.Context, serverName, roomID, eventID string) ([]*event.Event, error) {
	return nil, ErrUnreachable
}

// FetchServerKeys implements the Client interface.
func (NopClient) FetchServerKeys(ctx context.Context, serverName string) (KeySet, error) {
	return KeySet{}, ErrUnreachable
}
