package auth

import (
	"github.com/hearthnet/hearth/src/event"
	"github.com/hearthnet/hearth/src/roomstate"
)

// SnapshotProvider adapts a state snapshot plus an event lookup function to
// the StateProvider interface.
type SnapshotProvider struct {
	snapshot roomstate.Snapshot
	getEvent func(id string) *event.Event
}

// NewSnapshotProvider creates a StateProvider over a snapshot. getEvent
// returns nil for unknown ids; absent entries then read as absent state.
func NewSnapshotProvider(snapshot roomstate.Snapshot, getEvent func(id string) *event.Event) *SnapshotProvider {
	return &SnapshotProvider{
		snapshot: snapshot,
		getEvent: getEvent,
	}
}

func (p *SnapshotProvider) lookup(eventType, stateKey string) *event.Event {
	id := p.snapshot.Get(eventType, stateKey)
	if id == "" {
		return nil
	}
	return p.getEvent(id)
}

// Create implements StateProvider
func (p *SnapshotProvider) Create() *event.Event {
	return p.lookup(event.TypeCreate, "")
}

// Member implements StateProvider
func (p *SnapshotProvider) Member(userID string) *event.Event {
	return p.lookup(event.TypeMember, userID)
}

// PowerLevels implements StateProvider
func (p *SnapshotProvider) PowerLevels() *event.Event {
	return p.lookup(event.TypePowerLevels, "")
}

// JoinRules implements StateProvider
func (p *SnapshotProvider) JoinRules() *event.Event {
	return p.lookup(event.TypeJoinRules, "")
}

// ThirdPartyInvite implements StateProvider
func (p *SnapshotProvider) ThirdPartyInvite(token string) *event.Event {
	return p.lookup(event.TypeThirdPartyInvite, token)
}

// AuthViewProvider is a StateProvider over the state an event itself claims
// was in force: the events named in its auth_events. It backs the
// author's-view check of the acceptance pipeline.
type AuthViewProvider struct {
	entries map[roomstate.Key]*event.Event
}

// NewAuthViewProvider builds the author's-view provider for an event.
// Unresolvable ids are skipped; the corresponding state reads as absent.
func NewAuthViewProvider(e *event.Event, getEvent func(id string) *event.Event) *AuthViewProvider {
	entries := make(map[roomstate.Key]*event.Event, len(e.AuthEvents))
	for _, id := range e.AuthEvents {
		ae := getEvent(id)
		if ae == nil || !ae.IsState() {
			continue
		}
		entries[roomstate.Key{Type: ae.Type, StateKey: ae.StateKeyValue()}] = ae
	}
	return &AuthViewProvider{entries: entries}
}

// Create implements StateProvider
func (p *AuthViewProvider) Create() *event.Event {
	return p.entries[roomstate.Key{Type: event.TypeCreate}]
}

// Member implements StateProvider
func (p *AuthViewProvider) Member(userID string) *event.Event {
	return p.entries[roomstate.Key{Type: event.TypeMember, StateKey: userID}]
}

// PowerLevels implements StateProvider
func (p *AuthViewProvider) PowerLevels() *event.Event {
	return p.entries[roomstate.Key{Type: event.TypePowerLevels}]
}

// JoinRules implements StateProvider
func (p *AuthViewProvider) JoinRules() *event.Event {
	return p.entries[roomstate.Key{Type: event.TypeJoinRules}]
}

// ThirdPartyInvite implements StateProvider
func (p *AuthViewProvider) ThirdPartyInvite(token string) *event.Event {
	return p.entries[roomstate.Key{Type: event.TypeThirdPartyInvite, StateKey: token}]
}
