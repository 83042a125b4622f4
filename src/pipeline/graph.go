package pipeline

import (
	"github.com/hearthnet/hearth/src/event"
	"github.com/hearthnet/hearth/src/roomdag"
)

// storeGraph adapts a roomdag.Store to the resolver's graph interface. An
// overlay carries events that are mid-ingestion and not yet persisted.
type storeGraph struct {
	store   roomdag.Store
	overlay map[string]*event.Event
}

func newStoreGraph(store roomdag.Store) *storeGraph {
	return &storeGraph{store: store, overlay: make(map[string]*event.Event)}
}

func (g *storeGraph) Event(id string) *event.Event {
	if e, ok := g.overlay[id]; ok {
		return e
	}
	e, err := g.store.GetEvent(id)
	if err != nil {
		return nil
	}
	return e
}

func (g *storeGraph) AuthChain(ids []string) []string {
	chain, err := roomdag.AuthChain(g.store, ids)
	if err != nil {
		return nil
	}
	return chain
}
