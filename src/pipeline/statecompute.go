package pipeline

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/hearthnet/hearth/src/event"
	"github.com/hearthnet/hearth/src/roomdag"
	"github.com/hearthnet/hearth/src/roomstate"
	"github.com/hearthnet/hearth/src/roomversion"
	"github.com/hearthnet/hearth/src/stateres"
)

// StateComputer derives per-event state snapshots. The snapshot stored under
// an event id is the room state AFTER that event; the state before an event
// is the resolution of its parents' after-snapshots. Snapshots are pure
// functions of the graph, so they are memoized in the store and recomputed on
// cache eviction.
type StateComputer struct {
	store  roomdag.Store
	logger *logrus.Entry
	group  singleflight.Group
}

// NewStateComputer creates a StateComputer over the given store.
func NewStateComputer(store roomdag.Store, logger *logrus.Entry) *StateComputer {
	return &StateComputer{
		store:  store,
		logger: logger,
	}
}

// StateBefore returns the room state an event was evaluated against: the
// resolved merge of its parents' after-snapshots. A parentless event (the
// create event) sees empty state.
func (c *StateComputer) StateBefore(rv roomversion.Version, e *event.Event) (roomstate.Snapshot, error) {
	if len(e.PrevEvents) == 0 {
		return roomstate.New(), nil
	}

	snapshots := make([]roomstate.Snapshot, 0, len(e.PrevEvents))
	for _, parent := range e.PrevEvents {
		snap, err := c.StateAfter(rv, parent)
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, snap)
	}

	if len(snapshots) == 1 {
		return snapshots[0].Copy(), nil
	}
	return stateres.Resolve(rv, snapshots, newStoreGraph(c.store), c.logger), nil
}

// StateAfter returns the room state after the given stored event, computing
// and memoizing missing snapshots along the ancestry. Concurrent computations
// of the same snapshot collapse into one.
func (c *StateComputer) StateAfter(rv roomversion.Version, eventID string) (roomstate.Snapshot, error) {
	if snap, err := c.store.GetSnapshot(eventID); err == nil {
		return snap, nil
	}

	res, err, _ := c.group.Do(eventID, func() (interface{}, error) {
		return c.computeAfter(rv, eventID)
	})
	if err != nil {
		return nil, err
	}
	return res.(roomstate.Snapshot), nil
}

// computeAfter walks the ancestry iteratively, computing snapshots bottom-up
// so that arbitrarily deep rooms do not blow the stack.
func (c *StateComputer) computeAfter(rv roomversion.Version, eventID string) (roomstate.Snapshot, error) {
	type frame struct {
		id       string
		expanded bool
	}
	stack := []frame{{id: eventID}}
	onStack := map[string]bool{eventID: true}

	for len(stack) > 0 {
		i := len(stack) - 1
		id := stack[i].id

		if _, err := c.store.GetSnapshot(id); err == nil {
			delete(onStack, id)
			stack = stack[:i]
			continue
		}

		e, err := c.store.GetEvent(id)
		if err != nil {
			return nil, fmt.Errorf("state for unknown event %s: %w", id, err)
		}

		if !stack[i].expanded {
			stack[i].expanded = true
			before := len(stack)
			for _, parent := range e.PrevEvents {
				if onStack[parent] {
					continue
				}
				if _, err := c.store.GetSnapshot(parent); err == nil {
					continue
				}
				onStack[parent] = true
				stack = append(stack, frame{id: parent})
			}
			if len(stack) > before {
				continue
			}
		}

		snap, err := c.applyEvent(rv, e)
		if err != nil {
			return nil, err
		}
		if err := c.store.SetSnapshot(e.EventID, snap); err != nil {
			return nil, err
		}
		delete(onStack, id)
		stack = stack[:i]
	}

	return c.store.GetSnapshot(eventID)
}

// applyEvent computes one after-snapshot from the already-memoized parents.
// Accepted and soft-failed state events overwrite their (type, state_key)
// entry; rejected events leave state untouched.
func (c *StateComputer) applyEvent(rv roomversion.Version, e *event.Event) (roomstate.Snapshot, error) {
	snapshots := make([]roomstate.Snapshot, 0, len(e.PrevEvents))
	for _, parent := range e.PrevEvents {
		snap, err := c.store.GetSnapshot(parent)
		if err != nil {
			return nil, fmt.Errorf("missing parent snapshot %s: %w", parent, err)
		}
		snapshots = append(snapshots, snap)
	}

	var snap roomstate.Snapshot
	switch len(snapshots) {
	case 0:
		snap = roomstate.New()
	case 1:
		snap = snapshots[0].Copy()
	default:
		snap = stateres.Resolve(rv, snapshots, newStoreGraph(c.store), c.logger)
	}

	if e.IsState() {
		status, err := c.store.GetStatus(e.EventID)
		if err != nil {
			return nil, err
		}
		if status == roomdag.StatusAccepted || status == roomdag.StatusSoftFailed {
			snap.Set(e.Type, e.StateKeyValue(), e.EventID)
		}
	}
	return snap, nil
}
