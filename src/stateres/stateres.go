// Package stateres implements the deterministic state resolution algorithm:
// given the conflicting state snapshots of the DAG branches being merged, it
// produces the single canonical snapshot every server computing over the same
// inputs arrives at, regardless of the order branches were discovered.
package stateres

import (
	"sort"

	"github.com/hearthnet/hearth/src/auth"
	"github.com/hearthnet/hearth/src/event"
	"github.com/hearthnet/hearth/src/roomstate"
	"github.com/hearthnet/hearth/src/roomversion"
	"github.com/sirupsen/logrus"
)

// Graph gives the resolver access to events and auth chains. Implementations
// may fetch missing events from the federation behind this interface; an
// event that cannot be obtained is reported as nil and excluded from
// resolution, never aborting it.
type Graph interface {
	// Event returns an event by id, or nil if it cannot be obtained.
	Event(id string) *event.Event
	// AuthChain returns the transitive closure of the auth references of
	// the given events. Unobtainable links are skipped.
	AuthChain(ids []string) []string
}

// Resolve reduces a set of conflicting snapshots to one canonical snapshot.
// The result depends only on the input set, not on its order.
func Resolve(rv roomversion.Version, snapshots []roomstate.Snapshot, g Graph, logger *logrus.Entry) roomstate.Snapshot {
	switch len(snapshots) {
	case 0:
		return roomstate.New()
	case 1:
		return snapshots[0].Copy()
	}

	unconflicted, conflicted := roomstate.Partition(snapshots)
	if len(conflicted) == 0 {
		return unconflicted
	}

	conflictedIDs := make([]string, 0, len(conflicted))
	for _, ids := range conflicted {
		conflictedIDs = append(conflictedIDs, ids...)
	}
	sort.Strings(conflictedIDs)

	// The candidate pool is the conflicted events plus their auth
	// difference: auth-chain events not shared by every branch.
	pool := map[string]*event.Event{}
	for _, id := range append(conflictedIDs, authDifference(conflictedIDs, g)...) {
		if _, ok := pool[id]; ok {
			continue
		}
		if e := g.Event(id); e != nil && e.IsState() {
			pool[id] = e
		}
	}

	power, rest := splitPowerEvents(pool)

	if logger != nil {
		logger.WithFields(logrus.Fields{
			"conflicted": len(conflicted),
			"power":      len(power),
			"rest":       len(rest),
		}).Debug("resolving state")
	}

	getEvent := g.Event

	// Step 3: power ordering. Events are picked one at a time by their
	// sender's effective power level under the state resolved so far, and
	// folded in only if they replay cleanly; discarded otherwise.
	resolved := unconflicted.Copy()
	resolved = replayPowerEvents(rv, power, resolved, getEvent)

	// Step 4: mainline ordering for everything else.
	mainline := buildMainline(resolved, getEvent)
	ordered := orderByMainline(rest, mainline, getEvent)
	for _, e := range ordered {
		provider := auth.NewSnapshotProvider(resolved, getEvent)
		if err := auth.Authorize(e, rv, provider); err != nil {
			continue
		}
		resolved.Set(e.Type, e.StateKeyValue(), e.EventID)
	}

	// Step 5: unconflicted entries are copied unchanged, overriding any
	// replayed ancestor that touched the same key.
	for k, id := range unconflicted {
		resolved[k] = id
	}

	return resolved
}

// authDifference returns the auth-chain events that are not common to all
// conflicted events: the union of the individual chains minus their
// intersection.
func authDifference(conflictedIDs []string, g Graph) []string {
	if len(conflictedIDs) == 0 {
		return nil
	}

	union := map[string]int{}
	for _, id := range conflictedIDs {
		for _, cid := range g.AuthChain([]string{id}) {
			union[cid]++
		}
	}

	diff := make([]string, 0, len(union))
	for id, count := range union {
		if count < len(conflictedIDs) {
			diff = append(diff, id)
		}
	}
	sort.Strings(diff)
	return diff
}

// splitPowerEvents partitions the candidate pool into power events (create,
// power_levels, join_rules, and membership events of users who sent other
// power events) and the rest.
func splitPowerEvents(pool map[string]*event.Event) (power, rest []*event.Event) {
	powerSenders := map[string]bool{}
	for _, e := range pool {
		switch e.Type {
		case event.TypeCreate, event.TypePowerLevels, event.TypeJoinRules:
			if e.StateKeyValue() == "" {
				powerSenders[e.Sender] = true
			}
		}
	}

	for _, e := range pool {
		switch e.Type {
		case event.TypeCreate, event.TypePowerLevels, event.TypeJoinRules:
			if e.StateKeyValue() == "" {
				power = append(power, e)
				continue
			}
		case event.TypeMember:
			if powerSenders[e.StateKeyValue()] {
				power = append(power, e)
				continue
			}
		}
		rest = append(rest, e)
	}
	return power, rest
}

// replayPowerEvents folds power events into the resolved state in power
// order: descending effective sender level computed against the evolving
// resolved state, then ascending timestamp, then ascending event id. Events
// that fail their authorization replay are discarded, not retried.
func replayPowerEvents(rv roomversion.Version, power []*event.Event, resolved roomstate.Snapshot, getEvent func(string) *event.Event) roomstate.Snapshot {
	remaining := append([]*event.Event{}, power...)

	for len(remaining) > 0 {
		provider := auth.NewSnapshotProvider(resolved, getEvent)

		best := 0
		bestLevel := senderLevel(remaining[0], provider)
		for i := 1; i < len(remaining); i++ {
			level := senderLevel(remaining[i], provider)
			if powerLess(remaining[best], bestLevel, remaining[i], level) {
				best, bestLevel = i, level
			}
		}

		e := remaining[best]
		remaining = append(remaining[:best], remaining[best+1:]...)

		if err := auth.Authorize(e, rv, provider); err != nil {
			continue
		}
		resolved.Set(e.Type, e.StateKeyValue(), e.EventID)
	}

	return resolved
}

// powerLess reports whether candidate b should be processed before current
// best a: higher sender level first, then older timestamp, then smaller id.
func powerLess(a *event.Event, aLevel int64, b *event.Event, bLevel int64) bool {
	if aLevel != bLevel {
		return bLevel > aLevel
	}
	if a.OriginServerTS != b.OriginServerTS {
		return b.OriginServerTS < a.OriginServerTS
	}
	return b.EventID < a.EventID
}

func senderLevel(e *event.Event, provider auth.StateProvider) int64 {
	return auth.UserPowerLevel(provider, e.Sender)
}
