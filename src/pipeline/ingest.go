package pipeline

import (
	"context"
	"fmt"

	"github.com/hearthnet/hearth/src/auth"
	"github.com/hearthnet/hearth/src/event"
	"github.com/hearthnet/hearth/src/roomdag"
	"github.com/hearthnet/hearth/src/roomstate"
	"github.com/hearthnet/hearth/src/roomversion"
)

// Outcome is the verdict of one ingestion attempt.
type Outcome int

const (
	// OutcomeParked means dependencies are unresolved; the event waits and
	// is retried when they arrive.
	OutcomeParked Outcome = iota
	// OutcomeAccepted means the event passed every check and extends the
	// room.
	OutcomeAccepted
	// OutcomeSoftFailed means the event was legal in its author's view but
	// not against current state; it joins the graph without surfacing.
	OutcomeSoftFailed
	// OutcomeRejected is terminal: the event is recorded and never
	// re-evaluated.
	OutcomeRejected
	// OutcomeDuplicate means the event already holds a terminal status.
	OutcomeDuplicate
)

func (o Outcome) String() string {
	switch o {
	case OutcomeParked:
		return "parked"
	case OutcomeAccepted:
		return "accepted"
	case OutcomeSoftFailed:
		return "soft_failed"
	case OutcomeRejected:
		return "rejected"
	case OutcomeDuplicate:
		return "duplicate"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// ingestOne runs the full acceptance machine for a single event whose room
// writer lock is held. It never fetches; missing dependencies produce
// OutcomeParked and the caller decides how to obtain them.
func (p *Pipeline) ingestOne(ctx context.Context, e *event.Event) (Outcome, error) {
	if err := e.ValidateStructure(); err != nil {
		return OutcomeRejected, err
	}
	if err := e.VerifyHashes(); err != nil {
		return OutcomeRejected, err
	}

	rv, outcome, err := p.resolveVersion(e)
	if err != nil {
		return outcome, err
	}

	if err := p.fixEventID(e, rv); err != nil {
		return OutcomeRejected, err
	}

	if status, err := p.store.GetStatus(e.EventID); err == nil {
		if status != roomdag.StatusPending {
			return OutcomeDuplicate, nil
		}
	}
	if reason, ok := p.rejected.Get(e.EventID); ok {
		return OutcomeDuplicate, fmt.Errorf("previously rejected: %s", reason)
	}

	if missing := p.missingDeps(e); len(missing) > 0 {
		return OutcomeParked, &MissingDependenciesError{EventID: e.EventID, Missing: missing}
	}

	if err := roomdag.CheckAcyclic(p.store, e); err != nil {
		return p.reject(e, rv, err)
	}

	if err := e.VerifySignatures(ctx, rv, p.keys); err != nil {
		if event.IsUnknownSigningKey(err) {
			// The key may become fetchable; do not burn the event.
			return OutcomeParked, err
		}
		return p.reject(e, rv, err)
	}

	stateBefore, err := p.computer.StateBefore(rv, e)
	if err != nil {
		return OutcomeParked, err
	}

	getEvent := func(id string) *event.Event {
		ev, err := p.store.GetEvent(id)
		if err != nil {
			return nil
		}
		return ev
	}
	truth := auth.NewSnapshotProvider(stateBefore, getEvent)

	// Declared auth references must exactly mirror what the rules need
	// under the state the event landed on.
	if err := auth.VerifyAuthEvents(e, truth, getEvent); err != nil {
		return p.reject(e, rv, err)
	}

	// First gate: the event must be legal in its author's own view. An
	// event its signer could not legally have built is garbage, not a
	// race.
	authorView := auth.NewAuthViewProvider(e, getEvent)
	if err := auth.Authorize(e, rv, authorView); err != nil {
		return p.reject(e, rv, err)
	}

	// Second gate: legality against the state at its position in the
	// graph.
	if err := auth.Authorize(e, rv, truth); err != nil {
		return p.reject(e, rv, err)
	}

	// Third gate: legality against present room state. Failing only here
	// means the author raced a state change; the event is contained, not
	// rejected.
	status := roomdag.StatusAccepted
	var softReason error
	if e.Type != event.TypeCreate {
		current, err := p.CurrentState(e.RoomID)
		if err == nil {
			now := auth.NewSnapshotProvider(current, getEvent)
			if err := auth.Authorize(e, rv, now); err != nil {
				status = roomdag.StatusSoftFailed
				softReason = err
			}
		}
	}

	if err := p.persist(e, rv, status, stateBefore); err != nil {
		return OutcomeParked, err
	}

	if status == roomdag.StatusSoftFailed {
		return OutcomeSoftFailed, softReason
	}
	return OutcomeAccepted, nil
}

// resolveVersion determines the room version an event is judged under. For a
// create event it comes from the event body; for everything else from the
// stored room record, parking the event when the room is still unknown.
func (p *Pipeline) resolveVersion(e *event.Event) (roomversion.Version, Outcome, error) {
	if e.Type == event.TypeCreate && e.IsState() && len(e.PrevEvents) == 0 {
		rv, err := roomversion.Lookup(e.RoomVersionID())
		if err != nil {
			return roomversion.Version{}, OutcomeRejected, err
		}
		return rv, OutcomeRejected, nil
	}

	info, err := p.store.GetRoomInfo(e.RoomID)
	if err != nil {
		return roomversion.Version{}, OutcomeParked,
			&MissingDependenciesError{EventID: e.EventID, Missing: e.AuthEvents}
	}
	rv, err := roomversion.Lookup(info.Version)
	if err != nil {
		return roomversion.Version{}, OutcomeRejected, err
	}
	return rv, OutcomeRejected, nil
}

// fixEventID derives or checks the event id. Versions with derived ids get
// the id recomputed here; a caller-supplied id that disagrees is a spoof.
func (p *Pipeline) fixEventID(e *event.Event, rv roomversion.Version) error {
	if rv.ExplicitEventID {
		if e.EventID == "" {
			return event.NewFormatError("missing event_id")
		}
		return nil
	}

	derived, err := e.DeriveEventID(rv)
	if err != nil {
		return err
	}
	if e.EventID == "" {
		e.EventID = derived
		return nil
	}
	if e.EventID != derived {
		return event.NewFormatError(
			fmt.Sprintf("event_id %s does not match reference hash %s", e.EventID, derived))
	}
	return nil
}

// missingDeps returns the direct dependencies (parents and auth references)
// not yet present in the store.
func (p *Pipeline) missingDeps(e *event.Event) []string {
	var missing []string
	seen := map[string]bool{}
	for _, id := range append(append([]string{}, e.PrevEvents...), e.AuthEvents...) {
		if seen[id] {
			continue
		}
		seen[id] = true
		if !p.store.HasEvent(id) {
			missing = append(missing, id)
		}
	}
	return missing
}

// reject records a terminal rejection. The event body is persisted so the id
// is never re-validated, but it contributes nothing to state, timeline, or
// extremities.
func (p *Pipeline) reject(e *event.Event, rv roomversion.Version, cause error) (Outcome, error) {
	p.rejected.Add(e.EventID, cause.Error())
	if err := p.store.PutEvent(e, roomdag.StatusRejected); err != nil {
		p.logger.WithField("event_id", e.EventID).WithError(err).Warning("Recording rejection failed")
	}
	return OutcomeRejected, cause
}

// persist writes the event, its after-snapshot, the room record for a create
// event, and the extremity update, in that order.
func (p *Pipeline) persist(e *event.Event, rv roomversion.Version, status roomdag.EventStatus, stateBefore roomstate.Snapshot) error {
	if err := p.store.PutEvent(e, status); err != nil {
		return err
	}

	after := stateBefore.Copy()
	if e.IsState() {
		after.Set(e.Type, e.StateKeyValue(), e.EventID)
	}
	if err := p.store.SetSnapshot(e.EventID, after); err != nil {
		return err
	}

	if e.Type == event.TypeCreate && e.IsState() && len(e.PrevEvents) == 0 {
		info := &roomdag.RoomInfo{RoomID: e.RoomID, Version: rv.ID, CreateEventID: e.EventID}
		if err := p.store.SetRoomInfo(info); err != nil {
			return err
		}
	}

	return p.store.UpdateExtremities(e.RoomID, e)
}

// MissingDependenciesError reports the direct dependency ids an event is
// parked on.
type MissingDependenciesError struct {
	EventID string
	Missing []string
}

func (e *MissingDependenciesError) Error() string {
	return fmt.Sprintf("event %s is missing %d dependencies", e.EventID, len(e.Missing))
}

// IsMissingDependencies checks that an error reports unresolved dependencies.
func IsMissingDependencies(err error) bool {
	_, ok := err.(*MissingDependenciesError)
	return ok
}
