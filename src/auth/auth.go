// Package auth implements the authorization rules: a pure, total decision
// function over an event and a state snapshot. It performs no I/O; callers
// hand it a StateProvider over whatever state view they want the event judged
// against (the resolved state before the event, or the author's declared
// view).
package auth

import (
	"fmt"

	"github.com/hearthnet/hearth/src/event"
	"github.com/hearthnet/hearth/src/roomversion"
	"github.com/tidwall/gjson"
)

// StateProvider exposes the state events the authorization rules draw on.
// Implementations return nil for absent entries.
type StateProvider interface {
	// Create returns the room's create event.
	Create() *event.Event
	// Member returns the membership event of a user.
	Member(userID string) *event.Event
	// PowerLevels returns the power-levels event.
	PowerLevels() *event.Event
	// JoinRules returns the join-rules event.
	JoinRules() *event.Event
	// ThirdPartyInvite returns a third-party-invite event by token.
	ThirdPartyInvite(token string) *event.Event
}

// RejectError is the verdict when an event is not permitted. Structural
// rejections mark violations of the auth-reference rules rather than mere
// threshold failures; they are terminal in every state.
type RejectError struct {
	Reason     string
	Structural bool
}

// Error implements the error interface
func (e RejectError) Error() string {
	if e.Structural {
		return fmt.Sprintf("auth rejected (structural): %s", e.Reason)
	}
	return fmt.Sprintf("auth rejected: %s", e.Reason)
}

// IsReject checks that an error is of type RejectError.
func IsReject(err error) bool {
	_, ok := err.(RejectError)
	return ok
}

// IsStructuralReject checks that an error is a structural RejectError.
func IsStructuralReject(err error) bool {
	rejErr, ok := err.(RejectError)
	return ok && rejErr.Structural
}

func reject(format string, args ...interface{}) error {
	return RejectError{Reason: fmt.Sprintf(format, args...)}
}

func rejectStructural(format string, args ...interface{}) error {
	return RejectError{Reason: fmt.Sprintf(format, args...), Structural: true}
}

// Authorize decides whether an event is permitted given a state snapshot.
// nil means allowed; a RejectError carries the reason. The evaluator is
// deterministic: the same (event, state) pair always yields the same verdict.
func Authorize(e *event.Event, rv roomversion.Version, s StateProvider) error {
	if e.Type == event.TypeCreate {
		return authorizeCreate(e)
	}

	create := s.Create()
	if create == nil {
		return reject("no create event in state")
	}

	// A room that opted out of federation only accepts events from the
	// creating server.
	if federate := gjson.GetBytes(create.Content, "m.federate"); federate.Exists() && !federate.Bool() {
		if event.ServerName(e.Sender) != event.ServerName(create.Sender) {
			return reject("room does not federate")
		}
	}

	if e.Type == event.TypeMember {
		return authorizeMembership(e, rv, s)
	}

	// All other events require the sender to be in the room.
	senderMember := s.Member(e.Sender)
	if senderMember == nil || senderMember.Membership() != event.MembershipJoin {
		return reject("sender %s is not joined", e.Sender)
	}

	pl := loadPowerLevels(s)
	senderLevel := pl.userLevel(create, e.Sender)

	required := pl.requiredLevel(e.Type, e.IsState())
	if senderLevel < required {
		return reject("sender level %d below required level %d for %s", senderLevel, required, e.Type)
	}

	if e.Type == event.TypeRedaction && senderLevel < pl.redact {
		return reject("sender level %d below redact level %d", senderLevel, pl.redact)
	}

	if e.Type == event.TypePowerLevels && e.IsState() {
		return authorizePowerLevelChange(e, create, pl, senderLevel)
	}

	return nil
}

// authorizeCreate checks the self-consistency of a create event: it must be
// the first event (no parents), carry an empty state key, originate from the
// room's own server, and declare a known room version.
func authorizeCreate(e *event.Event) error {
	if len(e.PrevEvents) != 0 || len(e.AuthEvents) != 0 {
		return rejectStructural("create event with parents")
	}
	if !e.IsState() || e.StateKeyValue() != "" {
		return rejectStructural("create event with non-empty state_key")
	}
	if event.ServerName(e.RoomID) != event.ServerName(e.Sender) {
		return reject("create sender %s does not match room server %s",
			e.Sender, event.ServerName(e.RoomID))
	}
	if _, err := roomversion.Lookup(e.RoomVersionID()); err != nil {
		return reject("unsupported room version %q", e.RoomVersionID())
	}
	return nil
}
