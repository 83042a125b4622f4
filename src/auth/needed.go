package auth

import (
	"github.com/hearthnet/hearth/src/event"
	"github.com/hearthnet/hearth/src/roomstate"
	"github.com/tidwall/gjson"
)

// NeededAuthKeys returns the (type, state_key) pairs an event's auth_events
// may legitimately reference. The declared references must match this set
// exactly for the entries present in the room's state; anything else is a
// structural violation.
func NeededAuthKeys(e *event.Event) []roomstate.Key {
	if e.Type == event.TypeCreate {
		return nil
	}

	needed := []roomstate.Key{
		{Type: event.TypeCreate, StateKey: ""},
		{Type: event.TypePowerLevels, StateKey: ""},
		{Type: event.TypeMember, StateKey: e.Sender},
	}

	if e.Type == event.TypeMember && e.IsState() {
		target := e.StateKeyValue()
		if target != e.Sender {
			needed = append(needed, roomstate.Key{Type: event.TypeMember, StateKey: target})
		}

		membership := e.Membership()
		if membership == event.MembershipJoin || membership == event.MembershipInvite ||
			membership == event.MembershipKnock {
			needed = append(needed, roomstate.Key{Type: event.TypeJoinRules, StateKey: ""})
		}

		if token := gjson.GetBytes(e.Content, "third_party_invite.signed.token"); token.Exists() {
			needed = append(needed, roomstate.Key{Type: event.TypeThirdPartyInvite, StateKey: token.String()})
		}

		if authoriser := gjson.GetBytes(e.Content, "join_authorised_via_users_server"); authoriser.Exists() {
			needed = append(needed, roomstate.Key{Type: event.TypeMember, StateKey: authoriser.String()})
		}
	}

	return needed
}

// VerifyAuthEvents checks rule 5: the event's declared auth_events must
// reference exactly the needed state types, with no duplicates, no events
// from other rooms, and no omissions for entries the given state holds. A
// violation is a structural rejection, distinct from a threshold failure.
func VerifyAuthEvents(e *event.Event, s StateProvider, getEvent func(id string) *event.Event) error {
	needed := map[roomstate.Key]bool{}
	for _, k := range NeededAuthKeys(e) {
		needed[k] = true
	}

	declared := map[roomstate.Key]bool{}
	for _, id := range e.AuthEvents {
		ae := getEvent(id)
		if ae == nil {
			return rejectStructural("auth event %s is unknown", id)
		}
		if ae.RoomID != e.RoomID {
			return rejectStructural("auth event %s belongs to another room", id)
		}
		if !ae.IsState() {
			return rejectStructural("auth event %s is not a state event", id)
		}

		k := roomstate.Key{Type: ae.Type, StateKey: ae.StateKeyValue()}
		if !needed[k] {
			return rejectStructural("extraneous auth event %s (%s, %q)", id, k.Type, k.StateKey)
		}
		if declared[k] {
			return rejectStructural("duplicate auth event for (%s, %q)", k.Type, k.StateKey)
		}
		declared[k] = true
	}

	// Entries the state holds must be referenced.
	for k := range needed {
		if declared[k] {
			continue
		}
		if stateHolds(s, k) {
			return rejectStructural("missing auth event for (%s, %q)", k.Type, k.StateKey)
		}
	}

	return nil
}

func stateHolds(s StateProvider, k roomstate.Key) bool {
	switch k.Type {
	case event.TypeCreate:
		return s.Create() != nil
	case event.TypePowerLevels:
		return s.PowerLevels() != nil
	case event.TypeJoinRules:
		return s.JoinRules() != nil
	case event.TypeMember:
		return s.Member(k.StateKey) != nil
	case event.TypeThirdPartyInvite:
		return s.ThirdPartyInvite(k.StateKey) != nil
	default:
		return false
	}
}
