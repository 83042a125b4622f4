package auth

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/hearthnet/hearth/src/event"
	"github.com/hearthnet/hearth/src/roomstate"
	"github.com/hearthnet/hearth/src/roomversion"
)

const (
	roomID = "!room:example.org"
	alice  = "@alice:example.org"
	bob    = "@bob:other.org"
	carol  = "@carol:third.org"
)

func strptr(s string) *string { return &s }

// roomFixture accumulates state events and exposes them as a StateProvider.
type roomFixture struct {
	events map[string]*event.Event
	state  roomstate.Snapshot
	nextID int
}

func newRoomFixture() *roomFixture {
	return &roomFixture{
		events: map[string]*event.Event{},
		state:  roomstate.New(),
	}
}

func (f *roomFixture) add(eventType, stateKey, sender, content string) *event.Event {
	f.nextID++
	e := &event.Event{
		EventID:        fmt.Sprintf("$%04d", f.nextID),
		RoomID:         roomID,
		Sender:         sender,
		Type:           eventType,
		StateKey:       strptr(stateKey),
		Content:        json.RawMessage(content),
		OriginServerTS: int64(1700000000000 + f.nextID),
	}
	f.events[e.EventID] = e
	f.state.Set(eventType, stateKey, e.EventID)
	return e
}

func (f *roomFixture) provider() StateProvider {
	return NewSnapshotProvider(f.state, func(id string) *event.Event { return f.events[id] })
}

// baseRoom builds a room with alice as creator/admin and bob joined.
func baseRoom() *roomFixture {
	f := newRoomFixture()
	f.add(event.TypeCreate, "", alice, `{"room_version":"4"}`)
	f.add(event.TypeMember, alice, alice, `{"membership":"join"}`)
	f.add(event.TypePowerLevels, "", alice,
		`{"users":{"@alice:example.org":100},"users_default":0,"state_default":50,"events_default":0,"ban":50,"kick":50,"invite":0}`)
	f.add(event.TypeJoinRules, "", alice, `{"join_rule":"public"}`)
	f.add(event.TypeMember, bob, bob, `{"membership":"join"}`)
	return f
}

func v4(t *testing.T) roomversion.Version {
	rv, err := roomversion.Lookup("4")
	if err != nil {
		t.Fatalf("Error looking up room version: %s", err)
	}
	return rv
}

func msg(sender string) *event.Event {
	return &event.Event{
		EventID: "$msg",
		RoomID:  roomID,
		Sender:  sender,
		Type:    event.TypeMessage,
		Content: json.RawMessage(`{"body":"hi"}`),
	}
}

func member(sender, target, membership string) *event.Event {
	return &event.Event{
		EventID:  "$m",
		RoomID:   roomID,
		Sender:   sender,
		Type:     event.TypeMember,
		StateKey: strptr(target),
		Content:  json.RawMessage(fmt.Sprintf(`{"membership":"%s"}`, membership)),
	}
}

func TestMessageRequiresJoin(t *testing.T) {
	f := baseRoom()

	if err := Authorize(msg(bob), v4(t), f.provider()); err != nil {
		t.Fatalf("Joined user rejected: %s", err)
	}

	err := Authorize(msg(carol), v4(t), f.provider())
	if !IsReject(err) {
		t.Fatalf("Non-member should be rejected, got %v", err)
	}
}

func TestJoinRuleMatrix(t *testing.T) {
	cases := []struct {
		name     string
		joinRule string
		prior    string // carol's prior membership, "" for none
		allowed  bool
	}{
		{"public open", "public", "", true},
		{"invite without invite", "invite", "", false},
		{"invite with invite", "invite", "invite", true},
		{"knock rule without invite", "knock", "", false},
		{"knock rule with invite", "knock", "invite", true},
		{"banned cannot join public", "public", "ban", false},
	}

	for _, c := range cases {
		f := baseRoom()
		f.add(event.TypeJoinRules, "", alice, fmt.Sprintf(`{"join_rule":"%s"}`, c.joinRule))
		if c.prior != "" {
			f.add(event.TypeMember, carol, alice, fmt.Sprintf(`{"membership":"%s"}`, c.prior))
		}

		err := Authorize(member(carol, carol, "join"), v4(t), f.provider())
		if c.allowed && err != nil {
			t.Fatalf("%s: expected allow, got %s", c.name, err)
		}
		if !c.allowed && !IsReject(err) {
			t.Fatalf("%s: expected reject, got %v", c.name, err)
		}
	}
}

func TestCreatorBootstrapJoin(t *testing.T) {
	f := newRoomFixture()
	f.add(event.TypeCreate, "", alice, `{"room_version":"4"}`)

	if err := Authorize(member(alice, alice, "join"), v4(t), f.provider()); err != nil {
		t.Fatalf("Creator's first join rejected: %s", err)
	}

	// Anyone else needs the join rules, which do not exist yet.
	err := Authorize(member(bob, bob, "join"), v4(t), f.provider())
	if !IsReject(err) {
		t.Fatalf("Stranger join should be rejected in a fresh room, got %v", err)
	}
}

func TestBanRequiresPower(t *testing.T) {
	f := baseRoom()

	// Alice (100) can ban bob (0).
	if err := Authorize(member(alice, bob, "ban"), v4(t), f.provider()); err != nil {
		t.Fatalf("Admin ban rejected: %s", err)
	}

	// Bob (0) cannot ban alice (100).
	err := Authorize(member(bob, alice, "ban"), v4(t), f.provider())
	if !IsReject(err) {
		t.Fatalf("Powerless ban should be rejected, got %v", err)
	}

	// Banned user cannot send or rejoin until unbanned.
	f.add(event.TypeMember, bob, alice, `{"membership":"ban"}`)
	if err := Authorize(msg(bob), v4(t), f.provider()); !IsReject(err) {
		t.Fatalf("Banned user's message should be rejected, got %v", err)
	}
	if err := Authorize(member(bob, bob, "join"), v4(t), f.provider()); !IsReject(err) {
		t.Fatalf("Banned user's join should be rejected, got %v", err)
	}
	if err := Authorize(member(bob, bob, "leave"), v4(t), f.provider()); !IsReject(err) {
		t.Fatalf("Ban must not be escapable by leaving, got %v", err)
	}

	// Unban is a leave by a sufficiently powerful sender.
	if err := Authorize(member(alice, bob, "leave"), v4(t), f.provider()); err != nil {
		t.Fatalf("Unban rejected: %s", err)
	}
}

func TestLeaveAlwaysLegalForSelf(t *testing.T) {
	f := baseRoom()
	if err := Authorize(member(bob, bob, "leave"), v4(t), f.provider()); err != nil {
		t.Fatalf("Self-leave rejected: %s", err)
	}
}

func TestKnockGatedByVersion(t *testing.T) {
	f := baseRoom()
	f.add(event.TypeJoinRules, "", alice, `{"join_rule":"knock"}`)

	knock := member(carol, carol, "knock")

	if err := Authorize(knock, v4(t), f.provider()); err != nil {
		t.Fatalf("Knock rejected under version 4: %s", err)
	}

	rv2, err := roomversion.Lookup("2")
	if err != nil {
		t.Fatalf("Error looking up room version: %s", err)
	}
	if err := Authorize(knock, rv2, f.provider()); !IsReject(err) {
		t.Fatalf("Knock should be rejected under version 2, got %v", err)
	}
}

func TestEventTypeThreshold(t *testing.T) {
	f := baseRoom()
	f.add(event.TypePowerLevels, "", alice,
		`{"users":{"@alice:example.org":100},"users_default":0,"events":{"m.room.message":60}}`)

	err := Authorize(msg(bob), v4(t), f.provider())
	if !IsReject(err) {
		t.Fatalf("Message below type threshold should be rejected, got %v", err)
	}

	if err := Authorize(msg(alice), v4(t), f.provider()); err != nil {
		t.Fatalf("Admin message rejected: %s", err)
	}
}

func TestStateChangeThreshold(t *testing.T) {
	f := baseRoom()

	name := &event.Event{
		EventID:  "$name",
		RoomID:   roomID,
		Sender:   bob,
		Type:     event.TypeName,
		StateKey: strptr(""),
		Content:  json.RawMessage(`{"name":"new"}`),
	}

	err := Authorize(name, v4(t), f.provider())
	if !IsReject(err) {
		t.Fatalf("State change below state_default should be rejected, got %v", err)
	}

	name.Sender = alice
	if err := Authorize(name, v4(t), f.provider()); err != nil {
		t.Fatalf("Admin state change rejected: %s", err)
	}
}

func TestPowerLevelChangeRules(t *testing.T) {
	f := baseRoom()
	// Give bob level 50 so he can touch the power levels at all.
	f.add(event.TypePowerLevels, "", alice,
		`{"users":{"@alice:example.org":100,"@bob:other.org":50},"users_default":0,"state_default":50}`)

	plChange := func(sender, content string) *event.Event {
		return &event.Event{
			EventID:  "$pl",
			RoomID:   roomID,
			Sender:   sender,
			Type:     event.TypePowerLevels,
			StateKey: strptr(""),
			Content:  json.RawMessage(content),
		}
	}

	// Bob cannot raise anyone above his own level.
	err := Authorize(plChange(bob,
		`{"users":{"@alice:example.org":100,"@bob:other.org":50,"@carol:third.org":75}}`), v4(t), f.provider())
	if !IsReject(err) {
		t.Fatalf("Privilege escalation should be rejected, got %v", err)
	}

	// Bob cannot demote alice, who is above him.
	err = Authorize(plChange(bob,
		`{"users":{"@alice:example.org":40,"@bob:other.org":50}}`), v4(t), f.provider())
	if !IsReject(err) {
		t.Fatalf("Demoting a superior should be rejected, got %v", err)
	}

	// Bob may demote himself.
	if err := Authorize(plChange(bob,
		`{"users":{"@alice:example.org":100,"@bob:other.org":10}}`), v4(t), f.provider()); err != nil {
		t.Fatalf("Self-demotion rejected: %s", err)
	}
}

func TestVerifyAuthEvents(t *testing.T) {
	f := baseRoom()
	getEvent := func(id string) *event.Event { return f.events[id] }

	createID := f.state.Get(event.TypeCreate, "")
	plID := f.state.Get(event.TypePowerLevels, "")
	bobMemberID := f.state.Get(event.TypeMember, bob)
	joinRulesID := f.state.Get(event.TypeJoinRules, "")

	good := msg(bob)
	good.AuthEvents = []string{createID, plID, bobMemberID}
	if err := VerifyAuthEvents(good, f.provider(), getEvent); err != nil {
		t.Fatalf("Correct auth references rejected: %s", err)
	}

	// Missing power-levels reference is structural.
	missing := msg(bob)
	missing.AuthEvents = []string{createID, bobMemberID}
	if err := VerifyAuthEvents(missing, f.provider(), getEvent); !IsStructuralReject(err) {
		t.Fatalf("Missing power-levels reference should be structural, got %v", err)
	}

	// Join rules are irrelevant to a message: extraneous, structural.
	extraneous := msg(bob)
	extraneous.AuthEvents = []string{createID, plID, bobMemberID, joinRulesID}
	if err := VerifyAuthEvents(extraneous, f.provider(), getEvent); !IsStructuralReject(err) {
		t.Fatalf("Extraneous auth reference should be structural, got %v", err)
	}
}

func TestCreateSelfConsistency(t *testing.T) {
	rv := v4(t)

	good := &event.Event{
		EventID:  "$create",
		RoomID:   roomID,
		Sender:   alice,
		Type:     event.TypeCreate,
		StateKey: strptr(""),
		Content:  json.RawMessage(`{"room_version":"4"}`),
	}
	if err := Authorize(good, rv, newRoomFixture().provider()); err != nil {
		t.Fatalf("Valid create rejected: %s", err)
	}

	withParents := *good
	withParents.PrevEvents = []string{"$x"}
	if err := Authorize(&withParents, rv, newRoomFixture().provider()); !IsReject(err) {
		t.Fatalf("Create with parents should be rejected")
	}

	foreign := *good
	foreign.Sender = bob
	if err := Authorize(&foreign, rv, newRoomFixture().provider()); !IsReject(err) {
		t.Fatalf("Create from foreign server should be rejected")
	}

	badVersion := *good
	badVersion.Content = json.RawMessage(`{"room_version":"999"}`)
	if err := Authorize(&badVersion, rv, newRoomFixture().provider()); !IsReject(err) {
		t.Fatalf("Create with unknown version should be rejected")
	}
}
