package stateres

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"testing"

	"github.com/hearthnet/hearth/src/common"
	"github.com/hearthnet/hearth/src/event"
	"github.com/hearthnet/hearth/src/roomstate"
	"github.com/hearthnet/hearth/src/roomversion"
)

const (
	roomID = "!room:example.org"
	alice  = "@alice:example.org"
	bob    = "@bob:other.org"
)

func strptr(s string) *string { return &s }

// testGraph is an in-memory Graph over a fixed event set.
type testGraph struct {
	events map[string]*event.Event
}

func (g *testGraph) Event(id string) *event.Event {
	return g.events[id]
}

func (g *testGraph) AuthChain(ids []string) []string {
	seen := map[string]bool{}
	frontier := append([]string{}, ids...)
	var res []string
	for len(frontier) > 0 {
		id := frontier[0]
		frontier = frontier[1:]
		e := g.events[id]
		if e == nil {
			continue
		}
		for _, aid := range e.AuthEvents {
			if seen[aid] {
				continue
			}
			seen[aid] = true
			res = append(res, aid)
			frontier = append(frontier, aid)
		}
	}
	return res
}

// graphFixture builds a room DAG with correct auth references.
type graphFixture struct {
	g      *testGraph
	state  roomstate.Snapshot
	nextID int
	ts     int64
}

func newGraphFixture() *graphFixture {
	return &graphFixture{
		g:     &testGraph{events: map[string]*event.Event{}},
		state: roomstate.New(),
	}
}

func (f *graphFixture) add(eventType, stateKey, sender, content string) *event.Event {
	f.nextID++
	f.ts++
	e := &event.Event{
		EventID:        fmt.Sprintf("$%04d", f.nextID),
		RoomID:         roomID,
		Sender:         sender,
		Type:           eventType,
		StateKey:       strptr(stateKey),
		Content:        json.RawMessage(content),
		OriginServerTS: 1700000000000 + f.ts,
	}
	if eventType != event.TypeCreate {
		e.AuthEvents = f.authRefs(eventType, stateKey, sender)
	}
	f.g.events[e.EventID] = e
	f.state.Set(eventType, stateKey, e.EventID)
	return e
}

func (f *graphFixture) authRefs(eventType, stateKey, sender string) []string {
	var refs []string
	for _, k := range []roomstate.Key{
		{Type: event.TypeCreate},
		{Type: event.TypePowerLevels},
		{Type: event.TypeMember, StateKey: sender},
	} {
		if id := f.state[k]; id != "" {
			refs = append(refs, id)
		}
	}
	return refs
}

func (f *graphFixture) resolve(t *testing.T, snapshots ...roomstate.Snapshot) roomstate.Snapshot {
	rv, err := roomversion.Lookup("4")
	if err != nil {
		t.Fatalf("Error looking up room version: %s", err)
	}
	return Resolve(rv, snapshots, f.g, common.NewTestEntry(t, "stateres"))
}

// base builds create + alice join + power levels + join rules + bob join.
func base() *graphFixture {
	f := newGraphFixture()
	f.add(event.TypeCreate, "", alice, `{"room_version":"4"}`)
	f.add(event.TypeMember, alice, alice, `{"membership":"join"}`)
	f.add(event.TypePowerLevels, "", alice,
		`{"users":{"@alice:example.org":100,"@bob:other.org":50},"users_default":0,"state_default":50}`)
	f.add(event.TypeJoinRules, "", alice, `{"join_rule":"public"}`)
	f.add(event.TypeMember, bob, bob, `{"membership":"join"}`)
	return f
}

func TestResolveSingleSnapshot(t *testing.T) {
	f := base()
	res := f.resolve(t, f.state)
	if !res.Equal(f.state) {
		t.Fatalf("Single snapshot must resolve to itself")
	}
}

func TestResolveUnconflicted(t *testing.T) {
	f := base()
	res := f.resolve(t, f.state, f.state.Copy())
	if !res.Equal(f.state) {
		t.Fatalf("Identical snapshots must resolve to themselves")
	}
}

func TestConflictingNameDeterministicWinner(t *testing.T) {
	// Scenario: two admins with equal power concurrently set conflicting
	// room names. Both branches share the same base state.
	f := base()
	f.add(event.TypePowerLevels, "", alice,
		`{"users":{"@alice:example.org":100,"@bob:other.org":100},"users_default":0,"state_default":50}`)

	branchA := f.state.Copy()
	branchB := f.state.Copy()

	nameA := f.add(event.TypeName, "", alice, `{"name":"Alpha"}`)
	f.state.Set(event.TypeName, "", "") // undo fixture bookkeeping
	branchA.Set(event.TypeName, "", nameA.EventID)

	nameB := f.add(event.TypeName, "", bob, `{"name":"Beta"}`)
	branchB.Set(event.TypeName, "", nameB.EventID)

	res1 := f.resolve(t, branchA, branchB)
	res2 := f.resolve(t, branchB, branchA)

	if res1.Get(event.TypeName, "") != res2.Get(event.TypeName, "") {
		t.Fatalf("Winner depends on branch order: %s vs %s",
			res1.Get(event.TypeName, ""), res2.Get(event.TypeName, ""))
	}

	// Equal mainline position and equal power: the earlier timestamp wins.
	if got := res1.Get(event.TypeName, ""); got != nameA.EventID {
		t.Fatalf("Expected %s (earlier timestamp) to win, got %s", nameA.EventID, got)
	}
}

func TestPowerEventOrdering(t *testing.T) {
	// Conflicting power-levels events: one from the admin, one from a user
	// who tries to escalate. The admin's event must win and the
	// escalation must be discarded.
	f := base()

	branchA := f.state.Copy()
	branchB := f.state.Copy()

	plAdmin := f.add(event.TypePowerLevels, "", alice,
		`{"users":{"@alice:example.org":100,"@bob:other.org":10},"users_default":0,"state_default":50}`)
	branchA.Set(event.TypePowerLevels, "", plAdmin.EventID)

	plEscalate := f.add(event.TypePowerLevels, "", bob,
		`{"users":{"@alice:example.org":100,"@bob:other.org":100},"users_default":0,"state_default":50}`)
	branchB.Set(event.TypePowerLevels, "", plEscalate.EventID)

	res := f.resolve(t, branchA, branchB)

	if got := res.Get(event.TypePowerLevels, ""); got != plAdmin.EventID {
		t.Fatalf("Expected admin power levels %s to win, got %s", plAdmin.EventID, got)
	}
}

func TestResolveDeterministicUnderPermutation(t *testing.T) {
	f := base()

	var branches []roomstate.Snapshot
	for i := 0; i < 4; i++ {
		branch := f.state.Copy()
		name := f.add(event.TypeName, "", alice, fmt.Sprintf(`{"name":"n%d"}`, i))
		branch.Set(event.TypeName, "", name.EventID)
		topic := f.add(event.TypeTopic, "", bob, fmt.Sprintf(`{"topic":"t%d"}`, i))
		branch.Set(event.TypeTopic, "", topic.EventID)
		branches = append(branches, branch)
	}

	reference := f.resolve(t, branches...)

	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 10; trial++ {
		shuffled := append([]roomstate.Snapshot{}, branches...)
		rng.Shuffle(len(shuffled), func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})

		res := f.resolve(t, shuffled...)
		if !res.Equal(reference) {
			t.Fatalf("Trial %d: resolution depends on snapshot order", trial)
		}
	}
}

func TestUnresolvableEventsExcluded(t *testing.T) {
	f := base()

	branchA := f.state.Copy()
	branchB := f.state.Copy()

	name := f.add(event.TypeName, "", alice, `{"name":"known"}`)
	branchA.Set(event.TypeName, "", name.EventID)

	// branchB claims a name event this server can never obtain.
	branchB.Set(event.TypeName, "", "$unobtainable")

	res := f.resolve(t, branchA, branchB)

	if got := res.Get(event.TypeName, ""); got != name.EventID {
		t.Fatalf("Unobtainable event should be excluded; expected %s, got %s", name.EventID, got)
	}
}
