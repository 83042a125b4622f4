package pipeline

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"math/rand"
	"reflect"
	"testing"

	"github.com/hearthnet/hearth/src/auth"
	cm "github.com/hearthnet/hearth/src/common"
	"github.com/hearthnet/hearth/src/crypto/keys"
	"github.com/hearthnet/hearth/src/event"
	"github.com/hearthnet/hearth/src/federation"
	"github.com/hearthnet/hearth/src/roomdag"
	"github.com/hearthnet/hearth/src/roomversion"
)

const (
	localName  = "hearth.test"
	remoteName = "remote.test"

	alice = "@alice:hearth.test"
	bob   = "@bob:remote.test"
	carol = "@carol:remote.test"
)

func strp(s string) *string { return &s }

func ids(events ...*event.Event) []string {
	res := make([]string, len(events))
	for i, e := range events {
		res[i] = e.EventID
	}
	return res
}

type testServer struct {
	name  string
	keyID string
	pub   ed25519.PublicKey
	priv  ed25519.PrivateKey
}

func newTestServer(t *testing.T, name string) *testServer {
	pub, priv, err := keys.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	return &testServer{name: name, keyID: keys.KeyID(pub), pub: pub, priv: priv}
}

type pipelineFixture struct {
	t      *testing.T
	rv     roomversion.Version
	store  *roomdag.InmemStore
	client *federation.InmemClient
	p      *Pipeline
	local  *testServer
	remote *testServer
	roomID string

	create, aliceJoin, powerLevels, joinRules, bobJoin *event.Event
}

func newPipelineFixture(t *testing.T) *pipelineFixture {
	rv, err := roomversion.Lookup("4")
	if err != nil {
		t.Fatal(err)
	}

	local := newTestServer(t, localName)
	remote := newTestServer(t, remoteName)

	client := federation.NewInmemClient()
	client.AddServerKey(remote.name, remote.keyID, remote.pub)

	store := roomdag.NewInmemStore(500)
	ring := federation.NewKeyRing(local.name,
		map[string]ed25519.PublicKey{local.keyID: local.pub},
		client, cm.NewTestEntry(t, "keyring"))

	return &pipelineFixture{
		t:      t,
		rv:     rv,
		store:  store,
		client: client,
		p:      NewPipeline(store, ring, client, cm.NewTestEntry(t, "pipeline")),
		local:  local,
		remote: remote,
		roomID: "!test:" + localName,
	}
}

// freshPipeline returns a fixture sharing this one's servers, keys, and built
// events, but with an empty store and pipeline. Events built on either
// fixture validate on both.
func (f *pipelineFixture) freshPipeline() *pipelineFixture {
	client := federation.NewInmemClient()
	client.AddServerKey(f.remote.name, f.remote.keyID, f.remote.pub)

	store := roomdag.NewInmemStore(500)
	ring := federation.NewKeyRing(f.local.name,
		map[string]ed25519.PublicKey{f.local.keyID: f.local.pub},
		client, cm.NewTestEntry(f.t, "keyring"))

	return &pipelineFixture{
		t:           f.t,
		rv:          f.rv,
		store:       store,
		client:      client,
		p:           NewPipeline(store, ring, client, cm.NewTestEntry(f.t, "pipeline")),
		local:       f.local,
		remote:      f.remote,
		roomID:      f.roomID,
		create:      f.create,
		aliceJoin:   f.aliceJoin,
		powerLevels: f.powerLevels,
		joinRules:   f.joinRules,
		bobJoin:     f.bobJoin,
	}
}

func (f *pipelineFixture) build(srv *testServer, sender, eventType string, stateKey *string,
	content string, prev, authRefs []string, depth, ts int64) *event.Event {

	e := &event.Event{
		RoomID:         f.roomID,
		Sender:         sender,
		Type:           eventType,
		StateKey:       stateKey,
		Content:        json.RawMessage(content),
		PrevEvents:     prev,
		AuthEvents:     authRefs,
		Depth:          depth,
		OriginServerTS: ts,
		Origin:         srv.name,
	}
	if err := e.AttachContentHash(); err != nil {
		f.t.Fatal(err)
	}
	if err := e.AttachEventID(f.rv); err != nil {
		f.t.Fatal(err)
	}
	if err := e.Sign(f.rv, srv.name, srv.keyID, srv.priv); err != nil {
		f.t.Fatal(err)
	}
	return e
}

// bootstrapEvents returns the canonical five-event room setup: create, the
// creator's join, power levels, public join rules, and a remote user's join.
func (f *pipelineFixture) bootstrapEvents() []*event.Event {
	empty := ""
	f.create = f.build(f.local, alice, event.TypeCreate, &empty,
		`{"room_version":"4","creator":"@alice:hearth.test"}`,
		nil, nil, 1, 1000)
	f.aliceJoin = f.build(f.local, alice, event.TypeMember, strp(alice),
		`{"membership":"join"}`,
		ids(f.create), ids(f.create), 2, 1001)
	f.powerLevels = f.build(f.local, alice, event.TypePowerLevels, &empty,
		`{"users":{"@alice:hearth.test":100},"users_default":0}`,
		ids(f.aliceJoin), ids(f.create, f.aliceJoin), 3, 1002)
	f.joinRules = f.build(f.local, alice, event.TypeJoinRules, &empty,
		`{"join_rule":"public"}`,
		ids(f.powerLevels), ids(f.create, f.powerLevels, f.aliceJoin), 4, 1003)
	f.bobJoin = f.build(f.remote, bob, event.TypeMember, strp(bob),
		`{"membership":"join"}`,
		ids(f.joinRules), ids(f.create, f.powerLevels, f.joinRules), 5, 1004)
	return []*event.Event{f.create, f.aliceJoin, f.powerLevels, f.joinRules, f.bobJoin}
}

func (f *pipelineFixture) mustAccept(e *event.Event) {
	outcome, err := f.p.Ingest(context.Background(), e)
	if outcome != OutcomeAccepted {
		f.t.Fatalf("event %s (%s) should be accepted, got %s: %v", e.EventID, e.Type, outcome, err)
	}
}

func (f *pipelineFixture) bootstrapRoom() {
	for _, e := range f.bootstrapEvents() {
		f.mustAccept(e)
	}
}

func TestBootstrapRoom(t *testing.T) {
	f := newPipelineFixture(t)
	f.bootstrapRoom()

	state, err := f.p.CurrentState(f.roomID)
	if err != nil {
		t.Fatal(err)
	}
	if got := state.Get(event.TypeMember, bob); got != f.bobJoin.EventID {
		t.Fatalf("state should hold bob's join %s, not %s", f.bobJoin.EventID, got)
	}

	ext, _ := f.store.Extremities(f.roomID)
	if !reflect.DeepEqual(ext, ids(f.bobJoin)) {
		t.Fatalf("extremities should be %v, not %v", ids(f.bobJoin), ext)
	}

	info, err := f.store.GetRoomInfo(f.roomID)
	if err != nil {
		t.Fatal(err)
	}
	if info.Version != "4" || info.CreateEventID != f.create.EventID {
		t.Fatalf("unexpected room record %+v", info)
	}
}

func TestIngestIdempotent(t *testing.T) {
	f := newPipelineFixture(t)
	f.bootstrapRoom()

	outcome, _ := f.p.Ingest(context.Background(), f.bobJoin)
	if outcome != OutcomeDuplicate {
		t.Fatalf("re-ingesting a settled event should be duplicate, got %s", outcome)
	}

	ext, _ := f.store.Extremities(f.roomID)
	if !reflect.DeepEqual(ext, ids(f.bobJoin)) {
		t.Fatalf("duplicate must not disturb extremities, got %v", ext)
	}
}

func TestOutOfOrderArrival(t *testing.T) {
	f := newPipelineFixture(t)
	f.bootstrapRoom()

	msg1 := f.build(f.remote, bob, event.TypeMessage, nil, `{"body":"one"}`,
		ids(f.bobJoin), ids(f.create, f.powerLevels, f.bobJoin), 6, 2000)
	msg2 := f.build(f.remote, bob, event.TypeMessage, nil, `{"body":"two"}`,
		ids(msg1), ids(f.create, f.powerLevels, f.bobJoin), 7, 2001)

	// The child arrives first; its parent is neither stored nor fetchable.
	outcome, err := f.p.Ingest(context.Background(), msg2)
	if outcome != OutcomeParked {
		t.Fatalf("orphan should park, got %s: %v", outcome, err)
	}
	if !IsMissingDependencies(err) {
		t.Fatalf("expected MissingDependenciesError, got %v", err)
	}

	// The parent lands and the parked child settles behind it.
	f.mustAccept(msg1)

	status, err := f.store.GetStatus(msg2.EventID)
	if err != nil {
		t.Fatal(err)
	}
	if status != roomdag.StatusAccepted {
		t.Fatalf("parked child should settle accepted, got %v", status)
	}

	ext, _ := f.store.Extremities(f.roomID)
	if !reflect.DeepEqual(ext, ids(msg2)) {
		t.Fatalf("extremities should collapse to %v, got %v", ids(msg2), ext)
	}
}

func TestDependencyFetch(t *testing.T) {
	f := newPipelineFixture(t)
	f.bootstrapRoom()

	msg1 := f.build(f.remote, bob, event.TypeMessage, nil, `{"body":"one"}`,
		ids(f.bobJoin), ids(f.create, f.powerLevels, f.bobJoin), 6, 2000)
	msg2 := f.build(f.remote, bob, event.TypeMessage, nil, `{"body":"two"}`,
		ids(msg1), ids(f.create, f.powerLevels, f.bobJoin), 7, 2001)

	// The parent is only available over federation.
	f.client.AddEvent(msg1)

	outcome, err := f.p.Ingest(context.Background(), msg2)
	if outcome != OutcomeAccepted {
		t.Fatalf("event with fetchable ancestry should be accepted, got %s: %v", outcome, err)
	}

	status, err := f.store.GetStatus(msg1.EventID)
	if err != nil {
		t.Fatal(err)
	}
	if status != roomdag.StatusAccepted {
		t.Fatalf("fetched ancestor should be accepted, got %v", status)
	}
}

func TestConvergenceUnderPermutation(t *testing.T) {
	reference := newPipelineFixture(t)
	reference.bootstrapRoom()
	refState, err := reference.p.CurrentState(reference.roomID)
	if err != nil {
		t.Fatal(err)
	}

	for seed := int64(0); seed < 6; seed++ {
		f := reference.freshPipeline()
		events := []*event.Event{f.create, f.aliceJoin, f.powerLevels, f.joinRules, f.bobJoin}

		r := rand.New(rand.NewSource(seed))
		r.Shuffle(len(events), func(i, j int) {
			events[i], events[j] = events[j], events[i]
		})

		for _, e := range events {
			f.p.Ingest(context.Background(), e)
		}

		for _, e := range events {
			status, err := f.store.GetStatus(e.EventID)
			if err != nil {
				t.Fatalf("seed %d: event %s (%s) missing: %v", seed, e.EventID, e.Type, err)
			}
			if status != roomdag.StatusAccepted {
				t.Fatalf("seed %d: event %s (%s) should settle accepted, got %v", seed, e.EventID, e.Type, status)
			}
		}

		state, err := f.p.CurrentState(f.roomID)
		if err != nil {
			t.Fatal(err)
		}
		if !state.Equal(refState) {
			t.Fatalf("seed %d: state diverged from in-order ingestion", seed)
		}
	}
}

func TestForkResolvesDeterministically(t *testing.T) {
	base := newPipelineFixture(t)
	base.bootstrapRoom()
	empty := ""

	nameA := base.build(base.local, alice, event.TypeName, &empty, `{"name":"Alpha"}`,
		ids(base.bobJoin), ids(base.create, base.powerLevels, base.aliceJoin), 6, 3000)
	nameB := base.build(base.local, alice, event.TypeName, &empty, `{"name":"Beta"}`,
		ids(base.bobJoin), ids(base.create, base.powerLevels, base.aliceJoin), 6, 3001)

	winner := ""
	for _, flip := range []bool{false, true} {
		f := base.freshPipeline()
		for _, e := range []*event.Event{f.create, f.aliceJoin, f.powerLevels, f.joinRules, f.bobJoin} {
			f.mustAccept(e)
		}

		first, second := nameA, nameB
		if flip {
			first, second = nameB, nameA
		}
		f.mustAccept(first)
		f.mustAccept(second)

		state, err := f.p.CurrentState(f.roomID)
		if err != nil {
			t.Fatal(err)
		}
		got := state.Get(event.TypeName, "")
		if got != nameA.EventID && got != nameB.EventID {
			t.Fatalf("fork should resolve to one of the name events, got %q", got)
		}
		if winner == "" {
			winner = got
		} else if got != winner {
			t.Fatalf("fork winner depends on arrival order: %s vs %s", got, winner)
		}
	}
}

func TestBanRaceSoftFails(t *testing.T) {
	f := newPipelineFixture(t)
	f.bootstrapRoom()

	ban := f.build(f.local, alice, event.TypeMember, strp(bob), `{"membership":"ban"}`,
		ids(f.bobJoin), ids(f.create, f.powerLevels, f.aliceJoin, f.bobJoin), 6, 3000)
	f.mustAccept(ban)

	// Bob's message was authored before the ban reached his server: built
	// on the pre-ban frontier, legal in his own view.
	msg := f.build(f.remote, bob, event.TypeMessage, nil, `{"body":"late"}`,
		ids(f.bobJoin), ids(f.create, f.powerLevels, f.bobJoin), 6, 3001)

	outcome, err := f.p.Ingest(context.Background(), msg)
	if outcome != OutcomeSoftFailed {
		t.Fatalf("banned user's raced message should soft-fail, got %s: %v", outcome, err)
	}

	// Contained: in the graph, out of the timeline.
	status, _ := f.store.GetStatus(msg.EventID)
	if status != roomdag.StatusSoftFailed {
		t.Fatalf("status should be soft_failed, got %v", status)
	}
	timeline, err := f.store.Timeline(f.roomID, 1, event.MaxDepth)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range timeline {
		if e.EventID == msg.EventID {
			t.Fatal("soft-failed event must not surface in the timeline")
		}
	}
}

func TestSoftFailedStateEventContained(t *testing.T) {
	f := newPipelineFixture(t)
	f.bootstrapRoom()

	// Give bob enough power to author state events.
	empty := ""
	pl2 := f.build(f.local, alice, event.TypePowerLevels, &empty,
		`{"users":{"@alice:hearth.test":100,"@bob:remote.test":50},"users_default":0}`,
		ids(f.bobJoin), ids(f.create, f.powerLevels, f.aliceJoin), 6, 3000)
	f.mustAccept(pl2)

	ban := f.build(f.local, alice, event.TypeMember, strp(bob), `{"membership":"ban"}`,
		ids(pl2), ids(f.create, pl2, f.aliceJoin, f.bobJoin), 7, 3001)
	f.mustAccept(ban)

	// Bob renamed the room before the ban reached his server: a state
	// event, legal on the pre-ban frontier.
	name := f.build(f.remote, bob, event.TypeName, &empty, `{"name":"bobs room"}`,
		ids(pl2), ids(f.create, pl2, f.bobJoin), 7, 3002)

	outcome, err := f.p.Ingest(context.Background(), name)
	if outcome != OutcomeSoftFailed {
		t.Fatalf("banned user's raced state event should soft-fail, got %s: %v", outcome, err)
	}

	// Contained: in the graph, never in current state.
	state, err := f.p.CurrentState(f.roomID)
	if err != nil {
		t.Fatal(err)
	}
	if got := state.Get(event.TypeName, ""); got != "" {
		t.Fatalf("soft-failed state event %s must not surface in current state, got %s", name.EventID, got)
	}
	if got := state.Get(event.TypeMember, bob); got != ban.EventID {
		t.Fatalf("current membership for bob should be the ban %s, not %s", ban.EventID, got)
	}
}

func TestPowerThresholdRace(t *testing.T) {
	f := newPipelineFixture(t)
	f.bootstrapRoom()

	// Bob's first message lands before the threshold changes.
	msg1 := f.build(f.remote, bob, event.TypeMessage, nil, `{"body":"before"}`,
		ids(f.bobJoin), ids(f.create, f.powerLevels, f.bobJoin), 6, 3000)
	f.mustAccept(msg1)

	// Alice raises the send threshold above bob's level.
	empty := ""
	raised := f.build(f.local, alice, event.TypePowerLevels, &empty,
		`{"users":{"@alice:hearth.test":100},"users_default":0,"events_default":50}`,
		ids(msg1), ids(f.create, f.powerLevels, f.aliceJoin), 7, 3001)
	f.mustAccept(raised)

	// Bob's second message was authored before the raise reached him:
	// built on the old frontier, citing the old power levels.
	msg2 := f.build(f.remote, bob, event.TypeMessage, nil, `{"body":"after"}`,
		ids(msg1), ids(f.create, f.powerLevels, f.bobJoin), 7, 3002)

	outcome, err := f.p.Ingest(context.Background(), msg2)
	if outcome != OutcomeSoftFailed {
		t.Fatalf("raced message past a raised threshold should soft-fail, got %s: %v", outcome, err)
	}

	state, err := f.p.CurrentState(f.roomID)
	if err != nil {
		t.Fatal(err)
	}
	if got := state.Get(event.TypePowerLevels, ""); got != raised.EventID {
		t.Fatalf("current power levels should be %s, not %s", raised.EventID, got)
	}
}

func TestUnjoinedSenderRejected(t *testing.T) {
	f := newPipelineFixture(t)
	f.bootstrapRoom()

	msg := f.build(f.remote, carol, event.TypeMessage, nil, `{"body":"hi"}`,
		ids(f.bobJoin), ids(f.create, f.powerLevels), 6, 3000)

	outcome, err := f.p.Ingest(context.Background(), msg)
	if outcome != OutcomeRejected {
		t.Fatalf("message from unjoined sender should be rejected, got %s: %v", outcome, err)
	}
	if !auth.IsReject(err) {
		t.Fatalf("expected an authorization rejection, got %v", err)
	}

	status, _ := f.store.GetStatus(msg.EventID)
	if status != roomdag.StatusRejected {
		t.Fatalf("rejection should be recorded, got %v", status)
	}

	// Rejected events never become extremities.
	ext, _ := f.store.Extremities(f.roomID)
	if !reflect.DeepEqual(ext, ids(f.bobJoin)) {
		t.Fatalf("extremities should stay %v, got %v", ids(f.bobJoin), ext)
	}
}

func TestExtraneousAuthRefRejected(t *testing.T) {
	f := newPipelineFixture(t)
	f.bootstrapRoom()

	// Join rules are not an auth dependency of a plain message.
	msg := f.build(f.remote, bob, event.TypeMessage, nil, `{"body":"hi"}`,
		ids(f.bobJoin), ids(f.create, f.powerLevels, f.bobJoin, f.joinRules), 6, 3000)

	outcome, err := f.p.Ingest(context.Background(), msg)
	if outcome != OutcomeRejected {
		t.Fatalf("extraneous auth reference should be rejected, got %s: %v", outcome, err)
	}
	if !auth.IsStructuralReject(err) {
		t.Fatalf("expected a structural rejection, got %v", err)
	}
}

func TestOmittedAuthRefRejected(t *testing.T) {
	f := newPipelineFixture(t)
	f.bootstrapRoom()

	// Power levels exist in the room's state and must be referenced.
	msg := f.build(f.remote, bob, event.TypeMessage, nil, `{"body":"hi"}`,
		ids(f.bobJoin), ids(f.create, f.bobJoin), 6, 3000)

	outcome, err := f.p.Ingest(context.Background(), msg)
	if outcome != OutcomeRejected {
		t.Fatalf("omitted auth reference should be rejected, got %s: %v", outcome, err)
	}
	if !auth.IsStructuralReject(err) {
		t.Fatalf("expected a structural rejection, got %v", err)
	}
}

func TestTamperedContentRejected(t *testing.T) {
	f := newPipelineFixture(t)
	f.bootstrapRoom()

	msg := f.build(f.remote, bob, event.TypeMessage, nil, `{"body":"hi"}`,
		ids(f.bobJoin), ids(f.create, f.powerLevels, f.bobJoin), 6, 3000)
	msg.Content = json.RawMessage(`{"body":"tampered"}`)

	outcome, err := f.p.Ingest(context.Background(), msg)
	if outcome != OutcomeRejected {
		t.Fatalf("tampered content should be rejected, got %s: %v", outcome, err)
	}
	if !event.IsHashMismatch(err) {
		t.Fatalf("expected a hash mismatch, got %v", err)
	}
}

func TestForgedSignatureRejected(t *testing.T) {
	f := newPipelineFixture(t)
	f.bootstrapRoom()

	msg := f.build(f.remote, bob, event.TypeMessage, nil, `{"body":"hi"}`,
		ids(f.bobJoin), ids(f.create, f.powerLevels, f.bobJoin), 6, 3000)
	for keyID := range msg.Signatures[remoteName] {
		msg.Signatures[remoteName][keyID] = cm.EncodeUnpadded(make([]byte, ed25519.SignatureSize))
	}

	outcome, err := f.p.Ingest(context.Background(), msg)
	if outcome != OutcomeRejected {
		t.Fatalf("forged signature should be rejected, got %s: %v", outcome, err)
	}
	if !event.IsSignatureInvalid(err) {
		t.Fatalf("expected an invalid signature error, got %v", err)
	}
}

func TestAuthorCreateRoomAndSend(t *testing.T) {
	f := newPipelineFixture(t)
	author := NewAuthor(f.p, f.local.name, f.local.keyID, f.local.priv)

	roomID, err := author.CreateRoom(context.Background(), alice, "4")
	if err != nil {
		t.Fatal(err)
	}
	f.roomID = roomID

	msg, err := author.NewEvent(context.Background(), roomID, alice,
		event.TypeMessage, nil, json.RawMessage(`{"body":"hello"}`))
	if err != nil {
		t.Fatal(err)
	}

	state, err := f.p.CurrentState(roomID)
	if err != nil {
		t.Fatal(err)
	}
	if state.Get(event.TypeMember, alice) == "" {
		t.Fatal("creator should be joined")
	}

	timeline, err := f.store.Timeline(roomID, 1, event.MaxDepth)
	if err != nil {
		t.Fatal(err)
	}
	if len(timeline) != 3 {
		t.Fatalf("timeline should hold 3 events, not %d", len(timeline))
	}
	if timeline[len(timeline)-1].EventID != msg.EventID {
		t.Fatalf("message should be the newest timeline event")
	}
}

func TestStateBeforeAndAt(t *testing.T) {
	f := newPipelineFixture(t)
	f.bootstrapRoom()

	before, err := f.p.StateBefore(f.roomID, f.bobJoin.EventID)
	if err != nil {
		t.Fatal(err)
	}
	if before.Get(event.TypeMember, bob) != "" {
		t.Fatal("state before bob's join must not contain it")
	}

	at, err := f.p.StateAt(f.roomID, f.bobJoin.EventID)
	if err != nil {
		t.Fatal(err)
	}
	if at.Get(event.TypeMember, bob) != f.bobJoin.EventID {
		t.Fatal("state at bob's join must contain it")
	}
}

func TestIngestBatch(t *testing.T) {
	f := newPipelineFixture(t)

	events := f.bootstrapEvents()
	msg := f.build(f.remote, bob, event.TypeMessage, nil, `{"body":"hi"}`,
		ids(f.bobJoin), ids(f.create, f.powerLevels, f.bobJoin), 6, 2000)

	tampered := f.build(f.remote, bob, event.TypeMessage, nil, `{"body":"x"}`,
		ids(f.bobJoin), ids(f.create, f.powerLevels, f.bobJoin), 6, 2001)
	tampered.Content = json.RawMessage(`{"body":"y"}`)

	batch := append(append([]*event.Event{}, events...), msg, tampered)
	outcomes, err := f.p.IngestBatch(context.Background(), batch)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 6; i++ {
		if outcomes[i] != OutcomeAccepted {
			t.Fatalf("batch event %d should be accepted, got %s", i, outcomes[i])
		}
	}
	if outcomes[6] != OutcomeRejected {
		t.Fatalf("tampered batch event should be rejected, got %s", outcomes[6])
	}

	ext, _ := f.store.Extremities(f.roomID)
	if !reflect.DeepEqual(ext, ids(msg)) {
		t.Fatalf("extremities should be %v, not %v", ids(msg), ext)
	}
}

func TestBatchRejectionDoesNotBlockGenuineEvent(t *testing.T) {
	f := newPipelineFixture(t)
	f.bootstrapRoom()

	msg := f.build(f.remote, bob, event.TypeMessage, nil, `{"body":"real"}`,
		ids(f.bobJoin), ids(f.create, f.powerLevels, f.bobJoin), 6, 2000)

	// Garbage wearing the genuine event's id.
	forged := f.build(f.remote, bob, event.TypeMessage, nil, `{"body":"real"}`,
		ids(f.bobJoin), ids(f.create, f.powerLevels, f.bobJoin), 6, 2000)
	forged.Content = json.RawMessage(`{"body":"fake"}`)
	forged.EventID = msg.EventID

	outcomes, err := f.p.IngestBatch(context.Background(), []*event.Event{forged})
	if err != nil {
		t.Fatal(err)
	}
	if outcomes[0] != OutcomeRejected {
		t.Fatalf("forged event should be rejected, got %s", outcomes[0])
	}

	// The rejection must not have burned the claimed id.
	f.mustAccept(msg)
}

func TestStats(t *testing.T) {
	f := newPipelineFixture(t)
	f.bootstrapRoom()

	stats := f.p.Stats()
	if stats.Accepted != 5 {
		t.Fatalf("expected 5 accepted, got %d", stats.Accepted)
	}
	if stats.Rejected != 0 || stats.SoftFailed != 0 {
		t.Fatalf("unexpected verdicts in %+v", stats)
	}
}
