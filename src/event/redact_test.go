package event

import (
	"encoding/json"
	"reflect"
	"testing"

	"github.com/tidwall/gjson"
)

func TestRedactStripsContent(t *testing.T) {
	rv := mustVersion(t, "4")

	e := dummyEvent()
	e.Unsigned = json.RawMessage(`{"age":100}`)
	if err := e.AttachContentHash(); err != nil {
		t.Fatalf("Error attaching content hash: %s", err)
	}

	redacted, err := e.Redact(rv)
	if err != nil {
		t.Fatalf("Error redacting event: %s", err)
	}

	if string(redacted.Content) != "{}" {
		t.Fatalf("Message content should be fully stripped, got %s", redacted.Content)
	}
	if redacted.Unsigned != nil {
		t.Fatalf("Unsigned should be stripped, got %s", redacted.Unsigned)
	}
	if redacted.RoomID != e.RoomID || redacted.Sender != e.Sender || redacted.Depth != e.Depth {
		t.Fatalf("Redaction must preserve the protocol fields")
	}
	if redacted.Hashes.SHA256 != e.Hashes.SHA256 {
		t.Fatalf("Redaction must preserve the content hash")
	}
}

func TestRedactKeepsMembershipOnly(t *testing.T) {
	rv := mustVersion(t, "2")

	e := dummyEvent()
	e.Type = TypeMember
	e.StateKey = strptr("@bob:example.org")
	e.Content = json.RawMessage(`{"membership":"join","displayname":"Bob","avatar_url":"mxc://x"}`)

	redacted, err := e.Redact(rv)
	if err != nil {
		t.Fatalf("Error redacting event: %s", err)
	}

	var content map[string]interface{}
	if err := json.Unmarshal(redacted.Content, &content); err != nil {
		t.Fatalf("Error parsing redacted content: %s", err)
	}
	if !reflect.DeepEqual(content, map[string]interface{}{"membership": "join"}) {
		t.Fatalf("Expected only the membership key, got %v", content)
	}
}

func TestRedactPowerLevelsKeepsTables(t *testing.T) {
	rv := mustVersion(t, "4")

	e := dummyEvent()
	e.Type = TypePowerLevels
	e.StateKey = strptr("")
	e.Content = json.RawMessage(`{"users":{"@alice:example.org":100},"users_default":0,"events":{"m.room.name":50},"ban":50,"custom_junk":"x"}`)

	redacted, err := e.Redact(rv)
	if err != nil {
		t.Fatalf("Error redacting event: %s", err)
	}

	if gjson.GetBytes(redacted.Content, "users.@alice:example\\.org").Int() != 100 {
		t.Fatalf("Power level users table lost: %s", redacted.Content)
	}
	if gjson.GetBytes(redacted.Content, "custom_junk").Exists() {
		t.Fatalf("Unlisted content key survived redaction")
	}
}

func TestRedactLegacyCreateKeepsCreator(t *testing.T) {
	e := dummyEvent()
	e.Type = TypeCreate
	e.StateKey = strptr("")
	e.PrevEvents = nil
	e.AuthEvents = nil
	e.Content = json.RawMessage(`{"creator":"@alice:example.org","junk":1}`)

	legacy, err := e.Redact(mustVersion(t, "1"))
	if err != nil {
		t.Fatalf("Error redacting event: %s", err)
	}
	if gjson.GetBytes(legacy.Content, "creator").String() != "@alice:example.org" {
		t.Fatalf("Legacy redaction must keep creator, got %s", legacy.Content)
	}

	modern, err := e.Redact(mustVersion(t, "4"))
	if err != nil {
		t.Fatalf("Error redacting event: %s", err)
	}
	if gjson.GetBytes(modern.Content, "creator").Exists() {
		t.Fatalf("Modern redaction must strip creator, got %s", modern.Content)
	}
}

func TestRedactIdempotent(t *testing.T) {
	rv := mustVersion(t, "4")

	events := []*Event{dummyEvent()}

	member := dummyEvent()
	member.Type = TypeMember
	member.StateKey = strptr("@bob:example.org")
	member.Content = json.RawMessage(`{"membership":"ban","reason":"spam"}`)
	events = append(events, member)

	pl := dummyEvent()
	pl.Type = TypePowerLevels
	pl.StateKey = strptr("")
	pl.Content = json.RawMessage(`{"users_default":0,"ban":50}`)
	events = append(events, pl)

	for _, e := range events {
		once, err := e.Redact(rv)
		if err != nil {
			t.Fatalf("Error redacting event: %s", err)
		}
		twice, err := once.Redact(rv)
		if err != nil {
			t.Fatalf("Error redacting redacted event: %s", err)
		}

		rawOnce, _ := once.Marshal()
		rawTwice, _ := twice.Marshal()
		onceCanonical, _ := CanonicalJSON(rawOnce)
		twiceCanonical, _ := CanonicalJSON(rawTwice)
		if string(onceCanonical) != string(twiceCanonical) {
			t.Fatalf("Redaction is not idempotent for %s:\n%s\n%s", e.Type, onceCanonical, twiceCanonical)
		}
	}
}
