package event

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// Structural ceilings applied to every incoming event before any other
// processing. Hostile peers control every field, so sizes are bounded first.
const (
	// MaxEventBytes is the maximum canonical size of an event.
	MaxEventBytes = 65535

	// MaxPrevEvents bounds the number of DAG parents an event may declare.
	MaxPrevEvents = 20

	// MaxAuthEvents bounds the number of auth references an event may declare.
	MaxAuthEvents = 10

	// MaxDepth is the largest depth value carried forward. Depth is only a
	// tie-break hint, so clamping cannot affect correctness.
	MaxDepth = int64(1)<<53 - 1

	// MaxKeyLength bounds type and state_key strings.
	MaxKeyLength = 255
)

// Hashes carries the content hash of an event.
type Hashes struct {
	SHA256 string `json:"sha256"`
}

// Event is a protocol event (PDU): one node of a room's DAG. Events are
// immutable once created; only their acceptance status, tracked by the store,
// ever changes.
type Event struct {
	EventID        string                       `json:"event_id,omitempty"`
	RoomID         string                       `json:"room_id"`
	Sender         string                       `json:"sender"`
	Type           string                       `json:"type"`
	StateKey       *string                      `json:"state_key,omitempty"`
	Content        json.RawMessage              `json:"content"`
	PrevEvents     []string                     `json:"prev_events"`
	AuthEvents     []string                     `json:"auth_events"`
	Depth          int64                        `json:"depth"`
	OriginServerTS int64                        `json:"origin_server_ts"`
	Origin         string                       `json:"origin"`
	Hashes         Hashes                       `json:"hashes"`
	Signatures     map[string]map[string]string `json:"signatures,omitempty"`
	Unsigned       json.RawMessage              `json:"unsigned,omitempty"`
}

// Marshal returns the JSON encoding of an Event.
func (e *Event) Marshal() ([]byte, error) {
	var b bytes.Buffer
	enc := json.NewEncoder(&b)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(e); err != nil {
		return nil, err
	}
	return bytes.TrimRight(b.Bytes(), "\n"), nil
}

// Unmarshal converts a JSON encoded Event to an Event.
func (e *Event) Unmarshal(data []byte) error {
	return json.Unmarshal(data, e)
}

// IsState returns true if the event is a state event. The presence of
// state_key, even empty, marks a state event.
func (e *Event) IsState() bool {
	return e.StateKey != nil
}

// StateKeyValue returns the state key, or "" for non-state events.
func (e *Event) StateKeyValue() string {
	if e.StateKey == nil {
		return ""
	}
	return *e.StateKey
}

// Membership returns the "membership" key of a member event's content.
func (e *Event) Membership() string {
	return gjson.GetBytes(e.Content, "membership").String()
}

// JoinRule returns the "join_rule" key of a join-rules event's content.
func (e *Event) JoinRule() string {
	return gjson.GetBytes(e.Content, "join_rule").String()
}

// RoomVersionID returns the "room_version" key of a create event's content,
// defaulting to "1" when absent, as the legacy scheme predates the field.
func (e *Event) RoomVersionID() string {
	if v := gjson.GetBytes(e.Content, "room_version"); v.Exists() {
		return v.String()
	}
	return "1"
}

// ServerName extracts the server part of a user id, room id, or event id.
func ServerName(id string) string {
	if i := strings.IndexByte(id, ':'); i >= 0 {
		return id[i+1:]
	}
	return ""
}

// ValidateStructure applies the structural checks that gate the acceptance
// pipeline: field grammar, size ceilings, reference counts. It returns a
// FormatError describing the first violation.
func (e *Event) ValidateStructure() error {
	raw, err := e.Marshal()
	if err != nil {
		return NewFormatError(fmt.Sprintf("unencodable event: %v", err))
	}
	if len(raw) > MaxEventBytes {
		return NewFormatError(fmt.Sprintf("event too large: %d > %d bytes", len(raw), MaxEventBytes))
	}

	if e.RoomID == "" || e.RoomID[0] != '!' || ServerName(e.RoomID) == "" {
		return NewFormatError(fmt.Sprintf("malformed room_id %q", e.RoomID))
	}
	if e.Sender == "" || e.Sender[0] != '@' || ServerName(e.Sender) == "" {
		return NewFormatError(fmt.Sprintf("malformed sender %q", e.Sender))
	}
	if e.Type == "" || len(e.Type) > MaxKeyLength {
		return NewFormatError(fmt.Sprintf("malformed type %q", e.Type))
	}
	if e.StateKey != nil && len(*e.StateKey) > MaxKeyLength {
		return NewFormatError("state_key too long")
	}

	if len(e.Content) == 0 || !json.Valid(e.Content) {
		return NewFormatError("content is not valid JSON")
	}

	if len(e.PrevEvents) > MaxPrevEvents {
		return NewFormatError(fmt.Sprintf("too many prev_events: %d", len(e.PrevEvents)))
	}
	if len(e.AuthEvents) > MaxAuthEvents {
		return NewFormatError(fmt.Sprintf("too many auth_events: %d", len(e.AuthEvents)))
	}
	for _, id := range append(append([]string{}, e.PrevEvents...), e.AuthEvents...) {
		if id == "" || id[0] != '$' {
			return NewFormatError(fmt.Sprintf("malformed event reference %q", id))
		}
		if id == e.EventID && e.EventID != "" {
			return NewFormatError("event references itself")
		}
	}

	if e.Depth < 0 {
		return NewFormatError("negative depth")
	}
	if e.OriginServerTS < 0 {
		return NewFormatError("negative origin_server_ts")
	}

	// The create event is the only event allowed to have no parents.
	if e.Type != TypeCreate && len(e.PrevEvents) == 0 {
		return NewFormatError("non-create event without prev_events")
	}
	if e.Type == TypeCreate && (len(e.PrevEvents) != 0 || len(e.AuthEvents) != 0) {
		return NewFormatError("create event with parents")
	}

	return nil
}

// ClampDepth returns the depth to record for an event with the given parent
// depths.
func ClampDepth(maxParentDepth int64) int64 {
	d := maxParentDepth + 1
	if d > MaxDepth || d < 0 {
		return MaxDepth
	}
	return d
}
