package event

import (
	"fmt"

	"github.com/hearthnet/hearth/src/roomversion"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Top-level keys preserved by redaction, in every room version.
var redactKeepKeys = []string{
	"event_id",
	"type",
	"room_id",
	"sender",
	"state_key",
	"content",
	"prev_events",
	"auth_events",
	"depth",
	"origin",
	"origin_server_ts",
	"hashes",
	"signatures",
}

// contentKeepKeys returns the content keys preserved by redaction for a given
// event type. Everything else is stripped.
func contentKeepKeys(eventType string, rv roomversion.Version) []string {
	switch eventType {
	case TypeCreate:
		if rv.LegacyRedaction {
			return []string{"room_version", "creator"}
		}
		return []string{"room_version"}
	case TypeMember:
		if rv.AllowRestrictedJoins {
			return []string{"membership", "join_authorised_via_users_server"}
		}
		return []string{"membership"}
	case TypePowerLevels:
		return []string{
			"ban", "events", "events_default", "invite", "kick", "redact",
			"state_default", "users", "users_default",
		}
	case TypeJoinRules:
		if rv.AllowRestrictedJoins {
			return []string{"join_rule", "allow"}
		}
		return []string{"join_rule"}
	case TypeHistoryVisibility:
		return []string{"history_visibility"}
	default:
		return nil
	}
}

// RedactJSON applies the redaction algorithm to a raw JSON event: all but a
// protocol-defined minimal field set is stripped. The result is used both for
// hashing and for serving redacted events. Redaction is idempotent.
func RedactJSON(raw []byte, rv roomversion.Version) ([]byte, error) {
	if !gjson.ValidBytes(raw) {
		return nil, NewFormatError("redaction input is not valid JSON")
	}

	eventType := gjson.GetBytes(raw, "type").String()

	out := []byte("{}")
	var err error
	for _, key := range redactKeepKeys {
		v := gjson.GetBytes(raw, key)
		if !v.Exists() {
			continue
		}
		out, err = sjson.SetRawBytes(out, key, []byte(v.Raw))
		if err != nil {
			return nil, NewFormatError(fmt.Sprintf("redaction failed on %q: %v", key, err))
		}
	}

	content := []byte("{}")
	for _, key := range contentKeepKeys(eventType, rv) {
		v := gjson.GetBytes(raw, "content."+key)
		if !v.Exists() {
			continue
		}
		content, err = sjson.SetRawBytes(content, key, []byte(v.Raw))
		if err != nil {
			return nil, NewFormatError(fmt.Sprintf("redaction failed on content %q: %v", key, err))
		}
	}
	out, err = sjson.SetRawBytes(out, "content", content)
	if err != nil {
		return nil, NewFormatError(fmt.Sprintf("redaction failed: %v", err))
	}

	return out, nil
}

// Redact returns the redacted form of an event.
func (e *Event) Redact(rv roomversion.Version) (*Event, error) {
	raw, err := e.Marshal()
	if err != nil {
		return nil, NewFormatError(fmt.Sprintf("unencodable event: %v", err))
	}

	redacted, err := RedactJSON(raw, rv)
	if err != nil {
		return nil, err
	}

	res := new(Event)
	if err := res.Unmarshal(redacted); err != nil {
		return nil, NewFormatError(fmt.Sprintf("redacted form does not parse: %v", err))
	}
	return res, nil
}
