package event

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/hearthnet/hearth/src/common"
	"github.com/hearthnet/hearth/src/crypto"
	"github.com/hearthnet/hearth/src/roomversion"
)

// ContentHash computes the hash recorded in the event's "hashes" key: the
// SHA256 of the canonical event with event_id, signatures, unsigned, and the
// hashes themselves stripped.
func (e *Event) ContentHash() (string, error) {
	raw, err := e.Marshal()
	if err != nil {
		return "", NewFormatError(fmt.Sprintf("unencodable event: %v", err))
	}

	canonical, err := CanonicalJSONWithout(raw, "event_id", "signatures", "unsigned", "hashes")
	if err != nil {
		return "", err
	}

	return common.EncodeUnpadded(crypto.SHA256(canonical)), nil
}

// AttachContentHash computes and records the content hash. Called once at
// creation time; incoming events carry theirs already.
func (e *Event) AttachContentHash() error {
	h, err := e.ContentHash()
	if err != nil {
		return err
	}
	e.Hashes = Hashes{SHA256: h}
	return nil
}

// VerifyHashes recomputes the content hash and compares it to the declared
// one. A mismatch means the event body was tampered with in transit.
func (e *Event) VerifyHashes() error {
	computed, err := e.ContentHash()
	if err != nil {
		return err
	}
	if e.Hashes.SHA256 != computed {
		return HashMismatchError{Declared: e.Hashes.SHA256, Computed: computed}
	}
	return nil
}

// ReferenceHash computes the SHA256 over the canonical redacted event with
// event_id, signatures, and unsigned stripped. It binds to everything the
// redaction algorithm preserves, including the content hash, so it transitively
// covers the full event body.
func (e *Event) ReferenceHash(rv roomversion.Version) ([]byte, error) {
	raw, err := e.Marshal()
	if err != nil {
		return nil, NewFormatError(fmt.Sprintf("unencodable event: %v", err))
	}

	redacted, err := RedactJSON(raw, rv)
	if err != nil {
		return nil, err
	}

	canonical, err := CanonicalJSONWithout(redacted, "event_id", "signatures", "unsigned")
	if err != nil {
		return nil, err
	}

	return crypto.SHA256(canonical), nil
}

// DeriveEventID returns the event's identifier under the room version's id
// scheme. For hash-id versions this is a pure function of the canonical
// redacted body: equal bodies always yield equal ids. For the legacy explicit
// scheme the declared id is returned as-is; NewExplicitEventID mints ids for
// locally created legacy events.
func (e *Event) DeriveEventID(rv roomversion.Version) (string, error) {
	if rv.ExplicitEventID {
		if e.EventID == "" {
			return "", NewFormatError("legacy event without explicit event_id")
		}
		return e.EventID, nil
	}

	ref, err := e.ReferenceHash(rv)
	if err != nil {
		return "", err
	}
	return "$" + common.EncodeURLSafe(ref), nil
}

// NewExplicitEventID mints an id for a locally created event in a legacy
// explicit-id room.
func NewExplicitEventID(origin string) string {
	return fmt.Sprintf("$%s:%s", uuid.NewString(), origin)
}

// AttachEventID derives and records the event id.
func (e *Event) AttachEventID(rv roomversion.Version) error {
	if rv.ExplicitEventID && e.EventID == "" {
		e.EventID = NewExplicitEventID(e.Origin)
		return nil
	}
	id, err := e.DeriveEventID(rv)
	if err != nil {
		return err
	}
	e.EventID = id
	return nil
}
