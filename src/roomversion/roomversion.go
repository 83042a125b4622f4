// Package roomversion defines the per-room ruleset descriptors. A room's
// version is fixed at creation time and selects the event-id scheme, the
// redaction algorithm variant, and the authorization-rule extensions that
// apply to every event in the room. Every version-sensitive operation takes
// the descriptor explicitly rather than dispatching at runtime.
package roomversion

import "fmt"

// Version describes the ruleset of a room version.
type Version struct {
	// ID is the version identifier carried in the create event's content.
	ID string

	// ExplicitEventID indicates the legacy id scheme where the event id is
	// an explicit "$opaque:origin" field rather than a content hash. The id
	// does not bind to the content under this scheme; the reference hash
	// still does.
	ExplicitEventID bool

	// LegacyRedaction keeps the "creator" key in redacted create events.
	LegacyRedaction bool

	// AllowKnocking enables the "knock" membership and join rule.
	AllowKnocking bool

	// AllowRestrictedJoins enables the "restricted" join rule.
	AllowRestrictedJoins bool
}

// UnknownVersionError is returned when a room declares a version this server
// does not implement.
type UnknownVersionError struct {
	ID string
}

// Error implements the error interface
func (e UnknownVersionError) Error() string {
	return fmt.Sprintf("unknown room version %q", e.ID)
}

// IsUnknownVersion checks that an error is an UnknownVersionError.
func IsUnknownVersion(err error) bool {
	_, ok := err.(UnknownVersionError)
	return ok
}

var registry = map[string]Version{
	"1": {ID: "1", ExplicitEventID: true, LegacyRedaction: true},
	"2": {ID: "2"},
	"3": {ID: "3", AllowKnocking: true},
	"4": {ID: "4", AllowKnocking: true, AllowRestrictedJoins: true},
}

// DefaultVersion is the version assigned to newly created rooms.
const DefaultVersion = "4"

// Lookup returns the descriptor for a version identifier.
func Lookup(id string) (Version, error) {
	v, ok := registry[id]
	if !ok {
		return Version{}, UnknownVersionError{ID: id}
	}
	return v, nil
}

// Default returns the descriptor used for newly created rooms.
func Default() Version {
	v, _ := Lookup(DefaultVersion)
	return v
}

// Supported returns the identifiers of all supported versions.
func Supported() []string {
	res := make([]string, 0, len(registry))
	for id := range registry {
		res = append(res, id)
	}
	return res
}
