// Package roomstate defines the state snapshot: the mapping from
// (event_type, state_key) pairs to event ids that describes a room's state at
// one point of its DAG. Snapshots are value types; the store caches them
// write-once per event id and they are never mutated in place.
package roomstate

import (
	"bytes"
	"sort"

	"github.com/ugorji/go/codec"
)

// Key identifies one entry of a snapshot.
type Key struct {
	Type     string
	StateKey string
}

// Snapshot maps state keys to event ids.
type Snapshot map[Key]string

// New creates an empty Snapshot.
func New() Snapshot {
	return make(Snapshot)
}

// Copy creates a clone of a Snapshot.
func (s Snapshot) Copy() Snapshot {
	res := make(Snapshot, len(s))
	for k, v := range s {
		res[k] = v
	}
	return res
}

// Get returns the event id for a (type, state_key) pair, or "".
func (s Snapshot) Get(eventType, stateKey string) string {
	return s[Key{Type: eventType, StateKey: stateKey}]
}

// Set records an event id for a (type, state_key) pair.
func (s Snapshot) Set(eventType, stateKey, eventID string) {
	s[Key{Type: eventType, StateKey: stateKey}] = eventID
}

// EventIDs returns all event ids referenced by the snapshot, sorted.
func (s Snapshot) EventIDs() []string {
	res := make([]string, 0, len(s))
	for _, id := range s {
		res = append(res, id)
	}
	sort.Strings(res)
	return res
}

// Equal reports whether two snapshots contain the same entries.
func (s Snapshot) Equal(other Snapshot) bool {
	if len(s) != len(other) {
		return false
	}
	for k, v := range s {
		if other[k] != v {
			return false
		}
	}
	return true
}

// Partition splits the union of keys across the input snapshots into the
// unconflicted part (same event id in every snapshot that has the key, copied
// to the result unchanged) and the conflicted part (keys whose ids differ, or
// that are absent from some snapshot while present in another).
func Partition(snapshots []Snapshot) (unconflicted Snapshot, conflicted map[Key][]string) {
	unconflicted = New()
	conflicted = make(map[Key][]string)

	seen := make(map[Key]map[string]bool)
	for _, snap := range snapshots {
		for k, id := range snap {
			if seen[k] == nil {
				seen[k] = make(map[string]bool)
			}
			seen[k][id] = true
		}
	}

	for k, ids := range seen {
		if len(ids) == 1 && presentInAll(snapshots, k) {
			for id := range ids {
				unconflicted[k] = id
			}
			continue
		}
		list := make([]string, 0, len(ids))
		for id := range ids {
			list = append(list, id)
		}
		sort.Strings(list)
		conflicted[k] = list
	}

	return unconflicted, conflicted
}

func presentInAll(snapshots []Snapshot, k Key) bool {
	for _, snap := range snapshots {
		if _, ok := snap[k]; !ok {
			return false
		}
	}
	return true
}

// entry is the serialized form of one snapshot entry.
type entry struct {
	Type     string
	StateKey string
	EventID  string
}

// Marshal returns a deterministic JSON encoding of the Snapshot for store
// persistence: entries sorted by (type, state_key).
func (s Snapshot) Marshal() ([]byte, error) {
	entries := make([]entry, 0, len(s))
	for k, id := range s {
		entries = append(entries, entry{Type: k.Type, StateKey: k.StateKey, EventID: id})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Type != entries[j].Type {
			return entries[i].Type < entries[j].Type
		}
		return entries[i].StateKey < entries[j].StateKey
	})

	b := new(bytes.Buffer)
	jh := new(codec.JsonHandle)

	enc := codec.NewEncoder(b, jh)
	if err := enc.Encode(entries); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// Unmarshal parses a Snapshot from its serialized form.
func (s Snapshot) Unmarshal(data []byte) error {
	b := bytes.NewBuffer(data)
	jh := new(codec.JsonHandle)

	var entries []entry
	dec := codec.NewDecoder(b, jh)
	if err := dec.Decode(&entries); err != nil {
		return err
	}

	for _, e := range entries {
		s[Key{Type: e.Type, StateKey: e.StateKey}] = e.EventID
	}
	return nil
}
