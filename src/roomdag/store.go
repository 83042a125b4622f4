// Package roomdag stores room DAGs: append-only, content-addressed events
// with their acceptance status, per-room depth indices, forward extremities,
// and write-once cached state snapshots.
package roomdag

import (
	"bytes"

	"github.com/hearthnet/hearth/src/event"
	"github.com/hearthnet/hearth/src/roomstate"
	"github.com/ugorji/go/codec"
)

// RoomInfo records the immutable facts about a room, fixed by its create
// event.
type RoomInfo struct {
	RoomID        string
	Version       string
	CreateEventID string
}

// Marshal returns the JSON encoding of a RoomInfo.
func (r *RoomInfo) Marshal() ([]byte, error) {
	b := new(bytes.Buffer)
	jh := new(codec.JsonHandle)
	enc := codec.NewEncoder(b, jh)
	if err := enc.Encode(r); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

// Unmarshal parses a RoomInfo from its JSON encoding.
func (r *RoomInfo) Unmarshal(data []byte) error {
	b := bytes.NewBuffer(data)
	jh := new(codec.JsonHandle)
	dec := codec.NewDecoder(b, jh)
	return dec.Decode(r)
}

// Store is an interface for backend stores.
type Store interface {
	// CacheSize retrieves the cacheSize setting that determines the
	// maximum number of items that the derived-data caches can contain.
	CacheSize() int
	// SetRoomInfo records a room's immutable facts. Idempotent; changing
	// an existing record is rejected.
	SetRoomInfo(info *RoomInfo) error
	// GetRoomInfo returns a room's record.
	GetRoomInfo(roomID string) (*RoomInfo, error)
	// PutEvent inserts an event with a status. Idempotent for identical
	// resubmission; a backward status change is a ConflictingStatus error.
	PutEvent(e *event.Event, status EventStatus) error
	// GetEvent returns an event by id.
	GetEvent(id string) (*event.Event, error)
	// GetStatus returns the acceptance status of a stored event.
	GetStatus(id string) (EventStatus, error)
	// HasEvent reports whether an event id is stored, whatever its status.
	HasEvent(id string) bool
	// Extremities returns the room's forward extremities: accepted events
	// with no accepted children.
	Extremities(roomID string) ([]string, error)
	// UpdateExtremities folds a newly accepted event into the room's
	// forward extremities.
	UpdateExtremities(roomID string, accepted *event.Event) error
	// Timeline returns the room's accepted events with fromDepth <= depth
	// <= toDepth, ordered by (depth, event id).
	Timeline(roomID string, fromDepth, toDepth int64) ([]*event.Event, error)
	// GetSnapshot returns the cached state snapshot after an event.
	GetSnapshot(eventID string) (roomstate.Snapshot, error)
	// SetSnapshot caches the state snapshot after an event, write-once.
	SetSnapshot(eventID string, snap roomstate.Snapshot) error
	// Close closes the underlying database.
	Close() error
}
