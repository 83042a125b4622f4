package roomdag

import (
	"fmt"
	"os"

	"github.com/dgraph-io/badger"
	cm "github.com/hearthnet/hearth/src/common"
	"github.com/hearthnet/hearth/src/event"
	"github.com/hearthnet/hearth/src/roomstate"
)

const (
	eventPrefix    = "event"
	statusPrefix   = "status"
	roomInfoPrefix = "roominfo"
	snapshotPrefix = "snapshot"
)

// BadgerStore provides durable storage on top of an InmemStore: every write
// goes to both, and a restarted node rebuilds the in-memory indices from the
// database.
type BadgerStore struct {
	inmemStore    *InmemStore
	db            *badger.DB
	path          string
	needBootstrap bool
}

// NewBadgerStore creates a brand new Store with a new database.
func NewBadgerStore(cacheSize int, path string) (*BadgerStore, error) {
	handle, err := badger.Open(badger.DefaultOptions(path).WithSyncWrites(false).WithLogger(nil))
	if err != nil {
		return nil, err
	}
	store := &BadgerStore{
		inmemStore: NewInmemStore(cacheSize),
		db:         handle,
		path:       path,
	}
	return store, nil
}

// LoadBadgerStore creates a Store from an existing database.
func LoadBadgerStore(cacheSize int, path string) (*BadgerStore, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}

	handle, err := badger.Open(badger.DefaultOptions(path).WithSyncWrites(false).WithLogger(nil))
	if err != nil {
		return nil, err
	}
	store := &BadgerStore{
		inmemStore:    NewInmemStore(cacheSize),
		db:            handle,
		path:          path,
		needBootstrap: true,
	}

	if err := store.bootstrap(); err != nil {
		store.db.Close()
		return nil, err
	}

	return store, nil
}

// LoadOrCreateBadgerStore loads an existing database or creates a new one.
func LoadOrCreateBadgerStore(cacheSize int, path string) (*BadgerStore, error) {
	store, err := LoadBadgerStore(cacheSize, path)
	if err == nil {
		return store, nil
	}
	return NewBadgerStore(cacheSize, path)
}

// NeedBootstrap reports whether the store was loaded from an existing
// database.
func (s *BadgerStore) NeedBootstrap() bool {
	return s.needBootstrap
}

// StorePath returns the filepath of the underlying database.
func (s *BadgerStore) StorePath() string {
	return s.path
}

// bootstrap replays the database into the in-memory indices: room records
// first, then events ordered by depth so that children index after parents.
func (s *BadgerStore) bootstrap() error {
	if err := s.replayPrefix(roomInfoPrefix, func(_ string, val []byte) error {
		info := new(RoomInfo)
		if err := info.Unmarshal(val); err != nil {
			return err
		}
		return s.inmemStore.SetRoomInfo(info)
	}); err != nil {
		return err
	}

	type entry struct {
		e      *event.Event
		status EventStatus
	}
	var entries []entry

	if err := s.replayPrefix(eventPrefix, func(key string, val []byte) error {
		e := new(event.Event)
		if err := e.Unmarshal(val); err != nil {
			return err
		}
		status, err := s.dbGetStatus(e.EventID)
		if err != nil {
			return err
		}
		entries = append(entries, entry{e: e, status: status})
		return nil
	}); err != nil {
		return err
	}

	// Insert ancestors first so extremity bookkeeping replays correctly.
	for i := 0; i < len(entries); i++ {
		for j := i + 1; j < len(entries); j++ {
			if entries[j].e.Depth < entries[i].e.Depth {
				entries[i], entries[j] = entries[j], entries[i]
			}
		}
	}
	for _, en := range entries {
		if err := s.inmemStore.PutEvent(en.e, en.status); err != nil {
			return err
		}
		if extendsDAG(en.status) {
			if err := s.inmemStore.UpdateExtremities(en.e.RoomID, en.e); err != nil {
				return err
			}
		}
	}

	return nil
}

func (s *BadgerStore) replayPrefix(prefix string, fn func(key string, val []byte) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		defer it.Close()

		p := []byte(prefix + "|")
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			item := it.Item()
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if err := fn(string(item.Key()), val); err != nil {
				return err
			}
		}
		return nil
	})
}

/*******************************************************************************
Store interface: every method hits the in-memory store first (it carries the
same validation rules) and then persists.
*******************************************************************************/

// CacheSize implements the Store interface.
func (s *BadgerStore) CacheSize() int {
	return s.inmemStore.CacheSize()
}

// SetRoomInfo implements the Store interface.
func (s *BadgerStore) SetRoomInfo(info *RoomInfo) error {
	if err := s.inmemStore.SetRoomInfo(info); err != nil {
		return err
	}
	val, err := info.Marshal()
	if err != nil {
		return err
	}
	return s.dbSet(roomInfoKey(info.RoomID), val)
}

// GetRoomInfo implements the Store interface.
func (s *BadgerStore) GetRoomInfo(roomID string) (*RoomInfo, error) {
	return s.inmemStore.GetRoomInfo(roomID)
}

// PutEvent implements the Store interface.
func (s *BadgerStore) PutEvent(e *event.Event, status EventStatus) error {
	if err := s.inmemStore.PutEvent(e, status); err != nil {
		return err
	}

	val, err := e.Marshal()
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(eventKey(e.EventID), val); err != nil {
			return err
		}
		return txn.Set(statusKey(e.EventID), []byte{byte(status)})
	})
}

// GetEvent implements the Store interface.
func (s *BadgerStore) GetEvent(id string) (*event.Event, error) {
	if e, err := s.inmemStore.GetEvent(id); err == nil {
		return e, nil
	}

	val, err := s.dbGet(eventKey(id))
	if err != nil {
		return nil, cm.NewStoreErr("Event", cm.KeyNotFound, id)
	}
	e := new(event.Event)
	if err := e.Unmarshal(val); err != nil {
		return nil, err
	}
	return e, nil
}

// GetStatus implements the Store interface.
func (s *BadgerStore) GetStatus(id string) (EventStatus, error) {
	if status, err := s.inmemStore.GetStatus(id); err == nil {
		return status, nil
	}
	return s.dbGetStatus(id)
}

// HasEvent implements the Store interface.
func (s *BadgerStore) HasEvent(id string) bool {
	if s.inmemStore.HasEvent(id) {
		return true
	}
	_, err := s.dbGet(eventKey(id))
	return err == nil
}

// Extremities implements the Store interface.
func (s *BadgerStore) Extremities(roomID string) ([]string, error) {
	return s.inmemStore.Extremities(roomID)
}

// UpdateExtremities implements the Store interface.
func (s *BadgerStore) UpdateExtremities(roomID string, accepted *event.Event) error {
	return s.inmemStore.UpdateExtremities(roomID, accepted)
}

// Timeline implements the Store interface.
func (s *BadgerStore) Timeline(roomID string, fromDepth, toDepth int64) ([]*event.Event, error) {
	return s.inmemStore.Timeline(roomID, fromDepth, toDepth)
}

// GetSnapshot implements the Store interface.
func (s *BadgerStore) GetSnapshot(eventID string) (roomstate.Snapshot, error) {
	if snap, err := s.inmemStore.GetSnapshot(eventID); err == nil {
		return snap, nil
	}

	val, err := s.dbGet(snapshotKey(eventID))
	if err != nil {
		return nil, cm.NewStoreErr("Snapshot", cm.KeyNotFound, eventID)
	}
	snap := roomstate.New()
	if err := snap.Unmarshal(val); err != nil {
		return nil, err
	}
	// repopulate the cache
	s.inmemStore.SetSnapshot(eventID, snap)
	return snap, nil
}

// SetSnapshot implements the Store interface.
func (s *BadgerStore) SetSnapshot(eventID string, snap roomstate.Snapshot) error {
	if err := s.inmemStore.SetSnapshot(eventID, snap); err != nil {
		return err
	}
	val, err := snap.Marshal()
	if err != nil {
		return err
	}
	return s.dbSet(snapshotKey(eventID), val)
}

// Close implements the Store interface.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

/*******************************************************************************
DB helpers
*******************************************************************************/

func eventKey(id string) []byte {
	return []byte(fmt.Sprintf("%s|%s", eventPrefix, id))
}

func statusKey(id string) []byte {
	return []byte(fmt.Sprintf("%s|%s", statusPrefix, id))
}

func roomInfoKey(roomID string) []byte {
	return []byte(fmt.Sprintf("%s|%s", roomInfoPrefix, roomID))
}

func snapshotKey(eventID string) []byte {
	return []byte(fmt.Sprintf("%s|%s", snapshotPrefix, eventID))
}

func (s *BadgerStore) dbGet(key []byte) ([]byte, error) {
	var val []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	return val, err
}

func (s *BadgerStore) dbSet(key, val []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, val)
	})
}

func (s *BadgerStore) dbGetStatus(id string) (EventStatus, error) {
	val, err := s.dbGet(statusKey(id))
	if err != nil || len(val) != 1 {
		return StatusPending, cm.NewStoreErr("EventStatus", cm.KeyNotFound, id)
	}
	return EventStatus(val[0]), nil
}
