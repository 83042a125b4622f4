package roomdag

import (
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	cm "github.com/hearthnet/hearth/src/common"
	"github.com/hearthnet/hearth/src/event"
	"github.com/hearthnet/hearth/src/roomstate"
)

// InmemStore implements the Store interface in memory. Events, statuses, and
// indices are held in full; derived data (state snapshots) sits in an LRU
// cache and is recomputed on miss, which is safe because snapshot computation
// is pure.
type InmemStore struct {
	sync.RWMutex

	cacheSize int

	events   map[string]*event.Event
	statuses map[string]EventStatus
	rooms    map[string]*RoomInfo

	extremities map[string]map[string]bool
	// acceptedChildren counts accepted children per event; an accepted
	// event with a zero count is a forward extremity.
	acceptedChildren map[string]int

	// byDepth indexes accepted event ids by room and depth for timeline
	// range scans.
	byDepth map[string]map[int64][]string

	snapshotCache *lru.Cache[string, roomstate.Snapshot]
}

// NewInmemStore creates a new InmemStore where the derived-data caches are
// limited to cacheSize items.
func NewInmemStore(cacheSize int) *InmemStore {
	snapshotCache, _ := lru.New[string, roomstate.Snapshot](cacheSize)

	return &InmemStore{
		cacheSize:        cacheSize,
		events:           make(map[string]*event.Event),
		statuses:         make(map[string]EventStatus),
		rooms:            make(map[string]*RoomInfo),
		extremities:      make(map[string]map[string]bool),
		acceptedChildren: make(map[string]int),
		byDepth:          make(map[string]map[int64][]string),
		snapshotCache:    snapshotCache,
	}
}

// CacheSize implements the Store interface.
func (s *InmemStore) CacheSize() int {
	return s.cacheSize
}

// SetRoomInfo implements the Store interface.
func (s *InmemStore) SetRoomInfo(info *RoomInfo) error {
	s.Lock()
	defer s.Unlock()

	if existing, ok := s.rooms[info.RoomID]; ok {
		if *existing != *info {
			return cm.NewStoreErr("RoomInfo", cm.KeyAlreadyExists, info.RoomID)
		}
		return nil
	}
	s.rooms[info.RoomID] = info
	return nil
}

// GetRoomInfo implements the Store interface.
func (s *InmemStore) GetRoomInfo(roomID string) (*RoomInfo, error) {
	s.RLock()
	defer s.RUnlock()

	info, ok := s.rooms[roomID]
	if !ok {
		return nil, cm.NewStoreErr("RoomInfo", cm.UnknownRoom, roomID)
	}
	return info, nil
}

// PutEvent implements the Store interface.
func (s *InmemStore) PutEvent(e *event.Event, status EventStatus) error {
	s.Lock()
	defer s.Unlock()

	return s.putEvent(e, status)
}

func (s *InmemStore) putEvent(e *event.Event, status EventStatus) error {
	existing, ok := s.events[e.EventID]
	if ok {
		// Same id with a different body: the id scheme was violated.
		// Content-hash ids make this impossible; explicit legacy ids do
		// not, so the store refuses the spoof.
		if existing.Hashes.SHA256 != e.Hashes.SHA256 {
			return cm.NewStoreErr("Event", cm.KeyAlreadyExists, e.EventID)
		}

		current := s.statuses[e.EventID]
		if current == status {
			return nil
		}
		if !CanTransition(current, status) {
			return cm.NewStoreErr("Event", cm.ConflictingStatus, e.EventID)
		}
		s.statuses[e.EventID] = status
		s.indexEvent(existing, current, status)
		return nil
	}

	s.events[e.EventID] = e
	s.statuses[e.EventID] = status
	s.indexEvent(e, StatusPending, status)
	return nil
}

// extendsDAG reports whether a status makes an event part of the live graph.
// Accepted and soft-failed events extend the DAG; rejected and pending events
// never do.
func extendsDAG(status EventStatus) bool {
	return status == StatusAccepted || status == StatusSoftFailed
}

// indexEvent maintains the depth index and live-children counts across a
// status change.
func (s *InmemStore) indexEvent(e *event.Event, from, to EventStatus) {
	if !extendsDAG(from) && extendsDAG(to) {
		for _, parent := range e.PrevEvents {
			s.acceptedChildren[parent]++
		}
	}

	// The timeline only surfaces accepted events.
	if from != StatusAccepted && to == StatusAccepted {
		if s.byDepth[e.RoomID] == nil {
			s.byDepth[e.RoomID] = make(map[int64][]string)
		}
		s.byDepth[e.RoomID][e.Depth] = append(s.byDepth[e.RoomID][e.Depth], e.EventID)
	}
}

// GetEvent implements the Store interface.
func (s *InmemStore) GetEvent(id string) (*event.Event, error) {
	s.RLock()
	defer s.RUnlock()

	e, ok := s.events[id]
	if !ok {
		return nil, cm.NewStoreErr("Event", cm.KeyNotFound, id)
	}
	return e, nil
}

// GetStatus implements the Store interface.
func (s *InmemStore) GetStatus(id string) (EventStatus, error) {
	s.RLock()
	defer s.RUnlock()

	status, ok := s.statuses[id]
	if !ok {
		return StatusPending, cm.NewStoreErr("EventStatus", cm.KeyNotFound, id)
	}
	return status, nil
}

// HasEvent implements the Store interface.
func (s *InmemStore) HasEvent(id string) bool {
	s.RLock()
	defer s.RUnlock()

	_, ok := s.events[id]
	return ok
}

// Extremities implements the Store interface.
func (s *InmemStore) Extremities(roomID string) ([]string, error) {
	s.RLock()
	defer s.RUnlock()

	set := s.extremities[roomID]
	res := make([]string, 0, len(set))
	for id := range set {
		res = append(res, id)
	}
	sort.Strings(res)
	return res, nil
}

// UpdateExtremities implements the Store interface. The accepted event's
// parents stop being extremities; the event itself becomes one unless an
// already-stored accepted event lists it as a parent.
func (s *InmemStore) UpdateExtremities(roomID string, accepted *event.Event) error {
	s.Lock()
	defer s.Unlock()

	if s.extremities[roomID] == nil {
		s.extremities[roomID] = make(map[string]bool)
	}
	set := s.extremities[roomID]

	for _, parent := range accepted.PrevEvents {
		delete(set, parent)
	}
	if s.acceptedChildren[accepted.EventID] == 0 {
		set[accepted.EventID] = true
	}
	return nil
}

// Timeline implements the Store interface.
func (s *InmemStore) Timeline(roomID string, fromDepth, toDepth int64) ([]*event.Event, error) {
	s.RLock()
	defer s.RUnlock()

	depths := s.byDepth[roomID]

	var ids []string
	for depth, list := range depths {
		if depth < fromDepth || depth > toDepth {
			continue
		}
		ids = append(ids, list...)
	}

	sort.Slice(ids, func(i, j int) bool {
		a, b := s.events[ids[i]], s.events[ids[j]]
		if a.Depth != b.Depth {
			return a.Depth < b.Depth
		}
		return a.EventID < b.EventID
	})

	res := make([]*event.Event, len(ids))
	for i, id := range ids {
		res[i] = s.events[id]
	}
	return res, nil
}

// GetSnapshot implements the Store interface.
func (s *InmemStore) GetSnapshot(eventID string) (roomstate.Snapshot, error) {
	if snap, ok := s.snapshotCache.Get(eventID); ok {
		return snap, nil
	}
	return nil, cm.NewStoreErr("Snapshot", cm.KeyNotFound, eventID)
}

// SetSnapshot implements the Store interface. Snapshots are pure functions
// of their event id, so a concurrent identical write is a no-op; writing a
// different snapshot under the same id is refused.
func (s *InmemStore) SetSnapshot(eventID string, snap roomstate.Snapshot) error {
	if existing, ok := s.snapshotCache.Get(eventID); ok {
		if !existing.Equal(snap) {
			return cm.NewStoreErr("Snapshot", cm.SnapshotExists, eventID)
		}
		return nil
	}
	s.snapshotCache.Add(eventID, snap)
	return nil
}

// Close implements the Store interface.
func (s *InmemStore) Close() error {
	return nil
}
