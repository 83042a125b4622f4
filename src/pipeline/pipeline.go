package pipeline

import (
	"context"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/hearthnet/hearth/src/event"
	"github.com/hearthnet/hearth/src/federation"
	"github.com/hearthnet/hearth/src/roomdag"
	"github.com/hearthnet/hearth/src/roomstate"
	"github.com/hearthnet/hearth/src/roomversion"
	"github.com/hearthnet/hearth/src/stateres"
)

const (
	rejectedCacheSize = 10000
	submitQueueSize   = 128
	batchValidators   = 8
)

// Stats counts pipeline verdicts since startup.
type Stats struct {
	Accepted   int64
	SoftFailed int64
	Rejected   int64
	Parked     int64
	Duplicate  int64
}

// Pipeline turns untrusted events into store writes. All writes for a room go
// through one writer at a time; different rooms proceed in parallel.
type Pipeline struct {
	store    roomdag.Store
	keys     event.KeyProvider
	client   federation.Client
	computer *StateComputer
	logger   *logrus.Entry

	// rejected remembers terminally refused ids beyond what the store
	// holds, so spam retransmissions die cheaply.
	rejected *lru.Cache[string, string]

	coreLock  sync.Mutex
	roomLocks map[string]*sync.Mutex
	// parked maps a missing dependency id to the events waiting on it.
	parked  map[string][]*event.Event
	workers map[string]chan *event.Event

	statsLock sync.Mutex
	stats     Stats

	shutdownCh chan struct{}
	wg         sync.WaitGroup
}

// NewPipeline creates a Pipeline. client may be a NopClient for nodes that
// never fetch.
func NewPipeline(store roomdag.Store, keys event.KeyProvider, client federation.Client, logger *logrus.Entry) *Pipeline {
	if logger == nil {
		log := logrus.New()
		log.Level = logrus.DebugLevel
		logger = logrus.NewEntry(log)
	}
	rejected, _ := lru.New[string, string](rejectedCacheSize)
	return &Pipeline{
		store:      store,
		keys:       keys,
		client:     client,
		computer:   NewStateComputer(store, logger),
		logger:     logger,
		rejected:   rejected,
		roomLocks:  make(map[string]*sync.Mutex),
		parked:     make(map[string][]*event.Event),
		workers:    make(map[string]chan *event.Event),
		shutdownCh: make(chan struct{}),
	}
}

// Stats returns a copy of the verdict counters.
func (p *Pipeline) Stats() Stats {
	p.statsLock.Lock()
	defer p.statsLock.Unlock()
	return p.stats
}

func (p *Pipeline) count(o Outcome) {
	p.statsLock.Lock()
	defer p.statsLock.Unlock()
	switch o {
	case OutcomeAccepted:
		p.stats.Accepted++
	case OutcomeSoftFailed:
		p.stats.SoftFailed++
	case OutcomeRejected:
		p.stats.Rejected++
	case OutcomeParked:
		p.stats.Parked++
	case OutcomeDuplicate:
		p.stats.Duplicate++
	}
}

func (p *Pipeline) roomLock(roomID string) *sync.Mutex {
	p.coreLock.Lock()
	defer p.coreLock.Unlock()
	lock, ok := p.roomLocks[roomID]
	if !ok {
		lock = new(sync.Mutex)
		p.roomLocks[roomID] = lock
	}
	return lock
}

// Ingest runs an event through the acceptance machine synchronously, holding
// the room's writer lock. Missing dependencies are fetched within a bounded
// frontier; what remains unobtainable parks the event for a later retry.
func (p *Pipeline) Ingest(ctx context.Context, e *event.Event) (Outcome, error) {
	lock := p.roomLock(e.RoomID)
	lock.Lock()
	defer lock.Unlock()

	outcome, err := p.ingestWithFetch(ctx, e)
	p.count(outcome)

	if outcome == OutcomeAccepted || outcome == OutcomeSoftFailed {
		p.settleParked(ctx, e.EventID)
	}
	return outcome, err
}

// ingestWithFetch attempts one ingestion, pulling missing dependencies from
// the event's origin when the first pass parks.
func (p *Pipeline) ingestWithFetch(ctx context.Context, e *event.Event) (Outcome, error) {
	outcome, err := p.ingestOne(ctx, e)
	if outcome != OutcomeParked {
		return outcome, err
	}

	missingErr, ok := err.(*MissingDependenciesError)
	if !ok {
		// Transient failure (key fetch, store); park on nothing and let
		// the submitter retry.
		return outcome, err
	}

	if p.client != nil {
		for _, anc := range p.fetchFrontier(ctx, e, missingErr.Missing) {
			o, ferr := p.ingestOne(ctx, anc)
			p.count(o)
			if o == OutcomeAccepted || o == OutcomeSoftFailed {
				p.settleParked(ctx, anc.EventID)
			} else if ferr != nil {
				p.logger.WithField("event_id", anc.EventID).
					WithError(ferr).Debug("Fetched ancestor not ingested")
			}
		}

		outcome, err = p.ingestOne(ctx, e)
		if outcome != OutcomeParked {
			return outcome, err
		}
		if me, ok := err.(*MissingDependenciesError); ok {
			missingErr = me
		}
	}

	p.park(e, missingErr.Missing)
	return OutcomeParked, missingErr
}

// park registers an event under each of its missing dependencies. Called with
// the room lock held.
func (p *Pipeline) park(e *event.Event, missing []string) {
	p.coreLock.Lock()
	defer p.coreLock.Unlock()
	for _, dep := range missing {
		waiters := p.parked[dep]
		dup := false
		for _, w := range waiters {
			if w == e {
				dup = true
				break
			}
		}
		if !dup {
			p.parked[dep] = append(p.parked[dep], e)
		}
	}
}

// settleParked re-ingests events that were waiting on newly landed ids,
// cascading through the park table. Called with the room lock held.
func (p *Pipeline) settleParked(ctx context.Context, landed string) {
	queue := []string{landed}
	for len(queue) > 0 {
		dep := queue[0]
		queue = queue[1:]

		p.coreLock.Lock()
		waiters := p.parked[dep]
		delete(p.parked, dep)
		p.coreLock.Unlock()

		for _, w := range waiters {
			outcome, err := p.ingestOne(ctx, w)
			p.count(outcome)
			switch outcome {
			case OutcomeAccepted, OutcomeSoftFailed:
				queue = append(queue, w.EventID)
			case OutcomeParked:
				if me, ok := err.(*MissingDependenciesError); ok {
					p.park(w, me.Missing)
				}
			}
		}
	}
}

// IngestBatch runs a batch through the acceptance machine. Structural and
// hash checks are pure, so they run in parallel ahead of the serialized
// per-room ingestion; events failing them are rejected without taking the
// room lock. Outcomes are returned in input order.
func (p *Pipeline) IngestBatch(ctx context.Context, events []*event.Event) ([]Outcome, error) {
	precheck := make([]error, len(events))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(batchValidators)
	for i, e := range events {
		i, e := i, e
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if err := e.ValidateStructure(); err != nil {
				precheck[i] = err
				return nil
			}
			precheck[i] = e.VerifyHashes()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	outcomes := make([]Outcome, len(events))
	for i, e := range events {
		if err := precheck[i]; err != nil {
			// The claimed id is unverified at this point; caching it
			// would let garbage carrying a legitimate event's id block
			// the genuine event. Structural rejections are never cached,
			// here or in ingestOne.
			p.count(OutcomeRejected)
			p.logger.WithField("event_id", e.EventID).
				WithError(err).Debug("Batch event failed validation")
			outcomes[i] = OutcomeRejected
			continue
		}
		outcome, err := p.Ingest(ctx, e)
		if err != nil && outcome == OutcomeRejected {
			p.logger.WithField("event_id", e.EventID).
				WithError(err).Debug("Batch event rejected")
		}
		outcomes[i] = outcome
	}
	return outcomes, nil
}

// Submit hands an event to the room's writer goroutine, starting one on first
// use. It never blocks longer than the queue.
func (p *Pipeline) Submit(e *event.Event) {
	p.coreLock.Lock()
	ch, ok := p.workers[e.RoomID]
	if !ok {
		ch = make(chan *event.Event, submitQueueSize)
		p.workers[e.RoomID] = ch
		p.wg.Add(1)
		go p.runWorker(e.RoomID, ch)
	}
	p.coreLock.Unlock()

	select {
	case ch <- e:
	case <-p.shutdownCh:
	}
}

func (p *Pipeline) runWorker(roomID string, ch chan *event.Event) {
	defer p.wg.Done()
	logger := p.logger.WithField("room_id", roomID)
	for {
		select {
		case e := <-ch:
			outcome, err := p.Ingest(context.Background(), e)
			entry := logger.WithFields(logrus.Fields{
				"event_id": e.EventID,
				"outcome":  outcome.String(),
			})
			if err != nil && outcome != OutcomeAccepted {
				entry = entry.WithError(err)
			}
			entry.Debug("Ingested event")
		case <-p.shutdownCh:
			return
		}
	}
}

// Shutdown stops the room workers. Queued events that were not picked up yet
// are dropped; peers retransmit.
func (p *Pipeline) Shutdown() {
	close(p.shutdownCh)
	p.wg.Wait()
}

// CurrentState returns the resolved room state at the current forward
// extremities.
func (p *Pipeline) CurrentState(roomID string) (roomstate.Snapshot, error) {
	info, err := p.store.GetRoomInfo(roomID)
	if err != nil {
		return nil, err
	}
	rv, err := roomversion.Lookup(info.Version)
	if err != nil {
		return nil, err
	}

	extremities, err := p.store.Extremities(roomID)
	if err != nil {
		return nil, err
	}

	snapshots := make([]roomstate.Snapshot, 0, len(extremities))
	for _, id := range extremities {
		snap, err := p.computer.StateAfter(rv, id)
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, snap)
	}

	switch len(snapshots) {
	case 0:
		return roomstate.New(), nil
	case 1:
		return snapshots[0].Copy(), nil
	}
	return stateres.Resolve(rv, snapshots, newStoreGraph(p.store), p.logger), nil
}

// StateAt returns the room state after a stored event.
func (p *Pipeline) StateAt(roomID, eventID string) (roomstate.Snapshot, error) {
	rv, err := p.roomVersion(roomID)
	if err != nil {
		return nil, err
	}
	return p.computer.StateAfter(rv, eventID)
}

// StateBefore returns the room state a stored event was evaluated against.
func (p *Pipeline) StateBefore(roomID, eventID string) (roomstate.Snapshot, error) {
	rv, err := p.roomVersion(roomID)
	if err != nil {
		return nil, err
	}
	e, err := p.store.GetEvent(eventID)
	if err != nil {
		return nil, err
	}
	return p.computer.StateBefore(rv, e)
}

func (p *Pipeline) roomVersion(roomID string) (roomversion.Version, error) {
	info, err := p.store.GetRoomInfo(roomID)
	if err != nil {
		return roomversion.Version{}, err
	}
	return roomversion.Lookup(info.Version)
}
