package pipeline

import (
	"context"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/hearthnet/hearth/src/event"
)

const (
	// maxFetchEvents bounds how many ancestors one parked event may pull
	// in. A hostile peer advertising a bottomless history hits this wall,
	// not our memory.
	maxFetchEvents = 100
	// maxFetchHops bounds how many dependency generations the frontier
	// walks back.
	maxFetchHops = 10
)

// fetchFrontier pulls the missing ancestry of an event from its origin
// server, breadth-first and bounded. The result is ordered ancestors-first so
// the caller can ingest it directly. Unobtainable events are simply absent;
// the caller parks on whatever is still missing.
func (p *Pipeline) fetchFrontier(ctx context.Context, e *event.Event, missing []string) []*event.Event {
	origin := e.Origin
	if origin == "" {
		origin = event.ServerName(e.Sender)
	}
	if origin == "" {
		return nil
	}

	logger := p.logger.WithFields(logrus.Fields{
		"room_id": e.RoomID,
		"origin":  origin,
	})

	fetched := make(map[string]*event.Event)
	frontier := missing

	for hop := 0; hop < maxFetchHops && len(frontier) > 0; hop++ {
		var next []string
		for _, id := range frontier {
			if len(fetched) >= maxFetchEvents {
				logger.WithField("budget", maxFetchEvents).
					Warning("Ancestry fetch budget exhausted")
				frontier = nil
				break
			}
			if _, ok := fetched[id]; ok || p.store.HasEvent(id) {
				continue
			}

			anc, err := p.client.FetchEvent(ctx, origin, e.RoomID, id)
			if err != nil {
				logger.WithField("event_id", id).WithError(err).
					Debug("Ancestor fetch failed")
				continue
			}
			if anc == nil || anc.RoomID != e.RoomID {
				continue
			}
			fetched[id] = anc

			for _, dep := range append(append([]string{}, anc.PrevEvents...), anc.AuthEvents...) {
				if _, ok := fetched[dep]; !ok && !p.store.HasEvent(dep) {
					next = append(next, dep)
				}
			}
		}
		frontier = next
	}

	res := make([]*event.Event, 0, len(fetched))
	for _, anc := range fetched {
		res = append(res, anc)
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].Depth != res[j].Depth {
			return res[i].Depth < res[j].Depth
		}
		return res[i].EventID < res[j].EventID
	})
	return res
}
