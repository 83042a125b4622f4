package stateres

import (
	"math"
	"sort"

	"github.com/hearthnet/hearth/src/event"
	"github.com/hearthnet/hearth/src/roomstate"
)

// maxMainlineWalk bounds every walk along power-levels ancestry. The inputs
// are hostile; a chain longer than this is treated as having no mainline
// ancestor.
const maxMainlineWalk = 1000

// buildMainline walks the resolved power-levels chain back to the create
// event and assigns positions: the create event is position 0, each later
// power event one higher.
func buildMainline(resolved roomstate.Snapshot, getEvent func(string) *event.Event) map[string]int {
	var chain []string

	cur := resolved.Get(event.TypePowerLevels, "")
	for i := 0; cur != "" && i < maxMainlineWalk; i++ {
		chain = append(chain, cur)
		cur = powerAncestor(cur, getEvent)
	}

	if createID := resolved.Get(event.TypeCreate, ""); createID != "" {
		chain = append(chain, createID)
	}

	// chain is newest-first; positions count from the create event.
	positions := make(map[string]int, len(chain))
	for i, id := range chain {
		positions[id] = len(chain) - 1 - i
	}
	return positions
}

// powerAncestor returns the power-levels (or create) event referenced by the
// auth events of the given event, which is the previous link of the mainline.
func powerAncestor(id string, getEvent func(string) *event.Event) string {
	e := getEvent(id)
	if e == nil {
		return ""
	}
	// Prefer the power-levels link; the create event only terminates the
	// chain when no power-levels event existed yet.
	createRef := ""
	for _, aid := range e.AuthEvents {
		ae := getEvent(aid)
		if ae == nil || ae.StateKeyValue() != "" {
			continue
		}
		switch ae.Type {
		case event.TypePowerLevels:
			return aid
		case event.TypeCreate:
			createRef = aid
		}
	}
	return createRef
}

// mainlinePosition finds the position of an event's nearest mainline
// ancestor, walking the power-levels ancestry with a bounded iterative loop.
// Events with no mainline ancestor sort last.
func mainlinePosition(e *event.Event, mainline map[string]int, getEvent func(string) *event.Event) int {
	cur := e.EventID
	for i := 0; cur != "" && i < maxMainlineWalk; i++ {
		if pos, ok := mainline[cur]; ok {
			return pos
		}
		cur = powerAncestor(cur, getEvent)
	}
	return math.MaxInt32
}

// orderByMainline sorts the non-power conflicted events by (ascending
// mainline position, ascending origin_server_ts, ascending event id).
func orderByMainline(events []*event.Event, mainline map[string]int, getEvent func(string) *event.Event) []*event.Event {
	type ranked struct {
		e   *event.Event
		pos int
	}

	rankedEvents := make([]ranked, 0, len(events))
	for _, e := range events {
		rankedEvents = append(rankedEvents, ranked{e: e, pos: mainlinePosition(e, mainline, getEvent)})
	}

	sort.Slice(rankedEvents, func(i, j int) bool {
		a, b := rankedEvents[i], rankedEvents[j]
		if a.pos != b.pos {
			return a.pos < b.pos
		}
		if a.e.OriginServerTS != b.e.OriginServerTS {
			return a.e.OriginServerTS < b.e.OriginServerTS
		}
		return a.e.EventID < b.e.EventID
	})

	res := make([]*event.Event, len(rankedEvents))
	for i, r := range rankedEvents {
		res[i] = r.e
	}
	return res
}
