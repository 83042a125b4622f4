package roomdag

import (
	"sort"

	"github.com/hearthnet/hearth/src/event"
)

// maxAncestryVisit bounds every ancestry traversal. The graph is
// adversarially contributed; a chain that exceeds the bound is cut off
// rather than followed.
const maxAncestryVisit = 100000

// AuthChain returns the transitive closure of the auth references of the
// given events: every ancestor reachable through auth_events links, sorted.
// Links to events the store does not hold are skipped. Traversal is
// iterative with an explicit worklist; a reference cycle simply terminates
// through the visited set and is surfaced separately by CheckAcyclic.
func AuthChain(s Store, ids []string) ([]string, error) {
	seen := map[string]bool{}
	frontier := append([]string{}, ids...)

	var res []string
	visits := 0
	for len(frontier) > 0 && visits < maxAncestryVisit {
		visits++
		id := frontier[0]
		frontier = frontier[1:]

		e, err := s.GetEvent(id)
		if err != nil {
			continue
		}
		for _, aid := range e.AuthEvents {
			if seen[aid] {
				continue
			}
			seen[aid] = true
			res = append(res, aid)
			frontier = append(frontier, aid)
		}
	}

	sort.Strings(res)
	return res, nil
}

// CheckAcyclic verifies that storing an event cannot close a reference
// cycle: the event's id must not appear anywhere in the ancestry reachable
// through its prev_events and auth_events. Content-derived ids make cycles
// impossible by construction; legacy explicit ids do not, so this is a
// hostile-input boundary check, not an assertion over well-formed data.
func CheckAcyclic(s Store, e *event.Event) error {
	seen := map[string]bool{}
	frontier := append(append([]string{}, e.PrevEvents...), e.AuthEvents...)

	visits := 0
	for len(frontier) > 0 && visits < maxAncestryVisit {
		visits++
		id := frontier[0]
		frontier = frontier[1:]

		if id == e.EventID {
			return event.NewFormatError("event is its own ancestor")
		}
		if seen[id] {
			continue
		}
		seen[id] = true

		ancestor, err := s.GetEvent(id)
		if err != nil {
			continue
		}
		frontier = append(frontier, ancestor.PrevEvents...)
		frontier = append(frontier, ancestor.AuthEvents...)
	}

	return nil
}
