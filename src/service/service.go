package service

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/hearthnet/hearth/src/event"
	"github.com/hearthnet/hearth/src/pipeline"
	"github.com/hearthnet/hearth/src/roomdag"
	"github.com/hearthnet/hearth/src/roomstate"
)

// Service exposes the node's rooms over a JSON HTTP API: reading state,
// timelines, and single events, and submitting new events into the pipeline.
type Service struct {
	sync.Mutex

	bindAddress string
	pipeline    *pipeline.Pipeline
	store       roomdag.Store
	logger      *logrus.Entry
}

// NewService ...
func NewService(bindAddress string, p *pipeline.Pipeline, store roomdag.Store, logger *logrus.Entry) *Service {
	service := Service{
		bindAddress: bindAddress,
		pipeline:    p,
		store:       store,
		logger:      logger,
	}

	service.registerHandlers()

	return &service
}

// registerHandlers registers the API handlers with the DefaultServerMux of
// the http package, so an embedding application sharing the same
// address:port sees them too.
func (s *Service) registerHandlers() {
	s.logger.Debug("Registering API handlers")
	http.HandleFunc("/stats", s.makeHandler(s.GetStats))
	http.HandleFunc("/state/", s.makeHandler(s.GetState))
	http.HandleFunc("/statebefore/", s.makeHandler(s.GetStateBefore))
	http.HandleFunc("/event/", s.makeHandler(s.GetEvent))
	http.HandleFunc("/timeline/", s.makeHandler(s.GetTimeline))
	http.HandleFunc("/extremities/", s.makeHandler(s.GetExtremities))
	http.HandleFunc("/ingest", s.makeHandler(s.PostIngest))
}

func (s *Service) makeHandler(fn func(http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.Lock()
		defer s.Unlock()

		// enable CORS
		w.Header().Set("Access-Control-Allow-Origin", "*")

		fn(w, r)
	}
}

// Serve calls ListenAndServe on the DefaultServerMux. This is a blocking
// call.
func (s *Service) Serve() {
	s.logger.WithField("bind_address", s.bindAddress).Debug("Serving API")

	err := http.ListenAndServe(s.bindAddress, nil)
	if err != nil {
		s.logger.Error(err)
	}
}

// GetStats ...
func (s *Service) GetStats(w http.ResponseWriter, r *http.Request) {
	stats := s.pipeline.Stats()

	w.Header().Set("Content-Type", "application/json")

	json.NewEncoder(w).Encode(stats)
}

// GetState returns the resolved current state of a room as a list of state
// events.
func (s *Service) GetState(w http.ResponseWriter, r *http.Request) {
	roomID := r.URL.Path[len("/state/"):]

	state, err := s.pipeline.CurrentState(roomID)
	if err != nil {
		s.logger.WithError(err).Errorf("Retrieving state of %s", roomID)
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	s.writeSnapshot(w, state)
}

// GetStateBefore returns the state a stored event was evaluated against. The
// path carries "{roomID}/{eventID}".
func (s *Service) GetStateBefore(w http.ResponseWriter, r *http.Request) {
	param := r.URL.Path[len("/statebefore/"):]

	parts := strings.SplitN(param, "/", 2)
	if len(parts) != 2 {
		http.Error(w, "expected /statebefore/{room_id}/{event_id}", http.StatusBadRequest)
		return
	}

	state, err := s.pipeline.StateBefore(parts[0], parts[1])
	if err != nil {
		s.logger.WithError(err).Errorf("Retrieving state before %s", parts[1])
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	s.writeSnapshot(w, state)
}

func (s *Service) writeSnapshot(w http.ResponseWriter, state roomstate.Snapshot) {
	events := []*event.Event{}
	for _, id := range state.EventIDs() {
		if e, err := s.store.GetEvent(id); err == nil {
			events = append(events, e)
		}
	}

	w.Header().Set("Content-Type", "application/json")

	json.NewEncoder(w).Encode(events)
}

// GetEvent ...
func (s *Service) GetEvent(w http.ResponseWriter, r *http.Request) {
	eventID := r.URL.Path[len("/event/"):]

	e, err := s.store.GetEvent(eventID)
	if err != nil {
		s.logger.WithError(err).Errorf("Retrieving event %s", eventID)
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	status, err := s.store.GetStatus(eventID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")

	json.NewEncoder(w).Encode(struct {
		Event  *event.Event `json:"event"`
		Status string       `json:"status"`
	}{e, status.String()})
}

// GetTimeline returns the accepted events of a room in a depth window. The
// window is set with from and to query parameters.
func (s *Service) GetTimeline(w http.ResponseWriter, r *http.Request) {
	roomID := r.URL.Path[len("/timeline/"):]

	from := int64(1)
	to := event.MaxDepth
	if v := r.URL.Query().Get("from"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		from = n
	}
	if v := r.URL.Query().Get("to"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		to = n
	}

	timeline, err := s.store.Timeline(roomID, from, to)
	if err != nil {
		s.logger.WithError(err).Errorf("Retrieving timeline of %s", roomID)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")

	json.NewEncoder(w).Encode(timeline)
}

// GetExtremities ...
func (s *Service) GetExtremities(w http.ResponseWriter, r *http.Request) {
	roomID := r.URL.Path[len("/extremities/"):]

	extremities, err := s.store.Extremities(roomID)
	if err != nil {
		s.logger.WithError(err).Errorf("Retrieving extremities of %s", roomID)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")

	json.NewEncoder(w).Encode(extremities)
}

// PostIngest submits an event into the acceptance pipeline and reports the
// outcome.
func (s *Service) PostIngest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}

	var e event.Event
	if err := json.NewDecoder(r.Body).Decode(&e); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	outcome, err := s.pipeline.Ingest(r.Context(), &e)

	res := struct {
		EventID string `json:"event_id"`
		Outcome string `json:"outcome"`
		Reason  string `json:"reason,omitempty"`
	}{EventID: e.EventID, Outcome: outcome.String()}
	if err != nil && outcome != pipeline.OutcomeAccepted {
		res.Reason = err.Error()
	}

	w.Header().Set("Content-Type", "application/json")

	json.NewEncoder(w).Encode(res)
}
