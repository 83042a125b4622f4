package pipeline

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hearthnet/hearth/src/auth"
	"github.com/hearthnet/hearth/src/event"
	"github.com/hearthnet/hearth/src/roomversion"
)

// Author builds, signs, and ingests locally originated events. Authored
// events take the same acceptance path as federated ones; nothing enters the
// store unvetted.
type Author struct {
	pipeline   *Pipeline
	serverName string
	keyID      string
	priv       ed25519.PrivateKey
}

// NewAuthor creates an Author signing with the given server key.
func NewAuthor(p *Pipeline, serverName, keyID string, priv ed25519.PrivateKey) *Author {
	return &Author{
		pipeline:   p,
		serverName: serverName,
		keyID:      keyID,
		priv:       priv,
	}
}

// CreateRoom creates a new room in the given version and joins the creator.
// It returns the room id.
func (a *Author) CreateRoom(ctx context.Context, creator, versionID string) (string, error) {
	if versionID == "" {
		versionID = roomversion.DefaultVersion
	}
	rv, err := roomversion.Lookup(versionID)
	if err != nil {
		return "", err
	}

	roomID := fmt.Sprintf("!%s:%s", uuid.NewString(), a.serverName)

	content, err := json.Marshal(map[string]string{
		"room_version": versionID,
		"creator":      creator,
	})
	if err != nil {
		return "", err
	}

	emptyKey := ""
	create := &event.Event{
		RoomID:         roomID,
		Sender:         creator,
		Type:           event.TypeCreate,
		StateKey:       &emptyKey,
		Content:        content,
		Depth:          1,
		OriginServerTS: time.Now().UnixMilli(),
		Origin:         a.serverName,
	}
	if err := a.finishAndIngest(ctx, rv, create); err != nil {
		return "", err
	}

	joinContent, err := json.Marshal(map[string]string{"membership": event.MembershipJoin})
	if err != nil {
		return "", err
	}
	_, err = a.NewEvent(ctx, roomID, creator, event.TypeMember, &creator, joinContent)
	if err != nil {
		return "", err
	}
	return roomID, nil
}

// NewEvent authors an event on top of the room's current forward extremities
// and runs it through the pipeline. Anything short of acceptance is an error:
// a local author racing itself has no author's-view excuse.
func (a *Author) NewEvent(ctx context.Context, roomID, sender, eventType string, stateKey *string, content json.RawMessage) (*event.Event, error) {
	rv, err := a.pipeline.roomVersion(roomID)
	if err != nil {
		return nil, err
	}

	extremities, err := a.pipeline.store.Extremities(roomID)
	if err != nil {
		return nil, err
	}
	if len(extremities) == 0 {
		return nil, fmt.Errorf("room %s has no extremities to extend", roomID)
	}
	if len(extremities) > event.MaxPrevEvents {
		extremities = extremities[:event.MaxPrevEvents]
	}

	var maxParentDepth int64
	for _, id := range extremities {
		parent, err := a.pipeline.store.GetEvent(id)
		if err != nil {
			return nil, err
		}
		if parent.Depth > maxParentDepth {
			maxParentDepth = parent.Depth
		}
	}

	e := &event.Event{
		RoomID:         roomID,
		Sender:         sender,
		Type:           eventType,
		StateKey:       stateKey,
		Content:        content,
		PrevEvents:     extremities,
		Depth:          event.ClampDepth(maxParentDepth),
		OriginServerTS: time.Now().UnixMilli(),
		Origin:         a.serverName,
	}

	state, err := a.pipeline.CurrentState(roomID)
	if err != nil {
		return nil, err
	}
	for _, k := range auth.NeededAuthKeys(e) {
		if id := state.Get(k.Type, k.StateKey); id != "" {
			e.AuthEvents = append(e.AuthEvents, id)
		}
	}

	if err := a.finishAndIngest(ctx, rv, e); err != nil {
		return nil, err
	}
	return e, nil
}

func (a *Author) finishAndIngest(ctx context.Context, rv roomversion.Version, e *event.Event) error {
	if err := e.AttachContentHash(); err != nil {
		return err
	}
	if err := e.AttachEventID(rv); err != nil {
		return err
	}
	if err := e.Sign(rv, a.serverName, a.keyID, a.priv); err != nil {
		return err
	}

	outcome, err := a.pipeline.Ingest(ctx, e)
	if outcome != OutcomeAccepted {
		if err == nil {
			err = fmt.Errorf("outcome %s", outcome)
		}
		return fmt.Errorf("authored event %s not accepted: %w", e.EventID, err)
	}
	return nil
}
