package auth

import (
	"github.com/hearthnet/hearth/src/event"
	"github.com/tidwall/gjson"
)

// powerLevels is the parsed view of a power-levels event's content, with the
// protocol defaults filled in. The zero value is never used directly; always
// go through loadPowerLevels.
type powerLevels struct {
	present bool

	usersDefault  int64
	eventsDefault int64
	stateDefault  int64
	ban           int64
	kick          int64
	redact        int64
	invite        int64

	users  map[string]int64
	events map[string]int64
}

// loadPowerLevels parses the power-levels event out of a state snapshot. When
// the room has no power-levels event yet, thresholds collapse to zero except
// for the moderation actions, and the creator's level comes from userLevel.
func loadPowerLevels(s StateProvider) powerLevels {
	pl := powerLevels{
		ban:    50,
		kick:   50,
		redact: 50,
		users:  map[string]int64{},
		events: map[string]int64{},
	}

	plEvent := s.PowerLevels()
	if plEvent == nil {
		return pl
	}
	pl.present = true
	pl.stateDefault = 50

	content := plEvent.Content
	pl.usersDefault = intOr(content, "users_default", pl.usersDefault)
	pl.eventsDefault = intOr(content, "events_default", pl.eventsDefault)
	pl.stateDefault = intOr(content, "state_default", pl.stateDefault)
	pl.ban = intOr(content, "ban", pl.ban)
	pl.kick = intOr(content, "kick", pl.kick)
	pl.redact = intOr(content, "redact", pl.redact)
	pl.invite = intOr(content, "invite", pl.invite)

	gjson.GetBytes(content, "users").ForEach(func(k, v gjson.Result) bool {
		pl.users[k.String()] = v.Int()
		return true
	})
	gjson.GetBytes(content, "events").ForEach(func(k, v gjson.Result) bool {
		pl.events[k.String()] = v.Int()
		return true
	})

	return pl
}

func intOr(content []byte, key string, def int64) int64 {
	if v := gjson.GetBytes(content, key); v.Exists() {
		return v.Int()
	}
	return def
}

// userLevel returns a user's effective power level. Without a power-levels
// event the creator holds level 100 and everyone else 0.
func (pl powerLevels) userLevel(create *event.Event, userID string) int64 {
	if level, ok := pl.users[userID]; ok {
		return level
	}
	if !pl.present && create != nil && creatorOf(create) == userID {
		return 100
	}
	return pl.usersDefault
}

// requiredLevel returns the level needed to send an event of the given type.
func (pl powerLevels) requiredLevel(eventType string, isState bool) int64 {
	if level, ok := pl.events[eventType]; ok {
		return level
	}
	if isState {
		return pl.stateDefault
	}
	return pl.eventsDefault
}

// UserPowerLevel returns a user's effective power level under a state view.
// It is the hook state resolution uses to order power events.
func UserPowerLevel(s StateProvider, userID string) int64 {
	pl := loadPowerLevels(s)
	return pl.userLevel(s.Create(), userID)
}

// creatorOf returns the creating user of a room. Legacy create events carry a
// "creator" content key; later versions use the sender.
func creatorOf(create *event.Event) string {
	if c := gjson.GetBytes(create.Content, "creator"); c.Exists() {
		return c.String()
	}
	return create.Sender
}

// authorizePowerLevelChange applies the stricter rules for replacing the
// power-levels event: a sender may not grant any level above their own, may
// not demote a peer at their own level, and may only demote themselves.
func authorizePowerLevelChange(e *event.Event, create *event.Event, old powerLevels, senderLevel int64) error {
	newUsers := map[string]int64{}
	gjson.GetBytes(e.Content, "users").ForEach(func(k, v gjson.Result) bool {
		newUsers[k.String()] = v.Int()
		return true
	})
	newEvents := map[string]int64{}
	gjson.GetBytes(e.Content, "events").ForEach(func(k, v gjson.Result) bool {
		newEvents[k.String()] = v.Int()
		return true
	})

	// Threshold keys follow the same rule as user levels: no change may
	// cross above the sender's own level, in either direction.
	thresholds := []string{"users_default", "events_default", "state_default", "ban", "kick", "redact", "invite"}
	oldVals := map[string]int64{
		"users_default":  old.usersDefault,
		"events_default": old.eventsDefault,
		"state_default":  old.stateDefault,
		"ban":            old.ban,
		"kick":           old.kick,
		"redact":         old.redact,
		"invite":         old.invite,
	}
	for _, key := range thresholds {
		newVal := intOr(e.Content, key, oldVals[key])
		if err := checkLevelChange(oldVals[key], newVal, senderLevel); err != nil {
			return err
		}
	}

	for eventType, newVal := range newEvents {
		if err := checkLevelChange(old.requiredLevel(eventType, false), newVal, senderLevel); err != nil {
			return err
		}
	}

	// Users removed from the table fall back to users_default; users added
	// rise from it. Every transition is checked against the sender's level.
	allUsers := map[string]bool{}
	for u := range old.users {
		allUsers[u] = true
	}
	for u := range newUsers {
		allUsers[u] = true
	}

	for u := range allUsers {
		oldVal := old.userLevel(create, u)
		newVal, ok := newUsers[u]
		if !ok {
			newVal = intOr(e.Content, "users_default", old.usersDefault)
		}
		if oldVal == newVal {
			continue
		}

		if newVal > senderLevel {
			return reject("cannot raise %s above own level %d", u, senderLevel)
		}
		if u != e.Sender && oldVal >= senderLevel {
			return reject("cannot change level of %s at or above own level %d", u, senderLevel)
		}
	}

	return nil
}

func checkLevelChange(oldVal, newVal, senderLevel int64) error {
	if oldVal == newVal {
		return nil
	}
	if oldVal > senderLevel {
		return reject("cannot change a threshold above own level %d", senderLevel)
	}
	if newVal > senderLevel {
		return reject("cannot raise a threshold above own level %d", senderLevel)
	}
	return nil
}
