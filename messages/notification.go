// Package messages manages asynchronous status notifications. A notification
// is either standalone (one event, one id) or part of a thread: an ordered
// series of updates under a shared id, closed by a terminal "complete"
// message. Every event is persisted with a retention TTL and published on
// the notifications channel for realtime delivery.
package messages

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/citizenweb/kraken/errors"
	"github.com/citizenweb/kraken/storage"
)

// Level classifies a notification's severity.
type Level string

const (
	LevelDebug   Level = "debug"
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

const (
	// Channel carries every notification event for realtime subscribers
	Channel = "notifications"

	// TTL bounds how long notification records stay readable
	TTL = 7 * 24 * time.Hour

	keyPrefix    = "n:"
	threadPrefix = "n:thread:"

	idLength        = 16
	messageIDLength = 10
)

// Notification is a single status event. For thread members ID is the
// thread id and MessageID identifies the individual event.
type Notification struct {
	ID        string    `json:"id"`
	MessageID string    `json:"message_id,omitempty"`
	Level     Level     `json:"level"`
	Component string    `json:"comp"`
	Message   string    `json:"message"`
	Class     string    `json:"cls,omitempty"`
	Title     string    `json:"title,omitempty"`
	Complete  bool      `json:"complete"`
	Time      time.Time `json:"time"`
}

// New builds a notification ready to Send or attach to a thread. Class and
// Title are optional and set directly on the returned value.
func New(level Level, component, message string) *Notification {
	return &Notification{
		Level:     level,
		Component: component,
		Message:   message,
	}
}

func randomID(length int) string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:length]
}

// Send persists a standalone notification and publishes it, atomically.
// A missing id is assigned; standalone events are always complete.
func Send(ctx context.Context, store storage.Store, n *Notification) error {
	if n.ID == "" {
		n.ID = randomID(idLength)
	}
	if n.MessageID == "" {
		n.MessageID = n.ID
	}
	n.Complete = true
	if n.Time.IsZero() {
		n.Time = time.Now().UTC()
	}
	return errors.Wrapf(persist(ctx, store, n), "sending notification %s", n.ID)
}

// persist stores a standalone event and publishes it, atomically.
func persist(ctx context.Context, store storage.Store, n *Notification) error {
	key := keyPrefix + n.ID
	pipe := store.Pipeline()
	pipe.Set(key, n)
	pipe.Expire(key, TTL)
	pipe.Publish(Channel, n)
	return pipe.Exec(ctx)
}

// fromValue rebuilds a Notification from a decoded store value.
func fromValue(v interface{}) (*Notification, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "encoding stored notification")
	}
	var n Notification
	if err := json.Unmarshal(raw, &n); err != nil {
		return nil, errors.Wrap(err, "decoding stored notification")
	}
	return &n, nil
}

// GetNotification fetches a standalone notification. Returns ErrNotFound
// when the id is absent or expired.
func GetNotification(ctx context.Context, store storage.Store, id string) (*Notification, error) {
	v, err := store.Get(ctx, keyPrefix+id)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, errors.NotFoundf("notification %s", id)
	}
	return fromValue(v)
}

// GetThread returns a thread's events oldest-first. Returns ErrNotFound for
// an unknown or expired thread.
func GetThread(ctx context.Context, store storage.Store, threadID string) ([]*Notification, error) {
	ids, err := store.GetList(ctx, threadPrefix+threadID)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, errors.NotFoundf("notification thread %s", threadID)
	}
	events := make([]*Notification, 0, len(ids))
	for _, raw := range ids {
		mid, ok := raw.(string)
		if !ok {
			continue
		}
		v, err := store.Get(ctx, keyPrefix+threadID+":"+mid)
		if err != nil {
			return nil, err
		}
		if v == nil {
			// Member expired out from under the index; skip it.
			continue
		}
		n, err := fromValue(v)
		if err != nil {
			return nil, err
		}
		events = append(events, n)
	}
	if len(events) == 0 {
		return nil, errors.NotFoundf("notification thread %s", threadID)
	}
	return events, nil
}

// Latest returns a thread's most recent event, or ErrNotFound.
func Latest(ctx context.Context, store storage.Store, threadID string) (*Notification, error) {
	raw, err := store.Index(ctx, threadPrefix+threadID, -1)
	if err != nil {
		return nil, err
	}
	mid, ok := raw.(string)
	if !ok {
		return nil, errors.NotFoundf("notification thread %s", threadID)
	}
	v, err := store.Get(ctx, keyPrefix+threadID+":"+mid)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, errors.NotFoundf("notification thread %s", threadID)
	}
	return fromValue(v)
}

// List returns the most recent event of every live notification id,
// standalone and threaded alike, sorted by time ascending.
func List(ctx context.Context, store storage.Store) ([]*Notification, error) {
	keys, err := store.Scan(ctx, keyPrefix+"*")
	if err != nil {
		return nil, err
	}

	var latest []*Notification
	for _, key := range keys {
		rest := strings.TrimPrefix(key, keyPrefix)
		switch parts := strings.Split(rest, ":"); {
		case len(parts) == 1:
			n, err := GetNotification(ctx, store, rest)
			if err != nil {
				if errors.IsNotFound(err) {
					continue
				}
				return nil, err
			}
			latest = append(latest, n)
		case parts[0] == "thread":
			n, err := Latest(ctx, store, parts[1])
			if err != nil {
				if errors.IsNotFound(err) {
					continue
				}
				return nil, err
			}
			latest = append(latest, n)
		}
		// Thread member keys are covered via their thread index.
	}

	sort.Slice(latest, func(i, j int) bool {
		return latest[i].Time.Before(latest[j].Time)
	})
	return latest, nil
}

// DeleteNotification removes a standalone notification. Missing ids are
// ErrNotFound so HTTP deletion can 404.
func DeleteNotification(ctx context.Context, store storage.Store, id string) error {
	ok, err := store.Exists(ctx, keyPrefix+id)
	if err != nil {
		return err
	}
	if !ok {
		return errors.NotFoundf("notification %s", id)
	}
	return store.Delete(ctx, keyPrefix+id)
}

// DeleteThread removes a thread's index and every member event.
func DeleteThread(ctx context.Context, store storage.Store, threadID string) error {
	ids, err := store.GetList(ctx, threadPrefix+threadID)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return errors.NotFoundf("notification thread %s", threadID)
	}
	keys := make([]string, 0, len(ids)+1)
	for _, raw := range ids {
		if mid, ok := raw.(string); ok {
			keys = append(keys, keyPrefix+threadID+":"+mid)
		}
	}
	keys = append(keys, threadPrefix+threadID)
	return store.Delete(ctx, keys...)
}

// Delete removes a notification id whichever shape it has: thread first,
// then standalone.
func Delete(ctx context.Context, store storage.Store, id string) error {
	err := DeleteThread(ctx, store, id)
	if err == nil || !errors.IsNotFound(err) {
		return err
	}
	return DeleteNotification(ctx, store, id)
}

// DeleteAll clears every notification record.
func DeleteAll(ctx context.Context, store storage.Store) error {
	keys, err := store.Scan(ctx, keyPrefix+"*")
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return store.Delete(ctx, keys...)
}
