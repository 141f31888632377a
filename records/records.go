// Package records synchronizes server-side model state to clients. Every
// change goes out twice: published for realtime subscribers and buffered in
// a store list for clients that poll. The two paths are independent, so a
// websocket client and a polling client each see every change exactly once
// on their own path.
package records

import (
	"context"

	"go.uber.org/zap"

	"github.com/citizenweb/kraken/errors"
	"github.com/citizenweb/kraken/storage"
)

const (
	// PushChannel carries {model: [record]} payloads for realtime clients
	PushChannel = "records:push"
	// PurgeChannel carries {"model": ..., "id": ...} payloads
	PurgeChannel = "records:purge"

	pushBuffer  = "records:pushes"
	purgeBuffer = "records:purges"
)

// Purge identifies a record removed from a model.
type Purge struct {
	Model string `json:"model"`
	ID    string `json:"id"`
}

// Update is the result of draining the poll buffers.
type Update struct {
	Pushes map[string][]interface{} `json:"pushes"`
	Purges []Purge                  `json:"purges"`
}

// Pusher fans model changes out to realtime and polling clients.
type Pusher struct {
	store  storage.Store
	logger *zap.SugaredLogger
}

func NewPusher(store storage.Store, logger *zap.SugaredLogger) *Pusher {
	return &Pusher{
		store:  store,
		logger: logger.Named("records"),
	}
}

// Push announces a created or updated record of the named model.
func (p *Pusher) Push(ctx context.Context, model string, record interface{}) error {
	pipe := p.store.Pipeline()
	pipe.Append(pushBuffer, map[string]interface{}{
		"model":  model,
		"record": record,
	})
	pipe.Publish(PushChannel, map[string]interface{}{
		model: []interface{}{record},
	})
	if err := pipe.Exec(ctx); err != nil {
		return errors.Wrapf(err, "pushing %s record", model)
	}
	p.logger.Debugw("Record pushed", "model", model)
	return nil
}

// Remove announces that a record no longer exists.
func (p *Pusher) Remove(ctx context.Context, model, id string) error {
	purge := Purge{Model: model, ID: id}
	pipe := p.store.Pipeline()
	pipe.Append(purgeBuffer, purge)
	pipe.Publish(PurgeChannel, purge)
	if err := pipe.Exec(ctx); err != nil {
		return errors.Wrapf(err, "purging %s record %s", model, id)
	}
	p.logger.Debugw("Record purged", "model", model, "id", id)
	return nil
}

// Drain empties the poll buffers and returns their contents, pushes grouped
// by model. A drained change is gone; the next Drain starts empty.
func (p *Pusher) Drain(ctx context.Context) (*Update, error) {
	pushes, err := p.store.GetList(ctx, pushBuffer)
	if err != nil {
		return nil, err
	}
	purges, err := p.store.GetList(ctx, purgeBuffer)
	if err != nil {
		return nil, err
	}
	if err := p.store.Delete(ctx, pushBuffer, purgeBuffer); err != nil {
		return nil, err
	}

	update := &Update{
		Pushes: make(map[string][]interface{}),
		Purges: make([]Purge, 0, len(purges)),
	}
	for _, raw := range pushes {
		entry, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		model, ok := entry["model"].(string)
		if !ok {
			continue
		}
		update.Pushes[model] = append(update.Pushes[model], entry["record"])
	}
	for _, raw := range purges {
		entry, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		purge := Purge{}
		purge.Model, _ = entry["model"].(string)
		purge.ID, _ = entry["id"].(string)
		update.Purges = append(update.Purges, purge)
	}
	return update, nil
}
