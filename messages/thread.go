package messages

import (
	"context"
	"time"

	"github.com/citizenweb/kraken/errors"
	"github.com/citizenweb/kraken/jobs"
	"github.com/citizenweb/kraken/storage"
)

// Thread groups the progress updates of one long-running operation under a
// shared notification id. Events are stored individually and indexed in
// arrival order, so history reads are chronological and the latest event is
// always the index tail.
type Thread struct {
	ID string

	store storage.Store
	job   *jobs.Job
}

// NewThread starts a thread with a fresh id.
func NewThread(store storage.Store) *Thread {
	return &Thread{ID: randomID(idLength), store: store}
}

// ResumeThread binds to an existing thread id, e.g. one received from a
// client continuing an earlier operation.
func ResumeThread(store storage.Store, id string) *Thread {
	return &Thread{ID: id, store: store}
}

// WithJob mirrors every update into the job's record, so polling the job
// shows the latest progress message.
func (t *Thread) WithJob(job *jobs.Job) *Thread {
	t.job = job
	return t
}

// Update appends a non-terminal progress event.
func (t *Thread) Update(ctx context.Context, n *Notification) error {
	return t.send(ctx, n, false)
}

// Complete appends the thread's terminal event.
func (t *Thread) Complete(ctx context.Context, n *Notification) error {
	return t.send(ctx, n, true)
}

func (t *Thread) send(ctx context.Context, n *Notification, complete bool) error {
	n.ID = t.ID
	n.MessageID = randomID(messageIDLength)
	n.Complete = complete
	if n.Time.IsZero() {
		n.Time = time.Now().UTC()
	}

	memberKey := keyPrefix + t.ID + ":" + n.MessageID
	threadKey := threadPrefix + t.ID

	pipe := t.store.Pipeline()
	pipe.Set(memberKey, n)
	pipe.Append(threadKey, n.MessageID)
	pipe.Expire(memberKey, TTL)
	pipe.Expire(threadKey, TTL)
	pipe.Publish(Channel, n)
	if err := pipe.Exec(ctx); err != nil {
		return errors.Wrapf(err, "updating notification thread %s", t.ID)
	}

	if t.job != nil {
		t.job.UpdateMessage(ctx, n.Class, n.Message, n.Title)
	}
	return nil
}
