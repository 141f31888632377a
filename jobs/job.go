// Package jobs executes long-running administrative operations off the
// request path. Each job runs concurrently with request handling, persists
// an HTTP-status-like code under job:<id>, and disappears from the store a
// fixed window after it finishes.
package jobs

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/citizenweb/kraken/storage"
)

const (
	// KeyPrefix namespaces job records in the store
	KeyPrefix = "job:"

	// StatusRunning is persisted before a job's callable starts
	StatusRunning = 200
	// StatusBadRequest records the distinguished caller-input failure
	StatusBadRequest = 400
	// StatusError records any other unhandled failure
	StatusError = 500
	// DefaultSuccessCode is recorded on normal completion unless the
	// submitter overrides it with WithSuccessCode
	DefaultSuccessCode = 201

	// TTL is how long a finished job's record stays observable. A resource
	// bound, not a correctness requirement.
	TTL = 12 * time.Hour

	idLength = 16
)

// NewID generates an opaque job identifier: 16 hex chars of a random UUID.
// Collision probability is negligible among live jobs.
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:idLength]
}

// Job is the handle passed to a running callable. It exposes the job id and
// lets the callable attach progress messages to the job record without
// touching its status code.
type Job struct {
	ID string

	store  storage.Store
	logger *zap.SugaredLogger
}

func (j *Job) key() string { return KeyPrefix + j.ID }

// UpdateMessage attaches a human-readable progress update to the job record.
// Best-effort: a store failure is logged and never fails the job itself.
func (j *Job) UpdateMessage(ctx context.Context, class, message, title string) {
	pipe := j.store.Pipeline()
	pipe.SetField(j.key(), "class", class)
	pipe.SetField(j.key(), "message", message)
	pipe.SetField(j.key(), "title", title)
	if err := pipe.Exec(ctx); err != nil {
		j.logger.Warnw("Failed to update job message",
			"job_id", j.ID,
			"error", err,
		)
	}
}

// Status returns the persisted status code for a job id. The second return
// is false when the job has expired or never existed; Kraken does not
// distinguish the two.
func Status(ctx context.Context, store storage.Store, id string) (int, bool, error) {
	v, err := store.GetField(ctx, KeyPrefix+id, "status")
	if err != nil {
		return 0, false, err
	}
	if v == nil {
		return 0, false, nil
	}
	raw, ok := v.(string)
	if !ok {
		return 0, false, nil
	}
	status, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, nil
	}
	return status, true, nil
}

// List returns the ids of all live jobs.
func List(ctx context.Context, store storage.Store) ([]string, error) {
	keys, err := store.Scan(ctx, KeyPrefix+"*")
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(keys))
	for _, key := range keys {
		ids = append(ids, strings.TrimPrefix(key, KeyPrefix))
	}
	return ids, nil
}
