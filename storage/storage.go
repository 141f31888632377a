// Package storage provides the namespaced key-value, list and pub/sub
// primitives every Kraken subsystem coordinates through. The backing store
// is Redis; nothing kept here is permanent state and every key carries a
// TTL or is cleared on startup.
package storage

import (
	"context"
	"time"
)

// Namespace is the fixed prefix applied to every key and channel before it
// reaches the backing store.
const Namespace = "kraken:"

// Message is a single pub/sub delivery. Channel is the bare (unprefixed)
// channel name.
type Message struct {
	Channel string
	Payload string
}

// Subscription is a live pub/sub stream. Messages closes when the
// subscription ends, either via Close or the subscribing context.
type Subscription interface {
	Messages() <-chan Message
	Close() error
}

// Pipe batches write operations for atomic submission in one round trip.
// Used so a single logical event ("store a notification and publish it")
// is never observable half-applied by a racing reader.
type Pipe interface {
	Set(key string, value interface{})
	SetField(key, field string, value interface{})
	Append(key string, values ...interface{})
	Prepend(key string, value interface{})
	Delete(keys ...string)
	Expire(key string, ttl time.Duration)
	Publish(channel string, payload interface{})

	// Exec submits the batch. The pipe must not be reused afterwards.
	Exec(ctx context.Context) error
}

// Store is the adapter contract shared by the Redis client and the
// in-memory fake in storagetest. All keys are implicitly namespaced.
//
// Absent keys read back as nil (or empty collections); that is the normal
// not-found condition, never an error. Structured values (maps, slices)
// are transparently JSON-encoded on write and decoded on read.
type Store interface {
	// Connect establishes the backing connection and clears the namespace's
	// database; the subsystem assumes no durable state survives a restart.
	// Returns a wrapped errors.ErrConnection if the store is unreachable.
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error

	Get(ctx context.Context, key string) (interface{}, error)
	GetField(ctx context.Context, key, field string) (interface{}, error)
	GetAll(ctx context.Context, key string) (map[string]interface{}, error)
	Set(ctx context.Context, key string, value interface{}) error
	SetField(ctx context.Context, key, field string, value interface{}) error

	Append(ctx context.Context, key string, values ...interface{}) error
	Prepend(ctx context.Context, key string, value interface{}) error
	Pop(ctx context.Context, key string) (interface{}, error)
	Index(ctx context.Context, key string, index int64) (interface{}, error)
	GetList(ctx context.Context, key string) ([]interface{}, error)

	// Scan enumerates keys within the namespace matching a glob pattern,
	// returning bare (unprefixed) key names.
	Scan(ctx context.Context, pattern string) ([]string, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, keys ...string) error

	Publish(ctx context.Context, channel string, payload interface{}) error
	Subscribe(ctx context.Context, channels ...string) (Subscription, error)

	Pipeline() Pipe
}
