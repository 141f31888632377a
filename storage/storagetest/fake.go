// Package storagetest provides an in-memory storage.Store for tests.
// It mirrors the Redis adapter's observable behavior: namespace-free keys,
// lazy TTL expiry, glob scans, atomic pipelines and pub/sub fan-out.
package storagetest

import (
	"context"
	"path"
	"sync"
	"time"

	"github.com/citizenweb/kraken/storage"
)

type entry struct {
	scalar    string
	hash      map[string]string
	list      []string
	expiresAt time.Time // zero = no expiry
}

func (e *entry) live(now time.Time) bool {
	return e.expiresAt.IsZero() || now.Before(e.expiresAt)
}

// Fake is an in-memory Store. Safe for concurrent use.
type Fake struct {
	mu   sync.Mutex
	data map[string]*entry
	subs map[*subscription]struct{}
}

var _ storage.Store = (*Fake)(nil)

// New returns a connected in-memory store.
func New() *Fake {
	return &Fake{
		data: make(map[string]*entry),
		subs: make(map[*subscription]struct{}),
	}
}

func (f *Fake) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data = make(map[string]*entry)
	return nil
}

func (f *Fake) Disconnect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data = make(map[string]*entry)
	return nil
}

// get returns the live entry for key, purging it if expired.
func (f *Fake) get(key string) *entry {
	e, ok := f.data[key]
	if !ok {
		return nil
	}
	if !e.live(time.Now()) {
		delete(f.data, key)
		return nil
	}
	return e
}

func (f *Fake) getOrCreate(key string) *entry {
	if e := f.get(key); e != nil {
		return e
	}
	e := &entry{}
	f.data[key] = e
	return e
}

func (f *Fake) Get(ctx context.Context, key string) (interface{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e := f.get(key)
	if e == nil || e.hash != nil || e.list != nil {
		return nil, nil
	}
	return storage.DecodeValue(e.scalar), nil
}

func (f *Fake) GetField(ctx context.Context, key, field string) (interface{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e := f.get(key)
	if e == nil || e.hash == nil {
		return nil, nil
	}
	raw, ok := e.hash[field]
	if !ok {
		return nil, nil
	}
	return storage.DecodeValue(raw), nil
}

func (f *Fake) GetAll(ctx context.Context, key string) (map[string]interface{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	values := make(map[string]interface{})
	e := f.get(key)
	if e == nil || e.hash == nil {
		return values, nil
	}
	for field, raw := range e.hash {
		values[field] = storage.DecodeValue(raw)
	}
	return values, nil
}

func (f *Fake) Set(ctx context.Context, key string, value interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.set(key, value)
	return nil
}

func (f *Fake) set(key string, value interface{}) {
	switch v := value.(type) {
	case map[string]interface{}:
		e := f.getOrCreate(key)
		if e.hash == nil {
			e.hash = make(map[string]string)
		}
		for field, fv := range v {
			e.hash[field] = storage.EncodeValue(fv)
		}
	case []interface{}:
		e := &entry{list: make([]string, len(v))}
		for i, lv := range v {
			e.list[i] = storage.EncodeValue(lv)
		}
		f.data[key] = e
	default:
		f.data[key] = &entry{scalar: storage.EncodeValue(value)}
	}
}

func (f *Fake) SetField(ctx context.Context, key, field string, value interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setField(key, field, value)
	return nil
}

func (f *Fake) setField(key, field string, value interface{}) {
	e := f.getOrCreate(key)
	if e.hash == nil {
		e.hash = make(map[string]string)
	}
	e.hash[field] = storage.EncodeValue(value)
}

func (f *Fake) Append(ctx context.Context, key string, values ...interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appendList(key, values...)
	return nil
}

func (f *Fake) appendList(key string, values ...interface{}) {
	e := f.getOrCreate(key)
	for _, v := range values {
		e.list = append(e.list, storage.EncodeValue(v))
	}
}

func (f *Fake) Prepend(ctx context.Context, key string, value interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prependList(key, value)
	return nil
}

func (f *Fake) prependList(key string, value interface{}) {
	e := f.getOrCreate(key)
	e.list = append([]string{storage.EncodeValue(value)}, e.list...)
}

func (f *Fake) Pop(ctx context.Context, key string) (interface{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e := f.get(key)
	if e == nil || len(e.list) == 0 {
		return nil, nil
	}
	head := e.list[0]
	e.list = e.list[1:]
	return storage.DecodeValue(head), nil
}

func (f *Fake) Index(ctx context.Context, key string, index int64) (interface{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e := f.get(key)
	if e == nil {
		return nil, nil
	}
	n := int64(len(e.list))
	if index < 0 {
		index += n
	}
	if index < 0 || index >= n {
		return nil, nil
	}
	return storage.DecodeValue(e.list[index]), nil
}

func (f *Fake) GetList(ctx context.Context, key string) ([]interface{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e := f.get(key)
	if e == nil {
		return nil, nil
	}
	return storage.DecodeAll(e.list), nil
}

func (f *Fake) Scan(ctx context.Context, pattern string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	var keys []string
	for key, e := range f.data {
		if !e.live(now) {
			delete(f.data, key)
			continue
		}
		if ok, _ := path.Match(pattern, key); ok {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (f *Fake) Expire(ctx context.Context, key string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.expire(key, ttl)
	return nil
}

func (f *Fake) expire(key string, ttl time.Duration) {
	if e := f.get(key); e != nil {
		e.expiresAt = time.Now().Add(ttl)
	}
}

func (f *Fake) Exists(ctx context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.get(key) != nil, nil
}

func (f *Fake) Delete(ctx context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, key := range keys {
		delete(f.data, key)
	}
	return nil
}

func (f *Fake) Publish(ctx context.Context, channel string, payload interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.publish(channel, payload)
	return nil
}

func (f *Fake) publish(channel string, payload interface{}) {
	msg := storage.Message{Channel: channel, Payload: storage.EncodeValue(payload)}
	for sub := range f.subs {
		if !sub.channels[channel] {
			continue
		}
		select {
		case sub.out <- msg:
		default:
			// Subscriber too slow; at-most-once delivery, drop.
		}
	}
}

func (f *Fake) Subscribe(ctx context.Context, channels ...string) (storage.Subscription, error) {
	sub := &subscription{
		fake:     f,
		channels: make(map[string]bool, len(channels)),
		out:      make(chan storage.Message, 64),
	}
	for _, c := range channels {
		sub.channels[c] = true
	}

	f.mu.Lock()
	f.subs[sub] = struct{}{}
	f.mu.Unlock()

	go func() {
		<-ctx.Done()
		_ = sub.Close()
	}()
	return sub, nil
}

type subscription struct {
	fake     *Fake
	channels map[string]bool
	out      chan storage.Message
	once     sync.Once
}

func (s *subscription) Messages() <-chan storage.Message { return s.out }

func (s *subscription) Close() error {
	s.once.Do(func() {
		s.fake.mu.Lock()
		delete(s.fake.subs, s)
		s.fake.mu.Unlock()
		close(s.out)
	})
	return nil
}

// Pipeline returns a batch applied atomically under one lock at Exec.
func (f *Fake) Pipeline() storage.Pipe {
	return &fakePipe{fake: f}
}

type fakePipe struct {
	fake *Fake
	ops  []func(f *Fake)
}

func (p *fakePipe) Set(key string, value interface{}) {
	p.ops = append(p.ops, func(f *Fake) { f.set(key, value) })
}

func (p *fakePipe) SetField(key, field string, value interface{}) {
	p.ops = append(p.ops, func(f *Fake) { f.setField(key, field, value) })
}

func (p *fakePipe) Append(key string, values ...interface{}) {
	p.ops = append(p.ops, func(f *Fake) { f.appendList(key, values...) })
}

func (p *fakePipe) Prepend(key string, value interface{}) {
	p.ops = append(p.ops, func(f *Fake) { f.prependList(key, value) })
}

func (p *fakePipe) Delete(keys ...string) {
	p.ops = append(p.ops, func(f *Fake) {
		for _, key := range keys {
			delete(f.data, key)
		}
	})
}

func (p *fakePipe) Expire(key string, ttl time.Duration) {
	p.ops = append(p.ops, func(f *Fake) { f.expire(key, ttl) })
}

func (p *fakePipe) Publish(channel string, payload interface{}) {
	p.ops = append(p.ops, func(f *Fake) { f.publish(channel, payload) })
}

func (p *fakePipe) Exec(ctx context.Context) error {
	p.fake.mu.Lock()
	defer p.fake.mu.Unlock()
	for _, op := range p.ops {
		op(p.fake)
	}
	return nil
}
