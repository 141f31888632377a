package storage

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/citizenweb/kraken/am"
	"github.com/citizenweb/kraken/errors"
)

// Redis implements Store against a live Redis server. Safe for concurrent
// use by multiple goroutines; the go-redis client's own connection pooling
// is relied upon.
type Redis struct {
	cfg    am.RedisConfig
	logger *zap.SugaredLogger

	mu     sync.Mutex // guards client swap during reconnect
	client *redis.Client
}

// NewRedis creates a Redis store adapter. Connect must be called before use.
func NewRedis(cfg am.RedisConfig, logger *zap.SugaredLogger) *Redis {
	return &Redis{cfg: cfg, logger: logger}
}

func (s *Redis) options() *redis.Options {
	opts := &redis.Options{
		Password: s.cfg.Password,
		DB:       s.cfg.DB,
	}
	if s.cfg.Socket != "" {
		opts.Network = "unix"
		opts.Addr = s.cfg.Socket
	} else {
		opts.Addr = s.cfg.Address
	}
	return opts
}

// Connect dials the server, verifies liveness and flushes the namespace's
// database. Nothing in this subsystem survives a process restart.
func (s *Redis) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connectLocked(ctx)
}

func (s *Redis) connectLocked(ctx context.Context) error {
	client := redis.NewClient(s.options())
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return errors.Wrap(errors.ErrConnection, err.Error())
	}
	if err := client.FlushDB(ctx).Err(); err != nil {
		_ = client.Close()
		return errors.Wrap(errors.ErrConnection, err.Error())
	}
	if s.client != nil {
		_ = s.client.Close()
	}
	s.client = client
	return nil
}

// Disconnect flushes the database and tears down the connection pool.
func (s *Redis) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil
	}
	_ = s.client.FlushDB(ctx).Err()
	err := s.client.Close()
	s.client = nil
	return err
}

// ensure returns a live client, transparently reconnecting if a liveness
// check fails. Called at the top of every public operation so a backing
// store restart is self-healing. Note the reconnect flushes the database:
// state did not survive the restart anyway.
func (s *Redis) ensure(ctx context.Context) (*redis.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		if err := s.connectLocked(ctx); err != nil {
			return nil, err
		}
		return s.client, nil
	}
	if err := s.client.Ping(ctx).Err(); err != nil {
		s.logger.Warnw("Redis ping failed, reconnecting", "error", err)
		if err := s.connectLocked(ctx); err != nil {
			return nil, err
		}
	}
	return s.client, nil
}

func (s *Redis) Get(ctx context.Context, key string) (interface{}, error) {
	client, err := s.ensure(ctx)
	if err != nil {
		return nil, err
	}
	raw, err := client.Get(ctx, Namespace+key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get %s", key)
	}
	return DecodeValue(raw), nil
}

func (s *Redis) GetField(ctx context.Context, key, field string) (interface{}, error) {
	client, err := s.ensure(ctx)
	if err != nil {
		return nil, err
	}
	raw, err := client.HGet(ctx, Namespace+key, field).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "hget %s.%s", key, field)
	}
	return DecodeValue(raw), nil
}

func (s *Redis) GetAll(ctx context.Context, key string) (map[string]interface{}, error) {
	client, err := s.ensure(ctx)
	if err != nil {
		return nil, err
	}
	raw, err := client.HGetAll(ctx, Namespace+key).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "hgetall %s", key)
	}
	values := make(map[string]interface{}, len(raw))
	for field, v := range raw {
		values[field] = DecodeValue(v)
	}
	return values, nil
}

// Set stores a scalar, a whole hash (map value) or replaces a list (slice
// value). Structured elements are encoded to text first.
func (s *Redis) Set(ctx context.Context, key string, value interface{}) error {
	client, err := s.ensure(ctx)
	if err != nil {
		return err
	}
	full := Namespace + key
	switch v := value.(type) {
	case map[string]interface{}:
		fields := make(map[string]interface{}, len(v))
		for field, fv := range v {
			fields[field] = EncodeValue(fv)
		}
		return errors.Wrapf(client.HSet(ctx, full, fields).Err(), "hset %s", key)
	case []interface{}:
		encoded := make([]interface{}, len(v))
		for i, e := range v {
			encoded[i] = EncodeValue(e)
		}
		_, err := client.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Del(ctx, full)
			if len(encoded) > 0 {
				p.RPush(ctx, full, encoded...)
			}
			return nil
		})
		return errors.Wrapf(err, "set list %s", key)
	default:
		return errors.Wrapf(client.Set(ctx, full, EncodeValue(value), 0).Err(), "set %s", key)
	}
}

func (s *Redis) SetField(ctx context.Context, key, field string, value interface{}) error {
	client, err := s.ensure(ctx)
	if err != nil {
		return err
	}
	return errors.Wrapf(client.HSet(ctx, Namespace+key, field, EncodeValue(value)).Err(), "hset %s.%s", key, field)
}

func (s *Redis) Append(ctx context.Context, key string, values ...interface{}) error {
	if len(values) == 0 {
		return nil
	}
	client, err := s.ensure(ctx)
	if err != nil {
		return err
	}
	encoded := make([]interface{}, len(values))
	for i, v := range values {
		encoded[i] = EncodeValue(v)
	}
	return errors.Wrapf(client.RPush(ctx, Namespace+key, encoded...).Err(), "rpush %s", key)
}

func (s *Redis) Prepend(ctx context.Context, key string, value interface{}) error {
	client, err := s.ensure(ctx)
	if err != nil {
		return err
	}
	return errors.Wrapf(client.LPush(ctx, Namespace+key, EncodeValue(value)).Err(), "lpush %s", key)
}

func (s *Redis) Pop(ctx context.Context, key string) (interface{}, error) {
	client, err := s.ensure(ctx)
	if err != nil {
		return nil, err
	}
	raw, err := client.LPop(ctx, Namespace+key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "lpop %s", key)
	}
	return DecodeValue(raw), nil
}

func (s *Redis) Index(ctx context.Context, key string, index int64) (interface{}, error) {
	client, err := s.ensure(ctx)
	if err != nil {
		return nil, err
	}
	raw, err := client.LIndex(ctx, Namespace+key, index).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "lindex %s", key)
	}
	return DecodeValue(raw), nil
}

func (s *Redis) GetList(ctx context.Context, key string) ([]interface{}, error) {
	client, err := s.ensure(ctx)
	if err != nil {
		return nil, err
	}
	raw, err := client.LRange(ctx, Namespace+key, 0, -1).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "lrange %s", key)
	}
	return DecodeAll(raw), nil
}

func (s *Redis) Scan(ctx context.Context, pattern string) ([]string, error) {
	client, err := s.ensure(ctx)
	if err != nil {
		return nil, err
	}
	var keys []string
	iter := client.Scan(ctx, 0, Namespace+pattern, 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), Namespace))
	}
	if err := iter.Err(); err != nil {
		return nil, errors.Wrapf(err, "scan %s", pattern)
	}
	return keys, nil
}

func (s *Redis) Expire(ctx context.Context, key string, ttl time.Duration) error {
	client, err := s.ensure(ctx)
	if err != nil {
		return err
	}
	return errors.Wrapf(client.Expire(ctx, Namespace+key, ttl).Err(), "expire %s", key)
}

func (s *Redis) Exists(ctx context.Context, key string) (bool, error) {
	client, err := s.ensure(ctx)
	if err != nil {
		return false, err
	}
	n, err := client.Exists(ctx, Namespace+key).Result()
	if err != nil {
		return false, errors.Wrapf(err, "exists %s", key)
	}
	return n > 0, nil
}

func (s *Redis) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	client, err := s.ensure(ctx)
	if err != nil {
		return err
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = Namespace + k
	}
	return errors.Wrap(client.Del(ctx, full...).Err(), "del")
}

func (s *Redis) Publish(ctx context.Context, channel string, payload interface{}) error {
	client, err := s.ensure(ctx)
	if err != nil {
		return err
	}
	return errors.Wrapf(client.Publish(ctx, Namespace+channel, EncodeValue(payload)).Err(), "publish %s", channel)
}

func (s *Redis) Subscribe(ctx context.Context, channels ...string) (Subscription, error) {
	client, err := s.ensure(ctx)
	if err != nil {
		return nil, err
	}
	full := make([]string, len(channels))
	for i, c := range channels {
		full[i] = Namespace + c
	}
	ps := client.Subscribe(ctx, full...)
	// Force the subscription to be established so startup failures surface
	// here rather than as a silent dead channel.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, errors.Wrap(errors.ErrConnection, err.Error())
	}

	sub := &redisSubscription{ps: ps, out: make(chan Message, 64)}
	go sub.pump(ctx)
	return sub, nil
}

type redisSubscription struct {
	ps   *redis.PubSub
	out  chan Message
	once sync.Once
}

func (s *redisSubscription) pump(ctx context.Context) {
	defer close(s.out)
	in := s.ps.Channel()
	for {
		select {
		case <-ctx.Done():
			_ = s.ps.Close()
			return
		case msg, ok := <-in:
			if !ok {
				return
			}
			select {
			case s.out <- Message{
				Channel: strings.TrimPrefix(msg.Channel, Namespace),
				Payload: msg.Payload,
			}:
			case <-ctx.Done():
				_ = s.ps.Close()
				return
			}
		}
	}
}

func (s *redisSubscription) Messages() <-chan Message { return s.out }

func (s *redisSubscription) Close() error {
	var err error
	s.once.Do(func() { err = s.ps.Close() })
	return err
}

// Pipeline returns a batch backed by a Redis transaction pipeline.
func (s *Redis) Pipeline() Pipe {
	return &redisPipe{store: s}
}

// redisPipe queues operations as closures and replays them onto a
// TxPipeliner at Exec time, so reconnects between Pipeline() and Exec()
// still land on a live client.
type redisPipe struct {
	store *Redis
	ops   []func(ctx context.Context, p redis.Pipeliner)
}

func (rp *redisPipe) Set(key string, value interface{}) {
	encoded := EncodeValue(value)
	rp.ops = append(rp.ops, func(ctx context.Context, p redis.Pipeliner) {
		p.Set(ctx, Namespace+key, encoded, 0)
	})
}

func (rp *redisPipe) SetField(key, field string, value interface{}) {
	encoded := EncodeValue(value)
	rp.ops = append(rp.ops, func(ctx context.Context, p redis.Pipeliner) {
		p.HSet(ctx, Namespace+key, field, encoded)
	})
}

func (rp *redisPipe) Append(key string, values ...interface{}) {
	if len(values) == 0 {
		return
	}
	encoded := make([]interface{}, len(values))
	for i, v := range values {
		encoded[i] = EncodeValue(v)
	}
	rp.ops = append(rp.ops, func(ctx context.Context, p redis.Pipeliner) {
		p.RPush(ctx, Namespace+key, encoded...)
	})
}

func (rp *redisPipe) Prepend(key string, value interface{}) {
	encoded := EncodeValue(value)
	rp.ops = append(rp.ops, func(ctx context.Context, p redis.Pipeliner) {
		p.LPush(ctx, Namespace+key, encoded)
	})
}

func (rp *redisPipe) Delete(keys ...string) {
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = Namespace + k
	}
	rp.ops = append(rp.ops, func(ctx context.Context, p redis.Pipeliner) {
		p.Del(ctx, full...)
	})
}

func (rp *redisPipe) Expire(key string, ttl time.Duration) {
	rp.ops = append(rp.ops, func(ctx context.Context, p redis.Pipeliner) {
		p.Expire(ctx, Namespace+key, ttl)
	})
}

func (rp *redisPipe) Publish(channel string, payload interface{}) {
	encoded := EncodeValue(payload)
	rp.ops = append(rp.ops, func(ctx context.Context, p redis.Pipeliner) {
		p.Publish(ctx, Namespace+channel, encoded)
	})
}

func (rp *redisPipe) Exec(ctx context.Context) error {
	client, err := rp.store.ensure(ctx)
	if err != nil {
		return err
	}
	_, err = client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for _, op := range rp.ops {
			op(ctx, p)
		}
		return nil
	})
	return errors.Wrap(err, "pipeline exec")
}
