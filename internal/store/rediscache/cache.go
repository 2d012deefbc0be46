// Package rediscache decorates a [store.Store] with a Redis read-through
// cache for single session records and user profiles.
//
// Saves go to the backing store first; on success the cached entry is
// replaced. Cache failures are logged and counted but never fail the call:
// the backing store remains the source of truth. Listings are not cached.
package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/store"
)

// DefaultTTL is the lifetime of a cached entry when none is configured.
const DefaultTTL = 10 * time.Minute

// Compile-time interface check.
var _ store.Store = (*Store)(nil)

// Cmdable is the subset of the go-redis client used by the cache.
// [*redis.Client] satisfies it.
type Cmdable interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Ping(ctx context.Context) *redis.StatusCmd
}

// Option configures a [Store].
type Option func(*Store)

// WithTTL sets the lifetime of cached entries.
func WithTTL(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.ttl = d
		}
	}
}

// WithPrefix sets the key prefix. The default is "parley:".
func WithPrefix(p string) Option {
	return func(s *Store) { s.prefix = p }
}

// WithMetrics sets the metrics sink for cache lookups.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// WithCloser registers a function called by [Store.Close] after the backing
// store is closed, typically the Redis client's Close.
func WithCloser(fn func() error) Option {
	return func(s *Store) { s.closeClient = fn }
}

// Store is the caching decorator.
type Store struct {
	next        store.Store
	rdb         Cmdable
	ttl         time.Duration
	prefix      string
	metrics     *observe.Metrics
	closeClient func() error
}

// New wraps next with a cache held in rdb.
func New(next store.Store, rdb Cmdable, opts ...Option) *Store {
	s := &Store{
		next:   next,
		rdb:    rdb,
		ttl:    DefaultTTL,
		prefix: "parley:",
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Dial parses a redis:// URL, connects and verifies the server with PING.
func Dial(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("rediscache: parse url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("rediscache: ping: %w", err)
	}
	return client, nil
}

func (s *Store) sessionKey(id string) string   { return s.prefix + "session:" + id }
func (s *Store) profileKey(user string) string { return s.prefix + "profile:" + user }

// Save implements [store.Store.Save].
func (s *Store) Save(ctx context.Context, r store.Record) error {
	if err := s.next.Save(ctx, r); err != nil {
		return err
	}
	s.put(ctx, s.sessionKey(r.ID), r)
	return nil
}

// Get implements [store.Store.Get].
func (s *Store) Get(ctx context.Context, id string) (store.Record, error) {
	var r store.Record
	if s.lookup(ctx, s.sessionKey(id), &r) {
		return r, nil
	}
	r, err := s.next.Get(ctx, id)
	if err != nil {
		return store.Record{}, err
	}
	s.put(ctx, s.sessionKey(id), r)
	return r, nil
}

// ListByUser implements [store.Store.ListByUser] without caching.
func (s *Store) ListByUser(ctx context.Context, userID string) ([]store.Summary, error) {
	return s.next.ListByUser(ctx, userID)
}

// GetProfile implements [store.Store.GetProfile].
func (s *Store) GetProfile(ctx context.Context, userID string) (store.Profile, error) {
	var p store.Profile
	if s.lookup(ctx, s.profileKey(userID), &p) {
		return p, nil
	}
	p, err := s.next.GetProfile(ctx, userID)
	if err != nil {
		return store.Profile{}, err
	}
	s.put(ctx, s.profileKey(userID), p)
	return p, nil
}

// SaveProfile implements [store.Store.SaveProfile]. The cached profile is
// dropped rather than replaced because the backend may fill LastUpdated.
func (s *Store) SaveProfile(ctx context.Context, p store.Profile) error {
	if err := s.next.SaveProfile(ctx, p); err != nil {
		return err
	}
	if err := s.rdb.Del(ctx, s.profileKey(p.UserID)).Err(); err != nil {
		slog.Warn("rediscache: invalidate profile", "user_id", p.UserID, "err", err)
	}
	return nil
}

// ListPresets implements [store.Store.ListPresets] without caching.
func (s *Store) ListPresets(ctx context.Context, userID string) ([]store.Preset, error) {
	return s.next.ListPresets(ctx, userID)
}

// SavePreset implements [store.Store.SavePreset].
func (s *Store) SavePreset(ctx context.Context, p store.Preset) (store.Preset, error) {
	return s.next.SavePreset(ctx, p)
}

// Ping checks both Redis and the backing store.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("rediscache: ping: %w", err)
	}
	return s.next.Ping(ctx)
}

// Close closes the backing store and then the Redis client when a closer
// was registered.
func (s *Store) Close() error {
	err := s.next.Close()
	if s.closeClient != nil {
		err = errors.Join(err, s.closeClient())
	}
	return err
}

// lookup decodes the cached value at key into dst and reports a hit.
func (s *Store) lookup(ctx context.Context, key string, dst any) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		s.record(ctx, "miss")
		return false
	case err != nil:
		s.record(ctx, "error")
		slog.Warn("rediscache: get", "key", key, "err", err)
		return false
	}
	if err := json.Unmarshal(data, dst); err != nil {
		s.record(ctx, "error")
		slog.Warn("rediscache: decode", "key", key, "err", err)
		return false
	}
	s.record(ctx, "hit")
	return true
}

func (s *Store) put(ctx context.Context, key string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Warn("rediscache: encode", "key", key, "err", err)
		return
	}
	if err := s.rdb.Set(ctx, key, data, s.ttl).Err(); err != nil {
		slog.Warn("rediscache: set", "key", key, "err", err)
	}
}

func (s *Store) record(ctx context.Context, result string) {
	if s.metrics != nil {
		s.metrics.RecordCacheLookup(ctx, result)
	}
}
