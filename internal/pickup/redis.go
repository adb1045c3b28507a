package pickup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"dismissal/internal/logging"
)

// createPending claims the name index and writes the record in one step.
// It returns the existing record when the name is already waiting.
var createPending = redis.NewScript(`
local existing = redis.call('HGET', KEYS[2], ARGV[1])
if existing then
	local record = redis.call('HGET', KEYS[1], existing)
	if record then
		return record
	end
end
redis.call('HSET', KEYS[1], ARGV[2], ARGV[3])
redis.call('HSET', KEYS[2], ARGV[1], ARGV[2])
return false
`)

// deletePending removes the record and its name index entry if it still points at it.
var deletePending = redis.NewScript(`
local removed = redis.call('HDEL', KEYS[1], ARGV[1])
if removed == 0 then
	return 0
end
if redis.call('HGET', KEYS[2], ARGV[2]) == ARGV[1] then
	redis.call('HDEL', KEYS[2], ARGV[2])
end
return 1
`)

const resetClaimTTL = 10 * time.Minute

// RedisStore keeps the pickup collections in Redis hashes and announces
// every mutation on a pub/sub channel.
type RedisStore struct {
	client *redis.Client
	log    *zap.Logger

	pendingKey  string
	namesKey    string
	releasedKey string
	markerKey   string
	claimPfx    string
	archivePfx  string
	channel     string
}

// NewRedisStore builds a store whose keys start with prefix.
func NewRedisStore(client *redis.Client, prefix string, log *zap.Logger) *RedisStore {
	if prefix == "" {
		prefix = "dismissal"
	}
	return &RedisStore{
		client:      client,
		log:         logging.OrNop(log),
		pendingKey:  prefix + ":pendingPickups",
		namesKey:    prefix + ":pendingPickups:names",
		releasedKey: prefix + ":releasedPickups",
		markerKey:   prefix + ":system:lastReset",
		claimPfx:    prefix + ":system:resetClaim:",
		archivePfx:  prefix + ":archive:",
		channel:     prefix + ":changes",
	}
}

// ListPending returns pending pickups oldest first.
func (s *RedisStore) ListPending(ctx context.Context) ([]PendingPickup, error) {
	raw, err := s.client.HGetAll(ctx, s.pendingKey).Result()
	if err != nil {
		return nil, storeErr("list pending", err)
	}
	out := make([]PendingPickup, 0, len(raw))
	for key, val := range raw {
		var p PendingPickup
		if err := json.Unmarshal([]byte(val), &p); err != nil {
			s.log.Warn("skipping undecodable pending pickup", zap.String("key", key), zap.Error(err))
			continue
		}
		p.Key = key
		out = append(out, p)
	}
	sortPending(out)
	return out, nil
}

// GetPending reads one pending pickup.
func (s *RedisStore) GetPending(ctx context.Context, key string) (PendingPickup, bool, error) {
	val, err := s.client.HGet(ctx, s.pendingKey, key).Result()
	if errors.Is(err, redis.Nil) {
		return PendingPickup{}, false, nil
	}
	if err != nil {
		return PendingPickup{}, false, storeErr("get pending", err)
	}
	var p PendingPickup
	if err := json.Unmarshal([]byte(val), &p); err != nil {
		return PendingPickup{}, false, storeErr("get pending", err)
	}
	p.Key = key
	return p, true, nil
}

// CreatePending writes p under a new key unless its name is already waiting.
func (s *RedisStore) CreatePending(ctx context.Context, p PendingPickup) (PendingPickup, error) {
	p.Key = newKey()
	data, err := json.Marshal(p)
	if err != nil {
		return PendingPickup{}, fmt.Errorf("encode pending pickup: %w", err)
	}
	res, err := createPending.Run(ctx, s.client, []string{s.pendingKey, s.namesKey}, p.Name, p.Key, string(data)).Text()
	if errors.Is(err, redis.Nil) {
		s.publish(ctx, CollectionPending)
		return p, nil
	}
	if err != nil {
		return PendingPickup{}, storeErr("create pending", err)
	}
	var existing PendingPickup
	if err := json.Unmarshal([]byte(res), &existing); err != nil {
		return PendingPickup{}, storeErr("create pending", err)
	}
	return existing, &DuplicateError{Existing: existing}
}

// DeletePending removes key and its name index entry.
func (s *RedisStore) DeletePending(ctx context.Context, key string) error {
	p, ok, err := s.GetPending(ctx, key)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	removed, err := deletePending.Run(ctx, s.client, []string{s.pendingKey, s.namesKey}, key, p.Name).Int()
	if err != nil {
		return storeErr("delete pending", err)
	}
	if removed == 0 {
		return ErrNotFound
	}
	s.publish(ctx, CollectionPending)
	return nil
}

// ListReleased returns released pickups in release order.
func (s *RedisStore) ListReleased(ctx context.Context) ([]ReleasedPickup, error) {
	raw, err := s.client.HGetAll(ctx, s.releasedKey).Result()
	if err != nil {
		return nil, storeErr("list released", err)
	}
	out := make([]ReleasedPickup, 0, len(raw))
	for key, val := range raw {
		var r ReleasedPickup
		if err := json.Unmarshal([]byte(val), &r); err != nil {
			s.log.Warn("skipping undecodable released pickup", zap.String("key", key), zap.Error(err))
			continue
		}
		r.Key = key
		out = append(out, r)
	}
	sortReleased(out)
	return out, nil
}

// PutReleased writes r under its key.
func (s *RedisStore) PutReleased(ctx context.Context, r ReleasedPickup) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode released pickup: %w", err)
	}
	if err := s.client.HSet(ctx, s.releasedKey, r.Key, data).Err(); err != nil {
		return storeErr("put released", err)
	}
	s.publish(ctx, CollectionReleased)
	return nil
}

// ClearLive deletes both collections and the name index in one transaction.
func (s *RedisStore) ClearLive(ctx context.Context) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.pendingKey, s.namesKey, s.releasedKey)
		return nil
	})
	if err != nil {
		return storeErr("clear", err)
	}
	s.publish(ctx, CollectionPending)
	s.publish(ctx, CollectionReleased)
	return nil
}

// ResetMarker reads the daily reset marker.
func (s *RedisStore) ResetMarker(ctx context.Context) (ResetMarker, bool, error) {
	var m ResetMarker
	ok, err := s.getJSON(ctx, s.markerKey, &m)
	if err != nil {
		return ResetMarker{}, false, storeErr("get reset marker", err)
	}
	return m, ok, nil
}

// SetResetMarker replaces the daily reset marker.
func (s *RedisStore) SetResetMarker(ctx context.Context, m ResetMarker) error {
	return storeErr("set reset marker", s.setJSON(ctx, s.markerKey, m))
}

// ClaimReset takes the reset for date unless another process holds it.
// The claim expires on its own so a crashed holder does not block the day.
func (s *RedisStore) ClaimReset(ctx context.Context, date string) (bool, error) {
	won, err := s.client.SetNX(ctx, s.claimPfx+date, "1", resetClaimTTL).Result()
	if err != nil {
		return false, storeErr("claim reset", err)
	}
	return won, nil
}

// ReleaseReset gives up the claim for date after a failed reset.
func (s *RedisStore) ReleaseReset(ctx context.Context, date string) error {
	return storeErr("release reset", s.client.Del(ctx, s.claimPfx+date).Err())
}

// SaveArchive stores snap under its date, overwriting any earlier copy.
func (s *RedisStore) SaveArchive(ctx context.Context, snap ArchiveSnapshot) error {
	return storeErr("save archive", s.setJSON(ctx, s.archivePfx+snap.Date, snap))
}

// LoadArchive reads the snapshot for date.
func (s *RedisStore) LoadArchive(ctx context.Context, date string) (ArchiveSnapshot, bool, error) {
	var snap ArchiveSnapshot
	ok, err := s.getJSON(ctx, s.archivePfx+date, &snap)
	if err != nil {
		return ArchiveSnapshot{}, false, storeErr("load archive", err)
	}
	return snap, ok, nil
}

// Watch subscribes before reading the initial snapshots so no mutation is missed.
func (s *RedisStore) Watch(ctx context.Context) (<-chan Change, error) {
	sub := s.client.Subscribe(ctx, s.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, storeErr("watch", err)
	}
	messages := sub.Channel()

	out := make(chan Change)
	go func() {
		defer close(out)
		defer sub.Close()

		send := func(c Collection) bool {
			change, err := s.snapshot(ctx, c)
			if err != nil {
				s.log.Warn("snapshot after change failed", zap.String("collection", string(c)), zap.Error(err))
				return ctx.Err() == nil
			}
			select {
			case out <- change:
				return true
			case <-ctx.Done():
				return false
			}
		}

		if !send(CollectionPending) || !send(CollectionReleased) {
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				if !send(Collection(msg.Payload)) {
					return
				}
			}
		}
	}()
	return out, nil
}

func (s *RedisStore) snapshot(ctx context.Context, c Collection) (Change, error) {
	switch c {
	case CollectionPending:
		list, err := s.ListPending(ctx)
		return Change{Collection: c, Pending: list}, err
	case CollectionReleased:
		list, err := s.ListReleased(ctx)
		return Change{Collection: c, Released: list}, err
	}
	return Change{}, fmt.Errorf("unknown collection %q", c)
}

func (s *RedisStore) publish(ctx context.Context, c Collection) {
	if err := s.client.Publish(ctx, s.channel, string(c)).Err(); err != nil {
		s.log.Warn("change notification failed", zap.String("collection", string(c)), zap.Error(err))
	}
}

func (s *RedisStore) getJSON(ctx context.Context, key string, v any) (bool, error) {
	val, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, json.Unmarshal(val, v)
}

func (s *RedisStore) setJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, key, data, 0).Err()
}
