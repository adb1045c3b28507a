package notice

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

// Device is a registered notification target.
type Device struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Role         string    `json:"role"`
	RegisteredAt time.Time `json:"registeredAt"`
}

// Feed keeps the most recent notices and the registered devices in Redis.
type Feed struct {
	client  *redis.Client
	recent  string
	devices string
	size    int64
}

// NewFeed creates a feed that retains size notices.
func NewFeed(client *redis.Client, prefix string, size int) *Feed {
	if size <= 0 {
		size = 50
	}
	return &Feed{
		client:  client,
		recent:  prefix + ":notices:recent",
		devices: prefix + ":devices",
		size:    int64(size),
	}
}

// Append records n, keeping only the newest notices.
func (f *Feed) Append(ctx context.Context, n Notice) error {
	raw, err := json.Marshal(n)
	if err != nil {
		return err
	}
	_, err = f.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, f.recent, raw)
		pipe.LTrim(ctx, f.recent, 0, f.size-1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("append notice: %w", err)
	}
	return nil
}

// Recent returns up to limit notices, newest first.
func (f *Feed) Recent(ctx context.Context, limit int) ([]Notice, error) {
	if limit <= 0 || int64(limit) > f.size {
		limit = int(f.size)
	}
	raws, err := f.client.LRange(ctx, f.recent, 0, int64(limit)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("read notices: %w", err)
	}
	out := make([]Notice, 0, len(raws))
	for _, raw := range raws {
		var n Notice
		if err := json.Unmarshal([]byte(raw), &n); err != nil {
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

// Register stores or replaces a device.
func (f *Feed) Register(ctx context.Context, d Device) error {
	raw, err := json.Marshal(d)
	if err != nil {
		return err
	}
	if err := f.client.HSet(ctx, f.devices, d.ID, raw).Err(); err != nil {
		return fmt.Errorf("register device: %w", err)
	}
	return nil
}

// Unregister removes a device.
func (f *Feed) Unregister(ctx context.Context, id string) error {
	return f.client.HDel(ctx, f.devices, id).Err()
}

// Devices lists registered devices, oldest registration first.
func (f *Feed) Devices(ctx context.Context) ([]Device, error) {
	all, err := f.client.HGetAll(ctx, f.devices).Result()
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	out := make([]Device, 0, len(all))
	for _, raw := range all {
		var d Device
		if err := json.Unmarshal([]byte(raw), &d); err != nil {
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RegisteredAt.Equal(out[j].RegisteredAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].RegisteredAt.Before(out[j].RegisteredAt)
	})
	return out, nil
}
