package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/pomo-api/internal/domain"
	"github.com/phrazzld/pomo-api/internal/events"
	"github.com/phrazzld/pomo-api/internal/store"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "pomo:session:"

// terminalTTL bounds how long finished sessions stay readable from the cache.
const terminalTTL = 5 * time.Minute

// writeTimeout bounds a single cache write made from the event path.
const writeTimeout = 500 * time.Millisecond

// SnapshotCache stores session snapshots keyed by session id.
type SnapshotCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewSnapshotCache creates a cache over client. Snapshots expire after ttl.
func NewSnapshotCache(client *redis.Client, ttl time.Duration, logger *slog.Logger) *SnapshotCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &SnapshotCache{
		client: client,
		ttl:    ttl,
		logger: logger.With("component", "snapshot_cache"),
	}
}

// Open parses a redis:// URL and returns a connected client.
func Open(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func key(id uuid.UUID) string {
	return keyPrefix + id.String()
}

// Save writes snap under its session id.
func (c *SnapshotCache) Save(ctx context.Context, snap domain.SessionSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	ttl := c.ttl
	if snap.Status.IsTerminal() && (ttl <= 0 || ttl > terminalTTL) {
		ttl = terminalTTL
	}
	if err := c.client.Set(ctx, key(snap.SessionID), data, ttl).Err(); err != nil {
		return fmt.Errorf("save snapshot %s: %w", snap.SessionID, err)
	}
	return nil
}

// Get returns the cached snapshot for a session. A missing key is reported
// as store.ErrSessionNotFound.
func (c *SnapshotCache) Get(ctx context.Context, sessionID uuid.UUID) (domain.SessionSnapshot, error) {
	data, err := c.client.Get(ctx, key(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.SessionSnapshot{}, store.ErrSessionNotFound
		}
		return domain.SessionSnapshot{}, fmt.Errorf("get snapshot %s: %w", sessionID, err)
	}

	var snap domain.SessionSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return domain.SessionSnapshot{}, fmt.Errorf("unmarshal snapshot %s: %w", sessionID, err)
	}
	return snap, nil
}

// Delete drops a session from the cache.
func (c *SnapshotCache) Delete(ctx context.Context, sessionID uuid.UUID) error {
	if err := c.client.Del(ctx, key(sessionID)).Err(); err != nil {
		return fmt.Errorf("delete snapshot %s: %w", sessionID, err)
	}
	return nil
}

// HandleEvent records the snapshot carried by every session event.
// Failures are logged and swallowed; the cache is advisory.
func (c *SnapshotCache) HandleEvent(ctx context.Context, event *events.SessionEvent) error {
	if event == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()

	if err := c.Save(ctx, event.Snapshot); err != nil {
		c.logger.Warn("failed to cache session snapshot",
			"session_id", event.Snapshot.SessionID,
			"reason", event.Reason,
			"error", err)
	}
	return nil
}
