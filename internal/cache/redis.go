package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrNotMirrored = errors.New("presence not mirrored")

// NewClient dials Redis and pings it once.
func NewClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	r := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := r.Ping(ctx).Err(); err != nil {
		_ = r.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return r, nil
}

// PresenceMirror copies presence transitions into Redis so processes that do
// not own the connection (notification workers, other API nodes) can read
// them. The in-process registry stays authoritative.
type PresenceMirror struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewPresenceMirror(client *redis.Client, prefix string, ttl time.Duration) *PresenceMirror {
	return &PresenceMirror{client: client, prefix: prefix, ttl: ttl}
}

func (p *PresenceMirror) key(userID string) string {
	return fmt.Sprintf("%s:presence:%s", p.prefix, userID)
}

func (p *PresenceMirror) SetOnline(ctx context.Context, userID string) error {
	return p.client.HSet(ctx, p.key(userID), "online", "1", "last_seen", "").Err()
}

func (p *PresenceMirror) SetOffline(ctx context.Context, userID string, lastSeen time.Time) error {
	key := p.key(userID)
	pipe := p.client.TxPipeline()
	pipe.HSet(ctx, key, "online", "0", "last_seen", strconv.FormatInt(lastSeen.UnixMilli(), 10))
	if p.ttl > 0 {
		pipe.Expire(ctx, key, p.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Get reads the mirrored presence of userID. A user the mirror never saw
// yields ErrNotMirrored.
func (p *PresenceMirror) Get(ctx context.Context, userID string) (bool, *time.Time, error) {
	fields, err := p.client.HGetAll(ctx, p.key(userID)).Result()
	if err != nil {
		return false, nil, err
	}
	if len(fields) == 0 {
		return false, nil, ErrNotMirrored
	}
	var lastSeen *time.Time
	if ms, err := strconv.ParseInt(fields["last_seen"], 10, 64); err == nil {
		t := time.UnixMilli(ms).UTC()
		lastSeen = &t
	}
	return fields["online"] == "1", lastSeen, nil
}
