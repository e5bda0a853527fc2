package syncengine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gouravdev246/anonymous-comment/services/comments/internal/comment"
)

// ErrMalformedSnapshot is returned by Load when the stored view cannot be
// decoded.
var ErrMalformedSnapshot = errors.New("malformed view snapshot")

// SnapshotStore persists the last built view so a restart has something to
// show before the first refresh completes.
type SnapshotStore interface {
	// Load returns nil rows and a nil error when nothing was stored yet.
	Load(ctx context.Context) ([]comment.Row, error)
	Save(ctx context.Context, rows []comment.Row) error
}

// NopSnapshots stores nothing.
type NopSnapshots struct{}

func (NopSnapshots) Load(context.Context) ([]comment.Row, error) { return nil, nil }
func (NopSnapshots) Save(context.Context, []comment.Row) error   { return nil }

type persistedView struct {
	SavedAt time.Time     `json:"saved_at"`
	Rows    []comment.Row `json:"rows"`
}

// RedisSnapshots keeps the view as one JSON document under Key.
type RedisSnapshots struct {
	Client *redis.Client
	Key    string
	TTL    time.Duration
}

// DefaultSnapshotKey is used when no key is configured.
const DefaultSnapshotKey = "comments:view"

func NewRedisSnapshots(url, key string, ttl time.Duration) (*RedisSnapshots, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	if key == "" {
		key = DefaultSnapshotKey
	}
	return &RedisSnapshots{Client: redis.NewClient(opt), Key: key, TTL: ttl}, nil
}

func (s *RedisSnapshots) Load(ctx context.Context) ([]comment.Row, error) {
	val, err := s.Client.Get(ctx, s.Key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var v persistedView
	if err := json.Unmarshal(val, &v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedSnapshot, err)
	}
	return v.Rows, nil
}

func (s *RedisSnapshots) Save(ctx context.Context, rows []comment.Row) error {
	if rows == nil {
		rows = []comment.Row{}
	}
	b, err := json.Marshal(persistedView{SavedAt: time.Now().UTC(), Rows: rows})
	if err != nil {
		return err
	}
	return s.Client.Set(ctx, s.Key, b, s.TTL).Err()
}

// Close releases the redis connection pool.
func (s *RedisSnapshots) Close() error {
	return s.Client.Close()
}
