package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/djlord-it/eventline/internal/domain"
)

// Activity describes one recorded timeline operation.
type Activity struct {
	ParentType domain.ParentType
	ParentID   int64
	Operation  string
	OccurredAt time.Time
}

// Operation labels for Activity.
const (
	OpSave   = "save"
	OpDryRun = "dry_run"
)

// Config controls the save-activity counters kept in Redis.
type Config struct {
	Enabled   bool
	Window    time.Duration
	Retention time.Duration
}

// DefaultConfig buckets activity per hour and keeps thirty days of history.
func DefaultConfig() Config {
	return Config{
		Enabled:   true,
		Window:    time.Hour,
		Retention: 30 * 24 * time.Hour,
	}
}

type RedisSink struct {
	client *redis.Client
}

func NewRedisSink(client *redis.Client) *RedisSink {
	return &RedisSink{client: client}
}

// Write increments the time-bucketed counter for the activity and refreshes
// its retention. Disabled config is a no-op.
func (s *RedisSink) Write(ctx context.Context, activity Activity, config Config) error {
	if !config.Enabled {
		return nil
	}

	key := buildKey(activity.ParentType, activity.ParentID, activity.Operation, activity.OccurredAt, config.Window)

	pipe := s.client.Pipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, config.Retention)

	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("redis pipeline: %w", err)
	}

	return nil
}

func buildKey(parentType domain.ParentType, parentID int64, op string, t time.Time, window time.Duration) string {
	bucket := truncateToBucket(t, window)
	return fmt.Sprintf("tl:%s:%d:%s:%s", parentType, parentID, op, bucket)
}

func truncateToBucket(t time.Time, window time.Duration) string {
	t = t.UTC()
	switch window {
	case time.Minute:
		return t.Format("200601021504")
	case 5 * time.Minute:
		minute := (t.Minute() / 5) * 5
		return t.Format("2006010215") + fmt.Sprintf("%02d", minute)
	case time.Hour:
		return t.Format("2006010215")
	default:
		return t.Format("200601021504")
	}
}
