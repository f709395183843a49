package mode

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

const redisStateKey = "tradecore:mode_state"

// RedisStore persists mode state as a Redis hash, for deployments where the
// control plane can restart on a different host.
type RedisStore struct {
	client  *redis.Client
	key     string
	timeout time.Duration
}

// NewRedisStore returns a store backed by the given client. An empty key
// uses the default.
func NewRedisStore(client *redis.Client, key string) *RedisStore {
	if key == "" {
		key = redisStateKey
	}
	return &RedisStore{client: client, key: key, timeout: 2 * time.Second}
}

// Load reads the persisted state hash. redis.Nil on a fresh deployment is
// surfaced so the caller falls back to the default mode.
func (s *RedisStore) Load() (State, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	values, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return State{}, fmt.Errorf("mode store: redis HGETALL %s: %w", s.key, err)
	}
	if len(values) == 0 {
		return State{}, fmt.Errorf("mode store: redis key %s: %w", s.key, redis.Nil)
	}

	current, err := strconv.Atoi(values["current_mode"])
	if err != nil {
		return State{}, fmt.Errorf("mode store: parse current_mode: %w", err)
	}
	previous, err := strconv.Atoi(values["previous_mode"])
	if err != nil {
		return State{}, fmt.Errorf("mode store: parse previous_mode: %w", err)
	}

	state := State{
		CurrentMode:  Mode(current),
		PreviousMode: Mode(previous),
		ChangedBy:    values["changed_by"],
		ChangeReason: values["change_reason"],
	}
	if raw := values["last_changed"]; raw != "" {
		if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			state.LastChanged = ts
		}
	}
	return state, nil
}

// Save writes the state hash.
func (s *RedisStore) Save(state State) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	err := s.client.HSet(ctx, s.key,
		"current_mode", int(state.CurrentMode),
		"previous_mode", int(state.PreviousMode),
		"last_changed", state.LastChanged.Format(time.RFC3339Nano),
		"changed_by", state.ChangedBy,
		"change_reason", state.ChangeReason,
	).Err()
	if err != nil {
		return fmt.Errorf("mode store: redis HSET %s: %w", s.key, err)
	}
	return nil
}
