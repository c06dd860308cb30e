package distributed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lattiam/launchpad/internal/interfaces"
)

const (
	runKeyPrefix = "launchpad:run:"
	runIndexKey  = "launchpad:runs"
	// DefaultRunTTL is how long finished runs stay in Redis
	DefaultRunTTL = 7 * 24 * time.Hour
)

// RunStore implements interfaces.RunStore on Redis. Runs are JSON documents
// indexed by creation time in a sorted set.
type RunStore struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRunStore creates a run store from a redis:// URL
func NewRunStore(redisURL string, ttl time.Duration) (*RunStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	return NewRunStoreWithClient(redis.NewClient(opts), ttl), nil
}

// NewRunStoreWithClient creates a run store over an existing client
func NewRunStoreWithClient(client redis.UniversalClient, ttl time.Duration) *RunStore {
	if ttl <= 0 {
		ttl = DefaultRunTTL
	}
	return &RunStore{client: client, ttl: ttl}
}

// Save stores the run snapshot. Only finished runs expire.
func (s *RunStore) Save(ctx context.Context, run *interfaces.DeploymentRun) error {
	if run == nil {
		return fmt.Errorf("run is nil")
	}
	if run.ID == "" {
		return fmt.Errorf("run ID is empty")
	}

	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to marshal run %s: %w", run.ID, err)
	}

	var ttl time.Duration
	if run.Status.IsTerminal() {
		ttl = s.ttl
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, runKeyPrefix+run.ID, data, ttl)
		pipe.ZAdd(ctx, runIndexKey, redis.Z{Score: float64(run.CreatedAt.UnixNano()), Member: run.ID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save run %s: %w", run.ID, err)
	}
	return nil
}

// Get returns the run
func (s *RunStore) Get(ctx context.Context, id string) (*interfaces.DeploymentRun, error) {
	data, err := s.client.Get(ctx, runKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, interfaces.NewError(interfaces.KindNotFound, "run %q not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run %s: %w", id, err)
	}

	var run interfaces.DeploymentRun
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run %s: %w", id, err)
	}
	return &run, nil
}

// List returns runs matching the filter, newest first. Index entries whose
// run has expired are pruned as they are found.
func (s *RunStore) List(ctx context.Context, filter interfaces.RunFilter) ([]*interfaces.DeploymentRun, error) {
	ids, err := s.client.ZRevRange(ctx, runIndexKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	var results []*interfaces.DeploymentRun
	var stale []interface{}
	for _, id := range ids {
		run, err := s.Get(ctx, id)
		if interfaces.IsKind(err, interfaces.KindNotFound) {
			stale = append(stale, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		if !filter.Matches(run) {
			continue
		}
		results = append(results, run)
		if filter.Limit > 0 && len(results) == filter.Limit {
			break
		}
	}

	if len(stale) > 0 {
		if err := s.client.ZRem(ctx, runIndexKey, stale...).Err(); err != nil {
			return nil, fmt.Errorf("failed to prune run index: %w", err)
		}
	}
	return results, nil
}

// Delete removes a run
func (s *RunStore) Delete(ctx context.Context, id string) error {
	var deleted *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		deleted = pipe.Del(ctx, runKeyPrefix+id)
		pipe.ZRem(ctx, runIndexKey, id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete run %s: %w", id, err)
	}
	if deleted.Val() == 0 {
		return interfaces.NewError(interfaces.KindNotFound, "run %q not found", id)
	}
	return nil
}

// Close closes the Redis client
func (s *RunStore) Close() error {
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("failed to close redis client: %w", err)
	}
	return nil
}
