package status

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/egeatmaca/bgp-analytics-engine/pkg/models"
)

// Options configures the Redis recorder
type Options struct {
	KeyPrefix string
	Expiry    time.Duration
}

// DefaultOptions returns default Redis recorder options
func DefaultOptions() *Options {
	return &Options{
		KeyPrefix: "bgpload:",
		Expiry:    7 * 24 * time.Hour,
	}
}

// RedisRecorder keeps one hash per run, keyed by range index
type RedisRecorder struct {
	rds  *redis.Client
	opts *Options
}

// NewRedisRecorder creates a Redis based recorder
func NewRedisRecorder(redisClient *redis.Client, opts *Options) *RedisRecorder {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &RedisRecorder{
		rds:  redisClient,
		opts: opts,
	}
}

func (r *RedisRecorder) runKey(runID string) string {
	return r.opts.KeyPrefix + "run:" + runID
}

// Begin registers all ranges of the run as pending
func (r *RedisRecorder) Begin(ctx context.Context, runID string, ranges []models.TimeRange) error {
	values := make([]interface{}, 0, len(ranges)*2)
	for i, tr := range ranges {
		data, err := json.Marshal(NewRangeStatus(i, tr, StatePending))
		if err != nil {
			return err
		}
		values = append(values, strconv.Itoa(i), data)
	}

	key := r.runKey(runID)
	pipe := r.rds.TxPipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key, values...)
	pipe.Expire(ctx, key, r.opts.Expiry)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to register run %s: %w", runID, err)
	}
	return nil
}

// Update replaces the entry of one range
func (r *RedisRecorder) Update(ctx context.Context, runID string, st RangeStatus) error {
	data, err := json.Marshal(st)
	if err != nil {
		return err
	}

	key := r.runKey(runID)
	pipe := r.rds.TxPipeline()
	pipe.HSet(ctx, key, strconv.Itoa(st.Index), data)
	pipe.Expire(ctx, key, r.opts.Expiry)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to update range %d of run %s: %w", st.Index, runID, err)
	}
	return nil
}

// List returns the entries of a run ordered by range index
func (r *RedisRecorder) List(ctx context.Context, runID string) ([]RangeStatus, error) {
	entries, err := r.rds.HGetAll(ctx, r.runKey(runID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read run %s: %w", runID, err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("run %s not found", runID)
	}

	out := make([]RangeStatus, 0, len(entries))
	for field, data := range entries {
		var st RangeStatus
		if err := json.Unmarshal([]byte(data), &st); err != nil {
			return nil, fmt.Errorf("invalid entry %s of run %s: %w", field, runID, err)
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

// Failed returns the failed ranges of a run
func (r *RedisRecorder) Failed(ctx context.Context, runID string) ([]RangeStatus, error) {
	all, err := r.List(ctx, runID)
	if err != nil {
		return nil, err
	}

	var failed []RangeStatus
	for _, st := range all {
		if st.State == StateFailed {
			failed = append(failed, st)
		}
	}
	return failed, nil
}
