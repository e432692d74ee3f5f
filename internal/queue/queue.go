// Package queue is the durable, redis-backed encoding job queue. Jobs wait
// on a list, retries wait in a delayed set scored by their ready time, and
// per-job state lives in a hash so completed and failed runs can be pruned
// on a retention schedule.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hanvq/facegallery/internal/encoder"
)

const (
	waitingKey = "facegallery:encoding:waiting"
	delayedKey = "facegallery:encoding:delayed"
	jobPrefix  = "facegallery:encoding:job:"

	// DefaultMaxAttempts is the default retry limit per job
	DefaultMaxAttempts = 3

	// DefaultBackoffBase is the first retry delay; it doubles per attempt
	DefaultBackoffBase = 5 * time.Second

	// CompletedRetention bounds how long finished jobs are kept
	CompletedRetention = 24 * time.Hour

	// FailedRetention bounds how long terminally failed jobs are kept
	FailedRetention = 7 * 24 * time.Hour
)

// Job statuses stored in the job hash
const (
	StatusWaiting   = "waiting"
	StatusActive    = "active"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// ErrEmpty is returned by Dequeue when no job became ready within the wait
var ErrEmpty = errors.New("queue is empty")

// Job is one batch of photos to run through the face-encoding service
type Job struct {
	ID      string             `json:"id"`
	AlbumID int64              `json:"album_id"`
	Photos  []encoder.PhotoRef `json:"photos"`

	// Incremental selects the merge-into-existing encode path
	Incremental bool `json:"incremental,omitempty"`

	// Priority above zero jumps the job to the front of the queue
	Priority int `json:"priority,omitempty"`

	// MaxAttempts bounds retries; zero means DefaultMaxAttempts
	MaxAttempts int `json:"max_attempts,omitempty"`

	// BackoffBase is the first retry delay; zero means DefaultBackoffBase
	BackoffBase time.Duration `json:"backoff_base,omitempty"`

	EnqueuedAt time.Time `json:"enqueued_at"`
}

// RetryLimit returns the job's retry limit with the default applied
func (j *Job) RetryLimit() int {
	if j.MaxAttempts <= 0 {
		return DefaultMaxAttempts
	}
	return j.MaxAttempts
}

// NextDelay returns the backoff delay before the given retry attempt.
// The delay doubles per attempt: base, 2*base, 4*base, ...
func (j *Job) NextDelay(attempt int) time.Duration {
	base := j.BackoffBase
	if base <= 0 {
		base = DefaultBackoffBase
	}
	if attempt < 1 {
		attempt = 1
	}
	return base << (attempt - 1)
}

// NewJobID builds the queue job id for an album from the enqueue time
func NewJobID(albumID int64, now time.Time) string {
	return fmt.Sprintf("encoding-%d-%d", albumID, now.UnixMilli())
}

// Queue is the redis-backed job queue
type Queue struct {
	rdb *redis.Client
	now func() time.Time
}

// New creates a Queue over the given redis client
func New(rdb *redis.Client) *Queue {
	return &Queue{rdb: rdb, now: time.Now}
}

func jobKey(id string) string { return jobPrefix + id }

// Enqueue adds a job to the waiting list and records its state hash
func (q *Queue) Enqueue(ctx context.Context, job *Job) error {
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = q.now()
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode job %s: %w", job.ID, err)
	}

	pipe := q.rdb.TxPipeline()
	pipe.HSet(ctx, jobKey(job.ID), map[string]any{
		"payload":     payload,
		"status":      StatusWaiting,
		"attempts":    0,
		"enqueued_at": job.EnqueuedAt.Unix(),
	})
	if job.Priority > 0 {
		pipe.RPush(ctx, waitingKey, job.ID)
	} else {
		pipe.LPush(ctx, waitingKey, job.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to enqueue job %s: %w", job.ID, err)
	}
	return nil
}

// Dequeue blocks up to wait for the next ready job and marks it active.
// Returns ErrEmpty when nothing became ready.
func (q *Queue) Dequeue(ctx context.Context, wait time.Duration) (*Job, error) {
	res, err := q.rdb.BRPop(ctx, wait, waitingKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrEmpty
		}
		return nil, fmt.Errorf("failed to pop job: %w", err)
	}

	// BRPop returns [key, value]
	id := res[1]
	payload, err := q.rdb.HGet(ctx, jobKey(id), "payload").Bytes()
	if err != nil {
		return nil, fmt.Errorf("failed to load job %s: %w", id, err)
	}

	var job Job
	if err := json.Unmarshal(payload, &job); err != nil {
		return nil, fmt.Errorf("failed to decode job %s: %w", id, err)
	}

	if err := q.rdb.HSet(ctx, jobKey(id), "status", StatusActive).Err(); err != nil {
		return nil, fmt.Errorf("failed to mark job %s active: %w", id, err)
	}
	return &job, nil
}

// IncrAttempts bumps and returns the job's attempt counter
func (q *Queue) IncrAttempts(ctx context.Context, id string) (int, error) {
	attempts, err := q.rdb.HIncrBy(ctx, jobKey(id), "attempts", 1).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count attempt for job %s: %w", id, err)
	}
	return int(attempts), nil
}

// Retry schedules the job to re-enter the waiting list after delay
func (q *Queue) Retry(ctx context.Context, job *Job, delay time.Duration) error {
	readyAt := q.now().Add(delay)
	pipe := q.rdb.TxPipeline()
	pipe.HSet(ctx, jobKey(job.ID), "status", StatusWaiting)
	pipe.ZAdd(ctx, delayedKey, redis.Z{Score: float64(readyAt.Unix()), Member: job.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to schedule retry for job %s: %w", job.ID, err)
	}
	return nil
}

// PromoteDelayed moves every delayed job whose ready time has passed back
// onto the waiting list. Returns the number promoted.
func (q *Queue) PromoteDelayed(ctx context.Context) (int, error) {
	now := strconv.FormatInt(q.now().Unix(), 10)
	ids, err := q.rdb.ZRangeByScore(ctx, delayedKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: now,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to list due jobs: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	pipe := q.rdb.TxPipeline()
	for _, id := range ids {
		pipe.ZRem(ctx, delayedKey, id)
		pipe.LPush(ctx, waitingKey, id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to promote due jobs: %w", err)
	}
	return len(ids), nil
}

// MarkCompleted records terminal success for the job
func (q *Queue) MarkCompleted(ctx context.Context, id string) error {
	return q.finish(ctx, id, StatusCompleted, "")
}

// MarkFailed records terminal failure for the job
func (q *Queue) MarkFailed(ctx context.Context, id string, cause string) error {
	return q.finish(ctx, id, StatusFailed, cause)
}

func (q *Queue) finish(ctx context.Context, id, jobStatus, cause string) error {
	fields := map[string]any{
		"status":      jobStatus,
		"finished_at": q.now().Unix(),
	}
	if cause != "" {
		fields["error"] = cause
	}
	if err := q.rdb.HSet(ctx, jobKey(id), fields).Err(); err != nil {
		return fmt.Errorf("failed to mark job %s %s: %w", id, jobStatus, err)
	}
	return nil
}

// Stats reports the queue's current depth by state
type Stats struct {
	Waiting   int64 `json:"waiting"`
	Delayed   int64 `json:"delayed"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// GetStats returns current queue statistics
func (q *Queue) GetStats(ctx context.Context) (*Stats, error) {
	waiting, err := q.rdb.LLen(ctx, waitingKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to count waiting jobs: %w", err)
	}
	delayed, err := q.rdb.ZCard(ctx, delayedKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to count delayed jobs: %w", err)
	}

	stats := &Stats{Waiting: waiting, Delayed: delayed}
	keys, err := q.rdb.Keys(ctx, jobPrefix+"*").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list job keys: %w", err)
	}
	for _, key := range keys {
		jobStatus, err := q.rdb.HGet(ctx, key, "status").Result()
		if err != nil {
			continue
		}
		switch jobStatus {
		case StatusCompleted:
			stats.Completed++
		case StatusFailed:
			stats.Failed++
		}
	}
	return stats, nil
}

// Clean prunes terminal jobs past their retention window: completed jobs
// older than CompletedRetention and failed jobs older than FailedRetention.
// Returns the number of jobs removed.
func (q *Queue) Clean(ctx context.Context) (int, error) {
	keys, err := q.rdb.Keys(ctx, jobPrefix+"*").Result()
	if err != nil {
		return 0, fmt.Errorf("failed to list job keys: %w", err)
	}

	now := q.now()
	removed := 0
	for _, key := range keys {
		fields, err := q.rdb.HMGet(ctx, key, "status", "finished_at").Result()
		if err != nil || len(fields) != 2 {
			continue
		}
		jobStatus, _ := fields[0].(string)
		finishedRaw, _ := fields[1].(string)
		if finishedRaw == "" {
			continue
		}
		finishedUnix, err := strconv.ParseInt(finishedRaw, 10, 64)
		if err != nil {
			continue
		}
		if !Prunable(jobStatus, time.Unix(finishedUnix, 0), now) {
			continue
		}
		if err := q.rdb.Del(ctx, key).Err(); err == nil {
			removed++
		}
	}
	return removed, nil
}

// Prunable reports whether a terminal job finished at finishedAt should be
// removed at time now under the retention policy.
func Prunable(jobStatus string, finishedAt, now time.Time) bool {
	switch jobStatus {
	case StatusCompleted:
		return now.Sub(finishedAt) > CompletedRetention
	case StatusFailed:
		return now.Sub(finishedAt) > FailedRetention
	default:
		return false
	}
}
