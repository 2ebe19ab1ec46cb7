package status

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/storyloom-ai/storyloom/story"
)

// RedisRecorder caches job status in Redis with a TTL so the job API can
// answer polling requests without touching the checkpoint store.
type RedisRecorder struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisRecorder wraps an existing Redis client. A zero TTL defaults to
// one hour.
func NewRedisRecorder(client *redis.Client, ttl time.Duration) *RedisRecorder {
	if ttl == 0 {
		ttl = time.Hour
	}
	return &RedisRecorder{client: client, ttl: ttl}
}

type statusDocument struct {
	Status    story.JobStatus `json:"status"`
	Detail    string          `json:"detail,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func statusKey(jobID string) string {
	return "storyloom:job:" + jobID + ":status"
}

func (r *RedisRecorder) Record(ctx context.Context, jobID string, jobStatus story.JobStatus, detail string) error {
	doc := statusDocument{
		Status:    jobStatus,
		Detail:    detail,
		UpdatedAt: time.Now().UTC(),
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal status: %w", err)
	}
	if err := r.client.Set(ctx, statusKey(jobID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write status to redis: %w", err)
	}
	return nil
}

// Lookup reads a job's cached status. A cache miss returns ok=false, not an
// error: callers fall back to the checkpoint store.
func (r *RedisRecorder) Lookup(ctx context.Context, jobID string) (story.JobStatus, string, bool, error) {
	data, err := r.client.Get(ctx, statusKey(jobID)).Bytes()
	if err == redis.Nil {
		return "", "", false, nil
	}
	if err != nil {
		return "", "", false, fmt.Errorf("failed to read status from redis: %w", err)
	}
	var doc statusDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return "", "", false, fmt.Errorf("failed to unmarshal status: %w", err)
	}
	return doc.Status, doc.Detail, true, nil
}
