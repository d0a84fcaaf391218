package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stemsi/examportal/internal/config"
	"github.com/stemsi/examportal/internal/model"
)

// ErrCacheMiss is returned when a cached value does not exist.
var ErrCacheMiss = errors.New("cache miss")

// CacheRepository wraps the Redis "fast lane": cached exam payloads, attempt
// start times, the proctoring persistence queue and the monitor channels.
type CacheRepository struct {
	rdb *redis.Client
}

// NewCacheRepository creates a new CacheRepository.
func NewCacheRepository(rdb *redis.Client) *CacheRepository {
	return &CacheRepository{rdb: rdb}
}

// GetExamPayload returns the cached student payload of an exam.
func (r *CacheRepository) GetExamPayload(ctx context.Context, examID string) (*model.ExamPayload, error) {
	data, err := r.rdb.Get(ctx, config.CacheKey.ExamPayloadKey(examID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("get payload: %w", err)
	}

	var payload model.ExamPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	return &payload, nil
}

// SetExamPayload caches the student payload of an exam.
func (r *CacheRepository) SetExamPayload(ctx context.Context, examID string, payload *model.ExamPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return r.rdb.Set(ctx, config.CacheKey.ExamPayloadKey(examID), data, 0).Err()
}

// SetAttemptStart records when a student's attempt started. The entry lives
// until the attempt deadline passes.
func (r *CacheRepository) SetAttemptStart(ctx context.Context, examID string, studentID int, startedAt, deadline time.Time) error {
	ttl := time.Until(deadline) + time.Hour
	if ttl <= 0 {
		ttl = time.Hour
	}
	return r.rdb.Set(ctx, config.CacheKey.AttemptStartKey(examID, studentID), startedAt.Unix(), ttl).Err()
}

// PushProctoringEvent queues an event for persistence and broadcasts it to
// the exam's live monitor in one round trip.
func (r *CacheRepository) PushProctoringEvent(ctx context.Context, ev *model.ProctoringEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	msg, err := json.Marshal(model.MonitorMessage{
		Type:       model.MonitorProctoring,
		AttemptID:  ev.AttemptID,
		StudentID:  ev.StudentID,
		At:         ev.OccurredAt,
		Proctoring: ev,
	})
	if err != nil {
		return fmt.Errorf("marshal monitor message: %w", err)
	}
	pipe := r.rdb.Pipeline()
	pipe.RPush(ctx, config.WorkerKey.PersistProctoringQueue, data)
	pipe.Publish(ctx, config.CacheKey.ExamMonitorChannel(ev.ExamID.String()), msg)
	_, err = pipe.Exec(ctx)
	return err
}

// PublishMonitor broadcasts a message to an exam's live monitor.
func (r *CacheRepository) PublishMonitor(ctx context.Context, examID string, msg *model.MonitorMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal monitor message: %w", err)
	}
	return r.rdb.Publish(ctx, config.CacheKey.ExamMonitorChannel(examID), data).Err()
}

// SubscribeMonitor subscribes to an exam's live monitor channel.
func (r *CacheRepository) SubscribeMonitor(ctx context.Context, examID string) *redis.PubSub {
	return r.rdb.Subscribe(ctx, config.CacheKey.ExamMonitorChannel(examID))
}

// PopProctoringEvent blocks up to timeout for the next queued event.
// It returns redis.Nil when the queue stayed empty.
func (r *CacheRepository) PopProctoringEvent(ctx context.Context, timeout time.Duration) ([]byte, error) {
	result, err := r.rdb.BLPop(ctx, timeout, config.WorkerKey.PersistProctoringQueue).Result()
	if err != nil {
		return nil, err
	}
	// BLPop returns [key, value].
	if len(result) < 2 {
		return nil, redis.Nil
	}
	return []byte(result[1]), nil
}

// RequeueProctoringEvents pushes events back onto the persistence queue.
func (r *CacheRepository) RequeueProctoringEvents(ctx context.Context, events []*model.ProctoringEvent) error {
	pipe := r.rdb.Pipeline()
	for _, ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("marshal event: %w", err)
		}
		pipe.RPush(ctx, config.WorkerKey.PersistProctoringQueue, data)
	}
	_, err := pipe.Exec(ctx)
	return err
}
