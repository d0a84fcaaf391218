package worker

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/examportal/internal/model"
)

const (
	BatchSize    = 50
	BatchTimeout = 2 * time.Second
	PollTimeout  = 1 * time.Second // Must be >= 1s to satisfy Redis
)

// EventQueue is the Redis list proctoring events wait on.
type EventQueue interface {
	PopProctoringEvent(ctx context.Context, timeout time.Duration) ([]byte, error)
	RequeueProctoringEvents(ctx context.Context, events []*model.ProctoringEvent) error
}

// EventSink is the table proctoring events end up in.
type EventSink interface {
	CopyEvents(ctx context.Context, events []*model.ProctoringEvent) error
	InsertEvent(ctx context.Context, ev *model.ProctoringEvent) error
}

// ProctoringWorker moves queued proctoring events into PostgreSQL in batches.
type ProctoringWorker struct {
	queue EventQueue
	sink  EventSink
	log   zerolog.Logger

	// backoff is slept after a Redis error or a requeue.
	backoff time.Duration
}

func NewProctoringWorker(queue EventQueue, sink EventSink, log zerolog.Logger) *ProctoringWorker {
	return &ProctoringWorker{
		queue:   queue,
		sink:    sink,
		log:     log.With().Str("component", "proctoring_worker").Logger(),
		backoff: 2 * time.Second,
	}
}

// Start consumes the queue until ctx is cancelled, then flushes what it holds.
func (w *ProctoringWorker) Start(ctx context.Context) {
	w.log.Info().Msg("ProctoringWorker started")

	buffer := make([]*model.ProctoringEvent, 0, BatchSize)
	lastFlushTime := time.Now()

	for {
		// 1. Flush on size or age
		if len(buffer) > 0 && (len(buffer) >= BatchSize || time.Since(lastFlushTime) >= BatchTimeout) {
			w.flushSafe(ctx, buffer)
			buffer = buffer[:0]
			lastFlushTime = time.Now()
		}

		// 2. Graceful shutdown
		select {
		case <-ctx.Done():
			w.shutdown(buffer)
			return
		default:
		}

		// 3. Blocks for PollTimeout, returns immediately if data exists.
		data, err := w.queue.PopProctoringEvent(ctx, PollTimeout)
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				continue // next iteration drains
			}
			w.log.Error().Err(err).Msg("Redis queue error, backing off")
			w.sleep(ctx)
			continue
		}

		// 4. Malformed payloads can never succeed; drop them.
		var ev model.ProctoringEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			w.log.Error().Err(err).Str("data", string(data)).Msg("Discarding malformed proctoring event")
			continue
		}
		buffer = append(buffer, &ev)
	}
}

// flushSafe attempts a bulk COPY, then row-by-row inserts, then requeues.
func (w *ProctoringWorker) flushSafe(ctx context.Context, batch []*model.ProctoringEvent) {
	err := w.sink.CopyEvents(ctx, batch)
	if err == nil {
		w.log.Debug().Int("count", len(batch)).Msg("Persisted proctoring events")
		return
	}
	w.log.Warn().Err(err).Int("count", len(batch)).Msg("Bulk insert failed, attempting row-by-row recovery")
	w.fallbackInsert(ctx, batch)
}

func (w *ProctoringWorker) fallbackInsert(ctx context.Context, batch []*model.ProctoringEvent) {
	requeue := make([]*model.ProctoringEvent, 0)

	for _, ev := range batch {
		err := w.sink.InsertEvent(ctx, ev)
		if err == nil {
			continue
		}
		// Constraint violations (e.g. a deleted attempt) will never insert.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && strings.HasPrefix(pgErr.Code, "23") {
			w.log.Error().Err(err).Str("attempt_id", ev.AttemptID.String()).Msg("Dropping proctoring event")
			continue
		}
		w.log.Error().Err(err).Str("attempt_id", ev.AttemptID.String()).Msg("Insert failed, requeueing")
		requeue = append(requeue, ev)
	}

	if len(requeue) > 0 {
		w.requeue(ctx, requeue)
	}
}

func (w *ProctoringWorker) requeue(ctx context.Context, items []*model.ProctoringEvent) {
	// The shutdown context may already be cancelled; requeue must still reach Redis.
	pushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
	defer cancel()

	if err := w.queue.RequeueProctoringEvents(pushCtx, items); err != nil {
		w.log.Error().Err(err).Int("count", len(items)).Msg("CRITICAL: Failed to requeue proctoring events. Data loss occurred.")
		return
	}
	w.log.Info().Int("count", len(items)).Msg("Requeued failed events back to Redis")
	w.sleep(ctx)
}

func (w *ProctoringWorker) sleep(ctx context.Context) {
	t := time.NewTimer(w.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (w *ProctoringWorker) shutdown(buffer []*model.ProctoringEvent) {
	w.log.Info().Int("pending", len(buffer)).Msg("Worker stopping, flushing remaining buffer")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if len(buffer) > 0 {
		w.flushSafe(shutdownCtx, buffer)
	}
}
