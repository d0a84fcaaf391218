package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/examportal/internal/model"
	"github.com/stemsi/examportal/internal/repository"
	"github.com/stemsi/examportal/internal/response"
	"github.com/stemsi/examportal/internal/service"
)

const (
	refreshInterval   = 15 * time.Second
	keepAliveInterval = 30 * time.Second
	refreshTimeout    = 5 * time.Second // prevent slow queries from blocking the SSE loop
)

// ExamLookup loads exam rows.
type ExamLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error)
}

// Snapshotter aggregates the attempts of an exam.
type Snapshotter interface {
	Snapshot(ctx context.Context, examID uuid.UUID) (*service.MonitorSnapshot, error)
}

// MonitorFeed delivers raw live monitor messages of one exam until the
// returned stop function is called.
type MonitorFeed interface {
	Subscribe(ctx context.Context, examID uuid.UUID) (<-chan []byte, func())
}

// RedisMonitorFeed reads the exam monitor channel from Redis Pub/Sub.
type RedisMonitorFeed struct {
	cache *repository.CacheRepository
}

func NewRedisMonitorFeed(cache *repository.CacheRepository) *RedisMonitorFeed {
	return &RedisMonitorFeed{cache: cache}
}

func (f *RedisMonitorFeed) Subscribe(ctx context.Context, examID uuid.UUID) (<-chan []byte, func()) {
	pubsub := f.cache.SubscribeMonitor(ctx, examID.String())
	out := make(chan []byte)
	go func() {
		defer close(out)
		for msg := range pubsub.Channel() {
			select {
			case out <- []byte(msg.Payload):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, func() { pubsub.Close() }
}

type MonitorHandler struct {
	exams   ExamLookup
	monitor Snapshotter
	feed    MonitorFeed
	refresh time.Duration
	log     zerolog.Logger
}

func NewMonitorHandler(exams ExamLookup, monitor Snapshotter, feed MonitorFeed, log zerolog.Logger) *MonitorHandler {
	return &MonitorHandler{
		exams:   exams,
		monitor: monitor,
		feed:    feed,
		refresh: refreshInterval,
		log:     log.With().Str("component", "monitor_handler").Logger(),
	}
}

// monitorEvent is every SSE message of the live monitor.
type monitorEvent struct {
	Type string                   `json:"type"`
	Exam *monitorExam             `json:"exam,omitempty"`
	Data *service.MonitorSnapshot `json:"data,omitempty"`
}

type monitorExam struct {
	ID              uuid.UUID `json:"id"`
	Title           string    `json:"title"`
	DurationMinutes int       `json:"duration_minutes"`
}

// MonitorExamSSE godoc
// GET /api/v1/faculty/exams/:id/monitor
// Streams a snapshot, then live attempt and proctoring events, with a
// periodic refresh while any attempt exists.
func (h *MonitorHandler) MonitorExamSSE(c *gin.Context) {
	examID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	exam, err := h.exams.GetByID(c.Request.Context(), examID)
	if err != nil {
		failExam(c, err)
		return
	}

	reqCtx := c.Request.Context()

	snap, err := h.snapshot(reqCtx, examID)
	if err != nil {
		h.log.Error().Err(err).Str("exam_id", examID.String()).Msg("Failed to build monitor snapshot")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	c.SSEvent("message", monitorEvent{
		Type: "snapshot",
		Exam: &monitorExam{
			ID:              exam.ID,
			Title:           exam.Title,
			DurationMinutes: exam.DurationMinutes,
		},
		Data: snap,
	})
	c.Writer.Flush()

	updates, stop := h.feed.Subscribe(reqCtx, examID)
	defer stop()

	keepAliveTicker := time.NewTicker(keepAliveInterval)
	defer keepAliveTicker.Stop()

	refreshTicker := time.NewTicker(h.refresh)
	defer refreshTicker.Stop()

	// Skip refresh queries until some attempt exists.
	hasAttempts := len(snap.Attempts) > 0

	h.log.Info().Str("exam_id", examID.String()).Msg("Faculty attached to live monitor SSE")

	pingPayload, _ := json.Marshal(monitorEvent{Type: "ping"})

	for {
		select {
		case <-reqCtx.Done():
			h.log.Info().Str("exam_id", examID.String()).Msg("Faculty disconnected from live monitor SSE")
			return

		case msg, ok := <-updates:
			if !ok {
				return
			}
			// Forward raw JSON directly, no deserialization needed.
			h.writeRaw(c, msg)
			hasAttempts = true

		case <-refreshTicker.C:
			if !hasAttempts {
				continue
			}
			snap, err := h.snapshot(reqCtx, examID)
			if err != nil {
				h.log.Warn().Err(err).Msg("Failed to refresh monitor snapshot")
				continue
			}
			c.SSEvent("message", monitorEvent{Type: "refresh", Data: snap})
			c.Writer.Flush()

		case <-keepAliveTicker.C:
			h.writeRaw(c, pingPayload)
		}
	}
}

func (h *MonitorHandler) snapshot(parent context.Context, examID uuid.UUID) (*service.MonitorSnapshot, error) {
	ctx, cancel := context.WithTimeout(parent, refreshTimeout)
	defer cancel()
	return h.monitor.Snapshot(ctx, examID)
}

func (h *MonitorHandler) writeRaw(c *gin.Context, payload []byte) {
	c.Writer.Write([]byte("data: "))
	c.Writer.Write(payload)
	c.Writer.Write([]byte("\n\n"))
	c.Writer.Flush()
}
