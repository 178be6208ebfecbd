package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"floodbuddy/internal/events"
	"floodbuddy/internal/ids"
	"floodbuddy/internal/models"
	"floodbuddy/internal/observability"
	"floodbuddy/internal/queue"
)

var ErrEmptyPayload = errors.New("task payload is empty")

type ReportLister interface {
	List(ctx context.Context) ([]models.Report, error)
}

type SessionPruner interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

type SnapshotWriter interface {
	PutSnapshot(ctx context.Context, key string, body []byte) error
}

type Processor struct {
	reports   ReportLister
	sessions  SessionPruner
	snapshots SnapshotWriter
	publisher events.Publisher
	clock     clockwork.Clock
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

func NewProcessor(reports ReportLister, sessions SessionPruner, snapshots SnapshotWriter, publisher events.Publisher, clock clockwork.Clock, metrics *observability.Metrics, logger zerolog.Logger) *Processor {
	return &Processor{
		reports:   reports,
		sessions:  sessions,
		snapshots: snapshots,
		publisher: publisher,
		clock:     clock,
		metrics:   metrics,
		logger:    logger.With().Str("component", "task_processor").Logger(),
	}
}

// Handle implements queue.MessageHandler. An error leaves the entry pending
// for redelivery; unknown and undecodable tasks are dropped.
func (p *Processor) Handle(ctx context.Context, msg redis.XMessage) error {
	task, err := queue.DecodeTask(msg)
	if err != nil {
		p.logger.Warn().Err(err).Str("message_id", msg.ID).Msg("drop undecodable task")
		p.record("unknown", "dropped")
		return nil
	}

	switch task.Type {
	case queue.TaskReportCreated:
		err = p.handleReportCreated(ctx, task)
	case queue.TaskExport:
		err = p.handleExport(ctx)
	case queue.TaskPruneSessions:
		err = p.handlePruneSessions(ctx)
	default:
		p.logger.Warn().Str("type", task.Type).Msg("unknown task type")
		p.record(task.Type, "dropped")
		return nil
	}

	if err != nil {
		p.record(task.Type, "failure")
		return fmt.Errorf("%s: %w", task.Type, err)
	}
	p.record(task.Type, "success")
	return nil
}

func (p *Processor) handleReportCreated(ctx context.Context, task queue.Task) error {
	if len(task.Payload) == 0 {
		return ErrEmptyPayload
	}
	var payload queue.ReportCreatedPayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return p.publisher.PublishReport(ctx, events.NewReportEvent(payload.Report, p.clock.Now()))
}

func (p *Processor) handleExport(ctx context.Context) error {
	reports, err := p.reports.List(ctx)
	if err != nil {
		return fmt.Errorf("list reports: %w", err)
	}

	body, err := EncodeGeoJSON(reports)
	if err != nil {
		return err
	}

	key := SnapshotKey(p.clock.Now())
	if err := p.snapshots.PutSnapshot(ctx, key, body); err != nil {
		return err
	}
	p.logger.Info().Str("key", key).Int("reports", len(reports)).Msg("snapshot exported")
	return nil
}

func (p *Processor) handlePruneSessions(ctx context.Context) error {
	removed, err := p.sessions.DeleteExpired(ctx)
	if err != nil {
		return err
	}
	p.logger.Info().Int64("removed", removed).Msg("expired sessions pruned")
	return nil
}

// SnapshotKey lays exports out by UTC day.
func SnapshotKey(now time.Time) string {
	return fmt.Sprintf("snapshots/%s/%s.geojson", now.UTC().Format("2006/01/02"), ids.New())
}

func (p *Processor) record(taskType, outcome string) {
	if p.metrics == nil {
		return
	}
	p.metrics.TasksProcessed.WithLabelValues(taskType, outcome).Inc()
}
