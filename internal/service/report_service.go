package service

import (
	"context"
	"errors"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"floodbuddy/internal/flow"
	"floodbuddy/internal/ids"
	"floodbuddy/internal/models"
	"floodbuddy/internal/observability"
	"floodbuddy/internal/queue"
	"floodbuddy/internal/realtime"
	"floodbuddy/internal/repository"
)

// TaskEnqueuer is the producer side of the worker task stream.
type TaskEnqueuer interface {
	Enqueue(ctx context.Context, task queue.Task) error
}

type ReportService struct {
	store    repository.ReportStore
	notifier realtime.Notifier
	tasks    TaskEnqueuer
	clock    clockwork.Clock
	metrics  *observability.Metrics
	log      zerolog.Logger
}

func NewReportService(
	store repository.ReportStore,
	notifier realtime.Notifier,
	tasks TaskEnqueuer,
	clock clockwork.Clock,
	metrics *observability.Metrics,
	log zerolog.Logger,
) *ReportService {
	return &ReportService{
		store:    store,
		notifier: notifier,
		tasks:    tasks,
		clock:    clock,
		metrics:  metrics,
		log:      log.With().Str("component", "reports").Logger(),
	}
}

type SubmitInput struct {
	Location *models.Location
	Severity models.Severity
}

// Submit appends one report. Validation happens before the store is touched;
// the change notification and the report.created task are best effort.
func (s *ReportService) Submit(ctx context.Context, input SubmitInput) (models.Report, error) {
	if err := models.ValidateSubmission(input.Location, input.Severity); err != nil {
		s.metrics.SubmitFailures.WithLabelValues(failureReason(err)).Inc()
		return models.Report{}, err
	}

	report := models.Report{
		ID:        ids.New(),
		Latitude:  input.Location.Latitude,
		Longitude: input.Location.Longitude,
		Severity:  input.Severity,
		CreatedAt: s.clock.Now().UTC(),
	}

	if err := s.store.Create(ctx, report); err != nil {
		s.metrics.SubmitFailures.WithLabelValues("store").Inc()
		s.log.Error().Err(err).Str("report_id", report.ID).Msg("store report failed")
		return models.Report{}, &models.StoreWriteError{Err: err}
	}
	s.metrics.ReportsSubmitted.WithLabelValues(report.Severity.Label()).Inc()

	if err := s.notifier.Notify(ctx); err != nil {
		s.log.Warn().Err(err).Str("report_id", report.ID).Msg("publish report change failed")
	}

	if task, err := queue.NewTask(queue.TaskReportCreated, queue.ReportCreatedPayload{Report: report}); err != nil {
		s.log.Warn().Err(err).Msg("build report.created task failed")
	} else if err := s.tasks.Enqueue(ctx, task); err != nil {
		s.log.Warn().Err(err).Str("report_id", report.ID).Msg("enqueue report.created failed")
	}

	s.log.Info().
		Str("report_id", report.ID).
		Str("severity", report.Severity.Label()).
		Float64("lat", report.Latitude).
		Float64("lng", report.Longitude).
		Msg("report created")
	return report, nil
}

// List is fetch-all. Callers must not rely on the order.
func (s *ReportService) List(ctx context.Context) ([]models.Report, error) {
	return s.store.List(ctx)
}

func (s *ReportService) Markers(ctx context.Context) ([]models.Marker, error) {
	reports, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	return flow.Markers(models.Snapshot{Reports: reports}), nil
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, models.ErrLocationUnavailable):
		return "location_unavailable"
	default:
		return "invalid"
	}
}
