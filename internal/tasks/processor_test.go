package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"floodbuddy/internal/events"
	"floodbuddy/internal/models"
	"floodbuddy/internal/observability"
	"floodbuddy/internal/queue"
	"floodbuddy/internal/repository"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.ReportEvent
	err    error
}

func (p *recordingPublisher) PublishReport(_ context.Context, event events.ReportEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

type memorySnapshots struct {
	objects map[string][]byte
	err     error
}

func (s *memorySnapshots) PutSnapshot(_ context.Context, key string, body []byte) error {
	if s.err != nil {
		return s.err
	}
	if s.objects == nil {
		s.objects = make(map[string][]byte)
	}
	s.objects[key] = body
	return nil
}

var exportTime = time.Date(2024, 11, 3, 8, 30, 0, 0, time.UTC)

func newProcessor() (*Processor, *repository.MemoryReportRepository, *memorySnapshots, *recordingPublisher, *observability.Metrics) {
	p, reports, _, snapshots, publisher, metrics := newProcessorWithSessions()
	return p, reports, snapshots, publisher, metrics
}

func newProcessorWithSessions() (*Processor, *repository.MemoryReportRepository, *repository.MemorySessionRepository, *memorySnapshots, *recordingPublisher, *observability.Metrics) {
	clock := clockwork.NewFakeClockAt(exportTime)
	reports := repository.NewMemoryReportRepository()
	sessions := repository.NewMemorySessionRepository(clock)
	snapshots := &memorySnapshots{}
	publisher := &recordingPublisher{}
	metrics := observability.NewMetricsForTesting()
	p := NewProcessor(reports, sessions, snapshots, publisher, clock, metrics, zerolog.Nop())
	return p, reports, sessions, snapshots, publisher, metrics
}

func message(t *testing.T, taskType string, payload any) redis.XMessage {
	t.Helper()
	task, err := queue.NewTask(taskType, payload)
	require.NoError(t, err)
	values := map[string]interface{}{"type": task.Type}
	if len(task.Payload) > 0 {
		values["payload"] = string(task.Payload)
	}
	return redis.XMessage{ID: "1-0", Values: values}
}

func TestProcessor_ReportCreatedPublishesEvent(t *testing.T) {
	p, _, _, publisher, metrics := newProcessor()
	report := models.Report{ID: "r1", Latitude: 1.3521, Longitude: 103.8198, Severity: models.SeveritySevere, CreatedAt: exportTime}

	err := p.Handle(context.Background(), message(t, queue.TaskReportCreated, queue.ReportCreatedPayload{Report: report}))
	require.NoError(t, err)

	require.Len(t, publisher.events, 1)
	assert.Equal(t, "r1", publisher.events[0].Report.ID)
	assert.Equal(t, "red", publisher.events[0].Color)
	assert.Equal(t, exportTime, publisher.events[0].PublishedAt)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.TasksProcessed.WithLabelValues(queue.TaskReportCreated, "success")))
}

func TestProcessor_PublishFailureKeepsMessagePending(t *testing.T) {
	p, _, _, publisher, metrics := newProcessor()
	publisher.err = errors.New("broker unavailable")

	err := p.Handle(context.Background(), message(t, queue.TaskReportCreated, queue.ReportCreatedPayload{Report: models.Report{ID: "r1"}}))
	assert.Error(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.TasksProcessed.WithLabelValues(queue.TaskReportCreated, "failure")))
}

func TestProcessor_ReportCreatedWithoutPayload(t *testing.T) {
	p, _, _, _, _ := newProcessor()
	err := p.Handle(context.Background(), message(t, queue.TaskReportCreated, nil))
	assert.ErrorIs(t, err, ErrEmptyPayload)
}

func TestProcessor_ExportWritesGeoJSON(t *testing.T) {
	p, reports, snapshots, _, metrics := newProcessor()
	ctx := context.Background()
	require.NoError(t, reports.Create(ctx, models.Report{ID: "a", Latitude: 1.3521, Longitude: 103.8198, Severity: models.SeveritySevere, CreatedAt: exportTime}))
	require.NoError(t, reports.Create(ctx, models.Report{ID: "b", Latitude: -33.86, Longitude: 151.2, Severity: models.SeverityMinor, CreatedAt: exportTime}))

	require.NoError(t, p.Handle(ctx, message(t, queue.TaskExport, nil)))

	require.Len(t, snapshots.objects, 1)
	for key, body := range snapshots.objects {
		assert.True(t, strings.HasPrefix(key, "snapshots/2024/11/03/"), key)
		assert.True(t, strings.HasSuffix(key, ".geojson"), key)

		var fc featureCollection
		require.NoError(t, json.Unmarshal(body, &fc))
		assert.Equal(t, "FeatureCollection", fc.Type)
		require.Len(t, fc.Features, 2)
		assert.Equal(t, [2]float64{103.8198, 1.3521}, fc.Features[0].Geometry.Coordinates)
		assert.Equal(t, "Severe", fc.Features[0].Properties.Label)
		assert.Equal(t, "green", fc.Features[1].Properties.Color)
	}
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.TasksProcessed.WithLabelValues(queue.TaskExport, "success")))
}

func TestProcessor_ExportFailsWhenStoreUnavailable(t *testing.T) {
	p, _, snapshots, _, _ := newProcessor()
	snapshots.err = errors.New("bucket gone")

	err := p.Handle(context.Background(), message(t, queue.TaskExport, nil))
	assert.Error(t, err)
}

func TestProcessor_PruneSessions(t *testing.T) {
	p, _, sessions, _, _, metrics := newProcessorWithSessions()
	ctx := context.Background()
	require.NoError(t, sessions.Create(ctx, models.Session{ID: "gone", UserID: "u1", DeviceID: "a", ExpiresAt: exportTime.Add(-time.Minute)}))
	require.NoError(t, sessions.Create(ctx, models.Session{ID: "live", UserID: "u1", DeviceID: "b", ExpiresAt: exportTime.Add(time.Hour)}))

	require.NoError(t, p.Handle(ctx, message(t, queue.TaskPruneSessions, nil)))

	_, err := sessions.GetByID(ctx, "gone")
	assert.ErrorIs(t, err, repository.ErrSessionNotFound)
	_, err = sessions.GetByID(ctx, "live")
	assert.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.TasksProcessed.WithLabelValues(queue.TaskPruneSessions, "success")))
}

func TestProcessor_DropsUnknownTasks(t *testing.T) {
	p, _, _, _, metrics := newProcessor()

	assert.NoError(t, p.Handle(context.Background(), message(t, "thumbnail", nil)))
	assert.NoError(t, p.Handle(context.Background(), redis.XMessage{ID: "2-0", Values: map[string]interface{}{}}))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.TasksProcessed.WithLabelValues("thumbnail", "dropped")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.TasksProcessed.WithLabelValues("unknown", "dropped")))
}

func TestEncodeGeoJSON_Empty(t *testing.T) {
	body, err := EncodeGeoJSON(nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"FeatureCollection","features":[]}`, string(body))
}
