package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"floodbuddy/internal/queue"
)

type TaskEnqueuer interface {
	Enqueue(ctx context.Context, task queue.Task) error
}

// Schedules use the six-field (seconds-first) cron format. An empty
// entry disables that job.
type Schedules struct {
	Export        string
	PruneSessions string
}

type Scheduler struct {
	cron      *cron.Cron
	tasks     TaskEnqueuer
	schedules Schedules
	log       zerolog.Logger
}

func NewScheduler(tasks TaskEnqueuer, schedules Schedules, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron:      cron.New(cron.WithSeconds()),
		tasks:     tasks,
		schedules: schedules,
		log:       log.With().Str("component", "scheduler").Logger(),
	}
}

func (s *Scheduler) Start() error {
	if s.tasks == nil {
		return nil
	}

	jobs := []struct {
		spec     string
		taskType string
	}{
		{s.schedules.Export, queue.TaskExport},
		{s.schedules.PruneSessions, queue.TaskPruneSessions},
	}
	for _, job := range jobs {
		if job.spec == "" {
			continue
		}
		taskType := job.taskType
		if _, err := s.cron.AddFunc(job.spec, func() { s.enqueue(taskType) }); err != nil {
			return fmt.Errorf("schedule %s: %w", taskType, err)
		}
	}

	s.cron.Start()
	s.log.Info().
		Str("export", s.schedules.Export).
		Str("prune_sessions", s.schedules.PruneSessions).
		Msg("scheduler started")
	return nil
}

// Stop waits up to five seconds for running jobs.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	select {
	case <-ctx.Done():
	case <-time.After(5 * time.Second):
		s.log.Warn().Msg("scheduler stop timed out")
	}
}

func (s *Scheduler) enqueue(taskType string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	task, err := queue.NewTask(taskType, nil)
	if err == nil {
		err = s.tasks.Enqueue(ctx, task)
	}
	if err != nil {
		s.log.Error().Err(err).Str("type", taskType).Msg("enqueue failed")
	}
}
