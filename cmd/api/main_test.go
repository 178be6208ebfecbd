package main

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"floodbuddy/internal/config"
	"floodbuddy/internal/jobs"
)

func TestSchedulesFor(t *testing.T) {
	cfg := &config.AppConfig{
		Postgres: config.PostgresConfig{DSN: "postgres://floodbuddy@localhost/floodbuddy"},
		Security: config.SecurityConfig{PruneSchedule: "0 30 3 * * *"},
		Reports:  config.ReportsConfig{ExportSchedule: "0 0 * * * *"},
	}

	assert.Equal(t, jobs.Schedules{Export: "0 0 * * * *", PruneSessions: "0 30 3 * * *"}, schedulesFor(cfg, zerolog.Nop()))

	cfg.Postgres.DSN = ""
	assert.Equal(t, jobs.Schedules{}, schedulesFor(cfg, zerolog.Nop()))
}
