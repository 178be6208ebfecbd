package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"floodbuddy/internal/models"
)

type ReportRepository struct {
	pool *pgxpool.Pool
}

func NewReportRepository(pool *pgxpool.Pool) *ReportRepository {
	return &ReportRepository{pool: pool}
}

func (r *ReportRepository) Create(ctx context.Context, report models.Report) error {
	const query = `
		INSERT INTO reports (id, latitude, longitude, severity, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := r.pool.Exec(ctx, query,
		report.ID,
		report.Latitude,
		report.Longitude,
		int(report.Severity),
		report.CreatedAt,
	)
	return err
}

func (r *ReportRepository) List(ctx context.Context) ([]models.Report, error) {
	const query = `
		SELECT id, latitude, longitude, severity, created_at
		FROM reports
		ORDER BY created_at, id
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	reports := make([]models.Report, 0)
	for rows.Next() {
		var (
			report   models.Report
			severity int
		)
		if err := rows.Scan(
			&report.ID,
			&report.Latitude,
			&report.Longitude,
			&severity,
			&report.CreatedAt,
		); err != nil {
			return nil, err
		}
		report.Severity = models.Severity(severity)
		reports = append(reports, report)
	}
	return reports, rows.Err()
}

func (r *ReportRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}
