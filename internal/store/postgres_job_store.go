package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dunamismax/convertflow/internal/domain"
	_ "github.com/lib/pq"
)

const jobSchemaSQL = `
CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	source_type TEXT NOT NULL,
	webhook_url TEXT NOT NULL DEFAULT '',
	object_key TEXT NOT NULL,
	input_type TEXT NOT NULL DEFAULT '',
	output_type TEXT NOT NULL DEFAULT '',
	settings JSONB,
	progress DOUBLE PRECISION NOT NULL DEFAULT 0,
	message TEXT NOT NULL DEFAULT '',
	output_key TEXT NOT NULL DEFAULT '',
	error_code TEXT NOT NULL DEFAULT '',
	error TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS usage_logs (
	id BIGSERIAL PRIMARY KEY,
	user_id TEXT NOT NULL,
	job_id TEXT NOT NULL,
	output_type TEXT NOT NULL DEFAULT '',
	pixels_processed BIGINT NOT NULL,
	input_bytes BIGINT NOT NULL,
	output_bytes BIGINT NOT NULL,
	compute_time_ms BIGINT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
`

const jobColumns = `id, user_id, status, source_type, webhook_url, object_key, input_type, output_type,
	settings, progress, message, output_key, error_code, error, created_at, updated_at`

// PostgresJobStore persists jobs and usage logs with lib/pq.
type PostgresJobStore struct {
	db *sql.DB
}

func NewPostgresJobStore(ctx context.Context, dsn string) (*PostgresJobStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store := &PostgresJobStore{db: db}
	if err := store.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *PostgresJobStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, jobSchemaSQL); err != nil {
		return fmt.Errorf("ensure jobs schema: %w", err)
	}
	return nil
}

func (s *PostgresJobStore) Close() error {
	return s.db.Close()
}

func (s *PostgresJobStore) Create(ctx context.Context, job domain.Job) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO jobs (`+jobColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		job.ID,
		job.UserID,
		job.Status,
		job.SourceType,
		job.WebhookURL,
		job.ObjectKey,
		job.InputType,
		job.OutputType,
		nullableJSON(job.Settings),
		job.Progress,
		job.Message,
		job.OutputKey,
		job.ErrorCode,
		job.Error,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}

	return nil
}

func (s *PostgresJobStore) Get(ctx context.Context, id string) (domain.Job, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)

	var (
		job      domain.Job
		settings []byte
	)
	if err := row.Scan(
		&job.ID,
		&job.UserID,
		&job.Status,
		&job.SourceType,
		&job.WebhookURL,
		&job.ObjectKey,
		&job.InputType,
		&job.OutputType,
		&settings,
		&job.Progress,
		&job.Message,
		&job.OutputKey,
		&job.ErrorCode,
		&job.Error,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Job{}, false, nil
		}
		return domain.Job{}, false, fmt.Errorf("query job: %w", err)
	}
	if len(settings) > 0 {
		job.Settings = settings
	}

	return job, true, nil
}

func (s *PostgresJobStore) UpdateStatus(ctx context.Context, id, status string) (domain.Job, error) {
	if err := s.exec(ctx, "update job status", id,
		`UPDATE jobs SET status = $1, updated_at = $2 WHERE id = $3`,
		status, time.Now().UTC(), id,
	); err != nil {
		return domain.Job{}, err
	}
	return s.mustGet(ctx, id)
}

func (s *PostgresJobStore) UpdateProgress(ctx context.Context, id string, percent float64, message string) error {
	return s.exec(ctx, "update job progress", id,
		`UPDATE jobs SET progress = $1, message = $2, updated_at = $3 WHERE id = $4`,
		percent, message, time.Now().UTC(), id,
	)
}

func (s *PostgresJobStore) SetResult(ctx context.Context, id string, result JobResult) (domain.Job, error) {
	if err := s.exec(ctx, "set job result", id,
		`UPDATE jobs
		 SET status = $1, output_key = $2, error_code = $3, error = $4, updated_at = $5
		 WHERE id = $6`,
		result.Status, result.OutputKey, result.ErrorCode, result.Error, time.Now().UTC(), id,
	); err != nil {
		return domain.Job{}, err
	}
	return s.mustGet(ctx, id)
}

func (s *PostgresJobStore) CreateUsageLog(ctx context.Context, usage domain.UsageLog) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO usage_logs (user_id, job_id, output_type, pixels_processed, input_bytes, output_bytes, compute_time_ms, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		usage.UserID,
		usage.JobID,
		usage.OutputType,
		usage.PixelsProcessed,
		usage.InputBytes,
		usage.OutputBytes,
		usage.ComputeTimeMS,
		usage.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert usage log: %w", err)
	}
	return nil
}

func (s *PostgresJobStore) exec(ctx context.Context, op, id, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%s %s: %w", op, id, ErrJobNotFound)
	}
	return nil
}

func (s *PostgresJobStore) mustGet(ctx context.Context, id string) (domain.Job, error) {
	job, ok, err := s.Get(ctx, id)
	if err != nil {
		return domain.Job{}, err
	}
	if !ok {
		return domain.Job{}, ErrJobNotFound
	}
	return job, nil
}

func nullableJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
