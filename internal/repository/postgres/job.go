package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"carrent-backend/internal/domain"
	"carrent-backend/internal/logger"
	"carrent-backend/internal/repository"

	"github.com/google/uuid"
)

type jobRepository struct {
	db DBTX
}

func NewJobRepository(db DBTX) repository.JobRepository {
	return &jobRepository{db: db}
}

func (r *jobRepository) Enqueue(ctx context.Context, j *domain.ScheduledJob) error {
	if j.ID == uuid.Nil {
		j.ID = uuid.New()
	}
	if len(j.Payload) == 0 {
		j.Payload = []byte("{}")
	}
	if j.CreatedAt.IsZero() {
		j.CreatedAt = time.Now()
	}
	if j.UpdatedAt.IsZero() {
		j.UpdatedAt = j.CreatedAt
	}
	logger.DatabaseCall("INSERT", "scheduled_jobs", "kind", j.Kind, "entityID", j.EntityID, "runAt", j.RunAt)
	query := `INSERT INTO scheduled_jobs (id, kind, entity_id, payload, run_at, status, attempts, last_error, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, 0, '', $7, $8)`
	_, err := r.db.ExecContext(ctx, query, j.ID, j.Kind, j.EntityID, []byte(j.Payload), j.RunAt, domain.JobStatusPending, j.CreatedAt, j.UpdatedAt)
	if err != nil {
		return mapError(err)
	}
	j.Status = domain.JobStatusPending
	return nil
}

// ClaimDue flips due jobs to Running in a single statement. SKIP LOCKED keeps
// concurrent runners from blocking on or double-claiming the same rows.
// Running rows untouched since staleBefore belong to a runner that died and
// are claimed again.
func (r *jobRepository) ClaimDue(ctx context.Context, now, staleBefore time.Time, limit int) ([]domain.ScheduledJob, error) {
	query := `
		UPDATE scheduled_jobs SET status = $1, attempts = attempts + 1, updated_at = $2
		WHERE id IN (
			SELECT id FROM scheduled_jobs
			WHERE (status = $3 AND run_at <= $2)
			   OR (status = $1 AND updated_at <= $4)
			ORDER BY run_at
			LIMIT $5
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, kind, entity_id, payload, run_at, status, attempts, last_error, created_at, updated_at
	`
	rows, err := r.db.QueryContext(ctx, query, domain.JobStatusRunning, now, domain.JobStatusPending, staleBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("claim jobs: %w", err)
	}
	defer rows.Close()

	var jobs []domain.ScheduledJob
	for rows.Next() {
		var j domain.ScheduledJob
		var payload []byte
		if err := rows.Scan(&j.ID, &j.Kind, &j.EntityID, &payload, &j.RunAt, &j.Status, &j.Attempts, &j.LastError, &j.CreatedAt, &j.UpdatedAt); err != nil {
			return nil, err
		}
		j.Payload = payload
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (r *jobRepository) MarkDone(ctx context.Context, id uuid.UUID, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE scheduled_jobs SET status = $1, updated_at = $2 WHERE id = $3`,
		domain.JobStatusDone, at, id)
	if err != nil {
		return err
	}
	return expectOne(res, repository.ErrNotFound)
}

func (r *jobRepository) MarkFailed(ctx context.Context, id uuid.UUID, errMsg string, retryAt *time.Time, at time.Time) error {
	var (
		res sql.Result
		err error
	)
	if retryAt != nil {
		res, err = r.db.ExecContext(ctx,
			`UPDATE scheduled_jobs SET status = $1, last_error = $2, run_at = $3, updated_at = $4 WHERE id = $5`,
			domain.JobStatusPending, errMsg, *retryAt, at, id)
	} else {
		res, err = r.db.ExecContext(ctx,
			`UPDATE scheduled_jobs SET status = $1, last_error = $2, updated_at = $3 WHERE id = $4`,
			domain.JobStatusFailed, errMsg, at, id)
	}
	if err != nil {
		return err
	}
	return expectOne(res, repository.ErrNotFound)
}
