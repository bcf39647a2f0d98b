package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

type jobRecord struct {
	JobID     string         `db:"job_id"`
	Status    string         `db:"status"`
	Result    sql.NullString `db:"result"`
	Error     sql.NullString `db:"error"`
	CreatedAt time.Time      `db:"created_at"`
	UpdatedAt time.Time      `db:"updated_at"`
}

func (r *jobRecord) toModel() *StatisticsJob {
	job := &StatisticsJob{
		JobID:     r.JobID,
		Status:    JobStatus(r.Status),
		Error:     r.Error.String,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	if r.Result.Valid {
		job.Result = json.RawMessage(r.Result.String)
	}
	return job
}

// JobRepository persists statistics job state.
// Every transition is a conditional update on the current status, so two
// workers racing on the same job id cannot both claim it.
type JobRepository struct {
	db *sqlx.DB
}

// NewJobRepository creates a new JobRepository.
func NewJobRepository(db *sqlx.DB) *JobRepository {
	return &JobRepository{db: db}
}

// Create inserts a pending job.
func (r *JobRepository) Create(ctx context.Context, jobID string) (*StatisticsJob, error) {
	rec := new(jobRecord)
	err := r.db.GetContext(ctx, rec, `
		INSERT INTO statistics_jobs (job_id, status)
		VALUES ($1, $2)
		RETURNING job_id, status, result, error, created_at, updated_at
	`, jobID, string(JobPending))
	if err != nil {
		if isUniqueViolationError(err) {
			return nil, fmt.Errorf("failed to create statistics job: %w", ErrUniqueViolation)
		}
		return nil, fmt.Errorf("failed to create statistics job: %w", err)
	}
	return rec.toModel(), nil
}

// Get retrieves a job by id.
func (r *JobRepository) Get(ctx context.Context, jobID string) (*StatisticsJob, error) {
	rec := new(jobRecord)
	err := r.db.GetContext(ctx, rec, `
		SELECT job_id, status, result, error, created_at, updated_at
		FROM statistics_jobs WHERE job_id = $1
	`, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get statistics job: %w", err)
	}
	return rec.toModel(), nil
}

// Transition moves a job from one status to another. It reports false when
// the job was not in the expected status.
func (r *JobRepository) Transition(ctx context.Context, jobID string, from, to JobStatus) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE statistics_jobs SET status = $1, updated_at = NOW()
		WHERE job_id = $2 AND status = $3
	`, string(to), jobID, string(from))
	if err != nil {
		return false, fmt.Errorf("failed to transition statistics job: %w", err)
	}
	return affectedOne(res)
}

// Complete stores the result of a running job and marks it completed.
func (r *JobRepository) Complete(ctx context.Context, jobID string, result json.RawMessage) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE statistics_jobs SET status = $1, result = $2, updated_at = NOW()
		WHERE job_id = $3 AND status = $4
	`, string(JobCompleted), string(result), jobID, string(JobRunning))
	if err != nil {
		return false, fmt.Errorf("failed to complete statistics job: %w", err)
	}
	return affectedOne(res)
}

// Fail records the error of a running job and marks it failed.
func (r *JobRepository) Fail(ctx context.Context, jobID, message string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE statistics_jobs SET status = $1, error = $2, updated_at = NOW()
		WHERE job_id = $3 AND status = $4
	`, string(JobFailed), message, jobID, string(JobRunning))
	if err != nil {
		return false, fmt.Errorf("failed to mark statistics job failed: %w", err)
	}
	return affectedOne(res)
}

func affectedOne(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n == 1, nil
}
