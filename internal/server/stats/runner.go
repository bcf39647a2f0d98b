package stats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"fcshare/internal/server/database"

	"github.com/getsentry/sentry-go"
)

// JobStore persists statistics job state.
type JobStore interface {
	Get(ctx context.Context, jobID string) (*database.StatisticsJob, error)
	Transition(ctx context.Context, jobID string, from, to database.JobStatus) (bool, error)
	Complete(ctx context.Context, jobID string, result json.RawMessage) (bool, error)
	Fail(ctx context.Context, jobID, message string) (bool, error)
}

// LinkLister lists every published file.
type LinkLister interface {
	ListAll(ctx context.Context) ([]database.ShortLink, error)
}

// UserLookup resolves many users in one query.
type UserLookup interface {
	GetByIDs(ctx context.Context, ids []int64) ([]database.User, error)
}

// Runner executes statistics jobs.
type Runner struct {
	jobs  JobStore
	links LinkLister
	users UserLookup
}

// NewRunner creates a new Runner.
func NewRunner(jobs JobStore, links LinkLister, users UserLookup) *Runner {
	return &Runner{jobs: jobs, links: links, users: users}
}

// Execute runs job jobID. An unknown id, or a job another worker already
// claimed or finished, is a no-op. The pending→running claim and the
// running→completed/failed finish are both conditional, so a job never
// leaves a terminal state.
func (r *Runner) Execute(ctx context.Context, jobID string) error {
	job, err := r.jobs.Get(ctx, jobID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			slog.Warn("statistics job not found", "job_id", jobID)
			return nil
		}
		return fmt.Errorf("failed to load job %s: %w", jobID, err)
	}
	if job.Status != database.JobPending {
		slog.Info("statistics job not pending, skipping", "job_id", jobID, "status", job.Status)
		return nil
	}

	claimed, err := r.jobs.Transition(ctx, jobID, database.JobPending, database.JobRunning)
	if err != nil {
		return fmt.Errorf("failed to claim job %s: %w", jobID, err)
	}
	if !claimed {
		slog.Info("statistics job claimed elsewhere", "job_id", jobID)
		return nil
	}
	slog.Info("statistics job started", "job_id", jobID)

	payload, err := r.compute(ctx)
	if err == nil {
		var completed bool
		completed, err = r.jobs.Complete(ctx, jobID, payload)
		if err == nil {
			if !completed {
				slog.Warn("statistics job left running state before completion", "job_id", jobID)
			} else {
				slog.Info("statistics job completed", "job_id", jobID)
			}
			return nil
		}
		err = fmt.Errorf("failed to store result: %w", err)
	}

	r.fail(ctx, jobID, err)
	return err
}

func (r *Runner) compute(ctx context.Context) (json.RawMessage, error) {
	links, err := r.links.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list short links: %w", err)
	}

	users, err := r.users.GetByIDs(ctx, OwnerIDs(links))
	if err != nil {
		return nil, fmt.Errorf("failed to look up owners: %w", err)
	}

	payload, err := json.Marshal(Aggregate(links, users))
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}
	return payload, nil
}

func (r *Runner) fail(ctx context.Context, jobID string, cause error) {
	slog.Error("statistics job failed", "job_id", jobID, "error", cause)

	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("job_id", jobID)
		sentry.CaptureException(cause)
	})

	if _, err := r.jobs.Fail(ctx, jobID, cause.Error()); err != nil {
		slog.Error("failed to mark statistics job failed", "job_id", jobID, "error", err)
	}
}
