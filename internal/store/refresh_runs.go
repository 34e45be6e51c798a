package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/deltran/screening/internal/types"
)

// CreateRefreshRun inserts the initial RefreshRun row at the start of a
// refresh, before the uk_hash is known.
func (s *Store) CreateRefreshRun(ctx context.Context) (uuid.UUID, error) {
	id := uuid.New()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO watchlist_refresh_runs (refresh_run_id, uk_hash) VALUES ($1, '')
	`, id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("create refresh run: %w", err)
	}
	return id, nil
}

// LatestUKHash returns the uk_hash of the most recently finalized refresh
// run, or "" if none exists yet.
func (s *Store) LatestUKHash(ctx context.Context, excluding uuid.UUID) (string, error) {
	var hash string
	err := s.db.QueryRowContext(ctx, `
		SELECT uk_hash FROM watchlist_refresh_runs
		WHERE refresh_run_id != $1 AND uk_hash != ''
		ORDER BY ran_at DESC LIMIT 1
	`, excluding).Scan(&hash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("load latest uk hash: %w", err)
	}
	return hash, nil
}

// MostRecentRefreshRunID returns the id of the most recently created
// finalized (non-empty uk_hash) refresh run other than excluding, or
// uuid.Nil if none exists.
func (s *Store) MostRecentRefreshRunID(ctx context.Context, excluding uuid.UUID) (uuid.UUID, error) {
	var id uuid.UUID
	err := s.db.QueryRowContext(ctx, `
		SELECT refresh_run_id FROM watchlist_refresh_runs
		WHERE refresh_run_id != $1 AND uk_hash != ''
		ORDER BY ran_at DESC LIMIT 1
	`, excluding).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return uuid.Nil, nil
		}
		return uuid.Nil, fmt.Errorf("load most recent refresh run id: %w", err)
	}
	return id, nil
}

// FinalizeRefreshRun writes the run's final counters.
func (s *Store) FinalizeRefreshRun(ctx context.Context, run types.RefreshRun) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE watchlist_refresh_runs SET
			sanctions_rows = $2, peps_rows = $3, uk_row_count = $4,
			uk_hash = $5, prev_uk_hash = $6, uk_changed = $7,
			added = $8, removed = $9, changed = $10,
			candidate = $11, queued = $12, already_pending = $13, reused = $14, failed = $15
		WHERE refresh_run_id = $1
	`,
		run.RefreshRunID, run.SanctionsRows, run.PEPsRows, run.UKRowCount,
		run.UKHash, run.PrevUKHash, run.UKChanged,
		run.Added, run.Removed, run.Changed,
		run.Candidate, run.Queued, run.AlreadyPending, run.Reused, run.Failed,
	)
	if err != nil {
		return fmt.Errorf("finalize refresh run: %w", err)
	}
	return nil
}

// GetRefreshRunSummary is a supplemented, read-only reporting operation
// over watchlist_refresh_runs (not named in spec.md §6, implied by
// "operational dashboards" in spec.md §4.7).
func (s *Store) GetRefreshRunSummary(ctx context.Context, refreshRunID uuid.UUID) (*types.RefreshRun, error) {
	var run types.RefreshRun
	err := s.db.QueryRowContext(ctx, `
		SELECT refresh_run_id, ran_at, sanctions_rows, peps_rows, uk_row_count,
		       uk_hash, coalesce(prev_uk_hash, ''), uk_changed,
		       added, removed, changed, candidate, queued, already_pending, reused, failed
		FROM watchlist_refresh_runs WHERE refresh_run_id = $1
	`, refreshRunID).Scan(
		&run.RefreshRunID, &run.RanAt, &run.SanctionsRows, &run.PEPsRows, &run.UKRowCount,
		&run.UKHash, &run.PrevUKHash, &run.UKChanged,
		&run.Added, &run.Removed, &run.Changed, &run.Candidate, &run.Queued, &run.AlreadyPending, &run.Reused, &run.Failed,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get refresh run summary: %w", err)
	}
	return &run, nil
}

// JobListFilter parameterizes ListScreeningJobs.
type JobListFilter struct {
	Status types.JobStatus
	Limit  int
	Offset int
}

// ListScreeningJobs is a supplemented dashboard-oriented listing of job
// rows (not named in spec.md §6, implied by "operational dashboards" in
// spec.md §4.6), mirroring original_source/screening_db.py's
// list_screening_jobs.
func (s *Store) ListScreeningJobs(ctx context.Context, filter JobListFilter) ([]types.ScreeningJob, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	query := `
		SELECT job_id, entity_key, name, date_of_birth, entity_type, requestor,
		       business_reference, reason_for_check, reason, refresh_run_id, force_rescreen,
		       status, previous_status, result_status, transition, created_at, started_at,
		       finished_at, error_message
		FROM screening_jobs
	`
	args := []interface{}{}
	if filter.Status != "" {
		query += " WHERE status = $1"
		args = append(args, filter.Status)
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT %d OFFSET %d", limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list screening jobs: %w", err)
	}
	defer rows.Close()

	var out []types.ScreeningJob
	for rows.Next() {
		var j types.ScreeningJob
		var dob, businessRef, reasonForCheck, previousStatus, resultStatus, transition, errMsg sql.NullString
		var refreshRunID uuid.NullUUID
		var startedAt, finishedAt sql.NullTime

		if err := rows.Scan(
			&j.JobID, &j.EntityKey, &j.Name, &dob, &j.EntityType, &j.Requestor,
			&businessRef, &reasonForCheck, &j.Reason, &refreshRunID, &j.ForceRescreen,
			&j.Status, &previousStatus, &resultStatus, &transition, &j.CreatedAt, &startedAt,
			&finishedAt, &errMsg,
		); err != nil {
			return nil, fmt.Errorf("scan screening job: %w", err)
		}

		if dob.Valid {
			j.DateOfBirth = &dob.String
		}
		if businessRef.Valid {
			j.BusinessReference = businessRef.String
		}
		if reasonForCheck.Valid {
			j.ReasonForCheck = types.ReasonForCheck(reasonForCheck.String)
		}
		if refreshRunID.Valid {
			id := refreshRunID.UUID
			j.RefreshRunID = &id
		}
		if previousStatus.Valid {
			j.PreviousStatus = &previousStatus.String
		}
		if resultStatus.Valid {
			j.ResultStatus = &resultStatus.String
		}
		if transition.Valid {
			t := types.Transition(transition.String)
			j.Transition = &t
		}
		if startedAt.Valid {
			j.StartedAt = &startedAt.Time
		}
		if finishedAt.Valid {
			j.FinishedAt = &finishedAt.Time
		}
		if errMsg.Valid {
			j.ErrorMessage = &errMsg.String
		}
		out = append(out, j)
	}
	return out, rows.Err()
}
