package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/deltran/screening/internal/types"
)

// ErrNotFound is returned when a lookup by primary key finds nothing.
var ErrNotFound = errors.New("store: not found")

// validityWindow is fixed at 365 days per spec.md invariant 5 and the
// cache_validity_days configuration option, which is "fixed at 365 by
// invariant" rather than operator-tunable.
const validityWindow = 365 * 24 * time.Hour

const maxErrorMessageLen = 1000

// validateWriteMetadata enforces the two constraints every persisted write
// carries regardless of entry point: a non-blank business_reference and a
// reason_for_check drawn from the allowed enum. Mirrors the checks the
// original screening service performs in upsert_screening,
// update_cached_screening_metadata, and enqueue_job alike.
func validateWriteMetadata(businessReference string, reason types.ReasonForCheck) error {
	if strings.TrimSpace(businessReference) == "" {
		return &types.ValidationError{Code: types.ErrorCodeMissingBusinessReference, Message: "business_reference is required"}
	}
	if !types.ValidReasonForCheck(reason) {
		return &types.ValidationError{Code: types.ErrorCodeInvalidReasonForCheck, Message: "reason_for_check is required and must be a valid enum value"}
	}
	return nil
}

// GetValidScreening returns the cached result iff the row is valid: not
// expired and not manual_override_stale. Returns ErrNotFound otherwise.
func (s *Store) GetValidScreening(ctx context.Context, entityKey string) (*types.ScreeningResult, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT result_json FROM screened_entities
		WHERE entity_key = $1 AND screening_valid_until > now() AND manual_override_stale = false
	`, entityKey)

	var raw []byte
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get valid screening: %w", err)
	}

	var result types.ScreeningResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode cached result: %w", err)
	}
	return &result, nil
}

// GetScreenedEntity fetches the full cache row for entityKey, including the
// metadata fields (name, dob, entity type, requestor, business reference,
// reason for check) that a forced re-screen needs to carry forward. Returns
// ErrNotFound if no row exists for entityKey.
func (s *Store) GetScreenedEntity(ctx context.Context, entityKey string) (*types.ScreenedEntity, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT entity_key, display_name, normalized_name, date_of_birth, entity_type,
		       last_screened_at, screening_valid_until, status, risk_level, confidence, score,
		       uk_sanctions_flag, pep_flag, result_json, last_requestor, business_reference,
		       reason_for_check, screened_against_uk_hash, manual_override_uk_hash,
		       manual_override_stale, updated_at
		FROM screened_entities
		WHERE entity_key = $1
	`, entityKey)

	var e types.ScreenedEntity
	var dob, businessRef, reasonForCheck, ukHash, overrideHash sql.NullString
	var resultRaw []byte
	var score float64

	if err := row.Scan(
		&e.EntityKey, &e.DisplayName, &e.NormalizedName, &dob, &e.EntityType,
		&e.LastScreenedAt, &e.ScreeningValidUntil, &e.Status, &e.RiskLevel, &e.Confidence, &score,
		&e.UKSanctionsFlag, &e.PEPFlag, &resultRaw, &e.LastRequestor, &businessRef,
		&reasonForCheck, &ukHash, &overrideHash, &e.ManualOverrideStale, &e.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get screened entity: %w", err)
	}

	if dob.Valid {
		e.DateOfBirth = &dob.String
	}
	if businessRef.Valid {
		e.BusinessReference = businessRef.String
	}
	if reasonForCheck.Valid {
		e.ReasonForCheck = types.ReasonForCheck(reasonForCheck.String)
	}
	if ukHash.Valid {
		e.ScreenedAgainstUKHash = ukHash.String
	}
	if overrideHash.Valid {
		e.ManualOverrideUKHash = &overrideHash.String
	}
	e.Score = decimal.NewFromFloat(score)
	if err := json.Unmarshal(resultRaw, &e.Result); err != nil {
		return nil, fmt.Errorf("decode result json: %w", err)
	}
	return &e, nil
}

// UpsertScreening writes or overwrites the cache row, resetting the
// validity window and clearing any manual override.
func (s *Store) UpsertScreening(ctx context.Context, entity types.ScreenedEntity) error {
	if err := validateWriteMetadata(entity.BusinessReference, entity.ReasonForCheck); err != nil {
		return err
	}

	resultJSON, err := json.Marshal(entity.Result)
	if err != nil {
		return fmt.Errorf("encode screening result: %w", err)
	}

	now := time.Now().UTC()
	entity.LastScreenedAt = now
	entity.ScreeningValidUntil = now.Add(validityWindow)

	return s.execTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO screened_entities (
				entity_key, display_name, normalized_name, date_of_birth, entity_type,
				last_screened_at, screening_valid_until, status, risk_level, confidence, score,
				uk_sanctions_flag, pep_flag, result_json, last_requestor, business_reference,
				reason_for_check, screened_against_uk_hash, screened_against_refresh_run_id,
				manual_override_uk_hash, manual_override_stale, updated_at
			) VALUES (
				$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
				$17, $18, $19, NULL, false, now()
			)
			ON CONFLICT (entity_key) DO UPDATE SET
				display_name = EXCLUDED.display_name,
				normalized_name = EXCLUDED.normalized_name,
				date_of_birth = EXCLUDED.date_of_birth,
				entity_type = EXCLUDED.entity_type,
				last_screened_at = EXCLUDED.last_screened_at,
				screening_valid_until = EXCLUDED.screening_valid_until,
				status = EXCLUDED.status,
				risk_level = EXCLUDED.risk_level,
				confidence = EXCLUDED.confidence,
				score = EXCLUDED.score,
				uk_sanctions_flag = EXCLUDED.uk_sanctions_flag,
				pep_flag = EXCLUDED.pep_flag,
				result_json = EXCLUDED.result_json,
				last_requestor = EXCLUDED.last_requestor,
				business_reference = EXCLUDED.business_reference,
				reason_for_check = EXCLUDED.reason_for_check,
				screened_against_uk_hash = EXCLUDED.screened_against_uk_hash,
				screened_against_refresh_run_id = EXCLUDED.screened_against_refresh_run_id,
				manual_override_uk_hash = NULL,
				manual_override_stale = false,
				updated_at = now()
		`,
			entity.EntityKey, entity.DisplayName, entity.NormalizedName, entity.DateOfBirth, entity.EntityType,
			entity.LastScreenedAt, entity.ScreeningValidUntil, entity.Status, entity.RiskLevel, entity.Confidence, entity.Score,
			entity.UKSanctionsFlag, entity.PEPFlag, resultJSON, entity.LastRequestor, entity.BusinessReference,
			entity.ReasonForCheck, entity.ScreenedAgainstUKHash, entity.ScreenedAgainstRefreshID,
		)
		if err != nil {
			return fmt.Errorf("upsert screening: %w", err)
		}
		return nil
	})
}

// UpdateCachedScreeningMetadata refreshes request metadata on a reused row
// without touching the verdict or validity window.
func (s *Store) UpdateCachedScreeningMetadata(ctx context.Context, entityKey, requestor, businessReference string, reason types.ReasonForCheck) error {
	if err := validateWriteMetadata(businessReference, reason); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		UPDATE screened_entities
		SET last_requestor = $2, business_reference = $3, reason_for_check = $4
		WHERE entity_key = $1
	`, entityKey, requestor, businessReference, reason)
	if err != nil {
		return fmt.Errorf("update cached screening metadata: %w", err)
	}
	return nil
}

// GetPendingRunningCount is the cheap queue-depth read used for load shedding.
func (s *Store) GetPendingRunningCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT count(*) FROM screening_jobs WHERE status IN ('pending', 'running')
	`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("get pending/running count: %w", err)
	}
	return n, nil
}

// HasPendingOrRunningJob reports whether entityKey already has an open job.
func (s *Store) HasPendingOrRunningJob(ctx context.Context, entityKey string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM screening_jobs
			WHERE entity_key = $1 AND status IN ('pending', 'running')
		)
	`, entityKey).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("has pending or running job: %w", err)
	}
	return exists, nil
}

// EnqueueJob inserts a pending job row and returns its id. Callers are
// expected to have already checked HasPendingOrRunningJob; this call does
// not itself deduplicate.
func (s *Store) EnqueueJob(ctx context.Context, job types.ScreeningJob) (uuid.UUID, error) {
	if err := validateWriteMetadata(job.BusinessReference, job.ReasonForCheck); err != nil {
		return uuid.Nil, err
	}

	if job.JobID == uuid.Nil {
		job.JobID = uuid.New()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO screening_jobs (
			job_id, entity_key, name, date_of_birth, entity_type, requestor,
			business_reference, reason_for_check, reason, refresh_run_id,
			force_rescreen, status, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 'pending', now())
	`,
		job.JobID, job.EntityKey, job.Name, job.DateOfBirth, job.EntityType, job.Requestor,
		job.BusinessReference, job.ReasonForCheck, job.Reason, job.RefreshRunID, job.ForceRescreen,
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("enqueue job: %w", err)
	}
	return job.JobID, nil
}

// ClaimNextPendingJob atomically claims the oldest pending job using
// SELECT ... FOR UPDATE SKIP LOCKED, so N workers can claim N distinct jobs
// concurrently without blocking each other and without double-claiming.
func (s *Store) ClaimNextPendingJob(ctx context.Context) (*types.ScreeningJob, error) {
	var job *types.ScreeningJob
	err := s.execTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			SELECT job_id, entity_key, name, date_of_birth, entity_type, requestor,
			       business_reference, reason_for_check, reason, refresh_run_id, force_rescreen,
			       status, created_at
			FROM screening_jobs
			WHERE status = 'pending'
			ORDER BY created_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		`)

		var j types.ScreeningJob
		var reasonForCheck, businessRef sql.NullString
		var dob sql.NullString
		var refreshRunID uuid.NullUUID
		if err := row.Scan(
			&j.JobID, &j.EntityKey, &j.Name, &dob, &j.EntityType, &j.Requestor,
			&businessRef, &reasonForCheck, &j.Reason, &refreshRunID, &j.ForceRescreen,
			&j.Status, &j.CreatedAt,
		); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("scan pending job: %w", err)
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

		startedAt := time.Now().UTC()
		if _, err := tx.ExecContext(ctx, `
			UPDATE screening_jobs SET status = 'running', started_at = $2 WHERE job_id = $1
		`, j.JobID, startedAt); err != nil {
			return fmt.Errorf("mark job running: %w", err)
		}
		j.Status = types.JobStatusRunning
		j.StartedAt = &startedAt
		job = &j
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return job, nil
}

// CompleteJob records a successful worker run with its derived transition.
func (s *Store) CompleteJob(ctx context.Context, jobID uuid.UUID, previousStatus, resultStatus *string, transition types.Transition) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE screening_jobs
		SET status = 'completed', previous_status = $2, result_status = $3,
		    transition = $4, finished_at = now()
		WHERE job_id = $1
	`, jobID, previousStatus, resultStatus, transition)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	return nil
}

// FailJob records a terminal failure. The job does not re-enter the queue.
func (s *Store) FailJob(ctx context.Context, jobID uuid.UUID, errMsg string) error {
	if len(errMsg) > maxErrorMessageLen {
		errMsg = errMsg[:maxErrorMessageLen]
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE screening_jobs SET status = 'failed', error_message = $2, finished_at = now()
		WHERE job_id = $1
	`, jobID, errMsg)
	if err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	return nil
}

// GetJob fetches a job row by id.
func (s *Store) GetJob(ctx context.Context, jobID uuid.UUID) (*types.ScreeningJob, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT job_id, entity_key, name, date_of_birth, entity_type, requestor,
		       business_reference, reason_for_check, reason, refresh_run_id, force_rescreen,
		       status, previous_status, result_status, transition, created_at, started_at,
		       finished_at, error_message
		FROM screening_jobs WHERE job_id = $1
	`, jobID)

	var j types.ScreeningJob
	var dob, businessRef, reasonForCheck, previousStatus, resultStatus, transition, errMsg sql.NullString
	var refreshRunID uuid.NullUUID
	var startedAt, finishedAt sql.NullTime

	if err := row.Scan(
		&j.JobID, &j.EntityKey, &j.Name, &dob, &j.EntityType, &j.Requestor,
		&businessRef, &reasonForCheck, &j.Reason, &refreshRunID, &j.ForceRescreen,
		&j.Status, &previousStatus, &resultStatus, &transition, &j.CreatedAt, &startedAt,
		&finishedAt, &errMsg,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get job: %w", err)
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
	return &j, nil
}

// MarkFalsePositive overwrites the cache verdict with a Cleared-False-Positive
// block, recording the audit sub-object and stamping manual_override_uk_hash
// with the current uk_hash.
func (s *Store) MarkFalsePositive(ctx context.Context, entityKey, actor, reason, currentUKHash string) (*types.ScreeningResult, error) {
	var updated *types.ScreeningResult
	err := s.execTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `SELECT result_json FROM screened_entities WHERE entity_key = $1 FOR UPDATE`, entityKey)
		var raw []byte
		if err := row.Scan(&raw); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("load screening for override: %w", err)
		}

		var result types.ScreeningResult
		if err := json.Unmarshal(raw, &result); err != nil {
			return fmt.Errorf("decode screening for override: %w", err)
		}

		previous := string(result.Status)
		result.Status = types.StatusClearedFalsePositive
		result.RiskLevel = types.RiskCleared
		result.ManualOverride = &types.ManualOverride{
			Actor:         actor,
			Reason:        reason,
			OverriddenAt:  time.Now().UTC(),
			PreviousState: previous,
		}

		encoded, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("encode overridden result: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE screened_entities
			SET result_json = $2, status = $3, risk_level = $4,
			    manual_override_uk_hash = $5, manual_override_stale = false, updated_at = now()
			WHERE entity_key = $1
		`, entityKey, encoded, result.Status, result.RiskLevel, currentUKHash); err != nil {
			return fmt.Errorf("persist override: %w", err)
		}

		updated = &result
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// MarkManualOverridesStale sets manual_override_stale=true on every row
// whose manual_override_uk_hash is non-null and differs from latestUKHash.
// Returns the count of rows affected.
func (s *Store) MarkManualOverridesStale(ctx context.Context, latestUKHash string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE screened_entities
		SET manual_override_stale = true
		WHERE manual_override_uk_hash IS NOT NULL AND manual_override_uk_hash != $1
	`, latestUKHash)
	if err != nil {
		return 0, fmt.Errorf("mark manual overrides stale: %w", err)
	}
	return res.RowsAffected()
}

// ReplaceUKSnapshotEntries persists the UK-relevant entry set for a refresh
// run, used for delta computation against the next run.
func (s *Store) ReplaceUKSnapshotEntries(ctx context.Context, refreshRunID uuid.UUID, entries []UKSnapshotRow) error {
	return s.execTx(ctx, func(tx *sql.Tx) error {
		for _, e := range entries {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO watchlist_uk_snapshot_entries (refresh_run_id, fingerprint, name_norm, birth_date, dataset, regime)
				VALUES ($1, $2, $3, $4, $5, $6)
				ON CONFLICT (refresh_run_id, fingerprint) DO NOTHING
			`, refreshRunID, e.Fingerprint, e.NameNorm, e.BirthDate, e.Dataset, e.Regime); err != nil {
				return fmt.Errorf("insert uk snapshot entry: %w", err)
			}
		}
		return nil
	})
}

// UKSnapshotRow is the persisted shape of watchlist.UKEntry plus its
// fingerprint, matching the watchlist_uk_snapshot_entries table.
type UKSnapshotRow struct {
	Fingerprint string
	NameNorm    string
	BirthDate   *string
	Dataset     string
	Regime      string
}

// PreviousUKSnapshotEntries loads the UK entry set persisted for the given
// refresh run, for delta computation against the next run.
func (s *Store) PreviousUKSnapshotEntries(ctx context.Context, refreshRunID uuid.UUID) ([]UKSnapshotRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT fingerprint, name_norm, birth_date, dataset, regime
		FROM watchlist_uk_snapshot_entries WHERE refresh_run_id = $1
	`, refreshRunID)
	if err != nil {
		return nil, fmt.Errorf("load previous uk snapshot entries: %w", err)
	}
	defer rows.Close()

	var out []UKSnapshotRow
	for rows.Next() {
		var r UKSnapshotRow
		var birth sql.NullString
		if err := rows.Scan(&r.Fingerprint, &r.NameNorm, &birth, &r.Dataset, &r.Regime); err != nil {
			return nil, fmt.Errorf("scan uk snapshot entry: %w", err)
		}
		if birth.Valid {
			r.BirthDate = &birth.String
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ShortlistScreenedEntitiesByTerms returns entity_keys of cache rows whose
// normalized_name contains any of the supplied tokens, or whose
// screened_against_uk_hash differs from currentUKHash. Used by the refresh
// sweep to shortlist re-screen candidates. Each term is matched as a
// substring (LIKE '%term%'), which the normalized_name index does not serve.
func (s *Store) ShortlistScreenedEntitiesByTerms(ctx context.Context, currentUKHash string, terms []string) ([]string, error) {
	seen := map[string]struct{}{}
	var out []string

	staleRows, err := s.db.QueryContext(ctx, `
		SELECT entity_key FROM screened_entities WHERE screened_against_uk_hash IS DISTINCT FROM $1
	`, currentUKHash)
	if err != nil {
		return nil, fmt.Errorf("shortlist by stale hash: %w", err)
	}
	defer staleRows.Close()
	for staleRows.Next() {
		var key string
		if err := staleRows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan stale shortlist row: %w", err)
		}
		if _, ok := seen[key]; !ok {
			seen[key] = struct{}{}
			out = append(out, key)
		}
	}
	if err := staleRows.Err(); err != nil {
		return nil, err
	}

	for _, term := range terms {
		if strings.TrimSpace(term) == "" {
			continue
		}
		rows, err := s.db.QueryContext(ctx, `
			SELECT entity_key FROM screened_entities WHERE normalized_name LIKE '%' || $1 || '%'
		`, term)
		if err != nil {
			return nil, fmt.Errorf("shortlist by term %q: %w", term, err)
		}
		for rows.Next() {
			var key string
			if err := rows.Scan(&key); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan term shortlist row: %w", err)
			}
			if _, ok := seen[key]; !ok {
				seen[key] = struct{}{}
				out = append(out, key)
			}
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}

	return out, nil
}

// PurgeScreenedEntitiesOlderThan removes cache rows whose last_screened_at
// is older than the configured retention window.
func (s *Store) PurgeScreenedEntitiesOlderThan(ctx context.Context, months int) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM screened_entities
		WHERE last_screened_at < now() - make_interval(months => $1)
	`, months)
	if err != nil {
		return 0, fmt.Errorf("purge screened entities: %w", err)
	}
	return res.RowsAffected()
}

// PurgeTerminalJobsOlderThan removes completed/failed job rows older than
// the configured retention window.
func (s *Store) PurgeTerminalJobsOlderThan(ctx context.Context, days int) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM screening_jobs
		WHERE status IN ('completed', 'failed') AND created_at < now() - make_interval(days => $1)
	`, days)
	if err != nil {
		return 0, fmt.Errorf("purge terminal jobs: %w", err)
	}
	return res.RowsAffected()
}

// SearchFilter parameterizes SearchScreened.
type SearchFilter struct {
	Name              string
	EntityKey         string
	BusinessReference string
	Limit             int
	Offset            int
}

// SearchScreened lists cache rows ordered by last_screened_at DESC.
func (s *Store) SearchScreened(ctx context.Context, filter SearchFilter) ([]types.ScreenedEntity, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	var conditions []string
	var args []interface{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.Name != "" {
		conditions = append(conditions, "normalized_name LIKE '%' || "+arg(strings.ToLower(filter.Name))+" || '%'")
	}
	if filter.EntityKey != "" {
		conditions = append(conditions, "entity_key = "+arg(filter.EntityKey))
	}
	if filter.BusinessReference != "" {
		conditions = append(conditions, "business_reference = "+arg(filter.BusinessReference))
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	query := fmt.Sprintf(`
		SELECT entity_key, display_name, normalized_name, date_of_birth, entity_type,
		       last_screened_at, screening_valid_until, status, risk_level, confidence, score,
		       uk_sanctions_flag, pep_flag, result_json, last_requestor, business_reference,
		       reason_for_check, screened_against_uk_hash, manual_override_uk_hash,
		       manual_override_stale, updated_at
		FROM screened_entities
		%s
		ORDER BY last_screened_at DESC
		LIMIT %s OFFSET %s
	`, where, arg(limit), arg(offset))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search screened: %w", err)
	}
	defer rows.Close()

	var out []types.ScreenedEntity
	for rows.Next() {
		var e types.ScreenedEntity
		var dob, businessRef, reasonForCheck, ukHash, overrideHash sql.NullString
		var resultRaw []byte
		var score float64

		if err := rows.Scan(
			&e.EntityKey, &e.DisplayName, &e.NormalizedName, &dob, &e.EntityType,
			&e.LastScreenedAt, &e.ScreeningValidUntil, &e.Status, &e.RiskLevel, &e.Confidence, &score,
			&e.UKSanctionsFlag, &e.PEPFlag, &resultRaw, &e.LastRequestor, &businessRef,
			&reasonForCheck, &ukHash, &overrideHash, &e.ManualOverrideStale, &e.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan screened entity: %w", err)
		}

		if dob.Valid {
			e.DateOfBirth = &dob.String
		}
		if businessRef.Valid {
			e.BusinessReference = businessRef.String
		}
		if reasonForCheck.Valid {
			e.ReasonForCheck = types.ReasonForCheck(reasonForCheck.String)
		}
		if ukHash.Valid {
			e.ScreenedAgainstUKHash = ukHash.String
		}
		if overrideHash.Valid {
			e.ManualOverrideUKHash = &overrideHash.String
		}
		e.Score = decimal.NewFromFloat(score)
		if err := json.Unmarshal(resultRaw, &e.Result); err != nil {
			return nil, fmt.Errorf("decode result json: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
