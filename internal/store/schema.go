package store

// Schema is the DDL for the four tables spec.md §6 names. Migration
// tooling is out of scope for the core; this is applied at every startup
// by cmd/screeningd, mirroring original_source/screening_db.py's
// CREATE TABLE IF NOT EXISTS statements.
const Schema = `
CREATE TABLE IF NOT EXISTS screened_entities (
	entity_key                  TEXT PRIMARY KEY,
	display_name                TEXT NOT NULL,
	normalized_name              TEXT NOT NULL,
	date_of_birth                TEXT,
	entity_type                  TEXT NOT NULL,
	last_screened_at             TIMESTAMPTZ NOT NULL,
	screening_valid_until        TIMESTAMPTZ NOT NULL,
	status                       TEXT NOT NULL,
	risk_level                   TEXT NOT NULL,
	confidence                   TEXT NOT NULL,
	score                        NUMERIC NOT NULL,
	uk_sanctions_flag            BOOLEAN NOT NULL DEFAULT FALSE,
	pep_flag                     BOOLEAN NOT NULL DEFAULT FALSE,
	result_json                  JSONB NOT NULL,
	last_requestor               TEXT NOT NULL,
	business_reference           TEXT,
	reason_for_check             TEXT,
	screened_against_uk_hash     TEXT,
	screened_against_refresh_run_id UUID,
	manual_override_uk_hash      TEXT,
	manual_override_stale        BOOLEAN NOT NULL DEFAULT FALSE,
	updated_at                   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_screened_entities_valid_until
	ON screened_entities (screening_valid_until);

CREATE INDEX IF NOT EXISTS idx_screened_entities_name_norm
	ON screened_entities (normalized_name);

CREATE TABLE IF NOT EXISTS screening_jobs (
	job_id             UUID PRIMARY KEY,
	entity_key         TEXT NOT NULL,
	name               TEXT NOT NULL,
	date_of_birth      TEXT,
	entity_type        TEXT NOT NULL,
	requestor          TEXT NOT NULL,
	business_reference TEXT,
	reason_for_check   TEXT,
	reason             TEXT NOT NULL,
	refresh_run_id     UUID,
	force_rescreen     BOOLEAN NOT NULL DEFAULT FALSE,
	status             TEXT NOT NULL CHECK (status IN ('pending','running','completed','failed')),
	previous_status    TEXT,
	result_status      TEXT,
	transition         TEXT,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	started_at         TIMESTAMPTZ,
	finished_at        TIMESTAMPTZ,
	error_message      TEXT
);

CREATE INDEX IF NOT EXISTS idx_screening_jobs_pending
	ON screening_jobs (created_at) WHERE status = 'pending';

CREATE INDEX IF NOT EXISTS idx_screening_jobs_entity_key_open
	ON screening_jobs (entity_key) WHERE status IN ('pending','running');

CREATE INDEX IF NOT EXISTS idx_screening_jobs_refresh_run
	ON screening_jobs (refresh_run_id);

CREATE TABLE IF NOT EXISTS watchlist_refresh_runs (
	refresh_run_id   UUID PRIMARY KEY,
	ran_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
	sanctions_rows   INTEGER NOT NULL DEFAULT 0,
	peps_rows        INTEGER NOT NULL DEFAULT 0,
	uk_row_count     INTEGER NOT NULL DEFAULT 0,
	uk_hash          TEXT NOT NULL,
	prev_uk_hash     TEXT,
	uk_changed       BOOLEAN NOT NULL DEFAULT FALSE,
	added            INTEGER NOT NULL DEFAULT 0,
	removed          INTEGER NOT NULL DEFAULT 0,
	changed          INTEGER NOT NULL DEFAULT 0,
	candidate        INTEGER NOT NULL DEFAULT 0,
	queued           INTEGER NOT NULL DEFAULT 0,
	already_pending  INTEGER NOT NULL DEFAULT 0,
	reused           INTEGER NOT NULL DEFAULT 0,
	failed           INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS watchlist_uk_snapshot_entries (
	refresh_run_id UUID NOT NULL,
	fingerprint    TEXT NOT NULL,
	name_norm      TEXT NOT NULL,
	birth_date     TEXT,
	dataset        TEXT NOT NULL,
	regime         TEXT NOT NULL,
	PRIMARY KEY (refresh_run_id, fingerprint)
);

CREATE INDEX IF NOT EXISTS idx_uk_snapshot_entries_name_norm
	ON watchlist_uk_snapshot_entries (name_norm);
`
