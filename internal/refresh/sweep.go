// Package refresh implements the watchlist refresh and UK delta re-screen
// sweep described by spec.md §4.7: download the latest feeds, publish a new
// snapshot, and enqueue re-screens for entities whose UK exposure may have
// changed.
package refresh

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/deltran/screening/internal/resilience"
	"github.com/deltran/screening/internal/store"
	"github.com/deltran/screening/internal/types"
	"github.com/deltran/screening/internal/watchlist"
)

// sweepStore is the subset of *store.Store the sweep depends on.
type sweepStore interface {
	CreateRefreshRun(ctx context.Context) (uuid.UUID, error)
	LatestUKHash(ctx context.Context, excluding uuid.UUID) (string, error)
	MostRecentRefreshRunID(ctx context.Context, excluding uuid.UUID) (uuid.UUID, error)
	FinalizeRefreshRun(ctx context.Context, run types.RefreshRun) error
	ReplaceUKSnapshotEntries(ctx context.Context, refreshRunID uuid.UUID, entries []store.UKSnapshotRow) error
	PreviousUKSnapshotEntries(ctx context.Context, refreshRunID uuid.UUID) ([]store.UKSnapshotRow, error)
	MarkManualOverridesStale(ctx context.Context, latestUKHash string) (int64, error)
	ShortlistScreenedEntitiesByTerms(ctx context.Context, currentUKHash string, terms []string) ([]string, error)
	HasPendingOrRunningJob(ctx context.Context, entityKey string) (bool, error)
	EnqueueJob(ctx context.Context, job types.ScreeningJob) (uuid.UUID, error)
	GetScreenedEntity(ctx context.Context, entityKey string) (*types.ScreenedEntity, error)
}

// Sweep runs the watchlist refresh and delta re-screen pipeline.
type Sweep struct {
	store             sweepStore
	loader            *watchlist.Loader
	holder            *watchlist.Holder
	snapshotPath      string
	sanctionsFeedURL  string
	pepsFeedURL       string
	httpClient        *http.Client
	breaker           *resilience.CircuitBreaker
	retryConfig       *resilience.RetryConfig
	logger            *zap.Logger
}

// Config parameterizes a Sweep.
type Config struct {
	SnapshotPath       string
	SanctionsAllowlist []string
	SanctionsFeedURL   string
	PEPsFeedURL        string
	FeedTimeout        time.Duration
}

// New builds a Sweep.
func New(st *store.Store, holder *watchlist.Holder, logger *zap.Logger, cfg Config) *Sweep {
	timeout := cfg.FeedTimeout
	if timeout <= 0 {
		timeout = 180 * time.Second
	}
	breaker := resilience.NewCircuitBreaker(resilience.DefaultConfig("watchlist-feed-download"))
	return &Sweep{
		store:            st,
		loader:           watchlist.NewLoader(cfg.SanctionsAllowlist),
		holder:           holder,
		snapshotPath:     cfg.SnapshotPath,
		sanctionsFeedURL: cfg.SanctionsFeedURL,
		pepsFeedURL:      cfg.PEPsFeedURL,
		httpClient:       &http.Client{Timeout: timeout},
		breaker:          breaker,
		retryConfig:      resilience.DefaultRetryConfig(),
		logger:           logger,
	}
}

// Run executes one full refresh + delta sweep cycle, per spec.md §4.7
// steps 1-8.
func (s *Sweep) Run(ctx context.Context) (types.RefreshRun, error) {
	runID, err := s.store.CreateRefreshRun(ctx)
	if err != nil {
		return types.RefreshRun{}, fmt.Errorf("create refresh run: %w", err)
	}
	run := types.RefreshRun{RefreshRunID: runID, RanAt: time.Now()}

	sanctionsRows, err := s.downloadAndParse(ctx, s.sanctionsFeedURL, s.loader.LoadSanctions)
	if err != nil {
		return run, fmt.Errorf("download sanctions feed: %w", err)
	}
	pepsRows, err := s.downloadAndParse(ctx, s.pepsFeedURL, s.loader.LoadPEPs)
	if err != nil {
		return run, fmt.Errorf("download peps feed: %w", err)
	}
	run.SanctionsRows = len(sanctionsRows)
	run.PEPsRows = len(pepsRows)

	allEntries := append(append([]types.WatchlistEntry{}, sanctionsRows...), pepsRows...)

	if err := watchlist.WriteAtomic(s.snapshotPath, allEntries); err != nil {
		s.logger.Error("failed to persist watchlist snapshot to disk", zap.Error(err))
	}
	s.holder.Publish(watchlist.New(allEntries))

	ukEntries := watchlist.UKEntries(allEntries)
	run.UKRowCount = len(ukEntries)
	run.UKHash = watchlist.ComputeUKHash(ukEntries)

	prevHash, err := s.store.LatestUKHash(ctx, runID)
	if err != nil {
		return run, fmt.Errorf("load previous uk hash: %w", err)
	}
	run.PrevUKHash = prevHash
	run.UKChanged = prevHash != "" && prevHash != run.UKHash

	rows := make([]store.UKSnapshotRow, 0, len(ukEntries))
	for _, e := range ukEntries {
		rows = append(rows, store.UKSnapshotRow{
			Fingerprint: e.Fingerprint(),
			NameNorm:    e.NameNorm,
			BirthDate:   e.BirthDate,
			Dataset:     e.Dataset,
			Regime:      e.Regime,
		})
	}
	if err := s.store.ReplaceUKSnapshotEntries(ctx, runID, rows); err != nil {
		return run, fmt.Errorf("persist uk snapshot entries: %w", err)
	}

	if !run.UKChanged {
		if err := s.store.FinalizeRefreshRun(ctx, run); err != nil {
			return run, fmt.Errorf("finalize refresh run: %w", err)
		}
		return run, nil
	}

	prevRunID, err := s.store.MostRecentRefreshRunID(ctx, runID)
	if err != nil {
		return run, fmt.Errorf("load previous refresh run id: %w", err)
	}
	var prevUKEntries []watchlist.UKEntry
	if prevRunID != uuid.Nil {
		prevRows, err := s.store.PreviousUKSnapshotEntries(ctx, prevRunID)
		if err != nil {
			return run, fmt.Errorf("load previous uk snapshot entries: %w", err)
		}
		for _, r := range prevRows {
			prevUKEntries = append(prevUKEntries, watchlist.UKEntry{
				NameNorm:  r.NameNorm,
				BirthDate: r.BirthDate,
				Dataset:   r.Dataset,
				Regime:    r.Regime,
			})
		}
	}
	delta := watchlist.ComputeDelta(prevUKEntries, ukEntries)
	run.Added, run.Removed, run.Changed = delta.Added, delta.Removed, delta.Changed

	staleCount, err := s.store.MarkManualOverridesStale(ctx, run.UKHash)
	if err != nil {
		return run, fmt.Errorf("mark manual overrides stale: %w", err)
	}
	s.logger.Info("marked manual overrides stale", zap.Int64("count", staleCount))

	terms := make([]string, 0, len(delta.Tokens))
	for t := range delta.Tokens {
		terms = append(terms, t)
	}
	candidates, err := s.store.ShortlistScreenedEntitiesByTerms(ctx, run.UKHash, terms)
	if err != nil {
		return run, fmt.Errorf("shortlist candidates: %w", err)
	}
	run.Candidate = len(candidates)

	for _, entityKey := range candidates {
		pending, err := s.store.HasPendingOrRunningJob(ctx, entityKey)
		if err != nil {
			s.logger.Error("failed to check pending job for sweep candidate", zap.String("entity_key", entityKey), zap.Error(err))
			run.Failed++
			continue
		}
		if pending {
			run.AlreadyPending++
			continue
		}
		existing, err := s.store.GetScreenedEntity(ctx, entityKey)
		if err != nil {
			s.logger.Error("failed to load existing entity for sweep candidate", zap.String("entity_key", entityKey), zap.Error(err))
			run.Failed++
			continue
		}
		job := types.ScreeningJob{
			EntityKey:         entityKey,
			Name:              existing.DisplayName,
			DateOfBirth:       existing.DateOfBirth,
			EntityType:        existing.EntityType,
			Requestor:         existing.LastRequestor,
			BusinessReference: existing.BusinessReference,
			ReasonForCheck:    existing.ReasonForCheck,
			Reason:            types.JobReasonUKDeltaRescreen,
			RefreshRunID:      &runID,
			ForceRescreen:     true,
		}
		if _, err := s.store.EnqueueJob(ctx, job); err != nil {
			s.logger.Error("failed to enqueue sweep candidate", zap.String("entity_key", entityKey), zap.Error(err))
			run.Failed++
			continue
		}
		run.Queued++
	}

	if err := s.store.FinalizeRefreshRun(ctx, run); err != nil {
		return run, fmt.Errorf("finalize refresh run: %w", err)
	}
	return run, nil
}

func (s *Sweep) downloadAndParse(ctx context.Context, url string, parse func(io.Reader) ([]types.WatchlistEntry, error)) ([]types.WatchlistEntry, error) {
	var entries []types.WatchlistEntry
	err := resilience.RetryContextWithCircuitBreaker(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := s.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("feed download returned status %d", resp.StatusCode)
		}
		rows, err := parse(resp.Body)
		if err != nil {
			return err
		}
		entries = rows
		return nil
	}, s.retryConfig, s.breaker)
	return entries, err
}
