// Package worker implements the job-queue worker pool: a fixed number of
// goroutines polling screening_jobs for claimable work.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/deltran/screening/internal/matching"
	"github.com/deltran/screening/internal/normalize"
	"github.com/deltran/screening/internal/store"
	"github.com/deltran/screening/internal/types"
	"github.com/deltran/screening/internal/watchlist"
)

var (
	jobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "screening",
		Name:      "worker_jobs_total",
		Help:      "Jobs processed by the worker pool, by transition.",
	}, []string{"transition"})

	jobDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "screening",
		Name:      "worker_job_duration_seconds",
		Help:      "Time spent processing a single job.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	})
)

// jobStore is the subset of *store.Store the worker pool depends on. It is
// declared locally to keep this package's tests free of a real database.
type jobStore interface {
	ClaimNextPendingJob(ctx context.Context) (*types.ScreeningJob, error)
	GetValidScreening(ctx context.Context, entityKey string) (*types.ScreeningResult, error)
	UpsertScreening(ctx context.Context, entity types.ScreenedEntity) error
	CompleteJob(ctx context.Context, jobID uuid.UUID, previousStatus, resultStatus *string, transition types.Transition) error
	FailJob(ctx context.Context, jobID uuid.UUID, errMsg string) error
	PurgeTerminalJobsOlderThan(ctx context.Context, days int) (int64, error)
	PurgeScreenedEntitiesOlderThan(ctx context.Context, months int) (int64, error)
}

// Pool is the worker pool described by spec.md §4.6.
type Pool struct {
	store              jobStore
	snapshot           *watchlist.Holder
	logger             *zap.Logger
	size               int
	pollInterval       time.Duration
	cleanupEveryNLoops int
	jobsRetentionDays  int
	entitiesRetentionMonths int

	wg       sync.WaitGroup
	shutdown chan struct{}
}

// Config tunes a Pool.
type Config struct {
	Size                    int
	PollInterval            time.Duration
	CleanupEveryNLoops      int
	JobsRetentionDays       int
	EntitiesRetentionMonths int
}

// New builds a Pool. Start must be called to begin processing.
func New(st jobStore, snapshot *watchlist.Holder, logger *zap.Logger, cfg Config) *Pool {
	if cfg.Size <= 0 {
		cfg.Size = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.CleanupEveryNLoops <= 0 {
		cfg.CleanupEveryNLoops = 50
	}
	return &Pool{
		store:                   st,
		snapshot:                snapshot,
		logger:                  logger,
		size:                    cfg.Size,
		pollInterval:            cfg.PollInterval,
		cleanupEveryNLoops:      cfg.CleanupEveryNLoops,
		jobsRetentionDays:       cfg.JobsRetentionDays,
		entitiesRetentionMonths: cfg.EntitiesRetentionMonths,
		shutdown:                make(chan struct{}),
	}
}

// Start launches the pool's goroutines.
func (p *Pool) Start() {
	for i := 0; i < p.size; i++ {
		id := i
		p.wg.Add(1)
		go p.runLoop(id)
	}
	p.logger.Info("started worker pool", zap.Int("workers", p.size), zap.Duration("poll_interval", p.pollInterval))
}

// Close signals all workers to stop and waits for them to drain.
func (p *Pool) Close() error {
	p.logger.Info("shutting down worker pool")
	close(p.shutdown)
	p.wg.Wait()
	p.logger.Info("worker pool shutdown complete")
	return nil
}

// runLoop implements spec.md §4.6 steps 1-7: sleep, claim, process, and
// every cleanupEveryNLoops iterations run the retention sweep.
func (p *Pool) runLoop(id int) {
	defer p.wg.Done()
	logger := p.logger.With(zap.Int("worker_id", id))
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	loops := 0
	for {
		select {
		case <-p.shutdown:
			logger.Debug("worker shutting down")
			return
		case <-ticker.C:
			loops++
			p.pollOnce(logger)
			if id == 0 && loops%p.cleanupEveryNLoops == 0 {
				p.runCleanup(logger)
			}
		}
	}
}

func (p *Pool) pollOnce(logger *zap.Logger) {
	ctx := context.Background()
	job, err := p.store.ClaimNextPendingJob(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return
	}
	if err != nil {
		logger.Error("failed to claim job", zap.Error(err))
		return
	}
	if job == nil {
		return
	}

	start := time.Now()
	transition, err := p.processJob(ctx, job)
	jobDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		logger.Error("job failed", zap.String("job_id", job.JobID.String()), zap.Error(err))
		if failErr := p.store.FailJob(ctx, job.JobID, truncate(err.Error(), 1000)); failErr != nil {
			logger.Error("failed to record job failure", zap.Error(failErr))
		}
		jobsTotal.WithLabelValues("error").Inc()
		return
	}

	jobsTotal.WithLabelValues(string(transition)).Inc()
}

// processJob implements spec.md §4.6 step 4's branch: reuse a still-valid
// cache row unless force_rescreen is set, otherwise run the matcher.
func (p *Pool) processJob(ctx context.Context, job *types.ScreeningJob) (types.Transition, error) {
	var resultStatus string
	var previousStatus *string = job.PreviousStatus

	if !job.ForceRescreen {
		if cached, err := p.store.GetValidScreening(ctx, job.EntityKey); err == nil {
			resultStatus = string(cached.Status)
			transition := deriveTransition(previousStatus, resultStatus)
			return transition, p.store.CompleteJob(ctx, job.JobID, previousStatus, &resultStatus, transition)
		}
	}

	req := types.ScreeningRequest{
		Name:              job.Name,
		DOB:               job.DateOfBirth,
		EntityType:        job.EntityType,
		Requestor:         job.Requestor,
		BusinessReference: job.BusinessReference,
		ReasonForCheck:    job.ReasonForCheck,
	}
	result := matching.Match(req, p.snapshot.Current())
	resultStatus = string(result.Status)

	entity := types.ScreenedEntity{
		EntityKey:         job.EntityKey,
		DisplayName:       job.Name,
		NormalizedName:    normalize.Text(job.Name),
		DateOfBirth:       job.DateOfBirth,
		EntityType:        job.EntityType,
		Status:            result.Status,
		RiskLevel:         result.RiskLevel,
		Confidence:        result.Confidence,
		Score:             result.Score,
		UKSanctionsFlag:   result.IsSanctioned,
		PEPFlag:           result.IsPEP,
		Result:            result,
		LastRequestor:     job.Requestor,
		BusinessReference: job.BusinessReference,
		ReasonForCheck:    job.ReasonForCheck,
	}
	if err := p.store.UpsertScreening(ctx, entity); err != nil {
		return "", fmt.Errorf("upsert screening: %w", err)
	}

	transition := deriveTransition(previousStatus, resultStatus)
	return transition, p.store.CompleteJob(ctx, job.JobID, previousStatus, &resultStatus, transition)
}

// deriveTransition implements spec.md §3.3's job transition classification.
func deriveTransition(previousStatus *string, resultStatus string) types.Transition {
	if previousStatus == nil || *previousStatus == "" {
		return types.TransitionNewResult
	}
	if *previousStatus == resultStatus {
		return types.TransitionUnchanged
	}
	wasClear := *previousStatus == string(types.StatusCleared) || *previousStatus == string(types.StatusClearedFalsePositive)
	isClear := resultStatus == string(types.StatusCleared) || resultStatus == string(types.StatusClearedFalsePositive)
	switch {
	case wasClear && !isClear:
		return types.TransitionClearedToFail
	case !wasClear && isClear:
		return types.TransitionFailToCleared
	default:
		return types.TransitionChanged
	}
}

func (p *Pool) runCleanup(logger *zap.Logger) {
	ctx := context.Background()
	if p.jobsRetentionDays > 0 {
		n, err := p.store.PurgeTerminalJobsOlderThan(ctx, p.jobsRetentionDays)
		if err != nil {
			logger.Error("failed to purge terminal jobs", zap.Error(err))
		} else if n > 0 {
			logger.Info("purged terminal jobs", zap.Int64("count", n))
		}
	}
	if p.entitiesRetentionMonths > 0 {
		n, err := p.store.PurgeScreenedEntitiesOlderThan(ctx, p.entitiesRetentionMonths)
		if err != nil {
			logger.Error("failed to purge screened entities", zap.Error(err))
		} else if n > 0 {
			logger.Info("purged screened entities", zap.Int64("count", n))
		}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
