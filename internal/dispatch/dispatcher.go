// Package dispatch implements the Dispatcher: it translates a
// ScreeningRequest into reuse, synchronous completion, or a queued job,
// based on queue pressure.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/deltran/screening/internal/cache"
	"github.com/deltran/screening/internal/matching"
	"github.com/deltran/screening/internal/normalize"
	"github.com/deltran/screening/internal/resilience"
	"github.com/deltran/screening/internal/store"
	"github.com/deltran/screening/internal/types"
	"github.com/deltran/screening/internal/watchlist"
)

var (
	screeningsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "screening",
		Name:      "dispatch_outcomes_total",
		Help:      "Dispatcher outcomes by type.",
	}, []string{"outcome"})

	dispatchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "screening",
		Name:      "dispatch_duration_seconds",
		Help:      "Time spent inside Dispatcher.Screen.",
	}, []string{"outcome"})
)

// DefaultQueueThreshold matches spec.md §4.5's default of 5.
const DefaultQueueThreshold = 5

// lockTTL bounds how long the dispatcher holds the narrow-race-window lock
// around a not-yet-cached entity.
const lockTTL = 5 * time.Second

// Dispatcher is the request entry point of the screening engine.
type Dispatcher struct {
	store          *store.Store
	snapshot       *watchlist.Holder
	cache          *cache.ScreeningCache
	idempotency    *resilience.IdempotencyManager
	retry          *resilience.RetryPolicy
	queueThreshold int
	logger         *zap.Logger
}

// New builds a Dispatcher. redisClient may be nil, in which case the
// narrow-race-window lock is skipped (spec.md §5 tolerates the resulting
// duplicate sync-path enqueues). screeningCache may also be nil, in which
// case every reuse check goes straight to the store. A negative
// queueThreshold is replaced by DefaultQueueThreshold; 0 sends every
// non-reused request to the queue.
func New(st *store.Store, snapshot *watchlist.Holder, redisClient *redis.Client, screeningCache *cache.ScreeningCache, queueThreshold int, logger *zap.Logger) *Dispatcher {
	if queueThreshold < 0 {
		queueThreshold = DefaultQueueThreshold
	}
	var idem *resilience.IdempotencyManager
	if redisClient != nil {
		idem = resilience.NewIdempotencyManager(redisClient, lockTTL)
	}
	return &Dispatcher{
		store:          st,
		snapshot:       snapshot,
		cache:          screeningCache,
		idempotency:    idem,
		retry:          resilience.NewRetryPolicy(resilience.DefaultRetryConfig()),
		queueThreshold: queueThreshold,
		logger:         logger,
	}
}

// Validate checks the caller-supplied identity fields needed to run a match:
// name and requestor. business_reference and reason_for_check are enforced
// by the store write path instead, since every write entry point (sync,
// reused-metadata refresh, and job enqueue) needs the same check.
func Validate(req types.ScreeningRequest) error {
	if req.Name == "" {
		return &types.ValidationError{Code: types.ErrorCodeMissingName, Message: "name is required"}
	}
	if req.Requestor == "" {
		return &types.ValidationError{Code: types.ErrorCodeMissingRequestor, Message: "requestor is required"}
	}
	return nil
}

// Screen implements spec.md §4.5's decision procedure: reuse takes
// priority over load-shedding; a request is sync or async, never both.
func (d *Dispatcher) Screen(ctx context.Context, req types.ScreeningRequest) (types.ScreenResponse, error) {
	start := time.Now()
	outcome := "error"
	defer func() {
		screeningsTotal.WithLabelValues(outcome).Inc()
		dispatchDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	}()

	if req.EntityType == "" {
		req.EntityType = types.EntityTypePerson
	}
	if err := Validate(req); err != nil {
		return types.ScreenResponse{}, err
	}

	entityKey := normalize.EntityKey(req.Name, string(req.EntityType), req.DOB)

	cached, err := d.lookupCached(ctx, entityKey)
	if err != nil {
		return types.ScreenResponse{}, err
	}
	if cached != nil {
		if err := d.store.UpdateCachedScreeningMetadata(ctx, entityKey, req.Requestor, req.BusinessReference, req.ReasonForCheck); err != nil {
			d.logger.Warn("failed to refresh cached screening metadata", zap.String("entity_key", entityKey), zap.Error(err))
		}
		outcome = string(types.OutcomeReused)
		return types.ScreenResponse{Outcome: types.OutcomeReused, Result: cached}, nil
	}

	n, err := d.store.GetPendingRunningCount(ctx)
	if err != nil {
		return types.ScreenResponse{}, fmt.Errorf("check queue depth: %w", err)
	}
	if n >= d.queueThreshold {
		jobID, err := d.enqueue(ctx, req, entityKey, types.JobReasonManual, nil, false)
		if err != nil {
			return types.ScreenResponse{}, err
		}
		outcome = string(types.OutcomeQueued)
		return types.ScreenResponse{Outcome: types.OutcomeQueued, JobID: &jobID}, nil
	}

	result, err := d.runSync(ctx, req, entityKey)
	if err != nil {
		return types.ScreenResponse{}, err
	}
	outcome = string(types.OutcomeCompleted)
	return types.ScreenResponse{Outcome: types.OutcomeCompleted, Result: result}, nil
}

// lookupCached checks the Redis cache first, falling back to the store of
// record on a miss or when no cache is configured. A store hit re-primes
// the cache so the next reuse check avoids the database entirely. A nil,
// nil return means no valid cached screening exists; a non-nil error means
// the store of record itself could not be consulted.
func (d *Dispatcher) lookupCached(ctx context.Context, entityKey string) (*types.ScreeningResult, error) {
	if d.cache != nil {
		if result, err := d.cache.Get(ctx, entityKey); err == nil {
			return result, nil
		} else if !errors.Is(err, cache.ErrMiss) {
			d.logger.Warn("cache lookup failed, falling back to store", zap.String("entity_key", entityKey), zap.Error(err))
		}
	}

	result, err := d.store.GetValidScreening(ctx, entityKey)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("check cache: %w", err)
	}

	if d.cache != nil {
		if err := d.cache.Set(ctx, entityKey, result); err != nil {
			d.logger.Warn("failed to prime cache", zap.String("entity_key", entityKey), zap.Error(err))
		}
	}
	return result, nil
}

func (d *Dispatcher) runSync(ctx context.Context, req types.ScreeningRequest, entityKey string) (*types.ScreeningResult, error) {
	result := matching.Match(req, d.snapshot.Current())

	entity := types.ScreenedEntity{
		EntityKey:         entityKey,
		DisplayName:       req.Name,
		NormalizedName:    normalize.Text(req.Name),
		DateOfBirth:       normalize.DOB(req.DOB),
		EntityType:        req.EntityType,
		Status:            result.Status,
		RiskLevel:         result.RiskLevel,
		Confidence:        result.Confidence,
		Score:             result.Score,
		UKSanctionsFlag:   result.IsSanctioned,
		PEPFlag:           result.IsPEP,
		Result:            result,
		LastRequestor:     req.Requestor,
		BusinessReference: req.BusinessReference,
		ReasonForCheck:    req.ReasonForCheck,
	}

	err := d.retry.ExecuteContext(ctx, func(ctx context.Context) error {
		return d.store.UpsertScreening(ctx, entity)
	})
	if err != nil {
		return nil, fmt.Errorf("upsert screening: %w", err)
	}

	if d.cache != nil {
		if err := d.cache.Set(ctx, entityKey, &result); err != nil {
			d.logger.Warn("failed to prime cache", zap.String("entity_key", entityKey), zap.Error(err))
		}
	}
	return &result, nil
}

func (d *Dispatcher) enqueue(ctx context.Context, req types.ScreeningRequest, entityKey string, reason types.JobReason, refreshRunID *uuid.UUID, forceRescreen bool) (uuid.UUID, error) {
	job := types.ScreeningJob{
		EntityKey:         entityKey,
		Name:              req.Name,
		DateOfBirth:       normalize.DOB(req.DOB),
		EntityType:        req.EntityType,
		Requestor:         req.Requestor,
		BusinessReference: req.BusinessReference,
		ReasonForCheck:    req.ReasonForCheck,
		Reason:            reason,
		RefreshRunID:      refreshRunID,
		ForceRescreen:     forceRescreen,
	}

	if d.idempotency == nil {
		return d.store.EnqueueJob(ctx, job)
	}

	var jobID uuid.UUID
	err := d.idempotency.ExecuteWithLock(ctx, "dispatch:"+entityKey, lockTTL, func() error {
		id, err := d.store.EnqueueJob(ctx, job)
		jobID = id
		return err
	})
	if err != nil {
		return uuid.Nil, fmt.Errorf("enqueue job: %w", err)
	}
	return jobID, nil
}

// EnqueueBulk implements spec.md §4.5's bulk/internal ingestion variant:
// never runs matches inline, and for each item returns one of
// {reused, already_pending, queued}.
func (d *Dispatcher) EnqueueBulk(ctx context.Context, items []types.ScreeningRequest) ([]types.BulkItemResponse, error) {
	if len(items) > 500 {
		return nil, fmt.Errorf("bulk request exceeds 500 items (got %d)", len(items))
	}

	out := make([]types.BulkItemResponse, len(items))
	for i, req := range items {
		if req.EntityType == "" {
			req.EntityType = types.EntityTypePerson
		}
		if err := Validate(req); err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}

		entityKey := normalize.EntityKey(req.Name, string(req.EntityType), req.DOB)

		cached, err := d.lookupCached(ctx, entityKey)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		if cached != nil {
			if err := d.store.UpdateCachedScreeningMetadata(ctx, entityKey, req.Requestor, req.BusinessReference, req.ReasonForCheck); err != nil {
				d.logger.Warn("failed to refresh cached screening metadata", zap.String("entity_key", entityKey), zap.Error(err))
			}
			out[i] = types.BulkItemResponse{Outcome: types.OutcomeReused}
			continue
		}

		pending, err := d.store.HasPendingOrRunningJob(ctx, entityKey)
		if err != nil {
			return nil, fmt.Errorf("item %d: check pending job: %w", i, err)
		}
		if pending {
			out[i] = types.BulkItemResponse{Outcome: types.OutcomeAlreadyPending}
			continue
		}

		jobID, err := d.enqueue(ctx, req, entityKey, types.JobReasonManual, nil, false)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		out[i] = types.BulkItemResponse{Outcome: types.OutcomeQueued, JobID: &jobID}
	}
	return out, nil
}

// MarkFalsePositive delegates to the store, stamping the current uk_hash
// onto the manual override block.
func (d *Dispatcher) MarkFalsePositive(ctx context.Context, entityKey, actor, reason, currentUKHash string) (*types.ScreeningResult, error) {
	result, err := d.store.MarkFalsePositive(ctx, entityKey, actor, reason, currentUKHash)
	if err != nil {
		return nil, fmt.Errorf("mark false positive: %w", err)
	}

	if d.cache != nil {
		if err := d.cache.Invalidate(ctx, entityKey); err != nil {
			d.logger.Warn("failed to invalidate cached screening", zap.String("entity_key", entityKey), zap.Error(err))
		}
	}
	return result, nil
}
