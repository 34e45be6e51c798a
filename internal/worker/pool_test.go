package worker

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/deltran/screening/internal/types"
	"github.com/deltran/screening/internal/watchlist"
)

type fakeStore struct {
	valid        map[string]*types.ScreeningResult
	upserts      []types.ScreenedEntity
	completed    []types.Transition
	failed       []string
	claimQueue   []*types.ScreeningJob
}

func (f *fakeStore) ClaimNextPendingJob(ctx context.Context) (*types.ScreeningJob, error) {
	if len(f.claimQueue) == 0 {
		return nil, nil
	}
	job := f.claimQueue[0]
	f.claimQueue = f.claimQueue[1:]
	return job, nil
}

func (f *fakeStore) GetValidScreening(ctx context.Context, entityKey string) (*types.ScreeningResult, error) {
	if r, ok := f.valid[entityKey]; ok {
		return r, nil
	}
	return nil, assert.AnError
}

func (f *fakeStore) UpsertScreening(ctx context.Context, entity types.ScreenedEntity) error {
	f.upserts = append(f.upserts, entity)
	return nil
}

func (f *fakeStore) CompleteJob(ctx context.Context, jobID uuid.UUID, previousStatus, resultStatus *string, transition types.Transition) error {
	f.completed = append(f.completed, transition)
	return nil
}

func (f *fakeStore) FailJob(ctx context.Context, jobID uuid.UUID, errMsg string) error {
	f.failed = append(f.failed, errMsg)
	return nil
}

func (f *fakeStore) PurgeTerminalJobsOlderThan(ctx context.Context, days int) (int64, error) {
	return 0, nil
}

func (f *fakeStore) PurgeScreenedEntitiesOlderThan(ctx context.Context, months int) (int64, error) {
	return 0, nil
}

func TestProcessJobRunsMatcherWhenNoValidCache(t *testing.T) {
	fs := &fakeStore{valid: map[string]*types.ScreeningResult{}}
	holder := watchlist.NewHolder()
	holder.Publish(watchlist.New(nil))

	p := New(fs, holder, zap.NewNop(), Config{})

	job := &types.ScreeningJob{
		JobID:      uuid.New(),
		EntityKey:  "key-1",
		Name:       "Jane Doe",
		EntityType: types.EntityTypePerson,
		Requestor:  "analyst",
	}

	transition, err := p.processJob(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, types.TransitionNewResult, transition)
	require.Len(t, fs.upserts, 1)
	assert.Equal(t, types.StatusCleared, fs.upserts[0].Status)
}

func TestProcessJobReusesValidCacheWithoutForceRescreen(t *testing.T) {
	cached := &types.ScreeningResult{Status: types.StatusFailSanction}
	fs := &fakeStore{valid: map[string]*types.ScreeningResult{"key-2": cached}}
	holder := watchlist.NewHolder()
	holder.Publish(watchlist.New(nil))

	p := New(fs, holder, zap.NewNop(), Config{})

	prev := string(types.StatusCleared)
	job := &types.ScreeningJob{
		JobID:          uuid.New(),
		EntityKey:      "key-2",
		Name:           "John Smith",
		EntityType:     types.EntityTypePerson,
		PreviousStatus: &prev,
	}

	transition, err := p.processJob(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, types.TransitionClearedToFail, transition)
	assert.Empty(t, fs.upserts)
}

func TestProcessJobForceRescreenSkipsCache(t *testing.T) {
	cached := &types.ScreeningResult{Status: types.StatusFailSanction}
	fs := &fakeStore{valid: map[string]*types.ScreeningResult{"key-3": cached}}
	holder := watchlist.NewHolder()
	holder.Publish(watchlist.New(nil))

	p := New(fs, holder, zap.NewNop(), Config{})

	job := &types.ScreeningJob{
		JobID:         uuid.New(),
		EntityKey:     "key-3",
		Name:          "Alice",
		EntityType:    types.EntityTypePerson,
		ForceRescreen: true,
	}

	_, err := p.processJob(context.Background(), job)
	require.NoError(t, err)
	require.Len(t, fs.upserts, 1)
}

func TestDeriveTransition(t *testing.T) {
	cleared := string(types.StatusCleared)
	failSanction := string(types.StatusFailSanction)

	t.Run("no previous status is new_result", func(t *testing.T) {
		assert.Equal(t, types.TransitionNewResult, deriveTransition(nil, cleared))
	})
	t.Run("same status is unchanged", func(t *testing.T) {
		assert.Equal(t, types.TransitionUnchanged, deriveTransition(&cleared, cleared))
	})
	t.Run("cleared to fail", func(t *testing.T) {
		assert.Equal(t, types.TransitionClearedToFail, deriveTransition(&cleared, failSanction))
	})
	t.Run("fail to cleared", func(t *testing.T) {
		assert.Equal(t, types.TransitionFailToCleared, deriveTransition(&failSanction, cleared))
	})
}
