package refresh

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/deltran/screening/internal/store"
	"github.com/deltran/screening/internal/types"
	"github.com/deltran/screening/internal/watchlist"
)

type fakeSweepStore struct {
	ukHash       string
	prevRunID    uuid.UUID
	prevRows     []store.UKSnapshotRow
	stalePending []string
	entities     map[string]types.ScreenedEntity
	enqueued     []types.ScreeningJob
	finalized    *types.RefreshRun
}

func (f *fakeSweepStore) CreateRefreshRun(ctx context.Context) (uuid.UUID, error) {
	return uuid.New(), nil
}
func (f *fakeSweepStore) LatestUKHash(ctx context.Context, excluding uuid.UUID) (string, error) {
	return f.ukHash, nil
}
func (f *fakeSweepStore) MostRecentRefreshRunID(ctx context.Context, excluding uuid.UUID) (uuid.UUID, error) {
	return f.prevRunID, nil
}
func (f *fakeSweepStore) FinalizeRefreshRun(ctx context.Context, run types.RefreshRun) error {
	f.finalized = &run
	return nil
}
func (f *fakeSweepStore) ReplaceUKSnapshotEntries(ctx context.Context, refreshRunID uuid.UUID, entries []store.UKSnapshotRow) error {
	return nil
}
func (f *fakeSweepStore) PreviousUKSnapshotEntries(ctx context.Context, refreshRunID uuid.UUID) ([]store.UKSnapshotRow, error) {
	return f.prevRows, nil
}
func (f *fakeSweepStore) MarkManualOverridesStale(ctx context.Context, latestUKHash string) (int64, error) {
	return int64(len(f.stalePending)), nil
}
func (f *fakeSweepStore) ShortlistScreenedEntitiesByTerms(ctx context.Context, currentUKHash string, terms []string) ([]string, error) {
	return f.stalePending, nil
}
func (f *fakeSweepStore) HasPendingOrRunningJob(ctx context.Context, entityKey string) (bool, error) {
	return false, nil
}
func (f *fakeSweepStore) EnqueueJob(ctx context.Context, job types.ScreeningJob) (uuid.UUID, error) {
	f.enqueued = append(f.enqueued, job)
	return uuid.New(), nil
}
func (f *fakeSweepStore) GetScreenedEntity(ctx context.Context, entityKey string) (*types.ScreenedEntity, error) {
	e, ok := f.entities[entityKey]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &e, nil
}

func TestSweepRunNoChangeSkipsDeltaWork(t *testing.T) {
	sanctionsCSV := "schema,name,aliases,birth_date,program_ids,dataset,sanctions\nPerson,Jane Doe,,1980-01-01,UN1,UN Sanctions List,UN\n"
	pepsCSV := "schema,name,aliases,birth_date,program_ids,dataset,sanctions\n"

	sanctionsSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sanctionsCSV))
	}))
	defer sanctionsSrv.Close()
	pepsSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(pepsCSV))
	}))
	defer pepsSrv.Close()

	fs := &fakeSweepStore{}
	holder := watchlist.NewHolder()
	sweep := New(nil, holder, zap.NewNop(), Config{
		SanctionsFeedURL: sanctionsSrv.URL,
		PEPsFeedURL:      pepsSrv.URL,
		SnapshotPath:     t.TempDir() + "/snapshot.json",
	})
	sweep.store = fs

	run, err := sweep.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, run.SanctionsRows)
	assert.False(t, run.UKChanged)
	assert.Empty(t, fs.enqueued)
	assert.NotNil(t, fs.finalized)
	assert.False(t, holder.Current().Empty())
}

func TestSweepRunUKChangeEnqueuesCandidates(t *testing.T) {
	sanctionsCSV := "schema,name,aliases,birth_date,program_ids,dataset,sanctions\nPerson,Jane Doe,,1980-01-01,UN1,HM Treasury,UK\n"
	pepsCSV := "schema,name,aliases,birth_date,program_ids,dataset,sanctions\n"

	sanctionsSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sanctionsCSV))
	}))
	defer sanctionsSrv.Close()
	pepsSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(pepsCSV))
	}))
	defer pepsSrv.Close()

	dob := "1975-05-01"
	fs := &fakeSweepStore{
		ukHash:       "stale-hash",
		stalePending: []string{"entity-key-1"},
		entities: map[string]types.ScreenedEntity{
			"entity-key-1": {
				EntityKey:         "entity-key-1",
				DisplayName:       "Jane Doe",
				DateOfBirth:       &dob,
				EntityType:        types.EntityTypePerson,
				LastRequestor:     "compliance-team",
				BusinessReference: "CASE-123",
				ReasonForCheck:    types.ReasonPeriodicReScreen,
			},
		},
	}
	holder := watchlist.NewHolder()
	sweep := New(nil, holder, zap.NewNop(), Config{
		SanctionsFeedURL: sanctionsSrv.URL,
		PEPsFeedURL:      pepsSrv.URL,
		SnapshotPath:     t.TempDir() + "/snapshot.json",
	})
	sweep.store = fs

	run, err := sweep.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, run.UKChanged)
	require.Len(t, fs.enqueued, 1)
	job := fs.enqueued[0]
	assert.Equal(t, types.JobReasonUKDeltaRescreen, job.Reason)
	assert.True(t, job.ForceRescreen)
	assert.Equal(t, "Jane Doe", job.Name)
	assert.Equal(t, &dob, job.DateOfBirth)
	assert.Equal(t, types.EntityTypePerson, job.EntityType)
	assert.Equal(t, "compliance-team", job.Requestor)
	assert.Equal(t, "CASE-123", job.BusinessReference)
	assert.Equal(t, types.ReasonPeriodicReScreen, job.ReasonForCheck)
	assert.Equal(t, 1, run.Queued)
}
