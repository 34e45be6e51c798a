package dispatch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/deltran/screening/internal/store"
	"github.com/deltran/screening/internal/types"
	"github.com/deltran/screening/internal/watchlist"
)

func TestValidate(t *testing.T) {
	t.Run("missing name", func(t *testing.T) {
		err := Validate(types.ScreeningRequest{Requestor: "alice"})
		var verr *types.ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, types.ErrorCodeMissingName, verr.Code)
	})

	t.Run("missing requestor", func(t *testing.T) {
		err := Validate(types.ScreeningRequest{Name: "John Smith"})
		var verr *types.ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, types.ErrorCodeMissingRequestor, verr.Code)
	})

	t.Run("valid request", func(t *testing.T) {
		err := Validate(types.ScreeningRequest{Name: "John Smith", Requestor: "alice"})
		assert.NoError(t, err)
	})
}

func TestNewAppliesDefaultQueueThreshold(t *testing.T) {
	d := New(nil, watchlist.NewHolder(), nil, nil, -1, zap.NewNop())
	assert.Equal(t, DefaultQueueThreshold, d.queueThreshold)
}

func TestScreenRejectsInvalidRequest(t *testing.T) {
	d := New(nil, watchlist.NewHolder(), nil, nil, DefaultQueueThreshold, zap.NewNop())

	_, err := d.Screen(context.Background(), types.ScreeningRequest{Requestor: "alice"})
	var verr *types.ValidationError
	require.ErrorAs(t, err, &verr)
}

// setupTestStore mirrors the store package's own integration-test harness:
// a real Postgres database is required, so this is skipped in short mode.
func setupTestStore(t *testing.T) *store.Store {
	if testing.Short() {
		t.Skip("skipping dispatcher integration test in short mode")
	}

	cfg := store.DefaultConfig()
	cfg.Host = "localhost"
	cfg.Port = 5432
	cfg.Database = "screening_test"
	cfg.User = "postgres"
	cfg.Password = "postgres"

	st, err := store.Open(cfg)
	require.NoError(t, err)

	_, err = st.DB().Exec(store.Schema)
	require.NoError(t, err)

	return st
}

func TestScreenRunsSyncAndReusesOnSecondCall(t *testing.T) {
	st := setupTestStore(t)
	defer st.Close()

	d := New(st, watchlist.NewHolder(), nil, nil, DefaultQueueThreshold, zap.NewNop())

	req := types.ScreeningRequest{
		Name:              "Jane Roe",
		Requestor:         "compliance-analyst",
		BusinessReference: "case-001",
		ReasonForCheck:    types.ReasonClientOnboarding,
	}

	first, err := d.Screen(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeCompleted, first.Outcome)
	require.NotNil(t, first.Result)

	second, err := d.Screen(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeReused, second.Outcome)
}

func TestEnqueueBulkRejectsOversizedBatch(t *testing.T) {
	d := New(nil, watchlist.NewHolder(), nil, nil, DefaultQueueThreshold, zap.NewNop())

	items := make([]types.ScreeningRequest, 501)
	for i := range items {
		items[i] = types.ScreeningRequest{Name: "Someone", Requestor: "batch-job"}
	}

	_, err := d.EnqueueBulk(context.Background(), items)
	assert.Error(t, err)
}
