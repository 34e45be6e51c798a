package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deltran/screening/internal/types"
)

func setupTestStore(t *testing.T) *Store {
	if testing.Short() {
		t.Skip("skipping store integration test in short mode")
	}

	cfg := DefaultConfig()
	cfg.Host = "localhost"
	cfg.Port = 5432
	cfg.Database = "screening_test"
	cfg.User = "postgres"
	cfg.Password = "postgres"

	st, err := Open(cfg)
	require.NoError(t, err)

	_, err = st.DB().Exec(Schema)
	require.NoError(t, err)

	return st
}

func TestStoreConnection(t *testing.T) {
	st := setupTestStore(t)
	defer st.Close()

	t.Run("ping succeeds", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, st.HealthCheck(ctx))
	})

	t.Run("pending/running count query returns a non-negative count", func(t *testing.T) {
		n, err := st.GetPendingRunningCount(context.Background())
		require.NoError(t, err)
		require.GreaterOrEqual(t, n, 0)
	})
}

func TestGetValidScreeningMissReturnsNotFound(t *testing.T) {
	st := setupTestStore(t)
	defer st.Close()

	_, err := st.GetValidScreening(context.Background(), "does-not-exist")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestValidateWriteMetadata(t *testing.T) {
	t.Run("blank business reference", func(t *testing.T) {
		err := validateWriteMetadata("  ", types.ReasonClientOnboarding)
		require.Error(t, err)
		var verr *types.ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, types.ErrorCodeMissingBusinessReference, verr.Code)
	})

	t.Run("invalid reason for check", func(t *testing.T) {
		err := validateWriteMetadata("CASE-1", types.ReasonForCheck("Some Other Reason"))
		require.Error(t, err)
		var verr *types.ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, types.ErrorCodeInvalidReasonForCheck, verr.Code)
	})

	t.Run("valid", func(t *testing.T) {
		require.NoError(t, validateWriteMetadata("CASE-1", types.ReasonClientOnboarding))
	})
}

func TestUpsertScreeningRejectsInvalidMetadata(t *testing.T) {
	st := setupTestStore(t)
	defer st.Close()

	entity := types.ScreenedEntity{
		EntityKey:         "entity-invalid-metadata",
		DisplayName:       "Jane Doe",
		NormalizedName:    "jane doe",
		EntityType:        types.EntityTypePerson,
		Status:            types.StatusCleared,
		RiskLevel:         types.RiskCleared,
		LastRequestor:     "tester",
		BusinessReference: "",
		ReasonForCheck:    types.ReasonClientOnboarding,
	}
	err := st.UpsertScreening(context.Background(), entity)
	require.Error(t, err)
	var verr *types.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, types.ErrorCodeMissingBusinessReference, verr.Code)
}

func TestEnqueueJobRejectsInvalidReasonForCheck(t *testing.T) {
	st := setupTestStore(t)
	defer st.Close()

	job := types.ScreeningJob{
		JobID:             uuid.New(),
		EntityKey:         "entity-invalid-job",
		Name:              "Jane Doe",
		EntityType:        types.EntityTypePerson,
		Requestor:         "tester",
		BusinessReference: "CASE-1",
		ReasonForCheck:    types.ReasonForCheck("not a real reason"),
		Reason:            types.JobReasonManual,
	}
	_, err := st.EnqueueJob(context.Background(), job)
	require.Error(t, err)
	var verr *types.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, types.ErrorCodeInvalidReasonForCheck, verr.Code)
}
