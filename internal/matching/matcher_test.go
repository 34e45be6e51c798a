package matching

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deltran/screening/internal/types"
	"github.com/deltran/screening/internal/watchlist"
)

func strPtr(s string) *string { return &s }

func sanctionsEntry(name, schema, birth, dataset string) types.WatchlistEntry {
	var birthPtr *string
	if birth != "" {
		birthPtr = &birth
	}
	return types.WatchlistEntry{
		Schema:     schema,
		Name:       name,
		NameNorm:   name,
		BirthDate:  birthPtr,
		BirthNorm:  birthPtr,
		Dataset:    dataset,
		ProgramIDs: "UN",
		SourceType: types.SourceSanctions,
	}
}

func pepEntry(name, schema string) types.WatchlistEntry {
	return types.WatchlistEntry{
		Schema:     schema,
		Name:       name,
		NameNorm:   name,
		SourceType: types.SourcePEPs,
	}
}

func TestMatchEmptySnapshotIsCleared(t *testing.T) {
	req := types.ScreeningRequest{Name: "Jane Doe", EntityType: types.EntityTypePerson}
	result := Match(req, watchlist.New(nil))

	assert.Equal(t, types.StatusCleared, result.Status)
	assert.True(t, result.Score.IsZero())
	assert.Empty(t, result.TopMatches)
}

func TestMatchExactSanctionHit(t *testing.T) {
	snap := watchlist.New([]types.WatchlistEntry{
		sanctionsEntry("Vladimir Putin", "person", "", "OFAC SDN"),
	})
	req := types.ScreeningRequest{Name: "Vladimir Putin", EntityType: types.EntityTypePerson}

	result := Match(req, snap)

	require.True(t, result.IsSanctioned)
	assert.Equal(t, types.StatusFailSanction, result.Status)
	assert.Equal(t, types.RiskHighRisk, result.RiskLevel)
	assert.Contains(t, []types.Confidence{types.ConfidenceHigh, types.ConfidenceMedium}, result.Confidence)
}

func TestMatchDOBDisagreementClearsButSuggests(t *testing.T) {
	snap := watchlist.New([]types.WatchlistEntry{
		sanctionsEntry("Jane Doe", "person", "1970-01-01", "OFAC SDN"),
	})
	req := types.ScreeningRequest{Name: "Jane Doe", EntityType: types.EntityTypePerson, DOB: strPtr("1999-09-09")}

	result := Match(req, snap)

	assert.Equal(t, types.StatusCleared, result.Status)
	assert.NotEmpty(t, result.TopMatches)
}

func TestMatchSanctionAndPEPUpgradesStatus(t *testing.T) {
	snap := watchlist.New([]types.WatchlistEntry{
		sanctionsEntry("John Smith", "person", "", "EU Council"),
		pepEntry("John Smith", "person"),
	})
	req := types.ScreeningRequest{Name: "John Smith", EntityType: types.EntityTypePerson}

	result := Match(req, snap)

	assert.Equal(t, types.StatusFailSanctionAndPEP, result.Status)
	assert.True(t, result.IsSanctioned)
	assert.True(t, result.IsPEP)
}

func TestMatchPEPOnly(t *testing.T) {
	snap := watchlist.New([]types.WatchlistEntry{
		pepEntry("Alice Example", "person"),
	})
	req := types.ScreeningRequest{Name: "Alice Example", EntityType: types.EntityTypePerson}

	result := Match(req, snap)

	assert.Equal(t, types.StatusFailPEP, result.Status)
	assert.Equal(t, types.RiskMediumRisk, result.RiskLevel)
	assert.False(t, result.IsSanctioned)
}

func TestMatchWrongEntityTypeNeverMatches(t *testing.T) {
	snap := watchlist.New([]types.WatchlistEntry{
		sanctionsEntry("Acme Corp", "organization", "", "OFAC SDN"),
	})
	req := types.ScreeningRequest{Name: "Acme Corp", EntityType: types.EntityTypePerson}

	result := Match(req, snap)

	assert.Equal(t, types.StatusCleared, result.Status)
}

func TestTokenSetRatioReorderedTokensScoreHigh(t *testing.T) {
	_, aTokens := func() (string, map[string]struct{}) {
		return "smith john", map[string]struct{}{"smith": {}, "john": {}}
	}()
	score := tokenSetRatio("john smith", aTokens, "smith john", aTokens)
	assert.GreaterOrEqual(t, score, 90)
}

func TestRiskLevelMapping(t *testing.T) {
	tests := []struct {
		status types.Status
		want   types.RiskLevel
	}{
		{types.StatusFailSanction, types.RiskHighRisk},
		{types.StatusFailSanctionAndPEP, types.RiskHighRisk},
		{types.StatusFailPEP, types.RiskMediumRisk},
		{types.StatusCleared, types.RiskCleared},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.want, riskLevel(tt.status))
		})
	}
}
