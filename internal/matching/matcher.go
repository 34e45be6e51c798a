// Package matching implements the fuzzy matching pipeline that turns a
// normalized screening request and a watchlist snapshot into a ScreeningResult.
package matching

import (
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"
	"github.com/shopspring/decimal"

	"github.com/deltran/screening/internal/normalize"
	"github.com/deltran/screening/internal/types"
	"github.com/deltran/screening/internal/watchlist"
)

const (
	matchThreshold       = 80
	suggestionThreshold  = 60
	maxTopMatches        = 5
)

// candidate is a scored snapshot entry before the DOB gate and verdict selection.
type candidate struct {
	entry types.WatchlistEntry
	score int
}

// Match runs the full pipeline of spec §4.3 against the supplied snapshot.
func Match(req types.ScreeningRequest, snap *watchlist.Snapshot) types.ScreeningResult {
	now := snap.Entries() // entries() returns ([]WatchlistEntry) see snapshot.go
	if len(now) == 0 {
		return emptySnapshotResult()
	}

	queryNorm, queryTokens := normalize.TokenizeForMatch(req.Name)
	dobNorm := normalize.DOB(req.DOB)

	schemas := personSchemas
	if req.EntityType == types.EntityTypeOrganization {
		schemas = organizationSchemas
	}

	var sanctionsPool, pepsPool []types.WatchlistEntry
	for _, e := range now {
		if !schemas[strings.ToLower(e.Schema)] {
			continue
		}
		switch e.SourceType {
		case types.SourceSanctions:
			sanctionsPool = append(sanctionsPool, e)
		case types.SourcePEPs:
			pepsPool = append(pepsPool, e)
		}
	}

	sanctionsCandidates := scorePool(queryNorm, queryTokens, sanctionsPool)
	pepsCandidates := scorePool(queryNorm, queryTokens, pepsPool)

	if dobNorm != nil {
		sanctionsCandidates = gateByDOB(sanctionsCandidates, *dobNorm)
		pepsCandidates = gateByDOB(pepsCandidates, *dobNorm)
	}

	best := func(cands []candidate) (candidate, bool) {
		if len(cands) == 0 {
			return candidate{}, false
		}
		sort.SliceStable(cands, func(i, j int) bool { return cands[i].score > cands[j].score })
		return cands[0], true
	}

	bestSanction, hasSanction := best(sanctionsCandidates)
	bestPEP, hasPEP := best(pepsCandidates)

	var status types.Status
	var winning candidate
	var hasWinning bool
	switch {
	case hasSanction && hasPEP:
		status = types.StatusFailSanctionAndPEP
		winning, hasWinning = bestSanction, true
	case hasSanction:
		status = types.StatusFailSanction
		winning, hasWinning = bestSanction, true
	case hasPEP:
		status = types.StatusFailPEP
		winning, hasWinning = bestPEP, true
	default:
		status = types.StatusCleared
	}

	result := types.ScreeningResult{
		Status:       status,
		IsSanctioned: hasSanction,
		IsPEP:        hasPEP,
		TopMatches:   topMatches(queryNorm, queryTokens, append(append([]types.WatchlistEntry{}, sanctionsPool...), pepsPool...)),
	}

	if hasWinning {
		result.Score = decimal.NewFromInt(int64(winning.score))
		result.SanctionsName = winning.entry.Name
		result.Regime = watchlist.RegimeLabel(winning.entry)
		result.BirthDate = winning.entry.BirthNorm
	} else {
		result.Score = decimal.Zero
	}

	result.Confidence = confidenceBand(hasWinning, winning.score)
	result.RiskLevel = riskLevel(status)
	result.CheckSummary = types.CheckSummary{
		Status: string(status),
		Source: sourceLabel(status, hasSanction, bestSanction, hasPEP),
	}

	return result
}

var personSchemas = map[string]bool{"person": true}
var organizationSchemas = map[string]bool{"organization": true, "legalentity": true, "company": true}

func scorePool(queryNorm string, queryTokens map[string]struct{}, pool []types.WatchlistEntry) []candidate {
	var out []candidate
	for _, e := range pool {
		candNorm, candTokens := normalize.TokenizeForMatch(e.Name)
		if candNorm == "" {
			continue
		}

		if queryNorm == candNorm && len(queryTokens) <= 2 {
			out = append(out, candidate{entry: e, score: 100})
			continue
		}

		overlap := tokenOverlap(queryTokens, candTokens)
		union := tokenUnion(queryTokens, candTokens)
		if overlap < 2 || jaccard(overlap, len(union)) < 0.4 {
			continue
		}

		score := tokenSetRatio(queryNorm, queryTokens, candNorm, candTokens)
		if abs(len(queryTokens)-len(candTokens)) > 2 {
			score -= 15
		}
		if len(candTokens) <= 2 && len(queryTokens) > 3 {
			score -= 20
		}
		if score < matchThreshold {
			continue
		}
		out = append(out, candidate{entry: e, score: score})
	}
	return out
}

func gateByDOB(cands []candidate, dobNorm string) []candidate {
	var out []candidate
	for _, c := range cands {
		if c.entry.BirthNorm == nil || *c.entry.BirthNorm != dobNorm {
			continue
		}
		out = append(out, c)
	}
	return out
}

func topMatches(queryNorm string, queryTokens map[string]struct{}, pool []types.WatchlistEntry) []types.TopMatch {
	best := map[string]int{}
	for _, e := range pool {
		candNorm, candTokens := normalize.TokenizeForMatch(e.Name)
		if candNorm == "" {
			continue
		}
		score := tokenSetRatio(queryNorm, queryTokens, candNorm, candTokens)
		if score < suggestionThreshold {
			continue
		}
		if cur, ok := best[e.Name]; !ok || score > cur {
			best[e.Name] = score
		}
	}
	names := make([]string, 0, len(best))
	for n := range best {
		names = append(names, n)
	}
	sort.SliceStable(names, func(i, j int) bool { return best[names[i]] > best[names[j]] })
	if len(names) > maxTopMatches {
		names = names[:maxTopMatches]
	}
	out := make([]types.TopMatch, 0, len(names))
	for _, n := range names {
		out = append(out, types.TopMatch{Name: n, Score: decimal.NewFromInt(int64(best[n]))})
	}
	return out
}

func confidenceBand(hasWinning bool, score int) types.Confidence {
	if !hasWinning {
		return types.ConfidenceVeryHigh
	}
	switch {
	case score >= 90:
		return types.ConfidenceHigh
	case score >= 80:
		return types.ConfidenceMedium
	default:
		return types.ConfidenceLow
	}
}

func riskLevel(status types.Status) types.RiskLevel {
	switch status {
	case types.StatusFailSanction, types.StatusFailSanctionAndPEP:
		return types.RiskHighRisk
	case types.StatusFailPEP:
		return types.RiskMediumRisk
	default:
		return types.RiskCleared
	}
}

func sourceLabel(status types.Status, hasSanction bool, sanction candidate, hasPEP bool) string {
	switch status {
	case types.StatusFailSanction:
		return sanction.entry.Dataset
	case types.StatusFailPEP:
		return "Consolidated PEP list"
	case types.StatusFailSanctionAndPEP:
		return sanction.entry.Dataset + "; Consolidated PEP list"
	default:
		return "Consolidated sanctions & PEP watchlist"
	}
}

func emptySnapshotResult() types.ScreeningResult {
	return types.ScreeningResult{
		Status:     types.StatusCleared,
		RiskLevel:  types.RiskCleared,
		Confidence: types.ConfidenceVeryHigh,
		Score:      decimal.Zero,
		TopMatches: []types.TopMatch{},
		CheckSummary: types.CheckSummary{
			Status: string(types.StatusCleared),
			Source: "Consolidated sanctions & PEP watchlist",
		},
	}
}

func tokenOverlap(a, b map[string]struct{}) int {
	n := 0
	for t := range a {
		if _, ok := b[t]; ok {
			n++
		}
	}
	return n
}

func tokenUnion(a, b map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{}, len(a)+len(b))
	for t := range a {
		out[t] = struct{}{}
	}
	for t := range b {
		out[t] = struct{}{}
	}
	return out
}

func jaccard(overlap, unionSize int) float64 {
	if unionSize == 0 {
		return 0
	}
	return float64(overlap) / float64(unionSize)
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// tokenSetRatio approximates rapidfuzz's token_set_ratio: the two token sets are
// split into a shared intersection and per-side remainders, the three combined
// strings are compared pairwise with a Levenshtein-distance ratio, and the best
// pairing wins. This keeps word-order and duplicate corporate suffixes from
// depressing the score the way a plain whole-string ratio would.
func tokenSetRatio(aNorm string, aTokens map[string]struct{}, bNorm string, bTokens map[string]struct{}) int {
	intersection := sortedTokens(tokenIntersection(aTokens, bTokens))
	onlyA := sortedTokens(tokenDifference(aTokens, bTokens))
	onlyB := sortedTokens(tokenDifference(bTokens, aTokens))

	base := strings.Join(intersection, " ")
	t1 := joinNonEmpty(base, strings.Join(onlyA, " "))
	t2 := joinNonEmpty(base, strings.Join(onlyB, " "))

	scores := []int{
		levenshteinRatio(base, t1),
		levenshteinRatio(base, t2),
		levenshteinRatio(t1, t2),
		levenshteinRatio(aNorm, bNorm),
	}
	best := scores[0]
	for _, s := range scores[1:] {
		if s > best {
			best = s
		}
	}
	return best
}

func levenshteinRatio(a, b string) int {
	if a == "" && b == "" {
		return 100
	}
	dist := levenshtein.ComputeDistance(a, b)
	total := len(a) + len(b)
	if total == 0 {
		return 100
	}
	ratio := 100.0 * (1.0 - float64(dist)/float64(total))
	if ratio < 0 {
		ratio = 0
	}
	return int(ratio + 0.5)
}

func tokenIntersection(a, b map[string]struct{}) map[string]struct{} {
	out := map[string]struct{}{}
	for t := range a {
		if _, ok := b[t]; ok {
			out[t] = struct{}{}
		}
	}
	return out
}

func tokenDifference(a, b map[string]struct{}) map[string]struct{} {
	out := map[string]struct{}{}
	for t := range a {
		if _, ok := b[t]; !ok {
			out[t] = struct{}{}
		}
	}
	return out
}

func sortedTokens(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func joinNonEmpty(base, rest string) string {
	if base == "" {
		return rest
	}
	if rest == "" {
		return base
	}
	return base + " " + rest
}
