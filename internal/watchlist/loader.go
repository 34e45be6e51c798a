// Package watchlist owns the in-memory columnar view of the consolidated
// sanctions and PEP universe the Matcher scores against, and the pipeline
// that builds it from the raw feed files.
package watchlist

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/deltran/screening/internal/normalize"
	"github.com/deltran/screening/internal/types"
)

// requiredColumns is the minimum column set every feed file must carry.
var requiredColumns = []string{"schema", "name", "aliases", "birth_date", "program_ids", "dataset", "sanctions"}

// DefaultSanctionsAllowlist is the set of dataset substrings a sanctions feed
// row must match (case-insensitive) to survive the loader's filter.
var DefaultSanctionsAllowlist = []string{
	"UN", "EU", "OFAC", "HM Treasury", "HMT", "UK Financial",
	"EU Council", "EU Financial Sanctions",
}

// ukTokens narrows a row to the UK-relevant subset used for the uk_hash
// fingerprint and the delta re-screen sweep.
var ukTokens = []string{"HMT", "HM Treasury", "UK Financial", "OFSI", "UK"}

// Loader reads the raw sanctions and PEP feed files and produces the
// projected, normalized WatchlistEntry rows the Snapshot publishes.
type Loader struct {
	allowlist []string
}

// NewLoader builds a Loader filtering sanctions rows against allowlist.
// An empty allowlist falls back to DefaultSanctionsAllowlist.
func NewLoader(allowlist []string) *Loader {
	if len(allowlist) == 0 {
		allowlist = DefaultSanctionsAllowlist
	}
	return &Loader{allowlist: allowlist}
}

// LoadSanctions reads a sanctions feed, tagging every row source_type=sanctions
// and dropping rows whose dataset does not match the allowlist.
func (l *Loader) LoadSanctions(r io.Reader) ([]types.WatchlistEntry, error) {
	rows, err := readFeed(r)
	if err != nil {
		return nil, fmt.Errorf("load sanctions feed: %w", err)
	}
	out := make([]types.WatchlistEntry, 0, len(rows))
	for _, row := range rows {
		if !matchesAllowlist(row.Dataset, l.allowlist) {
			continue
		}
		row.SourceType = types.SourceSanctions
		out = append(out, row)
	}
	return out, nil
}

// LoadPEPs reads the PEP feed, tagging every row source_type=peps. The PEP
// feed carries no allow-list filter; it is consolidated upstream.
func (l *Loader) LoadPEPs(r io.Reader) ([]types.WatchlistEntry, error) {
	rows, err := readFeed(r)
	if err != nil {
		return nil, fmt.Errorf("load peps feed: %w", err)
	}
	for i := range rows {
		rows[i].SourceType = types.SourcePEPs
	}
	return rows, nil
}

func readFeed(r io.Reader) ([]types.WatchlistEntry, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	idx, err := columnIndex(header)
	if err != nil {
		return nil, err
	}

	var out []types.WatchlistEntry
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		entry := types.WatchlistEntry{
			Schema:     field(record, idx["schema"]),
			Name:       field(record, idx["name"]),
			Aliases:    field(record, idx["aliases"]),
			ProgramIDs: field(record, idx["program_ids"]),
			Dataset:    field(record, idx["dataset"]),
			Sanctions:  field(record, idx["sanctions"]),
		}
		if entry.Name == "" {
			continue
		}
		entry.NameNorm = normalize.Text(entry.Name)
		if raw := field(record, idx["birth_date"]); raw != "" {
			entry.BirthDate = &raw
			entry.BirthNorm = normalize.DOB(&raw)
		}
		out = append(out, entry)
	}
	return out, nil
}

func columnIndex(header []string) (map[string]int, error) {
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, col := range requiredColumns {
		if _, ok := idx[col]; !ok {
			return nil, fmt.Errorf("missing required column %q", col)
		}
	}
	return idx, nil
}

func field(record []string, i int) string {
	if i < 0 || i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}

func matchesAllowlist(dataset string, allowlist []string) bool {
	lower := strings.ToLower(dataset)
	for _, tok := range allowlist {
		if strings.Contains(lower, strings.ToLower(tok)) {
			return true
		}
	}
	return false
}

func isUKEntry(e types.WatchlistEntry) bool {
	return matchesAllowlist(e.Dataset, ukTokens)
}
