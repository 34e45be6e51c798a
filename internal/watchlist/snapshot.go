package watchlist

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/deltran/screening/internal/types"
)

// Snapshot is the immutable, in-memory, column-projected view over the
// latest sanctions and PEP feeds. It is published behind an atomic pointer
// swap: readers never lock, writers never mutate in place.
type Snapshot struct {
	entries []types.WatchlistEntry
}

// New builds a Snapshot from already-loaded, already-filtered entries.
func New(entries []types.WatchlistEntry) *Snapshot {
	return &Snapshot{entries: entries}
}

// Entries returns the full projected entry set. Callers must not mutate it.
func (s *Snapshot) Entries() []types.WatchlistEntry {
	if s == nil {
		return nil
	}
	return s.entries
}

// Empty reports whether the snapshot carries no usable data, per spec.md
// §4.2's failure semantics: a missing or empty snapshot makes the Matcher
// return Cleared rather than erroring.
func (s *Snapshot) Empty() bool {
	return s == nil || len(s.entries) == 0
}

// Holder publishes Snapshots for concurrent, lock-free reads. A refresh
// calls Publish with a freshly built Snapshot; readers that already hold a
// *Snapshot continue to see the old, consistent view until they call
// Current again.
type Holder struct {
	ptr atomic.Pointer[Snapshot]
}

// NewHolder returns a Holder seeded with an empty snapshot.
func NewHolder() *Holder {
	h := &Holder{}
	h.ptr.Store(New(nil))
	return h
}

// Current returns the currently published Snapshot.
func (h *Holder) Current() *Snapshot {
	return h.ptr.Load()
}

// Publish atomically swaps in a new Snapshot.
func (h *Holder) Publish(s *Snapshot) {
	h.ptr.Store(s)
}

// UKEntry is the canonical record used for the uk_hash fingerprint and for
// delta computation between consecutive refresh runs.
type UKEntry struct {
	NameNorm  string  `json:"name_norm"`
	BirthDate *string `json:"birth_date,omitempty"`
	Dataset   string  `json:"dataset"`
	Regime    string  `json:"regime"`
}

// Fingerprint is a deterministic per-entry key used to detect added,
// removed, and changed rows across refresh runs.
func (e UKEntry) Fingerprint() string {
	dob := ""
	if e.BirthDate != nil {
		dob = *e.BirthDate
	}
	raw := strings.Join([]string{e.NameNorm, dob, e.Dataset, e.Regime}, "|")
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// UKEntries filters the snapshot to the UK-relevant subset and derives the
// canonical records used for uk_hash.
func UKEntries(entries []types.WatchlistEntry) []UKEntry {
	var out []UKEntry
	for _, e := range entries {
		if e.SourceType != types.SourceSanctions || !isUKEntry(e) {
			continue
		}
		out = append(out, UKEntry{
			NameNorm:  e.NameNorm,
			BirthDate: e.BirthNorm,
			Dataset:   e.Dataset,
			Regime:    RegimeLabel(e),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Fingerprint() < out[j].Fingerprint() })
	return out
}

// ComputeUKHash derives the stable fingerprint over the sorted UK entry set.
func ComputeUKHash(ukEntries []UKEntry) string {
	h := sha256.New()
	for _, e := range ukEntries {
		h.Write([]byte(e.Fingerprint()))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Delta reports the added/removed/changed counts between two consecutive
// UK entry sets, keyed by normalized name (a changed entry is a name whose
// fingerprint moved).
type Delta struct {
	Added   int
	Removed int
	Changed int
	// Tokens is the union of normalized-name tokens belonging to added and
	// changed entries, used by the refresh sweep to shortlist candidates.
	Tokens map[string]struct{}
}

// ComputeDelta diffs prev against next by normalized name.
func ComputeDelta(prev, next []UKEntry) Delta {
	prevByName := make(map[string]UKEntry, len(prev))
	for _, e := range prev {
		prevByName[e.NameNorm] = e
	}
	nextByName := make(map[string]UKEntry, len(next))
	for _, e := range next {
		nextByName[e.NameNorm] = e
	}

	d := Delta{Tokens: map[string]struct{}{}}
	for name, ne := range nextByName {
		pe, existed := prevByName[name]
		if !existed {
			d.Added++
			addTokens(d.Tokens, name)
			continue
		}
		if pe.Fingerprint() != ne.Fingerprint() {
			d.Changed++
			addTokens(d.Tokens, name)
		}
	}
	for name := range prevByName {
		if _, stillPresent := nextByName[name]; !stillPresent {
			d.Removed++
		}
	}
	return d
}

func addTokens(set map[string]struct{}, normalizedName string) {
	for _, tok := range strings.Fields(normalizedName) {
		set[tok] = struct{}{}
	}
}

// RegimeLabel derives the short regime label for a winning watchlist row:
// the first non-empty of the first ';'-separated program_ids token, the
// first ';'-separated chunk or line of the sanctions free-text field, or
// the dataset name.
func RegimeLabel(e types.WatchlistEntry) string {
	if first := firstSemicolonToken(e.ProgramIDs); first != "" {
		return first
	}
	if first := firstSemicolonOrLineToken(e.Sanctions); first != "" {
		return first
	}
	return e.Dataset
}

func firstSemicolonToken(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	return strings.TrimSpace(strings.Split(s, ";")[0])
}

func firstSemicolonOrLineToken(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if parts := strings.Split(s, ";"); len(parts) > 1 {
		return strings.TrimSpace(parts[0])
	}
	return strings.TrimSpace(strings.SplitN(s, "\n", 2)[0])
}

// fileFormat is the on-disk shape of the materialized snapshot file.
type fileFormat struct {
	Entries []types.WatchlistEntry `json:"entries"`
}

// WriteAtomic persists entries to path using the write-temp-then-rename
// pattern from spec.md §4.7 step 2, so concurrent readers of the old file
// never observe a partial write.
func WriteAtomic(path string, entries []types.WatchlistEntry) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".snapshot-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp snapshot file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	enc := json.NewEncoder(tmp)
	if err := enc.Encode(fileFormat{Entries: entries}); err != nil {
		tmp.Close()
		return fmt.Errorf("encode snapshot file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp snapshot file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename snapshot file into place: %w", err)
	}
	return nil
}

// LoadFromDisk reads a previously materialized snapshot file.
func LoadFromDisk(path string) (*Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open snapshot file: %w", err)
	}
	defer f.Close()

	var ff fileFormat
	if err := json.NewDecoder(f).Decode(&ff); err != nil {
		return nil, fmt.Errorf("decode snapshot file: %w", err)
	}
	return New(ff.Entries), nil
}
