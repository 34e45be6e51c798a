// Package normalize provides the pure, total canonicalization functions shared by
// the matcher and the watchlist loader: text normalization, DOB parsing, entity
// keying, and match tokenization.
package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// stopWords is the fixed set of corporate and geographic noise tokens dropped by
// TokenizeForMatch. Order does not matter; membership does.
var stopWords = map[string]struct{}{
	"the": {}, "ltd": {}, "llc": {}, "inc": {}, "co": {}, "company": {},
	"corp": {}, "plc": {}, "limited": {}, "real": {}, "estate": {}, "group": {},
	"services": {}, "solutions": {}, "hub": {}, "global": {}, "trust": {},
	"association": {}, "federation": {}, "union": {}, "committee": {},
	"organization": {}, "network": {}, "centre": {}, "center": {},
	"international": {}, "foundation": {}, "institute": {}, "bank": {},
}

var nonWordRe = regexp.MustCompile(`[^a-z0-9_\s]`)
var whitespaceRe = regexp.MustCompile(`\s+`)

var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"2006.01.02",
	"01/02/2006",
	"02/01/2006",
	"01-02-2006",
	"02-01-2006",
	"02.01.2006",
	"2006-01-02T15:04:05Z07:00",
	time.RFC3339,
}

// Text canonicalizes a name for matching: Unicode NFKD decomposition, strip
// non-ASCII combining marks, drop everything outside [A-Za-z0-9_\s], collapse
// whitespace, lowercase, trim. Non-string-shaped callers (empty input) yield "".
func Text(s string) string {
	if s == "" {
		return ""
	}
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	decomposed, _, err := transform.String(t, s)
	if err != nil {
		decomposed = s
	}
	lowered := strings.ToLower(decomposed)
	stripped := nonWordRe.ReplaceAllString(lowered, "")
	collapsed := whitespaceRe.ReplaceAllString(stripped, " ")
	return strings.TrimSpace(collapsed)
}

// DOB parses a reasonably-shaped date string into YYYY-MM-DD, returning nil on
// failure or empty input. It never errors.
func DOB(d *string) *string {
	if d == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*d)
	if trimmed == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, trimmed); err == nil {
			iso := t.Format("2006-01-02")
			return &iso
		}
	}
	return nil
}

// EntityKey derives the deterministic SHA-256 hex cache/queue key for a
// (name, entity_type, dob) triple.
func EntityKey(name string, entityType string, dob *string) string {
	dobPart := ""
	if norm := DOB(dob); norm != nil {
		dobPart = *norm
	}
	raw := Text(name) + "|" + strings.ToLower(entityType) + "|" + dobPart
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// TokenizeForMatch normalizes s, splits on whitespace, and drops stop words.
// It returns the cleaned, joined string and the surviving token set.
func TokenizeForMatch(s string) (string, map[string]struct{}) {
	normalized := Text(s)
	if normalized == "" {
		return "", map[string]struct{}{}
	}
	raw := strings.Fields(normalized)
	kept := make([]string, 0, len(raw))
	set := make(map[string]struct{}, len(raw))
	for _, tok := range raw {
		if _, isStop := stopWords[tok]; isStop {
			continue
		}
		kept = append(kept, tok)
		set[tok] = struct{}{}
	}
	return strings.Join(kept, " "), set
}
