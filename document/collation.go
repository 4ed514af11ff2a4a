package document

import (
	"fmt"
	"strings"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// Collation controls how string values compare and sort. The zero spec ""
// (and a nil *Collation) means binary ordering: plain byte-wise comparison
// with no linguistic rules.
//
// A non-empty spec has the form "culture" or "culture/Option,Option", for
// example "en-US/IgnoreCase". The spec string is what gets persisted in the
// datafile header, so it must round-trip through String.
type Collation struct {
	spec     string
	collator *collate.Collator
}

// Collation options accepted after the culture tag.
const (
	// CollationIgnoreCase folds letter case when comparing.
	CollationIgnoreCase = "IgnoreCase"
	// CollationIgnoreNonSpace ignores diacritics and other non-spacing marks.
	CollationIgnoreNonSpace = "IgnoreNonSpace"
	// CollationNumeric compares digit runs by numeric value.
	CollationNumeric = "Numeric"
)

// NewCollation parses a collation spec. An empty spec yields the binary
// collation.
func NewCollation(spec string) (*Collation, error) {
	if spec == "" || strings.EqualFold(spec, "binary") {
		return &Collation{}, nil
	}

	culture, rest, _ := strings.Cut(spec, "/")
	tag, err := language.Parse(culture)
	if err != nil {
		return nil, fmt.Errorf("document: parse collation culture %q: %w", culture, err)
	}

	var opts []collate.Option
	if rest != "" {
		for _, opt := range strings.Split(rest, ",") {
			switch strings.TrimSpace(opt) {
			case CollationIgnoreCase:
				opts = append(opts, collate.IgnoreCase)
			case CollationIgnoreNonSpace:
				opts = append(opts, collate.IgnoreDiacritics)
			case CollationNumeric:
				opts = append(opts, collate.Numeric)
			default:
				return nil, fmt.Errorf("document: unknown collation option %q", opt)
			}
		}
	}

	return &Collation{
		spec:     spec,
		collator: collate.New(tag, opts...),
	}, nil
}

// MustCollation is NewCollation that panics on a malformed spec.
func MustCollation(spec string) *Collation {
	c, err := NewCollation(spec)
	if err != nil {
		panic(err)
	}
	return c
}

// CompareString orders two strings under the collation. Nil receivers and
// the binary collation compare byte-wise.
func (c *Collation) CompareString(a, b string) int {
	if c == nil || c.collator == nil {
		return strings.Compare(a, b)
	}
	return c.collator.CompareString(a, b)
}

// IsBinary reports whether the collation is the binary default.
func (c *Collation) IsBinary() bool { return c == nil || c.collator == nil }

// String returns the persistable spec, "" for binary.
func (c *Collation) String() string {
	if c == nil {
		return ""
	}
	return c.spec
}
