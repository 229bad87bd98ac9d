// Package search implements the in-memory search index of spec §4.E: strict substring matching
// (required), an optional standard fuzzy AND mode, and SemVer range filtering over
// Masterminds/semver/v3, the teacher's own version-handling dependency.
package search

import (
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/Masterminds/semver/v3"
	"github.com/pkg/errors"

	"github.com/bindlehq/bindle/internal/berr"
	"github.com/bindlehq/bindle/types"
)

// Index is a read-mostly, reader-writer-disciplined in-memory index over invoices, keyed by
// name/version. Yanked invoices stay in the index with a flag and are filtered out at query time
// unless a query asks for them. Put and MarkYanked update the slice in place under the write lock
// and Search copies it under the read lock, so readers never block each other (spec §5).
type Index struct {
	mu       sync.RWMutex
	snapshot []entry
}

type entry struct {
	invoice types.Invoice
	yanked  bool
}

// New returns an empty index.
func New() *Index {
	return &Index{}
}

// Put inserts or replaces the indexed copy of inv, keyed by name+version.
func (idx *Index) Put(inv types.Invoice) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	for i := range idx.snapshot {
		if idx.snapshot[i].invoice.Name() == inv.Name() {
			idx.snapshot[i] = entry{invoice: inv, yanked: inv.IsYanked()}
			return
		}
	}
	idx.snapshot = append(idx.snapshot, entry{invoice: inv, yanked: inv.IsYanked()})
}

// MarkYanked flips the cached yanked flag for name/version without requiring a full re-Put.
func (idx *Index) MarkYanked(name, version string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	full := name + "/" + version
	for i := range idx.snapshot {
		if idx.snapshot[i].invoice.Name() == full {
			yes := true
			idx.snapshot[i].invoice.Yanked = &yes
			idx.snapshot[i].yanked = true
			return
		}
	}
}

// Query describes a single search request (spec §4.E).
type Query struct {
	Term          string
	VersionRange  string
	Strict        bool
	IncludeYanked bool
	Offset        uint64
	Limit         uint8
	StandardMode  bool // enables the optional fuzzy mode when Strict is false
}

// Search evaluates q against the index and returns a response envelope matching spec §4.E's
// contract exactly, including when there are zero matches (a well-formed empty envelope).
func (idx *Index) Search(q Query) (*types.Matches, error) {
	idx.mu.RLock()
	snapshot := append([]entry(nil), idx.snapshot...)
	idx.mu.RUnlock()

	var constraint *semver.Constraints
	if q.VersionRange != "" {
		c, err := parseRange(q.VersionRange)
		if err != nil {
			return nil, errors.Wrapf(berr.ErrBadRange, "%s", err)
		}
		constraint = c
	}

	var candidates []types.Invoice
	for _, e := range snapshot {
		if e.yanked && !q.IncludeYanked {
			continue
		}
		if !matchesTerm(e.invoice, q.Term, q.Strict || !q.StandardMode) {
			continue
		}
		if constraint != nil {
			v, err := semver.NewVersion(e.invoice.Bindle.Version)
			if err != nil || !constraint.Check(v) {
				continue
			}
		}
		candidates = append(candidates, e.invoice)
	}

	total := uint64(len(candidates))

	limit := q.Limit
	start := q.Offset
	var page []types.Invoice
	if start < total {
		end := start + uint64(limit)
		if limit == 0 {
			end = start
		}
		if end > total {
			end = total
		}
		page = candidates[start:end]
	}

	return &types.Matches{
		Query:     q.Term,
		Strict:    q.Strict || !q.StandardMode,
		Offset:    q.Offset,
		Limit:     q.Limit,
		Timestamp: time.Now().Unix(),
		Total:     total,
		More:      start+uint64(len(page)) < total,
		Yanked:    q.IncludeYanked,
		Invoices:  page,
	}, nil
}

// matchesTerm implements both modes of spec §4.E. Empty term matches everything.
func matchesTerm(inv types.Invoice, term string, strict bool) bool {
	if term == "" {
		return true
	}

	if strict {
		for _, tok := range strings.Fields(term) {
			if !strings.Contains(inv.Bindle.Name, tok) {
				return false
			}
		}
		return true
	}

	// Standard (fuzzy) mode: AND-of-terms across name (weighted highest by being checked
	// first), version, authors, description. Annotations and parcel data are never indexed,
	// per spec §4.E.
	haystacks := []string{
		strings.ToLower(inv.Bindle.Name),
		strings.ToLower(inv.Bindle.Version),
		strings.ToLower(strings.Join(inv.Bindle.Authors, " ")),
	}
	if inv.Bindle.Description != nil {
		haystacks = append(haystacks, strings.ToLower(*inv.Bindle.Description))
	}

	for _, tok := range splitTerm(strings.ToLower(term)) {
		found := false
		for _, h := range haystacks {
			if strings.Contains(h, tok) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// splitTerm decomposes a standard-mode query term on any non-alphanumeric delimiter (whitespace,
// "/", "-", ".", …), so a compound term like "foo/bar" is evaluated as the AND of its parts
// ("foo", "bar") rather than as one literal substring: spec §4.E's scenario 6 requires "foo/bar"
// to additionally match "foo-bar-baz" under standard mode.
func splitTerm(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// parseRange supports spec §4.E's operators: =, <, >, <=, >=, ~, ^, and "A - B".
func parseRange(raw string) (*semver.Constraints, error) {
	return semver.NewConstraint(raw)
}
