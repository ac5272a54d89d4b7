package library

import (
	"sort"

	"PatternScan/internal/domain/errs"
	"PatternScan/internal/domain/models"
	"PatternScan/internal/services/dtw"
)

// Index holds one LB_Keogh envelope per template, built at a library version
// under fixed DTW options.
type Index struct {
	Version   uint64
	Options   dtw.Options
	envelopes map[string]dtw.Envelope
}

// Envelope returns the envelope of a template.
func (ix *Index) Envelope(id string) (dtw.Envelope, bool) {
	env, ok := ix.envelopes[id]
	return env, ok
}

// Len returns the number of envelopes.
func (ix *Index) Len() int { return len(ix.envelopes) }

// Compatible reports whether envelopes built under ix.Options bound
// distances computed under o.
func (ix *Index) Compatible(o dtw.Options) bool {
	if ix.Options.Variant != o.Variant || ix.Options.Constraint != o.Constraint {
		return false
	}
	if o.Constraint == dtw.SakoeChiba && ix.Options.Window != o.Window {
		return false
	}
	return true
}

// Snapshot is an immutable view of the library contents and index.
// Patterns reachable from a snapshot must not be modified.
type Snapshot struct {
	version  uint64
	patterns []*models.Pattern
	byID     map[string]*models.Pattern
	index    *Index
}

func newSnapshot(version uint64, patterns []*models.Pattern, index *Index) *Snapshot {
	byIDOrder := func(i, j int) bool { return patterns[i].ID < patterns[j].ID }
	if !sort.SliceIsSorted(patterns, byIDOrder) {
		sort.Slice(patterns, byIDOrder)
	}
	byID := make(map[string]*models.Pattern, len(patterns))
	for _, p := range patterns {
		byID[p.ID] = p
	}
	return &Snapshot{version: version, patterns: patterns, byID: byID, index: index}
}

// Version is the content version the snapshot was published at.
func (s *Snapshot) Version() uint64 { return s.version }

// Len returns the number of templates.
func (s *Snapshot) Len() int { return len(s.patterns) }

// Patterns returns the templates ordered by id.
func (s *Snapshot) Patterns() []*models.Pattern { return s.patterns }

// Get looks up a template by id.
func (s *Snapshot) Get(id string) (*models.Pattern, bool) {
	p, ok := s.byID[id]
	return p, ok
}

// Index returns the index carried by the snapshot, current or not.
func (s *Snapshot) Index() *Index { return s.index }

// IndexFor returns the index when it matches both the snapshot version and
// the options. It returns (nil, nil) when no index was ever built and an
// ErrIndexStale error when one exists but no longer applies.
func (s *Snapshot) IndexFor(o dtw.Options) (*Index, error) {
	if s.index == nil {
		return nil, nil
	}
	if s.index.Version != s.version {
		return nil, errs.IndexStale("library.index", s.index.Version, s.version)
	}
	if !s.index.Compatible(o) {
		return nil, errs.IndexStale("library.index", s.index.Version, s.version).
			WithParam("index_constraint", string(s.index.Options.Constraint)).
			WithParam("index_variant", string(s.index.Options.Variant)).
			WithParam("index_window", s.index.Options.Window).
			WithParam("constraint", string(o.Constraint)).
			WithParam("variant", string(o.Variant)).
			WithParam("window", o.Window)
	}
	return s.index, nil
}

// Without derives a view that drops every template for which exclude returns
// true. A current index is carried over restricted to the kept templates.
func (s *Snapshot) Without(exclude func(*models.Pattern) bool) *Snapshot {
	kept := make([]*models.Pattern, 0, len(s.patterns))
	for _, p := range s.patterns {
		if !exclude(p) {
			kept = append(kept, p)
		}
	}
	var ix *Index
	if s.index != nil && s.index.Version == s.version {
		ix = &Index{Version: s.version, Options: s.index.Options, envelopes: make(map[string]dtw.Envelope, len(kept))}
		for _, p := range kept {
			if env, ok := s.index.envelopes[p.ID]; ok {
				ix.envelopes[p.ID] = env
			}
		}
	}
	return newSnapshot(s.version, kept, ix)
}

// Unindexed returns the same contents without an index.
func (s *Snapshot) Unindexed() *Snapshot {
	return &Snapshot{version: s.version, patterns: s.patterns, byID: s.byID}
}

// Labels returns the distinct labels, sorted.
func (s *Snapshot) Labels() []string {
	seen := make(map[string]struct{})
	out := make([]string, 0)
	for _, p := range s.patterns {
		if _, ok := seen[p.Label]; !ok {
			seen[p.Label] = struct{}{}
			out = append(out, p.Label)
		}
	}
	sort.Strings(out)
	return out
}

func buildIndex(version uint64, patterns []*models.Pattern, o dtw.Options) *Index {
	ix := &Index{Version: version, Options: o, envelopes: make(map[string]dtw.Envelope, len(patterns))}
	for _, p := range patterns {
		seq := dtw.Select(p.Representation, o.Variant)
		ix.envelopes[p.ID] = dtw.NewEnvelope(seq, dtw.Radius(len(seq), o))
	}
	return ix
}
