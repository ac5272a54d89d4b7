package library

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"PatternScan/internal/domain/errs"
	"PatternScan/internal/domain/models"
	"PatternScan/internal/services/dtw"
	"PatternScan/internal/services/features"
	"PatternScan/internal/services/preprocess"
	applogger "PatternScan/pkg/logger"

	"github.com/google/uuid"
)

// Option configures a Library.
type Option func(*Library)

// WithLogger injects a structured logger.
func WithLogger(l *applogger.Logger) Option {
	return func(lib *Library) {
		if l != nil {
			lib.l = l
		}
	}
}

// WithClock overrides the creation-time source.
func WithClock(now func() time.Time) Option {
	return func(lib *Library) {
		lib.now = now
	}
}

// Library owns the labeled templates and their index. Writers serialize on a
// mutex and publish a new immutable Snapshot; readers load the current
// snapshot atomically and never observe a partial update.
type Library struct {
	mu   sync.Mutex
	snap atomic.Pointer[Snapshot]
	pre  *preprocess.Preprocessor
	l    *applogger.Logger
	now  func() time.Time
}

// PatternSpec describes a template to create from a labeled window.
type PatternSpec struct {
	ID         string
	Label      string
	Window     models.Window
	Provenance models.Provenance
}

// New creates an empty library at version 0.
func New(pre *preprocess.Preprocessor, opts ...Option) *Library {
	if pre == nil {
		pre = preprocess.New()
	}
	lib := &Library{pre: pre, l: applogger.Nop(), now: time.Now}
	for _, opt := range opts {
		opt(lib)
	}
	lib.snap.Store(newSnapshot(0, nil, nil))
	return lib
}

// Preprocessor returns the preprocessor templates are derived with.
func (lib *Library) Preprocessor() *preprocess.Preprocessor { return lib.pre }

// Snapshot returns the current immutable view.
func (lib *Library) Snapshot() *Snapshot { return lib.snap.Load() }

// Version returns the current content version.
func (lib *Library) Version() uint64 { return lib.Snapshot().Version() }

// Len returns the number of templates.
func (lib *Library) Len() int { return lib.Snapshot().Len() }

// NewPattern derives a template from a labeled window. The id is generated
// when empty. The pattern is not added.
func (lib *Library) NewPattern(spec PatternSpec) (*models.Pattern, error) {
	if strings.TrimSpace(spec.Label) == "" {
		return nil, errs.InvalidWindow("library.new_pattern", "label is required")
	}
	w := spec.Window.Clone()
	rep, err := lib.pre.Transform(w)
	if err != nil {
		return nil, err
	}
	id := spec.ID
	if id == "" {
		id = uuid.NewString()
	}
	prov := spec.Provenance
	prov.Length = len(w)
	prov.StartTime = w.Start()
	prov.EndTime = w.End()
	return &models.Pattern{
		ID:             id,
		Label:          spec.Label,
		Window:         w,
		Quality:        features.Quality(w, rep),
		Provenance:     prov,
		CreatedAt:      lib.now().UTC(),
		Representation: rep,
	}, nil
}

// Add inserts a pattern. Its representation is derived when missing.
func (lib *Library) Add(p *models.Pattern) error {
	if p == nil {
		return errs.InvalidWindow("library.add", "pattern is nil")
	}
	p = p.Clone()
	if err := lib.derive(p); err != nil {
		return err
	}

	lib.mu.Lock()
	defer lib.mu.Unlock()

	cur := lib.Snapshot()
	if _, exists := cur.byID[p.ID]; exists {
		return errs.DuplicateID("library.add", p.ID)
	}
	next := append(append(make([]*models.Pattern, 0, cur.Len()+1), cur.patterns...), p)
	lib.publish(newSnapshot(cur.version+1, next, cur.index))
	lib.l.Debug("pattern added",
		applogger.String("id", p.ID),
		applogger.String("label", p.Label),
		applogger.Int("bars", p.Len()),
	)
	return nil
}

// AddWindow creates a template from a labeled window and adds it.
func (lib *Library) AddWindow(spec PatternSpec) (*models.Pattern, error) {
	p, err := lib.NewPattern(spec)
	if err != nil {
		return nil, err
	}
	if err := lib.Add(p); err != nil {
		return nil, err
	}
	return p, nil
}

// Delete removes a pattern by id.
func (lib *Library) Delete(id string) error {
	lib.mu.Lock()
	defer lib.mu.Unlock()

	cur := lib.Snapshot()
	if _, ok := cur.byID[id]; !ok {
		return errs.NotFound("library.delete", id)
	}
	next := make([]*models.Pattern, 0, cur.Len()-1)
	for _, p := range cur.patterns {
		if p.ID != id {
			next = append(next, p)
		}
	}
	lib.publish(newSnapshot(cur.version+1, next, cur.index))
	lib.l.Debug("pattern deleted", applogger.String("id", id))
	return nil
}

// Get returns a copy of a pattern.
func (lib *Library) Get(id string) (*models.Pattern, error) {
	p, ok := lib.Snapshot().Get(id)
	if !ok {
		return nil, errs.NotFound("library.get", id)
	}
	return p.Clone(), nil
}

// List returns copies of the patterns whose label is in labels, or all
// patterns when labels is empty, ordered by id.
func (lib *Library) List(labels ...string) []*models.Pattern {
	want := make(map[string]struct{}, len(labels))
	for _, l := range labels {
		want[l] = struct{}{}
	}
	snap := lib.Snapshot()
	out := make([]*models.Pattern, 0, snap.Len())
	for _, p := range snap.patterns {
		if len(want) > 0 {
			if _, ok := want[p.Label]; !ok {
				continue
			}
		}
		out = append(out, p.Clone())
	}
	return out
}

// Augment adds a mirror for every original pattern that lacks one and
// returns how many were added. Running it again adds nothing. The content
// version is bumped only when something was added.
func (lib *Library) Augment() (int, error) {
	lib.mu.Lock()
	defer lib.mu.Unlock()

	cur := lib.Snapshot()
	mirrored := make(map[string]struct{})
	for _, p := range cur.patterns {
		if p.Augmented && p.ParentID != "" {
			mirrored[p.ParentID] = struct{}{}
		}
	}

	added := make([]*models.Pattern, 0)
	for _, p := range cur.patterns {
		if p.Augmented {
			continue
		}
		if _, ok := mirrored[p.ID]; ok {
			continue
		}
		m, err := lib.mirror(p)
		if err != nil {
			return 0, err
		}
		if _, exists := cur.byID[m.ID]; exists {
			continue
		}
		added = append(added, m)
	}
	if len(added) == 0 {
		return 0, nil
	}

	next := append(append(make([]*models.Pattern, 0, cur.Len()+len(added)), cur.patterns...), added...)
	lib.publish(newSnapshot(cur.version+1, next, cur.index))
	lib.l.Info("library augmented",
		applogger.Int("mirrors_added", len(added)),
		applogger.Int("patterns", len(next)),
	)
	return len(added), nil
}

// Mirror derives the mirror of p without adding it.
func (lib *Library) Mirror(p *models.Pattern) (*models.Pattern, error) {
	return lib.mirror(p)
}

func (lib *Library) mirror(p *models.Pattern) (*models.Pattern, error) {
	w := MirrorWindow(p.Window)
	rep, err := lib.pre.Transform(w)
	if err != nil {
		return nil, err
	}
	return &models.Pattern{
		ID:               MirrorID(p.ID),
		Label:            FlipLabel(p.Label),
		Window:           w,
		Quality:          p.Quality,
		Provenance:       p.Provenance,
		Augmented:        true,
		AugmentationType: models.AugmentationMirror,
		ParentID:         p.ID,
		CreatedAt:        lib.now().UTC(),
		Representation:   rep,
	}, nil
}

// BuildIndex computes envelopes for every template under o and publishes a
// snapshot whose index is current at the present content version.
func (lib *Library) BuildIndex(o dtw.Options) (*Index, error) {
	if err := o.Validate(); err != nil {
		return nil, err
	}
	lib.mu.Lock()
	defer lib.mu.Unlock()

	start := time.Now()
	cur := lib.Snapshot()
	ix := buildIndex(cur.version, cur.patterns, o)
	lib.publish(newSnapshot(cur.version, cur.patterns, ix))
	lib.l.Info("library index built",
		applogger.Int("templates", ix.Len()),
		applogger.Uint64("version", cur.version),
		applogger.String("constraint", string(o.Constraint)),
		applogger.String("variant", string(o.Variant)),
		applogger.Float64("window", o.Window),
		applogger.Duration("duration_ms", time.Since(start)),
	)
	return ix, nil
}

// Quality recomputes a pattern's quality score, stores it and returns it.
// The content version is unchanged because the index does not depend on it.
func (lib *Library) Quality(id string) (float64, error) {
	lib.mu.Lock()
	defer lib.mu.Unlock()

	cur := lib.Snapshot()
	p, ok := cur.byID[id]
	if !ok {
		return 0, errs.NotFound("library.quality", id)
	}
	q := features.Quality(p.Window, p.Representation)
	if q == p.Quality {
		return q, nil
	}
	updated := *p
	updated.Quality = q
	next := make([]*models.Pattern, len(cur.patterns))
	for i, x := range cur.patterns {
		if x.ID == id {
			x = &updated
		}
		next[i] = x
	}
	lib.publish(newSnapshot(cur.version, next, cur.index))
	return q, nil
}

// Replace swaps the whole contents, as when loading a persisted library.
// Representations are re-derived; any index is dropped.
func (lib *Library) Replace(patterns []*models.Pattern) error {
	next := make([]*models.Pattern, 0, len(patterns))
	seen := make(map[string]struct{}, len(patterns))
	for _, p := range patterns {
		if p == nil {
			continue
		}
		if _, dup := seen[p.ID]; dup {
			return errs.DuplicateID("library.replace", p.ID)
		}
		seen[p.ID] = struct{}{}
		c := p.Clone()
		c.Normalized, c.Derivative = nil, nil
		if err := lib.derive(c); err != nil {
			return err
		}
		next = append(next, c)
	}

	lib.mu.Lock()
	defer lib.mu.Unlock()
	cur := lib.Snapshot()
	lib.publish(newSnapshot(cur.version+1, next, nil))
	lib.l.Info("library replaced", applogger.Int("patterns", len(next)))
	return nil
}

func (lib *Library) derive(p *models.Pattern) error {
	if strings.TrimSpace(p.ID) == "" {
		return errs.InvalidWindow("library.add", "pattern id is required")
	}
	if strings.TrimSpace(p.Label) == "" {
		return errs.InvalidWindow("library.add", "label is required").WithParam("id", p.ID)
	}
	if len(p.Normalized) == len(p.Window) && len(p.Derivative) == len(p.Window) && len(p.Window) > 0 {
		return nil
	}
	rep, err := lib.pre.Transform(p.Window)
	if err != nil {
		return err
	}
	p.Representation = rep
	return nil
}

func (lib *Library) publish(s *Snapshot) {
	lib.snap.Store(s)
}
