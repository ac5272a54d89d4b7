package matcher

import (
	"PatternScan/internal/domain/errs"
	"PatternScan/internal/domain/repository"
	"PatternScan/internal/services/dtw"
	applogger "PatternScan/pkg/logger"
)

// StalePolicy decides what Classify does when the library index no longer
// matches the library contents or the matcher's DTW options.
type StalePolicy string

const (
	// Rebuild rebuilds the index in place and logs a warning.
	Rebuild StalePolicy = "rebuild"
	// Fail surfaces ErrIndexStale to the caller.
	Fail StalePolicy = "fail"
)

// Options are the typed knn.* and dtw.* settings.
type Options struct {
	K            int         `json:"k" yaml:"k"`
	DTW          dtw.Options `json:"dtw" yaml:"dtw"`
	OnStaleIndex StalePolicy `json:"on_stale_index" yaml:"on_stale_index"`
	EarlyAbandon bool        `json:"early_abandon" yaml:"early_abandon"`
}

// DefaultOptions returns k=5 over the default DTW options.
func DefaultOptions() Options {
	return Options{
		K:            5,
		DTW:          dtw.DefaultOptions(),
		OnStaleIndex: Rebuild,
		EarlyAbandon: true,
	}
}

func (o Options) Validate() error {
	if o.K <= 0 {
		return errs.Configuration("matcher.options", "k must be at least 1").WithParam("k", o.K)
	}
	switch o.OnStaleIndex {
	case Rebuild, Fail:
	default:
		return errs.Configurationf("matcher.options", "unknown stale index policy %q", o.OnStaleIndex).
			WithParam("on_stale_index", string(o.OnStaleIndex))
	}
	return o.DTW.Validate()
}

type Option func(*Matcher)

func WithOptions(o Options) Option {
	return func(m *Matcher) { m.opts = o }
}

func WithK(k int) Option {
	return func(m *Matcher) { m.opts.K = k }
}

func WithDTW(o dtw.Options) Option {
	return func(m *Matcher) { m.opts.DTW = o }
}

func WithStalePolicy(p StalePolicy) Option {
	return func(m *Matcher) { m.opts.OnStaleIndex = p }
}

func WithEarlyAbandon(on bool) Option {
	return func(m *Matcher) { m.opts.EarlyAbandon = on }
}

func WithLogger(l *applogger.Logger) Option {
	return func(m *Matcher) {
		if l != nil {
			m.l = l
		}
	}
}

func WithMetrics(r repository.Metrics) Option {
	return func(m *Matcher) {
		if r != nil {
			m.metrics = r
		}
	}
}
