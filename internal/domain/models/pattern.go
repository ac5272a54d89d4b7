package models

import "time"

// AugmentationMirror marks a pattern derived by reflecting its parent's prices.
const AugmentationMirror = "mirror"

// Provenance records where a template was cut from.
type Provenance struct {
	SeriesID  string    `json:"series_id,omitempty"`
	Timeframe string    `json:"timeframe,omitempty"`
	Offset    int       `json:"offset"`
	Length    int       `json:"length"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

// Pattern is a labeled template. Representation is derived from Window and
// is rebuilt on load rather than persisted.
type Pattern struct {
	ID               string     `json:"id"`
	Label            string     `json:"label"`
	Window           Window     `json:"window"`
	Quality          float64    `json:"quality"`
	Provenance       Provenance `json:"provenance"`
	Augmented        bool       `json:"augmented"`
	AugmentationType string     `json:"augmentation_type,omitempty"`
	ParentID         string     `json:"parent_id,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`

	Representation `json:"-"`
}

// Len returns the template length in bars.
func (p *Pattern) Len() int { return len(p.Window) }

// Clone returns a deep copy.
func (p *Pattern) Clone() *Pattern {
	c := *p
	c.Window = p.Window.Clone()
	c.Normalized = append([]float64(nil), p.Normalized...)
	c.Derivative = append([]float64(nil), p.Derivative...)
	return &c
}
