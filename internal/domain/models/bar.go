package models

import "time"

// Bar is one OHLCV observation.
type Bar struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// Window is a fixed-length run of consecutive bars.
type Window []Bar

// Len returns the number of bars.
func (w Window) Len() int { return len(w) }

// Start returns the timestamp of the first bar.
func (w Window) Start() time.Time {
	if len(w) == 0 {
		return time.Time{}
	}
	return w[0].Time
}

// End returns the timestamp of the last bar.
func (w Window) End() time.Time {
	if len(w) == 0 {
		return time.Time{}
	}
	return w[len(w)-1].Time
}

// Clone returns a deep copy.
func (w Window) Clone() Window {
	if w == nil {
		return nil
	}
	out := make(Window, len(w))
	copy(out, w)
	return out
}

// Series is an ordered OHLCV history for one instrument.
type Series struct {
	Symbol    string `json:"symbol"`
	Timeframe string `json:"timeframe"`
	Bars      []Bar  `json:"bars"`
}

// Slice returns the window [offset, offset+length).
func (s Series) Slice(offset, length int) Window {
	return Window(s.Bars[offset : offset+length])
}

// Representation holds the derived numeric forms of a window.
type Representation struct {
	Normalized []float64 `json:"-"`
	Derivative []float64 `json:"-"`
}
