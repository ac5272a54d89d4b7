package preprocess

import (
	"PatternScan/internal/domain/errs"
	"PatternScan/internal/domain/models"
)

// ExtractFixed returns bars[start:start+length].
func ExtractFixed(bars []models.Bar, start, length int) (models.Window, error) {
	const op = "preprocess.extract_fixed"
	if length < 2 {
		return nil, errs.InvalidWindow(op, "length must be at least 2").WithParam("length", length)
	}
	if start < 0 || start+length > len(bars) {
		return nil, errs.InvalidWindow(op, "window exceeds series").
			WithParam("start", start).
			WithParam("length", length).
			WithParam("series_length", len(bars))
	}
	return models.Window(bars[start : start+length]).Clone(), nil
}

// ExtractAnchored cuts a window around a key bar (e.g. a breakout), clipped to
// the series. It returns the window and its start offset.
func ExtractAnchored(bars []models.Bar, anchor, lookback, lookforward int) (models.Window, int, error) {
	const op = "preprocess.extract_anchored"
	if anchor < 0 || anchor >= len(bars) {
		return nil, 0, errs.InvalidWindow(op, "anchor outside series").
			WithParam("anchor", anchor).
			WithParam("series_length", len(bars))
	}
	if lookback < 0 || lookforward < 0 {
		return nil, 0, errs.InvalidWindow(op, "lookback and lookforward must be non-negative")
	}
	start := max(0, anchor-lookback)
	end := min(len(bars), anchor+lookforward)
	if end-start < 2 {
		return nil, 0, errs.InvalidWindow(op, "anchored window shorter than 2 bars").
			WithParam("start", start).
			WithParam("end", end)
	}
	return models.Window(bars[start:end]).Clone(), start, nil
}

// WindowOffsets lists the start offsets 0, step, 2*step, ... of every window
// of the given length that fits entirely inside a series of seriesLen bars.
func WindowOffsets(seriesLen, length, step int) ([]int, error) {
	const op = "preprocess.window_offsets"
	if length < 2 {
		return nil, errs.InvalidWindow(op, "window length must be at least 2").WithParam("window_length", length)
	}
	if step < 1 {
		return nil, errs.InvalidWindow(op, "step must be at least 1").WithParam("step", step)
	}
	if length > seriesLen {
		return nil, errs.InvalidWindow(op, "window longer than series").
			WithParam("window_length", length).
			WithParam("series_length", seriesLen)
	}
	out := make([]int, 0, (seriesLen-length)/step+1)
	for off := 0; off+length <= seriesLen; off += step {
		out = append(out, off)
	}
	return out, nil
}
