package models

import "time"

// Requests for the engine HTTP endpoints.

type AddPatternRequest struct {
	ID        string     `json:"id"`
	Label     string     `json:"label" validate:"required,max=64"`
	Bars      []Bar      `json:"bars" validate:"required_without=Symbol"`
	Symbol    string     `json:"symbol"`
	Timeframe string     `json:"timeframe" validate:"omitempty,oneof=1m 5m 15m 1h 1d"`
	From      *time.Time `json:"from"`
	To        *time.Time `json:"to"`
	Offset    int        `json:"offset" validate:"gte=0"`
	Length    int        `json:"length" validate:"omitempty,gte=2"`
}

type ListPatternsRequest struct {
	Label string `query:"label"`
}

type ClassifyRequest struct {
	Bars      []Bar    `json:"bars" validate:"required,min=2"`
	Threshold *float64 `json:"threshold" validate:"omitempty,gte=0,lte=1"`
}

// ScanOptions are the scan tuning knobs shared by the scan endpoints. Zero
// values take the configured defaults; the pointer fields only when absent.
type ScanOptions struct {
	WindowLength  int      `json:"window_length" validate:"required,gte=2"`
	Step          int      `json:"step" validate:"gte=0"`
	Labels        []string `json:"labels"`
	MaxWindows    int      `json:"max_windows" validate:"gte=0"`
	TimeoutMS     int      `json:"timeout_ms" validate:"gte=0"`
	Workers       int      `json:"workers" validate:"gte=0,lte=64"`
	Dedupe        string   `json:"dedupe" validate:"omitempty,oneof=none nms"`
	MaxOverlap    *float64 `json:"max_overlap" validate:"omitempty,gte=0,lte=1"`
	MinConfidence *float64 `json:"min_confidence" validate:"omitempty,gte=0,lte=1"`
	Publish       bool     `json:"publish"`
}

type ScanRequest struct {
	Symbol    string `json:"symbol"`
	Timeframe string `json:"timeframe" validate:"omitempty,oneof=1m 5m 15m 1h 1d"`
	Bars      []Bar  `json:"bars" validate:"required,min=2"`
	ScanOptions
}

type ScanSymbolRequest struct {
	Symbol    string     `json:"symbol" validate:"required"`
	Timeframe string     `json:"timeframe" validate:"omitempty,oneof=1m 5m 15m 1h 1d"`
	From      *time.Time `json:"from"`
	To        *time.Time `json:"to"`
	Last      int        `json:"last" validate:"gte=0,lte=50000"`
	ScanOptions
}

type CrossValidateRequest struct {
	Threshold *float64 `json:"threshold" validate:"omitempty,gte=0,lte=1"`
}

type SweepRequest struct {
	Thresholds []float64 `json:"thresholds" validate:"omitempty,max=101,dive,gte=0,lte=1"`
	Objective  string    `json:"objective" validate:"omitempty,oneof=f1 precision recall accuracy"`
}

type IngestBarsRequest struct {
	Symbol    string `json:"symbol" validate:"required"`
	Timeframe string `json:"timeframe" validate:"omitempty,oneof=1m 5m 15m 1h 1d"`
	Bars      []Bar  `json:"bars" validate:"required,min=1,max=50000"`
}
