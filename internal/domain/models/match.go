package models

import "time"

// NoMatch is the prediction recorded when confidence falls below the threshold.
const NoMatch = "NO_MATCH"

// Neighbor is one of the k nearest templates.
type Neighbor struct {
	PatternID string  `json:"pattern_id"`
	Label     string  `json:"label"`
	Distance  float64 `json:"distance"`
	Weight    float64 `json:"weight"`
	Quality   float64 `json:"quality"`
}

// SubScores are the confidence components, each in [0,1].
type SubScores struct {
	Closeness  float64 `json:"closeness"`
	Consensus  float64 `json:"consensus"`
	Separation float64 `json:"separation"`
	Quality    float64 `json:"quality"`
}

// SearchStats describes how much work a nearest-neighbor search did.
type SearchStats struct {
	Templates   int  `json:"templates"`
	LowerBounds int  `json:"lower_bounds"`
	Exact       int  `json:"exact"`
	Abandoned   int  `json:"abandoned"`
	Pruned      int  `json:"pruned"`
	Indexed     bool `json:"indexed"`
}

// MatchResult is the outcome of classifying one window.
type MatchResult struct {
	Offset      int                `json:"offset"`
	Length      int                `json:"length"`
	StartTime   time.Time          `json:"start_time"`
	EndTime     time.Time          `json:"end_time"`
	Label       string             `json:"label"`
	Distance    float64            `json:"distance"`
	AvgDistance float64            `json:"avg_distance"`
	Neighbors   []Neighbor         `json:"neighbors"`
	Votes       map[string]float64 `json:"votes"`
	Scores      SubScores          `json:"scores"`
	Confidence  float64            `json:"confidence"`
	Threshold   float64            `json:"threshold"`
	Passed      bool               `json:"passed"`
	Stats       SearchStats        `json:"stats"`
}

// Detection is a retained scan result published downstream.
type Detection struct {
	Symbol    string      `json:"symbol"`
	Timeframe string      `json:"timeframe"`
	ScanID    string      `json:"scan_id"`
	Result    MatchResult `json:"result"`
}
