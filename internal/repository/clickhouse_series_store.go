package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"PatternScan/internal/domain/models"
	domrepo "PatternScan/internal/domain/repository"
	pkgch "PatternScan/pkg/clickhouse"
	applogger "PatternScan/pkg/logger"
)

// BarsSchema creates the OHLCV tables the series store reads from.
var BarsSchema = []string{
	`CREATE DATABASE IF NOT EXISTS patternscan`,
	`CREATE TABLE IF NOT EXISTS patternscan.bars
    (
        symbol    LowCardinality(String),
        timeframe LowCardinality(String),
        bucket    DateTime64(3, 'UTC'),
        open      Float64,
        high      Float64,
        low       Float64,
        close     Float64,
        vol       Float64
    )
    ENGINE = ReplacingMergeTree
    ORDER BY (symbol, timeframe, bucket)`,
}

// CHSeriesStore implements SeriesStore backed by ClickHouse.
type CHSeriesStore struct {
	db *sql.DB
	l  *applogger.Logger
}

var (
	_ domrepo.SeriesStore  = (*CHSeriesStore)(nil)
	_ domrepo.SeriesWriter = (*CHSeriesStore)(nil)
)

const insertChunk = 2000

func NewCHSeriesStore(ch *pkgch.Client) *CHSeriesStore {
	return &CHSeriesStore{db: ch.DB(), l: applogger.Nop()}
}

// SetLogger injects a structured logger.
func (s *CHSeriesStore) SetLogger(l *applogger.Logger) {
	if l != nil {
		s.l = l
	}
}

func (s *CHSeriesStore) GetBars(ctx context.Context, symbol string, from, to time.Time, tf domrepo.Timeframe) ([]models.Bar, error) {
	if !domrepo.IsValidTimeframe(tf) {
		return nil, fmt.Errorf("unsupported timeframe: %s", tf)
	}
	const q = `
        SELECT bucket, open, high, low, close, vol
        FROM patternscan.bars FINAL
        WHERE symbol = ? AND timeframe = ? AND bucket >= ? AND bucket <= ?
        ORDER BY bucket ASC
    `
	start := time.Now()
	out, err := s.query(ctx, "get_bars", q, 1024, symbol, string(tf), from.UTC(), to.UTC())
	if err != nil {
		s.l.Error("clickhouse get_bars failed",
			applogger.String("symbol", symbol),
			applogger.String("tf", string(tf)),
			applogger.Error(err),
		)
		return nil, err
	}
	s.l.Debug("clickhouse get_bars ok",
		applogger.String("symbol", symbol),
		applogger.String("tf", string(tf)),
		applogger.Int("rows", len(out)),
		applogger.Duration("duration_ms", time.Since(start)),
	)
	return out, nil
}

func (s *CHSeriesStore) GetLatestBars(ctx context.Context, symbol string, n int, tf domrepo.Timeframe) ([]models.Bar, error) {
	if !domrepo.IsValidTimeframe(tf) {
		return nil, fmt.Errorf("unsupported timeframe: %s", tf)
	}
	if n <= 0 {
		return nil, fmt.Errorf("get latest bars: limit must be positive, got %d", n)
	}
	const q = `
        SELECT bucket, open, high, low, close, vol
        FROM patternscan.bars FINAL
        WHERE symbol = ? AND timeframe = ?
        ORDER BY bucket DESC
        LIMIT ?
    `
	start := time.Now()
	out, err := s.query(ctx, "get_latest_bars", q, n, symbol, string(tf), n)
	if err != nil {
		s.l.Error("clickhouse latest_bars failed",
			applogger.String("symbol", symbol),
			applogger.String("tf", string(tf)),
			applogger.Int("limit", n),
			applogger.Error(err),
		)
		return nil, err
	}
	// reverse to ASC
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	s.l.Debug("clickhouse latest_bars ok",
		applogger.String("symbol", symbol),
		applogger.String("tf", string(tf)),
		applogger.Int("rows", len(out)),
		applogger.Duration("duration_ms", time.Since(start)),
	)
	return out, nil
}

func (s *CHSeriesStore) query(ctx context.Context, op, q string, capHint int, args ...any) ([]models.Bar, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	out := make([]models.Bar, 0, capHint)
	for rows.Next() {
		var b models.Bar
		if err := rows.Scan(&b.Time, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, fmt.Errorf("%s scan: %w", op, err)
		}
		b.Time = b.Time.UTC()
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s rows: %w", op, err)
	}
	return out, nil
}

// InsertBars writes bars with multi-row VALUES inserts of at most
// insertChunk rows. Re-inserting a bucket replaces it on merge.
func (s *CHSeriesStore) InsertBars(ctx context.Context, symbol string, tf domrepo.Timeframe, bars []models.Bar) error {
	if !domrepo.IsValidTimeframe(tf) {
		return fmt.Errorf("unsupported timeframe: %s", tf)
	}
	if symbol == "" {
		return fmt.Errorf("insert bars: symbol is required")
	}
	for start := 0; start < len(bars); start += insertChunk {
		end := min(start+insertChunk, len(bars))
		values := make([]string, 0, end-start)
		args := make([]any, 0, (end-start)*8)
		for _, b := range bars[start:end] {
			values = append(values, "(?, ?, ?, ?, ?, ?, ?, ?)")
			args = append(args, symbol, string(tf), b.Time.UTC(), b.Open, b.High, b.Low, b.Close, b.Volume)
		}
		q := "INSERT INTO patternscan.bars (symbol, timeframe, bucket, open, high, low, close, vol) VALUES " + strings.Join(values, ",")
		if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
			s.l.Error("clickhouse insert_bars failed",
				applogger.String("symbol", symbol),
				applogger.String("tf", string(tf)),
				applogger.Int("rows", end-start),
				applogger.Error(err),
			)
			return fmt.Errorf("insert bars: %w", err)
		}
	}
	s.l.Info("clickhouse insert_bars ok",
		applogger.String("symbol", symbol),
		applogger.String("tf", string(tf)),
		applogger.Int("rows", len(bars)),
	)
	return nil
}
