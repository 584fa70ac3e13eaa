package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"Clarity/internal/domain/models"
	"Clarity/internal/domain/repository"
	applogger "Clarity/pkg/logger"
	"Clarity/pkg/util"
)

// execQuerier is the part of *sql.DB the store needs.
type execQuerier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	PingContext(ctx context.Context) error
}

const forecastColumns = "id, location, date, hour, baseline, expected_delta, expected_total, raw_delta, confidence, verdict, clamped, summary, signals, rejected, errors, computed_at"

// ClickHouseForecastStore keeps every computed forecast for history queries.
type ClickHouseForecastStore struct {
	db    execQuerier
	table string
	l     *applogger.Logger
}

var _ repository.Storage = (*ClickHouseForecastStore)(nil)

// NewClickHouseForecastStore writes to database.table.
func NewClickHouseForecastStore(db *sql.DB, database, table string, l *applogger.Logger) *ClickHouseForecastStore {
	return newForecastStore(db, database, table, l)
}

func newForecastStore(db execQuerier, database, table string, l *applogger.Logger) *ClickHouseForecastStore {
	if l == nil {
		l = applogger.NewNop()
	}
	if database != "" {
		table = database + "." + table
	}
	return &ClickHouseForecastStore{db: db, table: table, l: l}
}

// Schema returns the DDL for the forecast table.
func (s *ClickHouseForecastStore) Schema() []string {
	stmts := []string{}
	if i := strings.IndexByte(s.table, '.'); i > 0 {
		stmts = append(stmts, "CREATE DATABASE IF NOT EXISTS "+s.table[:i])
	}
	return append(stmts, fmt.Sprintf(`
        CREATE TABLE IF NOT EXISTS %s (
            id             String,
            location       LowCardinality(String),
            date           Date,
            hour           UInt8,
            baseline       Float64,
            expected_delta Float64,
            expected_total Float64,
            raw_delta      Float64,
            confidence     Float64,
            verdict        LowCardinality(String),
            clamped        UInt8,
            summary        String,
            signals        String,
            rejected       String,
            errors         String,
            computed_at    DateTime64(3, 'UTC')
        )
        ENGINE = MergeTree
        PARTITION BY toYYYYMM(date)
        ORDER BY (location, computed_at, id)
    `, s.table))
}

func (s *ClickHouseForecastStore) Init(ctx context.Context) error {
	for _, stmt := range s.Schema() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init forecast table: %w", err)
		}
	}
	return nil
}

func (s *ClickHouseForecastStore) Store(ctx context.Context, rec *models.ForecastRecord) error {
	return s.StoreBatch(ctx, []*models.ForecastRecord{rec})
}

func (s *ClickHouseForecastStore) StoreBatch(ctx context.Context, recs []*models.ForecastRecord) error {
	const chunkSize = 500
	start := time.Now()
	stored := 0
	for from := 0; from < len(recs); from += chunkSize {
		to := from + chunkSize
		if to > len(recs) {
			to = len(recs)
		}

		values := make([]string, 0, to-from)
		args := make([]interface{}, 0, (to-from)*16)
		for _, rec := range recs[from:to] {
			row, err := recordRow(rec)
			if err != nil {
				s.l.Warn("skip forecast record", applogger.Error(err))
				continue
			}
			values = append(values, "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
			args = append(args, row...)
		}
		if len(values) == 0 {
			continue
		}

		q := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s", s.table, forecastColumns, strings.Join(values, ","))
		if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
			s.l.Error("clickhouse insert forecasts", applogger.String("table", s.table), applogger.Int("rows", len(values)), applogger.Error(err))
			return fmt.Errorf("insert forecasts: %w", err)
		}
		stored += len(values)
	}
	if stored > 0 {
		s.l.Debug("clickhouse stored forecasts",
			applogger.String("table", s.table),
			applogger.Int("rows", stored),
			applogger.Duration("duration_ms", time.Since(start)))
	}
	return nil
}

func recordRow(rec *models.ForecastRecord) ([]interface{}, error) {
	if rec == nil || rec.ID == "" {
		return nil, fmt.Errorf("record without id")
	}
	date, err := time.Parse(util.DateLayout, rec.Query.Date)
	if err != nil {
		return nil, fmt.Errorf("record %s: %w", rec.ID, err)
	}
	summary, err := json.Marshal(rec.Forecast.Summary)
	if err != nil {
		return nil, err
	}
	signals, err := json.Marshal(rec.Signals)
	if err != nil {
		return nil, err
	}
	rejected, err := json.Marshal(rec.Rejected)
	if err != nil {
		return nil, err
	}
	errs, err := json.Marshal(rec.Errors)
	if err != nil {
		return nil, err
	}
	var clamped uint8
	if rec.Clamped {
		clamped = 1
	}
	return []interface{}{
		rec.ID,
		rec.Query.Location,
		date,
		uint8(rec.Query.Hour),
		rec.Query.Baseline,
		rec.Forecast.ExpectedDelta,
		rec.Forecast.ExpectedTotal,
		rec.RawDelta,
		rec.Forecast.Confidence,
		rec.Forecast.Verdict,
		clamped,
		string(summary),
		string(signals),
		string(rejected),
		string(errs),
		rec.ComputedAt.UTC(),
	}, nil
}

// History returns the newest records for location, newest first.
func (s *ClickHouseForecastStore) History(ctx context.Context, location string, limit int) ([]*models.ForecastRecord, error) {
	q := fmt.Sprintf("SELECT %s FROM %s WHERE location = ? ORDER BY computed_at DESC LIMIT ?", forecastColumns, s.table)
	rows, err := s.db.QueryContext(ctx, q, location, limit)
	if err != nil {
		s.l.Error("clickhouse history query", applogger.String("location", location), applogger.Error(err))
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	out := make([]*models.ForecastRecord, 0, limit)
	for rows.Next() {
		var (
			rec                              models.ForecastRecord
			date                             time.Time
			hour, clamped                    uint8
			summary, signals, rejected, errs string
		)
		if err := rows.Scan(&rec.ID, &rec.Query.Location, &date, &hour, &rec.Query.Baseline,
			&rec.Forecast.ExpectedDelta, &rec.Forecast.ExpectedTotal, &rec.RawDelta, &rec.Forecast.Confidence,
			&rec.Forecast.Verdict, &clamped, &summary, &signals, &rejected, &errs, &rec.ComputedAt); err != nil {
			return nil, fmt.Errorf("scan forecast: %w", err)
		}
		rec.Query.Date = date.Format(util.DateLayout)
		rec.Query.Hour = int(hour)
		rec.Clamped = clamped == 1
		if err := unmarshalColumns(&rec, summary, signals, rejected, errs); err != nil {
			return nil, fmt.Errorf("decode forecast %s: %w", rec.ID, err)
		}
		out = append(out, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

func unmarshalColumns(rec *models.ForecastRecord, summary, signals, rejected, errs string) error {
	if err := json.Unmarshal([]byte(summary), &rec.Forecast.Summary); err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(signals), &rec.Signals); err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(rejected), &rec.Rejected); err != nil {
		return err
	}
	return json.Unmarshal([]byte(errs), &rec.Errors)
}

func (s *ClickHouseForecastStore) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close is a no-op; the pool belongs to pkg/clickhouse.Client.
func (s *ClickHouseForecastStore) Close() error {
	return nil
}
