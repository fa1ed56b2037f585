package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	apperrors "pattern-scanner/internal/errors"
	"pattern-scanner/internal/models"
)

// Candle times are stored as unix milliseconds, the unit candle inputs carry.
const schema = `
CREATE TABLE IF NOT EXISTS candles (
	symbol    TEXT    NOT NULL,
	timeframe TEXT    NOT NULL,
	ts        INTEGER NOT NULL,
	open      REAL    NOT NULL,
	high      REAL    NOT NULL,
	low       REAL    NOT NULL,
	close     REAL    NOT NULL,
	volume    REAL    NOT NULL DEFAULT 0,
	PRIMARY KEY (symbol, timeframe, ts)
) WITHOUT ROWID;
`

const candleColumns = `ts, open, high, low, close, volume`

// SQLiteStore keeps candle series in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the candle database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", apperrors.ErrStore, dbPath, err)
	}

	// WAL allows concurrent readers next to the single importer.
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: create schema: %w", apperrors.ErrStore, err)
	}
	return &SQLiteStore{db: db}, nil
}

// Ping verifies the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveCandles upserts candles into one series in a single transaction. A candle
// whose timestamp is already stored replaces the stored one.
func (s *SQLiteStore) SaveCandles(ctx context.Context, symbol, timeframe string, candles []models.Candle) error {
	if len(candles) == 0 {
		return nil
	}
	fail := func(err error) error {
		return apperrors.NewSeriesError("save candles", symbol, timeframe, fmt.Errorf("%w: %w", apperrors.ErrStore, err))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fail(err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO candles (symbol, timeframe, `+candleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fail(err)
	}
	defer stmt.Close()

	for _, c := range candles {
		if _, err := stmt.ExecContext(ctx, symbol, timeframe, c.Timestamp.UnixMilli(), c.Open, c.High, c.Low, c.Close, c.Volume); err != nil {
			return fail(err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fail(err)
	}
	return nil
}

// GetCandles returns the candles of a series with from <= time <= to, oldest first.
func (s *SQLiteStore) GetCandles(ctx context.Context, symbol, timeframe string, from, to time.Time) ([]models.Candle, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+candleColumns+` FROM candles
		WHERE symbol = ? AND timeframe = ? AND ts BETWEEN ? AND ?
		ORDER BY ts ASC`, symbol, timeframe, from.UnixMilli(), to.UnixMilli())
	if err != nil {
		return nil, apperrors.NewSeriesError("read candles", symbol, timeframe, fmt.Errorf("%w: %w", apperrors.ErrStore, err))
	}
	return collectCandles(rows)
}

// GetRecentCandles returns up to limit of the most recent candles, oldest first.
// An empty series is ErrDataNotFound.
func (s *SQLiteStore) GetRecentCandles(ctx context.Context, symbol, timeframe string, limit int) ([]models.Candle, error) {
	if limit <= 0 {
		return nil, apperrors.NewValidationError("limit", limit, "must be positive")
	}

	rows, err := s.db.QueryContext(ctx, `SELECT * FROM (
			SELECT `+candleColumns+` FROM candles
			WHERE symbol = ? AND timeframe = ?
			ORDER BY ts DESC LIMIT ?
		) ORDER BY ts ASC`, symbol, timeframe, limit)
	if err != nil {
		return nil, apperrors.NewSeriesError("read candles", symbol, timeframe, fmt.Errorf("%w: %w", apperrors.ErrStore, err))
	}

	candles, err := collectCandles(rows)
	if err != nil {
		return nil, err
	}
	if len(candles) == 0 {
		return nil, apperrors.NoCandles(symbol, timeframe)
	}
	return candles, nil
}

// GetCandlesFreshness returns the time of the newest candle, or the zero time for
// an empty series.
func (s *SQLiteStore) GetCandlesFreshness(ctx context.Context, symbol, timeframe string) (time.Time, error) {
	var newest sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT MAX(ts) FROM candles WHERE symbol = ? AND timeframe = ?`,
		symbol, timeframe).Scan(&newest)
	if err != nil {
		return time.Time{}, apperrors.NewSeriesError("read freshness", symbol, timeframe, fmt.Errorf("%w: %w", apperrors.ErrStore, err))
	}
	if !newest.Valid {
		return time.Time{}, nil
	}
	return fromMillis(newest.Int64), nil
}

// ListSeries summarizes every stored key ordered by symbol then timeframe.
func (s *SQLiteStore) ListSeries(ctx context.Context) ([]Series, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT symbol, timeframe, COUNT(*), MIN(ts), MAX(ts)
		FROM candles GROUP BY symbol, timeframe ORDER BY symbol, timeframe`)
	if err != nil {
		return nil, fmt.Errorf("%w: list series: %w", apperrors.ErrStore, err)
	}
	defer rows.Close()

	var series []Series
	for rows.Next() {
		var sr Series
		var first, last int64
		if err := rows.Scan(&sr.Symbol, &sr.Timeframe, &sr.Count, &first, &last); err != nil {
			return nil, fmt.Errorf("%w: list series: %w", apperrors.ErrStore, err)
		}
		sr.First, sr.Last = fromMillis(first), fromMillis(last)
		series = append(series, sr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list series: %w", apperrors.ErrStore, err)
	}
	return series, nil
}

func collectCandles(rows *sql.Rows) ([]models.Candle, error) {
	defer rows.Close()

	var candles []models.Candle
	for rows.Next() {
		var c models.Candle
		var ms int64
		if err := rows.Scan(&ms, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, fmt.Errorf("%w: scan candle: %w", apperrors.ErrStore, err)
		}
		c.Timestamp = fromMillis(ms)
		candles = append(candles, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: scan candles: %w", apperrors.ErrStore, err)
	}
	return candles, nil
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// IsBusy reports whether err is a transient SQLite lock conflict.
func IsBusy(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	return false
}
