// Package sqlite reads historical bars from a SQLite database.
//
// The database is produced elsewhere; this package only queries it:
//
//	CREATE TABLE bars (
//		symbol TEXT    NOT NULL,
//		tf     INTEGER NOT NULL, -- bucket duration, seconds
//		ts     REAL    NOT NULL, -- bucket start, unix seconds
//		open   REAL    NOT NULL,
//		high   REAL    NOT NULL,
//		low    REAL    NOT NULL,
//		close  REAL    NOT NULL,
//		volume REAL    NOT NULL DEFAULT 0,
//		PRIMARY KEY (symbol, tf, ts)
//	);
package sqlite

import (
	"database/sql"
	"fmt"
	"log/slog"

	"chartcore/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

// Reader provides read-only access to a bars table.
type Reader struct {
	db *sql.DB
}

var _ model.BarSource = (*Reader)(nil)

// NewReader opens a SQLite connection for reading.
func NewReader(dbPath string) (*Reader, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open reader: %w", err)
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite ping: %w", err)
	}

	slog.Info("sqlite reader opened", slog.String("path", dbPath))
	return &Reader{db: db}, nil
}

// ReadBars reads bars for symbol and tf with ts > afterTS, ordered by
// timestamp ascending. Rows that fail bar validation are skipped.
func (r *Reader) ReadBars(symbol string, tf model.Timeframe, afterTS float64) ([]model.Bar, error) {
	if err := tf.Validate(); err != nil {
		return nil, err
	}
	rows, err := r.db.Query(`
		SELECT ts, open, high, low, close, volume
		FROM bars
		WHERE symbol = ? AND tf = ? AND ts > ?
		ORDER BY ts ASC
	`, symbol, int(tf), afterTS)
	if err != nil {
		return nil, fmt.Errorf("sqlite query bars: %w", err)
	}
	defer rows.Close()

	var bars []model.Bar
	skipped := 0
	for rows.Next() {
		var b model.Bar
		if err := rows.Scan(&b.Timestamp, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, fmt.Errorf("sqlite scan bars: %w", err)
		}
		if b.Validate() != nil {
			skipped++
			continue
		}
		bars = append(bars, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite iterate bars: %w", err)
	}
	if skipped > 0 {
		slog.Warn("sqlite: skipped invalid bars",
			slog.String("symbol", symbol),
			slog.String("tf", tf.String()),
			slog.Int("skipped", skipped))
	}
	return bars, nil
}

// Symbols lists the distinct symbols present, sorted.
func (r *Reader) Symbols() ([]string, error) {
	rows, err := r.db.Query(`SELECT DISTINCT symbol FROM bars ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("sqlite query symbols: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("sqlite scan symbol: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Close closes the reader.
func (r *Reader) Close() error {
	return r.db.Close()
}
