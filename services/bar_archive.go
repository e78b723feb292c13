package services

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// BarArchive persists fetched minute bars to a local SQLite file so past
// sessions stay queryable after the provider ages them out.
type BarArchive struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewBarArchive opens (or creates) the archive database.
func NewBarArchive(path string) (*BarArchive, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open bar archive: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping bar archive: %w", err)
	}

	a := &BarArchive{db: db}
	if err := a.createTables(); err != nil {
		db.Close()
		return nil, err
	}
	log.Printf("Bar archive initialized at %s", path)
	return a, nil
}

// Close closes the underlying database.
func (a *BarArchive) Close() error {
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}

func (a *BarArchive) createTables() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	schema := `
		CREATE TABLE IF NOT EXISTS minute_bars (
			ticker VARCHAR NOT NULL,
			bar_time TIMESTAMP NOT NULL,
			open DOUBLE,
			high DOUBLE,
			low DOUBLE,
			close DOUBLE,
			volume DOUBLE,
			PRIMARY KEY (ticker, bar_time)
		)
	`
	if _, err := a.db.Exec(schema); err != nil {
		return fmt.Errorf("create minute_bars table: %w", err)
	}
	index := `CREATE INDEX IF NOT EXISTS idx_minute_bars_time ON minute_bars (bar_time)`
	if _, err := a.db.Exec(index); err != nil {
		return fmt.Errorf("create minute_bars index: %w", err)
	}
	return nil
}

// SaveBars upserts a batch of bars for one ticker inside a transaction.
func (a *BarArchive) SaveBars(ctx context.Context, ticker string, bars []Bar) error {
	if len(bars) == 0 {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin bar archive tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO minute_bars (ticker, bar_time, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare bar upsert: %w", err)
	}
	defer stmt.Close()

	for _, bar := range bars {
		if _, err := stmt.ExecContext(ctx, ticker, bar.Time.UTC(),
			bar.Open, bar.High, bar.Low, bar.Close, bar.Volume); err != nil {
			return fmt.Errorf("upsert bar for %s: %w", ticker, err)
		}
	}
	return tx.Commit()
}

// LoadBars returns archived bars for a ticker and trading day, ordered by
// time.
func (a *BarArchive) LoadBars(ctx context.Context, ticker string, date time.Time) ([]Bar, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	day := DateOnly(date)
	rows, err := a.db.QueryContext(ctx, `
		SELECT bar_time, open, high, low, close, volume
		FROM minute_bars
		WHERE ticker = ? AND bar_time >= ? AND bar_time < ?
		ORDER BY bar_time ASC
	`, ticker, day.UTC(), day.AddDate(0, 0, 1).UTC())
	if err != nil {
		return nil, fmt.Errorf("query bars for %s: %w", ticker, err)
	}
	defer rows.Close()

	var bars []Bar
	for rows.Next() {
		var bar Bar
		if err := rows.Scan(&bar.Time, &bar.Open, &bar.High, &bar.Low, &bar.Close, &bar.Volume); err != nil {
			return nil, fmt.Errorf("scan bar for %s: %w", ticker, err)
		}
		bars = append(bars, bar)
	}
	return bars, rows.Err()
}

// BarCount reports the number of archived bars.
func (a *BarArchive) BarCount(ctx context.Context) (int64, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var count int64
	err := a.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM minute_bars`).Scan(&count)
	return count, err
}
