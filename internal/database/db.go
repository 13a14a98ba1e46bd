package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jgoulah/mobiletracker/pkg/models"
	_ "modernc.org/sqlite"
)

// FileName is the SQLite history file kept in the config directory
const FileName = "usage_history.db"

// DB wraps the database connection
type DB struct {
	conn *sql.DB
}

// Open opens the history database inside dir
func Open(dir string) (*DB, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}
	return New(filepath.Join(dir, FileName))
}

// New creates a new database connection and initializes the schema
func New(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}

	return db, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// initSchema creates the necessary tables
func (db *DB) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS usage_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		scraped_at TEXT NOT NULL,
		week_ending TEXT NOT NULL,
		usage_gb REAL NOT NULL,
		plan_gb REAL NOT NULL,
		remaining_gb REAL,
		percent_used REAL NOT NULL,
		cycle_start TEXT NOT NULL DEFAULT '',
		cycle_end TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_history_week_ending ON usage_history(week_ending);
	`

	_, err := db.conn.Exec(schema)
	return err
}

// Append inserts a usage record; rows are never updated or deleted
func (db *DB) Append(rec models.UsageRecord) error {
	query := `
	INSERT INTO usage_history (scraped_at, week_ending, usage_gb, plan_gb, remaining_gb, percent_used, cycle_start, cycle_end)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	var remaining sql.NullFloat64
	if rec.RemainingGB != nil {
		remaining = sql.NullFloat64{Float64: *rec.RemainingGB, Valid: true}
	}

	_, err := db.conn.Exec(query,
		rec.ScrapedAt.Format(time.RFC3339Nano),
		rec.WeekEnding,
		rec.UsageGB,
		rec.PlanGB,
		remaining,
		rec.PercentUsed,
		rec.CycleStart,
		rec.CycleEnd,
	)
	if err != nil {
		return fmt.Errorf("inserting usage record: %w", err)
	}

	return nil
}

// Load retrieves all usage records in insertion order
func (db *DB) Load() ([]models.UsageRecord, error) {
	query := `
	SELECT scraped_at, week_ending, usage_gb, plan_gb, remaining_gb, percent_used, cycle_start, cycle_end
	FROM usage_history
	ORDER BY id ASC
	`

	rows, err := db.conn.Query(query)
	if err != nil {
		return nil, fmt.Errorf("querying usage history: %w", err)
	}
	defer rows.Close()

	results := []models.UsageRecord{}
	for rows.Next() {
		var rec models.UsageRecord
		var scrapedAt string
		var remaining sql.NullFloat64

		if err := rows.Scan(&scrapedAt, &rec.WeekEnding, &rec.UsageGB, &rec.PlanGB, &remaining,
			&rec.PercentUsed, &rec.CycleStart, &rec.CycleEnd); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}

		rec.ScrapedAt.Time, err = time.Parse(time.RFC3339Nano, scrapedAt)
		if err != nil {
			return nil, fmt.Errorf("parsing scraped_at: %w", err)
		}

		if remaining.Valid {
			v := remaining.Float64
			rec.RemainingGB = &v
		}

		results = append(results, rec)
	}

	return results, rows.Err()
}
