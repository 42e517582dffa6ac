package sqlite

import (
	"database/sql"

	// Import the SQLite driver.
	_ "github.com/mattn/go-sqlite3"
)

// InitDB opens the SQLite database and creates the history table if it
// doesn't exist.
func InitDB(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS transfer_history (
		id INTEGER PRIMARY KEY,
		transfer_id TEXT,
		account_id TEXT,
		bucket TEXT,
		operation TEXT,
		source_key TEXT,
		dest_key TEXT,
		size INTEGER DEFAULT 0,
		status TEXT,
		duration_ms INTEGER DEFAULT 0,
		error_message TEXT,
		occurred_at DATETIME
	)`)

	if err != nil {
		db.Close()

		return nil, err
	}

	return db, nil
}
