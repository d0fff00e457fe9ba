package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/golang/glog"
	_ "github.com/mattn/go-sqlite3"
)

var DB *sql.DB

// InitDatabase opens the process-wide SQLite database and creates tables
func InitDatabase(dbPath string) error {
	database, err := Open(dbPath)
	if err != nil {
		return err
	}
	DB = database
	glog.Infof("Database initialized at: %s", dbPath)
	return nil
}

// Open opens a SQLite database at dbPath and ensures the schema exists
func Open(dbPath string) (*sql.DB, error) {
	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	database, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=1&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection
	if err := database.Ping(); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := createTables(database); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return database, nil
}

// createTables creates all necessary tables
func createTables(database *sql.DB) error {
	createPresentationsTable := `
	CREATE TABLE IF NOT EXISTS presentations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title VARCHAR(255) NOT NULL,
		creator_name VARCHAR(255) NOT NULL,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`

	if _, err := database.Exec(createPresentationsTable); err != nil {
		return fmt.Errorf("failed to create presentations table: %w", err)
	}

	// snapshot is NULL for a blank slide
	createSlidesTable := `
	CREATE TABLE IF NOT EXISTS slides (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		presentation_id INTEGER NOT NULL,
		slide_order INTEGER NOT NULL,
		snapshot BLOB,
		last_modified DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (presentation_id) REFERENCES presentations(id) ON DELETE CASCADE,
		UNIQUE(presentation_id, slide_order)
	);`

	if _, err := database.Exec(createSlidesTable); err != nil {
		return fmt.Errorf("failed to create slides table: %w", err)
	}

	createUsersTable := `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		presentation_id INTEGER NOT NULL,
		name VARCHAR(50) NOT NULL,
		role INTEGER NOT NULL DEFAULT 0,
		FOREIGN KEY (presentation_id) REFERENCES presentations(id) ON DELETE CASCADE,
		UNIQUE(presentation_id, name)
	);`

	if _, err := database.Exec(createUsersTable); err != nil {
		return fmt.Errorf("failed to create users table: %w", err)
	}

	// Index slides by presentation for ordered listing
	createSlideIndex := `CREATE INDEX IF NOT EXISTS idx_slides_presentation ON slides(presentation_id, slide_order);`
	if _, err := database.Exec(createSlideIndex); err != nil {
		return fmt.Errorf("failed to create slides index: %w", err)
	}

	createUserIndex := `CREATE INDEX IF NOT EXISTS idx_users_presentation ON users(presentation_id);`
	if _, err := database.Exec(createUserIndex); err != nil {
		return fmt.Errorf("failed to create users index: %w", err)
	}

	glog.V(1).Infof("Database tables created successfully")
	return nil
}

// Close closes the database connection
func Close() error {
	if DB != nil {
		return DB.Close()
	}
	return nil
}
