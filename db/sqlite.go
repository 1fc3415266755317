package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver registration

	"nfc-rfml/dataset"
	"nfc-rfml/models"
	"nfc-rfml/utils"
)

type SQLiteClient struct {
	db *sql.DB
}

func NewSQLiteClient(dataSourceName string) (*SQLiteClient, error) {
	// Extract the file path before query parameters
	dbPath := dataSourceName
	if idx := strings.Index(dataSourceName, "?"); idx != -1 {
		dbPath = dataSourceName[:idx]
	}

	dbDir := filepath.Dir(dbPath)
	if dbDir != "." && dbDir != "" {
		if err := utils.CreateFolder(dbDir); err != nil {
			return nil, fmt.Errorf("error creating database directory: %w", err)
		}
	}

	// Busy timeout in milliseconds
	if !strings.Contains(dataSourceName, "_busy_timeout") {
		if strings.Contains(dataSourceName, "?") {
			dataSourceName += "&_busy_timeout=5000"
		} else {
			dataSourceName += "?_busy_timeout=5000"
		}
	}

	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("error connecting to SQLite: %w", err)
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("error creating tables: %w", err)
	}

	return &SQLiteClient{db: db}, nil
}

// createTables creates the required tables if they don't exist
func createTables(db *sql.DB) error {
	createRunsTable := `
    CREATE TABLE IF NOT EXISTS runs (
        id TEXT PRIMARY KEY,
        created_at DATETIME NOT NULL,
        manifest TEXT NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);
    `

	createExamplesTable := `
    CREATE TABLE IF NOT EXISTS examples (
        run_id TEXT NOT NULL,
        subset TEXT NOT NULL,
        position INTEGER NOT NULL,
        source_index INTEGER NOT NULL,
        label INTEGER NOT NULL,
        features BLOB NOT NULL,
        PRIMARY KEY (run_id, subset, position)
    );
    `

	if _, err := db.Exec(createRunsTable); err != nil {
		return fmt.Errorf("error creating runs table: %w", err)
	}
	if _, err := db.Exec(createExamplesTable); err != nil {
		return fmt.Errorf("error creating examples table: %w", err)
	}
	return nil
}

func (db *SQLiteClient) Close() error {
	if db.db != nil {
		return db.db.Close()
	}
	return nil
}

// SaveRun writes the manifest and every example in a single transaction.
func (db *SQLiteClient) SaveRun(ctx context.Context, manifest models.RunManifest, split *dataset.Split) (string, error) {
	if manifest.ID == "" {
		manifest.ID = NewRunID()
	}
	if manifest.CreatedAt.IsZero() {
		manifest.CreatedAt = time.Now().UTC()
	}
	manifestJSON, err := json.Marshal(manifest)
	if err != nil {
		return "", fmt.Errorf("error marshaling manifest: %w", err)
	}

	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("error starting transaction: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, "INSERT INTO examples (run_id, subset, position, source_index, label, features) VALUES (?, ?, ?, ?, ?, ?)")
	if err != nil {
		tx.Rollback()
		return "", fmt.Errorf("error preparing statement: %w", err)
	}
	defer stmt.Close()

	for _, ex := range flatten(split) {
		if _, err := stmt.ExecContext(ctx, manifest.ID, ex.Partition, ex.Position, ex.Index, ex.Label, EncodeFeatures(ex.Features)); err != nil {
			tx.Rollback()
			return "", fmt.Errorf("error storing example: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, "INSERT INTO runs (id, created_at, manifest) VALUES (?, ?, ?)",
		manifest.ID, manifest.CreatedAt, string(manifestJSON)); err != nil {
		tx.Rollback()
		errMsg := err.Error()
		if strings.Contains(errMsg, "UNIQUE constraint") || strings.Contains(errMsg, "constraint failed") {
			return "", fmt.Errorf("run %s already exists: %w", manifest.ID, err)
		}
		return "", fmt.Errorf("error storing run: %w", err)
	}

	return manifest.ID, tx.Commit()
}

// ListRuns retrieves every run manifest, newest first
func (db *SQLiteClient) ListRuns(ctx context.Context) ([]models.RunManifest, error) {
	rows, err := db.db.QueryContext(ctx, "SELECT manifest FROM runs ORDER BY created_at DESC, id DESC")
	if err != nil {
		return nil, fmt.Errorf("error querying runs: %w", err)
	}
	defer rows.Close()

	var runs []models.RunManifest
	for rows.Next() {
		var manifestJSON string
		if err := rows.Scan(&manifestJSON); err != nil {
			return nil, fmt.Errorf("error scanning run: %w", err)
		}
		var m models.RunManifest
		if err := json.Unmarshal([]byte(manifestJSON), &m); err != nil {
			return nil, fmt.Errorf("error unmarshaling manifest: %w", err)
		}
		runs = append(runs, m)
	}
	return runs, rows.Err()
}

func (db *SQLiteClient) LoadRun(ctx context.Context, id string) (models.RunManifest, *dataset.Split, error) {
	var manifestJSON string
	err := db.db.QueryRowContext(ctx, "SELECT manifest FROM runs WHERE id = ?", id).Scan(&manifestJSON)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.RunManifest{}, nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
		}
		return models.RunManifest{}, nil, fmt.Errorf("failed to retrieve run: %w", err)
	}

	var manifest models.RunManifest
	if err := json.Unmarshal([]byte(manifestJSON), &manifest); err != nil {
		return models.RunManifest{}, nil, fmt.Errorf("error unmarshaling manifest: %w", err)
	}

	rows, err := db.db.QueryContext(ctx, `
		SELECT subset, position, source_index, label, features
		FROM examples
		WHERE run_id = ?
		ORDER BY subset, position
	`, id)
	if err != nil {
		return models.RunManifest{}, nil, fmt.Errorf("error querying examples: %w", err)
	}
	defer rows.Close()

	var examples []example
	for rows.Next() {
		var ex example
		var blob []byte
		if err := rows.Scan(&ex.Partition, &ex.Position, &ex.Index, &ex.Label, &blob); err != nil {
			return models.RunManifest{}, nil, fmt.Errorf("error scanning example: %w", err)
		}
		if ex.Features, err = DecodeFeatures(blob); err != nil {
			return models.RunManifest{}, nil, err
		}
		examples = append(examples, ex)
	}
	if err := rows.Err(); err != nil {
		return models.RunManifest{}, nil, fmt.Errorf("error reading examples: %w", err)
	}

	split, err := rebuild(manifest, examples)
	if err != nil {
		return models.RunManifest{}, nil, err
	}
	return manifest, split, nil
}

// DeleteRun removes a run and its examples
func (db *SQLiteClient) DeleteRun(ctx context.Context, id string) error {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error starting transaction: %w", err)
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM runs WHERE id = ?", id)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to delete run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		tx.Rollback()
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM examples WHERE run_id = ?", id); err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to delete examples: %w", err)
	}
	return tx.Commit()
}
