package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"erpsync/internal/models"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

type DB struct {
	db     *sql.DB
	logger *zerolog.Logger
}

func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	// Создаем директорию для БД, если её нет
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %v", err)
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %v", err)
	}

	// Проверяем соединение
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %v", err)
	}

	// Создаем таблицы
	if err := createTables(db); err != nil {
		return nil, fmt.Errorf("failed to create tables: %v", err)
	}

	logger.Info().Str("path", path).Msg("database initialized")
	return &DB{db: db, logger: logger}, nil
}

func createTables(db *sql.DB) error {
	queries := []string{
		// Таблицы сущностей — по одной на модуль
		entityTableDDL("customers"),
		entityTableDDL("vendors"),

		`CREATE TABLE IF NOT EXISTS sync_trackers (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            module TEXT UNIQUE NOT NULL,
            last_sync_at DATETIME,
            last_synced_batch_max DATETIME,
            status TEXT NOT NULL DEFAULT 'idle',
            remark TEXT NOT NULL DEFAULT '',
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
        )`,

		`CREATE TABLE IF NOT EXISTS sync_jobs (
            id TEXT PRIMARY KEY,
            module TEXT NOT NULL,
            type TEXT NOT NULL,
            params TEXT NOT NULL DEFAULT '{}',
            status TEXT NOT NULL DEFAULT 'pending',
            attempts INTEGER NOT NULL DEFAULT 0,
            last_error TEXT,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            started_at DATETIME,
            completed_at DATETIME
        )`,

		`CREATE TABLE IF NOT EXISTS failed_jobs (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            job_id TEXT NOT NULL,
            module TEXT NOT NULL,
            payload TEXT NOT NULL,
            error TEXT NOT NULL,
            stack TEXT NOT NULL DEFAULT '',
            attempts INTEGER NOT NULL DEFAULT 0,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            retried_at DATETIME,
            resolved BOOLEAN NOT NULL DEFAULT 0
        )`,

		`CREATE INDEX IF NOT EXISTS idx_sync_jobs_module ON sync_jobs(module)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_jobs_status ON sync_jobs(status)`,
		`CREATE INDEX IF NOT EXISTS idx_failed_jobs_job_id ON failed_jobs(job_id)`,
		`CREATE INDEX IF NOT EXISTS idx_failed_jobs_module ON failed_jobs(module)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %v", query, err)
		}
	}
	return nil
}

func entityTableDDL(table string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            remote_id TEXT UNIQUE NOT NULL,
            display_name TEXT NOT NULL DEFAULT '',
            email TEXT NOT NULL DEFAULT '',
            phone TEXT NOT NULL DEFAULT '',
            raw_payload TEXT NOT NULL DEFAULT '{}',
            remote_modified_at DATETIME,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            is_deleted BOOLEAN NOT NULL DEFAULT 0
        );
        CREATE INDEX IF NOT EXISTS idx_%s_remote_id ON %s(remote_id);
        CREATE INDEX IF NOT EXISTS idx_%s_modified ON %s(remote_modified_at);
        CREATE INDEX IF NOT EXISTS idx_%s_updated ON %s(updated_at)`,
		table, table, table, table, table, table, table)
}

// entityTable maps a module to its table name, erroring on unknown modules so
// a module string can never reach query interpolation unchecked.
func entityTable(module string) (string, error) {
	table, ok := models.SupportedModules[module]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedModule, module)
	}
	return table, nil
}

// ExecContext exposes the underlying handle for tests and maintenance code.
func (db *DB) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return db.db.ExecContext(ctx, query, args...)
}

func (db *DB) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return db.db.QueryContext(ctx, query, args...)
}

func (db *DB) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return db.db.QueryRowContext(ctx, query, args...)
}

func (db *DB) Close() error {
	return db.db.Close()
}
