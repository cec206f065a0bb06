package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

var commandResultsSchema = []string{`
	CREATE TABLE IF NOT EXISTS command_results (
		id                BIGSERIAL PRIMARY KEY,
		event_id          TEXT NOT NULL,
		command           TEXT NOT NULL,
		success           BOOLEAN NOT NULL,
		result            TEXT,
		error             TEXT,
		execution_time_ms BIGINT NOT NULL,
		executed_at       TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_command_results_command ON command_results (command, executed_at DESC)`,
}

const insertCommandResult = `
	INSERT INTO command_results (event_id, command, success, result, error, execution_time_ms, executed_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
`

// OpenPostgres opens a pgx-backed database/sql pool and pings it.
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// ResultPostgresRepo keeps the full command result log in PostgreSQL.
type ResultPostgresRepo struct {
	db *sql.DB
}

func NewResultPostgresRepo(db *sql.DB) *ResultPostgresRepo {
	return &ResultPostgresRepo{db: db}
}

// EnsureSchema creates the command_results table when missing.
func (r *ResultPostgresRepo) EnsureSchema(ctx context.Context) error {
	for _, stmt := range commandResultsSchema {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create command_results schema: %w", err)
		}
	}
	return nil
}

func (r *ResultPostgresRepo) SaveResult(ctx context.Context, data *StoredResult) error {
	_, err := r.db.ExecContext(ctx, insertCommandResult,
		data.EventID,
		data.Command,
		data.Success,
		data.Result,
		data.Error,
		data.ExecutionTime.Milliseconds(),
		data.ExecutedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save result to postgres: %w", err)
	}
	return nil
}

// BatchInsert inserts multiple results in a single transaction
func (r *ResultPostgresRepo) BatchInsert(ctx context.Context, batch []*StoredResult) error {
	if len(batch) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insertCommandResult)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, data := range batch {
		_, err = stmt.ExecContext(ctx,
			data.EventID,
			data.Command,
			data.Success,
			data.Result,
			data.Error,
			data.ExecutionTime.Milliseconds(),
			data.ExecutedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert result: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// LatestByCommand returns nil, nil when command has never run.
func (r *ResultPostgresRepo) LatestByCommand(ctx context.Context, command string) (*StoredResult, error) {
	rows, err := r.ListByCommand(ctx, command, 1)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// ListByCommand returns the newest results for command first.
func (r *ResultPostgresRepo) ListByCommand(ctx context.Context, command string, limit int) ([]*StoredResult, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT event_id, command, success, COALESCE(result, ''), COALESCE(error, ''), execution_time_ms, executed_at
		FROM command_results
		WHERE command = $1
		ORDER BY executed_at DESC
		LIMIT $2
	`, command, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list results: %w", err)
	}
	defer rows.Close()

	var out []*StoredResult
	for rows.Next() {
		var (
			data StoredResult
			ms   int64
		)
		if err := rows.Scan(&data.EventID, &data.Command, &data.Success, &data.Result, &data.Error, &ms, &data.ExecutedAt); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		data.ExecutionTime = time.Duration(ms) * time.Millisecond
		out = append(out, &data)
	}
	return out, rows.Err()
}

func (r *ResultPostgresRepo) Close() error {
	return r.db.Close()
}
