package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	_ "github.com/lib/pq"
)

// PostgresStore implements RecordStore on a single records table.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the records table if it does not exist.
func (ps *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := ps.db.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS records (
			key     TEXT PRIMARY KEY,
			value   JSONB NOT NULL,
			version BIGINT NOT NULL
		)`)
	return err
}

func (ps *PostgresStore) Get(ctx context.Context, key string) (*Record, error) {
	rec := Record{Key: key}
	err := ps.db.QueryRowContext(ctx,
		"SELECT value, version FROM records WHERE key = $1", key,
	).Scan(&rec.Value, &rec.Version)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (ps *PostgresStore) Put(ctx context.Context, key string, value any, expectedVersion int64) (int64, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return 0, err
	}

	var result sql.Result
	if expectedVersion == 0 {
		result, err = ps.db.ExecContext(ctx,
			`INSERT INTO records (key, value, version) VALUES ($1, $2, 1)
			 ON CONFLICT (key) DO NOTHING`,
			key, data)
	} else {
		result, err = ps.db.ExecContext(ctx,
			`UPDATE records SET value = $2, version = version + 1
			 WHERE key = $1 AND version = $3`,
			key, data, expectedVersion)
	}
	if err != nil {
		return 0, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	if affected == 0 {
		return 0, ErrVersionConflict
	}
	return expectedVersion + 1, nil
}

func (ps *PostgresStore) Delete(ctx context.Context, key string) error {
	_, err := ps.db.ExecContext(ctx, "DELETE FROM records WHERE key = $1", key)
	return err
}

func (ps *PostgresStore) List(ctx context.Context, prefix string) ([]Record, error) {
	rows, err := ps.db.QueryContext(ctx,
		`SELECT key, value, version FROM records
		 WHERE key LIKE $1 || '%'
		 ORDER BY key ASC`,
		prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.Key, &rec.Value, &rec.Version); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ConnectPostgres establishes a connection to PostgreSQL
func ConnectPostgres(connStr string) (*sql.DB, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	// Test connection
	if err := db.Ping(); err != nil {
		return nil, err
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return db, nil
}
