package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/Edge-Lockdown/edgelockdown/internal/domain/policy"
)

// SQLiteSuspensionStore keeps suspension records in a SQLite database. It
// uses WAL mode and a single writer connection; records survive process
// restarts, so a restriction enabled by one run can be lifted by a later one
// with exact rule restoration instead of fallback definitions.
type SQLiteSuspensionStore struct {
	db *sql.DB
}

// NewSQLiteSuspensionStore opens (or creates) the database at dbPath.
func NewSQLiteSuspensionStore(dbPath string) (*SQLiteSuspensionStore, error) {
	if dbPath == "" {
		return nil, errors.New("db path cannot be empty")
	}

	busyTimeout := 5 * time.Second
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=%d&_synchronous=NORMAL",
		dbPath, int(busyTimeout.Milliseconds()))

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite only supports a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	store := &SQLiteSuspensionStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return store, nil
}

// initSchema creates the suspensions table if it does not exist.
func (s *SQLiteSuspensionStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS suspensions (
		realm      TEXT NOT NULL,
		scope_name TEXT NOT NULL,
		record     TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (realm, scope_name)
	);`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

// Save records the suspension for its scope, replacing any previous record.
func (s *SQLiteSuspensionStore) Save(ctx context.Context, susp *policy.Suspension) error {
	record, err := json.Marshal(susp)
	if err != nil {
		return fmt.Errorf("marshal suspension: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO suspensions (realm, scope_name, record, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (realm, scope_name) DO UPDATE SET
			record = excluded.record,
			created_at = excluded.created_at`,
		string(susp.Scope.Realm), susp.Scope.Name, string(record), susp.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("save suspension for %s: %w", susp.Scope, err)
	}
	return nil
}

// Load returns the suspension recorded for the scope, or (nil, nil) when
// none exists.
func (s *SQLiteSuspensionStore) Load(ctx context.Context, scope policy.Scope) (*policy.Suspension, error) {
	var record string
	err := s.db.QueryRowContext(ctx, `
		SELECT record FROM suspensions WHERE realm = ? AND scope_name = ?`,
		string(scope.Realm), scope.Name).Scan(&record)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load suspension for %s: %w", scope, err)
	}

	var susp policy.Suspension
	if err := json.Unmarshal([]byte(record), &susp); err != nil {
		return nil, fmt.Errorf("parse suspension for %s: %w", scope, err)
	}
	return &susp, nil
}

// Clear removes the scope's record. Clearing an absent record is not an
// error.
func (s *SQLiteSuspensionStore) Clear(ctx context.Context, scope policy.Scope) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM suspensions WHERE realm = ? AND scope_name = ?`,
		string(scope.Realm), scope.Name)
	if err != nil {
		return fmt.Errorf("clear suspension for %s: %w", scope, err)
	}
	return nil
}

// Close releases the database handle.
func (s *SQLiteSuspensionStore) Close() error {
	return s.db.Close()
}
