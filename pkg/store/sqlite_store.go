package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"waifuapi/pkg/domain"
)

// SQLiteStore implements Store on a local SQLite database file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database file and applies the schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// SQLite allows a single writer; one connection avoids SQLITE_BUSY
	// under concurrent appends.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			owner TEXT NOT NULL,
			user_id TEXT NOT NULL,
			last_modified INTEGER NOT NULL,
			UNIQUE (owner, user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS turns (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			owner TEXT NOT NULL,
			user_id TEXT NOT NULL,
			idx INTEGER NOT NULL,
			name TEXT NOT NULL,
			message TEXT NOT NULL,
			UNIQUE (owner, user_id, idx),
			FOREIGN KEY (owner, user_id) REFERENCES users (owner, user_id) ON DELETE CASCADE
		)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Close closes the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// EnsureUser inserts the user row unless it already exists.
func (s *SQLiteStore) EnsureUser(ctx context.Context, owner, userID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO users (owner, user_id, last_modified) VALUES (?, ?, ?)`,
		owner, userID, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// HasUser checks if the user exists.
func (s *SQLiteStore) HasUser(ctx context.Context, owner, userID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM users WHERE owner = ? AND user_id = ?`,
		owner, userID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query user: %w", err)
	}
	return true, nil
}

// GetUser returns the user record.
func (s *SQLiteStore) GetUser(ctx context.Context, owner, userID string) (domain.User, bool, error) {
	var modified int64
	err := s.db.QueryRowContext(ctx,
		`SELECT last_modified FROM users WHERE owner = ? AND user_id = ?`,
		owner, userID).Scan(&modified)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.User{}, false, nil
	}
	if err != nil {
		return domain.User{}, false, fmt.Errorf("query user: %w", err)
	}
	return domain.User{
		Owner:        owner,
		UserID:       userID,
		LastModified: time.Unix(modified, 0),
	}, true, nil
}

// DeleteUser removes the user row. The foreign key cascade removes the
// dialog turns. Deleting an absent user is a no-op.
func (s *SQLiteStore) DeleteUser(ctx context.Context, owner, userID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM users WHERE owner = ? AND user_id = ?`,
		owner, userID)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return nil
}

// CountUsers returns the number of users for the owner.
func (s *SQLiteStore) CountUsers(ctx context.Context, owner string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM users WHERE owner = ?`, owner).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return count, nil
}

// ListUserIDs returns user ids in insertion (primary key) order.
func (s *SQLiteStore) ListUserIDs(ctx context.Context, owner string, offset, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id FROM users WHERE owner = ? ORDER BY id ASC LIMIT ? OFFSET ?`,
		owner, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListTurns returns the dialog in index order.
func (s *SQLiteStore) ListTurns(ctx context.Context, owner, userID string) ([]domain.Turn, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT idx, name, message FROM turns WHERE owner = ? AND user_id = ? ORDER BY idx ASC`,
		owner, userID)
	if err != nil {
		return nil, fmt.Errorf("list turns: %w", err)
	}
	defer rows.Close()

	var turns []domain.Turn
	for rows.Next() {
		var t domain.Turn
		if err := rows.Scan(&t.Index, &t.Name, &t.Message); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// ReplaceTurns swaps the whole dialog inside one transaction.
func (s *SQLiteStore) ReplaceTurns(ctx context.Context, owner, userID string, turns []domain.Turn) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var one int
	err = tx.QueryRowContext(ctx,
		`SELECT 1 FROM users WHERE owner = ? AND user_id = ?`,
		owner, userID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query user: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM turns WHERE owner = ? AND user_id = ?`,
		owner, userID); err != nil {
		return false, fmt.Errorf("delete turns: %w", err)
	}
	for _, t := range turns {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO turns (owner, user_id, idx, name, message) VALUES (?, ?, ?, ?, ?)`,
			owner, userID, t.Index, t.Name, t.Message); err != nil {
			return false, fmt.Errorf("insert turn: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE users SET last_modified = ? WHERE owner = ? AND user_id = ?`,
		time.Now().Unix(), owner, userID); err != nil {
		return false, fmt.Errorf("touch user: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit tx: %w", err)
	}
	return true, nil
}

// AppendTurns appends after the current highest index, creating the user
// row if absent.
func (s *SQLiteStore) AppendTurns(ctx context.Context, owner, userID string, turns []domain.Turn) error {
	if len(turns) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO users (owner, user_id, last_modified) VALUES (?, ?, ?)`,
		owner, userID, time.Now().Unix()); err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	var next int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(idx), -1) FROM turns WHERE owner = ? AND user_id = ?`,
		owner, userID).Scan(&next); err != nil {
		return fmt.Errorf("query max index: %w", err)
	}
	next++
	for i, t := range turns {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO turns (owner, user_id, idx, name, message) VALUES (?, ?, ?, ?, ?)`,
			owner, userID, next+i, t.Name, t.Message); err != nil {
			return fmt.Errorf("insert turn: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE users SET last_modified = ? WHERE owner = ? AND user_id = ?`,
		time.Now().Unix(), owner, userID); err != nil {
		return fmt.Errorf("touch user: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
