package store

import (
	"context"
	"strings"

	"waifuapi/pkg/domain"
)

// Store defines persistence operations for dialog users and their turns.
// All operations are scoped by owner, the caller identity the request was
// made under.
type Store interface {
	// EnsureUser inserts the user if absent. Calling it again for an
	// existing user is a no-op.
	EnsureUser(ctx context.Context, owner, userID string) error
	HasUser(ctx context.Context, owner, userID string) (bool, error)
	GetUser(ctx context.Context, owner, userID string) (domain.User, bool, error)
	// DeleteUser removes the user and all of its turns. Deleting an
	// absent user is a no-op.
	DeleteUser(ctx context.Context, owner, userID string) error
	CountUsers(ctx context.Context, owner string) (int, error)
	// ListUserIDs returns user ids in insertion order.
	ListUserIDs(ctx context.Context, owner string, offset, limit int) ([]string, error)

	// ListTurns returns the user's dialog in index order. A user without
	// turns yields an empty slice.
	ListTurns(ctx context.Context, owner, userID string) ([]domain.Turn, error)
	// ReplaceTurns swaps the user's entire dialog for the supplied turns,
	// stored with the indices they carry, and bumps last-modified. It
	// reports found=false without writing when the user does not exist.
	ReplaceTurns(ctx context.Context, owner, userID string, turns []domain.Turn) (found bool, err error)
	// AppendTurns appends the turns after the current highest index,
	// assigning contiguous indices in one transaction. The user row is
	// created if absent and last-modified is bumped once.
	AppendTurns(ctx context.Context, owner, userID string, turns []domain.Turn) error
}

// Open selects a backend from the database URL. Postgres DSNs use the GORM
// store; anything else is treated as a SQLite path (":memory:" included).
func Open(databaseURL string) (Store, error) {
	if strings.HasPrefix(databaseURL, "postgres://") || strings.HasPrefix(databaseURL, "postgresql://") {
		return NewGormStore(databaseURL)
	}
	return NewSQLiteStore(databaseURL)
}
