package access

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/nerrad567/solar-controller-core/internal/infrastructure/database"
)

const userColumns = `id, subject, email, name, avatar, created_at, last_login`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (User, error) {
	var u User
	var createdAt, lastLogin string
	err := row.Scan(&u.ID, &u.Subject, &u.Email, &u.Name, &u.Avatar, &createdAt, &lastLogin)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("scanning user: %w", err)
	}
	u.CreatedAt, _ = database.ParseTime(createdAt) //nolint:errcheck // Written by this package
	u.LastLogin, _ = database.ParseTime(lastLogin) //nolint:errcheck // Written by this package
	return u, nil
}

// UpsertUser creates the user for subject on first sign-in, or refreshes
// email, name, avatar and last_login on later ones. The user id is stable
// across sign-ins.
func (s *SQLiteStore) UpsertUser(ctx context.Context, subject, email, name, avatar string) (User, error) {
	now := s.timestamp()
	u, err := scanUser(s.db.QueryRowContext(ctx,
		`INSERT INTO users (id, subject, email, name, avatar, created_at, last_login)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (subject) DO UPDATE SET
		     email = excluded.email,
		     name = excluded.name,
		     avatar = excluded.avatar,
		     last_login = excluded.last_login
		 RETURNING `+userColumns,
		newUserID(), subject, email, name, avatar, now, now,
	))
	if err != nil {
		return User{}, storeErr("upserting user "+email, err)
	}
	return u, nil
}

// EnsureUserByEmail returns the user registered under email, refreshing
// last_login, or creates one with subject and name. Lookup and write run in
// one transaction. Dev-token sign-in uses it, since several subjects map to
// the same fixed test account.
func (s *SQLiteStore) EnsureUserByEmail(ctx context.Context, email, subject, name string) (User, error) {
	var u User

	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		now := s.timestamp()
		var err error
		u, err = scanUser(tx.QueryRowContext(ctx,
			`UPDATE users SET last_login = ? WHERE email = ? RETURNING `+userColumns, now, email))
		if !errors.Is(err, ErrNotFound) {
			return err
		}
		u, err = scanUser(tx.QueryRowContext(ctx,
			`INSERT INTO users (id, subject, email, name, avatar, created_at, last_login)
			 VALUES (?, ?, ?, ?, '', ?, ?)
			 RETURNING `+userColumns,
			newUserID(), subject, email, name, now, now))
		return err
	})
	if err != nil {
		return User{}, storeErr("ensuring user "+email, err)
	}
	return u, nil
}

// GetUser returns the user with the given id, or ErrNotFound.
func (s *SQLiteStore) GetUser(ctx context.Context, id string) (User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if err != nil {
		return User{}, storeErr("getting user", err)
	}
	return u, nil
}

// ListOtherUsers returns every user except excludeID, ordered by name.
// It backs the share picker.
func (s *SQLiteStore) ListOtherUsers(ctx context.Context, excludeID string) ([]User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id != ? ORDER BY name, email`, excludeID)
	if err != nil {
		return nil, storeErr("listing users", err)
	}
	defer rows.Close()

	users := make([]User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, storeErr("listing users", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterating users", err)
	}
	return users, nil
}
