package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go-realtime-chat/internal/apperr"

	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

const userColumns = `id, username, email, password, avatar, role, is_online, last_seen, created_at`

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) CreateUser(ctx context.Context, user *User) (*User, error) {
	query := `INSERT INTO users (username, email, password, role) VALUES ($1, $2, $3, $4)
		RETURNING id, last_seen, created_at`

	err := r.db.QueryRowContext(ctx, query, user.Username, user.Email, user.Password, user.Role).
		Scan(&user.ID, &user.LastSeen, &user.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, fmt.Errorf("%w: username or email already taken", apperr.ErrConflict)
		}
		return nil, err
	}
	return user, nil
}

func (r *Repository) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	query := "SELECT " + userColumns + " FROM users WHERE username = $1 OR email = $1"
	return r.scanOne(r.db.QueryRowContext(ctx, query, username))
}

func (r *Repository) GetUserByID(ctx context.Context, id int64) (*User, error) {
	query := "SELECT " + userColumns + " FROM users WHERE id = $1"
	return r.scanOne(r.db.QueryRowContext(ctx, query, id))
}

func (r *Repository) scanOne(row *sql.Row) (*User, error) {
	u := &User{}
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.Password, &u.Avatar, &u.Role,
		&u.IsOnline, &u.LastSeen, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: user", apperr.ErrNotFound)
		}
		return nil, err
	}
	return u, nil
}

// SearchUsers matches username or email, excluding the caller.
func (r *Repository) SearchUsers(ctx context.Context, query string, excludeID int64) ([]User, error) {
	q := `SELECT id, username, avatar, is_online, last_seen FROM users
		WHERE (username ILIKE $1 OR email ILIKE $1) AND id <> $2
		ORDER BY username LIMIT 10`
	rows, err := r.db.QueryContext(ctx, q, "%"+query+"%", excludeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := []User{}
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Username, &u.Avatar, &u.IsOnline, &u.LastSeen); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// ListContacts returns other users, online first and then by most
// recently seen.
func (r *Repository) ListContacts(ctx context.Context, excludeID int64, limit int) ([]User, error) {
	q := `SELECT id, username, avatar, is_online, last_seen FROM users
		WHERE id <> $1
		ORDER BY is_online DESC, last_seen DESC, id LIMIT $2`
	rows, err := r.db.QueryContext(ctx, q, excludeID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := []User{}
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Username, &u.Avatar, &u.IsOnline, &u.LastSeen); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// UpdateProfile changes the fields that are set; nil leaves a column as is.
func (r *Repository) UpdateProfile(ctx context.Context, id int64, username, avatar *string) (*User, error) {
	query := `UPDATE users SET
		username = COALESCE($2, username),
		avatar = COALESCE($3, avatar),
		updated_at = NOW()
		WHERE id = $1
		RETURNING ` + userColumns
	u, err := r.scanOne(r.db.QueryRowContext(ctx, query, id, username, avatar))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, fmt.Errorf("%w: username already taken", apperr.ErrConflict)
		}
		return nil, err
	}
	return u, nil
}

// SetOnlineStatus applies a presence transition unless a newer one has
// already been written. It reports whether the row changed.
func (r *Repository) SetOnlineStatus(ctx context.Context, id int64, online bool, at time.Time) (bool, error) {
	query := `UPDATE users SET is_online = $2, last_seen = $3, updated_at = NOW()
		WHERE id = $1 AND last_seen <= $3`
	res, err := r.db.ExecContext(ctx, query, id, online, at)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ResetOnline clears is_online for every user. Run at startup since
// presence is not carried across restarts.
func (r *Repository) ResetOnline(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `UPDATE users SET is_online = FALSE WHERE is_online`)
	return err
}

func (r *Repository) CountUsers(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n)
	return n, err
}

func (r *Repository) CountOnline(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE is_online`).Scan(&n)
	return n, err
}
