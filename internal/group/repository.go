package group

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go-realtime-chat/internal/apperr"

	"github.com/jackc/pgx/v5/pgconn"
)

const foreignKeyViolation = "23503"

const groupColumns = `g.id, g.name, g.description, g.avatar, g.admin_id, g.is_private, g.created_at, g.updated_at,
	(SELECT COUNT(*) FROM group_members gm WHERE gm.group_id = g.id)`

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Create inserts the group and its admin membership in one transaction.
func (r *Repository) Create(ctx context.Context, g *Group) (*Group, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	err = tx.QueryRowContext(ctx,
		`INSERT INTO groups (name, description, avatar, admin_id, is_private)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id, created_at, updated_at`,
		g.Name, g.Description, g.Avatar, g.AdminID, g.IsPrivate,
	).Scan(&g.ID, &g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO group_members (group_id, user_id) VALUES ($1, $2)`, g.ID, g.AdminID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	g.MemberCount = 1
	return g, nil
}

func (r *Repository) GetByID(ctx context.Context, id int64) (*Group, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+groupColumns+` FROM groups g WHERE g.id = $1`, id)
	g, err := scanGroup(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: group", apperr.ErrNotFound)
	}
	return g, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanGroup(row scanner) (*Group, error) {
	g := &Group{}
	err := row.Scan(&g.ID, &g.Name, &g.Description, &g.Avatar, &g.AdminID, &g.IsPrivate,
		&g.CreatedAt, &g.UpdatedAt, &g.MemberCount)
	if err != nil {
		return nil, err
	}
	return g, nil
}

func (r *Repository) query(ctx context.Context, q string, args ...any) ([]Group, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	groups := []Group{}
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		groups = append(groups, *g)
	}
	return groups, rows.Err()
}

func (r *Repository) ListForUser(ctx context.Context, userID int64) ([]Group, error) {
	return r.query(ctx, `SELECT `+groupColumns+` FROM groups g
		JOIN group_members m ON m.group_id = g.id
		WHERE m.user_id = $1 ORDER BY g.updated_at DESC`, userID)
}

func (r *Repository) ListPublic(ctx context.Context, limit, offset int) ([]Group, error) {
	return r.query(ctx, `SELECT `+groupColumns+` FROM groups g
		WHERE NOT g.is_private ORDER BY g.created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
}

func (r *Repository) Update(ctx context.Context, id int64, req *UpdateRequest) error {
	_, err := r.db.ExecContext(ctx, `UPDATE groups SET
		name = COALESCE($2, name),
		description = COALESCE($3, description),
		avatar = COALESCE($4, avatar),
		is_private = COALESCE($5, is_private),
		updated_at = NOW()
		WHERE id = $1`, id, req.Name, req.Description, req.Avatar, req.IsPrivate)
	return err
}

func (r *Repository) Delete(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM groups WHERE id = $1`, id)
	return err
}

func (r *Repository) IsMember(ctx context.Context, groupID, userID int64) (bool, error) {
	var ok bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM group_members WHERE group_id = $1 AND user_id = $2)`,
		groupID, userID).Scan(&ok)
	return ok, err
}

func (r *Repository) ListMemberIDs(ctx context.Context, groupID int64) ([]int64, error) {
	return r.ids(ctx, `SELECT user_id FROM group_members WHERE group_id = $1`, groupID)
}

func (r *Repository) GroupIDsForUser(ctx context.Context, userID int64) ([]int64, error) {
	return r.ids(ctx, `SELECT group_id FROM group_members WHERE user_id = $1`, userID)
}

func (r *Repository) ids(ctx context.Context, q string, arg int64) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, q, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *Repository) ListMembers(ctx context.Context, groupID int64) ([]Member, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT u.id, u.username, u.avatar, u.is_online, m.joined_at
		FROM group_members m JOIN users u ON u.id = m.user_id
		WHERE m.group_id = $1 ORDER BY m.joined_at`, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	members := []Member{}
	for rows.Next() {
		var m Member
		if err := rows.Scan(&m.UserID, &m.Username, &m.Avatar, &m.IsOnline, &m.JoinedAt); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// AddMember reports whether a row was inserted.
func (r *Repository) AddMember(ctx context.Context, groupID, userID int64) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO group_members (group_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		groupID, userID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation {
			return false, fmt.Errorf("%w: user", apperr.ErrNotFound)
		}
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// RemoveMember reports whether a row was deleted.
func (r *Repository) RemoveMember(ctx context.Context, groupID, userID int64) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM group_members WHERE group_id = $1 AND user_id = $2`, groupID, userID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}
