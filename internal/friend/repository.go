package friend

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go-realtime-chat/internal/apperr"

	"github.com/jackc/pgx/v5/pgconn"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

type action int

const (
	actionInsert action = iota
	actionReopen
)

// decide picks what a new request between two users should do given any
// existing request row in either direction.
func decide(existing *Request, friends bool) (action, error) {
	if friends {
		return 0, fmt.Errorf("%w: already friends", apperr.ErrConflict)
	}
	if existing == nil {
		return actionInsert, nil
	}
	switch existing.Status {
	case StatusPending:
		return 0, fmt.Errorf("%w: friend request already sent", apperr.ErrConflict)
	case StatusAccepted:
		return 0, fmt.Errorf("%w: already friends", apperr.ErrConflict)
	default:
		return actionReopen, nil
	}
}

// SendRequest creates a pending request, or reopens a rejected one in
// place so each pair keeps a single row.
func (r *Repository) SendRequest(ctx context.Context, senderID, receiverID int64) (*Request, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	lo, hi := orderedPair(senderID, receiverID)
	var friends bool
	if err := tx.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM friendships WHERE user_id1 = $1 AND user_id2 = $2)`,
		lo, hi).Scan(&friends); err != nil {
		return nil, err
	}

	var existing *Request
	row := tx.QueryRowContext(ctx, `SELECT id, sender_id, receiver_id, status, created_at, updated_at
		FROM friend_requests
		WHERE (sender_id = $1 AND receiver_id = $2) OR (sender_id = $2 AND receiver_id = $1)
		FOR UPDATE`, senderID, receiverID)
	req := &Request{}
	switch err := row.Scan(&req.ID, &req.SenderID, &req.ReceiverID, &req.Status, &req.CreatedAt, &req.UpdatedAt); {
	case err == nil:
		existing = req
	case errors.Is(err, sql.ErrNoRows):
	default:
		return nil, err
	}

	act, err := decide(existing, friends)
	if err != nil {
		return nil, err
	}

	out := &Request{SenderID: senderID, ReceiverID: receiverID, Status: StatusPending}
	switch act {
	case actionInsert:
		err = tx.QueryRowContext(ctx, `INSERT INTO friend_requests (sender_id, receiver_id, status)
			VALUES ($1, $2, 'pending') RETURNING id, created_at, updated_at`, senderID, receiverID).
			Scan(&out.ID, &out.CreatedAt, &out.UpdatedAt)
	case actionReopen:
		err = tx.QueryRowContext(ctx, `UPDATE friend_requests
			SET sender_id = $1, receiver_id = $2, status = 'pending', created_at = NOW(), updated_at = NOW()
			WHERE id = $3 RETURNING id, created_at, updated_at`, senderID, receiverID, existing.ID).
			Scan(&out.ID, &out.CreatedAt, &out.UpdatedAt)
	}
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return nil, fmt.Errorf("%w: user", apperr.ErrNotFound)
		}
		return nil, err
	}
	return out, tx.Commit()
}

// Accept marks a pending request addressed to receiverID as accepted and
// inserts the canonical friendship row in the same transaction.
func (r *Repository) Accept(ctx context.Context, requestID, receiverID int64) (*Request, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	req := &Request{}
	err = tx.QueryRowContext(ctx, `UPDATE friend_requests SET status = 'accepted', updated_at = NOW()
		WHERE id = $1 AND receiver_id = $2 AND status = 'pending'
		RETURNING id, sender_id, receiver_id, status, created_at, updated_at`, requestID, receiverID).
		Scan(&req.ID, &req.SenderID, &req.ReceiverID, &req.Status, &req.CreatedAt, &req.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: friend request", apperr.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	lo, hi := orderedPair(req.SenderID, req.ReceiverID)
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO friendships (user_id1, user_id2) VALUES ($1, $2) ON CONFLICT DO NOTHING`, lo, hi); err != nil {
		return nil, err
	}
	return req, tx.Commit()
}

func (r *Repository) Reject(ctx context.Context, requestID, receiverID int64) error {
	res, err := r.db.ExecContext(ctx, `UPDATE friend_requests SET status = 'rejected', updated_at = NOW()
		WHERE id = $1 AND receiver_id = $2 AND status = 'pending'`, requestID, receiverID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: friend request", apperr.ErrNotFound)
	}
	return nil
}

// Remove deletes the friendship and the request history between the pair
// so a new request can be sent later.
func (r *Repository) Remove(ctx context.Context, userID, friendID int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	lo, hi := orderedPair(userID, friendID)
	res, err := tx.ExecContext(ctx, `DELETE FROM friendships WHERE user_id1 = $1 AND user_id2 = $2`, lo, hi)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: friendship", apperr.ErrNotFound)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM friend_requests
		WHERE (sender_id = $1 AND receiver_id = $2) OR (sender_id = $2 AND receiver_id = $1)`,
		userID, friendID); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *Repository) ListFriends(ctx context.Context, userID int64) ([]Profile, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT u.id, u.username, u.avatar, u.is_online, u.last_seen
		FROM friendships f
		JOIN users u ON u.id = CASE WHEN f.user_id1 = $1 THEN f.user_id2 ELSE f.user_id1 END
		WHERE f.user_id1 = $1 OR f.user_id2 = $1
		ORDER BY u.is_online DESC, u.username`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	friends := []Profile{}
	for rows.Next() {
		var p Profile
		if err := rows.Scan(&p.ID, &p.Username, &p.Avatar, &p.IsOnline, &p.LastSeen); err != nil {
			return nil, err
		}
		friends = append(friends, p)
	}
	return friends, rows.Err()
}

// ListPending returns pending requests addressed to (incoming) or sent by
// userID, each with the other party's profile.
func (r *Repository) ListPending(ctx context.Context, userID int64, incoming bool) ([]Request, error) {
	mine, other := "receiver_id", "sender_id"
	if !incoming {
		mine, other = other, mine
	}
	q := fmt.Sprintf(`SELECT fr.id, fr.sender_id, fr.receiver_id, fr.status, fr.created_at, fr.updated_at,
			u.id, u.username, u.avatar, u.is_online, u.last_seen
		FROM friend_requests fr JOIN users u ON u.id = fr.%s
		WHERE fr.%s = $1 AND fr.status = 'pending'
		ORDER BY fr.created_at DESC`, other, mine)

	rows, err := r.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Request{}
	for rows.Next() {
		var req Request
		p := &Profile{}
		if err := rows.Scan(&req.ID, &req.SenderID, &req.ReceiverID, &req.Status, &req.CreatedAt, &req.UpdatedAt,
			&p.ID, &p.Username, &p.Avatar, &p.IsOnline, &p.LastSeen); err != nil {
			return nil, err
		}
		req.Counterpart = p
		out = append(out, req)
	}
	return out, rows.Err()
}
