package chat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go-realtime-chat/internal/apperr"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const messageColumns = `m.id, m.sender_id, u.username, u.avatar, u.role, m.content, m.chat_kind,
	m.chat_room_id, m.room_key, m.reply_to_id, m.image, m.button_text, m.button_url,
	m.edited_at, m.is_deleted, m.created_at, m.updated_at`

// visibleTo restricts m to messages user $1 may see.
const visibleTo = `(m.chat_kind = 'broadcast'
	OR (m.chat_kind = 'private' AND (m.sender_id = $1 OR m.chat_room_id = $1))
	OR (m.chat_kind = 'group' AND EXISTS (
		SELECT 1 FROM group_members gm WHERE gm.group_id = m.chat_room_id AND gm.user_id = $1)))`

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(row scanner) (*Message, error) {
	var (
		m          Message
		replyTo    sql.NullInt64
		image      sql.NullString
		buttonText sql.NullString
		buttonURL  sql.NullString
		editedAt   sql.NullTime
	)
	err := row.Scan(&m.ID, &m.SenderID, &m.SenderUsername, &m.SenderAvatar, &m.SenderRole, &m.Content,
		&m.ChatKind, &m.ChatRoomID, &m.RoomKey, &replyTo, &image, &buttonText, &buttonURL,
		&editedAt, &m.IsDeleted, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if replyTo.Valid {
		m.ReplyToID = &replyTo.Int64
	}
	if image.Valid {
		m.Image = &image.String
	}
	if buttonText.Valid {
		m.ButtonText = &buttonText.String
	}
	if buttonURL.Valid {
		m.ButtonURL = &buttonURL.String
	}
	if editedAt.Valid {
		m.EditedAt = &editedAt.Time
	}
	m.ReadBy = []ReadReceipt{}
	return &m, nil
}

func (r *Repository) one(ctx context.Context, query string, args ...any) (*Message, error) {
	m, err := scanMessage(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: message", apperr.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if err := r.attachReadBy(ctx, []*Message{m}); err != nil {
		return nil, err
	}
	return m, nil
}

func (r *Repository) many(ctx context.Context, query string, args ...any) ([]Message, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	ptrs := make([]*Message, len(out))
	for i := range out {
		ptrs[i] = &out[i]
	}
	if err := r.attachReadBy(ctx, ptrs); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Repository) Create(ctx context.Context, msg *Message) (*Message, error) {
	return r.one(ctx, `WITH m AS (
			INSERT INTO messages (sender_id, content, chat_kind, chat_room_id, room_key, reply_to_id,
				image, button_text, button_url)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			RETURNING *
		)
		SELECT `+messageColumns+` FROM m JOIN users u ON u.id = m.sender_id`,
		msg.SenderID, msg.Content, string(msg.ChatKind), msg.ChatRoomID, string(msg.RoomKey),
		msg.ReplyToID, msg.Image, msg.ButtonText, msg.ButtonURL)
}

func (r *Repository) GetByID(ctx context.Context, id int64) (*Message, error) {
	return r.one(ctx, `SELECT `+messageColumns+` FROM messages m JOIN users u ON u.id = m.sender_id
		WHERE m.id = $1`, id)
}

// UpdateContent edits a live message. A deleted or missing message is
// reported as not found.
func (r *Repository) UpdateContent(ctx context.Context, id int64, content string, editedAt time.Time) (*Message, error) {
	return r.one(ctx, `WITH m AS (
			UPDATE messages SET content = $2, edited_at = $3, updated_at = NOW()
			WHERE id = $1 AND NOT is_deleted
			RETURNING *
		)
		SELECT `+messageColumns+` FROM m JOIN users u ON u.id = m.sender_id`, id, content, editedAt)
}

// SoftDelete tombstones a live message and reports whether this call
// did so. An already deleted message returns false with no error.
func (r *Repository) SoftDelete(ctx context.Context, id int64) (bool, error) {
	var found, deleted bool
	err := r.db.QueryRowContext(ctx, `WITH target AS (
			SELECT id FROM messages WHERE id = $1
		), d AS (
			UPDATE messages SET is_deleted = TRUE, updated_at = NOW()
			WHERE id = $1 AND NOT is_deleted
			RETURNING id
		)
		SELECT EXISTS (SELECT 1 FROM target), EXISTS (SELECT 1 FROM d)`, id).Scan(&found, &deleted)
	if err != nil {
		return false, err
	}
	if !found {
		return false, fmt.Errorf("%w: message", apperr.ErrNotFound)
	}
	return deleted, nil
}

func (r *Repository) ListRoom(ctx context.Context, key RoomKey, limit, offset int) ([]Message, error) {
	return r.many(ctx, `SELECT `+messageColumns+` FROM messages m JOIN users u ON u.id = m.sender_id
		WHERE m.room_key = $1 AND NOT m.is_deleted
		ORDER BY m.created_at DESC, m.id DESC
		LIMIT $2 OFFSET $3`, string(key), limit, offset)
}

func (r *Repository) ListSince(ctx context.Context, userID int64, groupIDs []int64, since int64, limit int) ([]Message, error) {
	return r.many(ctx, `SELECT `+messageColumns+` FROM messages m JOIN users u ON u.id = m.sender_id
		WHERE m.id > $2 AND NOT m.is_deleted AND (
			m.chat_kind = 'broadcast'
			OR (m.chat_kind = 'private' AND (m.sender_id = $1 OR m.chat_room_id = $1))
			OR (m.chat_kind = 'group' AND m.chat_room_id = ANY($3::bigint[])))
		ORDER BY m.id
		LIMIT $4`, userID, since, groupIDs, limit)
}

// MarkRead is idempotent per (message, user). Only messages the user can
// see, did not send and that are not deleted get a receipt.
func (r *Repository) MarkRead(ctx context.Context, userID int64, ids []int64) ([]Message, error) {
	rows, err := r.db.QueryContext(ctx, `WITH ins AS (
			INSERT INTO message_reads (message_id, user_id)
			SELECT m.id, $1 FROM messages m
			WHERE m.id = ANY($2::bigint[]) AND m.sender_id <> $1 AND NOT m.is_deleted AND `+visibleTo+`
			ON CONFLICT DO NOTHING
			RETURNING message_id
		)
		SELECT m.id, m.sender_id, m.chat_kind, m.chat_room_id, m.room_key
		FROM ins JOIN messages m ON m.id = ins.message_id
		ORDER BY m.id`, userID, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.SenderID, &m.ChatKind, &m.ChatRoomID, &m.RoomKey); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *Repository) CountUnread(ctx context.Context, key RoomKey, userID int64) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages m
		WHERE m.room_key = $1 AND m.sender_id <> $2 AND NOT m.is_deleted
		AND NOT EXISTS (SELECT 1 FROM message_reads mr WHERE mr.message_id = m.id AND mr.user_id = $2)`,
		string(key), userID).Scan(&n)
	return n, err
}

func (r *Repository) CountReceipts(ctx context.Context, messageID int64) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM message_reads WHERE message_id = $1`, messageID).Scan(&n)
	return n, err
}

func (r *Repository) attachReadBy(ctx context.Context, msgs []*Message) error {
	if len(msgs) == 0 {
		return nil
	}
	ids := make([]int64, len(msgs))
	index := make(map[int64]*Message, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
		index[m.ID] = m
	}

	rows, err := r.db.QueryContext(ctx, `SELECT mr.message_id, mr.user_id, u.username, mr.read_at
		FROM message_reads mr JOIN users u ON u.id = mr.user_id
		WHERE mr.message_id = ANY($1::bigint[])
		ORDER BY mr.read_at`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			messageID int64
			rr        ReadReceipt
		)
		if err := rows.Scan(&messageID, &rr.UserID, &rr.Username, &rr.ReadAt); err != nil {
			return err
		}
		if m, ok := index[messageID]; ok {
			m.ReadBy = append(m.ReadBy, rr)
		}
	}
	return rows.Err()
}
