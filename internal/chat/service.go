package chat

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"go-realtime-chat/internal/apperr"
	"go-realtime-chat/internal/config"
	"go-realtime-chat/internal/log"
	myMiddleware "go-realtime-chat/internal/middleware"
	"go-realtime-chat/internal/user"

	"golang.org/x/sync/errgroup"
)

const maxMarkRead = 500

// Store is the durable message log; *Repository implements it on Postgres.
type Store interface {
	Create(ctx context.Context, m *Message) (*Message, error)
	GetByID(ctx context.Context, id int64) (*Message, error)
	UpdateContent(ctx context.Context, id int64, content string, editedAt time.Time) (*Message, error)
	// SoftDelete reports false when the message was already deleted.
	SoftDelete(ctx context.Context, id int64) (bool, error)
	// ListRoom returns non-deleted messages of a room, newest first.
	ListRoom(ctx context.Context, key RoomKey, limit, offset int) ([]Message, error)
	// ListSince returns visible non-deleted messages with id > since, ascending.
	ListSince(ctx context.Context, userID int64, groupIDs []int64, since int64, limit int) ([]Message, error)
	// MarkRead inserts receipts and returns the messages that gained one.
	MarkRead(ctx context.Context, userID int64, ids []int64) ([]Message, error)
	CountUnread(ctx context.Context, key RoomKey, userID int64) (int64, error)
}

// UserDirectory looks up users by id.
type UserDirectory interface {
	FindUserByID(ctx context.Context, id int64) (*user.User, error)
}

// Service couples the message store with the hub. Every write is stored
// before any live recipient sees it, and writes to one room are
// serialised so recipients observe store order.
type Service struct {
	store      Store
	users      UserDirectory
	membership Membership
	hub        *Hub
	cfg        config.ChatConfig
	locks      *keyLock
	now        func() time.Time
}

func NewService(store Store, users UserDirectory, membership Membership, hub *Hub, cfg config.ChatConfig) *Service {
	return &Service{
		store:      store,
		users:      users,
		membership: membership,
		hub:        hub,
		cfg:        cfg,
		locks:      newKeyLock(),
		now:        time.Now,
	}
}

func (s *Service) validateContent(content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", fmt.Errorf("%w: content is required", apperr.ErrValidation)
	}
	if maxLen := s.cfg.MaxContentLength; maxLen > 0 && utf8.RuneCountInString(content) > maxLen {
		return "", fmt.Errorf("%w: content exceeds %d characters", apperr.ErrValidation, maxLen)
	}
	return content, nil
}

// resolveSendRoom authorises actor for a send to (kind, target).
func (s *Service) resolveSendRoom(ctx context.Context, actor myMiddleware.Identity, kind ChatKind, target int64) (Room, error) {
	room, err := RoomFor(kind, actor.UserID, target)
	if err != nil {
		return Room{}, err
	}
	switch kind {
	case KindPrivate:
		if _, err := s.users.FindUserByID(ctx, target); err != nil {
			return Room{}, err
		}
	case KindGroup:
		if err := s.requireMember(ctx, target, actor.UserID); err != nil {
			return Room{}, err
		}
	case KindBroadcast:
		if !actor.IsAdmin() {
			return Room{}, fmt.Errorf("%w: only admins can broadcast", apperr.ErrAuthorization)
		}
	}
	return room, nil
}

func (s *Service) requireMember(ctx context.Context, groupID, userID int64) error {
	ok, err := s.membership.IsMember(ctx, groupID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: not a member of this group", apperr.ErrAuthorization)
	}
	return nil
}

// SendMessage stores a message and fans out newMessage (and broadcast,
// for broadcasts). A store failure returns ErrPersistence and nothing is
// delivered.
func (s *Service) SendMessage(ctx context.Context, actor myMiddleware.Identity, req SendRequest) (*Message, error) {
	kind, err := ParseKind(req.ChatType)
	if err != nil {
		return nil, err
	}
	content, err := s.validateContent(req.Content)
	if err != nil {
		return nil, err
	}
	if kind != KindBroadcast && req.hasExtras() {
		return nil, fmt.Errorf("%w: image and button are only supported on broadcasts", apperr.ErrValidation)
	}

	room, err := s.resolveSendRoom(ctx, actor, kind, req.ChatRoom)
	if err != nil {
		return nil, err
	}

	if req.ReplyToID != nil {
		parent, err := s.store.GetByID(ctx, *req.ReplyToID)
		if err != nil {
			if errors.Is(err, apperr.ErrNotFound) {
				return nil, fmt.Errorf("%w: reply target does not exist", apperr.ErrValidation)
			}
			return nil, err
		}
		if parent.RoomKey != room.Key {
			return nil, fmt.Errorf("%w: reply target is in another chat", apperr.ErrValidation)
		}
	}

	chatRoomID := req.ChatRoom
	if kind == KindBroadcast {
		chatRoomID = 0
	}

	unlock := s.locks.Lock(room.Key)
	defer unlock()

	msg, err := s.store.Create(ctx, &Message{
		SenderID:   actor.UserID,
		Content:    content,
		ChatKind:   kind,
		ChatRoomID: chatRoomID,
		RoomKey:    room.Key,
		ReplyToID:  req.ReplyToID,
		Image:      optional(req.Image),
		ButtonText: optional(req.ButtonText),
		ButtonURL:  optional(req.ButtonURL),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: store message: %w", apperr.ErrPersistence, err)
	}

	n := s.hub.Deliver(ctx, room, encodeEvent(EventNewMessage, msg), 0)
	if kind == KindBroadcast {
		s.hub.Deliver(ctx, room, encodeEvent(EventBroadcast, msg), 0)
	}

	l := log.Ctx(ctx)
	l.Debug().Int64("message_id", msg.ID).Str(log.FieldRoom, string(room.Key)).
		Int("recipients", n).Msg("message delivered")
	return msg, nil
}

// loadOwned fetches a message the actor sent.
func (s *Service) loadOwned(ctx context.Context, actor myMiddleware.Identity, messageID int64) (*Message, error) {
	if messageID <= 0 {
		return nil, fmt.Errorf("%w: invalid message id", apperr.ErrValidation)
	}
	m, err := s.store.GetByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if m.SenderID != actor.UserID {
		return nil, fmt.Errorf("%w: not the sender of this message", apperr.ErrAuthorization)
	}
	return m, nil
}

func (s *Service) EditMessage(ctx context.Context, actor myMiddleware.Identity, messageID int64, content string) (*Message, error) {
	content, err := s.validateContent(content)
	if err != nil {
		return nil, err
	}
	m, err := s.loadOwned(ctx, actor, messageID)
	if err != nil {
		return nil, err
	}
	if m.IsDeleted {
		return nil, fmt.Errorf("%w: cannot edit deleted message", apperr.ErrValidation)
	}

	room := roomOf(m)
	unlock := s.locks.Lock(room.Key)
	defer unlock()

	updated, err := s.store.UpdateContent(ctx, m.ID, content, s.now())
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: update message: %w", apperr.ErrPersistence, err)
	}

	s.hub.Deliver(ctx, room, encodeEvent(EventMessageEdited, updated), 0)
	return updated, nil
}

// DeleteMessage tombstones the message. Deleting twice is a no-op and
// only the delete that lands notifies the room.
func (s *Service) DeleteMessage(ctx context.Context, actor myMiddleware.Identity, messageID int64) error {
	m, err := s.loadOwned(ctx, actor, messageID)
	if err != nil {
		return err
	}
	return s.tombstone(ctx, actor, m)
}

func (s *Service) tombstone(ctx context.Context, actor myMiddleware.Identity, m *Message) error {
	if m.IsDeleted {
		return nil
	}

	room := roomOf(m)
	unlock := s.locks.Lock(room.Key)
	defer unlock()

	deleted, err := s.store.SoftDelete(ctx, m.ID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return err
		}
		return fmt.Errorf("%w: delete message: %w", apperr.ErrPersistence, err)
	}
	if !deleted {
		return nil
	}

	s.hub.Deliver(ctx, room, encodeEvent(EventMessageDeleted, deletedPayload{
		MessageID:  m.ID,
		ChatType:   m.ChatKind,
		ChatRoomID: m.ChatRoomID,
		RoomKey:    m.RoomKey,
		UserID:     actor.UserID,
		Username:   actor.Username,
	}), 0)
	return nil
}

func requireAdmin(actor myMiddleware.Identity) error {
	if !actor.IsAdmin() {
		return fmt.Errorf("%w: admin only", apperr.ErrAuthorization)
	}
	return nil
}

// ListBroadcasts pages the live broadcasts, newest first.
func (s *Service) ListBroadcasts(ctx context.Context, actor myMiddleware.Identity, limit, offset int) ([]Message, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	msgs, err := s.store.ListRoom(ctx, BroadcastKey, s.clampLimit(limit), max(offset, 0))
	if err != nil {
		return nil, fmt.Errorf("%w: list broadcasts: %w", apperr.ErrPersistence, err)
	}
	if msgs == nil {
		msgs = []Message{}
	}
	return msgs, nil
}

// DeleteBroadcast lets any admin retract a broadcast, whoever sent it.
func (s *Service) DeleteBroadcast(ctx context.Context, actor myMiddleware.Identity, messageID int64) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}
	if messageID <= 0 {
		return fmt.Errorf("%w: invalid message id", apperr.ErrValidation)
	}
	m, err := s.store.GetByID(ctx, messageID)
	if err != nil {
		return err
	}
	if m.ChatKind != KindBroadcast {
		return fmt.Errorf("%w: broadcast", apperr.ErrNotFound)
	}
	return s.tombstone(ctx, actor, m)
}

func (s *Service) clampLimit(limit int) int {
	if limit <= 0 {
		return s.cfg.HistoryLimit
	}
	if ceiling := s.cfg.MaxHistoryLimit; ceiling > 0 && limit > ceiling {
		return ceiling
	}
	return limit
}

// FetchHistory returns a page of a room's history, oldest first. The
// first page of a private or group room also carries the most recent
// broadcasts, merged by creation time.
func (s *Service) FetchHistory(ctx context.Context, actor myMiddleware.Identity, q HistoryQuery) ([]Message, error) {
	room, err := RoomFor(q.Kind, actor.UserID, q.Target)
	if err != nil {
		return nil, err
	}
	if q.Kind == KindGroup {
		if err := s.requireMember(ctx, q.Target, actor.UserID); err != nil {
			return nil, err
		}
	}
	limit := s.clampLimit(q.Limit)
	offset := max(q.Offset, 0)

	var page, broadcasts []Message
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		page, err = s.store.ListRoom(gctx, room.Key, limit, offset)
		return err
	})
	if q.Kind != KindBroadcast && offset == 0 && s.cfg.BroadcastHistoryLimit > 0 {
		g.Go(func() error {
			var err error
			broadcasts, err = s.store.ListRoom(gctx, BroadcastKey, s.cfg.BroadcastHistoryLimit, 0)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return mergeByCreated(page, broadcasts), nil
}

func mergeByCreated(lists ...[]Message) []Message {
	out := []Message{}
	for _, l := range lists {
		out = append(out, l...)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *Service) OnlineRoster() []OnlineUser {
	return s.hub.Online()
}

// MarkRead records receipts for messageIDs and notifies the affected
// rooms. Own and deleted messages are skipped; repeats are no-ops.
func (s *Service) MarkRead(ctx context.Context, actor myMiddleware.Identity, messageIDs []int64) (int, error) {
	if len(messageIDs) == 0 {
		return 0, fmt.Errorf("%w: messageIds is required", apperr.ErrValidation)
	}
	if len(messageIDs) > maxMarkRead {
		return 0, fmt.Errorf("%w: at most %d messages per call", apperr.ErrValidation, maxMarkRead)
	}

	marked, err := s.store.MarkRead(ctx, actor.UserID, messageIDs)
	if err != nil {
		return 0, fmt.Errorf("%w: mark read: %w", apperr.ErrPersistence, err)
	}

	byRoom := make(map[RoomKey][]int64)
	rooms := make(map[RoomKey]Room)
	for i := range marked {
		room := roomOf(&marked[i])
		rooms[room.Key] = room
		byRoom[room.Key] = append(byRoom[room.Key], marked[i].ID)
	}
	for key, ids := range byRoom {
		s.hub.Deliver(ctx, rooms[key], encodeEvent(EventMessagesRead, readPayload{
			MessageIDs: ids,
			UserID:     actor.UserID,
			Username:   actor.Username,
		}), actor.UserID)
	}
	return len(marked), nil
}

func (s *Service) UnreadCount(ctx context.Context, actor myMiddleware.Identity, kind ChatKind, target int64) (int64, error) {
	room, err := RoomFor(kind, actor.UserID, target)
	if err != nil {
		return 0, err
	}
	if kind == KindGroup {
		if err := s.requireMember(ctx, target, actor.UserID); err != nil {
			return 0, err
		}
	}
	return s.store.CountUnread(ctx, room.Key, actor.UserID)
}

// Resync returns what actor may have missed after message id since.
func (s *Service) Resync(ctx context.Context, actor myMiddleware.Identity, since int64) (*ResyncResult, error) {
	if since < 0 {
		return nil, fmt.Errorf("%w: since must not be negative", apperr.ErrValidation)
	}
	groupIDs, err := s.membership.GroupIDsForUser(ctx, actor.UserID)
	if err != nil {
		return nil, err
	}

	limit := s.cfg.ResyncLimit
	if limit <= 0 {
		limit = 200
	}
	msgs, err := s.store.ListSince(ctx, actor.UserID, groupIDs, since, limit+1)
	if err != nil {
		return nil, err
	}

	res := &ResyncResult{Since: since, Messages: msgs}
	if len(msgs) > limit {
		res.Messages = msgs[:limit]
		res.HasMore = true
	}
	if res.Messages == nil {
		res.Messages = []Message{}
	}
	return res, nil
}
