package chat

import (
	"fmt"
	"time"

	"go-realtime-chat/internal/apperr"
)

type ChatKind string

const (
	KindPrivate   ChatKind = "private"
	KindGroup     ChatKind = "group"
	KindBroadcast ChatKind = "broadcast"
)

func ParseKind(s string) (ChatKind, error) {
	switch k := ChatKind(s); k {
	case KindPrivate, KindGroup, KindBroadcast:
		return k, nil
	default:
		return "", fmt.Errorf("%w: unknown chat type %q", apperr.ErrValidation, s)
	}
}

// Message is the stored message hydrated with sender display fields.
// ChatRoomID is the recipient for private chats, the group for group
// chats and zero for broadcasts.
type Message struct {
	ID             int64         `json:"id"`
	SenderID       int64         `json:"senderId"`
	SenderUsername string        `json:"username"`
	SenderAvatar   string        `json:"avatar"`
	SenderRole     string        `json:"senderRole"`
	Content        string        `json:"content"`
	ChatKind       ChatKind      `json:"chatType"`
	ChatRoomID     int64         `json:"chatRoomId"`
	RoomKey        RoomKey       `json:"roomKey"`
	ReplyToID      *int64        `json:"replyToId,omitempty"`
	Image          *string       `json:"image,omitempty"`
	ButtonText     *string       `json:"buttonText,omitempty"`
	ButtonURL      *string       `json:"buttonUrl,omitempty"`
	EditedAt       *time.Time    `json:"editedAt"`
	IsDeleted      bool          `json:"isDeleted"`
	CreatedAt      time.Time     `json:"createdAt"`
	UpdatedAt      time.Time     `json:"updatedAt"`
	ReadBy         []ReadReceipt `json:"readBy"`
}

type ReadReceipt struct {
	UserID   int64     `json:"userId"`
	Username string    `json:"username"`
	ReadAt   time.Time `json:"readAt"`
}

// SendRequest is the body of an HTTP send and of a sendMessage frame.
type SendRequest struct {
	ChatType   string `json:"chatType"`
	ChatRoom   int64  `json:"chatRoom"`
	Content    string `json:"content"`
	ReplyToID  *int64 `json:"replyToId,omitempty"`
	Image      string `json:"image,omitempty"`
	ButtonText string `json:"buttonText,omitempty"`
	ButtonURL  string `json:"buttonUrl,omitempty"`
}

func (r SendRequest) hasExtras() bool {
	return r.Image != "" || r.ButtonText != "" || r.ButtonURL != ""
}

type EditRequest struct {
	Content string `json:"content"`
}

type MarkReadRequest struct {
	MessageIDs []int64 `json:"messageIds"`
}

type OnlineUser struct {
	UserID   int64  `json:"userId"`
	Username string `json:"username"`
}

// HistoryQuery selects a page of a room's history. Offset counts
// messages back from the newest.
type HistoryQuery struct {
	Kind   ChatKind
	Target int64
	Limit  int
	Offset int
}

type ResyncResult struct {
	Since    int64     `json:"since"`
	Messages []Message `json:"messages"`
	HasMore  bool      `json:"hasMore"`
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
