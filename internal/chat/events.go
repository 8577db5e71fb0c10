package chat

import (
	"encoding/json"
	"time"

	"go-realtime-chat/internal/log"
)

// Outbound event types.
const (
	EventAuthenticated     = "authenticated"
	EventError             = "error"
	EventPong              = "pong"
	EventOnlineUsers       = "onlineUsers"
	EventUserOnline        = "userOnline"
	EventUserOffline       = "userOffline"
	EventPrivateChatJoined = "privateChatJoined"
	EventUserJoinedGroup   = "userJoinedGroup"
	EventUserLeftGroup     = "userLeftGroup"
	EventGroupDeleted      = "groupDeleted"
	EventUserTyping        = "userTyping"
	EventUserStoppedTyping = "userStoppedTyping"
	EventNewMessage        = "newMessage"
	EventMessageSent       = "messageSent"
	EventMessageEdited     = "messageEdited"
	EventMessageDeleted    = "messageDeleted"
	EventBroadcast         = "broadcast"
	EventResync            = "resync"
	EventMessagesRead      = "messagesRead"
)

// Inbound frame types.
const (
	FrameAuth             = "auth"
	FrameJoinPrivateChat  = "joinPrivateChat"
	FrameLeavePrivateChat = "leavePrivateChat"
	FrameJoinGroup        = "joinGroup"
	FrameLeaveGroup       = "leaveGroup"
	FrameTyping           = "typing"
	FrameStopTyping       = "stopTyping"
	FrameSendMessage      = "sendMessage"
	FrameEditMessage      = "editMessage"
	FrameDeleteMessage    = "deleteMessage"
	FrameMarkRead         = "markRead"
	FrameResync           = "resync"
	FramePing             = "ping"
)

type envelope struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId,omitempty"`
	Data      any    `json:"data,omitempty"`
}

// frame is any inbound message; only the fields its type uses are set.
type frame struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId,omitempty"`
	Token     string `json:"token,omitempty"`

	OtherUserID int64   `json:"otherUserId,omitempty"`
	GroupID     int64   `json:"groupId,omitempty"`
	ChatType    string  `json:"chatType,omitempty"`
	ChatRoom    int64   `json:"chatRoom,omitempty"`
	Content     string  `json:"content,omitempty"`
	ReplyToID   *int64  `json:"replyToId,omitempty"`
	MessageID   int64   `json:"messageId,omitempty"`
	MessageIDs  []int64 `json:"messageIds,omitempty"`
	Since       int64   `json:"since,omitempty"`
}

type actorPayload struct {
	UserID   int64  `json:"userId"`
	Username string `json:"username"`
}

type offlinePayload struct {
	UserID   int64     `json:"userId"`
	Username string    `json:"username"`
	LastSeen time.Time `json:"lastSeen"`
}

type groupPayload struct {
	UserID   int64  `json:"userId"`
	Username string `json:"username"`
	GroupID  int64  `json:"groupId"`
}

type groupDeletedPayload struct {
	GroupID int64 `json:"groupId"`
}

type typingPayload struct {
	UserID   int64    `json:"userId"`
	Username string   `json:"username"`
	ChatType ChatKind `json:"chatType"`
	ChatRoom int64    `json:"chatRoom"`
}

type deletedPayload struct {
	MessageID  int64    `json:"messageId"`
	ChatType   ChatKind `json:"chatType"`
	ChatRoomID int64    `json:"chatRoomId"`
	RoomKey    RoomKey  `json:"roomKey"`
	UserID     int64    `json:"userId"`
	Username   string   `json:"username"`
}

type readPayload struct {
	MessageIDs []int64 `json:"messageIds"`
	UserID     int64   `json:"userId"`
	Username   string  `json:"username"`
}

type authenticatedPayload struct {
	UserID   int64  `json:"userId"`
	Username string `json:"username"`
	ConnID   string `json:"connId"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func encodeEvent(eventType string, data any) []byte {
	return encodeReply(eventType, "", data)
}

// encodeReply tags the event with the requestId of the frame it answers.
func encodeReply(eventType, requestID string, data any) []byte {
	b, err := json.Marshal(envelope{Type: eventType, RequestID: requestID, Data: data})
	if err != nil {
		l := log.L()
		l.Error().Err(err).Str(log.FieldEvent, eventType).Msg("failed to encode event")
		return nil
	}
	return b
}
