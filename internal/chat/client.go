package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go-realtime-chat/internal/apperr"
	"go-realtime-chat/internal/config"
	"go-realtime-chat/internal/log"
	myMiddleware "go-realtime-chat/internal/middleware"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Client is one authenticated WebSocket connection. readPump is its
// event loop: frames from a connection are handled one at a time, in
// arrival order.
type Client struct {
	ID          string
	UserID      int64
	Username    string
	Role        string
	ConnectedAt time.Time

	hub     *Hub
	service *Service
	conn    *websocket.Conn
	cfg     config.WebSocketConfig
	logger  zerolog.Logger

	// send is closed exactly once, under mu.
	mu     sync.Mutex
	send   chan []byte
	closed bool

	// rooms is guarded by hub.mu.
	rooms map[RoomKey]Room
}

func newClient(hub *Hub, service *Service, conn *websocket.Conn, id myMiddleware.Identity, cfg config.WebSocketConfig) *Client {
	buf := cfg.SendBuffer
	if buf <= 0 {
		buf = 256
	}
	c := &Client{
		ID:          uuid.NewString(),
		UserID:      id.UserID,
		Username:    id.Username,
		Role:        id.Role,
		ConnectedAt: time.Now(),
		hub:         hub,
		service:     service,
		conn:        conn,
		cfg:         cfg,
		send:        make(chan []byte, buf),
		rooms:       make(map[RoomKey]Room),
	}
	c.logger = log.L().With().
		Str(log.FieldConnID, c.ID).
		Int64(log.FieldUserID, c.UserID).
		Str(log.FieldUsername, c.Username).
		Logger()
	return c
}

func (c *Client) identity() myMiddleware.Identity {
	return myMiddleware.Identity{UserID: c.UserID, Username: c.Username, Role: c.Role}
}

// push queues msg without blocking. A full buffer or closed client is a
// delivery failure for this recipient only.
func (c *Client) push(msg []byte) error {
	if msg == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("%w: connection closed", apperr.ErrDelivery)
	}
	select {
	case c.send <- msg:
		return nil
	default:
		return fmt.Errorf("%w: send buffer full", apperr.ErrDelivery)
	}
}

// Close stops the write pump, which closes the transport.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Client) ReadPump() {
	defer func() {
		c.hub.Disconnect(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.cfg.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn().Err(err).Msg("websocket read failed")
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
		c.handleFrame(message)
	}
}

// handleFrame runs one frame under the configured frame timeout so a
// stalled store call cannot wedge the read loop.
func (c *Client) handleFrame(raw []byte) {
	ctx := context.Background()
	if c.cfg.FrameTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.FrameTimeout)
		defer cancel()
	}
	c.handle(ctx, raw)
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handle dispatches one inbound frame. Errors go back to this
// connection only.
func (c *Client) handle(ctx context.Context, raw []byte) {
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		c.replyError("", fmt.Errorf("%w: malformed frame", apperr.ErrValidation))
		return
	}

	l := c.logger.With().Str(log.FieldEvent, f.Type).Logger()
	ctx = log.WithLogger(ctx, l)

	if err := c.dispatch(ctx, &f); err != nil {
		if apperr.Status(err) >= 500 {
			l.Error().Err(err).Msg("frame failed")
		} else {
			l.Debug().Err(err).Msg("frame rejected")
		}
		c.replyError(f.RequestID, err)
	}
}

func (c *Client) dispatch(ctx context.Context, f *frame) error {
	switch f.Type {
	case FramePing:
		return c.push(encodeReply(EventPong, f.RequestID, nil))

	case FrameAuth:
		return fmt.Errorf("%w: already authenticated", apperr.ErrValidation)

	case FrameJoinPrivateChat, FrameLeavePrivateChat:
		room, err := RoomFor(KindPrivate, c.UserID, f.OtherUserID)
		if err != nil {
			return err
		}
		if f.Type == FrameLeavePrivateChat {
			c.hub.Leave(c, room)
			return nil
		}
		return c.hub.Join(ctx, c, room)

	case FrameJoinGroup, FrameLeaveGroup:
		room, err := RoomFor(KindGroup, c.UserID, f.GroupID)
		if err != nil {
			return err
		}
		if f.Type == FrameLeaveGroup {
			c.hub.Leave(c, room)
			return nil
		}
		return c.hub.Join(ctx, c, room)

	case FrameTyping, FrameStopTyping:
		kind, err := ParseKind(f.ChatType)
		if err != nil {
			return err
		}
		if kind == KindBroadcast {
			return fmt.Errorf("%w: typing is not supported on broadcasts", apperr.ErrValidation)
		}
		room, err := RoomFor(kind, c.UserID, f.ChatRoom)
		if err != nil {
			return err
		}
		return c.hub.Typing(ctx, c, room, f.ChatRoom, f.Type == FrameTyping)

	case FrameSendMessage:
		msg, err := c.service.SendMessage(ctx, c.identity(), SendRequest{
			ChatType:  f.ChatType,
			ChatRoom:  f.ChatRoom,
			Content:   f.Content,
			ReplyToID: f.ReplyToID,
		})
		if err != nil {
			return err
		}
		return c.push(encodeReply(EventMessageSent, f.RequestID, msg))

	case FrameEditMessage:
		_, err := c.service.EditMessage(ctx, c.identity(), f.MessageID, f.Content)
		return err

	case FrameDeleteMessage:
		return c.service.DeleteMessage(ctx, c.identity(), f.MessageID)

	case FrameMarkRead:
		_, err := c.service.MarkRead(ctx, c.identity(), f.MessageIDs)
		return err

	case FrameResync:
		res, err := c.service.Resync(ctx, c.identity(), f.Since)
		if err != nil {
			return err
		}
		return c.push(encodeReply(EventResync, f.RequestID, res))

	default:
		return fmt.Errorf("%w: unknown frame type %q", apperr.ErrValidation, f.Type)
	}
}

func (c *Client) replyError(requestID string, err error) {
	if errors.Is(err, apperr.ErrDelivery) {
		return
	}
	_ = c.push(encodeReply(EventError, requestID, errorPayload{
		Code:    apperr.Code(err),
		Message: apperr.Message(err),
	}))
}
