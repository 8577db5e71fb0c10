package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go-realtime-chat/internal/apperr"
	"go-realtime-chat/internal/config"
	"go-realtime-chat/internal/log"
	myMiddleware "go-realtime-chat/internal/middleware"
	"go-realtime-chat/internal/respond"
	"go-realtime-chat/internal/user"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all for now (Dev mode)
	},
}

// UserStats feeds the admin stats endpoint.
type UserStats interface {
	Stats(ctx context.Context) (user.Stats, error)
}

type Handler struct {
	hub       *Hub
	service   *Service
	validator myMiddleware.TokenValidator
	stats     UserStats
	wsCfg     config.WebSocketConfig
}

func NewHandler(hub *Hub, service *Service, validator myMiddleware.TokenValidator, stats UserStats, wsCfg config.WebSocketConfig) *Handler {
	return &Handler{
		hub:       hub,
		service:   service,
		validator: validator,
		stats:     stats,
		wsCfg:     wsCfg,
	}
}

// ServeWs upgrades the request. A token in the Authorization header or
// ?token= is checked before the upgrade; otherwise the first frame must
// be {"type":"auth","token":...} within the handshake timeout.
func (h *Handler) ServeWs(w http.ResponseWriter, r *http.Request) {
	var (
		id     myMiddleware.Identity
		authed bool
	)
	if token := myMiddleware.TokenFromRequest(r); token != "" {
		var err error
		if id, err = h.validator.ValidateToken(token); err != nil {
			respond.Error(w, r, fmt.Errorf("%w: invalid token", apperr.ErrAuth))
			return
		}
		authed = true
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		l := log.Ctx(r.Context())
		l.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	if !authed {
		if id, err = h.awaitAuth(conn); err != nil {
			l := log.Ctx(r.Context())
			l.Info().Err(err).Msg("websocket handshake rejected")
			h.reject(conn, err)
			return
		}
	}

	client := newClient(h.hub, h.service, conn, id, h.wsCfg)
	_ = client.push(encodeEvent(EventAuthenticated, authenticatedPayload{
		UserID: id.UserID, Username: id.Username, ConnID: client.ID,
	}))
	h.hub.Connect(client)

	go client.WritePump()
	go client.ReadPump()
}

func (h *Handler) awaitAuth(conn *websocket.Conn) (myMiddleware.Identity, error) {
	conn.SetReadLimit(h.wsCfg.MaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(h.wsCfg.HandshakeTimeout))

	_, raw, err := conn.ReadMessage()
	if err != nil {
		return myMiddleware.Identity{}, fmt.Errorf("%w: no auth frame within handshake window", apperr.ErrAuth)
	}
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil || f.Type != FrameAuth || f.Token == "" {
		return myMiddleware.Identity{}, fmt.Errorf("%w: first frame must be auth", apperr.ErrAuth)
	}
	id, err := h.validator.ValidateToken(f.Token)
	if err != nil {
		return myMiddleware.Identity{}, fmt.Errorf("%w: invalid token", apperr.ErrAuth)
	}
	conn.SetReadDeadline(time.Time{})
	return id, nil
}

func (h *Handler) reject(conn *websocket.Conn, err error) {
	deadline := time.Now().Add(h.wsCfg.WriteWait)
	conn.SetWriteDeadline(deadline)
	conn.WriteMessage(websocket.TextMessage, encodeEvent(EventError, errorPayload{
		Code:    apperr.Code(err),
		Message: apperr.Message(err),
	}))
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "authentication failed"), deadline)
	conn.Close()
}

// Routes mounts the message endpoints under /api/messages.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/", h.History)
	r.Post("/", h.Send)
	r.Get("/unread", h.Unread)
	r.Get("/resync", h.Resync)
	r.Post("/read", h.MarkRead)
	r.Put("/{messageID}", h.Edit)
	r.Delete("/{messageID}", h.Delete)
}

func identity(r *http.Request) myMiddleware.Identity {
	id, _ := myMiddleware.IdentityFrom(r.Context())
	return id
}

func queryInt(r *http.Request, name string) (int64, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid %s", apperr.ErrValidation, name)
	}
	return n, nil
}

// chatTarget reads ?type= and ?chatId=.
func chatTarget(r *http.Request) (ChatKind, int64, error) {
	kind, err := ParseKind(r.URL.Query().Get("type"))
	if err != nil {
		return "", 0, err
	}
	target, err := queryInt(r, "chatId")
	if err != nil {
		return "", 0, err
	}
	return kind, target, nil
}

func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	kind, target, err := chatTarget(r)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		respond.Error(w, r, err)
		return
	}

	msgs, err := h.service.FetchHistory(r.Context(), identity(r), HistoryQuery{
		Kind: kind, Target: target, Limit: int(limit), Offset: int(offset),
	})
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.OK(w, msgs)
}

func (h *Handler) Send(w http.ResponseWriter, r *http.Request) {
	var req SendRequest
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, r, err)
		return
	}
	msg, err := h.service.SendMessage(r.Context(), identity(r), req)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.Created(w, msg)
}

func messageID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "messageID"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid message id", apperr.ErrValidation)
	}
	return id, nil
}

func (h *Handler) Edit(w http.ResponseWriter, r *http.Request) {
	id, err := messageID(r)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	var req EditRequest
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, r, err)
		return
	}
	msg, err := h.service.EditMessage(r.Context(), identity(r), id, req.Content)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.OK(w, msg)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := messageID(r)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	if err := h.service.DeleteMessage(r.Context(), identity(r), id); err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.OK(w, map[string]int64{"messageId": id})
}

func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	var req MarkReadRequest
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, r, err)
		return
	}
	n, err := h.service.MarkRead(r.Context(), identity(r), req.MessageIDs)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.OK(w, map[string]int{"marked": n})
}

func (h *Handler) Unread(w http.ResponseWriter, r *http.Request) {
	kind, target, err := chatTarget(r)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	n, err := h.service.UnreadCount(r.Context(), identity(r), kind, target)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.OK(w, map[string]int64{"unread": n})
}

func (h *Handler) Resync(w http.ResponseWriter, r *http.Request) {
	since, err := queryInt(r, "since")
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	res, err := h.service.Resync(r.Context(), identity(r), since)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.OK(w, res)
}

func (h *Handler) Online(w http.ResponseWriter, r *http.Request) {
	respond.OK(w, h.service.OnlineRoster())
}

type broadcastRequest struct {
	Content    string `json:"content"`
	Image      string `json:"image"`
	ButtonText string `json:"buttonText"`
	ButtonURL  string `json:"buttonUrl"`
}

// Broadcast sends an announcement to every connection. Admin only.
func (h *Handler) Broadcast(w http.ResponseWriter, r *http.Request) {
	var req broadcastRequest
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, r, err)
		return
	}
	msg, err := h.service.SendMessage(r.Context(), identity(r), SendRequest{
		ChatType:   string(KindBroadcast),
		Content:    req.Content,
		Image:      req.Image,
		ButtonText: req.ButtonText,
		ButtonURL:  req.ButtonURL,
	})
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.Created(w, msg)
}

func (h *Handler) ListBroadcasts(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	msgs, err := h.service.ListBroadcasts(r.Context(), identity(r), int(limit), int(offset))
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.OK(w, msgs)
}

// DeleteBroadcast retracts a broadcast for everyone. Admin only.
func (h *Handler) DeleteBroadcast(w http.ResponseWriter, r *http.Request) {
	id, err := messageID(r)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	if err := h.service.DeleteBroadcast(r.Context(), identity(r), id); err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.OK(w, map[string]int64{"messageId": id})
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	users, err := h.stats.Stats(r.Context())
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.OK(w, map[string]any{
		"users": users,
		"hub":   h.hub.Stats(),
	})
}
