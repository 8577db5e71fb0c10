package friend

import (
	"fmt"
	"net/http"
	"strconv"

	"go-realtime-chat/internal/apperr"
	myMiddleware "go-realtime-chat/internal/middleware"
	"go-realtime-chat/internal/respond"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	Service *Service
}

func NewHandler(s *Service) *Handler {
	return &Handler{Service: s}
}

// Routes mounts the friend endpoints under /api/friends.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/", h.List)
	r.Delete("/{friendID}", h.Remove)
	r.Get("/requests", h.ListRequests)
	r.Post("/requests", h.Send)
	r.Post("/requests/{requestID}/accept", h.Accept)
	r.Post("/requests/{requestID}/reject", h.Reject)
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid %s", apperr.ErrValidation, name)
	}
	return id, nil
}

func requester(r *http.Request) int64 {
	id, _ := myMiddleware.IdentityFrom(r.Context())
	return id.UserID
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	friends, err := h.Service.ListFriends(r.Context(), requester(r))
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.OK(w, friends)
}

func (h *Handler) Remove(w http.ResponseWriter, r *http.Request) {
	friendID, err := pathID(r, "friendID")
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	if err := h.Service.Remove(r.Context(), requester(r), friendID); err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.OK(w, map[string]int64{"friendId": friendID})
}

func (h *Handler) ListRequests(w http.ResponseWriter, r *http.Request) {
	reqs, err := h.Service.ListRequests(r.Context(), requester(r))
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.OK(w, reqs)
}

func (h *Handler) Send(w http.ResponseWriter, r *http.Request) {
	var body SendRequest
	if err := respond.Decode(r, &body); err != nil {
		respond.Error(w, r, err)
		return
	}
	req, err := h.Service.SendRequest(r.Context(), requester(r), body.ReceiverID)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.Created(w, req)
}

func (h *Handler) Accept(w http.ResponseWriter, r *http.Request) {
	requestID, err := pathID(r, "requestID")
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	req, err := h.Service.Accept(r.Context(), requester(r), requestID)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.OK(w, req)
}

func (h *Handler) Reject(w http.ResponseWriter, r *http.Request) {
	requestID, err := pathID(r, "requestID")
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	if err := h.Service.Reject(r.Context(), requester(r), requestID); err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.OK(w, map[string]int64{"requestId": requestID})
}
