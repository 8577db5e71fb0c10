package user

import (
	"net/http"

	myMiddleware "go-realtime-chat/internal/middleware"
	"go-realtime-chat/internal/respond"
)

type Handler struct {
	Service *Service
}

func NewHandler(s *Service) *Handler {
	return &Handler{Service: s}
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, r, err)
		return
	}

	u, err := h.Service.Register(r.Context(), &req)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.Created(w, u)
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, r, err)
		return
	}

	res, err := h.Service.Login(r.Context(), &req)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.OK(w, res)
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	id, _ := myMiddleware.IdentityFrom(r.Context())
	u, err := h.Service.FindUserByID(r.Context(), id.UserID)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.OK(w, u)
}

func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req UpdateProfileRequest
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, r, err)
		return
	}
	id, _ := myMiddleware.IdentityFrom(r.Context())
	u, err := h.Service.UpdateProfile(r.Context(), id.UserID, &req)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.OK(w, u)
}

func (h *Handler) SearchUsers(w http.ResponseWriter, r *http.Request) {
	id, _ := myMiddleware.IdentityFrom(r.Context())
	users, err := h.Service.SearchUsers(r.Context(), r.URL.Query().Get("q"), id.UserID)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.OK(w, users)
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Service.Stats(r.Context())
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.OK(w, stats)
}
