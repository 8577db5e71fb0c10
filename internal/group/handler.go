package group

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

// Routes mounts the group endpoints under /api/groups.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/", h.Create)
	r.Get("/", h.ListMine)
	r.Get("/public", h.ListPublic)
	r.Get("/{groupID}", h.Get)
	r.Put("/{groupID}", h.Update)
	r.Delete("/{groupID}", h.Delete)
	r.Post("/{groupID}/join", h.Join)
	r.Delete("/{groupID}/leave", h.Leave)
	r.Post("/{groupID}/members", h.AddMember)
	r.Delete("/{groupID}/members/{memberID}", h.RemoveMember)
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

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, r, err)
		return
	}
	g, err := h.Service.Create(r.Context(), requester(r), &req)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.Created(w, g)
}

func (h *Handler) ListMine(w http.ResponseWriter, r *http.Request) {
	groups, err := h.Service.ListForUser(r.Context(), requester(r))
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.OK(w, groups)
}

func (h *Handler) ListPublic(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	groups, err := h.Service.ListPublic(r.Context(), limit, offset)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.OK(w, groups)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	groupID, err := pathID(r, "groupID")
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	g, err := h.Service.Get(r.Context(), requester(r), groupID)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.OK(w, g)
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	groupID, err := pathID(r, "groupID")
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	var req UpdateRequest
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, r, err)
		return
	}
	g, err := h.Service.Update(r.Context(), requester(r), groupID, &req)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.OK(w, g)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	groupID, err := pathID(r, "groupID")
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	if err := h.Service.Delete(r.Context(), requester(r), groupID); err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.OK(w, map[string]int64{"groupId": groupID})
}

func (h *Handler) Join(w http.ResponseWriter, r *http.Request) {
	groupID, err := pathID(r, "groupID")
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	g, err := h.Service.Join(r.Context(), requester(r), groupID)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.OK(w, g)
}

func (h *Handler) Leave(w http.ResponseWriter, r *http.Request) {
	groupID, err := pathID(r, "groupID")
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	if err := h.Service.Leave(r.Context(), requester(r), groupID); err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.OK(w, map[string]int64{"groupId": groupID})
}

func (h *Handler) AddMember(w http.ResponseWriter, r *http.Request) {
	groupID, err := pathID(r, "groupID")
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	var req AddMemberRequest
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, r, err)
		return
	}
	g, err := h.Service.AddMember(r.Context(), requester(r), groupID, req.UserID)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.OK(w, g)
}

func (h *Handler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	groupID, err := pathID(r, "groupID")
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	memberID, err := pathID(r, "memberID")
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	if err := h.Service.RemoveMember(r.Context(), requester(r), groupID, memberID); err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.OK(w, map[string]int64{"groupId": groupID, "userId": memberID})
}
