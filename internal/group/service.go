package group

import (
	"context"
	"fmt"
	"strings"

	"go-realtime-chat/internal/apperr"
	"go-realtime-chat/internal/log"
)

// Store is the persistence the service needs; *Repository implements it.
type Store interface {
	Create(ctx context.Context, g *Group) (*Group, error)
	GetByID(ctx context.Context, id int64) (*Group, error)
	ListForUser(ctx context.Context, userID int64) ([]Group, error)
	ListPublic(ctx context.Context, limit, offset int) ([]Group, error)
	Update(ctx context.Context, id int64, req *UpdateRequest) error
	Delete(ctx context.Context, id int64) error
	IsMember(ctx context.Context, groupID, userID int64) (bool, error)
	ListMembers(ctx context.Context, groupID int64) ([]Member, error)
	AddMember(ctx context.Context, groupID, userID int64) (bool, error)
	RemoveMember(ctx context.Context, groupID, userID int64) (bool, error)
}

// MembershipListener is told about membership changes so live room
// subscriptions can follow the table.
type MembershipListener interface {
	MemberRemoved(groupID, userID int64)
	GroupDeleted(groupID int64)
}

type Service struct {
	store    Store
	listener MembershipListener
}

func NewService(store Store, listener MembershipListener) *Service {
	return &Service{store: store, listener: listener}
}

func (s *Service) Create(ctx context.Context, adminID int64, req *CreateRequest) (*Group, error) {
	name := strings.TrimSpace(req.Name)
	if err := validateName(name); err != nil {
		return nil, err
	}
	if err := validateDescription(req.Description); err != nil {
		return nil, err
	}

	g, err := s.store.Create(ctx, &Group{
		Name:        name,
		Description: req.Description,
		Avatar:      req.Avatar,
		AdminID:     adminID,
		IsPrivate:   req.IsPrivate,
	})
	if err != nil {
		return nil, err
	}

	l := log.Ctx(ctx)
	l.Info().Int64("group_id", g.ID).Int64(log.FieldUserID, adminID).Msg("group created")
	return g, nil
}

func validateName(name string) error {
	if n := len([]rune(name)); n < 1 || n > 50 {
		return fmt.Errorf("%w: group name must be between 1 and 50 characters", apperr.ErrValidation)
	}
	return nil
}

func validateDescription(d string) error {
	if len([]rune(d)) > 200 {
		return fmt.Errorf("%w: description must be less than 200 characters", apperr.ErrValidation)
	}
	return nil
}

// Get returns the group with its members. Only members may view it.
func (s *Service) Get(ctx context.Context, requesterID, groupID int64) (*Group, error) {
	g, err := s.store.GetByID(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if err := s.requireMember(ctx, groupID, requesterID); err != nil {
		return nil, err
	}
	members, err := s.store.ListMembers(ctx, groupID)
	if err != nil {
		return nil, err
	}
	g.Members = members
	return g, nil
}

func (s *Service) ListForUser(ctx context.Context, userID int64) ([]Group, error) {
	return s.store.ListForUser(ctx, userID)
}

func (s *Service) ListPublic(ctx context.Context, limit, offset int) ([]Group, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.ListPublic(ctx, limit, offset)
}

// Join adds the requester to a public group.
func (s *Service) Join(ctx context.Context, userID, groupID int64) (*Group, error) {
	g, err := s.store.GetByID(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if g.IsPrivate {
		return nil, fmt.Errorf("%w: group is private", apperr.ErrAuthorization)
	}
	added, err := s.store.AddMember(ctx, groupID, userID)
	if err != nil {
		return nil, err
	}
	if !added {
		return nil, fmt.Errorf("%w: already a member of this group", apperr.ErrConflict)
	}
	return s.store.GetByID(ctx, groupID)
}

// AddMember lets the group admin add another user.
func (s *Service) AddMember(ctx context.Context, requesterID, groupID, userID int64) (*Group, error) {
	if userID <= 0 {
		return nil, fmt.Errorf("%w: user id must be a positive integer", apperr.ErrValidation)
	}
	g, err := s.requireAdmin(ctx, requesterID, groupID)
	if err != nil {
		return nil, err
	}
	added, err := s.store.AddMember(ctx, g.ID, userID)
	if err != nil {
		return nil, err
	}
	if !added {
		return nil, fmt.Errorf("%w: user is already a member of this group", apperr.ErrConflict)
	}
	return s.store.GetByID(ctx, groupID)
}

// RemoveMember removes memberID. The admin may remove anyone but
// themselves; other members may only remove themselves.
func (s *Service) RemoveMember(ctx context.Context, requesterID, groupID, memberID int64) error {
	g, err := s.store.GetByID(ctx, groupID)
	if err != nil {
		return err
	}
	if requesterID != g.AdminID && requesterID != memberID {
		return fmt.Errorf("%w: not authorized to remove this member", apperr.ErrAuthorization)
	}
	if memberID == g.AdminID {
		return fmt.Errorf("%w: cannot remove group admin", apperr.ErrValidation)
	}
	return s.remove(ctx, groupID, memberID)
}

func (s *Service) Leave(ctx context.Context, userID, groupID int64) error {
	g, err := s.store.GetByID(ctx, groupID)
	if err != nil {
		return err
	}
	if g.AdminID == userID {
		return fmt.Errorf("%w: group admin cannot leave their own group", apperr.ErrValidation)
	}
	return s.remove(ctx, groupID, userID)
}

func (s *Service) remove(ctx context.Context, groupID, userID int64) error {
	removed, err := s.store.RemoveMember(ctx, groupID, userID)
	if err != nil {
		return err
	}
	if !removed {
		return fmt.Errorf("%w: not a member of this group", apperr.ErrNotFound)
	}
	if s.listener != nil {
		s.listener.MemberRemoved(groupID, userID)
	}
	return nil
}

func (s *Service) Update(ctx context.Context, requesterID, groupID int64, req *UpdateRequest) (*Group, error) {
	if _, err := s.requireAdmin(ctx, requesterID, groupID); err != nil {
		return nil, err
	}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if err := validateName(name); err != nil {
			return nil, err
		}
		req.Name = &name
	}
	if req.Description != nil {
		if err := validateDescription(*req.Description); err != nil {
			return nil, err
		}
	}
	if err := s.store.Update(ctx, groupID, req); err != nil {
		return nil, err
	}
	return s.store.GetByID(ctx, groupID)
}

func (s *Service) Delete(ctx context.Context, requesterID, groupID int64) error {
	if _, err := s.requireAdmin(ctx, requesterID, groupID); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, groupID); err != nil {
		return err
	}
	if s.listener != nil {
		s.listener.GroupDeleted(groupID)
	}
	return nil
}

func (s *Service) requireAdmin(ctx context.Context, requesterID, groupID int64) (*Group, error) {
	g, err := s.store.GetByID(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if g.AdminID != requesterID {
		return nil, fmt.Errorf("%w: only the group admin can do this", apperr.ErrAuthorization)
	}
	return g, nil
}

func (s *Service) requireMember(ctx context.Context, groupID, userID int64) error {
	ok, err := s.store.IsMember(ctx, groupID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: not a member of this group", apperr.ErrAuthorization)
	}
	return nil
}
