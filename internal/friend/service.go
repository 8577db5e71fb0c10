package friend

import (
	"context"
	"fmt"

	"go-realtime-chat/internal/apperr"
	"go-realtime-chat/internal/log"
)

type Service struct {
	repo *Repository
}

func NewService(repo *Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) SendRequest(ctx context.Context, senderID, receiverID int64) (*Request, error) {
	if receiverID <= 0 {
		return nil, fmt.Errorf("%w: receiver id must be a positive integer", apperr.ErrValidation)
	}
	if senderID == receiverID {
		return nil, fmt.Errorf("%w: cannot send a friend request to yourself", apperr.ErrValidation)
	}
	req, err := s.repo.SendRequest(ctx, senderID, receiverID)
	if err != nil {
		return nil, err
	}
	l := log.Ctx(ctx)
	l.Debug().Int64("request_id", req.ID).Int64("receiver_id", receiverID).Msg("friend request sent")
	return req, nil
}

func (s *Service) Accept(ctx context.Context, userID, requestID int64) (*Request, error) {
	return s.repo.Accept(ctx, requestID, userID)
}

func (s *Service) Reject(ctx context.Context, userID, requestID int64) error {
	return s.repo.Reject(ctx, requestID, userID)
}

func (s *Service) Remove(ctx context.Context, userID, friendID int64) error {
	return s.repo.Remove(ctx, userID, friendID)
}

func (s *Service) ListFriends(ctx context.Context, userID int64) ([]Profile, error) {
	return s.repo.ListFriends(ctx, userID)
}

func (s *Service) ListRequests(ctx context.Context, userID int64) (*Requests, error) {
	incoming, err := s.repo.ListPending(ctx, userID, true)
	if err != nil {
		return nil, err
	}
	sent, err := s.repo.ListPending(ctx, userID, false)
	if err != nil {
		return nil, err
	}
	return &Requests{Incoming: incoming, Sent: sent}, nil
}
