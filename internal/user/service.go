package user

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"go-realtime-chat/internal/apperr"
	"go-realtime-chat/internal/config"
	myMiddleware "go-realtime-chat/internal/middleware"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

type Service struct {
	repo       *Repository
	status     *StatusRecorder
	jwtSecret  []byte
	issuer     string
	tokenTTL   time.Duration
	bcryptCost int
}

type MyJWTClaims struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

func NewService(repo *Repository, status *StatusRecorder, cfg config.AuthConfig) *Service {
	cost := cfg.BcryptCost
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &Service{
		repo:       repo,
		status:     status,
		jwtSecret:  []byte(cfg.JWTSecret),
		issuer:     cfg.Issuer,
		tokenTTL:   cfg.TokenTTL,
		bcryptCost: cost,
	}
}

func (s *Service) Register(ctx context.Context, req *RegisterRequest) (*User, error) {
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if err := validateRegistration(req); err != nil {
		return nil, err
	}

	hashedPwd, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.bcryptCost)
	if err != nil {
		return nil, err
	}

	u := &User{
		Username: req.Username,
		Email:    req.Email,
		Password: string(hashedPwd),
		Role:     RoleUser,
	}
	return s.repo.CreateUser(ctx, u)
}

func validateRegistration(req *RegisterRequest) error {
	if n := len(req.Username); n < 3 || n > 30 {
		return fmt.Errorf("%w: username must be 3-30 characters", apperr.ErrValidation)
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		return fmt.Errorf("%w: invalid email", apperr.ErrValidation)
	}
	if len(req.Password) < 6 {
		return fmt.Errorf("%w: password must be at least 6 characters", apperr.ErrValidation)
	}
	return nil
}

func (s *Service) Login(ctx context.Context, req *LoginRequest) (*LoginResponse, error) {
	invalid := fmt.Errorf("%w: invalid credentials", apperr.ErrAuth)

	u, err := s.repo.GetUserByUsername(ctx, strings.TrimSpace(req.Username))
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, invalid
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(req.Password)); err != nil {
		return nil, invalid
	}

	ss, err := s.IssueToken(u)
	if err != nil {
		return nil, err
	}
	return &LoginResponse{
		AccessToken: ss,
		ID:          u.ID,
		Username:    u.Username,
		Role:        u.Role,
	}, nil
}

func (s *Service) IssueToken(u *User) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, MyJWTClaims{
		ID:       u.ID,
		Username: u.Username,
		Role:     u.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
		},
	})
	return token.SignedString(s.jwtSecret)
}

// ValidateToken verifies an HS256 token and returns the identity it carries.
func (s *Service) ValidateToken(tokenString string) (myMiddleware.Identity, error) {
	claims := &MyJWTClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return s.jwtSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(s.issuer))

	if err != nil || !token.Valid {
		return myMiddleware.Identity{}, fmt.Errorf("%w: %v", apperr.ErrAuth, err)
	}
	return myMiddleware.Identity{UserID: claims.ID, Username: claims.Username, Role: claims.Role}, nil
}

func (s *Service) FindUserByID(ctx context.Context, id int64) (*User, error) {
	return s.repo.GetUserByID(ctx, id)
}

func (s *Service) SearchUsers(ctx context.Context, query string, requesterID int64) ([]User, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []User{}, nil
	}
	return s.repo.SearchUsers(ctx, query, requesterID)
}

// ListContacts feeds the conversation list.
func (s *Service) ListContacts(ctx context.Context, excludeID int64, limit int) ([]User, error) {
	return s.repo.ListContacts(ctx, excludeID, limit)
}

// UpdateProfile applies a partial profile change. Tokens already issued
// keep the old username until they expire.
func (s *Service) UpdateProfile(ctx context.Context, userID int64, req *UpdateProfileRequest) (*User, error) {
	if req.Username != nil {
		name := strings.TrimSpace(*req.Username)
		if n := len(name); n < 3 || n > 30 {
			return nil, fmt.Errorf("%w: username must be 3-30 characters", apperr.ErrValidation)
		}
		req.Username = &name
	}
	if req.Avatar != nil {
		avatar := strings.TrimSpace(*req.Avatar)
		req.Avatar = &avatar
	}
	if req.Username == nil && req.Avatar == nil {
		return nil, fmt.Errorf("%w: nothing to update", apperr.ErrValidation)
	}
	return s.repo.UpdateProfile(ctx, userID, req.Username, req.Avatar)
}

func (s *Service) Stats(ctx context.Context) (Stats, error) {
	total, err := s.repo.CountUsers(ctx)
	if err != nil {
		return Stats{}, err
	}
	online, err := s.status.OnlineCount(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{TotalUsers: total, OnlineUsers: online}, nil
}
