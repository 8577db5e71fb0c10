package chat

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go-realtime-chat/internal/apperr"
	"go-realtime-chat/internal/group"
	myMiddleware "go-realtime-chat/internal/middleware"
	"go-realtime-chat/internal/respond"
	"go-realtime-chat/internal/user"

	"golang.org/x/sync/errgroup"
)

const contactsLimit = 50

// Contacts lists the users a caller can open a private chat with.
type Contacts interface {
	ListContacts(ctx context.Context, excludeID int64, limit int) ([]user.User, error)
}

// GroupLister lists the groups a user belongs to.
type GroupLister interface {
	ListForUser(ctx context.Context, userID int64) ([]group.Group, error)
}

type PrivateChat struct {
	UserID   int64     `json:"userId"`
	Name     string    `json:"name"`
	Avatar   string    `json:"avatar"`
	Type     ChatKind  `json:"type"`
	IsOnline bool      `json:"isOnline"`
	LastSeen time.Time `json:"lastSeen"`
}

type GroupChat struct {
	GroupID     int64    `json:"groupId"`
	Name        string   `json:"name"`
	Avatar      string   `json:"avatar"`
	Type        ChatKind `json:"type"`
	MemberCount int      `json:"memberCount"`
	AdminID     int64    `json:"adminId"`
}

// ConversationList is everything a client shows in its sidebar.
type ConversationList struct {
	Private []PrivateChat `json:"private"`
	Groups  []GroupChat   `json:"groups"`
}

// Conversations builds the conversation list. Online flags come from
// the live registry, which is ahead of the users table while a status
// write is in flight.
type Conversations struct {
	contacts Contacts
	groups   GroupLister
	hub      *Hub
}

func NewConversations(contacts Contacts, groups GroupLister, hub *Hub) *Conversations {
	return &Conversations{contacts: contacts, groups: groups, hub: hub}
}

func (c *Conversations) List(ctx context.Context, actor myMiddleware.Identity) (*ConversationList, error) {
	var (
		users  []user.User
		groups []group.Group
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		users, err = c.contacts.ListContacts(gctx, actor.UserID, contactsLimit)
		return err
	})
	g.Go(func() error {
		var err error
		groups, err = c.groups.ListForUser(gctx, actor.UserID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("%w: list conversations: %w", apperr.ErrPersistence, err)
	}

	online := make(map[int64]bool)
	for _, u := range c.hub.Online() {
		online[u.UserID] = true
	}

	out := &ConversationList{
		Private: make([]PrivateChat, 0, len(users)),
		Groups:  make([]GroupChat, 0, len(groups)),
	}
	for _, u := range users {
		out.Private = append(out.Private, PrivateChat{
			UserID:   u.ID,
			Name:     u.Username,
			Avatar:   u.Avatar,
			Type:     KindPrivate,
			IsOnline: online[u.ID],
			LastSeen: u.LastSeen,
		})
	}
	for _, gr := range groups {
		out.Groups = append(out.Groups, GroupChat{
			GroupID:     gr.ID,
			Name:        gr.Name,
			Avatar:      gr.Avatar,
			Type:        KindGroup,
			MemberCount: gr.MemberCount,
			AdminID:     gr.AdminID,
		})
	}
	return out, nil
}

func (c *Conversations) Handle(w http.ResponseWriter, r *http.Request) {
	list, err := c.List(r.Context(), identity(r))
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.OK(w, list)
}
