package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"go-realtime-chat/internal/apperr"
	"go-realtime-chat/internal/config"
	myMiddleware "go-realtime-chat/internal/middleware"
	"go-realtime-chat/internal/user"

	"github.com/stretchr/testify/require"
)

// memStore is an in-memory Store.
type memStore struct {
	mu         sync.Mutex
	next       int64
	msgs       map[int64]*Message
	reads      map[[2]int64]time.Time
	users      map[int64]*user.User
	base       time.Time
	failCreate error
	// blockCreate makes Create wait for its context to end.
	blockCreate bool
	// afterGet runs after GetByID returns its copy.
	afterGet func()
}

func newMemStore(users map[int64]*user.User) *memStore {
	return &memStore{
		msgs:  make(map[int64]*Message),
		reads: make(map[[2]int64]time.Time),
		users: users,
		base:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (s *memStore) hydrate(m *Message) Message {
	cp := *m
	if u, ok := s.users[m.SenderID]; ok {
		cp.SenderUsername = u.Username
		cp.SenderRole = u.Role
	}
	cp.ReadBy = []ReadReceipt{}
	for k, at := range s.reads {
		if k[0] == m.ID {
			cp.ReadBy = append(cp.ReadBy, ReadReceipt{UserID: k[1], ReadAt: at})
		}
	}
	return cp
}

func (s *memStore) Create(ctx context.Context, m *Message) (*Message, error) {
	if s.blockCreate {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failCreate != nil {
		return nil, s.failCreate
	}
	s.next++
	stored := *m
	stored.ID = s.next
	stored.CreatedAt = s.base.Add(time.Duration(s.next) * time.Millisecond)
	stored.UpdatedAt = stored.CreatedAt
	s.msgs[stored.ID] = &stored
	out := s.hydrate(&stored)
	return &out, nil
}

func (s *memStore) GetByID(_ context.Context, id int64) (*Message, error) {
	s.mu.Lock()
	m, ok := s.msgs[id]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: message", apperr.ErrNotFound)
	}
	out := s.hydrate(m)
	hook := s.afterGet
	s.mu.Unlock()
	if hook != nil {
		hook()
	}
	return &out, nil
}

func (s *memStore) UpdateContent(_ context.Context, id int64, content string, editedAt time.Time) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.msgs[id]
	if !ok || m.IsDeleted {
		return nil, fmt.Errorf("%w: message", apperr.ErrNotFound)
	}
	m.Content = content
	m.EditedAt = &editedAt
	out := s.hydrate(m)
	return &out, nil
}

func (s *memStore) SoftDelete(_ context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.msgs[id]
	if !ok {
		return false, fmt.Errorf("%w: message", apperr.ErrNotFound)
	}
	if m.IsDeleted {
		return false, nil
	}
	m.IsDeleted = true
	return true, nil
}

func (s *memStore) sorted(keep func(*Message) bool) []Message {
	var out []Message
	for _, m := range s.msgs {
		if keep(m) {
			out = append(out, s.hydrate(m))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *memStore) ListRoom(_ context.Context, key RoomKey, limit, offset int) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	asc := s.sorted(func(m *Message) bool { return m.RoomKey == key && !m.IsDeleted })
	var desc []Message
	for i := len(asc) - 1; i >= 0; i-- {
		desc = append(desc, asc[i])
	}
	if offset >= len(desc) {
		return nil, nil
	}
	desc = desc[offset:]
	if len(desc) > limit {
		desc = desc[:limit]
	}
	return desc, nil
}

func (s *memStore) ListSince(_ context.Context, userID int64, groupIDs []int64, since int64, limit int) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	groups := map[int64]bool{}
	for _, g := range groupIDs {
		groups[g] = true
	}
	out := s.sorted(func(m *Message) bool {
		if m.ID <= since || m.IsDeleted {
			return false
		}
		switch m.ChatKind {
		case KindPrivate:
			return m.SenderID == userID || m.ChatRoomID == userID
		case KindGroup:
			return groups[m.ChatRoomID]
		default:
			return true
		}
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) MarkRead(_ context.Context, userID int64, ids []int64) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Message
	for _, id := range ids {
		m, ok := s.msgs[id]
		if !ok || m.IsDeleted || m.SenderID == userID {
			continue
		}
		k := [2]int64{id, userID}
		if _, dup := s.reads[k]; dup {
			continue
		}
		s.reads[k] = time.Now()
		out = append(out, *m)
	}
	return out, nil
}

func (s *memStore) CountUnread(_ context.Context, key RoomKey, userID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, m := range s.msgs {
		if m.RoomKey == key && m.SenderID != userID && !m.IsDeleted {
			if _, read := s.reads[[2]int64{m.ID, userID}]; !read {
				n++
			}
		}
	}
	return n, nil
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.msgs)
}

func (s *memStore) receipts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.reads)
}

type fakeMembership struct {
	mu      sync.Mutex
	members map[int64]map[int64]bool
	err     error
}

func newFakeMembership() *fakeMembership {
	return &fakeMembership{members: map[int64]map[int64]bool{}}
}

func (f *fakeMembership) add(groupID int64, userIDs ...int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.members[groupID] == nil {
		f.members[groupID] = map[int64]bool{}
	}
	for _, id := range userIDs {
		f.members[groupID][id] = true
	}
}

func (f *fakeMembership) IsMember(_ context.Context, groupID, userID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.members[groupID][userID], nil
}

func (f *fakeMembership) ListMemberIDs(_ context.Context, groupID int64) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	var ids []int64
	for id := range f.members[groupID] {
		ids = append(ids, id)
	}
	return ids, nil
}

func (f *fakeMembership) GroupIDsForUser(_ context.Context, userID int64) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []int64
	for g, set := range f.members {
		if set[userID] {
			ids = append(ids, g)
		}
	}
	return ids, nil
}

type fakeUsers map[int64]*user.User

func (f fakeUsers) FindUserByID(_ context.Context, id int64) (*user.User, error) {
	u, ok := f[id]
	if !ok {
		return nil, fmt.Errorf("%w: user", apperr.ErrNotFound)
	}
	return u, nil
}

type statusCall struct {
	UserID int64
	Online bool
}

type fakeStatus struct {
	mu    sync.Mutex
	calls []statusCall
	err   error
}

func (f *fakeStatus) SetUserOnlineStatus(_ context.Context, userID int64, online bool, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, statusCall{UserID: userID, Online: online})
	return f.err
}

func (f *fakeStatus) snapshot() []statusCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]statusCall(nil), f.calls...)
}

type testEnv struct {
	registry   *Registry
	resolver   *Resolver
	hub        *Hub
	service    *Service
	store      *memStore
	membership *fakeMembership
	users      fakeUsers
	status     *fakeStatus
}

var testChatConfig = config.ChatConfig{
	EvictStaleConnections: true,
	HistoryLimit:          50,
	MaxHistoryLimit:       200,
	BroadcastHistoryLimit: 50,
	MaxContentLength:      100,
	ResyncLimit:           3,
	StatusWriteTimeout:    time.Second,
}

func newTestEnv(t *testing.T, evictStale bool) *testEnv {
	t.Helper()
	cfg := testChatConfig
	cfg.EvictStaleConnections = evictStale
	return newTestEnvWith(t, cfg)
}

func newTestEnvWith(t *testing.T, cfg config.ChatConfig) *testEnv {
	t.Helper()
	users := fakeUsers{
		1:  {ID: 1, Username: "alice", Role: user.RoleUser},
		2:  {ID: 2, Username: "bob", Role: user.RoleUser},
		3:  {ID: 3, Username: "carol", Role: user.RoleUser},
		99: {ID: 99, Username: "admin", Role: user.RoleAdmin},
	}
	status := &fakeStatus{}
	registry := NewRegistry(status, time.Second)
	membership := newFakeMembership()
	resolver := NewResolver(registry, membership)
	hub := NewHub(registry, resolver, cfg.EvictStaleConnections)
	store := newMemStore(users)
	service := NewService(store, users, membership, hub, cfg)
	return &testEnv{
		registry:   registry,
		resolver:   resolver,
		hub:        hub,
		service:    service,
		store:      store,
		membership: membership,
		users:      users,
		status:     status,
	}
}

func (e *testEnv) identity(id int64) myMiddleware.Identity {
	u := e.users[id]
	return myMiddleware.Identity{UserID: u.ID, Username: u.Username, Role: u.Role}
}

// client builds a connection without a transport; events are read
// straight from its send buffer.
func (e *testEnv) client(id int64) *Client {
	return newClient(e.hub, e.service, nil, e.identity(id), config.WebSocketConfig{SendBuffer: 256})
}

func (e *testEnv) connect(id int64) *Client {
	c := e.client(id)
	e.hub.Connect(c)
	return c
}

type received struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// drain returns every queued event without blocking.
func drain(t *testing.T, c *Client) []received {
	t.Helper()
	var out []received
	for {
		select {
		case raw, ok := <-c.send:
			if !ok {
				return out
			}
			var ev received
			require.NoError(t, json.Unmarshal(raw, &ev))
			out = append(out, ev)
		default:
			return out
		}
	}
}

func types(evs []received) []string {
	out := make([]string, len(evs))
	for i, ev := range evs {
		out[i] = ev.Type
	}
	return out
}

func only(t *testing.T, evs []received, eventType string) []received {
	t.Helper()
	var out []received
	for _, ev := range evs {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}

func decode[T any](t *testing.T, ev received) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(ev.Data, &v))
	return v
}
