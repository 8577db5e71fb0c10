package chat

import (
	"context"
	"sort"
	"sync"
	"time"

	"go-realtime-chat/internal/log"
)

// StatusWriter persists presence transitions to the user store.
type StatusWriter interface {
	SetUserOnlineStatus(ctx context.Context, userID int64, online bool, at time.Time) error
}

// Registry maps each user to their active connection. One entry per
// user; a later Register replaces the earlier handle.
type Registry struct {
	mu      sync.RWMutex
	entries map[int64]*Client

	status  StatusWriter
	timeout time.Duration
	writes  sync.WaitGroup
	now     func() time.Time
}

func NewRegistry(status StatusWriter, writeTimeout time.Duration) *Registry {
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	return &Registry{
		entries: make(map[int64]*Client),
		status:  status,
		timeout: writeTimeout,
		now:     time.Now,
	}
}

// Register installs c for its user and returns the handle it replaced.
func (r *Registry) Register(c *Client) *Client {
	r.mu.Lock()
	prev := r.entries[c.UserID]
	r.entries[c.UserID] = c
	r.mu.Unlock()

	r.persist(c.UserID, true)
	return prev
}

// Unregister removes the entry only while c is still the registered
// handle, so a stale disconnect cannot evict a newer connection.
func (r *Registry) Unregister(c *Client) bool {
	r.mu.Lock()
	cur, ok := r.entries[c.UserID]
	if !ok || cur != c {
		r.mu.Unlock()
		return false
	}
	delete(r.entries, c.UserID)
	r.mu.Unlock()

	r.persist(c.UserID, false)
	return true
}

func (r *Registry) Lookup(userID int64) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.entries[userID]
	return c, ok
}

// LookupAll returns the registered connections among userIDs.
func (r *Registry) LookupAll(userIDs []int64) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Client, 0, len(userIDs))
	for _, id := range userIDs {
		if c, ok := r.entries[id]; ok {
			out = append(out, c)
		}
	}
	return out
}

func (r *Registry) Clients() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Client, 0, len(r.entries))
	for _, c := range r.entries {
		out = append(out, c)
	}
	return out
}

// Snapshot is a point-in-time copy of the roster ordered by user id.
func (r *Registry) Snapshot() []OnlineUser {
	r.mu.RLock()
	out := make([]OnlineUser, 0, len(r.entries))
	for id, c := range r.entries {
		out = append(out, OnlineUser{UserID: id, Username: c.Username})
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// persist writes the transition in the background; failures are logged
// and never block the connection lifecycle.
func (r *Registry) persist(userID int64, online bool) {
	if r.status == nil {
		return
	}
	at := r.now()
	r.writes.Add(1)
	go func() {
		defer r.writes.Done()
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()
		if err := r.status.SetUserOnlineStatus(ctx, userID, online, at); err != nil {
			l := log.L()
			l.Warn().Err(err).Int64(log.FieldUserID, userID).Bool("online", online).
				Msg("failed to persist presence")
		}
	}()
}

// Wait blocks until in-flight status writes finish.
func (r *Registry) Wait() {
	r.writes.Wait()
}
