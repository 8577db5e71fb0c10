package chat

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go-realtime-chat/internal/apperr"
	"go-realtime-chat/internal/log"
)

// Hub owns live connections and room subscriptions and fans events out
// to them. Fan-out never blocks: a recipient whose buffer is full is
// dropped and evicted.
type Hub struct {
	presence   *Registry
	resolver   *Resolver
	evictStale bool

	mu      sync.RWMutex
	clients map[*Client]struct{}
	rooms   map[RoomKey]map[*Client]struct{}

	now func() time.Time
}

func NewHub(presence *Registry, resolver *Resolver, evictStale bool) *Hub {
	return &Hub{
		presence:   presence,
		resolver:   resolver,
		evictStale: evictStale,
		clients:    make(map[*Client]struct{}),
		rooms:      make(map[RoomKey]map[*Client]struct{}),
		now:        time.Now,
	}
}

// Connect registers an authenticated client. Other users hear userOnline
// only when this is the user's first live connection.
func (h *Hub) Connect(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	prev := h.presence.Register(c)
	if prev != nil && prev != c {
		if h.evictStale {
			c.logger.Info().Str("replaced_conn_id", prev.ID).Msg("closing stale connection")
			h.Disconnect(prev)
		} else {
			c.logger.Info().Str("replaced_conn_id", prev.ID).Msg("replaced registry entry")
		}
	} else {
		h.broadcastExcept(encodeEvent(EventUserOnline, actorPayload{UserID: c.UserID, Username: c.Username}), c.UserID)
	}

	h.deliver(c, encodeEvent(EventOnlineUsers, h.presence.Snapshot()))
	c.logger.Info().Msg("client connected")
}

// Disconnect drops every room subscription for c. userOffline is sent
// only if c was still the registered connection for its user.
func (h *Hub) Disconnect(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	for key := range c.rooms {
		h.unsubscribeLocked(c, key)
	}
	h.mu.Unlock()

	c.Close()

	if h.presence.Unregister(c) {
		h.broadcastExcept(encodeEvent(EventUserOffline, offlinePayload{
			UserID:   c.UserID,
			Username: c.Username,
			LastSeen: h.now(),
		}), c.UserID)
	}
	c.logger.Info().Msg("client disconnected")
}

// Join subscribes c to room after checking it may join.
func (h *Hub) Join(ctx context.Context, c *Client, room Room) error {
	ok, err := h.resolver.CanJoin(ctx, c.UserID, room)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: cannot join %s", apperr.ErrAuthorization, room.Key)
	}

	h.mu.Lock()
	if _, live := h.clients[c]; !live {
		h.mu.Unlock()
		return fmt.Errorf("%w: connection closed", apperr.ErrDelivery)
	}
	subs := h.rooms[room.Key]
	if subs == nil {
		subs = make(map[*Client]struct{})
		h.rooms[room.Key] = subs
	}
	subs[c] = struct{}{}
	c.rooms[room.Key] = room
	h.mu.Unlock()

	l := log.Ctx(ctx)
	l.Debug().Str(log.FieldRoom, string(room.Key)).Msg("joined room")

	switch room.Kind {
	case KindPrivate:
		if other, ok := h.presence.Lookup(room.Other(c.UserID)); ok {
			h.deliver(other, encodeEvent(EventPrivateChatJoined, actorPayload{UserID: c.UserID, Username: c.Username}))
		}
	case KindGroup:
		h.toSubscribers(room.Key, encodeEvent(EventUserJoinedGroup, groupPayload{
			UserID: c.UserID, Username: c.Username, GroupID: room.GroupID,
		}), c.UserID)
	}
	return nil
}

// Leave is unconditional.
func (h *Hub) Leave(c *Client, room Room) {
	h.mu.Lock()
	h.unsubscribeLocked(c, room.Key)
	h.mu.Unlock()

	if room.Kind == KindGroup {
		h.toSubscribers(room.Key, encodeEvent(EventUserLeftGroup, groupPayload{
			UserID: c.UserID, Username: c.Username, GroupID: room.GroupID,
		}), c.UserID)
	}
}

func (h *Hub) unsubscribeLocked(c *Client, key RoomKey) {
	if subs, ok := h.rooms[key]; ok {
		delete(subs, c)
		if len(subs) == 0 {
			delete(h.rooms, key)
		}
	}
	delete(c.rooms, key)
}

// Typing relays a typing indicator to the room, skipping all of the
// sender's connections. Group indicators require a subscription.
func (h *Hub) Typing(ctx context.Context, c *Client, room Room, chatRoom int64, started bool) error {
	if room.Kind == KindGroup && !h.subscribed(c, room.Key) {
		return fmt.Errorf("%w: join the group before typing", apperr.ErrAuthorization)
	}
	event := EventUserStoppedTyping
	if started {
		event = EventUserTyping
	}
	h.Deliver(ctx, room, encodeEvent(event, typingPayload{
		UserID:   c.UserID,
		Username: c.Username,
		ChatType: room.Kind,
		ChatRoom: chatRoom,
	}), c.UserID)
	return nil
}

func (h *Hub) subscribed(c *Client, key RoomKey) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.rooms[key][c]
	return ok
}

// Deliver pushes msg to the room's subscribers plus every registered
// connection the resolver returns for it, once each. Connections of
// excludeUser are skipped; pass 0 to reach everyone. Per-recipient
// failures are logged and swallowed.
func (h *Hub) Deliver(ctx context.Context, room Room, msg []byte, excludeUser int64) int {
	targets := h.targets(ctx, room)
	n := 0
	for _, c := range targets {
		if c.UserID == excludeUser {
			continue
		}
		if h.deliver(c, msg) {
			n++
		}
	}
	return n
}

func (h *Hub) targets(ctx context.Context, room Room) []*Client {
	seen := make(map[*Client]struct{})
	var out []*Client
	add := func(c *Client) {
		if _, dup := seen[c]; !dup {
			seen[c] = struct{}{}
			out = append(out, c)
		}
	}

	h.mu.RLock()
	if room.Kind == KindBroadcast {
		for c := range h.clients {
			add(c)
		}
	}
	for c := range h.rooms[room.Key] {
		add(c)
	}
	h.mu.RUnlock()

	resolved, err := h.resolver.Recipients(ctx, room)
	if err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Str(log.FieldRoom, string(room.Key)).
			Msg("recipient resolution failed, delivering to subscribers only")
	}
	for _, c := range resolved {
		add(c)
	}
	return out
}

func (h *Hub) toSubscribers(key RoomKey, msg []byte, excludeUser int64) {
	h.mu.RLock()
	subs := make([]*Client, 0, len(h.rooms[key]))
	for c := range h.rooms[key] {
		if c.UserID != excludeUser {
			subs = append(subs, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range subs {
		h.deliver(c, msg)
	}
}

func (h *Hub) broadcastExcept(msg []byte, excludeUser int64) {
	h.mu.RLock()
	all := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		if c.UserID != excludeUser {
			all = append(all, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range all {
		h.deliver(c, msg)
	}
}

// deliver reports whether msg was queued. A connection that cannot keep
// up is disconnected.
func (h *Hub) deliver(c *Client, msg []byte) bool {
	err := c.push(msg)
	if err == nil {
		return true
	}
	c.logger.Warn().Err(err).Msg("dropping event")
	if !c.isClosed() {
		go h.Disconnect(c)
	}
	return false
}

// MemberRemoved unsubscribes the user's connections from the group room
// and tells the remaining subscribers.
func (h *Hub) MemberRemoved(groupID, userID int64) {
	key := GroupKey(groupID)

	h.mu.Lock()
	removed := false
	for c := range h.rooms[key] {
		if c.UserID == userID {
			h.unsubscribeLocked(c, key)
			removed = true
		}
	}
	h.mu.Unlock()

	if !removed {
		return
	}
	username := ""
	if c, ok := h.presence.Lookup(userID); ok {
		username = c.Username
	}
	h.toSubscribers(key, encodeEvent(EventUserLeftGroup, groupPayload{
		UserID: userID, Username: username, GroupID: groupID,
	}), userID)
}

// GroupDeleted drops the group room and tells each connection that was
// subscribed to it.
func (h *Hub) GroupDeleted(groupID int64) {
	key := GroupKey(groupID)

	h.mu.Lock()
	subs := make([]*Client, 0, len(h.rooms[key]))
	for c := range h.rooms[key] {
		delete(c.rooms, key)
		subs = append(subs, c)
	}
	delete(h.rooms, key)
	h.mu.Unlock()

	msg := encodeEvent(EventGroupDeleted, groupDeletedPayload{GroupID: groupID})
	for _, c := range subs {
		h.deliver(c, msg)
	}
}

// Online is the current roster.
func (h *Hub) Online() []OnlineUser {
	return h.presence.Snapshot()
}

type HubStats struct {
	Connections   int `json:"connections"`
	Registered    int `json:"registeredUsers"`
	Rooms         int `json:"rooms"`
	Subscriptions int `json:"subscriptions"`
}

func (h *Hub) Stats() HubStats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s := HubStats{Connections: len(h.clients), Registered: h.presence.Len(), Rooms: len(h.rooms)}
	for _, subs := range h.rooms {
		s.Subscriptions += len(subs)
	}
	return s
}

// Shutdown closes every connection. The write pumps send close frames.
func (h *Hub) Shutdown() {
	h.mu.RLock()
	all := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		all = append(all, c)
	}
	h.mu.RUnlock()

	for _, c := range all {
		c.Close()
	}
	h.presence.Wait()
}
