package chat

import (
	"context"
	"fmt"
	"strconv"

	"go-realtime-chat/internal/apperr"
)

// RoomKey identifies a fan-out target. Build it with PrivateKey,
// GroupKey or BroadcastKey, never by hand.
type RoomKey string

const BroadcastKey RoomKey = "broadcast"

// PrivateKey is order independent: both participants derive the same key.
func PrivateKey(a, b int64) RoomKey {
	if b < a {
		a, b = b, a
	}
	return RoomKey("private_" + strconv.FormatInt(a, 10) + "_" + strconv.FormatInt(b, 10))
}

func GroupKey(groupID int64) RoomKey {
	return RoomKey("group_" + strconv.FormatInt(groupID, 10))
}

// Room is a resolved fan-out target.
type Room struct {
	Kind ChatKind
	Key  RoomKey
	// GroupID is set for group rooms.
	GroupID int64
	// Pair holds the two participants of a private room, ascending.
	Pair [2]int64
}

func PrivateRoom(a, b int64) Room {
	if b < a {
		a, b = b, a
	}
	return Room{Kind: KindPrivate, Key: PrivateKey(a, b), Pair: [2]int64{a, b}}
}

func GroupRoom(groupID int64) Room {
	return Room{Kind: KindGroup, Key: GroupKey(groupID), GroupID: groupID}
}

func BroadcastRoom() Room {
	return Room{Kind: KindBroadcast, Key: BroadcastKey}
}

// Other returns the participant of a private room that is not userID.
func (r Room) Other(userID int64) int64 {
	if r.Pair[0] == userID {
		return r.Pair[1]
	}
	return r.Pair[0]
}

func (r Room) hasParticipant(userID int64) bool {
	return r.Pair[0] == userID || r.Pair[1] == userID
}

// RoomFor resolves a (kind, target) pair as seen by userID. For private
// chats target is the other user.
func RoomFor(kind ChatKind, userID, target int64) (Room, error) {
	switch kind {
	case KindPrivate:
		if target <= 0 || target == userID {
			return Room{}, fmt.Errorf("%w: invalid private chat target", apperr.ErrValidation)
		}
		return PrivateRoom(userID, target), nil
	case KindGroup:
		if target <= 0 {
			return Room{}, fmt.Errorf("%w: invalid group id", apperr.ErrValidation)
		}
		return GroupRoom(target), nil
	case KindBroadcast:
		return BroadcastRoom(), nil
	default:
		return Room{}, fmt.Errorf("%w: unknown chat type %q", apperr.ErrValidation, kind)
	}
}

// roomOf derives the room a stored message belongs to.
func roomOf(m *Message) Room {
	switch m.ChatKind {
	case KindPrivate:
		return PrivateRoom(m.SenderID, m.ChatRoomID)
	case KindGroup:
		return GroupRoom(m.ChatRoomID)
	default:
		return BroadcastRoom()
	}
}

// Membership is the group-membership source, backed by group_members.
type Membership interface {
	IsMember(ctx context.Context, groupID, userID int64) (bool, error)
	ListMemberIDs(ctx context.Context, groupID int64) ([]int64, error)
	GroupIDsForUser(ctx context.Context, userID int64) ([]int64, error)
}

// Resolver decides who may join a room and which live connections a
// room's events reach.
type Resolver struct {
	presence   *Registry
	membership Membership
}

func NewResolver(presence *Registry, membership Membership) *Resolver {
	return &Resolver{presence: presence, membership: membership}
}

func (r *Resolver) CanJoin(ctx context.Context, userID int64, room Room) (bool, error) {
	switch room.Kind {
	case KindPrivate:
		return room.hasParticipant(userID), nil
	case KindGroup:
		return r.membership.IsMember(ctx, room.GroupID, userID)
	case KindBroadcast:
		return true, nil
	default:
		return false, nil
	}
}

// Recipients returns the registered connections that should receive
// events for room.
func (r *Resolver) Recipients(ctx context.Context, room Room) ([]*Client, error) {
	switch room.Kind {
	case KindPrivate:
		var out []*Client
		for _, id := range room.Pair {
			if c, ok := r.presence.Lookup(id); ok {
				out = append(out, c)
			}
		}
		return out, nil
	case KindGroup:
		ids, err := r.membership.ListMemberIDs(ctx, room.GroupID)
		if err != nil {
			return nil, err
		}
		return r.presence.LookupAll(ids), nil
	case KindBroadcast:
		return r.presence.Clients(), nil
	default:
		return nil, nil
	}
}
