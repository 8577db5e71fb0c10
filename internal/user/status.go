package user

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// StatusRecorder persists presence transitions. The users row is the
// source of truth; Redis keeps an online set and a last-seen hash so
// stats do not scan the users table.
type StatusRecorder struct {
	repo   *Repository
	rdb    *redis.Client
	prefix string
}

func NewStatusRecorder(repo *Repository, rdb *redis.Client, keyPrefix string) *StatusRecorder {
	return &StatusRecorder{repo: repo, rdb: rdb, prefix: keyPrefix}
}

func (s *StatusRecorder) onlineKey() string   { return s.prefix + ":online" }
func (s *StatusRecorder) lastSeenKey() string { return s.prefix + ":last_seen" }

func (s *StatusRecorder) SetUserOnlineStatus(ctx context.Context, userID int64, online bool, at time.Time) error {
	applied, err := s.repo.SetOnlineStatus(ctx, userID, online, at)
	if err != nil {
		return err
	}
	if !applied || s.rdb == nil {
		return nil
	}

	return s.mirror(ctx, userID, online, at)
}

// mirrorScript applies a transition only when no newer last-seen is
// stored, so the set can't regress when two mirrors race after their
// Postgres writes.
var mirrorScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[2], ARGV[1])
if cur and tonumber(cur) > tonumber(ARGV[3]) then
	return 0
end
if ARGV[2] == '1' then
	redis.call('SADD', KEYS[1], ARGV[1])
else
	redis.call('SREM', KEYS[1], ARGV[1])
end
redis.call('HSET', KEYS[2], ARGV[1], ARGV[3])
return 1
`)

func (s *StatusRecorder) mirror(ctx context.Context, userID int64, online bool, at time.Time) error {
	flag := "0"
	if online {
		flag = "1"
	}
	keys := []string{s.onlineKey(), s.lastSeenKey()}
	return mirrorScript.Run(ctx, s.rdb, keys, strconv.FormatInt(userID, 10), flag, at.UnixMilli()).Err()
}

// OnlineCount reads the Redis online set, falling back to Postgres.
func (s *StatusRecorder) OnlineCount(ctx context.Context) (int64, error) {
	if s.rdb != nil {
		if n, err := s.rdb.SCard(ctx, s.onlineKey()).Result(); err == nil {
			return n, nil
		}
	}
	return s.repo.CountOnline(ctx)
}

// LastSeen returns the mirrored last-seen time, if any.
func (s *StatusRecorder) LastSeen(ctx context.Context, userID int64) (time.Time, bool, error) {
	if s.rdb == nil {
		return time.Time{}, false, nil
	}
	v, err := s.rdb.HGet(ctx, s.lastSeenKey(), strconv.FormatInt(userID, 10)).Int64()
	if err == redis.Nil {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(v), true, nil
}

// Reset clears the mirror and the users.is_online flags.
func (s *StatusRecorder) Reset(ctx context.Context) error {
	if s.rdb != nil {
		if err := s.rdb.Del(ctx, s.onlineKey()).Err(); err != nil {
			return err
		}
	}
	return s.repo.ResetOnline(ctx)
}
