package session

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrRedisUnavailable    = errors.New("redis unavailable")
	ErrNotFound            = errors.New("session not found")
	ErrRefreshHashMismatch = errors.New("refresh hash mismatch")
	ErrRotateConflict      = errors.New("session changed during rotation")
)

const deleteSessionScript = `
local existed = redis.call("EXISTS", KEYS[1])
redis.call("SREM", KEYS[2], ARGV[1])
if existed == 1 then
  redis.call("DEL", KEYS[1])
end
return existed
`

var deleteSessionLua = redis.NewScript(deleteSessionScript)

// swapScript replaces the blob only if it is unchanged, keeping the remaining TTL.
const swapScript = `
local current = redis.call("GET", KEYS[1])
if not current then
  return 0
end
if current ~= ARGV[1] then
  return 2
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl <= 0 then
  return 0
end
redis.call("SET", KEYS[1], ARGV[2], "PX", ttl)
return 1
`

var swapLua = redis.NewScript(swapScript)

// Store persists session records keyed by session ID with a per-user index.
type Store struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

func NewStore(rdb redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = "mp"
	}
	return &Store{redis: rdb, prefix: prefix, now: time.Now}
}

func (s *Store) key(sessionID string) string {
	return s.prefix + ":sess:" + sessionID
}

func (s *Store) userKey(userID string) string {
	return s.prefix + ":user:" + userID
}

// Save writes r with the given TTL and indexes it under its user.
func (s *Store) Save(ctx context.Context, r *Record, ttl time.Duration) error {
	if ttl <= 0 {
		return errors.New("session ttl must be > 0")
	}
	data, err := Encode(r)
	if err != nil {
		return err
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(r.SessionID), data, ttl)
		pipe.SAdd(ctx, s.userKey(r.UserID), r.SessionID)
		pipe.Expire(ctx, s.userKey(r.UserID), ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Get returns the record or ErrNotFound. Records past ExpiresAt are deleted.
func (s *Store) Get(ctx context.Context, sessionID string) (*Record, error) {
	r, _, err := s.load(ctx, sessionID)
	return r, err
}

func (s *Store) load(ctx context.Context, sessionID string) (*Record, []byte, error) {
	data, err := s.redis.Get(ctx, s.key(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	r, err := Decode(data)
	if err != nil {
		return nil, nil, err
	}
	r.SessionID = sessionID

	if s.now().Unix() >= r.ExpiresAt {
		if err := s.deleteSessionAndIndex(ctx, r.UserID, sessionID); err != nil {
			return nil, nil, err
		}
		return nil, nil, ErrNotFound
	}
	return r, data, nil
}

// Rotate checks presented against the stored refresh hash and replaces it with
// next. A mismatch deletes the session, since the old token may have leaked.
func (s *Store) Rotate(ctx context.Context, sessionID string, presented, next [32]byte) (*Record, error) {
	r, raw, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if subtle.ConstantTimeCompare(r.RefreshHash[:], presented[:]) != 1 {
		if err := s.deleteSessionAndIndex(ctx, r.UserID, sessionID); err != nil {
			return nil, err
		}
		return nil, ErrRefreshHashMismatch
	}

	updated := *r
	updated.RefreshHash = next
	data, err := Encode(&updated)
	if err != nil {
		return nil, err
	}

	status, err := swapLua.Run(ctx, s.redis, []string{s.key(sessionID)}, raw, data).Int64()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	switch status {
	case 1:
		return &updated, nil
	case 2:
		return nil, ErrRotateConflict
	default:
		return nil, ErrNotFound
	}
}

// Delete removes a session. Deleting a missing session is not an error.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	data, err := s.redis.Get(ctx, s.key(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	r, err := Decode(data)
	if err != nil {
		return err
	}
	return s.deleteSessionAndIndex(ctx, r.UserID, sessionID)
}

// DeleteAllForUser removes every session of userID and returns their IDs.
func (s *Store) DeleteAllForUser(ctx context.Context, userID string) ([]string, error) {
	userKey := s.userKey(userID)
	sessionIDs, err := s.redis.SMembers(ctx, userKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, sid := range sessionIDs {
			pipe.Del(ctx, s.key(sid))
		}
		pipe.Del(ctx, userKey)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return sessionIDs, nil
}

func (s *Store) ActiveSessionIDs(ctx context.Context, userID string) ([]string, error) {
	ids, err := s.redis.SMembers(ctx, s.userKey(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return ids, nil
}

func (s *Store) deleteSessionAndIndex(ctx context.Context, userID, sessionID string) error {
	_, err := deleteSessionLua.Run(ctx, s.redis, []string{s.key(sessionID), s.userKey(userID)}, sessionID).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}
