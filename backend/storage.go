package backend

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	manpower "github.com/Official-TiredRice-ch/FC-Manpower-1.0"
)

// storage is the per-client token slot, the server-side counterpart of a
// browser's local storage.
type storage struct {
	Access    string `redis:"access"`
	Refresh   string `redis:"refresh"`
	SessionID string `redis:"sid"`
}

func (s *Service) storageKey(clientID string) string {
	return s.cfg.Prefix + ":client:" + clientID
}

func (s *Service) readStorage(ctx context.Context, clientID string) (storage, bool, error) {
	var st storage
	res := s.rdb.HGetAll(ctx, s.storageKey(clientID))
	if err := res.Err(); err != nil && !errors.Is(err, redis.Nil) {
		return st, false, fmt.Errorf("%w: %v", manpower.ErrStoreUnavailable, err)
	}
	if len(res.Val()) == 0 {
		return st, false, nil
	}
	if err := res.Scan(&st); err != nil {
		return st, false, err
	}
	return st, st.Refresh != "" && st.SessionID != "", nil
}

func (s *Service) writeStorage(ctx context.Context, clientID string, st storage) error {
	key := s.storageKey(clientID)
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, "access", st.Access, "refresh", st.Refresh, "sid", st.SessionID)
		pipe.Expire(ctx, key, s.cfg.SessionTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", manpower.ErrStoreUnavailable, err)
	}
	return nil
}

// clearStorage removes the slot only if it still holds sessionID. An empty
// sessionID clears unconditionally.
func (s *Service) clearStorage(ctx context.Context, clientID, sessionID string) error {
	key := s.storageKey(clientID)
	if sessionID != "" {
		current, err := s.rdb.HGet(ctx, key, "sid").Result()
		if errors.Is(err, redis.Nil) || (err == nil && current != sessionID) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: %v", manpower.ErrStoreUnavailable, err)
		}
	}
	if err := s.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("%w: %v", manpower.ErrStoreUnavailable, err)
	}
	return nil
}
