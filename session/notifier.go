package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// EventKind names a session change broadcast on the notifier channel.
type EventKind string

const (
	EventSignedIn       EventKind = "SIGNED_IN"
	EventSignedOut      EventKind = "SIGNED_OUT"
	EventTokenRefreshed EventKind = "TOKEN_REFRESHED"
)

// Event is the JSON payload published for every session change. ClientID
// scopes the event to one browser; an empty ClientID targets every client of UserID.
type Event struct {
	Kind      EventKind `json:"kind"`
	ClientID  string    `json:"client_id,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	UserID    string    `json:"user_id"`
	At        time.Time `json:"at"`
}

// Notifier publishes and receives session events over Redis pub/sub.
type Notifier struct {
	redis   redis.UniversalClient
	channel string
}

func NewNotifier(rdb redis.UniversalClient, prefix string) *Notifier {
	if prefix == "" {
		prefix = "mp"
	}
	return &Notifier{redis: rdb, channel: prefix + ":events"}
}

func (n *Notifier) Channel() string { return n.channel }

func (n *Notifier) Publish(ctx context.Context, ev Event) error {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := n.redis.Publish(ctx, n.channel, payload).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Subscription delivers decoded events until Close is called.
type Subscription struct {
	ps   *redis.PubSub
	out  chan Event
	once sync.Once
	done chan struct{}
}

// Subscribe blocks until Redis confirms the subscription.
func (n *Notifier) Subscribe(ctx context.Context) (*Subscription, error) {
	ps := n.redis.Subscribe(ctx, n.channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	s := &Subscription{
		ps:   ps,
		out:  make(chan Event, 16),
		done: make(chan struct{}),
	}
	go s.run()
	return s, nil
}

func (s *Subscription) run() {
	defer close(s.out)
	for msg := range s.ps.Channel() {
		var ev Event
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			continue
		}
		select {
		case s.out <- ev:
		case <-s.done:
			return
		}
	}
}

// C returns the event channel. It is closed after Close.
func (s *Subscription) C() <-chan Event { return s.out }

func (s *Subscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.ps.Close()
		if errors.Is(err, redis.ErrClosed) {
			err = nil
		}
	})
	return err
}
