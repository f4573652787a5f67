package backend

import (
	"context"
	"errors"
	"sync"
	"time"

	manpower "github.com/Official-TiredRice-ch/FC-Manpower-1.0"
	"github.com/Official-TiredRice-ch/FC-Manpower-1.0/session"
)

// SubscribeSessionChanges delivers the client's session changes: events
// published for this client ID, sign-outs of the session it holds, and a
// refresh shortly before the access token expires.
func (c *Client) SubscribeSessionChanges(ctx context.Context) (manpower.Subscription, error) {
	inner, err := c.svc.notifier.Subscribe(ctx)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sub := &clientSubscription{
		client: c,
		inner:  inner,
		out:    make(chan manpower.SessionEvent, 8),
		cancel: cancel,
	}
	go sub.run(runCtx)
	return sub, nil
}

type clientSubscription struct {
	client *Client
	inner  *session.Subscription
	out    chan manpower.SessionEvent
	cancel context.CancelFunc
	once   sync.Once

	// sid is the session last delivered, owned by run.
	sid string
}

func (s *clientSubscription) Events() <-chan manpower.SessionEvent { return s.out }

func (s *clientSubscription) Close() error {
	var err error
	s.once.Do(func() {
		s.cancel()
		err = s.inner.Close()
	})
	return err
}

func (s *clientSubscription) run(ctx context.Context) {
	defer close(s.out)

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()
	var refreshC <-chan time.Time

	arm := func(sess *manpower.Session) {
		timer.Stop()
		refreshC = nil
		if sess == nil {
			s.sid = ""
			return
		}
		s.sid = sess.ID
		wait := time.Until(sess.ExpiresAt) - s.client.svc.cfg.RefreshSkew
		if wait < 0 {
			wait = 0
		}
		timer.Reset(wait)
		refreshC = timer.C
	}

	if sess, err := s.client.CurrentSession(ctx); err == nil {
		arm(sess)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-s.inner.C():
			if !ok {
				return
			}
			if !s.concerns(ev) {
				continue
			}
			out, deliver := s.translate(ctx, ev)
			if !deliver {
				continue
			}
			arm(out.Session)
			if !s.send(ctx, out) {
				return
			}
		case <-refreshC:
			refreshC = nil
			sess, err := s.client.Refresh(ctx)
			switch {
			case err == nil:
				// The TokenRefreshed event arrives through the notifier.
				arm(sess)
			case errors.Is(err, ErrSessionExpired):
				arm(nil)
				if !s.send(ctx, manpower.SessionEvent{Kind: manpower.EventSignedOut}) {
					return
				}
			default:
				s.client.svc.logger.Warn("background refresh failed", "client", s.client.id, "error", err)
				timer.Reset(s.client.svc.cfg.RefreshSkew / 2)
				refreshC = timer.C
			}
		}
	}
}

func (s *clientSubscription) concerns(ev session.Event) bool {
	if ev.ClientID != "" {
		return ev.ClientID == s.client.id
	}
	return ev.SessionID != "" && ev.SessionID == s.sid
}

func (s *clientSubscription) translate(ctx context.Context, ev session.Event) (manpower.SessionEvent, bool) {
	switch ev.Kind {
	case session.EventSignedOut:
		if ev.ClientID == "" {
			_ = s.client.svc.clearStorage(ctx, s.client.id, ev.SessionID)
		}
		return manpower.SessionEvent{Kind: manpower.EventSignedOut}, true
	case session.EventSignedIn, session.EventTokenRefreshed:
		sess, err := s.client.CurrentSession(ctx)
		if err != nil || sess == nil || sess.ID != ev.SessionID {
			return manpower.SessionEvent{}, false
		}
		kind := manpower.EventSignedIn
		if ev.Kind == session.EventTokenRefreshed {
			kind = manpower.EventTokenRefreshed
		}
		return manpower.SessionEvent{Kind: kind, Session: sess}, true
	default:
		return manpower.SessionEvent{}, false
	}
}

func (s *clientSubscription) send(ctx context.Context, ev manpower.SessionEvent) bool {
	select {
	case s.out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
