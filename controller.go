package manpower

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Official-TiredRice-ch/FC-Manpower-1.0/guard"
)

// Controller owns the session/profile state of one browsing context.
//
// State changes are serialized by one mutex. Store calls happen outside the lock;
// each resolution records the generation it started at and its result is
// discarded if the generation moved on (a logout or a newer notification).
type Controller struct {
	cfg         Config
	store       SessionStore
	policy      *guard.Policy
	machine     *guard.Machine
	provisioner *Provisioner
	logger      *slog.Logger
	inst        *Instruments
	ownsInst    bool

	// resolveMu serializes resolutions so a login and its own sign-in
	// notification never provision concurrently. Logout does not take it.
	resolveMu sync.Mutex

	mu    sync.Mutex
	state State
	gen   uint64
	// signOuts counts clears; a login whose credential check spans one is void.
	signOuts    uint64
	lastErr     error
	initialized bool
	closed      bool
	sub         Subscription
	watchers    map[uint64]chan State
	nextWatch   uint64

	runCtx    context.Context
	cancelRun context.CancelFunc
	wg        sync.WaitGroup
	teardown  sync.Once
}

type resolution struct {
	profile  *Profile
	degraded error
	identity *IdentityIncompleteError
}

func (r resolution) target() guard.Status {
	if r.identity != nil {
		return guard.Status{Phase: guard.Unauthenticated}
	}
	st := guard.Status{Phase: guard.Authenticated}
	if r.profile != nil {
		st.Role = r.profile.Role
	}
	return st
}

// Initialize subscribes to session changes, then resolves the current session.
// Loading is true until the first resolution finishes and is cleared even when
// the store fails. The returned subscription is also closed by Teardown.
func (c *Controller) Initialize(ctx context.Context) (Subscription, error) {
	c.mu.Lock()
	switch {
	case c.closed:
		c.mu.Unlock()
		return nil, ErrTornDown
	case c.initialized:
		c.mu.Unlock()
		return nil, ErrAlreadyInitialized
	}
	c.initialized = true
	c.state.Loading = true
	c.runCtx, c.cancelRun = context.WithCancel(context.WithoutCancel(ctx))
	c.broadcastLocked()
	c.mu.Unlock()
	c.inst.Metrics().Inc(MetricInitialize)

	sub, err := c.store.SubscribeSessionChanges(ctx)
	if err != nil {
		c.finishLoading()
		return nil, fmt.Errorf("%w: subscribe: %v", ErrStoreUnavailable, err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = sub.Close()
		return nil, ErrTornDown
	}
	c.sub = sub
	c.wg.Add(1)
	c.mu.Unlock()
	go c.consume(sub)

	defer c.finishLoading()

	sess, err := c.store.CurrentSession(ctx)
	if err != nil {
		c.logger.Warn("current session lookup failed", "error", err)
		return sub, nil
	}
	if sess == nil {
		return sub, nil
	}
	if err := sess.Validate(); err != nil {
		c.logger.Warn("ignoring malformed current session", "error", err)
		return sub, nil
	}

	c.resolveUnlessCurrent(ctx, EventInitialSession, sess)
	return sub, nil
}

// ResolveProfile reads the profile for subject without retrying. A missing record
// returns ErrProfileNotFound; a transport failure returns *ProfileLookupError.
func (c *Controller) ResolveProfile(ctx context.Context, subject string) (*Profile, error) {
	start := time.Now()
	prof, err := c.provisioner.Lookup(ctx, subject)
	c.inst.Metrics().Observe(MetricResolveLatency, time.Since(start))

	switch {
	case err == nil:
		c.inst.Metrics().Inc(MetricProfileResolved)
	case isNotFound(err):
		c.inst.Metrics().Inc(MetricProfileNotFound)
		c.logger.Info("no profile for subject", "subject", subject)
	default:
		c.inst.Metrics().Inc(MetricProfileLookupFailure)
		c.inst.emit(ctx, AuditProfileLookupFailure, &Session{Subject: subject}, false, err, nil)
		c.logger.Warn("profile lookup failed", "subject", subject, "error", err)
	}
	return prof, err
}

// OnSessionChanged applies one notification. Sign-in and initial-session events
// run provisioning; token refreshes re-read the profile; sign-out clears state.
func (c *Controller) OnSessionChanged(ctx context.Context, ev SessionEvent) {
	if c.isClosed() {
		return
	}
	c.inst.Metrics().Inc(MetricSessionChanged)

	if ev.Kind == EventSignedOut || ev.Session == nil {
		c.clear()
		return
	}
	if err := ev.Session.Validate(); err != nil {
		c.logger.Warn("ignoring malformed session notification", "kind", ev.Kind.String(), "error", err)
		return
	}
	c.resolveUnlessCurrent(ctx, ev.Kind, ev.Session)
}

// State returns a copy of the current session, profile and loading flag.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.clone()
}

// Status is the route guard's current phase and role.
func (c *Controller) Status() guard.Status {
	return c.machine.Status()
}

// Decide evaluates a view path against the current guard status.
func (c *Controller) Decide(path string) guard.Decision {
	return c.policy.Decide(path, c.machine.Status())
}

// Landing is the view for the current role.
func (c *Controller) Landing() string {
	return c.policy.Landing(c.machine.Status().Role)
}

// LastError is the most recent user-facing failure, cleared by a successful login.
func (c *Controller) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Watch returns a channel that receives the current State and every later
// change. Slow readers miss intermediate states but always see the latest.
func (c *Controller) Watch(buffer int) (<-chan State, func()) {
	if buffer <= 0 {
		buffer = c.cfg.WatchBuffer
	}
	ch := make(chan State, buffer)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		close(ch)
		return ch, func() {}
	}
	id := c.nextWatch
	c.nextWatch++
	c.watchers[id] = ch
	ch <- c.state.clone()

	return ch, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if w, ok := c.watchers[id]; ok {
			delete(c.watchers, id)
			close(w)
		}
	}
}

// Teardown closes the subscription, waits for the notification consumer and any
// federated sign-out, and closes every watcher. Audit events this controller
// emitted are delivered before it returns, bounded by Audit.FlushTimeout when
// the dispatcher is shared. It is safe to call more than once.
func (c *Controller) Teardown() {
	c.teardown.Do(func() {
		c.mu.Lock()
		c.closed = true
		sub := c.sub
		cancel := c.cancelRun
		for id, w := range c.watchers {
			delete(c.watchers, id)
			close(w)
		}
		c.mu.Unlock()

		if sub != nil {
			if err := sub.Close(); err != nil {
				c.logger.Warn("closing session subscription", "error", err)
			}
		}
		if cancel != nil {
			cancel()
		}
		c.wg.Wait()
		if c.ownsInst {
			c.inst.Close()
			return
		}
		if c.cfg.Audit.Enabled {
			ctx, cancel := context.WithTimeout(context.Background(), c.cfg.Audit.FlushTimeout)
			defer cancel()
			if err := c.inst.Flush(ctx); err != nil {
				c.logger.Warn("audit events still queued at teardown", "error", err)
			}
		}
	})
}

// MetricsSnapshot reads the counters, which may be shared with other controllers.
func (c *Controller) MetricsSnapshot() MetricsSnapshot {
	return c.inst.MetricsSnapshot()
}

// AuditDropped is how many audit events were lost to a full queue.
func (c *Controller) AuditDropped() uint64 {
	return c.inst.AuditDropped()
}

// AuditDroppedByType breaks AuditDropped down by event type.
func (c *Controller) AuditDroppedByType() map[string]uint64 {
	return c.inst.AuditDroppedByType()
}

func (c *Controller) consume(sub Subscription) {
	defer c.wg.Done()
	for ev := range sub.Events() {
		if c.isClosed() {
			return
		}
		c.OnSessionChanged(c.runCtx, ev)
	}
}

func (c *Controller) resolveUnlessCurrent(ctx context.Context, kind SessionEventKind, sess *Session) {
	c.resolveMu.Lock()
	defer c.resolveMu.Unlock()
	if c.alreadyCurrent(kind, sess) {
		c.logger.Debug("session already resolved", "kind", kind.String(), "session_id", sess.ID)
		return
	}
	c.resolveLocked(ctx, kind, sess)
}

// resolveLocked runs a full resolution for sess and commits it if still current.
func (c *Controller) resolveLocked(ctx context.Context, kind SessionEventKind, sess *Session) (resolution, bool) {
	return c.run(ctx, kind, sess, c.begin(kind, sess))
}

func (c *Controller) run(ctx context.Context, kind SessionEventKind, sess *Session, gen uint64) (resolution, bool) {
	var r resolution
	if kind == EventTokenRefreshed {
		prof, err := c.ResolveProfile(ctx, sess.Subject)
		r.profile = prof
		if err != nil && !isNotFound(err) {
			r.degraded = err
		}
	} else {
		start := time.Now()
		res, err := c.provisioner.Ensure(ctx, IdentityFromSession(sess))
		c.inst.Metrics().Observe(MetricResolveLatency, time.Since(start))
		c.auditProvisioning(ctx, sess, res, err)
		if err != nil {
			r.identity = asIdentityIncomplete(err)
		}
		r.profile = res.Profile
		r.degraded = res.Degraded()
	}

	return r, c.commit(gen, sess, r)
}

func (c *Controller) begin(kind SessionEventKind, sess *Session) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.beginLocked(kind, sess)
}

// beginUnlessSignedOut starts a resolution only if no sign-out happened after
// the caller observed signOuts == since.
func (c *Controller) beginUnlessSignedOut(kind SessionEventKind, sess *Session, since uint64) (uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.signOuts != since || c.closed {
		return 0, false
	}
	return c.beginLocked(kind, sess), true
}

func (c *Controller) beginLocked(kind SessionEventKind, sess *Session) uint64 {
	c.gen++
	prev := c.state.Session
	c.state.Session = sess.clone()
	if c.state.Profile != nil && c.state.Profile.ID != sess.Subject {
		c.state.Profile = nil
	}

	st := c.machine.Status()
	refreshing := kind == EventTokenRefreshed && st.Phase == guard.Authenticated &&
		prev != nil && prev.Subject == sess.Subject
	if !refreshing {
		c.driveLocked(guard.Status{Phase: guard.Authenticating})
	}
	c.broadcastLocked()
	return c.gen
}

func (c *Controller) commit(gen uint64, sess *Session, r resolution) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen || c.closed {
		c.inst.Metrics().Inc(MetricStaleDiscarded)
		c.logger.Debug("discarding stale resolution", "session_id", sess.ID)
		return false
	}

	c.state.Session = sess.clone()
	c.state.Profile = nil
	if r.profile != nil && r.profile.ID == sess.Subject {
		c.state.Profile = r.profile.clone()
	}
	if r.identity != nil {
		c.lastErr = r.identity
	}
	c.driveLocked(r.target())
	c.broadcastLocked()
	return true
}

// clear drops the session and profile and invalidates in-flight resolutions.
func (c *Controller) clear() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev := c.state.Session
	c.gen++
	c.signOuts++
	c.state.Session = nil
	c.state.Profile = nil
	c.driveLocked(guard.Status{Phase: guard.Unauthenticated})
	c.broadcastLocked()
	return prev
}

func (c *Controller) signOutCount() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.signOuts
}

func (c *Controller) alreadyCurrent(kind SessionEventKind, sess *Session) bool {
	if kind == EventTokenRefreshed {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	cur := c.state.Session
	return cur != nil && cur.ID == sess.ID && c.state.Profile != nil
}

func (c *Controller) finishLoading() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.state.Loading {
		return
	}
	c.state.Loading = false
	c.broadcastLocked()
}

// driveLocked walks the guard machine to target through legal transitions.
func (c *Controller) driveLocked(target guard.Status) {
	cur := c.machine.Status()
	if cur == target {
		return
	}

	var steps []guard.Event
	switch target.Phase {
	case guard.Unauthenticated:
		switch cur.Phase {
		case guard.Authenticated:
			steps = []guard.Event{guard.EventSignedOut}
		case guard.Authenticating:
			steps = []guard.Event{guard.EventFailed}
		}
	case guard.Authenticating:
		steps = []guard.Event{guard.EventBegin}
	case guard.Authenticated:
		if cur.Phase != guard.Authenticating {
			steps = append(steps, guard.EventBegin)
		}
		steps = append(steps, guard.EventResolved)
	}

	for _, ev := range steps {
		if _, err := c.machine.Fire(ev, target.Role); err != nil {
			c.logger.Error("guard transition rejected", "event", ev.String(), "from", cur.String(), "error", err)
			return
		}
	}
}

func (c *Controller) broadcastLocked() {
	if len(c.watchers) == 0 {
		return
	}
	snapshot := c.state.clone()
	for _, w := range c.watchers {
		select {
		case w <- snapshot:
			continue
		default:
		}
		select {
		case <-w:
		default:
		}
		select {
		case w <- snapshot:
		default:
		}
	}
}

func (c *Controller) setLastError(err error) {
	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()
}

func (c *Controller) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Controller) auditProvisioning(ctx context.Context, sess *Session, res ProvisionResult, err error) {
	switch {
	case err != nil:
		c.inst.emit(ctx, AuditIdentityIncomplete, sess, false, err, nil)
		c.logger.Warn("identity incomplete", "provider", sess.Provider, "subject", sess.Subject)
	case res.Partial != nil:
		c.inst.emit(ctx, AuditProvisioningPartial, sess, false, res.Partial, nil)
	case res.Created:
		c.inst.emit(ctx, AuditProfileProvisioned, sess, true, nil, map[string]string{"role": string(RoleEmployee)})
	case res.Reconciled:
		c.inst.emit(ctx, AuditProvisioningReconcile, sess, true, nil, nil)
	case res.LookupErr != nil:
		c.inst.emit(ctx, AuditProfileLookupFailure, sess, false, res.LookupErr, nil)
	}
}
