package web

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	manpower "github.com/Official-TiredRice-ch/FC-Manpower-1.0"
	"github.com/Official-TiredRice-ch/FC-Manpower-1.0/guard"
)

var ErrRegistryClosed = errors.New("browsing-context registry closed")

// StoreFactory returns the session store of one browsing context.
type StoreFactory func(clientID string) manpower.SessionStore

type RegistryConfig struct {
	CookieName   string
	CookieSecure bool
	CookieMaxAge time.Duration
	// IdleTTL is how long a context may go unused before its controller is torn down.
	IdleTTL       time.Duration
	SweepInterval time.Duration

	Controller  manpower.Config
	Policy      *guard.Policy
	Instruments *manpower.Instruments
	Logger      *slog.Logger
}

func DefaultRegistryConfig() RegistryConfig {
	return RegistryConfig{
		CookieName:    "mp_client",
		CookieMaxAge:  30 * 24 * time.Hour,
		IdleTTL:       30 * time.Minute,
		SweepInterval: time.Minute,
		Controller:    manpower.DefaultConfig(),
	}
}

// Registry owns the controllers of live browsing contexts.
type Registry struct {
	cfg      RegistryConfig
	newStore StoreFactory
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.Mutex
	entries map[string]*browsingContext
	closed  bool
}

type browsingContext struct {
	id   string
	ctrl *manpower.Controller

	once    sync.Once
	initErr error

	lastSeen atomic.Int64
	// streams counts open event streams; a streaming context is never idle.
	streams atomic.Int32
}

func NewRegistry(newStore StoreFactory, cfg RegistryConfig) (*Registry, error) {
	if newStore == nil {
		return nil, errors.New("web: store factory required")
	}
	def := DefaultRegistryConfig()
	if cfg.CookieName == "" {
		cfg.CookieName = def.CookieName
	}
	if cfg.CookieMaxAge <= 0 {
		cfg.CookieMaxAge = def.CookieMaxAge
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = def.IdleTTL
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = def.SweepInterval
	}
	if cfg.Controller == (manpower.Config{}) {
		cfg.Controller = def.Controller
	}
	if cfg.Policy == nil {
		cfg.Policy = guard.DefaultPolicy()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Registry{
		cfg:      cfg,
		newStore: newStore,
		logger:   cfg.Logger,
		now:      time.Now,
		entries:  make(map[string]*browsingContext),
	}, nil
}

// Resolve returns the caller's browsing context, issuing a cookie to new
// browsers. It satisfies middleware.Resolver.
func (r *Registry) Resolve(w http.ResponseWriter, req *http.Request) (string, *manpower.Controller, error) {
	id := ""
	if c, err := req.Cookie(r.cfg.CookieName); err == nil {
		if parsed, err := uuid.Parse(c.Value); err == nil {
			id = parsed.String()
		}
	}
	if id == "" {
		id = uuid.NewString()
		http.SetCookie(w, &http.Cookie{
			Name:     r.cfg.CookieName,
			Value:    id,
			Path:     "/",
			MaxAge:   int(r.cfg.CookieMaxAge.Seconds()),
			HttpOnly: true,
			Secure:   r.cfg.CookieSecure,
			SameSite: http.SameSiteLaxMode,
		})
	}

	ctrl, err := r.Get(req.Context(), id)
	if err != nil {
		return "", nil, err
	}
	return id, ctrl, nil
}

// Get returns the initialized controller for id, creating it on first use.
func (r *Registry) Get(ctx context.Context, id string) (*manpower.Controller, error) {
	bc, err := r.entry(id)
	if err != nil {
		return nil, err
	}

	bc.once.Do(func() {
		_, bc.initErr = bc.ctrl.Initialize(context.WithoutCancel(ctx))
	})
	if bc.initErr != nil {
		r.evict(bc)
		return nil, bc.initErr
	}
	return bc.ctrl, nil
}

func (r *Registry) entry(id string) (*browsingContext, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrRegistryClosed
	}

	bc, ok := r.entries[id]
	if !ok {
		ctrl, err := manpower.New().
			WithConfig(r.cfg.Controller).
			WithStore(r.newStore(id)).
			WithLogger(r.logger.With("client", id)).
			WithPolicy(r.cfg.Policy).
			WithInstruments(r.cfg.Instruments).
			Build()
		if err != nil {
			return nil, err
		}
		bc = &browsingContext{id: id, ctrl: ctrl}
		r.entries[id] = bc
		r.logger.Debug("browsing context created", "client", id)
	}
	bc.lastSeen.Store(r.now().UnixNano())
	return bc, nil
}

// Hold marks id as streaming until the returned release is called.
func (r *Registry) Hold(id string) (release func()) {
	r.mu.Lock()
	bc, ok := r.entries[id]
	r.mu.Unlock()
	if !ok {
		return func() {}
	}
	bc.streams.Add(1)
	var once sync.Once
	return func() {
		once.Do(func() {
			bc.lastSeen.Store(r.now().UnixNano())
			bc.streams.Add(-1)
		})
	}
}

// Sweep tears down contexts idle since before now minus IdleTTL and reports
// how many were removed.
func (r *Registry) Sweep(now time.Time) int {
	cutoff := now.Add(-r.cfg.IdleTTL).UnixNano()

	r.mu.Lock()
	var idle []*browsingContext
	for id, bc := range r.entries {
		if bc.streams.Load() == 0 && bc.lastSeen.Load() < cutoff {
			delete(r.entries, id)
			idle = append(idle, bc)
		}
	}
	r.mu.Unlock()

	for _, bc := range idle {
		bc.ctrl.Teardown()
	}
	if len(idle) > 0 {
		r.logger.Debug("idle browsing contexts evicted", "count", len(idle))
	}
	return len(idle)
}

// Run sweeps on SweepInterval until ctx is done.
func (r *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(r.now())
		}
	}
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Close tears down every controller. Later lookups fail with ErrRegistryClosed.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	all := make([]*browsingContext, 0, len(r.entries))
	for id, bc := range r.entries {
		delete(r.entries, id)
		all = append(all, bc)
	}
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, bc := range all {
		bc := bc
		wg.Add(1)
		go func() {
			defer wg.Done()
			bc.ctrl.Teardown()
		}()
	}
	wg.Wait()
}

func (r *Registry) evict(bc *browsingContext) {
	r.mu.Lock()
	if cur, ok := r.entries[bc.id]; ok && cur == bc {
		delete(r.entries, bc.id)
	}
	r.mu.Unlock()
	bc.ctrl.Teardown()
}
