package manpower

import (
	"errors"
	"io"
	"log/slog"

	"github.com/Official-TiredRice-ch/FC-Manpower-1.0/guard"
)

// Builder assembles a Controller. A Builder is single-use.
type Builder struct {
	config      Config
	store       SessionStore
	logger      *slog.Logger
	policy      *guard.Policy
	instruments *Instruments
	auditSink   AuditSink

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the whole configuration; it is validated by Build.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithStore sets the session store. It is required.
func (b *Builder) WithStore(store SessionStore) *Builder {
	b.store = store
	return b
}

// WithLogger sets the logger; nil discards output.
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithPolicy overrides guard.DefaultPolicy.
func (b *Builder) WithPolicy(policy *guard.Policy) *Builder {
	b.policy = policy
	return b
}

// WithInstruments shares counters and the audit dispatcher between controllers.
// The controller does not close shared instruments on Teardown.
func (b *Builder) WithInstruments(inst *Instruments) *Builder {
	b.instruments = inst
	return b
}

// WithAuditSink is used only when no shared Instruments are supplied.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// Build validates the configuration and returns the Controller.
func (b *Builder) Build() (*Controller, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	if b.store == nil {
		return nil, ErrNilStore
	}

	cfg := b.config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	policy := b.policy
	if policy == nil {
		policy = guard.DefaultPolicy()
	}

	inst, owns := b.instruments, false
	if inst == nil {
		inst, owns = NewInstruments(cfg, b.auditSink), true
	}

	b.built = true
	return &Controller{
		cfg:         cfg,
		store:       b.store,
		policy:      policy,
		machine:     guard.NewMachine(nil),
		provisioner: NewProvisioner(b.store, cfg.Provisioning, logger.With("component", "provisioning"), inst.Metrics()),
		logger:      logger.With("component", "controller"),
		inst:        inst,
		ownsInst:    owns,
		watchers:    make(map[uint64]chan State),
	}, nil
}
