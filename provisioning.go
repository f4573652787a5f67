package manpower

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
)

// Identity is what provisioning needs to know about an authenticated subject.
type Identity struct {
	Subject  string
	Email    string
	FullName string
	Provider string
}

// IdentityFromSession copies the provisioning fields out of a session.
func IdentityFromSession(s *Session) Identity {
	if s == nil {
		return Identity{}
	}
	return Identity{Subject: s.Subject, Email: s.Email, FullName: s.FullName, Provider: s.Provider}
}

// ProvisionResult describes what Ensure did. Profile is nil only when the
// lookup failed, in which case LookupErr is set and nothing was written.
type ProvisionResult struct {
	Profile    *Profile
	Created    bool
	Reconciled bool
	Partial    *ProvisioningPartialFailure
	LookupErr  *ProfileLookupError
}

// Degraded returns the swallowed failure, if any.
func (r ProvisionResult) Degraded() error {
	switch {
	case r.LookupErr != nil:
		return r.LookupErr
	case r.Partial != nil:
		return r.Partial
	default:
		return nil
	}
}

// Provisioner guarantees a profile exists for an authenticated identity.
// New profiles always get RoleEmployee.
type Provisioner struct {
	store   ProfileStore
	cfg     ProvisioningConfig
	logger  *slog.Logger
	metrics *Metrics
}

func NewProvisioner(store ProfileStore, cfg ProvisioningConfig, logger *slog.Logger, metrics *Metrics) *Provisioner {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.WriteAttempts < 1 {
		cfg.WriteAttempts = 1
	}
	if strings.TrimSpace(cfg.DefaultFullName) == "" {
		cfg.DefaultFullName = "No Name"
	}
	if cfg.EmployeeStatus == "" {
		cfg.EmployeeStatus = StatusActive
	}
	return &Provisioner{store: store, cfg: cfg, logger: logger, metrics: metrics}
}

// Lookup reads the profile for subject. A missing record yields ErrProfileNotFound;
// a transport failure yields *ProfileLookupError.
func (p *Provisioner) Lookup(ctx context.Context, subject string) (*Profile, error) {
	prof, err := p.store.GetProfile(ctx, subject)
	switch {
	case err == nil:
	case errors.Is(err, ErrProfileNotFound):
		return nil, ErrProfileNotFound
	case errors.Is(err, ErrMalformedProfile):
		return nil, err
	default:
		return nil, &ProfileLookupError{Subject: subject, Err: err}
	}
	if err := prof.Validate(); err != nil {
		return nil, err
	}
	if prof.ID != subject {
		return nil, errors.Join(ErrMalformedProfile, errors.New("profile id does not match subject"))
	}
	return prof, nil
}

// Ensure runs post-login provisioning for id. The only returned error is
// *IdentityIncompleteError; every other failure is reported in the result.
func (p *Provisioner) Ensure(ctx context.Context, id Identity) (ProvisionResult, error) {
	if strings.TrimSpace(id.Email) == "" {
		p.metrics.Inc(MetricIdentityIncomplete)
		return ProvisionResult{}, &IdentityIncompleteError{Provider: id.Provider, Subject: id.Subject}
	}

	prof, err := p.Lookup(ctx, id.Subject)
	switch {
	case err == nil:
		p.metrics.Inc(MetricProfileResolved)
		res := ProvisionResult{Profile: prof}
		if p.cfg.ReconcileOnLogin {
			p.reconcile(ctx, id, prof, &res)
		}
		return res, nil
	case errors.Is(err, ErrProfileNotFound):
		p.metrics.Inc(MetricProfileNotFound)
	default:
		// Writing over a profile we failed to read could demote an admin.
		p.metrics.Inc(MetricProfileLookupFailure)
		p.logger.Warn("profile lookup failed; skipping provisioning", "subject", id.Subject, "error", err)
		var lookupErr *ProfileLookupError
		if !errors.As(err, &lookupErr) {
			lookupErr = &ProfileLookupError{Subject: id.Subject, Err: err}
		}
		return ProvisionResult{LookupErr: lookupErr}, nil
	}

	return p.create(ctx, id), nil
}

func (p *Provisioner) create(ctx context.Context, id Identity) ProvisionResult {
	name := strings.TrimSpace(id.FullName)
	if name == "" {
		name = p.cfg.DefaultFullName
	}
	prof := &Profile{ID: id.Subject, FullName: name, Role: RoleEmployee, Status: p.cfg.EmployeeStatus}

	profileErr := p.retry(ctx, func() error {
		return p.store.UpsertProfile(ctx, *prof)
	})
	employeeErr := p.retry(ctx, func() error {
		return p.store.UpsertEmployee(ctx, p.employeeRecord(id, prof))
	})

	res := ProvisionResult{Profile: prof, Created: profileErr == nil}
	if profileErr != nil || employeeErr != nil {
		res.Partial = &ProvisioningPartialFailure{Subject: id.Subject, ProfileErr: profileErr, EmployeeErr: employeeErr}
		p.metrics.Inc(MetricProvisioningPartial)
		p.logger.Error("profile provisioning incomplete", "subject", id.Subject, "profile_error", profileErr, "employee_error", employeeErr)
		return res
	}

	p.metrics.Inc(MetricProfileProvisioned)
	p.logger.Info("profile provisioned", "subject", id.Subject, "provider", id.Provider)
	return res
}

// reconcile repairs an employee record lost to an earlier partial failure.
func (p *Provisioner) reconcile(ctx context.Context, id Identity, prof *Profile, res *ProvisionResult) {
	exists, err := p.store.EmployeeExists(ctx, id.Subject)
	if err != nil {
		p.logger.Warn("employee record check failed", "subject", id.Subject, "error", err)
		return
	}
	if exists {
		return
	}

	err = p.retry(ctx, func() error {
		return p.store.UpsertEmployee(ctx, p.employeeRecord(id, prof))
	})
	if err != nil {
		res.Partial = &ProvisioningPartialFailure{Subject: id.Subject, EmployeeErr: err}
		p.metrics.Inc(MetricProvisioningPartial)
		p.logger.Error("employee record reconcile failed", "subject", id.Subject, "error", err)
		return
	}
	res.Reconciled = true
	p.metrics.Inc(MetricProvisioningReconciled)
	p.logger.Info("employee record reconciled", "subject", id.Subject)
}

func (p *Provisioner) employeeRecord(id Identity, prof *Profile) EmployeeRecord {
	status := prof.Status
	if status == "" {
		status = p.cfg.EmployeeStatus
	}
	return EmployeeRecord{
		ID:            prof.ID,
		FullName:      prof.FullName,
		Email:         strings.TrimSpace(id.Email),
		Role:          prof.Role,
		Department:    prof.Department,
		ContactNumber: prof.ContactNumber,
		Status:        status,
	}
}

func (p *Provisioner) retry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < p.cfg.WriteAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return errors.Join(err, ctx.Err())
		}
	}
	return err
}
