package manpower

import (
	"errors"
	"strings"
	"time"
)

// Config holds controller settings. Start from DefaultConfig and override.
type Config struct {
	Provisioning ProvisioningConfig
	Audit        AuditConfig
	Metrics      MetricsConfig

	// FederatedLogoutTimeout bounds the best-effort provider sign-out started by Logout.
	FederatedLogoutTimeout time.Duration
	// WatchBuffer is the default channel size handed out by Watch.
	WatchBuffer int
}

// ProvisioningConfig controls post-login profile creation.
type ProvisioningConfig struct {
	DefaultFullName string
	// WriteAttempts is how many times each of the two provisioning writes is tried.
	WriteAttempts int
	// EmployeeStatus is the status written on a newly provisioned employee record.
	EmployeeStatus string
	// ReconcileOnLogin re-creates a missing employee record for an existing profile.
	ReconcileOnLogin bool
}

type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
	// FlushTimeout bounds how long Teardown waits for this controller's events
	// to reach a sink shared with other controllers.
	FlushTimeout time.Duration
}

type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

func DefaultConfig() Config {
	return Config{
		Provisioning: ProvisioningConfig{
			DefaultFullName:  "No Name",
			WriteAttempts:    2,
			EmployeeStatus:   StatusActive,
			ReconcileOnLogin: true,
		},
		Audit: AuditConfig{
			Enabled:      false,
			BufferSize:   256,
			DropIfFull:   true,
			FlushTimeout: time.Second,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: true,
		},
		FederatedLogoutTimeout: 3 * time.Second,
		WatchBuffer:            8,
	}
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Provisioning.DefaultFullName) == "" {
		return errors.New("Provisioning DefaultFullName must not be empty")
	}
	if c.Provisioning.WriteAttempts < 1 || c.Provisioning.WriteAttempts > 5 {
		return errors.New("Provisioning WriteAttempts must be between 1 and 5")
	}
	if c.Provisioning.EmployeeStatus == "" {
		return errors.New("Provisioning EmployeeStatus must not be empty")
	}
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}
	if c.Audit.Enabled && c.Audit.FlushTimeout <= 0 {
		return errors.New("Audit FlushTimeout must be > 0 when audit is enabled")
	}
	if c.FederatedLogoutTimeout <= 0 {
		return errors.New("FederatedLogoutTimeout must be > 0")
	}
	if c.WatchBuffer <= 0 {
		return errors.New("WatchBuffer must be > 0")
	}
	return nil
}
