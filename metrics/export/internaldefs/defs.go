package internaldefs

import (
	manpower "github.com/Official-TiredRice-ch/FC-Manpower-1.0"
)

type CounterDef struct {
	ID   manpower.MetricID
	Name string
	Help string
}

type HistogramDef struct {
	ID   manpower.MetricID
	Name string
	Help string
}

var CounterDefs = []CounterDef{
	{ID: manpower.MetricInitialize, Name: "manpower_initialize_total", Help: "Controllers initialized."},
	{ID: manpower.MetricSessionChanged, Name: "manpower_session_changed_total", Help: "Session-change notifications applied."},
	{ID: manpower.MetricLoginSuccess, Name: "manpower_login_success_total", Help: "Successful password logins."},
	{ID: manpower.MetricLoginFailure, Name: "manpower_login_failure_total", Help: "Rejected password logins."},
	{ID: manpower.MetricLoginRateLimited, Name: "manpower_login_rate_limited_total", Help: "Logins rejected by the rate limiter."},
	{ID: manpower.MetricProviderRedirect, Name: "manpower_provider_redirect_total", Help: "Federated sign-ins started."},
	{ID: manpower.MetricLogout, Name: "manpower_logout_total", Help: "Logouts with a held session."},
	{ID: manpower.MetricProfileResolved, Name: "manpower_profile_resolved_total", Help: "Profile lookups that found a record."},
	{ID: manpower.MetricProfileNotFound, Name: "manpower_profile_not_found_total", Help: "Profile lookups that found no record."},
	{ID: manpower.MetricProfileLookupFailure, Name: "manpower_profile_lookup_failure_total", Help: "Profile lookups that failed in transport."},
	{ID: manpower.MetricProfileProvisioned, Name: "manpower_profile_provisioned_total", Help: "Profiles created at first login."},
	{ID: manpower.MetricProvisioningPartial, Name: "manpower_provisioning_partial_total", Help: "Provisioning runs with a failed write."},
	{ID: manpower.MetricProvisioningReconciled, Name: "manpower_provisioning_reconciled_total", Help: "Employee rows backfilled for existing profiles."},
	{ID: manpower.MetricIdentityIncomplete, Name: "manpower_identity_incomplete_total", Help: "Sessions without an email address."},
	{ID: manpower.MetricStaleDiscarded, Name: "manpower_stale_resolution_discarded_total", Help: "Resolutions discarded after a newer session change."},
	{ID: manpower.MetricFederatedLogoutFailure, Name: "manpower_federated_logout_failure_total", Help: "Failed provider sign-outs."},
}

var HistogramDefs = []HistogramDef{
	{ID: manpower.MetricResolveLatency, Name: "manpower_resolve_latency_seconds", Help: "Time spent resolving a profile."},
}

const AuditDroppedName = "manpower_audit_dropped_total"

const AuditDroppedHelp = "Audit events dropped because the dispatcher was full."

// BucketUpperBounds are the histogram bucket limits in seconds; the last
// bucket is unbounded.
var BucketUpperBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
