package guard

import (
	"errors"
	"testing"
)

func TestPolicyDecide(t *testing.T) {
	p := DefaultPolicy()

	anon := Status{Phase: Unauthenticated}
	pending := Status{Phase: Authenticating}
	admin := Status{Phase: Authenticated, Role: RoleAdmin}
	employee := Status{Phase: Authenticated, Role: RoleEmployee}
	unresolved := Status{Phase: Authenticated, Role: RoleNone}

	cases := []struct {
		name     string
		path     string
		status   Status
		outcome  Outcome
		location string
	}{
		{"public login", "/login", anon, OutcomeAllow, ""},
		{"public register", "/register/", anon, OutcomeAllow, ""},
		{"protected while anonymous", "/dashboard", anon, OutcomeRedirect, PathLogin},
		{"self while anonymous", "/employee-dashboard", anon, OutcomeRedirect, PathLogin},
		{"admin path for admin", "/schedules", admin, OutcomeAllow, ""},
		{"admin reaches self view", "/employee-dashboard", admin, OutcomeAllow, ""},
		{"admin path for employee", "/pending-employees", employee, OutcomeRedirect, PathEmployeeDashboard},
		{"departments for employee", "/departments", employee, OutcomeRedirect, PathEmployeeDashboard},
		{"self view for employee", "/employee-dashboard", employee, OutcomeAllow, ""},
		{"self view without profile", "/employee-dashboard", unresolved, OutcomeAllow, ""},
		{"admin path without profile", "/employees", unresolved, OutcomeRedirect, PathEmployeeDashboard},
		{"unknown path", "/nope", admin, OutcomeRedirect, PathLogin},
		{"root path", "/", employee, OutcomeRedirect, PathLogin},
		{"protected while authenticating", "/dashboard", pending, OutcomeWait, ""},
		{"dot segments", "/employees/../dashboard", admin, OutcomeAllow, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := p.Decide(tc.path, tc.status)
			if d.Outcome != tc.outcome {
				t.Fatalf("outcome: expected %s, got %s", tc.outcome, d.Outcome)
			}
			if d.Location != tc.location {
				t.Fatalf("location: expected %q, got %q", tc.location, d.Location)
			}
		})
	}
}

func TestPolicyLanding(t *testing.T) {
	p := DefaultPolicy()
	if got := p.Landing(RoleAdmin); got != PathDashboard {
		t.Fatalf("admin landing: %s", got)
	}
	if got := p.Landing(RoleEmployee); got != PathEmployeeDashboard {
		t.Fatalf("employee landing: %s", got)
	}
	if got := p.Landing(RoleNone); got != PathEmployeeDashboard {
		t.Fatalf("unresolved landing: %s", got)
	}
}

func TestPolicyAuthorize(t *testing.T) {
	p := DefaultPolicy()
	if err := p.Authorize(Status{}, PermSelf); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
	if err := p.Authorize(Status{Phase: Authenticated, Role: RoleEmployee}, PermManage); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if err := p.Authorize(Status{Phase: Authenticated, Role: RoleAdmin}, PermManage); err != nil {
		t.Fatalf("admin manage: %v", err)
	}
}

func TestNewPolicyRejectsDuplicates(t *testing.T) {
	roles, err := DefaultRoles()
	if err != nil {
		t.Fatalf("roles: %v", err)
	}
	_, err = NewPolicy([]Route{{Path: "/a"}, {Path: "/a/"}}, roles)
	if !errors.Is(err, ErrDuplicateRoute) {
		t.Fatalf("expected ErrDuplicateRoute, got %v", err)
	}
}
