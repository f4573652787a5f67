package guard

import (
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/Official-TiredRice-ch/FC-Manpower-1.0/permission"
)

const (
	PathLogin             = "/login"
	PathRegister          = "/register"
	PathDashboard         = "/dashboard"
	PathEmployees         = "/employees"
	PathPendingEmployees  = "/pending-employees"
	PathSchedules         = "/schedules"
	PathDepartments       = "/departments"
	PathEmployeeDashboard = "/employee-dashboard"
)

// Permissions checked by routes and by the data API.
const (
	PermManage = "workforce.manage"
	PermSelf   = "self.view"
)

var (
	ErrUnauthenticated = errors.New("authentication required")
	ErrForbidden       = errors.New("insufficient role")
	ErrDuplicateRoute  = errors.New("duplicate route")
)

type Access uint8

const (
	AccessPublic Access = iota
	// AccessProtected requires an authenticated session holding the route's permission.
	AccessProtected
)

// Route is one entry of the view route table.
type Route struct {
	Path       string
	Access     Access
	Permission string
}

type Outcome uint8

const (
	OutcomeAllow Outcome = iota
	OutcomeRedirect
	// OutcomeWait means resolution is in flight; the caller should render a
	// loading state rather than redirect.
	OutcomeWait
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAllow:
		return "allow"
	case OutcomeRedirect:
		return "redirect"
	case OutcomeWait:
		return "wait"
	default:
		return fmt.Sprintf("outcome(%d)", uint8(o))
	}
}

type Decision struct {
	Outcome  Outcome
	Location string
	Route    Route
	Known    bool
}

// Policy maps guard status and request path to a Decision.
type Policy struct {
	routes       map[string]Route
	roles        *permission.RoleManager
	loginPath    string
	adminLanding string
	selfLanding  string
}

// DefaultRoutes is the application's view route table.
func DefaultRoutes() []Route {
	return []Route{
		{Path: PathLogin, Access: AccessPublic},
		{Path: PathRegister, Access: AccessPublic},
		{Path: PathDashboard, Access: AccessProtected, Permission: PermManage},
		{Path: PathEmployees, Access: AccessProtected, Permission: PermManage},
		{Path: PathPendingEmployees, Access: AccessProtected, Permission: PermManage},
		{Path: PathSchedules, Access: AccessProtected, Permission: PermManage},
		{Path: PathDepartments, Access: AccessProtected, Permission: PermManage},
		{Path: PathEmployeeDashboard, Access: AccessProtected, Permission: PermSelf},
	}
}

// DefaultRoles registers the two application roles: admin holds the root bit,
// employee holds only self-service access.
func DefaultRoles() (*permission.RoleManager, error) {
	registry := permission.NewRegistry(true)
	for _, name := range []string{PermManage, PermSelf} {
		if _, err := registry.Register(name); err != nil {
			return nil, err
		}
	}
	registry.Freeze()

	roles := permission.NewRoleManager(registry)
	if err := roles.RegisterRole(string(RoleAdmin), []string{PermManage, PermSelf}, true); err != nil {
		return nil, err
	}
	if err := roles.RegisterRole(string(RoleEmployee), []string{PermSelf}, false); err != nil {
		return nil, err
	}
	roles.Freeze()
	return roles, nil
}

// NewPolicy indexes routes by normalized path. Duplicate paths return
// ErrDuplicateRoute.
func NewPolicy(routes []Route, roles *permission.RoleManager) (*Policy, error) {
	if roles == nil {
		return nil, errors.New("nil role manager")
	}
	p := &Policy{
		routes:       make(map[string]Route, len(routes)),
		roles:        roles,
		loginPath:    PathLogin,
		adminLanding: PathDashboard,
		selfLanding:  PathEmployeeDashboard,
	}
	for _, r := range routes {
		key := normalize(r.Path)
		if _, exists := p.routes[key]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateRoute, key)
		}
		r.Path = key
		p.routes[key] = r
	}
	return p, nil
}

// DefaultPolicy builds the policy from DefaultRoutes and DefaultRoles.
func DefaultPolicy() *Policy {
	roles, err := DefaultRoles()
	if err != nil {
		panic(err)
	}
	p, err := NewPolicy(DefaultRoutes(), roles)
	if err != nil {
		panic(err)
	}
	return p
}

// Lookup finds the route registered for a view path.
func (p *Policy) Lookup(rawPath string) (Route, bool) {
	r, ok := p.routes[normalize(rawPath)]
	return r, ok
}

// Landing returns the view a role is sent to after login.
func (p *Policy) Landing(role Role) string {
	if role == RoleAdmin {
		return p.adminLanding
	}
	return p.selfLanding
}

// LoginPath is where unauthenticated visitors are sent.
func (p *Policy) LoginPath() string { return p.loginPath }

// Decide evaluates a view request.
func (p *Policy) Decide(rawPath string, st Status) Decision {
	route, ok := p.Lookup(rawPath)
	if !ok {
		return Decision{Outcome: OutcomeRedirect, Location: p.loginPath}
	}
	d := Decision{Route: route, Known: true}
	if route.Access == AccessPublic {
		d.Outcome = OutcomeAllow
		return d
	}

	switch err := p.Authorize(st, route.Permission); {
	case err == nil:
		d.Outcome = OutcomeAllow
	case st.Phase == Authenticating:
		d.Outcome = OutcomeWait
	case errors.Is(err, ErrForbidden):
		d.Outcome = OutcomeRedirect
		d.Location = p.selfLanding
	default:
		d.Outcome = OutcomeRedirect
		d.Location = p.loginPath
	}
	return d
}

// Authorize checks a single permission for the current status. A session without
// a resolved role is treated like an employee for self-service permissions.
func (p *Policy) Authorize(st Status, perm string) error {
	if st.Phase != Authenticated {
		return ErrUnauthenticated
	}
	if perm == "" {
		return nil
	}
	role := st.Role
	if role == RoleNone {
		role = RoleEmployee
	}
	if !p.roles.Allows(string(role), perm) {
		return ErrForbidden
	}
	return nil
}

func normalize(raw string) string {
	if raw == "" {
		return "/"
	}
	if !strings.HasPrefix(raw, "/") {
		raw = "/" + raw
	}
	return path.Clean(raw)
}
