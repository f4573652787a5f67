package manpower

import (
	"fmt"
	"strings"
	"time"

	"github.com/Official-TiredRice-ch/FC-Manpower-1.0/guard"
)

// Role is re-exported from guard so callers of the controller need one import.
type Role = guard.Role

const (
	RoleNone     = guard.RoleNone
	RoleAdmin    = guard.RoleAdmin
	RoleEmployee = guard.RoleEmployee
)

func ParseRole(s string) (Role, error) {
	return guard.ParseRole(s)
}

// Providers known to the application. ProviderPassword marks sessions created
// from email and password.
const (
	ProviderPassword = "password"
	ProviderGoogle   = "google"
	ProviderFacebook = "facebook"
)

const (
	StatusActive  = "Active"
	StatusPending = "Pending"
)

// Session is the identity issued by the session store. Email may be empty for
// federated providers that do not release it.
type Session struct {
	ID          string    `json:"id"`
	Subject     string    `json:"subject"`
	Email       string    `json:"email,omitempty"`
	Provider    string    `json:"provider"`
	FullName    string    `json:"full_name,omitempty"`
	IssuedAt    time.Time `json:"issued_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	AccessToken string    `json:"-"`
}

// Validate rejects sessions missing a required field.
func (s *Session) Validate() error {
	if s == nil {
		return fmt.Errorf("%w: nil", ErrMalformedSession)
	}
	switch {
	case strings.TrimSpace(s.ID) == "":
		return fmt.Errorf("%w: missing id", ErrMalformedSession)
	case strings.TrimSpace(s.Subject) == "":
		return fmt.Errorf("%w: missing subject", ErrMalformedSession)
	case strings.TrimSpace(s.Provider) == "":
		return fmt.Errorf("%w: missing provider", ErrMalformedSession)
	case s.IssuedAt.IsZero() || s.ExpiresAt.IsZero():
		return fmt.Errorf("%w: missing issue or expiry time", ErrMalformedSession)
	case !s.ExpiresAt.After(s.IssuedAt):
		return fmt.Errorf("%w: expiry not after issue time", ErrMalformedSession)
	}
	return nil
}

func (s *Session) Expired(now time.Time) bool {
	return s == nil || !now.Before(s.ExpiresAt)
}

func (s *Session) clone() *Session {
	if s == nil {
		return nil
	}
	cp := *s
	return &cp
}

// Profile is the application record keyed by the session subject.
type Profile struct {
	ID            string   `json:"id"`
	FullName      string   `json:"full_name"`
	Role          Role     `json:"role"`
	Department    *string  `json:"department,omitempty"`
	ContactNumber *string  `json:"contact_number,omitempty"`
	Salary        *float64 `json:"salary,omitempty"`
	Status        string   `json:"status,omitempty"`
}

func (p *Profile) Validate() error {
	if p == nil {
		return fmt.Errorf("%w: nil", ErrMalformedProfile)
	}
	if strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("%w: missing id", ErrMalformedProfile)
	}
	if !p.Role.Valid() {
		return fmt.Errorf("%w: role %q", ErrMalformedProfile, string(p.Role))
	}
	return nil
}

func (p *Profile) clone() *Profile {
	if p == nil {
		return nil
	}
	cp := *p
	if p.Department != nil {
		v := *p.Department
		cp.Department = &v
	}
	if p.ContactNumber != nil {
		v := *p.ContactNumber
		cp.ContactNumber = &v
	}
	if p.Salary != nil {
		v := *p.Salary
		cp.Salary = &v
	}
	return &cp
}

// EmployeeRecord is the expanded employee row written alongside a profile.
type EmployeeRecord struct {
	ID            string
	FullName      string
	Email         string
	Role          Role
	Department    *string
	ContactNumber *string
	Salary        float64
	Status        string
}

// State is the controller's view of the current identity. Profile is non-nil
// only when Session is non-nil and Profile.ID equals Session.Subject.
type State struct {
	Session *Session `json:"session"`
	Profile *Profile `json:"profile"`
	Loading bool     `json:"loading"`
}

func (s State) clone() State {
	return State{Session: s.Session.clone(), Profile: s.Profile.clone(), Loading: s.Loading}
}

type SessionEventKind uint8

const (
	EventInitialSession SessionEventKind = iota
	EventSignedIn
	EventSignedOut
	EventTokenRefreshed
)

func (k SessionEventKind) String() string {
	switch k {
	case EventInitialSession:
		return "initial_session"
	case EventSignedIn:
		return "signed_in"
	case EventSignedOut:
		return "signed_out"
	case EventTokenRefreshed:
		return "token_refreshed"
	default:
		return fmt.Sprintf("session_event(%d)", uint8(k))
	}
}

// SessionEvent is one session-change notification. Session is nil for EventSignedOut.
type SessionEvent struct {
	Kind    SessionEventKind
	Session *Session
}

// LoginResult is returned by a successful Login. Degraded carries a swallowed
// lookup or provisioning failure; the login itself still succeeded.
type LoginResult struct {
	Session  *Session
	Profile  *Profile
	Landing  string
	Degraded error
}
