package guard

import (
	"errors"
	"fmt"
	"sync"
)

// ErrInvalidTransition is returned when an event is not allowed in the current phase.
var ErrInvalidTransition = errors.New("invalid guard transition")

type Phase uint8

const (
	Unauthenticated Phase = iota
	Authenticating
	Authenticated
)

func (p Phase) String() string {
	switch p {
	case Unauthenticated:
		return "unauthenticated"
	case Authenticating:
		return "authenticating"
	case Authenticated:
		return "authenticated"
	default:
		return fmt.Sprintf("phase(%d)", uint8(p))
	}
}

// Status is the observable guard state. Role is meaningful only when Phase is
// Authenticated.
type Status struct {
	Phase Phase
	Role  Role
}

func (s Status) String() string {
	if s.Phase == Authenticated {
		return fmt.Sprintf("authenticated(%s)", s.Role)
	}
	return s.Phase.String()
}

type Event uint8

const (
	// EventBegin starts a login, provider redirect or session re-resolution.
	EventBegin Event = iota
	// EventResolved finishes resolution with a role.
	EventResolved
	// EventFailed finishes resolution without an authenticated identity.
	EventFailed
	// EventSignedOut is a logout or session expiry.
	EventSignedOut
)

func (e Event) String() string {
	switch e {
	case EventBegin:
		return "begin"
	case EventResolved:
		return "resolved"
	case EventFailed:
		return "failed"
	case EventSignedOut:
		return "signed_out"
	default:
		return fmt.Sprintf("event(%d)", uint8(e))
	}
}

type transitionKey struct {
	from  Phase
	event Event
}

var transitions = map[transitionKey]Phase{
	{Unauthenticated, EventBegin}:     Authenticating,
	{Unauthenticated, EventFailed}:    Unauthenticated,
	{Unauthenticated, EventSignedOut}: Unauthenticated,
	{Authenticating, EventResolved}:   Authenticated,
	{Authenticating, EventFailed}:     Unauthenticated,
	{Authenticating, EventSignedOut}:  Unauthenticated,
	{Authenticating, EventBegin}:      Authenticating,
	{Authenticated, EventSignedOut}:   Unauthenticated,
	{Authenticated, EventBegin}:       Authenticating,
}

// Machine holds one guard Status. It is safe for concurrent use.
type Machine struct {
	mu       sync.Mutex
	status   Status
	onChange func(from, to Status)
}

// NewMachine returns a machine in the unauthenticated phase. onChange, when non-nil,
// is called after every applied transition, outside the machine's lock.
func NewMachine(onChange func(from, to Status)) *Machine {
	return &Machine{onChange: onChange}
}

func (m *Machine) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Fire applies ev. role is read only for EventResolved and must be RoleNone or a
// valid role.
func (m *Machine) Fire(ev Event, role Role) (Status, error) {
	if ev == EventResolved && role != RoleNone && !role.Valid() {
		return m.Status(), fmt.Errorf("%w: %s with role %q", ErrInvalidTransition, ev, string(role))
	}

	m.mu.Lock()
	from := m.status
	next, ok := transitions[transitionKey{from: from.Phase, event: ev}]
	if !ok {
		m.mu.Unlock()
		return from, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, ev, from)
	}
	to := Status{Phase: next}
	if next == Authenticated {
		to.Role = role
	}
	m.status = to
	cb := m.onChange
	m.mu.Unlock()

	if cb != nil && from != to {
		cb(from, to)
	}
	return to, nil
}

func (m *Machine) Begin() error {
	_, err := m.Fire(EventBegin, RoleNone)
	return err
}

func (m *Machine) Resolve(role Role) error {
	_, err := m.Fire(EventResolved, role)
	return err
}

func (m *Machine) Fail() error {
	_, err := m.Fire(EventFailed, RoleNone)
	return err
}

func (m *Machine) SignOut() error {
	_, err := m.Fire(EventSignedOut, RoleNone)
	return err
}
