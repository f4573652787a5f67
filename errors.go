package manpower

import (
	"errors"
	"fmt"
)

var (
	ErrProfileNotFound    = errors.New("profile not found")
	ErrMalformedSession   = errors.New("malformed session")
	ErrMalformedProfile   = errors.New("malformed profile")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrRateLimited        = errors.New("too many attempts")
	ErrStoreUnavailable   = errors.New("session store unavailable")
	ErrUnknownProvider    = errors.New("unknown identity provider")
	ErrEmailTaken         = errors.New("email already registered")
	ErrNotInitialized     = errors.New("controller not initialized")
	ErrAlreadyInitialized = errors.New("controller already initialized")
	ErrTornDown           = errors.New("controller torn down")
	ErrSuperseded         = errors.New("login superseded by a newer session change")
	ErrNilStore           = errors.New("session store required")
)

// UserFacing is implemented by errors whose message is safe to show inline in a form.
type UserFacing interface {
	UserMessage() string
}

// UserMessage returns the inline message for err, or a generic one.
func UserMessage(err error) string {
	var uf UserFacing
	if errors.As(err, &uf) {
		return uf.UserMessage()
	}
	return "Something went wrong. Please try again."
}

// CredentialError is a failed sign-in. State is never changed by it.
type CredentialError struct {
	Message string
	Err     error
}

func (e *CredentialError) Error() string {
	if e.Err == nil {
		return "credential error: " + e.Message
	}
	return fmt.Sprintf("credential error: %s: %v", e.Message, e.Err)
}

func (e *CredentialError) Unwrap() error       { return e.Err }
func (e *CredentialError) UserMessage() string { return e.Message }

// IdentityIncompleteError means the identity carried no email, so nothing was provisioned.
type IdentityIncompleteError struct {
	Provider string
	Subject  string
}

func (e *IdentityIncompleteError) Error() string {
	return fmt.Sprintf("identity from provider %q for subject %q has no email", e.Provider, e.Subject)
}

func (e *IdentityIncompleteError) UserMessage() string {
	return "OAuth login did not return an email. Please use another method."
}

// ProfileLookupError is a transport or service failure while reading a profile.
// It is distinct from ErrProfileNotFound and is safe to retry.
type ProfileLookupError struct {
	Subject string
	Err     error
}

func (e *ProfileLookupError) Error() string {
	return fmt.Sprintf("profile lookup for %q: %v", e.Subject, e.Err)
}

func (e *ProfileLookupError) Unwrap() error   { return e.Err }
func (e *ProfileLookupError) Retryable() bool { return true }

// ProvisioningPartialFailure reports that at least one of the profile and
// employee writes failed after all attempts. The next login reconciles.
type ProvisioningPartialFailure struct {
	Subject     string
	ProfileErr  error
	EmployeeErr error
}

func (e *ProvisioningPartialFailure) Error() string {
	return fmt.Sprintf("provisioning for %q incomplete: profile=%v employee=%v", e.Subject, e.ProfileErr, e.EmployeeErr)
}

func (e *ProvisioningPartialFailure) Unwrap() []error {
	var errs []error
	if e.ProfileErr != nil {
		errs = append(errs, e.ProfileErr)
	}
	if e.EmployeeErr != nil {
		errs = append(errs, e.EmployeeErr)
	}
	return errs
}
