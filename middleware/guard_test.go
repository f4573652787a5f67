package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	manpower "github.com/Official-TiredRice-ch/FC-Manpower-1.0"
	"github.com/Official-TiredRice-ch/FC-Manpower-1.0/guard"
)

// idleStore never holds a session.
type idleStore struct{}

func (idleStore) GetProfile(context.Context, string) (*manpower.Profile, error) {
	return nil, manpower.ErrProfileNotFound
}
func (idleStore) UpsertProfile(context.Context, manpower.Profile) error         { return nil }
func (idleStore) EmployeeExists(context.Context, string) (bool, error)          { return false, nil }
func (idleStore) UpsertEmployee(context.Context, manpower.EmployeeRecord) error { return nil }
func (idleStore) CurrentSession(context.Context) (*manpower.Session, error)     { return nil, nil }
func (idleStore) SignInWithProvider(context.Context, string) (string, error)    { return "", nil }
func (idleStore) SignOut(context.Context) error                                 { return nil }
func (idleStore) SubscribeSessionChanges(context.Context) (manpower.Subscription, error) {
	return nil, errors.New("not supported")
}
func (idleStore) SignInWithPassword(context.Context, string, string) (*manpower.Session, error) {
	return nil, manpower.ErrInvalidCredentials
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestGuardWithoutControllerIsUnauthorized(t *testing.T) {
	h := Guard(guard.DefaultPolicy(), guard.PermManage)(okHandler())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/employees", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"Authentication required"}`, rec.Body.String())
}

func TestGuardRejectsUnauthenticatedController(t *testing.T) {
	ctrl, err := manpower.New().WithStore(idleStore{}).Build()
	require.NoError(t, err)
	defer ctrl.Teardown()

	var seenID string
	resolve := func(http.ResponseWriter, *http.Request) (string, *manpower.Controller, error) {
		return "ctx-1", ctrl, nil
	}
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenID = ClientIDFromContext(r.Context())
		Guard(guard.DefaultPolicy(), guard.PermSelf)(okHandler()).ServeHTTP(w, r)
	})
	h := BrowsingContext(resolve, nil)(inner)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/me/schedules", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "ctx-1", seenID)
}

func TestBrowsingContextFailureIsUnavailable(t *testing.T) {
	resolve := func(http.ResponseWriter, *http.Request) (string, *manpower.Controller, error) {
		return "", nil, errors.New("redis down")
	}
	h := BrowsingContext(resolve, nil)(okHandler())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/auth/session", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestClientInfoRecordsAddressAndAgent(t *testing.T) {
	var ip, ua string
	h := ClientInfo(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		ip = manpower.ClientIPFromContext(r.Context())
		ua = manpower.UserAgentFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
	req.RemoteAddr = "203.0.113.7:51234"
	req.Header.Set("User-Agent", "browser/1.0")
	h.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "203.0.113.7", ip)
	assert.Equal(t, "browser/1.0", ua)
}
