package web

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistrySweepsIdleContexts(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	idle, busy := uuid.NewString(), uuid.NewString()
	first, err := a.contexts.Get(ctx, idle)
	require.NoError(t, err)
	again, err := a.contexts.Get(ctx, idle)
	require.NoError(t, err)
	assert.Same(t, first, again)

	_, err = a.contexts.Get(ctx, busy)
	require.NoError(t, err)
	release := a.contexts.Hold(busy)
	require.Equal(t, 2, a.contexts.Len())

	later := time.Now().Add(time.Hour)
	assert.Equal(t, 0, a.contexts.Sweep(time.Now()))
	assert.Equal(t, 1, a.contexts.Sweep(later))
	assert.Equal(t, 1, a.contexts.Len())

	release()
	release()
	assert.Equal(t, 1, a.contexts.Sweep(later))
	assert.Equal(t, 0, a.contexts.Len())

	fresh, err := a.contexts.Get(ctx, idle)
	require.NoError(t, err)
	assert.NotSame(t, first, fresh)
}

func TestRegistryCloseRejectsLookups(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()
	_, err := a.contexts.Get(ctx, uuid.NewString())
	require.NoError(t, err)

	a.contexts.Close()
	assert.Equal(t, 0, a.contexts.Len())
	_, err = a.contexts.Get(ctx, uuid.NewString())
	assert.ErrorIs(t, err, ErrRegistryClosed)

	c := a.browser(t)
	resp := a.do(t, c, http.MethodGet, "/api/auth/session", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestResolveIssuesAndReusesCookie(t *testing.T) {
	a := newTestApp(t)
	c := a.browser(t)

	resp := a.do(t, c, http.MethodGet, "/api/auth/session", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	cookies := resp.Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "mp_client", cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)

	resp = a.do(t, c, http.MethodGet, "/api/auth/session", nil)
	assert.Empty(t, resp.Cookies())
	assert.Equal(t, 1, a.contexts.Len())
}

func readSessionEvent(t *testing.T, r *bufio.Reader) sessionView {
	t.Helper()
	sawEvent := false
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "event: session":
			sawEvent = true
		case sawEvent && strings.HasPrefix(line, "data: "):
			var v sessionView
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &v))
			return v
		}
	}
}

func TestEventsStreamSessionChanges(t *testing.T) {
	a := newTestApp(t)
	id := a.register(t, "jo@example.com", "Jo")
	c := a.signIn(t, "jo@example.com")

	resp := a.do(t, c, http.MethodGet, "/api/auth/events", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	stream := bufio.NewReader(resp.Body)

	v := readSessionEvent(t, stream)
	assert.Equal(t, "authenticated", v.Status.Phase)
	assert.Equal(t, "/employee-dashboard", v.Landing)

	// A streaming context survives sweeps.
	assert.Equal(t, 0, a.contexts.Sweep(time.Now().Add(time.Hour)))

	n, err := a.accounts.RevokeUser(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	for {
		v = readSessionEvent(t, stream)
		if v.Status.Phase == "unauthenticated" {
			break
		}
	}
	assert.Nil(t, v.Session)
	assert.Equal(t, "/login", v.Landing)
}
