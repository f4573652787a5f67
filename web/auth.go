package web

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	manpower "github.com/Official-TiredRice-ch/FC-Manpower-1.0"
	"github.com/Official-TiredRice-ch/FC-Manpower-1.0/backend"
	"github.com/Official-TiredRice-ch/FC-Manpower-1.0/guard"
	"github.com/Official-TiredRice-ch/FC-Manpower-1.0/middleware"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type registerRequest struct {
	Email         string `json:"email"`
	Password      string `json:"password"`
	FullName      string `json:"full_name"`
	Department    string `json:"department"`
	ContactNumber string `json:"contact_number"`
	Role          string `json:"role"`
}

type statusView struct {
	Phase string `json:"phase"`
	Role  string `json:"role,omitempty"`
}

type sessionView struct {
	Session *manpower.Session `json:"session"`
	Profile *manpower.Profile `json:"profile"`
	Loading bool              `json:"loading"`
	Status  statusView        `json:"status"`
	Landing string            `json:"landing"`
	Error   string            `json:"error,omitempty"`
}

func viewOf(ctrl *manpower.Controller, st manpower.State) sessionView {
	gs := ctrl.Status()
	v := sessionView{
		Session: st.Session,
		Profile: st.Profile,
		Loading: st.Loading,
		Status:  statusView{Phase: gs.Phase.String()},
		Landing: guard.PathLogin,
	}
	if gs.Phase == guard.Authenticated {
		v.Status.Role = string(gs.Role)
		v.Landing = ctrl.Landing()
	}
	if err := ctrl.LastError(); err != nil {
		v.Error = manpower.UserMessage(err)
	}
	return v
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	ctrl, _ := middleware.ControllerFromContext(r.Context())

	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body.")
		return
	}

	res, err := ctrl.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		var credErr *manpower.CredentialError
		var idErr *manpower.IdentityIncompleteError
		switch {
		case errors.As(err, &credErr) && errors.Is(err, manpower.ErrRateLimited):
			writeError(w, http.StatusTooManyRequests, credErr.UserMessage())
		case errors.As(err, &credErr):
			writeError(w, http.StatusUnauthorized, credErr.UserMessage())
		case errors.As(err, &idErr):
			writeError(w, http.StatusUnauthorized, idErr.UserMessage())
		case errors.Is(err, manpower.ErrSuperseded):
			writeError(w, http.StatusConflict, "Another sign-in finished first. Please reload.")
		default:
			s.logger.Error("login failed", "error", err)
			writeError(w, http.StatusInternalServerError, manpower.UserMessage(err))
		}
		return
	}

	resp := map[string]any{
		"session": res.Session,
		"profile": res.Profile,
		"landing": res.Landing,
	}
	if res.Degraded != nil {
		s.logger.Warn("login completed with degraded profile", "subject", res.Session.Subject, "error", res.Degraded)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body.")
		return
	}

	id, err := s.accounts.Register(r.Context(), backend.RegisterInput{
		Email:         req.Email,
		Password:      req.Password,
		FullName:      req.FullName,
		Department:    req.Department,
		ContactNumber: req.ContactNumber,
		RoleHint:      req.Role,
	})
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, map[string]string{"id": id})
	case errors.Is(err, manpower.ErrEmailTaken):
		writeError(w, http.StatusConflict, "Email is already registered.")
	case errors.Is(err, backend.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "Enter a valid email, your full name and a password of at least 8 characters.")
	default:
		s.logger.Error("registration failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Unable to register right now.")
	}
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	ctrl, _ := middleware.ControllerFromContext(r.Context())
	if err := ctrl.Logout(r.Context()); err != nil {
		// State is already cleared; the store failure is only logged.
		s.logger.Warn("logout store failure", "error", err)
	}
	writeJSON(w, http.StatusOK, map[string]string{"landing": guard.PathLogin})
}

func (s *Server) handleProviderStart(w http.ResponseWriter, r *http.Request) {
	ctrl, _ := middleware.ControllerFromContext(r.Context())
	target, err := ctrl.LoginWithProvider(r.Context(), chi.URLParam(r, "provider"))
	if err != nil {
		loginRedirect(w, r, manpower.UserMessage(err))
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// handleProviderCallback completes the code flow, resolves the session in
// place and sends the browser to its landing view.
func (s *Server) handleProviderCallback(w http.ResponseWriter, r *http.Request) {
	ctrl, _ := middleware.ControllerFromContext(r.Context())
	q := r.URL.Query()
	if e := q.Get("error"); e != "" {
		s.logger.Info("provider sign-in declined", "error", e)
		loginRedirect(w, r, "Sign-in was cancelled.")
		return
	}

	client := s.accounts.Client(middleware.ClientIDFromContext(r.Context()))
	sess, err := client.CompleteProviderSignIn(r.Context(), q.Get("state"), q.Get("code"))
	if err != nil {
		msg := "Unable to sign in with the provider."
		if errors.Is(err, backend.ErrInvalidState) {
			msg = "Sign-in link expired. Please try again."
		}
		s.logger.Warn("provider callback failed", "error", err)
		loginRedirect(w, r, msg)
		return
	}

	ctrl.OnSessionChanged(r.Context(), manpower.SessionEvent{Kind: manpower.EventSignedIn, Session: sess})
	if ctrl.Status().Phase != guard.Authenticated {
		loginRedirect(w, r, manpower.UserMessage(ctrl.LastError()))
		return
	}
	http.Redirect(w, r, ctrl.Landing(), http.StatusFound)
}

func loginRedirect(w http.ResponseWriter, r *http.Request, message string) {
	http.Redirect(w, r, fmt.Sprintf("%s?error=%s", guard.PathLogin, url.QueryEscape(message)), http.StatusFound)
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	ctrl, _ := middleware.ControllerFromContext(r.Context())
	writeJSON(w, http.StatusOK, viewOf(ctrl, ctrl.State()))
}
