package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"go-taskapi/auth"
	"go-taskapi/model"
)

// Tokens issues and validates bearer tokens.
type Tokens interface {
	Issue(id model.Identity) (string, time.Time, error)
	Validate(token string) (model.Identity, error)
	TTL() time.Duration
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

type identityHandler func(w http.ResponseWriter, r *http.Request, id model.Identity)

func bearerToken(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// require authenticates the caller and checks its role before calling next.
// Authentication always runs first so a bad token is a 401, never a 403.
func (s *Server) require(roles auth.Roles, next identityHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeUnauthorized(w, "Not authenticated")
			return
		}
		id, err := s.tokens.Validate(token)
		if err != nil {
			writeUnauthorized(w, "Could not validate credentials")
			return
		}
		if err := auth.Check(id, roles); err != nil {
			writeError(w, http.StatusForbidden, "You do not have access to this resource")
			return
		}
		next(w, r, id)
	}
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.allow(clientIP(r)) {
		writeError(w, http.StatusTooManyRequests, "Too many login attempts")
		return
	}
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "Invalid request body")
		return
	}
	username, password := r.PostForm.Get("username"), r.PostForm.Get("password")
	if username == "" || password == "" {
		writeError(w, http.StatusUnprocessableEntity, "Invalid request body")
		return
	}

	id, err := s.credentials.Authenticate(r.Context(), username, password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		s.log.Info("login rejected", "username", username)
		writeError(w, http.StatusUnauthorized, "Incorrect username or password")
		return
	}
	if err != nil {
		s.internalError(w, r, err)
		return
	}

	token, _, err := s.tokens.Issue(id)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken: token,
		TokenType:   "bearer",
		ExpiresIn:   int64(s.tokens.TTL() / time.Second),
	})
}
