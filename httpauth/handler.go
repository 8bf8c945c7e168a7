package httpauth

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/MrEthical07/tokenguard"
	"github.com/go-chi/chi/v5"
)

const maxBodyBytes = 1 << 16

// Engine is the subset of *tokenguard.Engine the handlers use.
type Engine interface {
	Login(ctx context.Context, identifier, secret string) (tokenguard.TokenPair, error)
	Refresh(ctx context.Context, token string) (tokenguard.TokenPair, error)
	Logout(ctx context.Context, token string) error
	Authenticate(ctx context.Context, token string) (tokenguard.Claims, error)
}

// Handler serves the token endpoints and builds authentication middleware.
type Handler struct {
	engine Engine
	cookie tokenguard.CookieConfig
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the logger for request failures. A nil logger is ignored.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithClock sets the time source used for cookie Max-Age.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

// NewHandler returns a Handler for engine. cookie is usually
// engine.Config().Cookie.
func NewHandler(engine Engine, cookie tokenguard.CookieConfig, opts ...Option) *Handler {
	h := &Handler{
		engine: engine,
		cookie: cookie,
		logger: slog.New(slog.DiscardHandler),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.cookie.Name == "" {
		h.cookie.Name = "refresh_token"
	}
	if h.cookie.Path == "" {
		h.cookie.Path = "/auth/token"
	}
	return h
}

// Routes mounts the token endpoints on r:
//
//	POST /auth/login
//	POST /auth/token/refresh
//	POST /auth/token/logout
func (h *Handler) Routes(r chi.Router) {
	r.Post("/auth/login", h.Login)
	r.Route("/auth/token", func(r chi.Router) {
		r.Post("/refresh", h.Refresh)
		r.Post("/logout", h.Logout)
	})
}

type loginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

type tokenResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Login verifies {identifier, password}, returns the access token in the
// body and sets the refresh cookie.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var body loginRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "bad_request"})
		return
	}

	pair, err := h.engine.Login(requestContext(r), body.Identifier, body.Password)
	if err != nil {
		WriteError(w, err)
		return
	}

	h.setRefreshCookie(w, r, pair.RefreshToken, pair.RefreshExpiresAt)
	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken: pair.AccessToken,
		TokenType:   "Bearer",
		ExpiresAt:   pair.AccessExpiresAt.UTC(),
	})
}

// Refresh rotates the refresh cookie. On failure the cookie is cleared,
// except when the backend is unavailable and the same token may be retried.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	token, ok := h.refreshCookie(r)
	if !ok {
		h.clearRefreshCookie(w, r)
		WriteError(w, tokenguard.ErrTokenMalformed)
		return
	}

	pair, err := h.engine.Refresh(requestContext(r), token)
	if err != nil {
		if !errors.Is(err, tokenguard.ErrUnavailable) {
			h.clearRefreshCookie(w, r)
		}
		WriteError(w, err)
		return
	}

	h.setRefreshCookie(w, r, pair.RefreshToken, pair.RefreshExpiresAt)
	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken: pair.AccessToken,
		TokenType:   "Bearer",
		ExpiresAt:   pair.AccessExpiresAt.UTC(),
	})
}

// Logout revokes the refresh cookie and clears it. It always answers 204.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if token, ok := h.refreshCookie(r); ok {
		if err := h.engine.Logout(requestContext(r), token); err != nil {
			level := slog.LevelDebug
			if errors.Is(err, tokenguard.ErrUnavailable) {
				level = slog.LevelError
			}
			h.logger.LogAttrs(r.Context(), level, "logout revoke failed",
				slog.String("kind", string(tokenguard.KindOf(err))),
				slog.String("error", err.Error()),
			)
		}
	}
	h.clearRefreshCookie(w, r)
	w.WriteHeader(http.StatusNoContent)
}

func requestContext(r *http.Request) context.Context {
	ctx := r.Context()
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	ctx = tokenguard.WithClientIP(ctx, host)
	ctx = tokenguard.WithUserAgent(ctx, r.UserAgent())
	return ctx
}
