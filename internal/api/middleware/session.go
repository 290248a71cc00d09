package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/dvloznov/taxledger/internal/logger"
)

// SessionHeader carries the session id for clients without cookies.
const SessionHeader = "X-Session-ID"

// SessionEnsurer validates a session id or creates a fresh guest session.
type SessionEnsurer interface {
	EnsureSession(ctx context.Context, session string) (string, bool, error)
}

// SessionOptions configures the session cookie.
type SessionOptions struct {
	CookieName string
	TTL        time.Duration
	Secure     bool
}

// Session resolves the caller's session from the cookie or the X-Session-ID
// header, creating a guest session when neither names a live one. The id is
// echoed in the header and the cookie is refreshed on every request.
func Session(sessions SessionEnsurer, opts SessionOptions) func(http.Handler) http.Handler {
	if opts.CookieName == "" {
		opts.CookieName = "session_id"
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requested := r.Header.Get(SessionHeader)
			if c, err := r.Cookie(opts.CookieName); err == nil && c.Value != "" {
				requested = c.Value
			}

			log := logger.FromContext(r.Context())
			id, created, err := sessions.EnsureSession(r.Context(), requested)
			if err != nil {
				log.Error().Err(err).Msg("Failed to resolve session")
				WriteError(w, http.StatusServiceUnavailable, "Session store unavailable")
				return
			}
			if created {
				log.Info().Str("session_id", id).Msg("Issued guest session")
			}

			http.SetCookie(w, &http.Cookie{
				Name:     opts.CookieName,
				Value:    id,
				Path:     "/",
				MaxAge:   int(opts.TTL.Seconds()),
				HttpOnly: true,
				Secure:   opts.Secure,
				SameSite: http.SameSiteLaxMode,
			})
			w.Header().Set(SessionHeader, id)

			ctx := context.WithValue(r.Context(), sessionKey, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// SessionFromContext returns the session id resolved by Session.
func SessionFromContext(ctx context.Context) string {
	id, _ := ctx.Value(sessionKey).(string)
	return id
}
