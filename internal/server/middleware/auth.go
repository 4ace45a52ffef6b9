package middleware

import (
	"log/slog"
	"net/http"

	"github.com/a-essam23/go-huddle/pkg/auth"
)

const (
	SessionCookie = "session-token"
	TokenQuery    = "token"
)

func tokenFrom(r *http.Request) string {
	if cookie, err := r.Cookie(SessionCookie); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	return r.URL.Query().Get(TokenQuery)
}

// NewAuthMiddleware resolves the session token from the cookie or the query
// string. A request without a token continues as a guest when allowGuests is
// set; a token that fails validation is always rejected.
func NewAuthMiddleware(logger *slog.Logger, jwtSecret string, allowGuests bool) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {

			// couldn't extract metadata from request so something went wrong with previous middlewares
			reqMeta, ok := ReqMetadataFrom(r.Context())
			if !ok {
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}

			tokenString := tokenFrom(r)
			if tokenString == "" {
				if allowGuests {
					logger.Debug("No session token, continuing as guest", slog.String("ip", reqMeta.IP))
					next.ServeHTTP(w, r)
					return
				}
				logger.Warn("JWT token missing in request", slog.String("ip", reqMeta.IP))
				http.Error(w, "Missing token", http.StatusUnauthorized)
				return
			}

			claims, err := auth.ParseSession(jwtSecret, tokenString)
			if err != nil {
				logger.Warn("Invalid JWT token presented", slog.String("ip", reqMeta.IP), slog.Any("error", err))
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			reqMeta.UserID = claims.Subject
			reqMeta.Name = claims.Name
			next.ServeHTTP(w, r)
		})
	}
}
