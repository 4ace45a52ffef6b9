package middleware

import (
	"context"
	"net"
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"
)

type contextKey string

const reqMetaKey = contextKey("r-metadata")

// RequestMetadata is filled in by the middlewares as an upgrade request passes
// through. UserID stays empty for guests.
type RequestMetadata struct {
	RequestID string
	IP        string
	UserAgent string
	UserID    string
	Name      string
}

func (m *RequestMetadata) Guest() bool {
	return m.UserID == ""
}

func ReqMetadataFrom(ctx context.Context) (*RequestMetadata, bool) {
	reqMeta, ok := ctx.Value(reqMetaKey).(*RequestMetadata)
	return reqMeta, ok
}

// RequestMetadataMiddleware must run before every other middleware of the
// chain. It picks up the request id assigned by chi's RequestID, if any.
func RequestMetadataMiddleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				ip = r.RemoteAddr
			}
			reqMeta := &RequestMetadata{
				RequestID: chimw.GetReqID(r.Context()),
				IP:        ip,
				UserAgent: r.UserAgent(),
			}
			ctx := context.WithValue(r.Context(), reqMetaKey, reqMeta)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
