package auth

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"
)

type contextKey int

const (
	ctxKeyName contextKey = iota
	ctxRemoteIP
)

// wwwAuthenticate is sent with every 401. RFC 6750 Section 3.
const wwwAuthenticate = `Bearer realm="solara-sync"`

// RequestKeyName returns the name of the API key that authenticated the
// request, or "".
func RequestKeyName(ctx context.Context) string {
	v, _ := ctx.Value(ctxKeyName).(string)
	return v
}

// RequestRemoteIP returns the client IP from the context, or "".
func RequestRemoteIP(ctx context.Context) string {
	v, _ := ctx.Value(ctxRemoteIP).(string)
	return v
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}

	return host
}

// Middleware returns HTTP middleware that requires a valid Bearer API
// key. Repeated failures from one IP are answered with 429 without
// checking the key.
func Middleware(keys *KeyStore, logger *slog.Logger) func(http.Handler) http.Handler {
	limiter := newFailureLimiter()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := remoteIP(r)

			authHeader := r.Header.Get("Authorization")
			if !strings.HasPrefix(authHeader, "Bearer ") {
				logger.Debug("middleware: no bearer token",
					slog.String("ip", ip),
					slog.String("path", r.URL.Path),
				)
				w.Header().Set("WWW-Authenticate", wwwAuthenticate)
				w.WriteHeader(http.StatusUnauthorized)

				return
			}

			if limiter.limited(ip) {
				logger.Warn("middleware: rate limited", slog.String("ip", ip))
				http.Error(w, "too many failed attempts, try again later", http.StatusTooManyRequests)

				return
			}

			name, err := keys.Validate(strings.TrimPrefix(authHeader, "Bearer "))
			if err != nil {
				limiter.record(ip)
				logger.Debug("middleware: invalid API key",
					slog.String("ip", ip),
					slog.String("path", r.URL.Path),
				)
				w.Header().Set("WWW-Authenticate", wwwAuthenticate+`, error="invalid_token"`)
				w.WriteHeader(http.StatusUnauthorized)

				return
			}

			logger.Debug("middleware: authenticated",
				slog.String("key", name),
				slog.String("ip", ip),
			)

			ctx := r.Context()
			ctx = context.WithValue(ctx, ctxKeyName, name)
			ctx = context.WithValue(ctx, ctxRemoteIP, ip)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
