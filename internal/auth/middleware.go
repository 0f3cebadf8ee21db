package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"
)

type contextKey string

const CtxUID contextKey = "uid"

var ErrUnauthorized = errors.New("unauthorized")

// Authenticator resolves a bearer token to a user id.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (uid string, err error)
}

type Config struct {
	Enabled bool

	Header       string
	BearerPrefix string
	QueryKey     string
	Timeout      time.Duration

	PublicPaths []string

	// Deny writes the rejection; http.Error with 401 when nil.
	Deny func(w http.ResponseWriter, r *http.Request, err error)
}

func (c Config) isPublic(path string) bool {
	for _, p := range c.PublicPaths {
		if p == "" {
			continue
		}
		if strings.HasSuffix(p, "/") {
			if strings.HasPrefix(path, p) {
				return true
			}
			continue
		}
		if path == p {
			return true
		}
	}
	return false
}

func ExtractToken(r *http.Request, header string, bearerPrefix string, queryKey string) string {
	// Header first
	if header != "" {
		v := strings.TrimSpace(r.Header.Get(header))
		if v != "" {
			if bearerPrefix != "" && strings.HasPrefix(v, bearerPrefix) {
				return strings.TrimSpace(strings.TrimPrefix(v, bearerPrefix))
			}
			return v
		}
	}
	// Query fallback, browsers cannot set headers on a websocket upgrade
	if queryKey != "" {
		if v := r.URL.Query().Get(queryKey); v != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// Check authenticates r under its own timeout. Any failure, including a store
// error, is reported as ErrUnauthorized wrapping the cause.
func Check(ctx context.Context, cfg Config, authn Authenticator, r *http.Request) (string, error) {
	tok := ExtractToken(r, cfg.Header, cfg.BearerPrefix, cfg.QueryKey)
	if tok == "" {
		return "", ErrUnauthorized
	}
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}
	uid, err := authn.Authenticate(ctx, tok)
	if err != nil {
		if errors.Is(err, ErrUnauthorized) {
			return "", err
		}
		return "", errors.Join(ErrUnauthorized, err)
	}
	if uid == "" {
		return "", ErrUnauthorized
	}
	return uid, nil
}

// Wrap returns a handler that requires a valid token on every path not listed in PublicPaths.
func Wrap(cfg Config, authn Authenticator, next http.Handler) http.Handler {
	deny := cfg.Deny
	if deny == nil {
		deny = func(w http.ResponseWriter, _ *http.Request, _ error) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
		}
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !cfg.Enabled || cfg.isPublic(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		uid, err := Check(r.Context(), cfg, authn, r)
		if err != nil {
			deny(w, r, err)
			return
		}
		ctx := context.WithValue(r.Context(), CtxUID, uid)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func WithUID(ctx context.Context, uid string) context.Context {
	return context.WithValue(ctx, CtxUID, uid)
}

func UIDFromContext(ctx context.Context) string {
	v := ctx.Value(CtxUID)
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
