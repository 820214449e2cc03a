package auth

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// AdminKeyHeader carries an admin key without a scheme.
const AdminKeyHeader = "X-Aimux-Admin-Key"

// Source describes where a key is read from.
type Source struct {
	Type   string // header, query
	Name   string // header name or query parameter
	Scheme string // optional, e.g. "Bearer"
}

// DefaultSources returns the Authorization Bearer header followed by
// AdminKeyHeader.
func DefaultSources() []Source {
	return []Source{
		{Type: "header", Name: "Authorization", Scheme: "Bearer"},
		{Type: "header", Name: AdminKeyHeader},
	}
}

// ErrorWriter writes the response for a rejected request.
type ErrorWriter func(w http.ResponseWriter, r *http.Request, err error)

// Middleware rejects requests that do not carry a valid key.
type Middleware struct {
	validator *Validator
	sources   []Source
	logger    *zap.Logger
	onError   ErrorWriter
}

// NewMiddleware creates the middleware. A nil onError writes a plain 401.
func NewMiddleware(validator *Validator, sources []Source, logger *zap.Logger, onError ErrorWriter) *Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	if onError == nil {
		onError = func(w http.ResponseWriter, _ *http.Request, err error) {
			http.Error(w, err.Error(), http.StatusUnauthorized)
		}
	}
	return &Middleware{
		validator: validator,
		sources:   sources,
		logger:    logger,
		onError:   onError,
	}
}

// Handle wraps next with key authentication.
func (m *Middleware) Handle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name, err := m.validator.Validate(m.extract(r))
		if err != nil {
			m.logger.Warn("admin request rejected",
				zap.Error(err),
				zap.String("remote_addr", r.RemoteAddr),
				zap.String("path", r.URL.Path),
			)
			m.onError(w, r, err)
			return
		}

		m.logger.Debug("admin request authenticated",
			zap.String("key", name),
			zap.String("path", r.URL.Path),
		)
		next.ServeHTTP(w, r.WithContext(WithKeyName(r.Context(), name)))
	})
}

// extract returns the first key found in the configured sources.
func (m *Middleware) extract(r *http.Request) string {
	for _, source := range m.sources {
		var value string
		switch source.Type {
		case "header":
			value = r.Header.Get(source.Name)
		case "query":
			value = r.URL.Query().Get(source.Name)
		}
		if value == "" {
			continue
		}
		if source.Scheme == "" {
			return value
		}
		if rest, ok := strings.CutPrefix(value, source.Scheme+" "); ok {
			return rest
		}
	}
	return ""
}

type contextKey struct{}

// WithKeyName returns ctx carrying the authenticated key name.
func WithKeyName(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, contextKey{}, name)
}

// KeyNameFromContext returns the authenticated key name, if any.
func KeyNameFromContext(ctx context.Context) (string, bool) {
	name, ok := ctx.Value(contextKey{}).(string)
	return name, ok
}
