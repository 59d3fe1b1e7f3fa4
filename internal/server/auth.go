package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/golang-jwt/jwt/v5"

	"opsportal/internal/domain"
	"opsportal/internal/fetch"
)

type AuthConfig struct {
	JWTSecret string
	// AllowViewerHeaders accepts X-Viewer-Role and X-Viewer-Code without a
	// token. Local development only.
	AllowViewerHeaders bool
	AllowDevLogin      bool
	Logger             *slog.Logger
}

type Principal struct {
	Viewer domain.Viewer
	Token  string
	Source string
}

type principalKey struct{}

func (c AuthConfig) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func withPrincipal(ctx context.Context, p Principal) context.Context {
	ctx = context.WithValue(ctx, principalKey{}, p)
	if p.Token != "" {
		ctx = fetch.WithToken(ctx, p.Token)
	}
	return ctx
}

func principalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

func viewerFromContext(ctx context.Context) (domain.Viewer, huma.StatusError) {
	if p, ok := principalFromContext(ctx); ok && p.Viewer.Code != "" {
		return p.Viewer, nil
	}
	return domain.Viewer{}, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
}

type viewerClaims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
	Name string `json:"name,omitempty"`
}

func authenticateJWT(token string, secret string) (Principal, error) {
	if strings.TrimSpace(secret) == "" {
		return Principal{}, errors.New("jwt secret not configured")
	}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	claims := &viewerClaims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return Principal{}, err
	}
	if !parsed.Valid {
		return Principal{}, errors.New("invalid token")
	}
	if claims.Subject == "" {
		return Principal{}, errors.New("subject claim required")
	}
	role := domain.Role(strings.ToLower(strings.TrimSpace(claims.Role)))
	if !role.IsBusiness() {
		return Principal{}, errors.New("role claim must be a business role")
	}
	return Principal{
		Viewer: domain.Viewer{Role: role, Code: claims.Subject, Name: claims.Name},
		Token:  token,
		Source: "jwt",
	}, nil
}

// SignViewerToken mints an HS256 token carrying v. ttl <= 0 means no expiry.
func SignViewerToken(secret string, v domain.Viewer, ttl time.Duration) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("jwt secret not configured")
	}
	if !v.Role.IsBusiness() || strings.TrimSpace(v.Code) == "" {
		return "", errors.New("viewer role and code are required")
	}
	now := time.Now()
	claims := viewerClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  v.Code,
			IssuedAt: jwt.NewNumericDate(now),
		},
		Role: string(v.Role),
		Name: v.Name,
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func bearerToken(authz string) (string, bool) {
	parts := strings.Fields(authz)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

func newAuthMiddleware(basePath string, cfg AuthConfig) func(http.Handler) http.Handler {
	open := map[string]bool{
		path.Join(basePath, "health"):         true,
		path.Join(basePath, "openapi.json"):   true,
		path.Join(basePath, "auth/dev/token"): cfg.AllowDevLogin,
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			// Only enforce for API base path.
			if basePath != "" && !strings.HasPrefix(req.URL.Path, basePath) {
				next.ServeHTTP(w, req)
				return
			}
			if open[req.URL.Path] {
				next.ServeHTTP(w, req)
				return
			}

			authz := strings.TrimSpace(req.Header.Get("Authorization"))
			headerRole := strings.TrimSpace(req.Header.Get("X-Viewer-Role"))
			headerCode := strings.TrimSpace(req.Header.Get("X-Viewer-Code"))

			if authz != "" {
				token, ok := bearerToken(authz)
				if !ok {
					respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
					return
				}
				principal, err := authenticateJWT(token, cfg.JWTSecret)
				if err != nil {
					cfg.logger().Debug("rejected bearer token", "error", err)
					respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
					return
				}
				next.ServeHTTP(w, req.WithContext(withPrincipal(req.Context(), principal)))
				return
			}

			if cfg.AllowViewerHeaders && headerCode != "" {
				role := domain.Role(strings.ToLower(headerRole))
				if !role.IsBusiness() {
					respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid viewer role", nil))
					return
				}
				cfg.logger().Warn("using unauthenticated viewer headers", "role", string(role), "code", headerCode)
				ctx := withPrincipal(req.Context(), Principal{
					Viewer: domain.Viewer{Role: role, Code: headerCode},
					Source: "viewer_headers",
				})
				next.ServeHTTP(w, req.WithContext(ctx))
				return
			}

			respondStatusError(w, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil))
		})
	}
}

func respondStatusError(w http.ResponseWriter, err huma.StatusError) {
	status := http.StatusInternalServerError
	if e, ok := err.(interface{ GetStatus() int }); ok {
		status = e.GetStatus()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(err)
}
