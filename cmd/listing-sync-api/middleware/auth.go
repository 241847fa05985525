// Package middleware provides HTTP middleware for the listing sync API.
package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Context keys for request-scoped values.
type contextKey string

const (
	// UserIDKey is the context key for the authenticated subject.
	UserIDKey contextKey = "user_id"
	// RolesKey is the context key for user roles.
	RolesKey contextKey = "roles"
)

// AuthConfig holds authentication configuration.
type AuthConfig struct {
	Enabled bool
	Secret  string
	Issuer  string
}

// Role represents an RBAC role.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleReviewer Role = "reviewer"
	RoleViewer   Role = "viewer"
)

// TokenClaims represents validated token claims.
type TokenClaims struct {
	UserID string
	Roles  []Role
}

// Auth returns an authentication middleware. When auth is disabled every
// request runs as the "dev" admin user.
func Auth(cfg AuthConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.Enabled {
				user := r.Header.Get("X-User-ID")
				if user == "" {
					user = "dev"
				}
				ctx := context.WithValue(r.Context(), UserIDKey, user)
				ctx = context.WithValue(ctx, RolesKey, []Role{RoleAdmin})
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, `{"error": "missing authorization header"}`, http.StatusUnauthorized)
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
				http.Error(w, `{"error": "invalid authorization header format"}`, http.StatusUnauthorized)
				return
			}

			claims, err := ValidateToken(parts[1], cfg)
			if err != nil {
				http.Error(w, `{"error": "invalid token"}`, http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), UserIDKey, claims.UserID)
			ctx = context.WithValue(ctx, RolesKey, claims.Roles)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IssueToken signs an HS256 token for subject with the given roles.
func IssueToken(cfg AuthConfig, subject string, roles []Role, ttl time.Duration) (string, error) {
	if cfg.Secret == "" {
		return "", errors.New("jwt secret is not configured")
	}
	now := time.Now()
	roleNames := make([]string, len(roles))
	for i, role := range roles {
		roleNames[i] = string(role)
	}
	claims := jwt.MapClaims{
		"sub":   subject,
		"roles": roleNames,
		"iat":   now.Unix(),
		"exp":   now.Add(ttl).Unix(),
	}
	if cfg.Issuer != "" {
		claims["iss"] = cfg.Issuer
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(cfg.Secret))
}

// ValidateToken verifies signature, expiry and issuer and extracts the claims.
func ValidateToken(tokenString string, cfg AuthConfig) (*TokenClaims, error) {
	opts := []jwt.ParserOption{jwt.WithExpirationRequired()}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(cfg.Secret), nil
	}, opts...)
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return nil, errors.New("invalid token: 'sub' claim missing or not a string")
	}

	result := &TokenClaims{UserID: sub}
	if raw, ok := claims["roles"].([]interface{}); ok {
		for _, v := range raw {
			if s, ok := v.(string); ok {
				result.Roles = append(result.Roles, Role(s))
			}
		}
	}
	return result, nil
}

// RequireRoles returns middleware that requires one of the given roles.
// Admins pass every check.
func RequireRoles(roles ...Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := r.Context().Value(RolesKey).([]Role); !ok {
				http.Error(w, `{"error": "roles not found in context"}`, http.StatusForbidden)
				return
			}
			for _, required := range roles {
				if HasRole(r.Context(), required) {
					next.ServeHTTP(w, r)
					return
				}
			}
			http.Error(w, `{"error": "insufficient permissions"}`, http.StatusForbidden)
		})
	}
}

// UserFromContext extracts the user ID from context.
func UserFromContext(ctx context.Context) string {
	if v := ctx.Value(UserIDKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// RolesFromContext extracts the roles from context.
func RolesFromContext(ctx context.Context) []Role {
	if v := ctx.Value(RolesKey); v != nil {
		if roles, ok := v.([]Role); ok {
			return roles
		}
	}
	return nil
}

// HasRole checks if the context has a specific role.
func HasRole(ctx context.Context, role Role) bool {
	for _, r := range RolesFromContext(ctx) {
		if r == role || r == RoleAdmin {
			return true
		}
	}
	return false
}
