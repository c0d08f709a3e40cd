package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-redis/redis/v8"
	"github.com/golang-jwt/jwt/v5"
	"github.com/mockbtc/backend/internal/apperr"
	"github.com/mockbtc/backend/internal/logger"
	"github.com/mockbtc/backend/internal/models"
	"github.com/mockbtc/backend/internal/services"
	"github.com/spf13/viper"
)

type contextKey string

const principalKey contextKey = "principal"

var revocations *redis.Client

// InitAuthMiddleware enables the token revocation check. A nil client disables it.
func InitAuthMiddleware(rdb *redis.Client) {
	revocations = rdb
}

// WithPrincipal stores the authenticated caller on ctx
func WithPrincipal(ctx context.Context, p models.Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFromContext returns the caller set by AuthMiddleware
func PrincipalFromContext(ctx context.Context) (models.Principal, bool) {
	p, ok := ctx.Value(principalKey).(models.Principal)
	return p, ok && p.UserID != ""
}

func AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			services.SendErrorResponse(w, "Authorization header required", http.StatusUnauthorized, nil)
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			services.SendErrorResponse(w, "Invalid authorization header format", http.StatusUnauthorized, nil)
			return
		}

		principal, tokenID, err := validateToken(parts[1])
		if err != nil {
			logger.Debugf("[Auth] token rejected: %v", err)
			services.SendErrorResponse(w, "Invalid token", http.StatusUnauthorized, nil)
			return
		}

		if revoked(r.Context(), tokenID) {
			services.SendErrorResponse(w, "Token has been revoked", http.StatusUnauthorized, nil)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
	})
}

func validateToken(tokenString string) (models.Principal, string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		return []byte(viper.GetString("jwt.secret_key")), nil
	}, jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}))
	if err != nil {
		return models.Principal{}, "", err
	}
	if !token.Valid {
		return models.Principal{}, "", errors.New("token is not valid")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return models.Principal{}, "", errors.New("unexpected claims type")
	}

	userID, _ := claims["user_id"].(string)
	if userID == "" {
		userID, _ = claims.GetSubject()
	}
	if userID == "" {
		return models.Principal{}, "", errors.New("token has no user")
	}

	groups, err := stringList(claims, "groups")
	if err != nil {
		return models.Principal{}, "", err
	}
	permissions, err := stringList(claims, "permissions")
	if err != nil {
		return models.Principal{}, "", err
	}

	tokenID, _ := claims["jti"].(string)
	return models.Principal{UserID: userID, Groups: groups, Permissions: permissions}, tokenID, nil
}

// stringList reads a claim holding a JSON array of strings
func stringList(claims jwt.MapClaims, name string) ([]string, error) {
	raw, ok := claims[name]
	if !ok || raw == nil {
		return nil, nil
	}
	items, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("claim %s is not a list", name)
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("claim %s holds a non-string value", name)
		}
		out = append(out, s)
	}
	return out, nil
}

func revoked(ctx context.Context, tokenID string) bool {
	if revocations == nil || tokenID == "" {
		return false
	}
	n, err := revocations.Exists(ctx, "revoked:"+tokenID).Result()
	if err != nil {
		// fail open; the token itself was valid
		logger.Warnf("[Auth] revocation check failed: %v", err)
		return false
	}
	return n > 0
}

// RequirePermission rejects callers whose token lacks permission
func RequirePermission(permission string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFromContext(r.Context())
			if !ok {
				services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
				return
			}
			if !p.HasPermission(permission) {
				services.SendAppError(w, apperr.Forbidden(permission))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
