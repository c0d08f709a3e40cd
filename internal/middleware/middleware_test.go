package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redismock/v8"
	"github.com/golang-jwt/jwt/v5"
	"github.com/mockbtc/backend/internal/models"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func principalEcho(t *testing.T, got *models.Principal) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := PrincipalFromContext(r.Context())
		require.True(t, ok)
		*got = p
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestAuthMiddleware(t *testing.T) {
	viper.Set("jwt.secret_key", testSecret)
	t.Cleanup(func() { viper.Set("jwt.secret_key", "") })

	valid := jwt.MapClaims{
		"user_id":     "user-1",
		"groups":      []string{"admin"},
		"permissions": []string{models.PermTransactionApprove, models.PermBatchExecute},
		"exp":         time.Now().Add(time.Hour).Unix(),
		"jti":         "token-1",
	}

	t.Run("valid token", func(t *testing.T) {
		var got models.Principal
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, valid))
		w := httptest.NewRecorder()

		AuthMiddleware(principalEcho(t, &got)).ServeHTTP(w, req)

		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Equal(t, "user-1", got.UserID)
		assert.Equal(t, []string{"admin"}, got.Groups)
		assert.True(t, got.HasPermission(models.PermBatchExecute))
		assert.False(t, got.HasPermission(models.PermUserRead))
	})

	t.Run("subject fallback", func(t *testing.T) {
		var got models.Principal
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, jwt.MapClaims{"sub": "user-9"}))
		w := httptest.NewRecorder()

		AuthMiddleware(principalEcho(t, &got)).ServeHTTP(w, req)
		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Equal(t, "user-9", got.UserID)
		assert.Empty(t, got.Permissions)
	})

	rejected := map[string]string{
		"missing header": "",
		"wrong scheme":   "Basic abc",
		"wrong secret":   "Bearer " + signToken(t, "other", valid),
		"expired":        "Bearer " + signToken(t, testSecret, jwt.MapClaims{"user_id": "u", "exp": time.Now().Add(-time.Hour).Unix()}),
		"no user":        "Bearer " + signToken(t, testSecret, jwt.MapClaims{"groups": []string{"admin"}}),
		"bad groups":     "Bearer " + signToken(t, testSecret, jwt.MapClaims{"user_id": "u", "groups": "admin"}),
	}
	for name, header := range rejected {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			w := httptest.NewRecorder()
			AuthMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Fatal("handler must not run")
			})).ServeHTTP(w, req)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
		})
	}

	t.Run("revoked token", func(t *testing.T) {
		rdb, mock := redismock.NewClientMock()
		InitAuthMiddleware(rdb)
		t.Cleanup(func() { InitAuthMiddleware(nil) })

		mock.ExpectExists("revoked:token-1").SetVal(1)

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, valid))
		w := httptest.NewRecorder()
		AuthMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("handler must not run")
		})).ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("revocation store unavailable", func(t *testing.T) {
		rdb, mock := redismock.NewClientMock()
		InitAuthMiddleware(rdb)
		t.Cleanup(func() { InitAuthMiddleware(nil) })

		mock.ExpectExists("revoked:token-1").SetErr(assert.AnError)

		var got models.Principal
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, valid))
		w := httptest.NewRecorder()
		AuthMiddleware(principalEcho(t, &got)).ServeHTTP(w, req)

		assert.Equal(t, http.StatusNoContent, w.Code)
	})
}

func TestSecurityHeaders(t *testing.T) {
	w := httptest.NewRecorder()
	SecurityHeaders(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})).
		ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
}

func TestRateLimiter(t *testing.T) {
	limiter := NewRateLimiter(0.001, 2)
	handler := limiter.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	call := func(addr string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = addr
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, call("10.0.0.1:1000"))
	assert.Equal(t, http.StatusOK, call("10.0.0.1:1000"))
	assert.Equal(t, http.StatusTooManyRequests, call("10.0.0.1:1000"))
	assert.Equal(t, http.StatusOK, call("10.0.0.2:1000"), "buckets are per client")
}

func TestHTTPMetrics_RoutePattern(t *testing.T) {
	var seen string
	r := chi.NewRouter()
	r.Use(HTTPMetrics)
	r.Get("/transactions/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		seen = routePattern(r)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/transactions/abc", nil))

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "/transactions/{id}", seen)
}

func TestRequirePermission(t *testing.T) {
	guarded := RequirePermission(models.PermBatchExecute)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	call := func(p *models.Principal) int {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		if p != nil {
			req = req.WithContext(WithPrincipal(req.Context(), *p))
		}
		w := httptest.NewRecorder()
		guarded.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusUnauthorized, call(nil))
	assert.Equal(t, http.StatusForbidden, call(&models.Principal{UserID: "u", Permissions: []string{models.PermBatchRead}}))
	assert.Equal(t, http.StatusOK, call(&models.Principal{UserID: "u", Permissions: []string{models.PermBatchExecute}}))
}
