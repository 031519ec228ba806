package admin

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func guardedHandler(token string, called *bool, inspect func(r *http.Request)) http.Handler {
	return RequireAdminToken(token, slog.New(slog.NewTextHandler(io.Discard, nil)))(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			*called = true
			if inspect != nil {
				inspect(r)
			}
			w.WriteHeader(http.StatusOK)
		}),
	)
}

func TestRequireAdminToken(t *testing.T) {
	const token = "secret-admin-token"

	t.Run("correct token reaches the handler", func(t *testing.T) {
		called := false
		handler := guardedHandler(token, &called, nil)

		req := httptest.NewRequest(http.MethodGet, "/admin/tenants", nil)
		req.Header.Set("X-Admin-Token", token)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		assert.True(t, called, "next handler should be called")
		assert.Equal(t, http.StatusOK, w.Code)
	})

	// The invariant: a request without the exact token never reaches the
	// wrapped handler.
	t.Run("bad tokens are rejected before the handler", func(t *testing.T) {
		cases := []struct {
			name      string
			setHeader bool
			value     string
		}{
			{"wrong token", true, "wrong-token"},
			{"truncated token", true, "secret-admin"},
			{"empty token", true, ""},
			{"missing header", false, ""},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				called := false
				handler := guardedHandler(token, &called, nil)

				req := httptest.NewRequest(http.MethodGet, "/admin/tenants", nil)
				if tc.setHeader {
					req.Header.Set("X-Admin-Token", tc.value)
				}
				w := httptest.NewRecorder()
				handler.ServeHTTP(w, req)

				assert.False(t, called, "next handler should NOT be called")
				assert.Equal(t, http.StatusUnauthorized, w.Code)
				assert.Contains(t, w.Body.String(), "unauthorized")
			})
		}
	})
}

func TestActorIDCapture(t *testing.T) {
	const token = "secret-admin-token"

	t.Run("X-Admin-Actor-ID lands in the context", func(t *testing.T) {
		called := false
		var actorID string
		handler := guardedHandler(token, &called, func(r *http.Request) {
			actorID = GetAdminActorID(r.Context())
		})

		req := httptest.NewRequest(http.MethodDelete, "/admin/tenants/acme1", nil)
		req.Header.Set("X-Admin-Token", token)
		req.Header.Set("X-Admin-Actor-ID", "ops-admin-7")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		assert.Equal(t, "ops-admin-7", actorID)
	})

	t.Run("absent actor header leaves the context empty", func(t *testing.T) {
		called := false
		var actorID string
		handler := guardedHandler(token, &called, func(r *http.Request) {
			actorID = GetAdminActorID(r.Context())
		})

		req := httptest.NewRequest(http.MethodGet, "/admin/tenants", nil)
		req.Header.Set("X-Admin-Token", token)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		assert.True(t, called)
		assert.Empty(t, actorID)
	})
}

func TestGetAdminActorID(t *testing.T) {
	assert.Empty(t, GetAdminActorID(context.Background()))

	ctx := context.WithValue(context.Background(), ContextKeyAdminActorID, "test-actor")
	assert.Equal(t, "test-actor", GetAdminActorID(ctx))

	// A wrong-typed value must not leak through the accessor.
	ctx = context.WithValue(context.Background(), ContextKeyAdminActorID, 12345)
	assert.Empty(t, GetAdminActorID(ctx))
}
