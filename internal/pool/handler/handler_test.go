package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"strata/internal/pool"
)

type fakeManager struct {
	stats  pool.Stats
	health pool.Health
}

func (f *fakeManager) Stats() pool.Stats                       { return f.stats }
func (f *fakeManager) HealthCheck(context.Context) pool.Health { return f.health }

func newTestServer(m Manager) http.Handler {
	r := chi.NewRouter()
	New(m, slog.New(slog.NewTextHandler(io.Discard, nil))).Register(r)
	return r
}

func TestHandleStats(t *testing.T) {
	srv := newTestServer(&fakeManager{stats: pool.Stats{
		Central: pool.PoolStats{Database: "strata", Open: 3},
		Tenants: map[string]pool.PoolStats{
			"cafebabe00000000": {Database: "tenant_acme_cafebabe00000000", Open: 1},
		},
	}})

	req := httptest.NewRequest(http.MethodGet, "/admin/pools", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp pool.Stats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "strata", resp.Central.Database)
	assert.Len(t, resp.Tenants, 1)
}

func TestHandleHealth(t *testing.T) {
	t.Run("healthy central returns 200", func(t *testing.T) {
		srv := newTestServer(&fakeManager{health: pool.Health{
			Healthy: true,
			Central: pool.PoolHealth{Database: "strata", Healthy: true},
			Tenants: map[string]pool.PoolHealth{
				"cafebabe00000000": {Database: "tenant_acme_cafebabe00000000", Healthy: false, Error: "dial timeout"},
			},
		}})

		req := httptest.NewRequest(http.MethodGet, "/admin/pools/health", nil)
		w := httptest.NewRecorder()
		srv.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code, "a broken tenant pool must not fail the probe")
		var resp pool.Health
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.False(t, resp.Tenants["cafebabe00000000"].Healthy)
	})

	t.Run("broken central returns 503", func(t *testing.T) {
		srv := newTestServer(&fakeManager{health: pool.Health{
			Healthy: false,
			Central: pool.PoolHealth{Database: "strata", Healthy: false, Error: "connection refused"},
		}})

		req := httptest.NewRequest(http.MethodGet, "/admin/pools/health", nil)
		w := httptest.NewRecorder()
		srv.ServeHTTP(w, req)

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
}
