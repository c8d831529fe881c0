package simflow

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voyasim/simflow/core"
	"github.com/voyasim/simflow/store/memstore"
)

func newTestPlatform(t *testing.T) *Platform {
	t.Helper()
	cfg := core.DefaultConfig()
	cfg.AdminToken = "test-admin-token"

	p, err := New(context.Background(), cfg,
		WithLogger(&core.NoOpLogger{}),
		WithStore(memstore.New()),
		WithCache(core.NewMemoryStore()),
	)
	require.NoError(t, err)
	return p
}

func TestNewRequiresConfig(t *testing.T) {
	_, err := New(context.Background(), nil)
	require.ErrorIs(t, err, core.ErrMissingConfiguration)
}

func TestPlatformAssembly(t *testing.T) {
	p := newTestPlatform(t)

	assert.NotNil(t, p.Handler())
	assert.NotNil(t, p.Fulfillment())
	assert.NotNil(t, p.Inquiries())
	// No Naver webhook secret and no credentials: polling stays off.
	assert.Nil(t, p.sales)
}

func TestPlatformHealthEndpoint(t *testing.T) {
	p := newTestPlatform(t)

	rr := httptest.NewRecorder()
	p.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
}

func TestPlatformMetricsEndpoint(t *testing.T) {
	p := newTestPlatform(t)

	rr := httptest.NewRecorder()
	p.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	// The process registry carries both runtime and platform collectors.
	assert.Contains(t, rr.Body.String(), "go_goroutines")
}

func TestPlatformAdminRequiresToken(t *testing.T) {
	p := newTestPlatform(t)

	rr := httptest.NewRecorder()
	p.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/admin/inquiries", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestPlatformShutdownIsClean(t *testing.T) {
	p := newTestPlatform(t)
	require.NoError(t, p.shutdown())
}
