package pocketbase

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voyasim/simflow/core"
	"github.com/voyasim/simflow/store"
)

func testConfig(url string) core.StoreConfig {
	return core.StoreConfig{
		URL:           url,
		AdminEmail:    "admin@example.com",
		AdminPassword: "pw",
		Timeout:       5 * time.Second,
	}
}

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := New(testConfig(srv.URL), core.NewTokenCache(), nil)
	require.NoError(t, err)
	return client, srv
}

func authHandler(authCalls *int32, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/admins/auth-with-password" {
			atomic.AddInt32(authCalls, 1)
			_ = json.NewEncoder(w).Encode(map[string]string{"token": "admin-token"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func TestNewRequiresCredentials(t *testing.T) {
	_, err := New(core.StoreConfig{URL: "http://x"}, nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrMissingConfiguration)

	_, err = New(core.StoreConfig{AdminEmail: "a", AdminPassword: "b"}, nil, nil)
	require.Error(t, err)

	_, err = New(core.StoreConfig{URL: "http://x", StaticToken: "tok"}, nil, nil)
	assert.NoError(t, err, "static token alone is sufficient")
}

func TestAdminTokenCachedAcrossRequests(t *testing.T) {
	var authCalls int32
	client, _ := newTestClient(t, authHandler(&authCalls, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "admin-token", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id": "rec1", "created": "2026-03-01 10:00:00.000Z", "updated": "2026-03-01 10:00:00.000Z",
		})
	})))

	orders := client.Collection(store.CollectionOrders)
	for i := 0; i < 3; i++ {
		_, err := orders.Get(context.Background(), "rec1")
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&authCalls), "token exchanged once for many requests")
}

func TestUnauthorizedInvalidatesAndRetries(t *testing.T) {
	var authCalls, dataCalls int32
	client, _ := newTestClient(t, authHandler(&authCalls, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&dataCalls, 1) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "rec1"})
	})))

	rec, err := client.Collection(store.CollectionOrders).Get(context.Background(), "rec1")
	require.NoError(t, err)
	assert.Equal(t, "rec1", rec.ID)
	assert.Equal(t, int32(2), atomic.LoadInt32(&authCalls), "401 forces a fresh token exchange")
	assert.Equal(t, int32(2), atomic.LoadInt32(&dataCalls), "request retried exactly once")
}

func TestGetNotFound(t *testing.T) {
	var authCalls int32
	client, _ := newTestClient(t, authHandler(&authCalls, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})))

	_, err := client.Collection(store.CollectionOrders).Get(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrRecordNotFound))
}

func TestServerErrorIsStoreUnavailable(t *testing.T) {
	var authCalls int32
	client, _ := newTestClient(t, authHandler(&authCalls, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})))

	_, err := client.Collection(store.CollectionBreakerStates).Get(context.Background(), "x")
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrStoreUnavailable))
}

func TestConnectionRefusedIsStoreUnavailable(t *testing.T) {
	client, err := New(testConfig("http://127.0.0.1:1"), core.NewTokenCache(), nil)
	require.NoError(t, err)

	_, err = client.Collection(store.CollectionOrders).Get(context.Background(), "x")
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrStoreUnavailable))
}

func TestCreateSendsFormattedTimes(t *testing.T) {
	var authCalls int32
	var received map[string]any
	client, _ := newTestClient(t, authHandler(&authCalls, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "new1"})
	})))

	ts := time.Date(2026, 3, 1, 10, 0, 0, 500e6, time.UTC)
	_, err := client.Collection(store.CollectionAutomationLogs).Create(context.Background(), map[string]any{
		"step_name": "provider_call",
		"logged_at": ts,
	})
	require.NoError(t, err)
	assert.Equal(t, "2026-03-01 10:00:00.500Z", received["logged_at"])
}

func TestListPagination(t *testing.T) {
	t.Run("aligned offset maps to a page", func(t *testing.T) {
		var authCalls int32
		var gotQuery map[string]string
		client, _ := newTestClient(t, authHandler(&authCalls, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotQuery = map[string]string{
				"page":    r.URL.Query().Get("page"),
				"perPage": r.URL.Query().Get("perPage"),
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"items": []map[string]any{{"id": "a"}}})
		})))

		_, err := client.Collection(store.CollectionInquiries).List(context.Background(), store.Query{
			Offset: 40, Limit: 20,
		})
		require.NoError(t, err)
		assert.Equal(t, "3", gotQuery["page"])
		assert.Equal(t, "20", gotQuery["perPage"])
	})

	t.Run("unaligned offset over-fetches and slices", func(t *testing.T) {
		var authCalls int32
		client, _ := newTestClient(t, authHandler(&authCalls, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "1", r.URL.Query().Get("page"))
			assert.Equal(t, "25", r.URL.Query().Get("perPage"))
			items := make([]map[string]any, 25)
			for i := range items {
				items[i] = map[string]any{"id": string(rune('a' + i))}
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"items": items})
		})))

		recs, err := client.Collection(store.CollectionInquiries).List(context.Background(), store.Query{
			Offset: 5, Limit: 20,
		})
		require.NoError(t, err)
		require.Len(t, recs, 20)
		assert.Equal(t, "f", recs[0].ID)
	})

	t.Run("filter and sort are forwarded", func(t *testing.T) {
		var authCalls int32
		var filter, sortParam string
		client, _ := newTestClient(t, authHandler(&authCalls, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			filter = r.URL.Query().Get("filter")
			sortParam = r.URL.Query().Get("sort")
			_ = json.NewEncoder(w).Encode(map[string]any{"items": []map[string]any{}})
		})))

		_, err := client.Collection(store.CollectionInquiries).List(context.Background(), store.Query{
			Filter: store.And(store.Eq("status", "open"), store.Eq("channel", "email")),
			Sort:   "-created",
		})
		require.NoError(t, err)
		assert.Equal(t, "status = 'open' && channel = 'email'", filter)
		assert.Equal(t, "-created", sortParam)
	})
}

func TestRecordSystemFieldsExtracted(t *testing.T) {
	var authCalls int32
	client, _ := newTestClient(t, authHandler(&authCalls, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":             "rec9",
			"created":        "2026-03-01 09:00:00.000Z",
			"updated":        "2026-03-01 09:30:00.000Z",
			"collectionId":   "col123",
			"collectionName": "orders",
			"status":         "delivered",
		})
	})))

	rec, err := client.Collection(store.CollectionOrders).Get(context.Background(), "rec9")
	require.NoError(t, err)

	assert.Equal(t, "rec9", rec.ID)
	assert.Equal(t, time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC), rec.Created)
	assert.Equal(t, time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC), rec.Updated)
	assert.Equal(t, "delivered", rec.GetString("status"))
	assert.NotContains(t, rec.Fields, "collectionId")
	assert.NotContains(t, rec.Fields, "collectionName")
}

func TestStaticTokenSkipsAuth(t *testing.T) {
	var sawAuth bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/admins/auth-with-password" {
			sawAuth = true
		}
		assert.Equal(t, "static-token", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "rec1"})
	}))
	t.Cleanup(srv.Close)

	client, err := New(core.StoreConfig{URL: srv.URL, StaticToken: "static-token"}, nil, nil)
	require.NoError(t, err)

	_, err = client.Collection(store.CollectionOrders).Get(context.Background(), "rec1")
	require.NoError(t, err)
	assert.False(t, sawAuth)
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/health", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	client, err := New(core.StoreConfig{URL: srv.URL, StaticToken: "t"}, nil, nil)
	require.NoError(t, err)
	assert.NoError(t, client.Health(context.Background()))
}
