package talktalk

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voyasim/simflow/core"
)

func newTestAdapter(t *testing.T, handler http.Handler) *Adapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := core.TalkTalkConfig{
		ClientID:     "cid",
		ClientSecret: "csecret",
		ChannelID:    "ch-1",
		BaseURL:      srv.URL,
	}
	return New(cfg, core.NewTokenCache(), nil, nil)
}

func TestSendReplyPushesSendEvent(t *testing.T) {
	var event map[string]any
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "tt-token",
			"token_type":   "bearer",
			"expires_in":   3600,
		})
	})
	mux.HandleFunc("/chatbot/v1/events", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "tt-token", r.Header.Get("Authorization"))
		_ = json.NewDecoder(r.Body).Decode(&event)
		w.WriteHeader(http.StatusOK)
	})
	a := newTestAdapter(t, mux)

	res, err := a.SendReply(context.Background(), "user-key-1", "Your eSIM is on its way.")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "send", event["event"])
	assert.Equal(t, "user-key-1", event["user"])
	assert.Equal(t, "Your eSIM is on its way.", event["textContent"].(map[string]any)["text"])
}

func TestPushOnlyFetch(t *testing.T) {
	a := newTestAdapter(t, http.NewServeMux())

	got, err := a.FetchInquiries(context.Background(), core.FetchOptions{})
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = a.FetchMessages(context.Background(), "user-key-1")
	require.ErrorIs(t, err, core.ErrNotSupported)
}

func TestDisabledWithoutCredentials(t *testing.T) {
	a := New(core.TalkTalkConfig{}, core.NewTokenCache(), nil, nil)
	assert.False(t, a.IsEnabled())
	_, err := a.SendReply(context.Background(), "u", "hi")
	require.ErrorIs(t, err, core.ErrNotConfigured)
}
