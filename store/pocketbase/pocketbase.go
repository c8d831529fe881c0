// Package pocketbase implements store.Store against a PocketBase instance
// over its REST API. Admin authentication goes through the shared token
// cache so concurrent requests never stampede the auth endpoint, and a 401
// response invalidates the cached token and retries the call once.
package pocketbase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/voyasim/simflow/core"
	"github.com/voyasim/simflow/store"
)

// adminTokenTTL is how long a cached admin token is reused before
// re-authenticating. PocketBase tokens live far longer; refreshing hourly
// keeps a revoked credential from working indefinitely.
const adminTokenTTL = int64(3600)

const tokenCacheKey = "pocketbase:admin"

// Client talks to one PocketBase instance.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  *core.TokenCache
	logger  core.Logger

	adminEmail    string
	adminPassword string
	staticToken   string
}

// New builds a client from store configuration. Either a static token or
// admin credentials must be present.
func New(cfg core.StoreConfig, tokens *core.TokenCache, logger core.Logger) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("%w: store URL", core.ErrMissingConfiguration)
	}
	if cfg.StaticToken == "" && (cfg.AdminEmail == "" || cfg.AdminPassword == "") {
		return nil, fmt.Errorf("%w: store credentials", core.ErrMissingConfiguration)
	}
	if tokens == nil {
		tokens = core.NewTokenCache()
	}
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: cfg.URL,
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		tokens:        tokens,
		logger:        logger,
		adminEmail:    cfg.AdminEmail,
		adminPassword: cfg.AdminPassword,
		staticToken:   cfg.StaticToken,
	}, nil
}

// Collection returns an accessor for the named collection.
func (c *Client) Collection(name string) store.Collection {
	return &collection{client: c, name: name}
}

// Health checks the instance health endpoint.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrStoreUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: health returned %d", core.ErrStoreUnavailable, resp.StatusCode)
	}
	return nil
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

func (c *Client) authToken(ctx context.Context) (string, error) {
	if c.staticToken != "" {
		return c.staticToken, nil
	}
	tok, err := c.tokens.Token(ctx, tokenCacheKey, c.fetchAdminToken)
	if err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}

func (c *Client) fetchAdminToken(ctx context.Context) (core.Token, error) {
	body, _ := json.Marshal(map[string]string{
		"identity": c.adminEmail,
		"password": c.adminPassword,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/admins/auth-with-password", bytes.NewReader(body))
	if err != nil {
		return core.Token{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return core.Token{}, fmt.Errorf("%w: %v", core.ErrStoreUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return core.Token{}, fmt.Errorf("admin auth returned %d", resp.StatusCode)
	}

	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return core.Token{}, fmt.Errorf("decoding auth response: %w", err)
	}
	return core.NewToken(out.Token, "Bearer", adminTokenTTL, time.Now()), nil
}

// do performs one authenticated request, retrying exactly once after a 401
// with a freshly exchanged token.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any) (*http.Response, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding request: %w", err)
		}
	}

	for attempt := 0; attempt < 2; attempt++ {
		token, err := c.authToken(ctx)
		if err != nil {
			return nil, err
		}

		u := c.baseURL + path
		if len(query) > 0 {
			u += "?" + query.Encode()
		}
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, u, reader)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", token)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", core.ErrStoreUnavailable, err)
		}

		if resp.StatusCode == http.StatusUnauthorized && c.staticToken == "" && attempt == 0 {
			resp.Body.Close()
			c.tokens.Invalidate(tokenCacheKey)
			c.logger.Warn("Store token rejected, re-authenticating", map[string]interface{}{
				"path": path,
			})
			continue
		}
		return resp, nil
	}
	return nil, fmt.Errorf("%w: repeated 401 from store", core.ErrTokenRefresh)
}

func (c *Client) decodeError(name string, resp *http.Response) error {
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s: %w", name, core.ErrRecordNotFound)
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: %s returned %d: %s", core.ErrStoreUnavailable, name, resp.StatusCode, raw)
	default:
		kind, _ := core.ClassifyHTTP(resp.StatusCode)
		return &core.PlatformError{
			Op:      "store." + name,
			Kind:    kind,
			Message: fmt.Sprintf("status %d: %s", resp.StatusCode, raw),
			Err:     fmt.Errorf("store request failed with status %d", resp.StatusCode),
		}
	}
}

type collection struct {
	client *Client
	name   string
}

func (col *collection) path() string {
	return "/api/collections/" + url.PathEscape(col.name) + "/records"
}

func (col *collection) Create(ctx context.Context, fields map[string]any) (*store.Record, error) {
	resp, err := col.client.do(ctx, http.MethodPost, col.path(), nil, prepare(fields))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, col.client.decodeError(col.name, resp)
	}
	return decodeRecord(resp)
}

func (col *collection) Get(ctx context.Context, id string) (*store.Record, error) {
	resp, err := col.client.do(ctx, http.MethodGet, col.path()+"/"+url.PathEscape(id), nil, nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, col.client.decodeError(col.name, resp)
	}
	return decodeRecord(resp)
}

func (col *collection) Update(ctx context.Context, id string, fields map[string]any) (*store.Record, error) {
	resp, err := col.client.do(ctx, http.MethodPatch, col.path()+"/"+url.PathEscape(id), nil, prepare(fields))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, col.client.decodeError(col.name, resp)
	}
	return decodeRecord(resp)
}

func (col *collection) Delete(ctx context.Context, id string) error {
	resp, err := col.client.do(ctx, http.MethodDelete, col.path()+"/"+url.PathEscape(id), nil, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		return col.client.decodeError(col.name, resp)
	}
	return nil
}

func (col *collection) List(ctx context.Context, q store.Query) ([]*store.Record, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}

	// The API pages by page/perPage. An offset aligned to the limit maps
	// onto a page directly; otherwise fetch offset+limit rows in one page
	// and slice.
	page := 1
	perPage := limit
	trim := 0
	if q.Offset > 0 {
		if q.Offset%limit == 0 {
			page = q.Offset/limit + 1
		} else {
			perPage = q.Offset + limit
			trim = q.Offset
		}
	}

	query := url.Values{}
	query.Set("page", strconv.Itoa(page))
	query.Set("perPage", strconv.Itoa(perPage))
	query.Set("skipTotal", "1")
	if q.Filter != nil {
		query.Set("filter", q.Filter.String())
	}
	if q.Sort != "" {
		query.Set("sort", q.Sort)
	}

	resp, err := col.client.do(ctx, http.MethodGet, col.path(), query, nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, col.client.decodeError(col.name, resp)
	}
	defer resp.Body.Close()

	var out struct {
		Items []map[string]any `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding list response: %w", err)
	}

	items := out.Items
	if trim > 0 {
		if trim >= len(items) {
			items = nil
		} else {
			items = items[trim:]
		}
	}

	recs := make([]*store.Record, 0, len(items))
	for _, item := range items {
		recs = append(recs, recordFromMap(item))
	}
	return recs, nil
}

func (col *collection) First(ctx context.Context, q store.Query) (*store.Record, error) {
	q.Limit = 1
	q.Offset = 0
	recs, err := col.List(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("%s: %w", col.name, core.ErrRecordNotFound)
	}
	return recs[0], nil
}

// prepare formats time.Time values into the store datetime layout.
func prepare(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		if t, ok := v.(time.Time); ok {
			out[k] = store.FormatTime(t)
			continue
		}
		out[k] = v
	}
	return out
}

func decodeRecord(resp *http.Response) (*store.Record, error) {
	defer resp.Body.Close()
	var raw map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decoding record: %w", err)
	}
	return recordFromMap(raw), nil
}

func recordFromMap(raw map[string]any) *store.Record {
	rec := &store.Record{Fields: raw}
	if id, ok := raw["id"].(string); ok {
		rec.ID = id
	}
	if s, ok := raw["created"].(string); ok {
		rec.Created = parseDateTime(s)
	}
	if s, ok := raw["updated"].(string); ok {
		rec.Updated = parseDateTime(s)
	}
	delete(raw, "id")
	delete(raw, "created")
	delete(raw, "updated")
	delete(raw, "collectionId")
	delete(raw, "collectionName")
	return rec
}

func parseDateTime(s string) time.Time {
	t, err := time.Parse(store.DateTimeLayout, s)
	if err != nil {
		t, err = time.Parse(time.RFC3339, s)
		if err != nil {
			return time.Time{}
		}
	}
	return t.UTC()
}
