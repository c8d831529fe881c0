package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// tokenRefreshWindow is how long before expiry a cached token is treated
// as stale. Refreshing early avoids sending a token that expires mid-flight.
const tokenRefreshWindow = 60 * time.Second

// TokenSource fetches a fresh token from an OAuth2 token endpoint.
type TokenSource func(ctx context.Context) (Token, error)

// TokenCache caches OAuth2 access tokens per credential key and collapses
// concurrent refreshes for the same key into a single upstream call. All
// waiters share the one result. Keys are "<adapter>:<client-id>" by
// convention so rotated credentials never reuse a stale entry.
type TokenCache struct {
	mu     sync.RWMutex
	tokens map[string]Token
	group  singleflight.Group

	now func() time.Time
}

// NewTokenCache returns an empty token cache.
func NewTokenCache() *TokenCache {
	return &TokenCache{
		tokens: make(map[string]Token),
		now:    time.Now,
	}
}

// Token returns the cached token for key when it is still fresh, otherwise
// refreshes it via fetch. Concurrent callers for the same key during a
// refresh block and receive the same token or the same error. A failed
// refresh is classified as an authentication error and is never retried by
// the retry loop.
func (c *TokenCache) Token(ctx context.Context, key string, fetch TokenSource) (Token, error) {
	c.mu.RLock()
	tok, ok := c.tokens[key]
	c.mu.RUnlock()
	if ok && tok.Valid(c.now()) {
		return tok, nil
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		// Another waiter may have completed the refresh while this
		// goroutine queued for the flight.
		c.mu.RLock()
		tok, ok := c.tokens[key]
		c.mu.RUnlock()
		if ok && tok.Valid(c.now()) {
			return tok, nil
		}

		fresh, err := fetch(ctx)
		if err != nil {
			return Token{}, &PlatformError{
				Op:       "token.refresh",
				Kind:     KindAuthentication,
				Provider: key,
				Message:  "token refresh failed",
				Err:      fmt.Errorf("%w: %w", ErrTokenRefresh, err),
			}
		}
		if fresh.AccessToken == "" {
			return Token{}, &PlatformError{
				Op:       "token.refresh",
				Kind:     KindInvalidResponse,
				Provider: key,
				Message:  "token endpoint returned empty access token",
				Err:      ErrTokenRefresh,
			}
		}

		c.mu.Lock()
		c.tokens[key] = fresh
		c.mu.Unlock()
		return fresh, nil
	})
	if err != nil {
		return Token{}, err
	}
	return v.(Token), nil
}

// Invalidate drops the cached token for key. Adapters call this when an
// API responds 401 so the next call performs a fresh token exchange.
func (c *TokenCache) Invalidate(key string) {
	c.mu.Lock()
	delete(c.tokens, key)
	c.mu.Unlock()
}

// Put seeds a token directly, bypassing fetch. Used by adapters whose token
// exchange returns extra state alongside the token.
func (c *TokenCache) Put(key string, tok Token) {
	c.mu.Lock()
	c.tokens[key] = tok
	c.mu.Unlock()
}

// Len reports the number of cached entries.
func (c *TokenCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.tokens)
}

// NewToken builds a Token from a token endpoint response, converting the
// expires_in seconds into an absolute expiry.
func NewToken(accessToken, tokenType string, expiresIn int64, now time.Time) Token {
	return Token{
		AccessToken: accessToken,
		TokenType:   tokenType,
		Expiry:      now.Add(time.Duration(expiresIn) * time.Second),
	}
}
