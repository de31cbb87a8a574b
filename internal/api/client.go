// Package api is the client for the remote Numera numerology backend.
// Read endpoints go through the response cache with stale-while-revalidate;
// mutations invalidate the affected key prefixes.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/numera-app/edge/internal/cache"

	"github.com/sirupsen/logrus"
)

// ErrNoRefreshToken is returned when the backend rejects the access token
// and no refresh token is available to renew it.
var ErrNoRefreshToken = errors.New("api: no refresh token")

// Error is a non-2xx backend response.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("api: backend returned %d: %s", e.StatusCode, e.Message)
}

// Client talks to the Numera backend.
type Client struct {
	base  *url.URL
	http  *http.Client
	store *cache.Store
	opts  cache.Options

	mu     sync.Mutex
	tokens Tokens
}

// New creates a backend client. The store is shared with whatever else
// caches responses in the process; opts apply to every cached read.
func New(baseURL string, store *cache.Store, tokens Tokens, opts cache.Options) (*Client, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	return &Client{
		base: base,
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
		store:  store,
		opts:   opts,
		tokens: tokens,
	}, nil
}

// Profile returns the numerology profile for userID. An empty userID means
// the authenticated user.
func (c *Client) Profile(ctx context.Context, userID string) (*Profile, error) {
	return cache.Fetch(ctx, c.store, cache.ProfileKey(userID), c.opts, func(ctx context.Context) (*Profile, error) {
		var p Profile
		if err := c.getJSON(ctx, profilePath(userID), &p); err != nil {
			return nil, err
		}
		return &p, nil
	})
}

// DailyReading returns the reading for a date in YYYY-MM-DD form.
func (c *Client) DailyReading(ctx context.Context, date string) (*Reading, error) {
	return cache.Fetch(ctx, c.store, cache.ReadingKey(date), c.opts, func(ctx context.Context) (*Reading, error) {
		var r Reading
		if err := c.getJSON(ctx, "/v1/readings/"+url.PathEscape(date), &r); err != nil {
			return nil, err
		}
		return &r, nil
	})
}

// Compatibility returns the compatibility report between two profiles.
func (c *Client) Compatibility(ctx context.Context, userID, otherID string) (*Compatibility, error) {
	return cache.Fetch(ctx, c.store, cache.CompatibilityKey(userID, otherID), c.opts, func(ctx context.Context) (*Compatibility, error) {
		q := url.Values{"user": {userID}, "other": {otherID}}
		var comp Compatibility
		if err := c.getJSON(ctx, "/v1/compatibility?"+q.Encode(), &comp); err != nil {
			return nil, err
		}
		return &comp, nil
	})
}

// Subscription returns the authenticated user's subscription status.
func (c *Client) Subscription(ctx context.Context) (*Subscription, error) {
	return cache.Fetch(ctx, c.store, cache.SubscriptionKey(""), c.opts, func(ctx context.Context) (*Subscription, error) {
		var sub Subscription
		if err := c.getJSON(ctx, "/v1/subscription", &sub); err != nil {
			return nil, err
		}
		return &sub, nil
	})
}

// Notifications returns the authenticated user's notification feed. The
// feed changes often, so it gets a shorter lifetime than the client-wide
// options.
func (c *Client) Notifications(ctx context.Context) ([]Notification, error) {
	opts := cache.Options{TTL: time.Minute, MaxAge: 30 * time.Second}
	return cache.Fetch(ctx, c.store, cache.NotificationsKey(""), opts, func(ctx context.Context) ([]Notification, error) {
		var feed []Notification
		if err := c.getJSON(ctx, "/v1/notifications", &feed); err != nil {
			return nil, err
		}
		return feed, nil
	})
}

// UpdateProfile writes the authenticated user's profile and drops every
// cached value derived from it.
func (c *Client) UpdateProfile(ctx context.Context, p *Profile) (*Profile, error) {
	var out Profile
	if err := c.doJSON(ctx, http.MethodPut, "/v1/profile", p, &out); err != nil {
		return nil, err
	}

	c.store.InvalidatePrefix(cache.Key(cache.Namespace, "profile", ""))
	c.store.InvalidatePrefix(cache.Key(cache.Namespace, "compatibility", ""))
	return &out, nil
}

func profilePath(userID string) string {
	if userID == "" {
		return "/v1/profile"
	}
	return "/v1/profiles/" + url.PathEscape(userID)
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	return c.doJSON(ctx, http.MethodGet, path, nil, out)
}

// doJSON performs one request with bearer auth. On a 401 it refreshes the
// session once and retries; a second 401 surfaces as an *Error.
func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
	}

	resp, err := c.do(ctx, method, path, payload)
	if err != nil {
		return err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		if err := drain(resp); err != nil {
			return err
		}
		if err := c.refreshTokens(ctx); err != nil {
			return fmt.Errorf("refreshing session: %w", err)
		}
		resp, err = c.do(ctx, method, path, payload)
		if err != nil {
			return err
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return responseError(resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response body: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte) (*http.Response, error) {
	var rdr io.Reader
	if payload != nil {
		rdr = bytes.NewReader(payload)
	}

	ref, err := url.Parse(path)
	if err != nil {
		return nil, fmt.Errorf("invalid request path: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base.ResolveReference(ref).String(), rdr)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok := c.accessToken(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	return c.http.Do(req)
}

func (c *Client) accessToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tokens.AccessToken
}

// refreshTokens renews the session through the refresh endpoint and swaps
// in the new token pair.
func (c *Client) refreshTokens(ctx context.Context) error {
	c.mu.Lock()
	refresh := c.tokens.RefreshToken
	c.mu.Unlock()

	if refresh == "" {
		return ErrNoRefreshToken
	}

	payload, err := json.Marshal(map[string]string{"refresh_token": refresh})
	if err != nil {
		return fmt.Errorf("encoding refresh request: %w", err)
	}

	ref := &url.URL{Path: "/auth/refresh"}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base.ResolveReference(ref).String(), bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return responseError(resp)
	}

	var tokens Tokens
	if err := json.NewDecoder(resp.Body).Decode(&tokens); err != nil {
		return fmt.Errorf("decoding refresh response: %w", err)
	}

	c.mu.Lock()
	c.tokens = tokens
	c.mu.Unlock()

	logrus.Debugf("Refreshed backend session")
	return nil
}

func drain(resp *http.Response) error {
	defer resp.Body.Close()
	_, err := io.Copy(io.Discard, resp.Body)
	return err
}

// responseError turns a non-2xx response into an *Error, using the
// backend's {"error": "..."} body when present.
func responseError(resp *http.Response) error {
	apiErr := &Error{
		StatusCode: resp.StatusCode,
		Message:    http.StatusText(resp.StatusCode),
	}

	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Error != "" {
		apiErr.Message = body.Error
	}
	return apiErr
}
