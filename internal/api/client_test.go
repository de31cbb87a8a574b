package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/numera-app/edge/internal/cache"

	"github.com/stretchr/testify/require"
)

type backendCounters struct {
	profile atomic.Int32
	refresh atomic.Int32
	unauth  atomic.Int32
	updates atomic.Int32
}

// fixture_backend serves a fake Numera API. Requests without the "good"
// bearer token get a 401; /auth/refresh trades "r1" for the good pair.
func fixture_backend(t *testing.T, counters *backendCounters) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()

	authorized := func(requ *http.Request) bool {
		return requ.Header.Get("Authorization") == "Bearer good"
	}

	mux.HandleFunc("/auth/refresh", func(w http.ResponseWriter, requ *http.Request) {
		counters.refresh.Add(1)

		var body struct {
			RefreshToken string `json:"refresh_token"`
		}
		require.NoError(t, json.NewDecoder(requ.Body).Decode(&body))
		if body.RefreshToken != "r1" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error": "invalid refresh token"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(Tokens{AccessToken: "good", RefreshToken: "r2"})
	})

	mux.HandleFunc("/v1/profile", func(w http.ResponseWriter, requ *http.Request) {
		if !authorized(requ) {
			counters.unauth.Add(1)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		if requ.Method == http.MethodPut {
			counters.updates.Add(1)
			var p Profile
			require.NoError(t, json.NewDecoder(requ.Body).Decode(&p))
			_ = json.NewEncoder(w).Encode(p)
			return
		}

		counters.profile.Add(1)
		_ = json.NewEncoder(w).Encode(Profile{
			UserID:         "u1",
			FullName:       "Ann Example",
			BirthDate:      "1990-03-14",
			LifePathNumber: 7,
			DestinyNumber:  3,
			SoulUrgeNumber: 9,
		})
	})

	mux.HandleFunc("/v1/boom", func(w http.ResponseWriter, requ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error": "boom"}`))
	})

	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func fixture_client(t *testing.T, baseURL string, tokens Tokens) (*Client, *cache.Store) {
	t.Helper()

	store := cache.New()
	client, err := New(baseURL, store, tokens, cache.Options{TTL: time.Hour, MaxAge: time.Hour})
	require.NoError(t, err)
	return client, store
}

func TestProfileServedFromCache(t *testing.T) {
	var counters backendCounters
	backend := fixture_backend(t, &counters)
	client, _ := fixture_client(t, backend.URL, Tokens{AccessToken: "good"})

	p, err := client.Profile(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, 7, p.LifePathNumber)

	p, err = client.Profile(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, "Ann Example", p.FullName)

	require.EqualValues(t, 1, counters.profile.Load(), "second read must be a cache hit")
}

func TestRefreshOn401(t *testing.T) {
	var counters backendCounters
	backend := fixture_backend(t, &counters)
	client, _ := fixture_client(t, backend.URL, Tokens{AccessToken: "expired", RefreshToken: "r1"})

	p, err := client.Profile(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, "u1", p.UserID)

	require.EqualValues(t, 1, counters.unauth.Load())
	require.EqualValues(t, 1, counters.refresh.Load())
	require.EqualValues(t, 1, counters.profile.Load())

	// The renewed token pair is kept for later requests
	require.Equal(t, "good", client.accessToken())
}

func TestRefreshWithoutTokenFails(t *testing.T) {
	var counters backendCounters
	backend := fixture_backend(t, &counters)
	client, _ := fixture_client(t, backend.URL, Tokens{AccessToken: "expired"})

	_, err := client.Profile(context.Background(), "")
	require.ErrorIs(t, err, ErrNoRefreshToken)
}

func TestUpdateProfileInvalidatesCache(t *testing.T) {
	var counters backendCounters
	backend := fixture_backend(t, &counters)
	client, store := fixture_client(t, backend.URL, Tokens{AccessToken: "good"})

	_, err := client.Profile(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, 1, store.Size())

	_, err = client.UpdateProfile(context.Background(), &Profile{UserID: "u1", FullName: "Ann Updated"})
	require.NoError(t, err)
	require.EqualValues(t, 1, counters.updates.Load())
	require.Equal(t, 0, store.Size(), "mutation must drop cached profile data")

	// Next read goes back to the backend
	_, err = client.Profile(context.Background(), "")
	require.NoError(t, err)
	require.EqualValues(t, 2, counters.profile.Load())
}

func TestBackendErrorSurfaces(t *testing.T) {
	var counters backendCounters
	backend := fixture_backend(t, &counters)
	client, _ := fixture_client(t, backend.URL, Tokens{AccessToken: "good"})

	err := client.getJSON(context.Background(), "/v1/boom", &struct{}{})
	require.Error(t, err)

	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
	require.Equal(t, "boom", apiErr.Message)
}

func TestBackendFailureFallsBackToCache(t *testing.T) {
	var counters backendCounters
	backend := fixture_backend(t, &counters)

	store := cache.New()
	// Immediately-stale entries with revalidation disabled force a
	// synchronous refetch on every read
	opts := cache.Options{TTL: time.Hour, MaxAge: time.Nanosecond, NoRevalidate: true}
	client, err := New(backend.URL, store, Tokens{AccessToken: "good"}, opts)
	require.NoError(t, err)

	p, err := client.Profile(context.Background(), "")
	require.NoError(t, err)

	// Backend goes away; the refetch fails and the cached profile is
	// served instead
	backend.Close()

	got, err := client.Profile(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, p, got)
}
