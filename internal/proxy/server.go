// Package proxy implements the keep-alive reverse proxy in front of the
// Numera backend. It forwards requests over a pooled transport so upstream
// connections stay warm, and serves rule-matched GET routes from the shared
// response cache.
package proxy

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/numera-app/edge/internal/cache"
	"github.com/numera-app/edge/internal/config"

	"github.com/sirupsen/logrus"
)

// Server represents the reverse proxy server
type Server struct {
	config   *config.Config
	store    *cache.Store
	upstream *url.URL
	client   *http.Client
	ttl      time.Duration
}

// cachedResponse is the store payload for a cacheable route.
type cachedResponse struct {
	status int
	header http.Header
	body   []byte
}

// New creates a new reverse proxy server
func New(cfg *config.Config, store *cache.Store) (*Server, error) {
	upstream, err := url.Parse(cfg.Upstream.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream base URL: %w", err)
	}

	ttl, err := cfg.GetCacheTTL()
	if err != nil {
		return nil, fmt.Errorf("invalid cache TTL: %w", err)
	}

	timeout, err := cfg.GetUpstreamTimeout()
	if err != nil {
		return nil, fmt.Errorf("invalid upstream timeout: %w", err)
	}

	// Keep-alive is the whole point of this shim: pool upstream
	// connections instead of dialing per request. The timeout bounds the
	// wait for response headers only; bodies may stream for as long as
	// the client keeps reading.
	transport := &http.Transport{
		MaxIdleConns:          cfg.Upstream.MaxIdleConns,
		MaxIdleConnsPerHost:   cfg.Upstream.MaxIdleConns,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: timeout,
	}

	return &Server{
		config:   cfg,
		store:    store,
		upstream: upstream,
		client: &http.Client{
			Transport: transport,
		},
		ttl: ttl,
	}, nil
}

// Handler returns the proxy's HTTP handler (exported for testing)
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.handleRequest)
}

// Start starts the reverse proxy server
func (s *Server) Start() error {
	idle, err := s.config.GetIdleTimeout()
	if err != nil {
		return fmt.Errorf("invalid idle timeout: %w", err)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Server.Port),
		Handler:           s.Handler(),
		IdleTimeout:       idle,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logrus.Infof("Starting edge proxy on port %d", s.config.Server.Port)
	logrus.Infof("Upstream: %s", s.config.Upstream.BaseURL)
	logrus.Infof("Cache TTL: %s", s.config.Cache.TTL)
	logrus.Infof("Rules mode: %s", s.config.Rules.Mode)

	return srv.ListenAndServe()
}

func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request) {
	if s.shouldCache(r) {
		if s.serveCached(w, r) {
			return
		}
	}

	s.forwardRequest(w, r)
}

func (s *Server) shouldCache(r *http.Request) bool {
	return s.config.Rules.ShouldCache(r.URL.Path, r.Method)
}

func (s *Server) cacheKey(r *http.Request) string {
	scope := r.URL.Path
	if r.URL.RawQuery != "" {
		scope += "?" + hashQuery(r.URL.RawQuery)
	}
	return cache.Key("proxy", r.Method, scope)
}

func (s *Server) serveCached(w http.ResponseWriter, r *http.Request) bool {
	data, found := s.store.Get(s.cacheKey(r))
	if !found {
		return false
	}
	resp, ok := data.(*cachedResponse)
	if !ok {
		return false
	}

	logrus.Debugf("Serving from cache: %s", r.URL.Path)

	copyHeader(w.Header(), resp.header)
	w.Header().Set("X-Cache", "HIT")
	w.WriteHeader(resp.status)
	if _, err := w.Write(resp.body); err != nil {
		logrus.Errorf("Failed to write cached response: %v", err)
	}
	return true
}

func (s *Server) forwardRequest(w http.ResponseWriter, requ *http.Request) {
	target := *s.upstream
	target.Path = singleJoiningSlash(s.upstream.Path, requ.URL.Path)
	target.RawQuery = requ.URL.RawQuery

	req, err := http.NewRequestWithContext(requ.Context(), requ.Method, target.String(), requ.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	copyHeader(req.Header, requ.Header)
	if host, _, err := net.SplitHostPort(requ.RemoteAddr); err == nil {
		req.Header.Set("X-Forwarded-For", host)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	copyHeader(w.Header(), resp.Header)
	w.Header().Set("X-Cache", "MISS")
	w.WriteHeader(resp.StatusCode)

	out := newFlushWriter(w)
	cacheable := s.shouldCache(requ) && resp.StatusCode == http.StatusOK

	if !cacheable {
		// Stream straight through; buffering would stall SSE and
		// slow chunked upstreams.
		if _, err := io.Copy(out, resp.Body); err != nil {
			logrus.Errorf("Failed to stream response body: %v", err)
		}
		logrus.Infof("Forwarded request: %s %s -> %d", requ.Method, requ.URL.Path, resp.StatusCode)
		return
	}

	var buf bytes.Buffer
	if _, err := io.Copy(io.MultiWriter(out, &buf), resp.Body); err != nil {
		// The client got a partial body; it must not become a cache entry
		logrus.Errorf("Failed to stream response body: %v", err)
		return
	}

	ent := &cachedResponse{
		status: resp.StatusCode,
		header: resp.Header.Clone(),
		body:   buf.Bytes(),
	}
	if err := s.store.Set(s.cacheKey(requ), ent, cache.Options{TTL: s.ttl}); err != nil {
		logrus.Errorf("Failed to cache response: %v", err)
	}

	logrus.Infof("Forwarded request: %s %s -> %d", requ.Method, requ.URL.Path, resp.StatusCode)
}
