// Package devproxy implements the local development proxy: a forward
// caching proxy that records backend responses in the shared in-memory
// store and replays them on repeat requests, so frontend work doesn't
// hammer the real Numera API.
package devproxy

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/numera-app/edge/internal/cache"
	"github.com/numera-app/edge/internal/config"

	"github.com/elazarl/goproxy"
	"github.com/sirupsen/logrus"
)

// Server represents the development caching proxy
type Server struct {
	config *config.Config
	store  *cache.Store
	ttl    time.Duration
	proxy  *goproxy.ProxyHttpServer
}

// New creates a new development proxy
func New(cfg *config.Config, store *cache.Store) (*Server, error) {
	ttl, err := cfg.GetCacheTTL()
	if err != nil {
		return nil, fmt.Errorf("invalid cache TTL: %w", err)
	}

	s := &Server{
		config: cfg,
		store:  store,
		ttl:    ttl,
		proxy:  goproxy.NewProxyHttpServer(),
	}

	s.setupHTTPSHandler()

	s.proxy.OnRequest().DoFunc(func(requ *http.Request, ctx *goproxy.ProxyCtx) (*http.Request, *http.Response) {
		if !s.shouldCache(requ) {
			return requ, nil
		}
		if resp := s.getCachedResponse(requ); resp != nil {
			return requ, resp
		}
		return requ, nil
	})

	s.proxy.OnResponse().DoFunc(func(resp *http.Response, ctx *goproxy.ProxyCtx) *http.Response {
		if resp == nil || ctx.Req == nil {
			return resp
		}
		// Short-circuited cache hits come back through here too
		if resp.Header.Get("X-Cache") == "HIT" {
			return resp
		}

		if s.shouldCache(ctx.Req) && resp.StatusCode == http.StatusOK {
			s.cacheResponse(ctx.Req, resp)
		}
		resp.Header.Set("X-Cache", "MISS")
		return resp
	})

	return s, nil
}

// Handler returns the underlying proxy handler (exported for testing)
func (s *Server) Handler() http.Handler {
	return s.proxy
}

// Start starts the development proxy
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.config.DevProxy.Port)

	logrus.Infof("Starting dev proxy on %s", addr)
	logrus.Infof("Cache TTL: %s", s.config.Cache.TTL)
	logrus.Infof("Rules mode: %s", s.config.Rules.Mode)

	if s.config.DevProxy.HTTPSAddr != "" {
		go s.serveTransparentHTTPS(s.config.DevProxy.HTTPSAddr)
	}

	return http.ListenAndServe(addr, s.proxy)
}

func (s *Server) shouldCache(requ *http.Request) bool {
	return s.config.Rules.ShouldCache(requ.URL.Path, requ.Method)
}

// requestKey derives a deterministic store key from the request host, path,
// method and query.
func requestKey(requ *http.Request) string {
	host := strings.TrimSuffix(strings.TrimSuffix(requ.URL.Host, ":80"), ":443")

	name := requ.Method
	if requ.URL.RawQuery != "" {
		hash := sha256.Sum256([]byte(requ.URL.RawQuery))
		name += "_" + hex.EncodeToString(hash[:])[:8]
	}

	scope := strings.Trim(requ.URL.Path, "/")
	if scope != "" {
		scope += "/"
	}
	return cache.Key("devproxy", host, scope+name)
}

// getCachedResponse returns a replayable HTTP response if one is cached
func (s *Server) getCachedResponse(requ *http.Request) *http.Response {
	data, found := s.store.Get(requestKey(requ))
	if !found {
		logrus.Debugf("No cached data found for %s", requ.URL)
		return nil
	}

	raw, ok := data.([]byte)
	if !ok {
		return nil
	}

	resp, err := deserializeResponse(raw)
	if err != nil {
		logrus.Errorf("Failed to deserialize cached response for %s: %v", requ.URL, err)
		return nil
	}

	resp.Request = requ
	resp.Header.Set("X-Cache", "HIT")

	logrus.Debugf("Cache hit for %s %s", requ.Method, requ.URL)
	return resp
}

// cacheResponse stores a response in the cache
func (s *Server) cacheResponse(requ *http.Request, resp *http.Response) {
	data, err := serializeResponse(resp)
	if err != nil {
		logrus.Errorf("Failed to serialize response for %s: %v", requ.URL, err)
		return
	}

	if err := s.store.Set(requestKey(requ), data, cache.Options{TTL: s.ttl}); err != nil {
		logrus.Errorf("Failed to cache response for %s: %v", requ.URL, err)
	}
}
