package devproxy

import (
	"bufio"
	"bytes"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"

	"github.com/numera-app/edge/internal/config"

	"github.com/elazarl/goproxy"
	"github.com/inconshreveable/go-vhost"
	"github.com/sirupsen/logrus"
)

func loadCertificate(cfg *config.Config) (*tls.Certificate, error) {
	if cfg.DevProxy.CACertFile == "" || cfg.DevProxy.CAKeyFile == "" {
		logrus.Debugf("No CA certificate configured, using goproxy default certificate")
		return nil, nil // Use default goproxy certificate
	}

	cert, err := tls.LoadX509KeyPair(cfg.DevProxy.CACertFile, cfg.DevProxy.CAKeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load CA certificate and key: %w", err)
	}
	logrus.Debugf("Loaded CA certificate from %s", cfg.DevProxy.CACertFile)
	return &cert, nil
}

func (s *Server) setupHTTPSHandler() {
	s.proxy.CertStore = newCertStore()

	caCert, err := loadCertificate(s.config)
	if err != nil {
		logrus.Errorf("Failed to load CA certificate: %v", err)
		return
	}

	if caCert == nil {
		// Use goproxy's default certificate
		logrus.Warnf("TLS interception enabled but no CA certificate loaded, using goproxy default certificate")
		s.proxy.OnRequest().HandleConnect(goproxy.AlwaysMitm)
	} else {
		// Make goproxy use our provided CA certificate
		customCaMitm := &goproxy.ConnectAction{
			Action:    goproxy.ConnectMitm,
			TLSConfig: goproxy.TLSConfigFromCA(caCert),
		}
		customAlwaysMitm := goproxy.FuncHttpsHandler(func(host string, ctx *goproxy.ProxyCtx) (*goproxy.ConnectAction, string) {
			logrus.Debugf("Handling CONNECT request for %s", host)
			return customCaMitm, host
		})
		s.proxy.OnRequest().HandleConnect(customAlwaysMitm)
	}
}

// serveTransparentHTTPS accepts raw TLS connections, sniffs the SNI host
// and feeds a synthetic CONNECT request into the proxy, so clients that
// cannot be configured with an explicit proxy still go through the cache.
func (s *Server) serveTransparentHTTPS(httpsAddr string) {
	ln, err := net.Listen("tcp", httpsAddr)
	if err != nil {
		logrus.Errorf("Error listening for https connections - %v", err)
		return
	}
	logrus.Infof("Transparent HTTPS listener on %s", httpsAddr)

	for {
		c, err := ln.Accept()
		if err != nil {
			logrus.Errorf("Error accepting new connection - %v", err)
			continue
		}
		go func(c net.Conn) {
			tlsConn, err := vhost.TLS(c)
			if err != nil {
				logrus.Errorf("Error accepting new connection - %v", err)
				return
			}
			if tlsConn.Host() == "" {
				logrus.Errorf("Cannot support non-SNI enabled clients")
				return
			}
			connectReq := &http.Request{
				Method: http.MethodConnect,
				URL: &url.URL{
					Opaque: tlsConn.Host(),
					Host:   net.JoinHostPort(tlsConn.Host(), "443"),
				},
				Host:       tlsConn.Host(),
				Header:     make(http.Header),
				RemoteAddr: c.RemoteAddr().String(),
			}
			resp := dumbResponseWriter{tlsConn}
			s.proxy.ServeHTTP(resp, connectReq)
		}(c)
	}
}

// dumbResponseWriter adapts a hijacked TLS connection to the
// http.ResponseWriter goproxy expects for CONNECT handling.
type dumbResponseWriter struct {
	net.Conn
}

func (w dumbResponseWriter) Header() http.Header {
	return make(http.Header)
}

func (w dumbResponseWriter) Write(b []byte) (int, error) {
	if bytes.Equal(b, []byte("HTTP/1.0 200 OK\r\n\r\n")) {
		// The tunnel is already established on a transparent connection
		return len(b), nil
	}
	return w.Conn.Write(b)
}

func (w dumbResponseWriter) WriteHeader(code int) {}

func (w dumbResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return w.Conn, bufio.NewReadWriter(bufio.NewReader(w.Conn), bufio.NewWriter(w.Conn)), nil
}
