package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"golang.org/x/crypto/acme/autocert"

	"github.com/lobisloby/Link-Preview-AI/internal/config"
)

// Server is the HTTP listener of the preview backend. Event streams stay open
// indefinitely, so responses have no write timeout.
type Server struct {
	httpServer *http.Server
	tlsCfg     config.TLSConfig
	certs      *autocert.Manager

	// acme answers HTTP-01 challenges on :80 in auto TLS mode.
	acme *http.Server

	mu    sync.Mutex
	bound net.Addr
	ready chan struct{}
}

// New builds the listener for cfg. In auto TLS mode it creates the
// certificate cache directory.
func New(cfg config.ServerConfig, handler http.Handler) (*Server, error) {
	s := &Server{
		tlsCfg: cfg.TLS,
		ready:  make(chan struct{}),
		httpServer: &http.Server{
			Addr:              net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
	}

	if cfg.TLS.Mode != "auto" {
		return s, nil
	}

	auto := cfg.TLS.Auto
	if err := os.MkdirAll(auto.CacheDir, 0700); err != nil {
		return nil, fmt.Errorf("creating TLS cache directory: %w", err)
	}
	s.certs = &autocert.Manager{
		Prompt:     autocert.AcceptTOS,
		HostPolicy: autocert.HostWhitelist(auto.Domain),
		Cache:      autocert.DirCache(auto.CacheDir),
		Email:      auto.Email,
	}
	s.httpServer.TLSConfig = &tls.Config{
		GetCertificate: s.certs.GetCertificate,
		MinVersion:     tls.VersionTLS12,
	}
	s.acme = &http.Server{
		Addr:              ":80",
		Handler:           s.certs.HTTPHandler(nil),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
	return s, nil
}

// Start listens and serves until Shutdown, which makes it return
// http.ErrServerClosed.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		close(s.ready)
		return fmt.Errorf("listen on %s: %w", s.httpServer.Addr, err)
	}
	s.mu.Lock()
	s.bound = ln.Addr()
	s.mu.Unlock()
	close(s.ready)

	switch s.TLSMode() {
	case "auto":
		slog.Info("serving previews over HTTPS", "addr", ln.Addr(), "domain", s.tlsCfg.Auto.Domain)
		go func() {
			if err := s.acme.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("ACME challenge server", "error", err)
			}
		}()
		return s.httpServer.ServeTLS(ln, "", "")
	case "manual":
		slog.Info("serving previews over HTTPS", "addr", ln.Addr(), "cert", s.tlsCfg.CertFile)
		return s.httpServer.ServeTLS(ln, s.tlsCfg.CertFile, s.tlsCfg.KeyFile)
	default:
		slog.Info("serving previews", "addr", ln.Addr())
		return s.httpServer.Serve(ln)
	}
}

// Shutdown stops accepting connections and waits for in-flight messages.
// Callers end open event streams first by cancelling the hub's context.
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("shutting down server")
	if s.acme != nil {
		if err := s.acme.Shutdown(ctx); err != nil {
			slog.Warn("ACME challenge server shutdown", "error", err)
		}
	}
	return s.httpServer.Shutdown(ctx)
}

// Addr returns the bound address once Start is listening, and the
// configured one before that.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bound != nil {
		return s.bound.String()
	}
	return s.httpServer.Addr
}

// Ready is closed once Start has bound its listener or failed to.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

func (s *Server) TLSMode() string {
	if s.tlsCfg.Mode == "" {
		return "off"
	}
	return s.tlsCfg.Mode
}
