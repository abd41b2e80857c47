// Package server runs the HTTP listener for the payment-link API.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/acme/autocert"
)

// Config holds listener settings.
type Config struct {
	Addr string

	// TLSDomain turns on Let's Encrypt for this host. Certificates are cached
	// in CertCache.
	TLSDomain string
	CertCache string
}

// Server wraps http.Server with optional automatic TLS.
type Server struct {
	config Config
	http   *http.Server
	logger *zap.Logger
}

// New returns a Server serving handler.
func New(handler http.Handler, cfg Config, logger *zap.Logger) *Server {
	if cfg.CertCache == "" {
		cfg.CertCache = ".autocert-cache"
	}
	return &Server{
		config: cfg,
		logger: logger,
		http: &http.Server{
			Addr:              cfg.Addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       2 * time.Minute,
		},
	}
}

// Start blocks serving requests until Shutdown. It returns nil after a
// graceful shutdown.
func (s *Server) Start() error {
	var err error
	if s.config.TLSDomain != "" {
		m := &autocert.Manager{
			Cache:      autocert.DirCache(s.config.CertCache),
			Prompt:     autocert.AcceptTOS,
			HostPolicy: autocert.HostWhitelist(s.config.TLSDomain),
		}

		// HTTP-01 challenges arrive on :80.
		go func() {
			s.logger.Info("acme challenge listener", zap.String("addr", ":80"))
			if err := http.ListenAndServe(":80", m.HTTPHandler(nil)); err != nil {
				s.logger.Error("acme challenge listener stopped", zap.Error(err))
			}
		}()

		s.http.TLSConfig = &tls.Config{GetCertificate: m.GetCertificate, MinVersion: tls.VersionTLS12}
		s.logger.Info("listening", zap.String("addr", s.config.Addr), zap.String("tls_domain", s.config.TLSDomain))
		err = s.http.ListenAndServeTLS("", "")
	} else {
		s.logger.Info("listening", zap.String("addr", s.config.Addr))
		err = s.http.ListenAndServe()
	}

	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("graceful shutdown initiated")
	return s.http.Shutdown(ctx)
}
