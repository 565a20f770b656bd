package echo

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"
	"github.com/quic-go/webtransport-go"

	"github.com/zsiec/wtecho/internal/certs"
)

// maxIdleTimeout is how long a session may sit idle before the QUIC
// layer drops it.
const maxIdleTimeout = 30 * time.Second

// ServerConfig holds the configuration for the echo Server, including
// the listen address, TLS certificate, and session registry.
type ServerConfig struct {
	Addr        string
	Cert        *certs.CertInfo
	CheckOrigin func(*http.Request) bool
	Registry    *Registry
}

// Server is the WebTransport echo server. It upgrades HTTP/3 requests
// to WebTransport sessions and runs an echo handler per session.
type Server struct {
	config ServerConfig
	log    *slog.Logger
	wtSrv  *webtransport.Server

	nextID atomic.Int64
}

// NewServer creates an echo Server with the given configuration. It
// returns an error if required fields are missing.
func NewServer(config ServerConfig) (*Server, error) {
	if config.Cert == nil {
		return nil, errors.New("echo: Cert is required")
	}
	if config.Addr == "" {
		return nil, errors.New("echo: Addr is required")
	}
	if config.Registry == nil {
		config.Registry = NewRegistry(nil)
	}
	return &Server{
		config: config,
		log:    slog.With("component", "echo-server"),
	}, nil
}

// Registry returns the server's session registry.
func (s *Server) Registry() *Registry {
	return s.config.Registry
}

// Start launches the HTTP/3 WebTransport server and blocks until the
// context is cancelled or a fatal error occurs.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleSession)

	checkOrigin := s.config.CheckOrigin
	if checkOrigin == nil {
		// SECURITY: the default accepts all origins. This is intentional
		// for development and local-network use; deployments that care
		// should supply their own CheckOrigin.
		checkOrigin = func(_ *http.Request) bool {
			return true
		}
	}

	s.wtSrv = &webtransport.Server{
		H3: http3.Server{
			Addr:    s.config.Addr,
			Handler: mux,
			TLSConfig: &tls.Config{
				Certificates: []tls.Certificate{s.config.Cert.TLSCert},
			},
			EnableDatagrams: true,
			QUICConfig: &quic.Config{
				EnableDatagrams: true,
				MaxIdleTimeout:  maxIdleTimeout,
				Allow0RTT:       true,
			},
		},
		CheckOrigin: checkOrigin,
	}

	s.log.Info("WebTransport echo server listening", "addr", s.config.Addr)

	stop := context.AfterFunc(ctx, func() { s.wtSrv.Close() })
	defer stop()

	err := s.wtSrv.ListenAndServe()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// handleSession upgrades the request to a WebTransport session and
// services it until it ends, logging the final echo counters.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	session, err := s.wtSrv.Upgrade(w, r)
	if err != nil {
		s.log.Error("webtransport upgrade failed", "error", err)
		return
	}

	handler := NewSession(SessionConfig{
		ID:         fmt.Sprintf("sess-%d", s.nextID.Add(1)),
		Transport:  sessionTransport{sess: session},
		RemoteAddr: r.RemoteAddr,
	})

	s.config.Registry.Add(handler)
	defer s.config.Registry.Remove(handler.ID())

	s.log.Info("session connected", "session", handler.ID(), "remote", r.RemoteAddr)

	err = handler.Run(session.Context())

	stats := handler.Stats()
	s.log.Info("session closed",
		"session", handler.ID(),
		"streams", stats.StreamsAccepted,
		"streamEchoes", stats.StreamEchoes,
		"datagramEchoes", stats.DatagramEchoes,
		"bytesIn", stats.BytesIn,
		"bytesOut", stats.BytesOut,
		"error", err)
}
