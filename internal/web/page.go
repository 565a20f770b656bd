// Package web serves the demo page for the echo service over plain HTTP,
// together with the JSON endpoints the page consumes: the certificate
// hash used for pinning and the live session list.
package web

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zsiec/wtecho/internal/certs"
	"github.com/zsiec/wtecho/internal/echo"
)

//go:embed static/client.html
var clientPage []byte

// shutdownTimeout bounds how long Start waits for in-flight requests
// when the context is cancelled.
const shutdownTimeout = 5 * time.Second

// SessionLister returns snapshots of the live echo sessions.
type SessionLister func() []echo.SessionStats

// PageServerConfig holds the configuration for the status page server.
// WTAddr is the advertised WebTransport listen address, echoed back by
// the cert-hash endpoint so the page can derive the session URL. WebDir,
// if set, is served for everything except the page and API routes; the
// wasm client binary and its runtime shim live there.
type PageServerConfig struct {
	Addr     string
	WTAddr   string
	Cert     *certs.CertInfo
	Sessions SessionLister
	WebDir   string
}

// PageServer serves the embedded demo page and its JSON API.
type PageServer struct {
	config PageServerConfig
	log    *slog.Logger
}

// NewPageServer creates a PageServer with the given configuration. It
// returns an error if required fields are missing.
func NewPageServer(config PageServerConfig) (*PageServer, error) {
	if config.Cert == nil {
		return nil, errors.New("web: Cert is required")
	}
	if config.Addr == "" {
		return nil, errors.New("web: Addr is required")
	}
	return &PageServer{
		config: config,
		log:    slog.With("component", "status-page"),
	}, nil
}

// Handler returns the HTTP handler for the page and its API routes.
func (s *PageServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handlePage)
	mux.HandleFunc("GET /api/cert-hash", s.handleCertHash)
	mux.HandleFunc("GET /api/sessions", s.handleSessions)

	if s.config.WebDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(s.config.WebDir)))
	}

	return corsMiddleware(mux)
}

// Start serves the page over plain HTTP and blocks until the context is
// cancelled or the listener fails. On cancellation it waits for the
// graceful shutdown to finish, bounded by shutdownTimeout.
func (s *PageServer) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.config.Addr,
		Handler: s.Handler(),
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.log.Info("status page listening", "addr", s.config.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("status page server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// handlePage serves the embedded demo page with an explicit
// Content-Length so even the simplest clients get a well-formed reply.
func (s *PageServer) handlePage(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Content-Length", strconv.Itoa(len(clientPage)))
	w.WriteHeader(http.StatusOK)
	w.Write(clientPage)
}

type certHashResponse struct {
	Hash string `json:"hash"`
	Addr string `json:"addr"`
}

func (s *PageServer) handleCertHash(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, certHashResponse{
		Hash: s.config.Cert.FingerprintHex(),
		Addr: s.config.WTAddr,
	})
}

func (s *PageServer) handleSessions(w http.ResponseWriter, _ *http.Request) {
	var resp []echo.SessionStats

	if s.config.Sessions != nil {
		resp = s.config.Sessions()
	}

	if resp == nil {
		resp = make([]echo.SessionStats, 0)
	}

	writeJSON(w, http.StatusOK, resp)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}
