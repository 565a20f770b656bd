package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zsiec/wtecho/internal/certs"
	"github.com/zsiec/wtecho/internal/echo"
	"github.com/zsiec/wtecho/internal/web"
)

var version = "dev"

func main() {
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	cert, err := loadOrGenerateCert()
	if err != nil {
		slog.Error("failed to set up certificate", "error", err)
		os.Exit(1)
	}
	slog.Info("certificate ready",
		"fingerprint", cert.FingerprintHex(),
		"expires", cert.NotAfter.Format(time.RFC3339),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	wtAddr := envOr("WT_ADDR", ":8765")
	httpAddr := envOr("HTTP_ADDR", ":7654")
	webDir := os.Getenv("WEB_DIR")

	slog.Info("wtecho starting",
		"version", version,
		"webtransport", wtAddr,
		"http", httpAddr,
		"cert_hash", cert.FingerprintHex(),
	)

	registry := echo.NewRegistry(nil)

	echoSrv, err := echo.NewServer(echo.ServerConfig{
		Addr:     wtAddr,
		Cert:     cert,
		Registry: registry,
	})
	if err != nil {
		slog.Error("failed to create echo server", "error", err)
		os.Exit(1)
	}

	pageSrv, err := web.NewPageServer(web.PageServerConfig{
		Addr:     httpAddr,
		WTAddr:   wtAddr,
		Cert:     cert,
		Sessions: registry.StatsAll,
		WebDir:   webDir,
	})
	if err != nil {
		slog.Error("failed to create page server", "error", err)
		os.Exit(1)
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return echoSrv.Start(ctx)
	})

	g.Go(func() error {
		return pageSrv.Start(ctx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

// loadOrGenerateCert loads a pre-provisioned PEM identity when CERT_FILE
// and KEY_FILE are set, otherwise generates a fresh self-signed one.
func loadOrGenerateCert() (*certs.CertInfo, error) {
	certFile := os.Getenv("CERT_FILE")
	keyFile := os.Getenv("KEY_FILE")
	if certFile != "" && keyFile != "" {
		slog.Info("loading certificate", "cert", certFile, "key", keyFile)
		return certs.Load(certFile, keyFile)
	}

	slog.Info("generating self-signed certificate")
	return certs.Generate(14 * 24 * time.Hour)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
