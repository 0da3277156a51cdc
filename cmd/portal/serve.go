package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/harrylevesque/erpportal/internal/api"
	"github.com/harrylevesque/erpportal/internal/auth"
	"github.com/harrylevesque/erpportal/internal/certs"
	"github.com/harrylevesque/erpportal/internal/erp"
	"github.com/harrylevesque/erpportal/internal/handles"
	"github.com/harrylevesque/erpportal/internal/surface"
	"github.com/harrylevesque/erpportal/internal/viewer"
)

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the portal HTTP server",
		Long: `Run the portal HTTP server.

Examples:
  portal serve --config portal.yaml
  PORTAL_ERP_BASE_URL=https://erp.example.com/api portal serve --addr :9000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}

func runServe(ctx context.Context, addr string) error {
	cfg, log, closer, err := setup()
	if err != nil {
		return err
	}
	defer closer.Close()
	if addr != "" {
		cfg.Server.Addr = addr
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	masterKey, err := cfg.Spool.MasterKey()
	if err != nil {
		return err
	}
	if masterKey == nil {
		log.Warn("no spool master key configured, using a per-process key")
	}
	store, err := handles.NewStore(cfg.Spool.Dir, masterKey, "/blobs/")
	if err != nil {
		return err
	}
	if n, err := store.Sweep(); err != nil {
		log.Warn("sweep spool dir", "dir", cfg.Spool.Dir, "error", err)
	} else if n > 0 {
		log.Info("removed stale spool files", "count", n)
	}
	defer func() {
		if err := store.Purge(); err != nil {
			log.Error("purge spool", "error", err)
		}
	}()

	sessions, err := auth.NewManager(auth.Options{
		CookieName: cfg.Session.CookieName,
		Secret:     cfg.Session.Secret,
		MaxAge:     cfg.Session.MaxAge,
		Secure:     cfg.Session.Secure,
		Logger:     log.With("component", "auth"),
	})
	if err != nil {
		return err
	}

	client := erp.NewClient(erp.Config{
		BaseURL:          cfg.ERP.BaseURL,
		FallbackBaseURL:  cfg.ERP.FallbackBaseURL,
		Timeout:          cfg.ERP.Timeout,
		LoginPath:        cfg.ERP.LoginPath,
		MaxDocumentBytes: cfg.ERP.MaxDocumentBytes,
	}, erp.WithLogger(log.With("component", "erp")))

	server := api.NewServer(api.Deps{
		Sessions: sessions,
		ERP:      client,
		Fetcher:  client,
		Blobs:    store,
		Catalog:  erp.NewCatalog(cfg.ERP.Endpoints),
		Detector: surface.NewUserAgentDetector(),
		Viewer: viewer.Options{
			// One extra attempt may go to the fallback base.
			FetchTimeout: 2*cfg.ERP.Timeout + time.Second,
		},
		Logger: log,
	})

	// Viewers of sessions that ended without a logout, bearer clients
	// included, are reclaimed once idle for a whole session lifetime.
	go server.Viewers().RunEviction(ctx, time.Minute, cfg.Session.MaxAge)

	httpSrv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.Handler(server),
		ReadHeaderTimeout: 10 * time.Second,
	}

	tls := cfg.Server.CertFile != "" && cfg.Server.KeyFile != ""
	if tls {
		if err := certs.LogStatus(log, cfg.Server.CertFile, cfg.Server.CertWarnBefore); err != nil {
			return fmt.Errorf("tls certificate: %w", err)
		}
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("portal listening", "addr", cfg.Server.Addr, "tls", tls, "erp", cfg.ERP.BaseURL)
		if tls {
			errCh <- httpSrv.ListenAndServeTLS(cfg.Server.CertFile, cfg.Server.KeyFile)
		} else {
			errCh <- httpSrv.ListenAndServe()
		}
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown", "error", err)
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("viewer shutdown", "error", err)
	}
	return nil
}
