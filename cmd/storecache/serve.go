package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oriys/storecache/internal/backend"
	"github.com/oriys/storecache/internal/cache"
	"github.com/oriys/storecache/internal/logging"
	"github.com/oriys/storecache/internal/metrics"
	"github.com/oriys/storecache/internal/observability"
	"github.com/spf13/cobra"
)

func serveCmd() *cobra.Command {
	var (
		metricsAddr  string
		warmProducts []string
		warmInterval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the cache with its sweep, pool and metrics endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if cmd.Flags().Changed("metrics-addr") {
				cfg.Metrics.Addr = metricsAddr
			}

			if err := observability.Init(ctx, observability.Config{
				Enabled:     cfg.Tracing.Enabled,
				Exporter:    cfg.Tracing.Exporter,
				Endpoint:    cfg.Tracing.Endpoint,
				ServiceName: cfg.Tracing.ServiceName,
				SampleRate:  cfg.Tracing.SampleRate,
			}); err != nil {
				return err
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				observability.Shutdown(shutdownCtx)
			}()

			c, err := openCache(ctx, true)
			if err != nil {
				return err
			}
			defer c.Close()

			m := metrics.Global()
			m.RegisterCache("storefront", c)
			metrics.InitPrometheus(cfg.Metrics.Namespace, nil)

			var catalog *backend.Catalog[*pgx.Conn]
			if cfg.Pool.DSN != "" {
				p, err := openPool(ctx)
				if err != nil {
					return err
				}
				defer p.Close()
				p.StartWarmer(warmInterval)
				m.RegisterPool(p)

				q := backend.NewQuerier(p, backend.WithLogger[*pgx.Conn](logging.Component("backend")))
				catalog = backend.NewCatalog(c, q)
				report := catalog.Warm(ctx, warmProducts...)
				logging.Op().Info("initial warm-up", "loaded", report.Loaded, "skipped", report.Skipped, "failed", report.Failed)
			} else {
				logging.Op().Warn("no backend DSN configured; serving cache only")
			}

			srv := &http.Server{
				Addr:              cfg.Metrics.Addr,
				Handler:           observability.HTTPMiddleware(newMux(c, catalog)),
				ReadHeaderTimeout: 5 * time.Second,
			}
			errCh := make(chan error, 1)
			go func() {
				logging.Op().Info("metrics endpoint listening", "addr", cfg.Metrics.Addr)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
			}()

			select {
			case <-ctx.Done():
				logging.Op().Info("shutting down")
			case err := <-errCh:
				return err
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Metrics listen address (default: metrics.addr)")
	cmd.Flags().StringSliceVar(&warmProducts, "warm-product", nil, "Product IDs to preload at startup")
	cmd.Flags().DurationVar(&warmInterval, "pool-refill", 30*time.Second, "Interval for topping the pool back up to its minimum")
	return cmd
}

func newMux(c *cache.Cache, catalog *backend.Catalog[*pgx.Conn]) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.PrometheusHandler())
	mux.Handle("/stats", metrics.Global().JSONHandler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("POST /purge", func(w http.ResponseWriter, r *http.Request) {
		pattern := r.URL.Query().Get("pattern")
		if pattern == "" {
			http.Error(w, "pattern is required", http.StatusBadRequest)
			return
		}
		n, err := c.DeletePattern(r.Context(), pattern)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeJSON(w, map[string]int{"purged": n})
	})
	if catalog != nil {
		mux.HandleFunc("POST /refresh/{id}", func(w http.ResponseWriter, r *http.Request) {
			p, err := catalog.RefreshProduct(r.Context(), r.PathValue("id"))
			if err != nil {
				status := http.StatusBadGateway
				if errors.Is(err, backend.ErrNotFound) {
					status = http.StatusNotFound
				}
				http.Error(w, err.Error(), status)
				return
			}
			writeJSON(w, p)
		})
	}
	return mux
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
