package main

import (
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oriys/storecache/internal/backend"
	"github.com/oriys/storecache/internal/logging"
	"github.com/oriys/storecache/internal/pool"
	"github.com/spf13/cobra"
)

func warmCmd() *cobra.Command {
	var products []string

	cmd := &cobra.Command{
		Use:   "warm",
		Short: "Preload categories, featured products and the given products",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, err := openCache(ctx, false)
			if err != nil {
				return err
			}
			defer c.Close()

			p, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer p.Close()

			q := backend.NewQuerier(p, backend.WithLogger[*pgx.Conn](logging.Component("backend")))
			report := backend.NewCatalog(c, q).Warm(ctx, products...)
			fmt.Printf("Loaded %d, skipped %d, failed %d\n", report.Loaded, report.Skipped, report.Failed)
			if report.Failed > 0 {
				return fmt.Errorf("%d items failed to load", report.Failed)
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&products, "product", nil, "Product IDs to preload")
	return cmd
}

func poolCheckCmd() *cobra.Command {
	var rounds int

	cmd := &cobra.Command{
		Use:   "pool-check",
		Short: "Open the backend pool and ping every connection",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			p, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer p.Close()

			start := time.Now()
			for i := 0; i < rounds; i++ {
				if err := pool.PingPgx(ctx, p); err != nil {
					return err
				}
			}
			st := p.Stats()
			fmt.Printf("OK: %d pings in %s\n", rounds, time.Since(start).Round(time.Millisecond))
			return printJSON(st)
		},
	}

	cmd.Flags().IntVar(&rounds, "rounds", 3, "Number of pings")
	return cmd
}
