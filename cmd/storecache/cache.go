package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Print a cached value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openCache(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer c.Close()

			data, ok := c.Get(cmd.Context(), args[0])
			if !ok {
				return fmt.Errorf("%s: not cached", args[0])
			}
			var v any
			if err := json.Unmarshal(data, &v); err != nil {
				return err
			}
			return printJSON(v)
		},
	}
}

func setCmd() *cobra.Command {
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "set <key> <json>",
		Short: "Store a JSON value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openCache(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer c.Close()

			if err := c.Set(cmd.Context(), args[0], json.RawMessage(args[1]), ttl); err != nil {
				return err
			}
			fmt.Printf("Stored %s\n", args[0])
			return nil
		},
	}

	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Time to live (default: cache.default_ttl)")
	return cmd
}

func delCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "del <key>...",
		Short: "Delete keys from both tiers",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openCache(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer c.Close()

			for _, k := range args {
				if c.Delete(cmd.Context(), k) {
					fmt.Printf("Deleted %s\n", k)
				} else {
					fmt.Printf("%s not found\n", k)
				}
			}
			return nil
		},
	}
}

func purgeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "purge <regexp>",
		Short: "Delete every key matching a regular expression",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openCache(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer c.Close()

			n, err := c.DeletePattern(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Purged %d keys\n", n)
			return nil
		},
	}
}

func clearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove every entry from both tiers",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openCache(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer c.Close()

			c.Clear(cmd.Context())
			fmt.Println("Cache cleared")
			return nil
		},
	}
}

func keysCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keys",
		Short: "List cached keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openCache(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer c.Close()

			keys := c.Keys()
			sort.Strings(keys)
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "KEY\tVALID")
			for _, k := range keys {
				fmt.Fprintf(w, "%s\t%t\n", k, c.Has(k))
			}
			return w.Flush()
		},
	}
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show cache statistics after hydration",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openCache(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer c.Close()

			st := c.Stats()
			return printJSON(map[string]any{
				"stats":          st,
				"hit_ratio":      st.HitRatio(),
				"schema_version": c.SchemaVersion(),
				"mirror":         cfg.Mirror.Kind,
			})
		},
	}
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Remove expired entries now",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openCache(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer c.Close()

			fmt.Printf("Swept %d entries\n", c.Sweep(cmd.Context()))
			return nil
		},
	}
}
