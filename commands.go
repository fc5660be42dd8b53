package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/catalyzator-io/catalyzator-sub000/internal/db"
	"github.com/catalyzator-io/catalyzator-sub000/internal/formreg"
	"github.com/catalyzator-io/catalyzator-sub000/internal/repository"
)

func formsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "forms",
		Short: "Inspect form definitions",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list [dir]",
		Short: "List the built-in forms plus those under dir",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := loadForms(args)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTITLE\tSTEPS")
			for _, f := range reg.List() {
				fmt.Fprintf(tw, "%s\t%s\t%d\n", f.ID, f.Title, len(f.Steps))
			}
			return tw.Flush()
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "validate [dir]",
		Short: "Check the built-in forms and those under dir",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := loadForms(args)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d forms OK\n", len(reg.List()))
			return nil
		},
	})
	return cmd
}

func loadForms(args []string) (*formreg.Registry, error) {
	reg := formreg.New(zap.NewNop())
	if err := reg.LoadDefaults(); err != nil {
		return nil, fmt.Errorf("built-in forms: %w", err)
	}
	if len(args) == 1 {
		if err := reg.LoadDir(args[0]); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func indexesCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "indexes",
		Short: "Create collection indexes and the blob bucket, then exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, cleanup, err := g.setup()
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			pool, err := db.NewPool(ctx, db.Options{
				Host:        cfg.OxiDB.Host,
				Port:        cfg.OxiDB.Port,
				Size:        1,
				DialTimeout: cfg.OxiDB.Timeout,
			}, logger)
			if err != nil {
				return fmt.Errorf("connect to oxidb: %w", err)
			}
			defer pool.Close()
			return repository.EnsureSchema(ctx, pool, cfg.Storage.Bucket, logger)
		},
	}
}
