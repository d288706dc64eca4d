package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newCacheCommand(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the offline asset cache",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprint(cmd.ErrOrStderr(), "\n"+cmd.UsageString())
		},
	}
	cmd.AddCommand(
		newCacheInstallCommand(c),
		newCacheListCommand(c),
	)
	return cmd
}

func newCacheInstallCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "install",
		Short: "Install and activate the configured cache version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCacheInstall(cmd, c)
		},
	}
}

func runCacheInstall(cmd *cobra.Command, c *cli) error {
	ctx, cancel := c.signalContext()
	defer cancel()

	worker, stop, err := c.startWorker(ctx, nil)
	if err != nil {
		return err
	}
	defer stop()

	if err := worker.Start(ctx); err != nil {
		return err
	}

	manifest := worker.Manifest()
	c.logger.Info("Cache installed",
		zap.String("store", manifest.StoreName()),
		zap.String("manifest", manifest.Path()),
	)
	fmt.Fprintln(cmd.OutOrStdout(), manifest.StoreName())
	return nil
}

func newCacheListCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List cache stores",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCacheList(cmd, c)
		},
	}
}

func runCacheList(cmd *cobra.Command, c *cli) error {
	ctx, cancel := c.signalContext()
	defer cancel()

	worker, stop, err := c.startWorker(ctx, nil)
	if err != nil {
		return err
	}
	defer stop()

	stores, err := worker.Stores(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 20, 1, 3, ' ', 0)
	fmt.Fprintf(w, "NAME\tACTIVE\tENTRIES\n")
	for _, s := range stores {
		active := ""
		if s.Active {
			active = "*"
		}
		fmt.Fprintf(w, "%s\t%s\t%d\n", s.Name, active, s.Entries)
	}
	return w.Flush()
}
