package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/woxQAQ/genpass-host/internal/genpass"
	"github.com/woxQAQ/genpass-host/internal/offline"
)

type generateOptions struct {
	module   string
	category string
	count    string
	saveDir  string
}

func newGenerateCommand(c *cli) *cobra.Command {
	var opts generateOptions

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate one batch and print the module output",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerate(cmd, c, &opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.module, "module", "", "Path to the compute module; overrides wasm.module_path")
	flags.StringVar(&opts.category, "category", "", "One of username, password, passwordspecial, pin4, pin6, pin12 (default password)")
	flags.StringVar(&opts.count, "count", "", "Number of values; clamped to [1, 4294967295], input without a leading integer uses generator.default_count")
	flags.StringVar(&opts.saveDir, "save-dir", "", "Also write the saved text into this directory; overrides generator.output_dir")
	return cmd
}

func runGenerate(cmd *cobra.Command, c *cli, opts *generateOptions) error {
	category, err := genpass.ParseCategory(opts.category)
	if err != nil {
		return err
	}
	count := genpass.ClampCount(opts.count, c.cfg.Generator.DefaultCount)

	ctx, cancel := c.signalContext()
	defer cancel()

	var worker *offline.Worker
	if opts.module == "" && c.cfg.Wasm.ModulePath == "" {
		w, stop, err := c.startWorker(ctx, nil)
		if err != nil {
			return err
		}
		defer stop()
		worker = w
	}

	mgr := genpass.NewManager(c.logger, c.managerConfig(nil))
	defer mgr.Close(ctx)

	if err := mgr.Load(ctx, c.moduleSource(opts.module, worker)); err != nil {
		return err
	}

	marshaller := genpass.NewMarshaller(mgr)
	result, err := marshaller.Generate(ctx, category, count)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprint(out, result.Rendered)
	fmt.Fprintf(cmd.ErrOrStderr(), "%s x%d in %s at %s\n", result.Category, result.Count, result.Elapsed, result.Timestamp)

	saveDir := opts.saveDir
	if saveDir == "" {
		saveDir = c.cfg.Generator.OutputDir
	}
	if saveDir == "" {
		return nil
	}

	snap, err := marshaller.Snapshot(ctx)
	if err != nil {
		return err
	}
	artifact, err := genpass.NewArtifact(snap)
	if err != nil {
		return err
	}
	path, err := artifact.Save(saveDir)
	if err != nil {
		return err
	}

	c.logger.Info("Saved artifact", zap.String("path", path))
	fmt.Fprintln(cmd.ErrOrStderr(), path)
	return nil
}
