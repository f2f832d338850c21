package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/getsentry/vroom-capture/internal/capture"
	"github.com/getsentry/vroom-capture/internal/logutil"
)

type options struct {
	thread   int
	workers  int
	logLevel string
	timeout  time.Duration
	retries  int
}

func newRootCommand(out io.Writer) *cobra.Command {
	var opts options
	rootCmd := &cobra.Command{
		Use:           "capturedump",
		Short:         "Print what a capture recorded",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			logutil.ConfigureLogger(opts.logLevel)
		},
	}
	flags := rootCmd.PersistentFlags()
	flags.IntVarP(&opts.thread, "thread", "t", -1, "thread index, the main thread when negative")
	flags.IntVarP(&opts.workers, "workers", "w", 4, "number of payloads decoded at once")
	flags.StringVar(&opts.logLevel, "log-level", "warn", "minimum log level")
	flags.DurationVar(&opts.timeout, "timeout", 30*time.Second, "timeout of a remote fetch")
	flags.IntVar(&opts.retries, "retries", 3, "number of retries of a remote fetch")

	var collapse bool
	treeCmd := &cobra.Command{
		Use:   "tree <source>",
		Short: "Print the call tree of every frame of a thread",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := load(cmd.Context(), args[0], opts)
			if err != nil {
				return err
			}
			return printTrees(out, g, opts.thread, collapse)
		},
	}
	treeCmd.Flags().BoolVar(&collapse, "collapse", false, "print folded stacks")

	var orderBy string
	functionsCmd := &cobra.Command{
		Use:   "functions <source>",
		Short: "Print the per-function rollup of a thread",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := load(cmd.Context(), args[0], opts)
			if err != nil {
				return err
			}
			return printFunctions(out, g, opts.thread, orderBy)
		},
	}
	functionsCmd.Flags().StringVar(&orderBy, "sort", "total", "column to sort by: total, self, count or max")

	var skip int
	samplingCmd := &cobra.Command{
		Use:   "sampling <source>",
		Short: "Print the merged call-stacks of a thread",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := load(cmd.Context(), args[0], opts)
			if err != nil {
				return err
			}
			return printSampling(out, g, opts.thread, skip, collapse)
		},
	}
	samplingCmd.Flags().IntVar(&skip, "skip", 3, "maximum number of pass-through frames skipped at the top")
	samplingCmd.Flags().BoolVar(&collapse, "collapse", false, "print folded stacks")

	infoCmd := &cobra.Command{
		Use:   "info <source>",
		Short: "Print the threads of a capture and decoding statistics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := load(cmd.Context(), args[0], opts)
			if err != nil {
				return err
			}
			return printInfo(out, g)
		},
	}

	var format string
	exportCmd := &cobra.Command{
		Use:   "export <source>",
		Short: "Convert a capture for an external viewer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := load(cmd.Context(), args[0], opts)
			if err != nil {
				return err
			}
			return export(out, g, args[0], format)
		},
	}
	exportCmd.Flags().StringVarP(&format, "format", "f", "speedscope", "output format: speedscope or chrome")

	rootCmd.AddCommand(treeCmd, functionsCmd, samplingCmd, infoCmd, exportCmd)
	return rootCmd
}

func load(ctx context.Context, source string, opts options) (*capture.FrameGroup, error) {
	data, err := readSource(newHTTPClient(opts.timeout, opts.retries), source)
	if err != nil {
		return nil, err
	}
	g, err := capture.Decode(ctx, bytes.NewReader(data), capture.Options{NumWorkers: opts.workers})
	if err != nil {
		return nil, err
	}
	if err := g.BuildAll(ctx, opts.workers); err != nil {
		return nil, err
	}
	return g, nil
}

func main() {
	if err := newRootCommand(os.Stdout).ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %+v\n", err)
		os.Exit(1)
	}
}
