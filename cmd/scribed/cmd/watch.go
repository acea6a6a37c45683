package cmd

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/aman-cerp/scribe/internal/logging"
	"github.com/aman-cerp/scribe/internal/watcher"
)

func newWatchCmd() *cobra.Command {
	var paths []string

	cmd := &cobra.Command{
		Use:   "watch <index-uid>",
		Short: "Watch configured paths and keep an index in sync with the filesystem",
		Long: `Watch ingests filesystem changes into an index (the ingestion
adapter documented by the "ingestion" config section): created or
modified files become one-document DocumentImport/update tasks keyed
by their path, and deletions become DocumentDeletion tasks.

Runs in the foreground. Paths default to the configured
ingestion.paths; pass --path to override them for this run.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, args[0], paths)
		},
	}

	cmd.Flags().StringSliceVar(&paths, "path", nil, "Directory to watch (repeatable, overrides ingestion.paths)")
	return cmd
}

func runWatch(cmd *cobra.Command, indexUID string, paths []string) error {
	out := cmd.OutOrStdout()

	logCfg := logging.DefaultConfig()
	logCfg.Level = loadedCfg.Server.LogLevel
	logCfg.WriteToStderr = true
	if logger, cleanup, err := logging.Setup(logCfg); err == nil {
		slog.SetDefault(logger)
		defer cleanup()
	}

	if len(paths) == 0 {
		paths = loadedCfg.Ingestion.Paths
	}
	if len(paths) == 0 {
		return fmt.Errorf("no paths to watch: pass --path or set ingestion.paths in .scribe.yaml")
	}

	debounce, err := time.ParseDuration(loadedCfg.Ingestion.WatchDebounce)
	if err != nil {
		debounce = 500 * time.Millisecond
	}

	a, err := openApp(loadedCfg)
	if err != nil {
		return fmt.Errorf("failed to open app: %w", err)
	}
	defer a.Close()

	a.scheduler.Start(schedulerIdle)
	defer a.scheduler.Stop()

	ingestor := &watcher.Ingestor{
		IndexUID: indexUID,
		Content:  a.content,
		Tasks:    a.scheduler,
	}

	ctx := cmd.Context()
	for _, path := range paths {
		opts := watcher.Options{
			DebounceWindow:  debounce,
			IgnorePatterns:  loadedCfg.Ingestion.Exclude,
			EventBufferSize: 1000,
		}.WithDefaults()

		w, err := watcher.NewHybridWatcher(opts)
		if err != nil {
			return fmt.Errorf("failed to create watcher for %s: %w", path, err)
		}

		fmt.Fprintf(out, "Seeding index %q from %s...\n", indexUID, path)
		if err := ingestor.SeedExisting(path, loadedCfg.Ingestion.Exclude); err != nil {
			return fmt.Errorf("failed to seed existing files from %s: %w", path, err)
		}

		go ingestor.Run(ctx, w)

		fmt.Fprintf(out, "Watching %s (%s mode) into index %q\n", path, w.WatcherType(), indexUID)
		go func(w *watcher.HybridWatcher, path string) {
			if err := w.Start(ctx, path); err != nil && ctx.Err() == nil {
				slog.Error("watcher stopped", slog.String("path", path), slog.String("error", err.Error()))
			}
		}(w, path)
	}

	<-ctx.Done()
	fmt.Fprintln(out, "Stopping watch...")
	return nil
}
