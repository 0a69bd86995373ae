package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"pluginhost/internal/logging"
	"pluginhost/internal/watch"
)

var watchCmd = &cobra.Command{
	Use:   "watch [dirs...]",
	Short: "Keep plugins loaded from watched directories until interrupted",
	Long: `Loads the configured plugin paths, then loads every module file in the
watched directories and follows changes: new files are loaded, changed files
are unloaded and loaded again, removed files are unloaded.`,
	RunE: runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	dirs := args
	if len(dirs) == 0 {
		dirs = cfg.Plugins.WatchDirs
	}
	if len(dirs) == 0 {
		return errors.New("no directories to watch")
	}
	for _, dir := range dirs {
		if err := checkDir(dir); err != nil {
			return err
		}
	}
	debounce, err := cfg.GetWatchDebounce()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return watchUntilDone(ctx, cmd, dirs, debounce)
}

func checkDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}
	return nil
}

// watchUntilDone runs the watcher until ctx is done, then closes everything
// that was loaded.
func watchUntilDone(ctx context.Context, cmd *cobra.Command, dirs []string, debounce time.Duration) (err error) {
	log := logging.Get(logging.CategoryCLI)
	out := cmd.OutOrStdout()

	m := newManager(cmd)
	defer func() {
		err = errors.Join(err, m.Close())
	}()

	for _, path := range cfg.Plugins.Paths {
		fmt.Fprintf(out, "Loading plugin from %s\n", path)
		if _, err := m.Load(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
	}

	w, err := watch.New(m, dirs, watch.WithDebounce(debounce), watch.WithUnloadWait(cfg.Unload.Wait))
	if err != nil {
		return err
	}
	defer w.Stop()
	if err := w.Start(ctx); err != nil {
		return err
	}
	fmt.Fprintf(out, "Watching %v (loaded: %v)\n", w.Dirs(), m.LoadedPlugins())

	<-ctx.Done()
	stats := w.Stats()
	log.Info("watch stopped (loads=%d, unloads=%d, errors=%d)", stats.Loads, stats.Unloads, stats.Errors)
	fmt.Fprintf(out, "Stopped. Loaded plugins: %v\n", m.LoadedPlugins())
	return nil
}
