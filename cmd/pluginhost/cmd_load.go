package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"pluginhost/internal/logging"
	"pluginhost/internal/manager"
)

var loadCmd = &cobra.Command{
	Use:   "load [paths...]",
	Short: "Load plugin modules, list them and shut down",
	Long: `Loads every module given on the command line (or listed under
plugins.paths in the configuration), prints the names of the loaded
plugins and closes them all again.

Example:
  pluginhost load plugins/myplugin.go plugins/myotherplugin.go`,
	RunE: runLoad,
}

func newManager(cmd *cobra.Command) *manager.Manager {
	return manager.NewFromConfig(cfg, manager.WithOutput(cmd.OutOrStdout(), cmd.ErrOrStderr()))
}

func runLoad(cmd *cobra.Command, args []string) (err error) {
	paths := args
	if len(paths) == 0 {
		paths = cfg.Plugins.Paths
	}
	if len(paths) == 0 {
		return errors.New("no plugin paths given")
	}

	m := newManager(cmd)
	defer func() {
		err = errors.Join(err, m.Close())
	}()

	// Argument order is load order, and so the order names are listed in.
	out := cmd.OutOrStdout()
	for _, path := range paths {
		fmt.Fprintf(out, "Loading plugin from %s\n", path)
		if _, err := m.Load(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "Loaded plugins:")
	for _, name := range m.LoadedPlugins() {
		fmt.Fprintln(out, name)
	}
	logging.Get(logging.CategoryCLI).Info("loaded %d plugins", len(paths))
	return nil
}
