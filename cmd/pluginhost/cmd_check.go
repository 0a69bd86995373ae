package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"pluginhost/internal/loader"
)

var checkCmd = &cobra.Command{
	Use:   "check [path]",
	Short: "Show how a module resolves and verify that it loads",
	Long: `Resolves the module's imports, printing where each one comes from
(shared with the host, local to the module, or the standard library), then
loads it into a throwaway manager and reports the plugin name.`,
	Args: cobra.ExactArgs(1),
	RunE: runCheck,
}

func runCheck(cmd *cobra.Command, args []string) error {
	path := args[0]
	out := cmd.OutOrStdout()

	ctx, err := loader.NewContext(path, nil,
		loader.WithStagingRoot(cfg.Resolution.StagingDir),
		loader.WithSystemPackages(cfg.Resolution.SystemPackages),
		loader.WithOutput(cmd.OutOrStdout(), cmd.ErrOrStderr()),
	)
	if err != nil {
		return err
	}
	mod, err := ctx.LoadModuleGraph()
	if uerr := ctx.Unload(); uerr != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", uerr)
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "package %s\n", mod.Package)
	for _, dep := range mod.Dependencies {
		fmt.Fprintf(out, "  %-8s %s\n", dep.Origin, dep.ImportPath)
	}
	fmt.Fprintf(out, "factories: %v\n", mod.Factories)

	m := newManager(cmd)
	defer m.Close()
	p, err := m.Load(path)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "ok: %s\n", p.Name())
	return nil
}
