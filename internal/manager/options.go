package manager

import (
	"io"

	"github.com/traefik/yaegi/interp"
	"go.uber.org/zap"

	"pluginhost/internal/config"
	"pluginhost/internal/loader"
)

const defaultReclaimAttempts = 10

type options struct {
	logger          *zap.Logger
	shared          interp.Exports
	stagingRoot     string
	system          []string
	reclaimAttempts int
	stdout          io.Writer
	stderr          io.Writer
}

// Option configures a Manager.
type Option func(*options)

// WithLogger routes manager logs to l instead of the manager category logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithSharedPackages adds host packages every module resolves to the host
// copy of. The plugin contract package is always shared.
func WithSharedPackages(exports interp.Exports) Option {
	return func(o *options) {
		if o.shared == nil {
			o.shared = make(interp.Exports, len(exports))
		}
		for k, v := range exports {
			o.shared[k] = v
		}
	}
}

// WithStagingRoot sets where module namespaces stage their private packages.
func WithStagingRoot(dir string) Option {
	return func(o *options) { o.stagingRoot = dir }
}

// WithSystemPackages restricts which standard library packages modules may import.
func WithSystemPackages(paths []string) Option {
	return func(o *options) { o.system = paths }
}

// WithReclaimAttempts bounds the collections forced by a waiting unload.
func WithReclaimAttempts(n int) Option {
	return func(o *options) { o.reclaimAttempts = n }
}

// WithOutput sets the stdout and stderr seen by modules.
func WithOutput(stdout, stderr io.Writer) Option {
	return func(o *options) {
		o.stdout = stdout
		o.stderr = stderr
	}
}

// FromConfig turns the resolution and unload sections of cfg into options.
func FromConfig(cfg *config.Config) []Option {
	if cfg == nil {
		return nil
	}
	opts := []Option{
		WithStagingRoot(cfg.Resolution.StagingDir),
		WithSystemPackages(cfg.Resolution.SystemPackages),
	}
	if cfg.Unload.ReclaimAttempts > 0 {
		opts = append(opts, WithReclaimAttempts(cfg.Unload.ReclaimAttempts))
	}
	return opts
}

func (o *options) contextOptions() []loader.Option {
	opts := []loader.Option{
		loader.WithStagingRoot(o.stagingRoot),
		loader.WithSystemPackages(o.system),
	}
	if o.stdout != nil || o.stderr != nil {
		opts = append(opts, loader.WithOutput(o.stdout, o.stderr))
	}
	return opts
}
