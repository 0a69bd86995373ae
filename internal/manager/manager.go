// Package manager loads, tracks and unloads plugin modules. Every module is
// loaded into its own resolution context and registered under its canonical
// path and its plugin name; both must be unique among loaded plugins.
//
// All operations run under one mutex. Loading and unloading are rare
// control operations, so a load that takes a while to interpret simply
// holds up the others.
package manager

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"pluginhost/internal/config"
	"pluginhost/internal/loader"
	"pluginhost/internal/logging"
	"pluginhost/internal/registry"
	"pluginhost/pkg/plugin"
)

// Manager owns every loaded plugin and its resolution context.
type Manager struct {
	mu     sync.Mutex
	reg    *registry.Registry
	opts   options
	closed bool
	log    *logging.Logger
}

// Info describes a loaded plugin.
type Info struct {
	Name      string
	Path      string
	LoadedAt  time.Time
	ContextID uuid.UUID
}

// New creates an empty manager.
func New(opts ...Option) *Manager {
	m := &Manager{
		reg:  registry.New(),
		opts: options{reclaimAttempts: defaultReclaimAttempts},
	}
	for _, opt := range opts {
		opt(&m.opts)
	}
	if m.opts.logger != nil {
		m.log = logging.FromZap(logging.CategoryManager, m.opts.logger)
	} else {
		m.log = logging.Get(logging.CategoryManager)
	}
	return m
}

// NewFromConfig creates a manager configured by cfg. Explicit options win
// over the configuration.
func NewFromConfig(cfg *config.Config, opts ...Option) *Manager {
	return New(append(FromConfig(cfg), opts...)...)
}

// canonicalPath makes path absolute and resolves symlinks when it exists, so
// two spellings of one module file share a registry key.
func canonicalPath(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("%w: empty path", ErrInvalidArgument)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}
	return abs, nil
}

// Load loads the module at path, instantiates its single plugin factory and
// registers the result. On failure nothing stays behind: a created instance
// is closed and the context unloaded before the error is returned.
func (m *Manager) Load(path string) (plugin.Plugin, error) {
	canonical, err := canonicalPath(path)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}
	if m.reg.HasPath(canonical) {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyLoaded, canonical)
	}

	start := time.Now()
	ctx, err := loader.NewContext(canonical, m.opts.shared, m.opts.contextOptions()...)
	if err != nil {
		return nil, err
	}
	log := m.log.With(zap.String("path", canonical), zap.String("context", ctx.ID().String()))

	p, err := m.instantiate(ctx)
	if err != nil {
		m.rollback(log, ctx, nil)
		auditLoadFailed(canonical, ctx, start, err)
		return nil, err
	}

	name, err := pluginName(p)
	if err == nil {
		err = m.reg.Add(registry.NewRecord(canonical, name, p, ctx))
		if errors.Is(err, registry.ErrNameTaken) {
			err = fmt.Errorf("%w: %s", ErrDuplicateName, name)
		}
	}
	if err != nil {
		m.rollback(log, ctx, p)
		auditLoadFailed(canonical, ctx, start, err)
		return nil, err
	}

	log.Info("loaded plugin %s", name)
	logging.Audit(logging.AuditEvent{
		EventType: logging.AuditPluginLoad,
		Plugin:    name,
		Path:      canonical,
		ContextID: ctx.ID().String(),
		Duration:  time.Since(start),
	})
	return p, nil
}

func auditLoadFailed(path string, ctx *loader.Context, start time.Time, err error) {
	logging.Audit(logging.AuditEvent{
		EventType: logging.AuditPluginLoadFailed,
		Path:      path,
		ContextID: ctx.ID().String(),
		Duration:  time.Since(start),
		Err:       err,
	})
}

// instantiate loads the module graph and calls its single factory.
func (m *Manager) instantiate(ctx *loader.Context) (plugin.Plugin, error) {
	mod, err := ctx.LoadModuleGraph()
	if err != nil {
		return nil, err
	}
	switch len(mod.Factories) {
	case 0:
		return nil, fmt.Errorf("%w: %s", ErrNoCandidateType, ctx.LoadPath())
	case 1:
		return ctx.Instantiate(mod.Factories[0])
	default:
		return nil, fmt.Errorf("%w: %s declares %v", ErrAmbiguousCandidateType, ctx.LoadPath(), mod.Factories)
	}
}

func pluginName(p plugin.Plugin) (name string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("plugin Name panicked: %v", r)
		}
	}()
	name = p.Name()
	if name == "" {
		return "", ErrEmptyName
	}
	return name, nil
}

// rollback undoes a failed load. Cleanup failures are logged; the caller
// reports the load error.
func (m *Manager) rollback(log *logging.Logger, ctx *loader.Context, p plugin.Plugin) {
	if p != nil {
		if err := closePlugin(p); err != nil {
			log.Warn("closing plugin after failed load: %v", err)
		}
	}
	if err := ctx.Unload(); err != nil {
		log.Warn("unloading context after failed load: %v", err)
	}
	log.Debug("rolled back load")
}

func closePlugin(p plugin.Plugin) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("plugin Close panicked: %v", r)
		}
	}()
	return p.Close()
}

// LoadedPlugins returns the names of the loaded plugins in load order.
// The slice is a copy. It is nil once the manager is closed.
func (m *Manager) LoadedPlugins() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	return m.reg.Names()
}

// Plugins describes the loaded plugins in load order.
func (m *Manager) Plugins() []Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}

	records := m.reg.Records()
	infos := make([]Info, 0, len(records))
	for _, rec := range records {
		infos = append(infos, Info{
			Name:      rec.Name,
			Path:      rec.Path,
			LoadedAt:  rec.LoadedAt,
			ContextID: rec.Context.ID(),
		})
	}
	return infos
}

// FindPlugin returns the plugin called name, ignoring case.
func (m *Manager) FindPlugin(name string) (plugin.Plugin, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: empty name", ErrInvalidArgument)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}
	rec := m.reg.ByName(name)
	if rec == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return rec.Plugin, nil
}

// TryFindPlugin is FindPlugin without the error.
func (m *Manager) TryFindPlugin(name string) (plugin.Plugin, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed || name == "" {
		return nil, false
	}
	rec := m.reg.ByName(name)
	if rec == nil {
		return nil, false
	}
	return rec.Plugin, true
}

// Unload closes p, unloads its context and removes its record. Every step
// runs even if an earlier one fails; the first error is returned. With wait
// set, Unload also forces collections until the module namespace has been
// reclaimed or the configured attempts run out.
//
// p is looked up by name, and must not be used after Unload returns.
func (m *Manager) Unload(p plugin.Plugin, wait bool) error {
	if p == nil {
		return fmt.Errorf("%w: nil plugin", ErrInvalidArgument)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	name, err := pluginName(p)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	rec := m.reg.ByName(name)
	if rec == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return m.unload(rec, wait)
}

// UnloadPath unloads the plugin loaded from path.
func (m *Manager) UnloadPath(path string, wait bool) error {
	canonical, err := canonicalPath(path)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	rec := m.reg.ByPath(canonical)
	if rec == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, canonical)
	}
	return m.unload(rec, wait)
}

// unload runs with m.mu held.
func (m *Manager) unload(rec *registry.Record, wait bool) error {
	log := m.log.With(zap.String("path", rec.Path), zap.String("context", rec.Context.ID().String()))
	start := time.Now()

	var first error
	if err := closePlugin(rec.Plugin); err != nil {
		first = err
		log.Warn("closing plugin %s: %v", rec.Name, err)
	}
	if err := rec.Context.Unload(); err != nil {
		if first == nil {
			first = err
		}
		log.Warn("unloading context of %s: %v", rec.Name, err)
	}
	m.reg.Remove(rec.Path)
	log.Info("unloaded plugin %s", rec.Name)

	event := logging.AuditEvent{
		EventType: logging.AuditPluginUnload,
		Plugin:    rec.Name,
		Path:      rec.Path,
		ContextID: rec.Context.ID().String(),
		Err:       first,
	}
	// Instances still held by callers pin the interpreter, so this only
	// succeeds once they are released.
	if wait && rec.Context.WaitReclaimed(m.opts.reclaimAttempts) {
		log.Debug("module namespace reclaimed")
	}
	event.Duration = time.Since(start)
	logging.Audit(event)
	return first
}

// Close closes every plugin and unloads every context, continuing past
// failures, and returns the failures joined. Only the first call does any
// work. Afterwards Load, FindPlugin and Unload return ErrClosed.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true

	records := m.reg.Drain()
	var errs []error
	for _, rec := range records {
		if err := closePlugin(rec.Plugin); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", rec.Name, err))
		}
		if err := rec.Context.Unload(); err != nil {
			errs = append(errs, fmt.Errorf("unload %s: %w", rec.Name, err))
		}
	}

	m.log.Info("closed manager (%d plugins, %d errors)", len(records), len(errs))
	err := errors.Join(errs...)
	logging.Audit(logging.AuditEvent{EventType: logging.AuditManagerClose, Err: err})
	return err
}
