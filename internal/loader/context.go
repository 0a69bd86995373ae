// Package loader implements resolution contexts: isolated namespaces that
// load one module's Go source graph into its own yaegi interpreter.
//
// A context resolves every import of the module in a fixed order. Shared
// host packages win, then packages found next to the module file, then the
// platform standard library. Packages found next to the module are copied
// into a GOPATH private to the context, so two modules (or two versions of
// one module) never see each other's dependencies. Unload drops the
// interpreter and deletes that GOPATH.
package loader

import (
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"reflect"
	"runtime"
	"sync"
	"weak"

	"github.com/google/uuid"
	"github.com/traefik/yaegi/interp"
	"go.uber.org/zap"

	"pluginhost/internal/logging"
	"pluginhost/pkg/plugin"
)

// State is the lifecycle state of a Context.
type State int

const (
	// StateActive serves resolution requests.
	StateActive State = iota
	// StateUnloaded is terminal.
	StateUnloaded
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateUnloaded:
		return "unloaded"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

type options struct {
	stagingRoot string
	system      map[string]bool
	stdout      io.Writer
	stderr      io.Writer
}

// Option configures a Context.
type Option func(*options)

// WithStagingRoot sets the directory under which the private GOPATH is created.
func WithStagingRoot(dir string) Option {
	return func(o *options) { o.stagingRoot = dir }
}

// WithSystemPackages restricts platform resolution to the given standard
// library import paths. An empty list allows the whole standard library.
func WithSystemPackages(paths []string) Option {
	return func(o *options) {
		if len(paths) == 0 {
			o.system = nil
			return
		}
		o.system = make(map[string]bool, len(paths))
		for _, p := range paths {
			o.system[p] = true
		}
	}
}

// WithOutput sets the stdout and stderr seen by interpreted code.
func WithOutput(stdout, stderr io.Writer) Option {
	return func(o *options) {
		o.stdout = stdout
		o.stderr = stderr
	}
}

// sharedPackage is a host package handed to the interpreter as is.
type sharedPackage struct {
	key     string // "<import path>/<package name>"
	symbols map[string]reflect.Value
}

// Context is the resolution namespace of a single module.
type Context struct {
	mu sync.Mutex

	id       uuid.UUID
	loadPath string
	baseDir  string
	shared   map[string]sharedPackage
	opts     options

	// gopath is the private GOPATH; staged packages live in gopath/src.
	gopath   string
	resolved map[string]Handle

	interp    *interp.Interpreter
	module    *Module
	reclaimed weak.Pointer[interp.Interpreter]
	state     State

	log *logging.Logger
}

// NewContext creates an active context for the module at loadPath. The
// plugin contract package is always part of the shared set; shared adds
// further host packages.
func NewContext(loadPath string, shared interp.Exports, opts ...Option) (*Context, error) {
	if loadPath == "" {
		return nil, fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	abs, err := filepath.Abs(loadPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPath, err)
	}

	c := &Context{
		id:       uuid.New(),
		loadPath: abs,
		baseDir:  filepath.Dir(abs),
		shared:   make(map[string]sharedPackage),
		resolved: make(map[string]Handle),
		opts:     options{stdout: os.Stdout, stderr: os.Stderr},
	}
	for _, opt := range opts {
		opt(&c.opts)
	}
	c.log = logging.Get(logging.CategoryLoader).With(zap.String("context", c.id.String()))

	c.addShared(plugin.Symbols)
	c.addShared(shared)

	if c.opts.stagingRoot != "" {
		if err := os.MkdirAll(c.opts.stagingRoot, 0755); err != nil {
			return nil, fmt.Errorf("failed to create staging root: %w", err)
		}
	}
	c.gopath, err = os.MkdirTemp(c.opts.stagingRoot, "pluginhost-"+c.id.String()[:8]+"-")
	if err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}

	c.log.Debug("created context for %s (base=%s, shared=%d)", c.loadPath, c.baseDir, len(c.shared))
	return c, nil
}

func (c *Context) addShared(exports interp.Exports) {
	for key, symbols := range exports {
		c.shared[path.Dir(key)] = sharedPackage{key: key, symbols: symbols}
	}
}

// ID uniquely identifies the context.
func (c *Context) ID() uuid.UUID { return c.id }

// LoadPath is the absolute path the context was created for.
func (c *Context) LoadPath() string { return c.loadPath }

// BaseDir is the directory searched for private dependencies.
func (c *Context) BaseDir() string { return c.baseDir }

// State returns the current lifecycle state.
func (c *Context) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsShared reports whether importPath resolves to a host package.
func (c *Context) IsShared(importPath string) bool {
	_, ok := c.shared[importPath]
	return ok
}

// mustBeActive panics when the context has been unloaded. Using a context
// after Unload is a bug in the host, not a recoverable condition.
// Callers hold c.mu.
func (c *Context) mustBeActive(op string) {
	if c.state == StateUnloaded {
		panic(fmt.Sprintf("loader: %s on unloaded context %s (%s)", op, c.id, c.loadPath))
	}
}

// Unload moves the context to StateUnloaded, drops the interpreter and
// deletes the private GOPATH. Memory held by the interpreter is reclaimed
// by a later collection; WaitReclaimed forces it. Unloading twice is a no-op.
func (c *Context) Unload() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateUnloaded {
		return nil
	}
	c.state = StateUnloaded

	if c.interp != nil {
		c.reclaimed = weak.Make(c.interp)
		c.interp = nil
	}
	c.module = nil
	c.resolved = nil

	if err := os.RemoveAll(c.gopath); err != nil {
		return fmt.Errorf("failed to remove staging directory %s: %w", c.gopath, err)
	}
	c.log.Debug("unloaded context for %s", c.loadPath)
	return nil
}

// WaitReclaimed forces up to attempts garbage collections and reports
// whether the interpreter of an unloaded context has been collected. It
// cannot succeed while callers still hold instances created by the context.
func (c *Context) WaitReclaimed(attempts int) bool {
	c.mu.Lock()
	weakInterp := c.reclaimed
	c.mu.Unlock()

	for i := 0; i < attempts; i++ {
		if weakInterp.Value() == nil {
			return true
		}
		runtime.GC()
	}
	if weakInterp.Value() == nil {
		return true
	}
	c.log.Warn("interpreter for %s still reachable after %d collections", c.loadPath, attempts)
	return false
}
