package loader

import "errors"

// Resolution context errors.
var (
	// ErrInvalidPath is returned when a context is created without a load path.
	ErrInvalidPath = errors.New("invalid module path")

	// ErrInvalidModule is returned when the path does not hold a loadable Go package.
	ErrInvalidModule = errors.New("invalid module")

	// ErrUnresolved is returned when an import matches neither a shared
	// package, a file next to the module, nor the platform library.
	ErrUnresolved = errors.New("unresolved dependency")

	// ErrGraphLoaded is returned when LoadModuleGraph runs twice on one context.
	ErrGraphLoaded = errors.New("module graph already loaded")

	// ErrGraphNotLoaded is returned when instantiating before LoadModuleGraph.
	ErrGraphNotLoaded = errors.New("module graph not loaded")

	// ErrEval is returned when the interpreter rejects the module source.
	ErrEval = errors.New("module evaluation failed")

	// ErrInvalidFactory is returned when a factory does not produce a plugin.
	ErrInvalidFactory = errors.New("invalid factory")

	// ErrFactoryPanic wraps a panic raised by a module factory.
	ErrFactoryPanic = errors.New("factory panicked")

	// ErrNilInstance is returned when a factory returns a nil plugin without error.
	ErrNilInstance = errors.New("factory returned nil plugin")
)
