// Package plugin defines the capability contract every loadable module
// implements.
//
// A module is Go source interpreted inside its own namespace. The module
// imports this package by ImportPath and exposes exactly one exported
// factory function:
//
//	package alpha
//
//	import "pluginhost/pkg/plugin"
//
//	type Alpha struct{}
//
//	func New() plugin.Plugin { return &Alpha{} }
//
//	func (a *Alpha) Name() string { return "Alpha" }
//	func (a *Alpha) Close() error { return nil }
//
// The factory may also return (plugin.Plugin, error). This package is always
// shared between the host and its modules, so the Plugin type a module sees
// is the host's compiled type and instances cross the boundary unconverted.
package plugin

// ImportPath is the import path modules use to reach this package.
const ImportPath = "pluginhost/pkg/plugin"

// Plugin is the capability contract.
type Plugin interface {
	// Name identifies the module. It must be unique (case-insensitively)
	// among all loaded modules.
	Name() string

	// Close releases everything the module acquired. The host calls it
	// exactly once per instance.
	Close() error
}
