// Package modtest writes module fixtures for tests and exports a recorder
// package that interpreted modules call back into, so tests can observe
// factory and Close invocations from the host side.
package modtest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/traefik/yaegi/interp"
)

// RecorderImportPath is the import path fixtures use to reach the recorder.
const RecorderImportPath = "pluginhost/testrecorder"

// ErrBoom is returned by fixtures that fail on purpose.
var ErrBoom = errors.New("boom")

// Recorder collects events in call order.
type Recorder struct {
	mu     sync.Mutex
	events []string
}

// Event records "<kind>:<name>".
func (r *Recorder) Event(kind, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, kind+":"+name)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

// Count returns how many times "<kind>:<name>" was recorded.
func (r *Recorder) Count(kind, name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e == kind+":"+name {
			n++
		}
	}
	return n
}

// Exports shares the recorder package with interpreted modules.
func (r *Recorder) Exports() interp.Exports {
	return interp.Exports{
		RecorderImportPath + "/testrecorder": {
			"Event":   reflect.ValueOf(r.Event),
			"ErrBoom": reflect.ValueOf(&ErrBoom).Elem(),
		},
	}
}

// WriteFile writes src to dir/name, creating dir as needed.
func WriteFile(t testing.TB, dir, name, src string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(src), 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

// Plugin renders a module whose factory New returns a plugin named name.
// The factory and Close report to the recorder.
func Plugin(pkg, name string) string {
	return fmt.Sprintf(`package %[1]s

import (
	"pluginhost/pkg/plugin"
	"pluginhost/testrecorder"
)

type Impl struct{ name string }

func New() plugin.Plugin {
	testrecorder.Event("new", %[2]q)
	return &Impl{name: %[2]q}
}

func (p *Impl) Name() string { return p.name }

func (p *Impl) Close() error {
	testrecorder.Event("close", p.name)
	return nil
}
`, pkg, name)
}

// Factories renders a module declaring one plugin type and the given
// factory function names, all returning it.
func Factories(pkg, name string, factories ...string) string {
	var b strings.Builder
	fmt.Fprintf(&b, `package %s

import "pluginhost/pkg/plugin"

type Impl struct{}

func (p *Impl) Name() string { return %q }

func (p *Impl) Close() error { return nil }
`, pkg, name)
	for _, f := range factories {
		fmt.Fprintf(&b, "\nfunc %s() plugin.Plugin { return &Impl{} }\n", f)
	}
	return b.String()
}

// Failing renders a module whose factory returns testrecorder.ErrBoom.
func Failing(pkg string) string {
	return fmt.Sprintf(`package %s

import (
	"pluginhost/pkg/plugin"
	"pluginhost/testrecorder"
)

func New() (plugin.Plugin, error) {
	return nil, testrecorder.ErrBoom
}
`, pkg)
}

// Panicking renders a module whose factory panics.
func Panicking(pkg string) string {
	return fmt.Sprintf(`package %s

import "pluginhost/pkg/plugin"

func New() plugin.Plugin {
	panic("factory exploded")
}
`, pkg)
}

// InitPanicking renders a module whose package initializers panic before
// any factory can run.
func InitPanicking(pkg string) string {
	return fmt.Sprintf(`package %s

import "pluginhost/pkg/plugin"

var x = func() int { panic("init") }()

func New() plugin.Plugin { return nil }
`, pkg)
}

// ClosingWithError renders a module whose Close reports to the recorder and
// then fails with testrecorder.ErrBoom.
func ClosingWithError(pkg, name string) string {
	return fmt.Sprintf(`package %[1]s

import (
	"pluginhost/pkg/plugin"
	"pluginhost/testrecorder"
)

type Impl struct{}

func New() plugin.Plugin { return &Impl{} }

func (p *Impl) Name() string { return %[2]q }

func (p *Impl) Close() error {
	testrecorder.Event("close", %[2]q)
	return testrecorder.ErrBoom
}
`, pkg, name)
}
