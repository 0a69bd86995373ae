package loader

import (
	"go/ast"
	"go/parser"
	"go/token"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pluginhost/internal/testing/modtest"
	"pluginhost/pkg/plugin"
)

const alphaSrc = `package alpha

import (
	"strings"

	"jsonfmt"
	"pluginhost/pkg/plugin"
)

type Alpha struct{ name string }

func New() plugin.Plugin {
	return &Alpha{name: "Alpha-" + strings.ToUpper(jsonfmt.Tag())}
}

func (a *Alpha) Name() string { return a.name }

func (a *Alpha) Close() error { return nil }
`

const jsonfmtTransitiveSrc = `package jsonfmt

import "strfmt"

func Tag() string { return strfmt.Version }
`

func writeAlpha(t *testing.T, version string) string {
	t.Helper()
	base := t.TempDir()
	modtest.WriteFile(t, base, "jsonfmt.go", jsonfmtTransitiveSrc)
	modtest.WriteFile(t, base, filepath.Join("strfmt", "strfmt.go"), "package strfmt\n\nconst Version = \""+version+"\"\n")
	return modtest.WriteFile(t, base, "alpha.go", alphaSrc)
}

func TestLoadModuleGraph(t *testing.T) {
	c := newTestContext(t, writeAlpha(t, "v1"))

	m, err := c.LoadModuleGraph()
	require.NoError(t, err)
	assert.Equal(t, "alpha", m.Package)
	assert.Equal(t, moduleRoot+"/alpha", m.ImportPath)
	assert.Equal(t, []string{"New"}, m.Factories)

	origins := make(map[string]Origin)
	for _, h := range m.Dependencies {
		origins[h.ImportPath] = h.Origin
	}
	assert.Equal(t, map[string]Origin{
		"jsonfmt":         OriginLocal,
		"strfmt":          OriginLocal,
		"strings":         OriginSystem,
		plugin.ImportPath: OriginShared,
	}, origins)

	p, err := c.Instantiate("New")
	require.NoError(t, err)
	assert.Equal(t, "Alpha-V1", p.Name())
	assert.NoError(t, p.Close())
}

func TestLoadModuleGraphTwice(t *testing.T) {
	c := newTestContext(t, writeAlpha(t, "v1"))

	_, err := c.LoadModuleGraph()
	require.NoError(t, err)
	_, err = c.LoadModuleGraph()
	assert.ErrorIs(t, err, ErrGraphLoaded)
}

func TestContextsIsolateVersions(t *testing.T) {
	v1 := newTestContext(t, writeAlpha(t, "v1"))
	v2 := newTestContext(t, writeAlpha(t, "v2"))

	var names []string
	for _, c := range []*Context{v1, v2} {
		_, err := c.LoadModuleGraph()
		require.NoError(t, err)
		p, err := c.Instantiate("New")
		require.NoError(t, err)
		names = append(names, p.Name())
	}
	assert.Equal(t, []string{"Alpha-V1", "Alpha-V2"}, names)
}

func TestLoadModuleGraphDirectory(t *testing.T) {
	base := t.TempDir()
	dir := filepath.Join(base, "gamma")
	modtest.WriteFile(t, dir, "gamma.go", modtest.Factories("gamma", "Gamma", "New"))
	modtest.WriteFile(t, dir, "extra.go", "package gamma\n\nconst Extra = 1\n")
	modtest.WriteFile(t, dir, "gamma_test.go", "package gamma_test\n")

	c := newTestContext(t, dir)
	m, err := c.LoadModuleGraph()
	require.NoError(t, err)
	assert.Equal(t, "gamma", m.Package)

	p, err := c.Instantiate("New")
	require.NoError(t, err)
	assert.Equal(t, "Gamma", p.Name())
}

func TestLoadModuleGraphRejects(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, dir string) string
		want  error
	}{
		{
			name:  "missing file",
			setup: func(t *testing.T, dir string) string { return filepath.Join(dir, "absent.go") },
			want:  ErrInvalidModule,
		},
		{
			name: "not go source",
			setup: func(t *testing.T, dir string) string {
				return modtest.WriteFile(t, dir, "alpha.so", "ELF")
			},
			want: ErrInvalidModule,
		},
		{
			name: "package main",
			setup: func(t *testing.T, dir string) string {
				return modtest.WriteFile(t, dir, "main.go", "package main\n\nfunc main() {}\n")
			},
			want: ErrInvalidModule,
		},
		{
			name: "syntax error",
			setup: func(t *testing.T, dir string) string {
				return modtest.WriteFile(t, dir, "broken.go", "package broken\n\nfunc {\n")
			},
			want: ErrInvalidModule,
		},
		{
			name: "empty directory",
			setup: func(t *testing.T, dir string) string {
				modtest.WriteFile(t, dir, filepath.Join("empty", "README"), "nothing here")
				return filepath.Join(dir, "empty")
			},
			want: ErrInvalidModule,
		},
		{
			name: "unresolved import",
			setup: func(t *testing.T, dir string) string {
				return modtest.WriteFile(t, dir, "lost.go", "package lost\n\nimport _ \"github.com/nowhere/thing\"\n")
			},
			want: ErrUnresolved,
		},
		{
			name: "type error",
			setup: func(t *testing.T, dir string) string {
				return modtest.WriteFile(t, dir, "typo.go", "package typo\n\nvar X int = \"nope\"\n")
			},
			want: ErrEval,
		},
		{
			name: "init panic",
			setup: func(t *testing.T, dir string) string {
				return modtest.WriteFile(t, dir, "initpanic.go", modtest.InitPanicking("initpanic"))
			},
			want: ErrEval,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestContext(t, tt.setup(t, t.TempDir()))
			_, err := c.LoadModuleGraph()
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestLoadModuleGraphInitPanic(t *testing.T) {
	c := newTestContext(t, modtest.WriteFile(t, t.TempDir(), "initpanic.go", modtest.InitPanicking("initpanic")))

	m, err := c.LoadModuleGraph()
	assert.Nil(t, m)
	require.ErrorIs(t, err, ErrEval)
	assert.ErrorContains(t, err, "panic during package initialization")

	_, err = c.Instantiate("New")
	assert.ErrorIs(t, err, ErrGraphNotLoaded)
	require.NoError(t, c.Unload())
	assert.NoDirExists(t, c.gopath)
}

func TestInstantiate(t *testing.T) {
	load := func(t *testing.T, rec *modtest.Recorder, src string) *Context {
		t.Helper()
		path := modtest.WriteFile(t, t.TempDir(), "mod.go", src)
		c, err := NewContext(path, rec.Exports(), WithStagingRoot(t.TempDir()))
		require.NoError(t, err)
		t.Cleanup(func() { _ = c.Unload() })
		_, err = c.LoadModuleGraph()
		require.NoError(t, err)
		return c
	}

	t.Run("factory error passes through", func(t *testing.T) {
		c := load(t, &modtest.Recorder{}, modtest.Failing("failing"))
		p, err := c.Instantiate("New")
		assert.Nil(t, p)
		assert.EqualError(t, err, modtest.ErrBoom.Error())
	})

	t.Run("panic becomes an error", func(t *testing.T) {
		c := load(t, &modtest.Recorder{}, modtest.Panicking("panicking"))
		_, err := c.Instantiate("New")
		assert.ErrorIs(t, err, ErrFactoryPanic)
		assert.Contains(t, err.Error(), "factory exploded")
	})

	t.Run("nil plugin", func(t *testing.T) {
		c := load(t, &modtest.Recorder{}, "package nilplug\n\nimport \"pluginhost/pkg/plugin\"\n\nfunc New() plugin.Plugin { return nil }\n")
		_, err := c.Instantiate("New")
		assert.ErrorIs(t, err, ErrNilInstance)
	})

	t.Run("recorder sees the call", func(t *testing.T) {
		rec := &modtest.Recorder{}
		c := load(t, rec, modtest.Plugin("recorded", "Recorded"))
		p, err := c.Instantiate("New")
		require.NoError(t, err)
		require.NoError(t, p.Close())
		assert.Equal(t, []string{"new:Recorded", "close:Recorded"}, rec.Events())
	})

	t.Run("before graph is loaded", func(t *testing.T) {
		c := newTestContext(t, filepath.Join(t.TempDir(), "alpha.go"))
		_, err := c.Instantiate("New")
		assert.ErrorIs(t, err, ErrGraphNotLoaded)
	})
}

func TestFindFactories(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want []string
	}{
		{
			name: "single factory",
			src:  modtest.Factories("a", "A", "New"),
			want: []string{"New"},
		},
		{
			name: "two factories",
			src:  modtest.Factories("a", "A", "NewA", "NewB"),
			want: []string{"NewA", "NewB"},
		},
		{
			name: "none",
			src:  modtest.Factories("a", "A"),
			want: nil,
		},
		{
			name: "with error result",
			src:  "package a\nimport \"pluginhost/pkg/plugin\"\nfunc New() (plugin.Plugin, error) { return nil, nil }\n",
			want: []string{"New"},
		},
		{
			name: "named results",
			src:  "package a\nimport \"pluginhost/pkg/plugin\"\nfunc New() (p plugin.Plugin, err error) { return }\n",
			want: []string{"New"},
		},
		{
			name: "aliased import",
			src:  "package a\nimport contract \"pluginhost/pkg/plugin\"\nfunc New() contract.Plugin { return nil }\n",
			want: []string{"New"},
		},
		{
			name: "dot import",
			src:  "package a\nimport . \"pluginhost/pkg/plugin\"\nfunc New() Plugin { return nil }\n",
			want: []string{"New"},
		},
		{
			name: "skips unexported methods params generics and wrong types",
			src: `package a
import "pluginhost/pkg/plugin"
type T struct{}
func newT() plugin.Plugin { return nil }
func (T) Make() plugin.Plugin { return nil }
func WithArg(s string) plugin.Plugin { return nil }
func Generic[X any]() plugin.Plugin { return nil }
func Other() error { return nil }
func Triple() (plugin.Plugin, error, bool) { return nil, nil, false }
func NotError() (plugin.Plugin, bool) { return nil, false }
`,
			want: nil,
		},
		{
			name: "contract not imported",
			src:  "package a\ntype Plugin interface{}\nfunc New() Plugin { return nil }\n",
			want: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := parser.ParseFile(token.NewFileSet(), "a.go", tt.src, parser.SkipObjectResolution)
			require.NoError(t, err)
			assert.Equal(t, tt.want, findFactories([]*ast.File{f}))
		})
	}
}
