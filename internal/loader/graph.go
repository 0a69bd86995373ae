package loader

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strconv"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"pluginhost/pkg/plugin"
)

// moduleRoot prefixes the import path a module is staged under. The dot
// keeps it from colliding with anything found next to the module.
const moduleRoot = "pluginhost.module"

// Module describes a module graph loaded into a context.
type Module struct {
	// Package is the module's package name.
	Package string
	// ImportPath is where the module is staged inside the context.
	ImportPath string
	// Factories are the exported functions producing a plugin.Plugin.
	Factories []string
	// Dependencies holds every import resolved for the module and its
	// local dependencies, sorted by import path.
	Dependencies []Handle
}

// LoadModuleGraph parses the module at the context's load path, resolves its
// imports transitively and evaluates it in a fresh interpreter that only
// knows the shared and system packages the graph resolved to.
func (c *Context) LoadModuleGraph() (*Module, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mustBeActive("LoadModuleGraph")

	if c.module != nil {
		return nil, fmt.Errorf("%w: %s", ErrGraphLoaded, c.loadPath)
	}

	files, err := moduleFiles(c.loadPath)
	if err != nil {
		return nil, err
	}

	fset := token.NewFileSet()
	parsed := make([]*ast.File, 0, len(files))
	pkgName := ""
	for _, f := range files {
		af, err := parser.ParseFile(fset, f, nil, parser.SkipObjectResolution)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidModule, err)
		}
		switch {
		case af.Name.Name == "main":
			return nil, fmt.Errorf("%w: %s: package main cannot be loaded", ErrInvalidModule, f)
		case pkgName == "":
			pkgName = af.Name.Name
		case pkgName != af.Name.Name:
			return nil, fmt.Errorf("%w: found packages %s and %s in %s", ErrInvalidModule, pkgName, af.Name.Name, c.loadPath)
		}
		parsed = append(parsed, af)
	}

	if err := c.resolveGraph(fset, parsed); err != nil {
		return nil, err
	}

	m := &Module{
		Package:    pkgName,
		ImportPath: moduleRoot + "/" + pkgName,
		Factories:  findFactories(parsed),
	}
	for _, h := range c.resolved {
		m.Dependencies = append(m.Dependencies, h)
	}
	sort.Slice(m.Dependencies, func(i, j int) bool {
		return m.Dependencies[i].ImportPath < m.Dependencies[j].ImportPath
	})

	if err := c.stage(m.ImportPath, files); err != nil {
		return nil, err
	}

	i, err := c.newInterpreter()
	if err != nil {
		return nil, err
	}
	if err := evalImport(i, m.ImportPath); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrEval, c.loadPath, err)
	}

	c.interp = i
	c.module = m
	c.log.Debug("loaded %s as %s (%d deps, factories=%v)", c.loadPath, m.ImportPath, len(m.Dependencies), m.Factories)
	return m, nil
}

// evalImport imports the staged module, running its package initializers.
// A panic raised by those initializers comes back as an error.
func evalImport(i *interp.Interpreter, importPath string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during package initialization: %v", r)
		}
	}()
	_, err = i.Eval(fmt.Sprintf("import %q", importPath))
	return err
}

// resolveGraph resolves the imports of the module files and, transitively,
// of every local dependency staged along the way.
func (c *Context) resolveGraph(fset *token.FileSet, files []*ast.File) error {
	queue := importsOf(files)
	seen := make(map[string]bool)
	for len(queue) > 0 {
		ip := queue[0]
		queue = queue[1:]
		if seen[ip] {
			continue
		}
		seen[ip] = true

		h, err := c.resolve(ip)
		if err != nil {
			return err
		}
		if h.Origin != OriginLocal {
			continue
		}

		deps := make([]*ast.File, 0, len(h.Files))
		for _, f := range h.Files {
			af, err := parser.ParseFile(fset, f, nil, parser.ImportsOnly)
			if err != nil {
				return fmt.Errorf("%w: dependency %s: %v", ErrInvalidModule, ip, err)
			}
			deps = append(deps, af)
		}
		queue = append(queue, importsOf(deps)...)
	}
	return nil
}

func (c *Context) newInterpreter() (*interp.Interpreter, error) {
	i := interp.New(interp.Options{
		GoPath: c.gopath,
		Stdout: c.opts.stdout,
		Stderr: c.opts.stderr,
	})

	shared := make(interp.Exports, len(c.shared))
	for _, pkg := range c.shared {
		shared[pkg.key] = pkg.symbols
	}
	if err := i.Use(shared); err != nil {
		return nil, fmt.Errorf("failed to load shared packages: %w", err)
	}

	system := make(interp.Exports)
	for ip, h := range c.resolved {
		if h.Origin != OriginSystem {
			continue
		}
		key, _ := systemKey(ip)
		system[key] = stdlib.Symbols[key]
	}
	if err := i.Use(system); err != nil {
		return nil, fmt.Errorf("failed to load system packages: %w", err)
	}
	return i, nil
}

// Instantiate evaluates the named factory of the loaded module and calls it.
// An error returned by the factory is passed through unchanged.
func (c *Context) Instantiate(factory string) (p plugin.Plugin, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mustBeActive("Instantiate")

	if c.module == nil {
		return nil, fmt.Errorf("%w: %s", ErrGraphNotLoaded, c.loadPath)
	}

	fn, err := c.interp.Eval(c.module.Package + "." + factory)
	if err != nil {
		return nil, fmt.Errorf("%w: %s.%s: %v", ErrEval, c.module.Package, factory, err)
	}
	if fn.Kind() != reflect.Func {
		return nil, fmt.Errorf("%w: %s.%s is a %s", ErrInvalidFactory, c.module.Package, factory, fn.Kind())
	}

	defer func() {
		if r := recover(); r != nil {
			p = nil
			err = fmt.Errorf("%w: %s.%s: %v", ErrFactoryPanic, c.module.Package, factory, r)
		}
	}()

	out := fn.Call(nil)
	if len(out) == 2 && !isNil(out[1]) {
		if ferr, ok := out[1].Interface().(error); ok {
			return nil, ferr
		}
		return nil, fmt.Errorf("%w: %s.%s returned a non-error", ErrInvalidFactory, c.module.Package, factory)
	}
	if len(out) == 0 || isNil(out[0]) {
		return nil, fmt.Errorf("%w: %s.%s", ErrNilInstance, c.module.Package, factory)
	}
	p, ok := out[0].Interface().(plugin.Plugin)
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s returned %s", ErrInvalidFactory, c.module.Package, factory, out[0].Type())
	}
	return p, nil
}

func isNil(v reflect.Value) bool {
	if !v.IsValid() {
		return true
	}
	switch v.Kind() {
	case reflect.Interface, reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return v.IsNil()
	}
	return false
}

// moduleFiles returns the Go files of a module: the file itself, or the
// non-test files of a package directory.
func moduleFiles(loadPath string) ([]string, error) {
	info, err := os.Stat(loadPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidModule, err)
	}
	if info.IsDir() {
		files, err := packageFiles(loadPath)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidModule, err)
		}
		if len(files) == 0 {
			return nil, fmt.Errorf("%w: no Go files in %s", ErrInvalidModule, loadPath)
		}
		return files, nil
	}
	if filepath.Ext(loadPath) != ".go" {
		return nil, fmt.Errorf("%w: %s is not a Go source file", ErrInvalidModule, loadPath)
	}
	return []string{loadPath}, nil
}

func importsOf(files []*ast.File) []string {
	var out []string
	for _, f := range files {
		for _, spec := range f.Imports {
			ip, err := strconv.Unquote(spec.Path.Value)
			if err != nil {
				continue
			}
			out = append(out, ip)
		}
	}
	return out
}

// findFactories returns the exported, receiver-less, non-generic functions
// that take no arguments and return plugin.Plugin or (plugin.Plugin, error).
// This is the module equivalent of "public concrete types implementing the
// contract": a module must declare exactly one.
func findFactories(files []*ast.File) []string {
	var names []string
	for _, f := range files {
		qualifier, dot := contractQualifier(f)
		if qualifier == "" && !dot {
			continue
		}
		for _, decl := range f.Decls {
			fd, ok := decl.(*ast.FuncDecl)
			if !ok || fd.Recv != nil || !fd.Name.IsExported() {
				continue
			}
			if fd.Type.TypeParams != nil || fd.Type.Params.NumFields() != 0 {
				continue
			}
			if returnsPlugin(fd.Type.Results, qualifier, dot) {
				names = append(names, fd.Name.Name)
			}
		}
	}
	sort.Strings(names)
	return names
}

// contractQualifier reports how a file refers to the contract package: by
// a qualifier, or unqualified through a dot import.
func contractQualifier(f *ast.File) (string, bool) {
	for _, spec := range f.Imports {
		ip, err := strconv.Unquote(spec.Path.Value)
		if err != nil || ip != plugin.ImportPath {
			continue
		}
		if spec.Name == nil {
			return "plugin", false
		}
		switch spec.Name.Name {
		case "_":
			return "", false
		case ".":
			return "", true
		default:
			return spec.Name.Name, false
		}
	}
	return "", false
}

func returnsPlugin(results *ast.FieldList, qualifier string, dot bool) bool {
	if results == nil {
		return false
	}
	var types []ast.Expr
	for _, field := range results.List {
		n := len(field.Names)
		if n == 0 {
			n = 1
		}
		for k := 0; k < n; k++ {
			types = append(types, field.Type)
		}
	}
	switch len(types) {
	case 1:
	case 2:
		if id, ok := types[1].(*ast.Ident); !ok || id.Name != "error" {
			return false
		}
	default:
		return false
	}

	switch t := types[0].(type) {
	case *ast.SelectorExpr:
		x, ok := t.X.(*ast.Ident)
		return ok && !dot && x.Name == qualifier && t.Sel.Name == "Plugin"
	case *ast.Ident:
		return dot && t.Name == "Plugin"
	}
	return false
}
