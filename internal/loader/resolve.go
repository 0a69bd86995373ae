package loader

import (
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/traefik/yaegi/stdlib"
)

// Origin tells where a dependency was resolved from.
type Origin int

const (
	// OriginShared is a host package shared by every context.
	OriginShared Origin = iota
	// OriginLocal is a package found next to the module, private to the context.
	OriginLocal
	// OriginSystem is a platform standard library package.
	OriginSystem
)

func (o Origin) String() string {
	switch o {
	case OriginShared:
		return "shared"
	case OriginLocal:
		return "local"
	case OriginSystem:
		return "system"
	default:
		return fmt.Sprintf("Origin(%d)", int(o))
	}
}

// Handle is a resolved dependency.
type Handle struct {
	ImportPath string
	Origin     Origin
	// Files are the source files found next to the module of a local package.
	Files []string
}

var (
	stdlibOnce  sync.Once
	stdlibIndex map[string]string // import path -> stdlib.Symbols key
)

func systemKey(importPath string) (string, bool) {
	stdlibOnce.Do(func() {
		stdlibIndex = make(map[string]string, len(stdlib.Symbols))
		for key := range stdlib.Symbols {
			stdlibIndex[path.Dir(key)] = key
		}
	})
	key, ok := stdlibIndex[importPath]
	return key, ok
}

// Resolve maps an import path to a Handle: shared host packages first, then
// a directory or single file named after the import next to the module,
// then the platform standard library. Local hits are staged into the
// context's private GOPATH. Resolving on an unloaded context panics.
func (c *Context) Resolve(importPath string) (Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mustBeActive("Resolve")
	return c.resolve(importPath)
}

func (c *Context) resolve(importPath string) (Handle, error) {
	if h, ok := c.resolved[importPath]; ok {
		return h, nil
	}

	if !validImportPath(importPath) {
		return Handle{}, fmt.Errorf("%w: %q: invalid import path", ErrUnresolved, importPath)
	}

	h := Handle{ImportPath: importPath, Origin: OriginShared}
	if !c.IsShared(importPath) {
		files, err := c.findLocal(importPath)
		if err != nil {
			return Handle{}, err
		}
		switch {
		case len(files) > 0:
			if err := c.stage(importPath, files); err != nil {
				return Handle{}, err
			}
			h = Handle{ImportPath: importPath, Origin: OriginLocal, Files: files}
		case c.systemAllowed(importPath):
			h = Handle{ImportPath: importPath, Origin: OriginSystem}
		default:
			return Handle{}, fmt.Errorf("%w: %q", ErrUnresolved, importPath)
		}
	}

	c.resolved[importPath] = h
	c.log.Debug("resolved %s (%s)", importPath, h.Origin)
	return h, nil
}

func (c *Context) systemAllowed(importPath string) bool {
	if _, ok := systemKey(importPath); !ok {
		return false
	}
	return c.opts.system == nil || c.opts.system[importPath]
}

// validImportPath rejects paths that could stage outside the private gopath.
func validImportPath(importPath string) bool {
	if importPath == "" || path.IsAbs(importPath) || path.Clean(importPath) != importPath {
		return false
	}
	if strings.ContainsAny(importPath, "\\:") {
		return false
	}
	for _, elem := range strings.Split(importPath, "/") {
		if elem == "." || elem == ".." {
			return false
		}
	}
	return true
}

// findLocal looks for a dependency next to the module: first a package
// directory at base/<import path>, then a single file base/<last element>.go.
func (c *Context) findLocal(importPath string) ([]string, error) {
	if importPath == "" || strings.HasPrefix(importPath, ".") {
		return nil, nil
	}

	dir := filepath.Join(c.baseDir, filepath.FromSlash(importPath))
	if info, err := os.Stat(dir); err == nil && info.IsDir() && dir != c.loadPath {
		files, err := packageFiles(dir)
		if err != nil {
			return nil, err
		}
		if len(files) > 0 {
			return files, nil
		}
	}

	file := filepath.Join(c.baseDir, path.Base(importPath)+".go")
	if file == c.loadPath {
		return nil, nil
	}
	if info, err := os.Stat(file); err == nil && info.Mode().IsRegular() {
		return []string{file}, nil
	}
	return nil, nil
}

// packageFiles lists the non-test Go files of a directory.
func packageFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", dir, err)
	}
	var files []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".go") || strings.HasSuffix(name, "_test.go") {
			continue
		}
		files = append(files, filepath.Join(dir, name))
	}
	sort.Strings(files)
	return files, nil
}

// stage copies files into gopath/src/<import path>.
func (c *Context) stage(importPath string, files []string) error {
	dest := filepath.Join(c.gopath, "src", filepath.FromSlash(importPath))
	if err := os.MkdirAll(dest, 0755); err != nil {
		return fmt.Errorf("failed to stage %s: %w", importPath, err)
	}
	for _, f := range files {
		if err := copyFile(f, filepath.Join(dest, filepath.Base(f))); err != nil {
			return fmt.Errorf("failed to stage %s: %w", importPath, err)
		}
	}
	c.log.Debug("staged %s from %s (%d files)", importPath, filepath.Dir(files[0]), len(files))
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
