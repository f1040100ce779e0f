package compile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"plugin"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/syssam/forge/compiler/gen"
)

// Toolchain builds a directory of Go sources into a plugin file.
type Toolchain interface {
	// Build compiles the main package in dir to out. On failure the
	// returned output holds the compiler messages.
	Build(ctx context.Context, dir, out string) ([]byte, error)
}

// Loader opens a built plugin.
type Loader func(path string) (gen.Module, error)

// GoToolchain runs "go build -buildmode=plugin" inside ModuleRoot, so the
// generated package can import the application's packages.
type GoToolchain struct {
	// ModuleRoot is the directory holding the application's go.mod.
	ModuleRoot string
	// GoBin is the go command. It defaults to "go".
	GoBin string
}

// Build implements Toolchain.
func (t GoToolchain) Build(ctx context.Context, dir, out string) ([]byte, error) {
	bin := t.GoBin
	if bin == "" {
		bin = "go"
	}
	cmd := exec.CommandContext(ctx, bin, "build", "-buildmode=plugin", "-o", out, ".")
	cmd.Dir = dir
	if t.ModuleRoot != "" {
		rel, err := filepath.Rel(t.ModuleRoot, dir)
		if err != nil {
			return nil, err
		}
		cmd.Dir = t.ModuleRoot
		cmd.Args[len(cmd.Args)-1] = "./" + filepath.ToSlash(rel)
	}
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	err := cmd.Run()
	return buf.Bytes(), err
}

// OpenPlugin is the default Loader.
func OpenPlugin(path string) (gen.Module, error) {
	p, err := plugin.Open(path)
	if err != nil {
		return nil, err
	}
	return pluginModule{p}, nil
}

type pluginModule struct{ p *plugin.Plugin }

// Lookup implements gen.Module.
func (m pluginModule) Lookup(name string) (any, error) {
	sym, err := m.p.Lookup(name)
	if err != nil {
		return nil, err
	}
	return sym, nil
}

// Plugin compiles assemblies into Go plugins persisted under Dir. A build is
// skipped when the store already holds an artifact for the same sources.
type Plugin struct {
	// Dir holds the generated sources and built plugins. It should live
	// inside the toolchain's module root.
	Dir       string
	Store     ArtifactStore
	Toolchain Toolchain
	Loader    Loader
	Logger    *slog.Logger
	// Workers bounds parallel source writes.
	Workers int
}

// PluginOption configures a Plugin.
type PluginOption func(*Plugin) error

// WithStore sets the artifact store.
func WithStore(s ArtifactStore) PluginOption {
	return func(p *Plugin) error {
		if s == nil {
			return gen.NewConfigError("Store", nil, "artifact store cannot be nil")
		}
		p.Store = s
		return nil
	}
}

// WithToolchain replaces the go toolchain.
func WithToolchain(t Toolchain) PluginOption {
	return func(p *Plugin) error {
		if t == nil {
			return gen.NewConfigError("Toolchain", nil, "toolchain cannot be nil")
		}
		p.Toolchain = t
		return nil
	}
}

// WithLoader replaces plugin.Open.
func WithLoader(l Loader) PluginOption {
	return func(p *Plugin) error {
		if l == nil {
			return gen.NewConfigError("Loader", nil, "loader cannot be nil")
		}
		p.Loader = l
		return nil
	}
}

// WithPluginLogger sets the logger for cache hits, misses and builds.
func WithPluginLogger(l *slog.Logger) PluginOption {
	return func(p *Plugin) error {
		p.Logger = l
		return nil
	}
}

// WithWorkers sets the number of parallel file writers.
func WithWorkers(n int) PluginOption {
	return func(p *Plugin) error {
		if n <= 0 {
			return gen.NewConfigError("Workers", n, "workers must be positive")
		}
		p.Workers = n
		return nil
	}
}

// NewPlugin returns a plugin strategy writing under dir. Without options it
// builds with the go command in dir's module and keeps its index in a
// msgpack manifest next to the artifacts.
func NewPlugin(dir string, opts ...PluginOption) (*Plugin, error) {
	if dir == "" {
		return nil, gen.NewConfigError("Dir", nil, "plugin directory cannot be empty")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, gen.NewConfigError("Dir", dir, err.Error())
	}
	p := &Plugin{
		Dir:     abs,
		Loader:  OpenPlugin,
		Workers: runtime.GOMAXPROCS(0),
	}
	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}
	if err := os.MkdirAll(p.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create plugin directory: %w", err)
	}
	if p.Toolchain == nil {
		p.Toolchain = GoToolchain{}
	}
	if p.Store == nil {
		s, err := OpenManifest(filepath.Join(p.Dir, "manifest.msgpack"))
		if err != nil {
			return nil, err
		}
		p.Store = s
	}
	return p, nil
}

// Name implements gen.CompileStrategy.
func (*Plugin) Name() string { return "plugin" }

// PackageName implements gen.PackageNamer. Plugins must be package main.
func (*Plugin) PackageName() string { return "main" }

// Compile implements gen.CompileStrategy.
func (p *Plugin) Compile(ctx context.Context, req *gen.CompileRequest) (gen.Module, error) {
	log := logger(p.Logger)
	key := contentKey(req)
	if a, ok, err := p.Store.Get(ctx, key); err != nil {
		return nil, err
	} else if ok {
		if _, err := os.Stat(a.Path); err == nil {
			log.Debug("forge: plugin cache hit", "assembly", req.Assembly, "key", key[:12])
			return p.load(a.Path)
		}
		if err := p.Store.Delete(ctx, key); err != nil {
			return nil, err
		}
	}
	log.Debug("forge: plugin cache miss", "assembly", req.Assembly, "key", key[:12])

	start := time.Now()
	src := filepath.Join(p.Dir, "src", key[:16])
	if err := p.writeSources(ctx, src, req.Files); err != nil {
		return nil, err
	}
	out := filepath.Join(p.Dir, key[:16]+".so")
	output, err := p.Toolchain.Build(ctx, src, out)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, gen.NewCompileError(p.Name(), parseDiagnostics(string(output), ""), err)
	}
	info, err := os.Stat(out)
	if err != nil {
		return nil, gen.NewCompileError(p.Name(), nil, fmt.Errorf("toolchain produced no artifact: %w", err))
	}
	names := make([]string, len(req.Files))
	for i, f := range req.Files {
		names[i] = f.Name
	}
	a := &Artifact{
		Key:       key,
		Assembly:  req.Assembly,
		Path:      out,
		Files:     names,
		Size:      info.Size(),
		CreatedAt: time.Now().UTC(),
	}
	if err := p.Store.Put(ctx, a); err != nil {
		return nil, err
	}
	log.Debug("forge: plugin built",
		"assembly", req.Assembly,
		"path", out,
		"size", info.Size(),
		"duration", time.Since(start),
	)
	return p.load(out)
}

func (p *Plugin) load(path string) (gen.Module, error) {
	mod, err := p.Loader(path)
	if err != nil {
		return nil, gen.NewCompileError(p.Name(), nil, fmt.Errorf("open plugin %s: %w", path, err))
	}
	return mod, nil
}

// writeSources writes the files into dir in parallel. A file that already
// exists with the same content is left alone.
func (p *Plugin) writeSources(ctx context.Context, dir string, files []gen.SourceFile) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create source directory: %w", err)
	}
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(max(p.Workers, 1))
	for _, f := range files {
		eg.Go(func() error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			path := filepath.Join(dir, f.Name)
			if old, err := os.ReadFile(path); err == nil && bytes.Equal(old, f.Content) {
				return nil
			}
			if err := os.WriteFile(path, f.Content, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", f.Name, err)
			}
			return nil
		})
	}
	return eg.Wait()
}

// Invalidate removes every index entry whose artifact is path.
func (p *Plugin) Invalidate(ctx context.Context, path string) (int, error) {
	all, err := p.Store.List(ctx)
	if err != nil {
		return 0, err
	}
	var (
		n    int
		errs []error
	)
	for _, a := range all {
		if a.Path != path {
			continue
		}
		if err := p.Store.Delete(ctx, a.Key); err != nil {
			errs = append(errs, err)
			continue
		}
		n++
	}
	return n, errors.Join(errs...)
}

// Close closes the artifact store.
func (p *Plugin) Close() error {
	if p.Store == nil {
		return nil
	}
	return p.Store.Close()
}
