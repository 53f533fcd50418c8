package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"plugin"
	"strings"
	"time"

	"github.com/hotreload/hmr/internal/buildpipeline"
	"github.com/hotreload/hmr/internal/registry"
	"github.com/hotreload/hmr/pkg/hmrmodule"
)

// pluginBuilder compiles a module's package directory into a Go
// plugin (-buildmode=plugin), implementing buildpipeline.Builder. Each
// build writes to a fresh output path rather than overwriting the
// previous one, since Go's plugin package refuses to open the same
// file twice — which is exactly the behavior a reload wants: every
// build is a distinct, independently loadable code version.
type pluginBuilder struct {
	outDir string
}

func newPluginBuilder(outDir string) (*pluginBuilder, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating plugin output directory: %w", err)
	}
	return &pluginBuilder{outDir: outDir}, nil
}

func (b *pluginBuilder) Build(job buildpipeline.Job) (string, error) {
	timeout := job.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	out := filepath.Join(b.outDir, fmt.Sprintf("%s-%d.so", sanitizeTarget(job.Target), time.Now().UnixNano()))
	cmd := exec.CommandContext(ctx, "go", "build", "-buildmode=plugin", "-trimpath", "-o", out, job.SourcePath)
	cmd.Env = os.Environ()
	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("building plugin for %s: %w: %s", job.Target, err, strings.TrimSpace(string(output)))
	}
	return out, nil
}

func sanitizeTarget(target string) string {
	return strings.NewReplacer("/", "_", string(filepath.Separator), "_").Replace(target)
}

// resolvePluginExports returns a registry.EntrySymbolResolver backed by
// plugin.Open. The Loader hands it raw artifact bytes rather than a
// path, so it stages its own temp copy before opening — a second,
// independent load of the same build from the one pluginBuilder
// already produced, acceptable since the Registry only keeps the
// resulting export table, not the *plugin.Plugin handle itself.
func resolvePluginExports(stageDir string) registry.EntrySymbolResolver {
	return func(raw []byte) (map[string]registry.EntryPoint, error) {
		p, err := stageAndOpenPlugin(stageDir, raw)
		if err != nil {
			return nil, err
		}
		sym, err := p.Lookup("EntryPoints")
		if err != nil {
			return nil, fmt.Errorf("plugin missing EntryPoints export: %w", err)
		}
		table, ok := sym.(*map[string]any)
		if !ok {
			return nil, fmt.Errorf("plugin EntryPoints has unexpected type %T", sym)
		}
		exports := make(map[string]registry.EntryPoint, len(*table))
		for name, fn := range *table {
			exports[name] = fn
		}
		return exports, nil
	}
}

// loadModuleInstance opens the artifact at path directly (no staging —
// it is only ever called once per module, against the build that seeds
// RegisterModule) and constructs the author's hmrmodule.Module through
// the well-known HMRModuleEntry export.
func loadModuleInstance(path string) (hmrmodule.Module, error) {
	p, err := plugin.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening module plugin: %w", err)
	}
	sym, err := p.Lookup(hmrmodule.EntryPointName)
	if err != nil {
		return nil, fmt.Errorf("plugin missing %s export: %w", hmrmodule.EntryPointName, err)
	}
	entry, ok := sym.(func() (hmrmodule.Module, error))
	if !ok {
		return nil, fmt.Errorf("plugin %s export has unexpected type %T", hmrmodule.EntryPointName, sym)
	}
	return entry()
}

func stageAndOpenPlugin(dir string, raw []byte) (*plugin.Plugin, error) {
	f, err := os.CreateTemp(dir, "hmr-resolve-*.so")
	if err != nil {
		return nil, fmt.Errorf("staging plugin artifact for resolution: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(raw); err != nil {
		return nil, fmt.Errorf("writing staged plugin artifact: %w", err)
	}
	return plugin.Open(f.Name())
}
