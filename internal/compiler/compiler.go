// Package compiler is a reference compiler service built on esbuild. It
// answers webpack service requests with the same stats document an external
// webpack host would produce.
package compiler

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/evanw/esbuild/pkg/api"

	"github.com/fluxbase-eu/bundlebridge/internal/webpack"
)

const entryNamespace = "bundlebridge-entry"

// Result is one finished build.
type Result struct {
	Stats *webpack.CompilerStats
	// Inputs are the absolute source files that went into the build.
	Inputs []string
}

// Build compiles cfg and writes the emitted files to cfg.Output.Path.
// Problems in the sources are reported in Stats.Errors, not as an error.
func Build(ctx context.Context, cfg *BundleConfig, fullStats bool) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entryNames, outExt := splitFilename(cfg.Output.Filename)
	opts := api.BuildOptions{
		EntryPointsAdvanced: entryPoints(cfg),
		Bundle:              true,
		Write:               false,
		Metafile:            true,
		Outdir:              cfg.Output.Path,
		EntryNames:          entryNames,
		Format:              api.FormatIIFE,
		Platform:            api.PlatformBrowser,
		AbsWorkingDir:       cfg.Context,
		LogLevel:            api.LogLevelSilent,
		Define:              cfg.Define,
		MinifyWhitespace:    cfg.Minify,
		MinifyIdentifiers:   cfg.Minify,
		MinifySyntax:        cfg.Minify,
		Plugins:             []api.Plugin{virtualEntryPlugin(cfg)},
	}
	if outExt != ".js" {
		opts.OutExtension = map[string]string{".js": outExt}
	}
	if cfg.Output.Library != "" {
		opts.GlobalName = cfg.Output.Library
	}

	result := api.Build(opts)

	stats := &webpack.CompilerStats{
		Assets:        []webpack.StatsAsset{},
		PathsToAssets: map[string]string{},
		WebpackConfig: cfg.Echo(),
		Errors:        formatMessages(result.Errors),
		Warnings:      formatMessages(result.Warnings),
	}
	inputs := metafileInputs(cfg.Context, result.Metafile)

	if len(result.Errors) > 0 {
		return &Result{Stats: stats, Inputs: inputs}, nil
	}

	for _, file := range result.OutputFiles {
		if err := writeOutput(file); err != nil {
			return nil, err
		}
		name, err := filepath.Rel(cfg.Output.Path, file.Path)
		if err != nil {
			return nil, fmt.Errorf("output %s escapes %s: %w", file.Path, cfg.Output.Path, err)
		}
		name = filepath.ToSlash(name)
		stats.Assets = append(stats.Assets, webpack.StatsAsset{Name: name, Size: int64(len(file.Contents))})
		stats.PathsToAssets[name] = file.Path
	}

	if fullStats && result.Metafile != "" {
		stats.Metafile = json.RawMessage(result.Metafile)
	}

	return &Result{Stats: stats, Inputs: inputs}, nil
}

// entryPoints uses the module file directly for single-module bundles and a
// virtual module for the rest, so [name] is always the bundle name.
func entryPoints(cfg *BundleConfig) []api.EntryPoint {
	points := make([]api.EntryPoint, 0, len(cfg.Entries))
	for _, g := range cfg.Entries {
		input := importPath(cfg.Context, g.Modules[0])
		if len(g.Modules) > 1 {
			input = entryNamespace + ":" + g.Name
		}
		points = append(points, api.EntryPoint{InputPath: input, OutputPath: g.Name})
	}
	return points
}

// virtualEntryPlugin serves list entries: every module is imported in order
// and the last one's exports become the bundle's exports.
func virtualEntryPlugin(cfg *BundleConfig) api.Plugin {
	sources := make(map[string]string, len(cfg.Entries))
	for _, g := range cfg.Entries {
		if len(g.Modules) > 1 {
			sources[g.Name] = virtualEntrySource(cfg.Context, g.Modules)
		}
	}

	return api.Plugin{
		Name: entryNamespace,
		Setup: func(build api.PluginBuild) {
			build.OnResolve(api.OnResolveOptions{Filter: "^" + entryNamespace + ":"},
				func(args api.OnResolveArgs) (api.OnResolveResult, error) {
					return api.OnResolveResult{
						Path:      strings.TrimPrefix(args.Path, entryNamespace+":"),
						Namespace: entryNamespace,
					}, nil
				})

			build.OnLoad(api.OnLoadOptions{Filter: ".*", Namespace: entryNamespace},
				func(args api.OnLoadArgs) (api.OnLoadResult, error) {
					src, ok := sources[args.Path]
					if !ok {
						return api.OnLoadResult{}, fmt.Errorf("unknown bundle %q", args.Path)
					}
					return api.OnLoadResult{
						Contents:   &src,
						ResolveDir: cfg.Context,
						Loader:     api.LoaderJS,
					}, nil
				})
		},
	}
}

func virtualEntrySource(workDir string, modules []string) string {
	var b strings.Builder
	last := len(modules) - 1
	for _, m := range modules[:last] {
		fmt.Fprintf(&b, "import %s;\n", strconv.Quote(importPath(workDir, m)))
	}
	fmt.Fprintf(&b, "export * from %s;\n", strconv.Quote(importPath(workDir, modules[last])))
	return b.String()
}

// importPath keeps plain file names that exist under workDir from being
// looked up as packages.
func importPath(workDir, module string) string {
	if filepath.IsAbs(module) || strings.HasPrefix(module, "./") || strings.HasPrefix(module, "../") {
		return filepath.ToSlash(module)
	}
	if info, err := os.Stat(filepath.Join(workDir, module)); err == nil && !info.IsDir() {
		return "./" + filepath.ToSlash(module)
	}
	return module
}

// splitFilename turns "js/bundle-[hash].js" into esbuild's entry name
// template "js/bundle-[hash]" and the ".js" extension.
func splitFilename(filename string) (string, string) {
	ext := filepath.Ext(filename)
	if ext == "" || strings.Contains(ext, "]") {
		return filename, ".js"
	}
	return strings.TrimSuffix(filename, ext), ext
}

func writeOutput(file api.OutputFile) error {
	if err := os.MkdirAll(filepath.Dir(file.Path), 0o750); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := os.WriteFile(file.Path, file.Contents, 0o644); err != nil { //nolint:gosec // bundles are public assets
		return fmt.Errorf("failed to write %s: %w", file.Path, err)
	}
	return nil
}

func formatMessages(msgs []api.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		if m.Location == nil {
			out = append(out, m.Text)
			continue
		}
		out = append(out, fmt.Sprintf("%s:%d:%d: %s", m.Location.File, m.Location.Line, m.Location.Column, m.Text))
	}
	return out
}

// metafileInputs lists the on-disk inputs recorded in an esbuild metafile.
func metafileInputs(workDir, metafile string) []string {
	if metafile == "" {
		return nil
	}
	var meta struct {
		Inputs map[string]json.RawMessage `json:"inputs"`
	}
	if err := json.Unmarshal([]byte(metafile), &meta); err != nil {
		return nil
	}

	inputs := make([]string, 0, len(meta.Inputs))
	for key := range meta.Inputs {
		// namespaced inputs such as the virtual entry have no file behind them
		if strings.Contains(key, ":") && !filepath.IsAbs(key) {
			continue
		}
		if filepath.IsAbs(key) {
			inputs = append(inputs, filepath.Clean(key))
		} else {
			inputs = append(inputs, filepath.Join(workDir, filepath.FromSlash(key)))
		}
	}
	sort.Strings(inputs)
	return inputs
}
