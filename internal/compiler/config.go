package compiler

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultFilename is used when output.filename is not set.
const DefaultFilename = "bundle-[hash].js"

// MainBundle names the bundle produced by a string or list entry.
const MainBundle = "main"

// BundleConfig is a resolved bundle config file.
type BundleConfig struct {
	Path    string
	Context string
	Entries []EntryGroup
	Output  OutputConfig
	Minify  bool
	Define  map[string]string

	entry any // as written, echoed back in webpackConfig
}

// EntryGroup is one output bundle and the modules it is built from, in order.
type EntryGroup struct {
	Name    string
	Modules []string
}

// OutputConfig controls where and how bundles are emitted.
type OutputConfig struct {
	Path     string `yaml:"path" json:"path"`
	Filename string `yaml:"filename" json:"filename"`
	Library  string `yaml:"library" json:"library"`
}

type rawConfig struct {
	Context string            `yaml:"context" json:"context"`
	Entry   any               `yaml:"entry" json:"entry"`
	Output  OutputConfig      `yaml:"output" json:"output"`
	Minify  bool              `yaml:"minify" json:"minify"`
	Define  map[string]string `yaml:"define" json:"define"`
}

// LoadBundleConfig reads the config at path. A relative context is taken from
// the config's directory and a relative output.path from the context;
// output.path falls back to defaultOutputDir.
func LoadBundleConfig(path, defaultOutputDir string) (*BundleConfig, error) {
	data, err := os.ReadFile(path) //nolint:gosec // config path comes from the caller
	if err != nil {
		return nil, fmt.Errorf("failed to read bundle config: %w", err)
	}

	var raw rawConfig
	if strings.EqualFold(filepath.Ext(path), ".json") {
		err = json.Unmarshal(data, &raw)
	} else {
		err = yaml.Unmarshal(data, &raw)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse bundle config %s: %w", path, err)
	}

	configDir := filepath.Dir(path)
	cfg := &BundleConfig{
		Path:    path,
		Context: resolveDir(configDir, raw.Context, configDir),
		Output:  raw.Output,
		Minify:  raw.Minify,
		Define:  raw.Define,
		entry:   raw.Entry,
	}

	cfg.Entries, err = entryGroups(raw.Entry)
	if err != nil {
		return nil, fmt.Errorf("invalid entry in %s: %w", path, err)
	}

	cfg.Output.Path = resolveDir(cfg.Context, raw.Output.Path, defaultOutputDir)
	if cfg.Output.Path == "" {
		return nil, fmt.Errorf("no output path in %s and no bundle directory given", path)
	}
	if cfg.Output.Filename == "" {
		cfg.Output.Filename = DefaultFilename
	}
	if filepath.IsAbs(cfg.Output.Filename) || strings.Contains(cfg.Output.Filename, "..") {
		return nil, fmt.Errorf("output.filename must be relative to output.path: %q", cfg.Output.Filename)
	}

	return cfg, nil
}

func resolveDir(base, dir, fallback string) string {
	switch {
	case dir == "":
		return fallback
	case filepath.IsAbs(dir):
		return filepath.Clean(dir)
	default:
		return filepath.Join(base, dir)
	}
}

// entryGroups accepts a string, a list of strings, or a map from bundle
// name to either. Map groups come back sorted by name.
func entryGroups(entry any) ([]EntryGroup, error) {
	switch e := entry.(type) {
	case nil:
		return nil, fmt.Errorf("entry is required")
	case map[string]any:
		if len(e) == 0 {
			return nil, fmt.Errorf("entry map is empty")
		}
		names := make([]string, 0, len(e))
		for name := range e {
			names = append(names, name)
		}
		sort.Strings(names)

		groups := make([]EntryGroup, 0, len(names))
		for _, name := range names {
			modules, err := entryModules(e[name])
			if err != nil {
				return nil, fmt.Errorf("bundle %q: %w", name, err)
			}
			groups = append(groups, EntryGroup{Name: name, Modules: modules})
		}
		return groups, nil
	default:
		modules, err := entryModules(entry)
		if err != nil {
			return nil, err
		}
		return []EntryGroup{{Name: MainBundle, Modules: modules}}, nil
	}
}

func entryModules(v any) ([]string, error) {
	switch m := v.(type) {
	case string:
		if m == "" {
			return nil, fmt.Errorf("empty module path")
		}
		return []string{m}, nil
	case []any:
		if len(m) == 0 {
			return nil, fmt.Errorf("empty module list")
		}
		modules := make([]string, 0, len(m))
		for _, item := range m {
			s, ok := item.(string)
			if !ok || s == "" {
				return nil, fmt.Errorf("module list must contain non-empty strings, got %v", item)
			}
			modules = append(modules, s)
		}
		return modules, nil
	default:
		return nil, fmt.Errorf("unsupported entry type %T", v)
	}
}

// Echo returns the resolved config in the shape reported as webpackConfig.
func (c *BundleConfig) Echo() map[string]any {
	output := map[string]any{
		"path":     c.Output.Path,
		"filename": c.Output.Filename,
	}
	if c.Output.Library != "" {
		output["library"] = c.Output.Library
	}

	echo := map[string]any{
		"context": c.Context,
		"entry":   c.entry,
		"output":  output,
	}
	if c.Minify {
		echo["minify"] = true
	}
	if len(c.Define) > 0 {
		echo["define"] = c.Define
	}
	return echo
}
