package webpack

import (
	"fmt"
	"html/template"
	"strings"
)

// Asset is one named output file of a bundle. Path and URL are empty when
// the compiler did not report a path or the path is outside the bundle dir.
type Asset struct {
	Name string `json:"name" yaml:"name"`
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
	URL  string `json:"url,omitempty" yaml:"url,omitempty"`
}

// Bundle is a read-only view over the enriched stats of one bundling call.
type Bundle struct {
	stats    *CompilerStats
	warnings *CompilerWarning
}

// NewBundle wraps stats. The bundle keeps its own copy.
func NewBundle(stats *CompilerStats) *Bundle {
	return &Bundle{stats: stats.Clone()}
}

// Assets lists the bundle's assets in compiler order. It returns nil when
// the bundle holds no stats.
func (b *Bundle) Assets() []Asset {
	if b == nil || b.stats == nil {
		return nil
	}
	assets := make([]Asset, 0, len(b.stats.Assets))
	for _, a := range b.stats.Assets {
		assets = append(assets, Asset{
			Name: a.Name,
			Path: b.stats.PathsToAssets[a.Name],
			URL:  b.stats.URLsToAssets[a.Name],
		})
	}
	return assets
}

// Paths returns the filesystem paths of the assets that have one.
func (b *Bundle) Paths() []string {
	var paths []string
	for _, a := range b.Assets() {
		if a.Path != "" {
			paths = append(paths, a.Path)
		}
	}
	return paths
}

// URLs returns the public URLs of the assets that have one, in asset order.
func (b *Bundle) URLs() []string {
	var urls []string
	for _, a := range b.Assets() {
		if a.URL != "" {
			urls = append(urls, a.URL)
		}
	}
	return urls
}

// Render returns one script element per URL with no separator. URLs are
// emitted verbatim.
func (b *Bundle) Render() template.HTML {
	var sb strings.Builder
	for _, u := range b.URLs() {
		sb.WriteString(`<script src="`)
		sb.WriteString(u)
		sb.WriteString(`"></script>`)
	}
	return template.HTML(sb.String()) //nolint:gosec // asset URLs are generated by the normalizer
}

func (b *Bundle) String() string {
	return string(b.Render())
}

// Config returns a copy of the compiler config echoed by the service.
func (b *Bundle) Config() map[string]any {
	cfg := b.config()
	if cfg == nil {
		return nil
	}
	return cloneValue(cfg).(map[string]any)
}

func (b *Bundle) config() map[string]any {
	if b == nil || b.stats == nil {
		return nil
	}
	return b.stats.WebpackConfig
}

// Library returns output.library from the compiler config. A list of names
// is joined with ".".
func (b *Bundle) Library() (string, bool) {
	cfg := b.config()
	if cfg == nil {
		return "", false
	}
	output, ok := cfg["output"].(map[string]any)
	if !ok {
		return "", false
	}
	switch lib := output["library"].(type) {
	case string:
		return lib, lib != ""
	case []any:
		parts := make([]string, 0, len(lib))
		for _, p := range lib {
			parts = append(parts, fmt.Sprint(p))
		}
		return strings.Join(parts, "."), len(parts) > 0
	default:
		return "", false
	}
}

// Var is an alias of Library.
func (b *Bundle) Var() (string, bool) {
	return b.Library()
}

// Stats returns a copy of the enriched stats document.
func (b *Bundle) Stats() *CompilerStats {
	if b == nil {
		return nil
	}
	return b.stats.Clone()
}

// Warnings returns the compiler warnings raised for this bundle, or nil.
func (b *Bundle) Warnings() *CompilerWarning {
	if b == nil {
		return nil
	}
	return b.warnings
}
