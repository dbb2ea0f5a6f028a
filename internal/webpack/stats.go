package webpack

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
)

// StatsAsset is one entry of the compiler's ordered asset list.
type StatsAsset struct {
	Name string `json:"name"`
	Size int64  `json:"size,omitempty"`
}

// CompilerStats is the structured result returned by the compiler service.
type CompilerStats struct {
	Assets        []StatsAsset      `json:"assets"`
	PathsToAssets map[string]string `json:"pathsToAssets"`
	URLsToAssets  map[string]string `json:"urlsToAssets,omitempty"`
	WebpackConfig map[string]any    `json:"webpackConfig,omitempty"`
	Errors        []string          `json:"errors"`
	Warnings      []string          `json:"warnings"`
	// Metafile is only present when full stats were requested
	Metafile json.RawMessage `json:"metafile,omitempty"`
}

// Validate checks the invariants the rest of the pipeline relies on.
func (s *CompilerStats) Validate() error {
	seen := make(map[string]bool, len(s.Assets))
	for i, a := range s.Assets {
		if a.Name == "" {
			return fmt.Errorf("asset %d has no name", i)
		}
		if seen[a.Name] {
			return fmt.Errorf("duplicate asset name %q", a.Name)
		}
		seen[a.Name] = true
	}
	return nil
}

// Clone returns a deep copy of s, nested config values included.
func (s *CompilerStats) Clone() *CompilerStats {
	if s == nil {
		return nil
	}
	c := &CompilerStats{
		Assets:        append([]StatsAsset(nil), s.Assets...),
		PathsToAssets: cloneStrings(s.PathsToAssets),
		URLsToAssets:  cloneStrings(s.URLsToAssets),
		Errors:        append([]string(nil), s.Errors...),
		Warnings:      append([]string(nil), s.Warnings...),
		Metafile:      append(json.RawMessage(nil), s.Metafile...),
	}
	if s.WebpackConfig != nil {
		c.WebpackConfig = cloneValue(s.WebpackConfig).(map[string]any)
	}
	return c
}

// cloneValue copies the maps and slices of a decoded JSON value. Scalars
// are immutable and returned as is.
func cloneValue(v any) any {
	switch v := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, e := range v {
			out[k] = cloneValue(e)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

func cloneStrings(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Normalizer derives public URLs for emitted assets.
type Normalizer struct {
	bundleRoot string
	bundleDir  string
	bundleURL  string
}

// NewNormalizer creates a normalizer from the bundle settings.
func NewNormalizer(settings Settings) *Normalizer {
	return &Normalizer{
		bundleRoot: settings.BundleRoot,
		bundleDir:  settings.BundleDir,
		bundleURL:  settings.BundleURL,
	}
}

// Normalize returns a copy of stats with URLsToAssets populated. Assets whose
// path is not inside the bundle directory get no URL.
func (n *Normalizer) Normalize(stats *CompilerStats) (*CompilerStats, error) {
	if stats == nil {
		return nil, fmt.Errorf("no stats to normalize")
	}
	if err := stats.Validate(); err != nil {
		return nil, fmt.Errorf("invalid compiler stats: %w", err)
	}

	out := stats.Clone()
	out.URLsToAssets = make(map[string]string, len(stats.PathsToAssets))

	bundleDirPath := filepath.Join(n.bundleRoot, n.bundleDir)
	for name, assetPath := range stats.PathsToAssets {
		rel, ok := relativeToDir(bundleDirPath, assetPath)
		if !ok {
			continue
		}
		relURL := strings.TrimPrefix(pathToURL(rel), "/")
		out.URLsToAssets[name] = n.bundleURL + n.bundleDir + "/" + relURL
	}
	return out, nil
}

// relativeToDir strips dir from path when path lies beneath dir.
func relativeToDir(dir, path string) (string, bool) {
	dir = filepath.Clean(dir)
	path = filepath.Clean(path)
	if path == dir {
		return "", true
	}
	prefix := dir
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	if !strings.HasPrefix(path, prefix) {
		return "", false
	}
	return path[len(dir):], true
}

// pathToURL converts a filesystem path fragment into URL path syntax. Every
// byte outside the RFC 3986 unreserved set is percent encoded, sub-delims
// such as '@', '+' and ':' included, so only '/' keeps a meaning in the
// result.
func pathToURL(p string) string {
	const hex = "0123456789ABCDEF"
	p = filepath.ToSlash(p)
	var b strings.Builder
	b.Grow(len(p))
	for i := 0; i < len(p); i++ {
		c := p[i]
		if c == '/' || isUnreserved(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hex[c>>4])
		b.WriteByte(hex[c&0x0f])
	}
	return b.String()
}

func isUnreserved(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	return c == '-' || c == '.' || c == '_' || c == '~'
}
