// Package bundler breaks compiled bundles down by the source files they were
// built from, using the esbuild metafile returned with full stats.
package bundler

// metafile is the subset of esbuild's metafile the analysis reads
type metafile struct {
	Inputs map[string]struct {
		Bytes   int `json:"bytes"`
		Imports []struct {
			Path string `json:"path"`
		} `json:"imports"`
	} `json:"inputs"`
	Outputs map[string]metaOutput `json:"outputs"`
}

type metaOutput struct {
	Bytes  int `json:"bytes"`
	Inputs map[string]struct {
		BytesInOutput int `json:"bytesInOutput"`
	} `json:"inputs"`
	Imports []struct {
		Path     string `json:"path"`
		External bool   `json:"external"`
	} `json:"imports"`
	EntryPoint string `json:"entryPoint"`
}

// AnalysisResult describes one emitted bundle
type AnalysisResult struct {
	Bundle          string         `json:"bundle" yaml:"bundle"`
	EntryPoint      string         `json:"entry_point,omitempty" yaml:"entry_point,omitempty"`
	TotalBytes      int            `json:"total_bytes" yaml:"total_bytes"`
	InputFiles      []FileAnalysis `json:"inputs" yaml:"inputs"`
	ExternalImports []string       `json:"externals,omitempty" yaml:"externals,omitempty"`
}

// FileAnalysis is one source file's share of a bundle
type FileAnalysis struct {
	Path          string  `json:"path" yaml:"path"`
	Bytes         int     `json:"bytes" yaml:"bytes"`
	BytesInOutput int     `json:"bytes_in_output" yaml:"bytes_in_output"`
	Percentage    float64 `json:"percentage" yaml:"percentage"`
	ImportCount   int     `json:"imports" yaml:"imports"`
}
