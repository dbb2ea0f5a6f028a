package bundler

import (
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
)

// ErrNoMetafile is returned when stats were produced without full stats
var ErrNoMetafile = errors.New("stats carry no metafile, request full stats")

// virtualEntryPrefix marks the generated module that imports a multi-module entry
const virtualEntryPrefix = "bundlebridge-entry:"

// Analyze decodes a metafile and returns one result per emitted script,
// ordered by bundle name. Source maps are skipped.
func Analyze(raw json.RawMessage) ([]*AnalysisResult, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, ErrNoMetafile
	}

	var meta metafile
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("failed to parse metafile: %w", err)
	}

	outputs := make([]string, 0, len(meta.Outputs))
	for name := range meta.Outputs {
		if strings.HasSuffix(name, ".map") {
			continue
		}
		outputs = append(outputs, name)
	}
	sort.Strings(outputs)

	results := make([]*AnalysisResult, 0, len(outputs))
	for _, name := range outputs {
		results = append(results, analyzeOutput(&meta, name, meta.Outputs[name]))
	}
	return results, nil
}

func analyzeOutput(meta *metafile, name string, output metaOutput) *AnalysisResult {
	result := &AnalysisResult{
		Bundle:     path.Base(name),
		EntryPoint: displayPath(output.EntryPoint),
		TotalBytes: output.Bytes,
	}

	seen := make(map[string]bool)
	for _, imp := range output.Imports {
		if imp.External && !seen[imp.Path] {
			seen[imp.Path] = true
			result.ExternalImports = append(result.ExternalImports, imp.Path)
		}
	}

	for inputPath, contrib := range output.Inputs {
		input, ok := meta.Inputs[inputPath]
		if !ok {
			continue
		}

		percentage := 0.0
		if result.TotalBytes > 0 {
			percentage = float64(contrib.BytesInOutput) / float64(result.TotalBytes) * 100
		}

		result.InputFiles = append(result.InputFiles, FileAnalysis{
			Path:          displayPath(inputPath),
			Bytes:         input.Bytes,
			BytesInOutput: contrib.BytesInOutput,
			Percentage:    percentage,
			ImportCount:   len(input.Imports),
		})
	}

	// Largest contributors first, ties by path
	sort.Slice(result.InputFiles, func(i, j int) bool {
		a, b := result.InputFiles[i], result.InputFiles[j]
		if a.BytesInOutput != b.BytesInOutput {
			return a.BytesInOutput > b.BytesInOutput
		}
		return a.Path < b.Path
	})
	sort.Strings(result.ExternalImports)

	return result
}

func displayPath(p string) string {
	if strings.HasPrefix(p, virtualEntryPrefix) {
		return "<entry " + strings.TrimPrefix(p, virtualEntryPrefix) + ">"
	}
	return p
}
