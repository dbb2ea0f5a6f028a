// Package output renders bundlebridge CLI results as tables, JSON or YAML.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v3"
)

// Format represents the output format
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

var formatNames = map[string]Format{
	"":      FormatTable,
	"table": FormatTable,
	"json":  FormatJSON,
	"yaml":  FormatYAML,
	"yml":   FormatYAML,
}

// ParseFormat parses the --output flag, case insensitively
func ParseFormat(s string) (Format, error) {
	if f, ok := formatNames[strings.ToLower(s)]; ok {
		return f, nil
	}
	return "", fmt.Errorf("invalid output format: %s (valid: table, json, yaml)", s)
}

// Formatter writes command results in the selected format. Warnings and
// errors always go to ErrWriter so piped json/yaml stays parseable.
type Formatter struct {
	Format    Format
	NoHeaders bool
	Quiet     bool
	Writer    io.Writer
	ErrWriter io.Writer
}

// NewFormatter creates a formatter on stdout and stderr
func NewFormatter(format Format, noHeaders, quiet bool) *Formatter {
	return &Formatter{
		Format:    format,
		NoHeaders: noHeaders,
		Quiet:     quiet,
		Writer:    os.Stdout,
		ErrWriter: os.Stderr,
	}
}

// Print encodes data as YAML in yaml mode and as indented JSON otherwise
func (f *Formatter) Print(data any) error {
	if f.Quiet {
		return nil
	}
	if f.Format == FormatYAML {
		enc := yaml.NewEncoder(f.Writer)
		enc.SetIndent(2)
		if err := enc.Encode(data); err != nil {
			return err
		}
		return enc.Close()
	}
	enc := json.NewEncoder(f.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

// TableData represents tabular data for table output
type TableData struct {
	Headers []string
	Rows    [][]string
}

// records keys every cell by its lowercased header. Cells past the last
// header are dropped.
func (d TableData) records() []map[string]string {
	keys := make([]string, len(d.Headers))
	for i, h := range d.Headers {
		keys[i] = strings.ToLower(h)
	}
	out := make([]map[string]string, 0, len(d.Rows))
	for _, row := range d.Rows {
		rec := make(map[string]string, len(keys))
		for i := 0; i < len(row) && i < len(keys); i++ {
			rec[keys[i]] = row[i]
		}
		out = append(out, rec)
	}
	return out
}

// NewTable returns a borderless, left aligned table writer in the kubectl
// style every CLI listing uses
func NewTable(w io.Writer) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetBorder(false)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetTablePadding("\t")
	table.SetNoWhiteSpace(true)
	return table
}

// PrintTable prints rows as a table, or as a list of header keyed objects
// in json/yaml mode
func (f *Formatter) PrintTable(data TableData) {
	if f.Quiet {
		return
	}
	if f.Format != FormatTable {
		_ = f.Print(data.records())
		return
	}

	table := NewTable(f.Writer)
	if !f.NoHeaders && len(data.Headers) > 0 {
		table.SetHeader(data.Headers)
	}
	table.AppendBulk(data.Rows)
	table.Render()
}

// PrintText writes plain text as is, regardless of format
func (f *Formatter) PrintText(text string) {
	if !f.Quiet {
		_, _ = fmt.Fprintln(f.Writer, text)
	}
}

// PrintError is shown even in quiet mode
func (f *Formatter) PrintError(message string) {
	_, _ = fmt.Fprintln(f.ErrWriter, "Error:", message)
}

func (f *Formatter) PrintWarning(message string) {
	if !f.Quiet {
		_, _ = fmt.Fprintln(f.ErrWriter, "Warning:", message)
	}
}
