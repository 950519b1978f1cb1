package ui

import (
	"fmt"
	"io"
	"strings"

	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"

	"sparkify/pkg/errors"
)

// Format selects how command results are printed.
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

// Formats lists the accepted --format values.
var Formats = []Format{FormatTable, FormatJSON, FormatYAML}

// ParseFormat validates a --format value. An empty value means table.
func ParseFormat(s string) (Format, error) {
	if s == "" {
		return FormatTable, nil
	}
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Formats {
		if f == known {
			return f, nil
		}
	}
	return "", errors.ValidationError("format", s, "unknown format").
		WithSuggestions("Use one of: table, json, yaml")
}

// Write prints v as JSON or YAML, or prints tables for the table format.
func Write(w io.Writer, format Format, v interface{}, tables []Table) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(v); err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "Failed to encode JSON output")
		}
		return nil
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "Failed to encode YAML output")
		}
		return enc.Close()
	case FormatTable, "":
		RenderTables(w, tables)
		return nil
	}
	return errors.New(errors.ErrCodeInvalidInput, fmt.Sprintf("Unknown output format %q", format))
}
