// Package output provides output formatting for ipcpd CLI commands,
// ported from the teacher's internal/cli/output package with its table
// renderer dropped — ipcpd's config show only ever prints one struct, not
// a list of rows.
package output

import (
	"fmt"
	"strings"
)

// Format represents the output format type.
type Format string

const (
	// FormatYAML outputs data as YAML.
	FormatYAML Format = "yaml"
	// FormatJSON outputs data as JSON.
	FormatJSON Format = "json"
)

// ParseFormat parses a string into a Format, returning an error if invalid.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yaml", "yml", "":
		return FormatYAML, nil
	case "json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("invalid output format: %q (valid: yaml, json)", s)
	}
}

// String returns the string representation of the format.
func (f Format) String() string {
	return string(f)
}
