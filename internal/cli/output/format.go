// Package output renders CLI command results as tables or JSON.
package output

import (
	"fmt"
	"strings"
)

// Format selects how a command renders its result.
type Format string

const (
	// FormatTable renders a borderless column layout for terminals.
	FormatTable Format = "table"
	// FormatJSON renders indented JSON for scripting.
	FormatJSON Format = "json"
)

// ParseFormat resolves a --format flag value. The empty string means
// table.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "table":
		return FormatTable, nil
	case "json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q (expected table or json)", s)
	}
}

func (f Format) String() string {
	return string(f)
}
