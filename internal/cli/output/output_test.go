package output

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  Format
		err   bool
	}{
		{"table", "table", FormatTable, false},
		{"empty defaults to table", "", FormatTable, false},
		{"json", "json", FormatJSON, false},
		{"case insensitive", "JSON", FormatJSON, false},
		{"surrounding whitespace", "  table ", FormatTable, false},
		{"yaml unsupported", "yaml", "", true},
		{"garbage", "csv", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseFormat(tt.input)
			if tt.err {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPrintJSON(t *testing.T) {
	var buf bytes.Buffer
	err := PrintJSON(&buf, map[string]any{"email": "alice@example.com", "role": "user"})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `"email": "alice@example.com"`)
	assert.Contains(t, buf.String(), `"role": "user"`)
}

func TestTableData(t *testing.T) {
	table := NewTableData("EMAIL", "ROLE", "STATUS")
	assert.Empty(t, table.Rows())

	table.AddRow("alice@example.com", "user", "active")
	table.AddRow("bob@example.com", "admin", "locked")

	assert.Equal(t, []string{"EMAIL", "ROLE", "STATUS"}, table.Headers())
	require.Len(t, table.Rows(), 2)
	assert.Equal(t, []string{"bob@example.com", "admin", "locked"}, table.Rows()[1])
}

func TestPrintTable(t *testing.T) {
	table := NewTableData("EMAIL", "ROLE")
	table.AddRow("alice@example.com", "user")
	table.AddRow("bob@example.com", "admin")

	var buf bytes.Buffer
	require.NoError(t, PrintTable(&buf, table))

	out := buf.String()
	assert.Contains(t, out, "EMAIL")
	assert.Contains(t, out, "ROLE")
	assert.Contains(t, out, "alice@example.com")
	assert.Contains(t, out, "bob@example.com")
}
