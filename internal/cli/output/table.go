package output

import (
	"io"

	"github.com/olekukonko/tablewriter"
)

// TableRenderer is anything that can present itself as header and rows.
type TableRenderer interface {
	Headers() []string
	Rows() [][]string
}

// TableData collects rows for an ad-hoc table.
type TableData struct {
	headers []string
	rows    [][]string
}

// NewTableData starts a table with the given column headers.
func NewTableData(headers ...string) *TableData {
	return &TableData{headers: headers}
}

// AddRow appends one row. Short rows leave trailing columns empty.
func (t *TableData) AddRow(cells ...string) {
	t.rows = append(t.rows, cells)
}

func (t *TableData) Headers() []string { return t.headers }
func (t *TableData) Rows() [][]string  { return t.rows }

// PrintTable renders data without borders or separators, two spaces
// between columns, headers uppercased. The layout matches what `user
// list` and friends print on a terminal.
func PrintTable(w io.Writer, data TableRenderer) error {
	table := tablewriter.NewWriter(w)
	table.SetHeader(data.Headers())
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)
	for _, row := range data.Rows() {
		table.Append(row)
	}
	table.Render()
	return nil
}
