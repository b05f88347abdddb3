package style

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Align is a column's text alignment.
type Align int

const (
	AlignLeft Align = iota
	AlignRight
	AlignCenter
)

// Column describes one table column. Width is in runes.
type Column struct {
	Name  string
	Width int
	Align Align
	Style func(string) string
}

// Table renders fixed-width rows with a bold header.
type Table struct {
	columns   []Column
	rows      [][]string
	indent    string
	headerSep bool
}

// NewTable returns a table with a header separator and a two-space indent.
func NewTable(columns ...Column) *Table {
	return &Table{
		columns:   columns,
		indent:    "  ",
		headerSep: true,
	}
}

func (t *Table) SetIndent(indent string) *Table {
	t.indent = indent
	return t
}

func (t *Table) SetHeaderSeparator(on bool) *Table {
	t.headerSep = on
	return t
}

// AddRow appends a row, padding missing cells with "".
func (t *Table) AddRow(values ...string) *Table {
	row := make([]string, len(t.columns))
	copy(row, values)
	t.rows = append(t.rows, row)
	return t
}

func (t *Table) Render() string {
	if len(t.columns) == 0 {
		return ""
	}
	var sb strings.Builder

	sb.WriteString(t.indent)
	for i, col := range t.columns {
		if i > 0 {
			sb.WriteString(" ")
		}
		name := truncate(col.Name, col.Width)
		sb.WriteString(t.pad(Bold.Render(name), name, col.Width, col.Align))
	}
	sb.WriteString("\n")

	if t.headerSep {
		sb.WriteString(t.indent)
		for i, col := range t.columns {
			if i > 0 {
				sb.WriteString(" ")
			}
			sb.WriteString(Dim.Render(strings.Repeat("─", col.Width)))
		}
		sb.WriteString("\n")
	}

	for _, row := range t.rows {
		sb.WriteString(t.indent)
		for i, col := range t.columns {
			if i > 0 {
				sb.WriteString(" ")
			}
			plain := truncate(row[i], col.Width)
			styled := plain
			if col.Style != nil {
				styled = col.Style(plain)
			}
			sb.WriteString(t.pad(styled, plain, col.Width, col.Align))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// pad aligns styled within width, measuring by the plain text.
func (t *Table) pad(styled, plain string, width int, align Align) string {
	n := utf8.RuneCountInString(plain)
	if n >= width {
		return styled
	}
	gap := width - n
	switch align {
	case AlignRight:
		return strings.Repeat(" ", gap) + styled
	case AlignCenter:
		left := gap / 2
		return strings.Repeat(" ", left) + styled + strings.Repeat(" ", gap-left)
	default:
		return styled + strings.Repeat(" ", gap)
	}
}

func truncate(s string, width int) string {
	if width <= 0 || utf8.RuneCountInString(s) <= width {
		return s
	}
	if width <= 3 {
		return string([]rune(s)[:width])
	}
	return string([]rune(s)[:width-3]) + "..."
}

var ansiRe = regexp.MustCompile(`\x1b\[[0-9;]*m`)

func stripAnsi(s string) string {
	return ansiRe.ReplaceAllString(s, "")
}
