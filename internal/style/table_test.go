package style

import (
	"strings"
	"testing"
)

func renderLines(tbl *Table) []string {
	return strings.Split(strings.TrimRight(tbl.Render(), "\n"), "\n")
}

func TestNewTable_Defaults(t *testing.T) {
	tbl := NewTable(Column{Name: "Test", Width: 10}, Column{Name: "Runs", Width: 4})
	if len(tbl.columns) != 2 {
		t.Errorf("columns = %d, want 2", len(tbl.columns))
	}
	if !tbl.headerSep {
		t.Error("headerSep should default to true")
	}
	if tbl.indent != "  " {
		t.Errorf("indent = %q, want two spaces", tbl.indent)
	}
	if tbl.SetIndent("") != tbl || tbl.SetHeaderSeparator(false) != tbl || tbl.AddRow("x") != tbl {
		t.Error("setters should return the table for chaining")
	}
}

func TestTable_AddRowPadsMissingCells(t *testing.T) {
	tbl := NewTable(Column{Name: "A", Width: 5}, Column{Name: "B", Width: 5})
	tbl.AddRow("only")
	if got := tbl.rows[0]; len(got) != 2 || got[1] != "" {
		t.Errorf("row = %q, want [only \"\"]", got)
	}
}

func TestTable_RenderEmpty(t *testing.T) {
	if got := NewTable().Render(); got != "" {
		t.Errorf("Render() with no columns = %q", got)
	}
}

func TestTable_RenderRows(t *testing.T) {
	tbl := NewTable(
		Column{Name: "Test", Width: 12},
		Column{Name: "Fails", Width: 5, Align: AlignRight},
	).SetIndent("")
	tbl.AddRow("login_spec", "2")
	tbl.AddRow("search_spec", "0")

	lines := renderLines(tbl)
	if len(lines) != 4 {
		t.Fatalf("lines = %d, want header + separator + 2 rows: %q", len(lines), lines)
	}
	if sep := stripAnsi(lines[1]); !strings.Contains(sep, "─") {
		t.Errorf("separator line = %q", sep)
	}
	row := stripAnsi(lines[2])
	if !strings.HasPrefix(row, "login_spec") || !strings.HasSuffix(row, "    2") {
		t.Errorf("row = %q", row)
	}
}

func TestTable_RenderIndent(t *testing.T) {
	tbl := NewTable(Column{Name: "A", Width: 3}).SetIndent(">>")
	tbl.AddRow("x")
	for _, line := range renderLines(tbl) {
		if !strings.HasPrefix(line, ">>") {
			t.Errorf("line missing indent: %q", line)
		}
	}
}

func TestTable_RenderTruncates(t *testing.T) {
	tbl := NewTable(Column{Name: "N", Width: 8}).SetHeaderSeparator(false).SetIndent("")
	tbl.AddRow("checkout_flow_spec")
	row := strings.TrimSpace(stripAnsi(renderLines(tbl)[1]))
	if row != "check..." {
		t.Errorf("truncated row = %q, want %q", row, "check...")
	}
}

func TestTable_ColumnStyle(t *testing.T) {
	tbl := NewTable(Column{Name: "R", Width: 6, Style: func(s string) string { return "<" + s + ">" }}).
		SetHeaderSeparator(false).SetIndent("")
	tbl.AddRow("ok")
	// Padding is measured on the unstyled text.
	if got := renderLines(tbl)[1]; got != "<ok>    " {
		t.Errorf("styled row = %q", got)
	}
}

func TestTable_Pad(t *testing.T) {
	tbl := &Table{}
	tests := []struct {
		align Align
		width int
		want  string
	}{
		{AlignLeft, 6, "hi    "},
		{AlignRight, 6, "    hi"},
		{AlignCenter, 6, "  hi  "},
		{AlignLeft, 2, "hi"},
		{AlignLeft, 1, "hi"},
	}
	for _, tt := range tests {
		if got := tbl.pad("hi", "hi", tt.width, tt.align); got != tt.want {
			t.Errorf("pad(align=%d, width=%d) = %q, want %q", tt.align, tt.width, got, tt.want)
		}
	}
}

func TestStripAnsi(t *testing.T) {
	tests := map[string]string{
		"plain":                      "plain",
		"\x1b[1mbold\x1b[0m":         "bold",
		"a\x1b[32mgreen\x1b[0mb":     "agreenb",
		"\x1b[1m\x1b[31mboth\x1b[0m": "both",
		"":                           "",
	}
	for in, want := range tests {
		if got := stripAnsi(in); got != want {
			t.Errorf("stripAnsi(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestResult(t *testing.T) {
	if stripAnsi(Result(true)) != "pass" || stripAnsi(Result(false)) != "fail" {
		t.Error("Result should render pass/fail")
	}
}
