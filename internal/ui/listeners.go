package ui

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/charmbracelet/lipgloss"

	"github.com/muurk/wsconn/internal/discovery"
)

var (
	tableHeaderStyle = lipgloss.NewStyle().
				Foreground(PrimaryColor).
				Bold(true)

	tableCellStyle = lipgloss.NewStyle().
			Foreground(TextColor)
)

// RenderListeners renders discovered listeners as a table, one row per
// listener, sorted the way they were passed in.
func RenderListeners(listeners []*discovery.Listener) string {
	if len(listeners) == 0 {
		return NoticeStyle.Render("  No websocket listeners found.")
	}

	headers := []string{"INSTANCE", "URL", "PROTOCOLS", "TLS"}
	rows := make([][]string, 0, len(listeners))
	for _, l := range listeners {
		secure := "no"
		if l.Secure {
			secure = "yes"
		}
		protocols := l.Protocols
		if protocols == "" {
			protocols = "-"
		}
		rows = append(rows, []string{l.Instance, l.URL(), protocols, secure})
	}

	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = utf8.RuneCountInString(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if n := utf8.RuneCountInString(cell); n > widths[i] {
				widths[i] = n
			}
		}
	}

	var b strings.Builder
	b.WriteString(renderRow(headers, widths, tableHeaderStyle))
	for _, row := range rows {
		b.WriteString("\n")
		b.WriteString(renderRow(row, widths, tableCellStyle))
	}
	b.WriteString("\n\n")
	b.WriteString(NoticeStyle.Render(fmt.Sprintf("  %d listener(s) found", len(listeners))))
	return b.String()
}

func renderRow(cells []string, widths []int, style lipgloss.Style) string {
	parts := make([]string, len(cells))
	for i, cell := range cells {
		parts[i] = style.Render(cell + strings.Repeat(" ", widths[i]-utf8.RuneCountInString(cell)))
	}
	return "  " + strings.Join(parts, "  ")
}
