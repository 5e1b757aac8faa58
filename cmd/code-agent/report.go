package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/renderer"
	"github.com/olekukonko/tablewriter/tw"

	"github.com/sallandpioneers/code-agent/internal/orchestrator"
)

const maxTitle = 50

func newTable(w io.Writer, headers []string) *tablewriter.Table {
	cfg := tablewriter.Config{
		Header: tw.CellConfig{
			Alignment:  tw.CellAlignment{Global: tw.AlignLeft},
			Formatting: tw.CellFormatting{AutoFormat: tw.Off},
		},
		Row: tw.CellConfig{
			Alignment: tw.CellAlignment{Global: tw.AlignLeft},
		},
	}
	return tablewriter.NewTable(w,
		tablewriter.WithConfig(cfg),
		tablewriter.WithHeader(headers),
		tablewriter.WithRenderer(renderer.NewBlueprint()),
		tablewriter.WithRendition(tw.Rendition{
			Symbols: tw.NewSymbols(tw.StyleMarkdown),
			Borders: tw.Border{Left: tw.On, Top: tw.Off, Right: tw.On, Bottom: tw.Off},
		}),
		tablewriter.WithRowAutoWrap(tw.WrapNone),
	)
}

func truncate(s string) string {
	r := []rune(s)
	if len(r) > maxTitle {
		return string(r[:maxTitle-3]) + "..."
	}
	return s
}

func prRef(n int) string {
	if n == 0 {
		return "-"
	}
	return "#" + strconv.Itoa(n)
}

// printSummary writes one row per processed item
func printSummary(w io.Writer, s *orchestrator.Summary) {
	if len(s.Reports) == 0 {
		fmt.Fprintln(w, "Nothing to do")
		return
	}

	table := newTable(w, []string{"Item", "Title", "Outcome", "Iterations", "PR", "Detail"})
	for _, r := range s.Reports {
		detail := string(r.Reason)
		if r.Err != nil {
			detail = r.Err.Error()
		}
		_ = table.Append([]string{
			"#" + strconv.Itoa(r.Number),
			truncate(r.Title),
			string(r.Outcome),
			strconv.Itoa(r.Iterations),
			prRef(r.PR),
			detail,
		})
	}
	_ = table.Render()
}

// printStatus writes one row per candidate issue
func printStatus(w io.Writer, rows []orchestrator.StatusRow) {
	if len(rows) == 0 {
		fmt.Fprintln(w, "No open issues")
		return
	}

	table := newTable(w, []string{"Issue", "Title", "Branch", "PR", "PR State", "AI Review", "Needs Work", "Reason"})
	for _, r := range rows {
		reason := string(r.Reason)
		if r.Err != nil {
			reason = "error: " + r.Err.Error()
		}
		state := string(r.PRState)
		if state == "" {
			state = "-"
		}
		_ = table.Append([]string{
			"#" + strconv.Itoa(r.Issue),
			truncate(r.Title),
			r.Branch,
			prRef(r.PR),
			state,
			string(r.AIStatus),
			strconv.FormatBool(r.NeedsWork),
			reason,
		})
	}
	_ = table.Render()
}

// summaryError turns failed items into a non-zero exit
func summaryError(s *orchestrator.Summary) error {
	if n := s.Failed(); n > 0 {
		return fmt.Errorf("%d item(s) failed: %w", n, s.Err())
	}
	return nil
}
