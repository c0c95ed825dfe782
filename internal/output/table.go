package output

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/x/ansi"

	"github.com/marcus/actsync/internal/models"
)

// Table renders rows as left-aligned columns. Cells may carry ANSI styling;
// widths are measured on the visible text.
func Table(header []string, rows [][]string, maxWidth int) string {
	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = ansi.StringWidth(h)
	}
	for _, row := range rows {
		for i := 0; i < len(row) && i < len(widths); i++ {
			widths[i] = max(widths[i], ansi.StringWidth(row[i]))
		}
	}

	var sb strings.Builder
	writeRow := func(cells []string) {
		var line strings.Builder
		for i, cell := range cells {
			if i >= len(widths) {
				break
			}
			if i > 0 {
				line.WriteString("  ")
			}
			line.WriteString(cell)
			if i < len(cells)-1 {
				line.WriteString(strings.Repeat(" ", widths[i]-ansi.StringWidth(cell)))
			}
		}
		out := line.String()
		if maxWidth > 0 && ansi.StringWidth(out) > maxWidth {
			out = ansi.Truncate(out, maxWidth, "…")
		}
		sb.WriteString(out)
		sb.WriteString("\n")
	}

	bold := make([]string, len(header))
	for i, h := range header {
		bold[i] = titleStyle.Render(h)
	}
	writeRow(bold)
	for _, row := range rows {
		writeRow(row)
	}
	return sb.String()
}

// StatusCountsTable renders per-status counts in display order, skipping
// states with no rows.
func StatusCountsTable(counts map[models.SyncStatus]int) string {
	var rows [][]string
	total := 0
	for _, s := range models.AllStatuses {
		n := counts[s]
		total += n
		if n == 0 {
			continue
		}
		rows = append(rows, []string{StatusBadge(s), fmt.Sprint(n)})
	}
	rows = append(rows, []string{subtleStyle.Render("total"), fmt.Sprint(total)})
	return Table([]string{"STATUS", "COUNT"}, rows, 0)
}

// RecordsTable renders status rows with their last error.
func RecordsTable(records []models.SyncRecord, maxWidth int) string {
	rows := make([][]string, 0, len(records))
	for _, r := range records {
		lastErr := ""
		if r.LastError != nil {
			lastErr = *r.LastError
		}
		rows = append(rows, []string{
			fmt.Sprint(r.ActivityID),
			FormatStatus(r.Status),
			r.RemoteID(),
			fmt.Sprint(r.AttemptCount),
			FormatTimeAgo(r.UpdatedAt),
			lastErr,
		})
	}
	return Table([]string{"ACTIVITY", "STATUS", "REMOTE", "ATTEMPTS", "UPDATED", "LAST ERROR"}, rows, maxWidth)
}
