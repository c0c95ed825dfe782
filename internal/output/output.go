// Package output provides styled terminal output helpers (success, error,
// warning, sync status formatting) using lipgloss.
package output

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/marcus/actsync/internal/models"
)

var (
	// Styles
	titleStyle   = lipgloss.NewStyle().Bold(true)
	subtleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	statusStyles = map[models.SyncStatus]lipgloss.Style{
		models.StatusPending:       lipgloss.NewStyle().Foreground(lipgloss.Color("45")),
		models.StatusUploading:     lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		models.StatusSynced:        lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		models.StatusFailed:        lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		models.StatusMissingRemote: lipgloss.NewStyle().Foreground(lipgloss.Color("141")),
		models.StatusConflict:      lipgloss.NewStyle().Foreground(lipgloss.Color("212")),
	}
)

// Success prints a success message
func Success(format string, args ...any) {
	fmt.Println(successStyle.Render(fmt.Sprintf(format, args...)))
}

// Error prints an error message
func Error(format string, args ...any) {
	fmt.Println(errorStyle.Render("ERROR: " + fmt.Sprintf(format, args...)))
}

// Warning prints a warning message
func Warning(format string, args ...any) {
	fmt.Println(warningStyle.Render("Warning: " + fmt.Sprintf(format, args...)))
}

// Info prints an info message
func Info(format string, args ...any) {
	fmt.Printf(format+"\n", args...)
}

// JSON outputs data as JSON
func JSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// Error codes for structured JSON output
const (
	ErrCodeNotFound      = "not_found"
	ErrCodeInvalidInput  = "invalid_input"
	ErrCodeDatabaseError = "database_error"
	ErrCodeRemoteError   = "remote_error"
	ErrCodeRateLimited   = "rate_limited"
)

// JSONError outputs an error as JSON
func JSONError(code, message string) {
	data, _ := json.Marshal(map[string]any{
		"error": map[string]string{"code": code, "message": message},
	})
	fmt.Println(string(data))
}

// FormatStatus formats a status with color
func FormatStatus(s models.SyncStatus) string {
	style, ok := statusStyles[s]
	if !ok {
		return string(s)
	}
	return style.Render(fmt.Sprintf("[%s]", s))
}

// StatusBadge returns a status indicator with symbol
// e.g., "○ pending", "▶ uploading", "✓ synced", "✗ failed"
func StatusBadge(status models.SyncStatus) string {
	symbols := map[models.SyncStatus]string{
		models.StatusPending:       "○",
		models.StatusUploading:     "▶",
		models.StatusSynced:        "✓",
		models.StatusFailed:        "✗",
		models.StatusMissingRemote: "◌",
		models.StatusConflict:      "≠",
	}
	symbol, ok := symbols[status]
	if !ok {
		symbol = "?"
	}
	if style, hasStyle := statusStyles[status]; hasStyle {
		return style.Render(fmt.Sprintf("%s %s", symbol, status))
	}
	return fmt.Sprintf("%s %s", symbol, status)
}

// FormatTimeAgo formats a time as a human-readable "ago" string
func FormatTimeAgo(t time.Time) string {
	diff := time.Since(t)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		return fmt.Sprintf("%dm ago", int(diff.Minutes()))
	case diff < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(diff.Hours()))
	case diff < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(diff.Hours()/24))
	default:
		return t.Format("2006-01-02")
	}
}

// FormatDistance renders meters as kilometers, e.g. "10.02 km".
func FormatDistance(meters float64) string {
	if meters < 1000 {
		return fmt.Sprintf("%s m", humanize.Comma(int64(meters)))
	}
	return fmt.Sprintf("%s km", humanize.CommafWithDigits(meters/1000, 2))
}

// FormatDuration renders whole seconds as h:mm:ss or m:ss.
func FormatDuration(d time.Duration) string {
	secs := int64(d.Round(time.Second).Seconds())
	h, m, s := secs/3600, (secs%3600)/60, secs%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

// FormatActivity is the one-line form of a local activity:
// "1001  2026-02-15 08:00  Run  10.00 km  52:30".
func FormatActivity(a *models.LocalActivity) string {
	parts := []string{
		titleStyle.Render(fmt.Sprint(a.ID)),
		a.StartDate.UTC().Format("2006-01-02 15:04"),
		a.Type,
		FormatDistance(a.Distance),
		FormatDuration(a.Duration()),
	}
	return strings.Join(parts, "  ")
}

// FormatRun summarises one sync_runs row.
func FormatRun(r *models.SyncRun) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s  %-9s %s", subtleStyle.Render(r.StartedAt.Local().Format("2006-01-02 15:04")), r.Kind, r.Account)
	fmt.Fprintf(&sb, "  uploaded=%d matched=%d skipped=%d conflicts=%d failed=%d",
		r.Uploaded, r.Matched, r.Skipped, r.Conflicts, r.Failed)
	if r.FinishedAt == nil {
		sb.WriteString("  " + warningStyle.Render("(unfinished)"))
	}
	if r.Error != "" {
		sb.WriteString("  " + errorStyle.Render(r.Error))
	}
	return sb.String()
}

// SectionHeader returns a formatted section header for CLI output
// e.g., "\nFAILED:\n"
func SectionHeader(title string) string {
	return fmt.Sprintf("\n%s:\n", strings.ToUpper(title))
}

// FormatBytes renders a payload size, e.g. "12 kB".
func FormatBytes(n int) string {
	return humanize.Bytes(uint64(n))
}
