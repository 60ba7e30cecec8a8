// Package output provides styled terminal output helpers (success, error,
// queue and status formatting) using lipgloss.
package output

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/marcus/till/internal/connectivity"
	"github.com/marcus/till/internal/queue"
	"golang.org/x/term"
)

var (
	// Styles
	titleStyle   = lipgloss.NewStyle().Bold(true)
	subtleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	queueStyles  = map[queue.Status]lipgloss.Style{
		queue.StatusPending:   lipgloss.NewStyle().Foreground(lipgloss.Color("45")),
		queue.StatusSyncing:   lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		queue.StatusCompleted: lipgloss.NewStyle().Foreground(lipgloss.Color("242")),
		queue.StatusFailed:    lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	}
)

// Success prints a success message
func Success(format string, args ...interface{}) {
	fmt.Println(successStyle.Render(fmt.Sprintf(format, args...)))
}

// Error prints an error message
func Error(format string, args ...interface{}) {
	fmt.Println(errorStyle.Render("ERROR: " + fmt.Sprintf(format, args...)))
}

// Warning prints a warning message
func Warning(format string, args ...interface{}) {
	fmt.Println(warningStyle.Render("Warning: " + fmt.Sprintf(format, args...)))
}

// Info prints an info message
func Info(format string, args ...interface{}) {
	fmt.Println(fmt.Sprintf(format, args...))
}

// JSON outputs data as JSON
func JSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// TerminalWidth returns the current terminal width, or a sane fallback when
// output is not a tty.
func TerminalWidth() int {
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
		return w
	}
	return 80
}

// FormatQueueStatus formats a queue item status with color
func FormatQueueStatus(s queue.Status) string {
	style, ok := queueStyles[s]
	if !ok {
		return string(s)
	}
	return style.Render(fmt.Sprintf("[%s]", s))
}

// QueueItemLine formats one queue item for list output.
// e.g., "3f2a9c1e  update products/sku-42 [pending] x3 ✗ HTTP 503  2m ago"
func QueueItemLine(it *queue.Item) string {
	var parts []string
	parts = append(parts, titleStyle.Render(ShortID(it.ID)))
	parts = append(parts, fmt.Sprintf("%s %s/%s", it.Operation, it.Collection, it.EntityID))
	parts = append(parts, FormatQueueStatus(it.Status))
	if it.Attempts > 0 {
		parts = append(parts, subtleStyle.Render(fmt.Sprintf("x%d", it.Attempts)))
	}
	if it.LastError != "" {
		parts = append(parts, errorStyle.Render("✗ "+Truncate(it.LastError, 40)))
	}
	parts = append(parts, subtleStyle.Render(FormatTimeAgo(it.CreatedAt)))
	return strings.Join(parts, "  ")
}

// ConnectivityBadge returns a status indicator with symbol
// e.g., "● online", "● online (degraded)", "○ offline", "? unknown"
func ConnectivityBadge(st connectivity.Status) string {
	switch {
	case st.Online && st.Degraded:
		return warningStyle.Render("● online (degraded)")
	case st.Online:
		return successStyle.Render("● online")
	case st.State == connectivity.StateUnknown:
		return subtleStyle.Render("? unknown")
	default:
		return errorStyle.Render("○ offline")
	}
}

// FormatTimeAgo formats a time as a human-readable "ago" string
func FormatTimeAgo(t time.Time) string {
	diff := time.Since(t)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		mins := int(diff.Minutes())
		if mins == 1 {
			return "1m ago"
		}
		return fmt.Sprintf("%dm ago", mins)
	case diff < 24*time.Hour:
		hours := int(diff.Hours())
		if hours == 1 {
			return "1h ago"
		}
		return fmt.Sprintf("%dh ago", hours)
	case diff < 7*24*time.Hour:
		days := int(diff.Hours() / 24)
		if days == 1 {
			return "1d ago"
		}
		return fmt.Sprintf("%dd ago", days)
	default:
		return t.Format("2006-01-02")
	}
}

// ShortID shortens a uuid-ish id to its first 8 characters for display
func ShortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// Truncate shortens s to max characters, appending … when cut
func Truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 1 {
		return "…"
	}
	return s[:max-1] + "…"
}

// SectionHeader returns a formatted section header for CLI output
// e.g., "\nQUEUE:\n"
func SectionHeader(title string) string {
	return fmt.Sprintf("\n%s:\n", strings.ToUpper(title))
}
