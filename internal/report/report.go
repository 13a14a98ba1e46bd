// Package report renders usage records for the terminal and for notifications.
package report

import (
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/jgoulah/mobiletracker/pkg/models"
)

const (
	// NotificationTitle heads the desktop alert sent after a successful scrape
	NotificationTitle = "📱 Weekly Data Summary"

	// FailureTitle and FailureMessage make up the alert sent when a scrape fails
	FailureTitle   = "Freedom Mobile Tracker"
	FailureMessage = "⚠️ Failed to retrieve data usage. Check the script."

	boxWidth = 42
	barWidth = 30
)

// Theme colors (Flexoki Dark)
var (
	colorAccent = lipgloss.Color("#3AA99F")
	colorMuted  = lipgloss.Color("#6F6E69")
	colorGreen  = lipgloss.Color("#879A39")
	colorYellow = lipgloss.Color("#D0A215")
	colorOrange = lipgloss.Color("#DA702C")
	colorRed    = lipgloss.Color("#D14D41")
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorAccent)

	mutedStyle = lipgloss.NewStyle().
			Foreground(colorMuted)

	emptyBarStyle = lipgloss.NewStyle().
			Foreground(colorMuted)
)

// colorForPercent returns green/yellow/orange/red based on how much of the plan is used
func colorForPercent(pct float64) lipgloss.Color {
	switch {
	case pct >= 90:
		return colorRed
	case pct >= 70:
		return colorOrange
	case pct >= 50:
		return colorYellow
	default:
		return colorGreen
	}
}

// Bar renders a barWidth-cell usage bar with floor(width*pct/100) cells filled
func Bar(pct float64) string {
	filled := int(math.Floor(barWidth * pct / 100))
	if filled > barWidth {
		filled = barWidth
	}
	if filled < 0 {
		filled = 0
	}

	fill := lipgloss.NewStyle().Foreground(colorForPercent(pct))
	return fill.Render(strings.Repeat("█", filled)) + emptyBarStyle.Render(strings.Repeat("░", barWidth-filled))
}

// Summary renders a record as a fixed-width box
func Summary(rec models.UsageRecord) string {
	lines := []string{
		"╔" + strings.Repeat("═", boxWidth) + "╗",
		boxLine(titleStyle.Render("   📱 Freedom Mobile Weekly Data Summary")),
		"╠" + strings.Repeat("═", boxWidth) + "╣",
		boxLine(fmt.Sprintf("  Week Ending:  %s", rec.WeekEnding)),
		boxLine(fmt.Sprintf("  Data Used:    %-6.2f GB", rec.UsageGB)),
	}

	if rec.HasPlan() {
		lines = append(lines,
			boxLine(fmt.Sprintf("  Plan Total:   %-6.2f GB", rec.PlanGB)),
			boxLine(fmt.Sprintf("  Remaining:    %-6.2f GB", rec.Remaining())),
			boxLine(fmt.Sprintf("  Used:         %-5.1f%%", rec.PercentUsed)),
			boxLine("  ["+Bar(rec.PercentUsed)+"]"),
		)
	}

	if rec.CycleStart != "" && rec.CycleEnd != "" {
		lines = append(lines, boxLine(fmt.Sprintf("  Billing Cycle: %s → %s", rec.CycleStart, rec.CycleEnd)))
	}

	lines = append(lines, "╚"+strings.Repeat("═", boxWidth)+"╝")
	return strings.Join(lines, "\n")
}

// boxLine pads content to the box interior; longer content is left as is
func boxLine(content string) string {
	pad := boxWidth - lipgloss.Width(content)
	if pad < 0 {
		pad = 0
	}
	return "║" + content + strings.Repeat(" ", pad) + "║"
}

// History writes the history table, the week-over-week change and the time
// since the last scrape
func History(w io.Writer, records []models.UsageRecord, now time.Time) error {
	if len(records) == 0 {
		_, err := fmt.Fprintln(w, "📭 No usage history found. Run a scrape first!")
		return err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "\n📊 Freedom Mobile Usage History (%d records)\n\n", len(records))
	b.WriteString(headerStyle.Render(fmt.Sprintf("%-14s %10s %10s %10s %8s", "Date", "Used (GB)", "Plan (GB)", "Remaining", "% Used")))
	b.WriteString("\n")
	b.WriteString(mutedStyle.Render(strings.Repeat("─", 56)))
	b.WriteString("\n")

	for _, rec := range records {
		plan, remaining, pct := "N/A", "N/A", "N/A"
		if rec.HasPlan() {
			plan = fmt.Sprintf("%.2f", rec.PlanGB)
			remaining = fmt.Sprintf("%.2f", rec.Remaining())
			pct = fmt.Sprintf("%.1f%%", rec.PercentUsed)
		}
		fmt.Fprintf(&b, "%-14s %10.2f %10s %10s %8s\n", rec.WeekEnding, rec.UsageGB, plan, remaining, pct)
	}

	if len(records) >= 2 {
		delta := records[len(records)-1].UsageGB - records[len(records)-2].UsageGB
		direction := "📉"
		if delta > 0 {
			direction = "📈"
		}
		fmt.Fprintf(&b, "\n%s Change from last week: %+.2f GB\n", direction, delta)
	}

	last := records[len(records)-1].ScrapedAt.Time
	if !last.IsZero() {
		b.WriteString(mutedStyle.Render("Last scraped " + humanize.RelTime(last, now, "ago", "from now")))
		b.WriteString("\n")
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// NotificationMessage returns the one-line text for the desktop alert
func NotificationMessage(rec models.UsageRecord) string {
	if rec.HasPlan() {
		return fmt.Sprintf("Used %.2f GB of %.2f GB (%.1f%%) — %.2f GB remaining",
			rec.UsageGB, rec.PlanGB, rec.PercentUsed, rec.Remaining())
	}
	return fmt.Sprintf("Used %.2f GB this billing cycle", rec.UsageGB)
}
