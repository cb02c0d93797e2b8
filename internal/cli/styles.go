package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/julianstephens/guardian/internal/models"
)

var (
	TitleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Bold(true)

	LabelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			Width(22)

	OkStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("42"))

	DangerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	WarningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")).
			Italic(true)

	OfferStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("63")).
			Padding(0, 1)

	DimStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

func row(label, value string) string {
	return lipgloss.JoinHorizontal(lipgloss.Top, LabelStyle.Render(label), value)
}

// FormatMetric renders an optional metric, "n/a" when it is unavailable.
func FormatMetric(m models.Metric, format string) string {
	if !m.Available {
		return DimStyle.Render("n/a")
	}
	return fmt.Sprintf(format, m.Value)
}

// LevelStyle colors a risk level.
func LevelStyle(level models.RiskLevel) lipgloss.Style {
	switch level {
	case models.RiskHigh:
		return DangerStyle
	case models.RiskElevated:
		return WarningStyle
	default:
		return OkStyle
	}
}

// RenderSummary formats the scored result of one session.
func RenderSummary(s models.SessionSummary) string {
	lines := []string{
		TitleStyle.Render("Session " + shortID(s.SessionID)),
		row("Started", s.StartedAt.Local().Format("2006-01-02 15:04")),
		row("Closed", s.ClosedAt.Local().Format("2006-01-02 15:04")),
		row("Completion before", FormatMetric(pct(s.CompletionBefore), "%.0f%%")),
		row("Completion after", FormatMetric(pct(s.CompletionAfter), "%.0f%%")),
		row("Mean mood", FormatMetric(s.MeanMood, "%.1f")),
		row("Mood change", FormatMetric(s.MoodDelta, "%+.1f")),
		row("Alerts / offers", fmt.Sprintf("%d / %d (%d accepted)", s.Alerts, s.Offers, s.Accepted)),
		row("Score", FormatMetric(s.Score, "%.0f")),
	}
	if s.Degraded {
		lines = append(lines, WarningStyle.Render("not saved: storage was unavailable"))
	}
	for _, r := range s.Recommendations {
		lines = append(lines, "  • "+r)
	}
	return strings.Join(lines, "\n")
}

// RenderSchedule lists tasks in execution order.
func RenderSchedule(s models.Schedule) string {
	if len(s.Tasks) == 0 {
		return DimStyle.Render("(no tasks)")
	}
	var b strings.Builder
	for i, t := range s.Tasks {
		status := string(t.Status)
		switch t.Status {
		case models.TaskDone:
			status = OkStyle.Render(status)
		case models.TaskSkipped:
			status = DimStyle.Render(status)
		}
		load := string(t.Load)
		if t.Load == models.LoadHigh {
			load = WarningStyle.Render(load)
		}
		fmt.Fprintf(&b, "%2d. %-24s %-10s %3d min  %-8s %s\n", i+1, t.Name, t.Category, t.DurationMin, load, status)
	}
	return strings.TrimRight(b.String(), "\n")
}

// RenderProfile formats the durable user profile.
func RenderProfile(p models.Profile) string {
	lines := []string{
		TitleStyle.Render("Profile " + p.UserID),
		row("Sessions", fmt.Sprintf("%d", len(p.History))),
	}
	if len(p.PeakFocus) > 0 {
		var ranges []string
		for _, r := range p.PeakFocus {
			ranges = append(ranges, r.Start+"-"+r.End)
		}
		lines = append(lines, row("Peak focus", strings.Join(ranges, ", ")))
	}
	if n := len(p.MoodTrend); n > 0 {
		lines = append(lines, row("Last mood", fmt.Sprintf("%.1f", p.MoodTrend[n-1].Mood)))
	}

	if len(p.Goals) > 0 {
		lines = append(lines, "", TitleStyle.Render("Goals"))
		for _, g := range p.Goals {
			lines = append(lines, fmt.Sprintf("  %-24s %-10s %3d min  %s", g.Name, g.Category, g.DurationMin, g.Load))
		}
	}

	if len(p.FatigueTriggers) > 0 {
		lines = append(lines, "", TitleStyle.Render("Fatigue triggers"))
		cats := make([]string, 0, len(p.FatigueTriggers))
		for c := range p.FatigueTriggers {
			cats = append(cats, c)
		}
		sort.Strings(cats)
		for _, c := range cats {
			lines = append(lines, row("  "+c, fmt.Sprintf("%d", p.FatigueTriggers[c])))
		}
	}

	if len(p.InterventionStats) > 0 {
		lines = append(lines, "", TitleStyle.Render("Interventions"))
		for _, k := range models.AllInterventions {
			st, ok := p.InterventionStats[k]
			if !ok {
				continue
			}
			lines = append(lines, row("  "+string(k), fmt.Sprintf("%d offered, %d accepted, %d rejected, %d timed out",
				st.Offered, st.Accepted, st.Rejected, st.TimedOut)))
		}
	}
	return strings.Join(lines, "\n")
}

func pct(m models.Metric) models.Metric {
	if m.Available {
		m.Value *= 100
	}
	return m
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
