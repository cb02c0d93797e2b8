package sessions

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/julianstephens/guardian/internal/cli"
	"github.com/julianstephens/guardian/internal/models"
	"github.com/julianstephens/guardian/internal/storage"
)

type HistoryCmd struct {
	Limit int  `help:"Number of sessions to show." default:"10"`
	JSON  bool `help:"Print the summaries as JSON."`
}

func (c *HistoryCmd) Run(ctx *cli.Context) error {
	user, err := ctx.User()
	if err != nil {
		return err
	}
	profile, err := ctx.Repo.LoadProfile(context.Background(), user)
	if errors.Is(err, storage.ErrNotFound) {
		fmt.Printf("No sessions recorded for %s.\n", user)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load profile: %w", err)
	}

	recent := latest(profile.History, c.Limit)
	if c.JSON {
		return cli.PrintJSON(recent)
	}
	fmt.Println(renderHistory(recent))
	return nil
}

// latest returns up to limit summaries, newest first.
func latest(history []models.SessionSummary, limit int) []models.SessionSummary {
	if limit <= 0 || limit > len(history) {
		limit = len(history)
	}
	out := make([]models.SessionSummary, 0, limit)
	for i := len(history) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, history[i])
	}
	return out
}

func renderHistory(summaries []models.SessionSummary) string {
	if len(summaries) == 0 {
		return cli.DimStyle.Render("(no sessions)")
	}
	var b strings.Builder
	b.WriteString(cli.DimStyle.Render(fmt.Sprintf("%-16s %-9s %6s %6s %6s %7s %6s", "STARTED", "ID", "BEFORE", "AFTER", "MOOD", "OFFERS", "SCORE")))
	b.WriteString("\n")
	for _, s := range summaries {
		id := s.SessionID
		if len(id) > 8 {
			id = id[:8]
		}
		score := cli.FormatMetric(s.Score, "%.0f")
		if s.Degraded {
			score = cli.WarningStyle.Render("unsaved")
		}
		fmt.Fprintf(&b, "%-16s %-9s %6s %6s %6s %3d/%-3d %6s\n",
			s.StartedAt.Local().Format("2006-01-02 15:04"),
			id,
			cli.FormatMetric(percent(s.CompletionBefore), "%.0f%%"),
			cli.FormatMetric(percent(s.CompletionAfter), "%.0f%%"),
			cli.FormatMetric(s.MoodDelta, "%+.1f"),
			s.Accepted, s.Offers,
			score,
		)
	}
	if recs := summaries[0].Recommendations; len(recs) > 0 {
		b.WriteString("\n")
		b.WriteString(cli.TitleStyle.Render("Latest recommendations"))
		for _, r := range recs {
			b.WriteString("\n  • " + r)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func percent(m models.Metric) models.Metric {
	if m.Available {
		m.Value *= 100
	}
	return m
}
