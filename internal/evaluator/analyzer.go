package evaluator

import (
	"fmt"
	"sort"

	"github.com/julianstephens/guardian/internal/models"
)

// RecommendationType represents the kind of adjustment suggested
type RecommendationType string

const (
	RecommendAvoidIntervention RecommendationType = "avoid_intervention"
	RecommendKeepIntervention  RecommendationType = "keep_intervention"
	RecommendLightenCategory   RecommendationType = "lighten_category"
	RecommendShorterSession    RecommendationType = "shorter_session"
)

// Recommendation is one suggested adjustment for future sessions
type Recommendation struct {
	Type    RecommendationType `json:"type"`
	Subject string             `json:"subject,omitempty"`
	Reason  string             `json:"reason"`
}

// Analyzer derives recommendations from a session and the user's history
type Analyzer struct {
	profile models.Profile
}

// NewAnalyzer creates an Analyzer over the profile as it was at session start
func NewAnalyzer(profile models.Profile) *Analyzer {
	return &Analyzer{profile: profile}
}

// Analyze returns recommendations ordered by type then subject
func (a *Analyzer) Analyze(rec models.SessionRecord, summary models.SessionSummary) []Recommendation {
	var out []Recommendation
	out = append(out, a.interventions(rec.Messages)...)
	out = append(out, a.categories(rec.Messages)...)

	// Completion dropping after the first alert, or staying low, suggests the
	// session was too long for the user's state
	if summary.CompletionAfter.Available {
		after := summary.CompletionAfter.Value * 100
		switch {
		case after < 50:
			out = append(out, Recommendation{
				Type:   RecommendShorterSession,
				Reason: fmt.Sprintf("only %.0f%% of tasks were completed after the first burnout alert; plan a shorter session", after),
			})
		case summary.CompletionBefore.Available && summary.CompletionBefore.Value*100-after >= 25:
			out = append(out, Recommendation{
				Type:   RecommendShorterSession,
				Reason: fmt.Sprintf("completion fell from %.0f%% to %.0f%% after the first burnout alert; plan a shorter session", summary.CompletionBefore.Value*100, after),
			})
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Type != out[j].Type {
			return out[i].Type < out[j].Type
		}
		return out[i].Subject < out[j].Subject
	})
	return out
}

func (a *Analyzer) interventions(msgs []models.Message) []Recommendation {
	type tally struct{ offered, declined int }
	session := map[models.InterventionKind]*tally{}
	for _, msg := range msgs {
		out, ok := msg.Payload.(models.InterventionOutcome)
		if !ok || out.Reason == models.OutcomeClosed {
			continue
		}
		t := session[out.Kind]
		if t == nil {
			t = &tally{}
			session[out.Kind] = t
		}
		t.offered++
		if !out.Accepted {
			t.declined++
		}
	}

	var recs []Recommendation
	for _, kind := range models.AllInterventions {
		hist := a.profile.InterventionStats[kind]
		offered := hist.Offered
		declined := hist.Rejected + hist.TimedOut
		if t := session[kind]; t != nil {
			offered += t.offered
			declined += t.declined
		}
		if offered == 0 {
			continue
		}
		declinedPercent := float64(declined) / float64(offered) * 100
		acceptedPercent := 100 - declinedPercent

		// Two refusals in one session, or a mostly refused history, means
		// the kind should stop being offered first
		if (session[kind] != nil && session[kind].declined >= 2) || (offered >= 3 && declinedPercent > 60) {
			recs = append(recs, Recommendation{
				Type:    RecommendAvoidIntervention,
				Subject: string(kind),
				Reason:  fmt.Sprintf("%s was declined in %.0f%% of %d offers; prefer another intervention", kind, declinedPercent, offered),
			})
			continue
		}
		if offered >= 3 && acceptedPercent > 50 {
			recs = append(recs, Recommendation{
				Type:    RecommendKeepIntervention,
				Subject: string(kind),
				Reason:  fmt.Sprintf("%s was accepted in %.0f%% of %d offers", kind, acceptedPercent, offered),
			})
		}
	}
	return recs
}

func (a *Analyzer) categories(msgs []models.Message) []Recommendation {
	var recs []Recommendation
	for category, n := range skippedCategories(msgs) {
		total := n + a.profile.FatigueTriggers[category]
		if n >= 2 || total >= 3 {
			recs = append(recs, Recommendation{
				Type:    RecommendLightenCategory,
				Subject: category,
				Reason:  fmt.Sprintf("%q tasks were skipped %d times (%d this session); schedule them lighter or earlier", category, total, n),
			})
		}
	}
	return recs
}
