package evaluator

import (
	"math"
	"sort"
	"time"

	"github.com/julianstephens/guardian/internal/constants"
	"github.com/julianstephens/guardian/internal/models"
)

// statusChange is one applied set_status op, with the category of the
// task as of the revision that applied it.
type statusChange struct {
	At       time.Time
	TaskID   string
	Category string
	Status   models.TaskStatus
}

func statusChanges(msgs []models.Message) []statusChange {
	var out []statusChange
	for _, msg := range msgs {
		if msg.Type != models.MsgPlanRevision {
			continue
		}
		rev, ok := msg.Payload.(models.PlanRevision)
		if !ok || rev.Status != models.RevisionApplied {
			continue
		}
		for _, op := range rev.Ops {
			if op.Op != models.OpSetStatus {
				continue
			}
			if op.Status != models.TaskDone && op.Status != models.TaskSkipped {
				continue
			}
			ch := statusChange{At: msg.Timestamp, TaskID: op.TaskID, Status: op.Status}
			if rev.Result != nil {
				if i := rev.Result.IndexOf(op.TaskID); i >= 0 {
					ch.Category = rev.Result.Tasks[i].Category
				}
			}
			out = append(out, ch)
		}
	}
	return out
}

func skippedCategories(msgs []models.Message) map[string]int {
	out := map[string]int{}
	for _, ch := range statusChanges(msgs) {
		if ch.Status == models.TaskSkipped && ch.Category != "" && ch.Category != constants.BreakCategory {
			out[ch.Category]++
		}
	}
	return out
}

// firstHigh returns the time of the first HIGH alert.
func firstHigh(msgs []models.Message) (time.Time, bool) {
	var first time.Time
	found := false
	for _, msg := range msgs {
		if msg.Type != models.MsgBurnoutAlert {
			continue
		}
		if a, ok := msg.Payload.(models.BurnoutAlert); ok && a.Severity == constants.SeverityHigh {
			if !found || msg.Timestamp.Before(first) {
				first, found = msg.Timestamp, true
			}
		}
	}
	return first, found
}

func completion(changes []statusChange) models.Metric {
	done, total := 0, 0
	for _, ch := range changes {
		total++
		if ch.Status == models.TaskDone {
			done++
		}
	}
	if total == 0 {
		return models.Unavailable
	}
	return models.Available(float64(done) / float64(total))
}

// completionSplit computes done/(done+skipped) before and after the first
// HIGH alert. Without an alert everything counts as before.
func completionSplit(msgs []models.Message) (before, after models.Metric) {
	changes := statusChanges(msgs)
	alertAt, ok := firstHigh(msgs)
	if !ok {
		return completion(changes), models.Unavailable
	}

	var pre, post []statusChange
	for _, ch := range changes {
		if ch.At.Before(alertAt) {
			pre = append(pre, ch)
		} else {
			post = append(post, ch)
		}
	}
	return completion(pre), completion(post)
}

// moodSamples prefers reported samples when there are enough of them.
func moodSamples(moods []models.MoodSample) []models.MoodSample {
	var reported []models.MoodSample
	for _, m := range moods {
		if m.Source == models.MoodReported {
			reported = append(reported, m)
		}
	}
	out := moods
	if len(reported) >= 2 {
		out = reported
	}
	out = append([]models.MoodSample(nil), out...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out
}

func mean(samples []models.MoodSample) float64 {
	sum := 0.0
	for _, s := range samples {
		sum += s.Mood
	}
	return sum / float64(len(samples))
}

// moodMetrics returns the mean of the second half of the samples minus
// the mean of the first half, and the overall mean.
func moodMetrics(moods []models.MoodSample) (delta, avg models.Metric) {
	samples := moodSamples(moods)
	if len(samples) == 0 {
		return models.Unavailable, models.Unavailable
	}
	avg = models.Available(mean(samples))
	if len(samples) < 2 {
		return models.Unavailable, avg
	}
	half := len(samples) / 2
	return models.Available(mean(samples[len(samples)-half:]) - mean(samples[:half])), avg
}

type counts struct {
	alerts, offers, accepted int
}

func countMessages(msgs []models.Message) counts {
	var c counts
	alerts := map[string]bool{}
	offers := map[string]bool{}
	accepted := map[string]bool{}
	for _, msg := range msgs {
		switch p := msg.Payload.(type) {
		case models.BurnoutAlert:
			if p.Severity == constants.SeverityHigh && !alerts[msg.CorrelationID] {
				alerts[msg.CorrelationID] = true
				c.alerts++
			}
		case models.InterventionOffer:
			if !offers[msg.CorrelationID] {
				offers[msg.CorrelationID] = true
				c.offers++
			}
		case models.InterventionOutcome:
			if p.Accepted && !accepted[msg.CorrelationID] {
				accepted[msg.CorrelationID] = true
				c.accepted++
			}
		}
	}
	return c
}

// score averages the available components on a 0-100 scale: completion
// after the first alert (or overall), mood delta centered at 50, and the
// share of accepted offers.
func score(s models.SessionSummary) models.Metric {
	var parts []float64
	switch {
	case s.CompletionAfter.Available:
		parts = append(parts, s.CompletionAfter.Value*100)
	case s.CompletionBefore.Available:
		parts = append(parts, s.CompletionBefore.Value*100)
	}
	if s.MoodDelta.Available {
		parts = append(parts, clamp(50+s.MoodDelta.Value*12.5, 0, 100))
	}
	if s.Offers > 0 {
		parts = append(parts, float64(s.Accepted)/float64(s.Offers)*100)
	}
	if len(parts) == 0 {
		return models.Unavailable
	}
	sum := 0.0
	for _, p := range parts {
		sum += p
	}
	return models.Available(math.Round(sum / float64(len(parts))))
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func summarize(rec models.SessionRecord, baseline models.Profile) models.SessionSummary {
	s := models.SessionSummary{
		SessionID: rec.SessionID,
		StartedAt: rec.StartedAt,
		ClosedAt:  rec.ClosedAt,
	}
	s.CompletionBefore, s.CompletionAfter = completionSplit(rec.Messages)
	s.MoodDelta, s.MeanMood = moodMetrics(rec.Moods)

	c := countMessages(rec.Messages)
	s.Alerts, s.Offers, s.Accepted = c.alerts, c.offers, c.accepted
	s.Score = score(s)

	for _, r := range NewAnalyzer(baseline).Analyze(rec, s) {
		s.Recommendations = append(s.Recommendations, r.Reason)
	}
	return s
}
