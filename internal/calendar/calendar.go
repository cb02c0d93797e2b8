// Package calendar answers availability questions for plan validation.
package calendar

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/julianstephens/guardian/internal/config"
	"github.com/julianstephens/guardian/internal/models"
	"github.com/julianstephens/guardian/internal/utils"
)

// Interval is a half-open free period [Start, End).
type Interval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (i Interval) Minutes() int {
	return utils.MinutesBetween(i.Start, i.End)
}

// Calendar reports free intervals inside a time range.
type Calendar interface {
	QueryAvailability(ctx context.Context, from, to time.Time) ([]Interval, error)
}

// FreeMinutes sums the length of intervals.
func FreeMinutes(intervals []Interval) int {
	total := 0
	for _, iv := range intervals {
		total += iv.Minutes()
	}
	return total
}

// Local is a calendar built from daily busy ranges in the policy file.
type Local struct {
	busy       []models.TimeRange
	focus      bool
	blockMin   int
	focusBreak int
}

func NewLocal(cfg config.CalendarConfig) (*Local, error) {
	for _, r := range cfg.Busy {
		if !utils.ValidateTimeFormat(r.Start) || !utils.ValidateTimeFormat(r.End) {
			return nil, fmt.Errorf("invalid busy range %s-%s: times must be HH:MM", r.Start, r.End)
		}
	}
	if cfg.FocusBlocks && (cfg.FocusBlockMinutes <= 0 || cfg.FocusBreakMinutes < 0) {
		return nil, fmt.Errorf("focus pacing needs a positive block length")
	}
	return &Local{
		busy:       cfg.Busy,
		focus:      cfg.FocusBlocks,
		blockMin:   cfg.FocusBlockMinutes,
		focusBreak: cfg.FocusBreakMinutes,
	}, nil
}

// QueryAvailability subtracts busy ranges from [from, to). With focus
// pacing enabled every free stretch is cut into work blocks separated by
// unavailable breaks.
func (l *Local) QueryAvailability(ctx context.Context, from, to time.Time) ([]Interval, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !to.After(from) {
		return nil, nil
	}

	busy, err := l.busyIntervals(from, to)
	if err != nil {
		return nil, err
	}
	free := subtract(Interval{Start: from, End: to}, busy)
	if !l.focus {
		return free, nil
	}

	var paced []Interval
	for _, iv := range free {
		paced = append(paced, l.pace(iv)...)
	}
	return paced, nil
}

// busyIntervals places every daily range on each day touched by
// [from, to), including the day before for ranges that cross midnight.
func (l *Local) busyIntervals(from, to time.Time) ([]Interval, error) {
	var out []Interval
	day := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, from.Location()).AddDate(0, 0, -1)
	for !day.After(to) {
		for _, r := range l.busy {
			start, err := utils.OnDay(day, r.Start)
			if err != nil {
				return nil, err
			}
			end, err := utils.OnDay(day, r.End)
			if err != nil {
				return nil, err
			}
			if !end.After(start) {
				end = end.AddDate(0, 0, 1)
			}
			if end.After(from) && start.Before(to) {
				out = append(out, Interval{Start: start, End: end})
			}
		}
		day = day.AddDate(0, 0, 1)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

// subtract walks sorted busy intervals across window and keeps the gaps.
func subtract(window Interval, busy []Interval) []Interval {
	var free []Interval
	cursor := window.Start
	for _, b := range busy {
		if b.Start.After(cursor) {
			end := b.Start
			if end.After(window.End) {
				end = window.End
			}
			if end.After(cursor) {
				free = append(free, Interval{Start: cursor, End: end})
			}
		}
		if b.End.After(cursor) {
			cursor = b.End
		}
		if !cursor.Before(window.End) {
			return free
		}
	}
	if cursor.Before(window.End) {
		free = append(free, Interval{Start: cursor, End: window.End})
	}
	return free
}

func (l *Local) pace(iv Interval) []Interval {
	block := time.Duration(l.blockMin) * time.Minute
	rest := time.Duration(l.focusBreak) * time.Minute

	var out []Interval
	for start := iv.Start; start.Before(iv.End); start = start.Add(block + rest) {
		end := start.Add(block)
		if end.After(iv.End) {
			end = iv.End
		}
		out = append(out, Interval{Start: start, End: end})
	}
	return out
}

// Unbounded treats the whole range as free. It is used when no calendar
// is configured.
type Unbounded struct{}

func (Unbounded) QueryAvailability(ctx context.Context, from, to time.Time) ([]Interval, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !to.After(from) {
		return nil, nil
	}
	return []Interval{{Start: from, End: to}}, nil
}
