package calendar

import (
	"context"
	"testing"
	"time"

	"github.com/julianstephens/guardian/internal/config"
	"github.com/julianstephens/guardian/internal/models"
)

func at(hour, min int) time.Time {
	return time.Date(2025, 5, 5, hour, min, 0, 0, time.UTC)
}

func TestQueryAvailability(t *testing.T) {
	tests := []struct {
		name     string
		cfg      config.CalendarConfig
		from, to time.Time
		want     []Interval
	}{
		{
			name: "no busy ranges",
			from: at(9, 0), to: at(12, 0),
			want: []Interval{{at(9, 0), at(12, 0)}},
		},
		{
			name: "meeting in the middle",
			cfg:  config.CalendarConfig{Busy: []models.TimeRange{{Start: "10:00", End: "10:30"}}},
			from: at(9, 0), to: at(12, 0),
			want: []Interval{{at(9, 0), at(10, 0)}, {at(10, 30), at(12, 0)}},
		},
		{
			name: "overlapping busy ranges",
			cfg: config.CalendarConfig{Busy: []models.TimeRange{
				{Start: "09:30", End: "10:30"},
				{Start: "10:00", End: "11:00"},
			}},
			from: at(9, 0), to: at(12, 0),
			want: []Interval{{at(9, 0), at(9, 30)}, {at(11, 0), at(12, 0)}},
		},
		{
			name: "busy covers window start",
			cfg:  config.CalendarConfig{Busy: []models.TimeRange{{Start: "08:00", End: "09:15"}}},
			from: at(9, 0), to: at(10, 0),
			want: []Interval{{at(9, 15), at(10, 0)}},
		},
		{
			name: "busy across midnight",
			cfg:  config.CalendarConfig{Busy: []models.TimeRange{{Start: "23:00", End: "01:00"}}},
			from: at(0, 0), to: at(2, 0),
			want: []Interval{{at(1, 0), at(2, 0)}},
		},
		{
			name: "focus pacing",
			cfg:  config.CalendarConfig{FocusBlocks: true, FocusBlockMinutes: 50, FocusBreakMinutes: 10},
			from: at(9, 0), to: at(11, 5),
			want: []Interval{{at(9, 0), at(9, 50)}, {at(10, 0), at(10, 50)}, {at(11, 0), at(11, 5)}},
		},
		{
			name: "empty range",
			from: at(9, 0), to: at(9, 0),
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cal, err := NewLocal(tt.cfg)
			if err != nil {
				t.Fatalf("NewLocal() error = %v", err)
			}
			got, err := cal.QueryAvailability(context.Background(), tt.from, tt.to)
			if err != nil {
				t.Fatalf("QueryAvailability() error = %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d intervals %v, want %d %v", len(got), got, len(tt.want), tt.want)
			}
			for i := range got {
				if !got[i].Start.Equal(tt.want[i].Start) || !got[i].End.Equal(tt.want[i].End) {
					t.Errorf("interval %d = %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestFreeMinutes(t *testing.T) {
	ivs := []Interval{{at(9, 0), at(9, 50)}, {at(10, 0), at(10, 25)}}
	if got := FreeMinutes(ivs); got != 75 {
		t.Errorf("FreeMinutes() = %d, want 75", got)
	}
}

func TestNewLocalRejectsBadRanges(t *testing.T) {
	if _, err := NewLocal(config.CalendarConfig{Busy: []models.TimeRange{{Start: "25:00", End: "26:00"}}}); err == nil {
		t.Error("NewLocal() accepted invalid busy range")
	}
	if _, err := NewLocal(config.CalendarConfig{FocusBlocks: true}); err == nil {
		t.Error("NewLocal() accepted focus pacing without block length")
	}
}

func TestCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cal, _ := NewLocal(config.CalendarConfig{})
	if _, err := cal.QueryAvailability(ctx, at(9, 0), at(10, 0)); err == nil {
		t.Error("expected context error")
	}
	if _, err := (Unbounded{}).QueryAvailability(ctx, at(9, 0), at(10, 0)); err == nil {
		t.Error("expected context error from Unbounded")
	}
}
