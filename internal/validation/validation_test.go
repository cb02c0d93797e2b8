package validation

import (
	"strings"
	"testing"

	"github.com/julianstephens/guardian/internal/models"
)

func schedule() models.Schedule {
	return models.Schedule{
		Revision: 1,
		Tasks: []models.Task{
			{ID: "a", Name: "Proofs", Category: "math", DurationMin: 50, Load: models.LoadHigh, Status: models.TaskPending},
			{ID: "b", Name: "Reading", Category: "history", DurationMin: 30, Load: models.LoadMedium, Status: models.TaskPending},
			{ID: "c", Name: "Flashcards", Category: "language", DurationMin: 20, Load: models.LoadLow, Status: models.TaskPending},
		},
	}
}

func ids(s models.Schedule) string {
	out := make([]string, len(s.Tasks))
	for i, t := range s.Tasks {
		out[i] = t.ID
	}
	return strings.Join(out, ",")
}

func TestApplyPatch(t *testing.T) {
	brk := &models.Task{ID: "brk", Name: "Break", Category: "break", DurationMin: 10, Load: models.LoadLow}

	tests := []struct {
		name    string
		ops     []models.PatchOp
		wantIDs string
		check   func(t *testing.T, s models.Schedule)
	}{
		{
			name:    "insert at front",
			ops:     []models.PatchOp{{Op: models.OpInsert, Task: brk, Index: 0}},
			wantIDs: "brk,a,b,c",
			check: func(t *testing.T, s models.Schedule) {
				if s.Tasks[0].Status != models.TaskPending {
					t.Errorf("inserted status = %q, want pending", s.Tasks[0].Status)
				}
			},
		},
		{
			name:    "insert index clamped to end",
			ops:     []models.PatchOp{{Op: models.OpInsert, Task: brk, Index: 99}},
			wantIDs: "a,b,c,brk",
		},
		{
			name:    "remove",
			ops:     []models.PatchOp{{Op: models.OpRemove, TaskID: "b"}},
			wantIDs: "a,c",
		},
		{
			name:    "reorder to end",
			ops:     []models.PatchOp{{Op: models.OpReorder, TaskID: "a", Index: 2}},
			wantIDs: "b,c,a",
		},
		{
			name:    "reorder to front",
			ops:     []models.PatchOp{{Op: models.OpReorder, TaskID: "c", Index: 0}},
			wantIDs: "c,a,b",
		},
		{
			name:    "set load",
			ops:     []models.PatchOp{{Op: models.OpSetLoad, TaskID: "a", Load: models.LoadMedium}},
			wantIDs: "a,b,c",
			check: func(t *testing.T, s models.Schedule) {
				if s.Tasks[0].Load != models.LoadMedium {
					t.Errorf("load = %q, want medium", s.Tasks[0].Load)
				}
			},
		},
		{
			name:    "set status",
			ops:     []models.PatchOp{{Op: models.OpSetStatus, TaskID: "b", Status: models.TaskDone}},
			wantIDs: "a,b,c",
			check: func(t *testing.T, s models.Schedule) {
				if s.Tasks[1].Status != models.TaskDone {
					t.Errorf("status = %q, want done", s.Tasks[1].Status)
				}
			},
		},
		{
			name: "several ops in order",
			ops: []models.PatchOp{
				{Op: models.OpReorder, TaskID: "a", Index: 2},
				{Op: models.OpInsert, Task: brk, Index: 1},
			},
			wantIDs: "b,brk,c,a",
		},
	}

	v := New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			current := schedule()
			next, result := v.Apply(current, models.PlanRevision{Kind: models.RevisionPatch, Ops: tt.ops})
			if result.HasConflicts() {
				t.Fatalf("unexpected conflicts: %s", result.FormatReport())
			}
			if got := ids(next); got != tt.wantIDs {
				t.Errorf("order = %s, want %s", got, tt.wantIDs)
			}
			if got := ids(current); got != "a,b,c" {
				t.Errorf("current schedule mutated: %s", got)
			}
			if current.Tasks[0].Load != models.LoadHigh || current.Tasks[1].Status != models.TaskPending {
				t.Error("current task fields mutated")
			}
			if tt.check != nil {
				tt.check(t, next)
			}
		})
	}
}

func TestApplyConflicts(t *testing.T) {
	dup := &models.Task{ID: "a", Name: "Again", DurationMin: 10, Load: models.LoadLow}
	zero := &models.Task{ID: "z", Name: "Zero", DurationMin: 0, Load: models.LoadLow}
	noID := &models.Task{Name: "Anonymous", DurationMin: 10, Load: models.LoadLow}

	tests := []struct {
		name string
		rev  models.PlanRevision
		want ConflictType
	}{
		{name: "empty patch", rev: models.PlanRevision{Kind: models.RevisionPatch}, want: ConflictEmptyRevision},
		{name: "unknown kind", rev: models.PlanRevision{Kind: "merge"}, want: ConflictUnknownOp},
		{name: "unknown op", rev: patch(models.PatchOp{Op: "split", TaskID: "a"}), want: ConflictUnknownOp},
		{name: "unknown task", rev: patch(models.PatchOp{Op: models.OpRemove, TaskID: "nope"}), want: ConflictUnknownTask},
		{name: "insert without task", rev: patch(models.PatchOp{Op: models.OpInsert}), want: ConflictMissingTask},
		{name: "negative index", rev: patch(models.PatchOp{Op: models.OpReorder, TaskID: "a", Index: -1}), want: ConflictInvalidIndex},
		{name: "bad load", rev: patch(models.PatchOp{Op: models.OpSetLoad, TaskID: "a", Load: "extreme"}), want: ConflictInvalidLoad},
		{name: "bad status", rev: patch(models.PatchOp{Op: models.OpSetStatus, TaskID: "a", Status: "paused"}), want: ConflictInvalidStatus},
		{name: "duplicate id", rev: patch(models.PatchOp{Op: models.OpInsert, Task: dup}), want: ConflictDuplicateTaskID},
		{name: "zero duration", rev: patch(models.PatchOp{Op: models.OpInsert, Task: zero}), want: ConflictInvalidDuration},
		{name: "missing id", rev: patch(models.PatchOp{Op: models.OpInsert, Task: noID}), want: ConflictMissingTaskID},
		{
			name: "replace with bad load",
			rev: models.PlanRevision{Kind: models.RevisionReplace, Tasks: []models.Task{
				{ID: "x", Name: "X", DurationMin: 10, Load: "heavy"},
			}},
			want: ConflictInvalidLoad,
		},
	}

	v := New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, result := v.Apply(schedule(), tt.rev)
			if !result.Has(tt.want) {
				t.Errorf("conflicts = %s, want %s", result.FormatReport(), tt.want)
			}
		})
	}
}

func patch(ops ...models.PatchOp) models.PlanRevision {
	return models.PlanRevision{Kind: models.RevisionPatch, Ops: ops}
}

func TestApplyReplace(t *testing.T) {
	v := New()
	next, result := v.Apply(schedule(), models.PlanRevision{
		Kind:  models.RevisionReplace,
		Tasks: []models.Task{{ID: "x", Name: "Only", DurationMin: 25, Load: models.LoadLow}},
	})
	if result.HasConflicts() {
		t.Fatalf("unexpected conflicts: %s", result.FormatReport())
	}
	if ids(next) != "x" || next.Tasks[0].Status != models.TaskPending {
		t.Errorf("replace result = %+v", next.Tasks)
	}
}

func TestCheckBudget(t *testing.T) {
	base := schedule() // 100 remaining minutes
	grow := base.Clone()
	grow.Tasks = append(grow.Tasks, models.Task{ID: "d", DurationMin: 30, Load: models.LoadLow, Status: models.TaskPending})
	shrink := base.Clone()
	shrink.Tasks[0].Status = models.TaskSkipped

	tests := []struct {
		name      string
		after     models.Schedule
		available int
		wantErr   bool
	}{
		{name: "growth within budget", after: grow, available: 120},
		{name: "growth within tolerance", after: grow, available: 118},
		{name: "growth over budget", after: grow, available: 100, wantErr: true},
		{name: "shrink never rejected", after: shrink, available: 0},
		{name: "unchanged never rejected", after: base, available: 0},
	}

	v := New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := v.CheckBudget(base, tt.after, tt.available, 15)
			if result.Has(ConflictOverBudget) != tt.wantErr {
				t.Errorf("CheckBudget() conflicts = %s, wantErr %v", result.FormatReport(), tt.wantErr)
			}
		})
	}
}

func TestValidationResult_FormatReport(t *testing.T) {
	result := ValidationResult{}
	if got := result.FormatReport(); got != "No conflicts detected." {
		t.Errorf("FormatReport() = %q", got)
	}

	result.add(ConflictUnknownTask, "first")
	result.add(ConflictOverBudget, "second")
	report := result.FormatReport()
	if !strings.Contains(report, "- first\n") || !strings.Contains(report, "- second\n") {
		t.Errorf("FormatReport() = %q", report)
	}
	if got := result.Summary(); got != "first; second" {
		t.Errorf("Summary() = %q", got)
	}
}
