package validation

import (
	"fmt"
	"strings"

	"github.com/julianstephens/guardian/internal/models"
)

// ConflictType represents the type of validation conflict
type ConflictType string

const (
	ConflictEmptyRevision   ConflictType = "empty_revision"
	ConflictUnknownOp       ConflictType = "unknown_op"
	ConflictUnknownTask     ConflictType = "unknown_task"
	ConflictMissingTask     ConflictType = "missing_task"
	ConflictDuplicateTaskID ConflictType = "duplicate_task_id"
	ConflictMissingTaskID   ConflictType = "missing_task_id"
	ConflictInvalidIndex    ConflictType = "invalid_index"
	ConflictInvalidLoad     ConflictType = "invalid_load"
	ConflictInvalidStatus   ConflictType = "invalid_status"
	ConflictInvalidDuration ConflictType = "invalid_duration"
	ConflictOverBudget      ConflictType = "over_budget"
)

// Conflict represents one problem found in a revision or schedule
type Conflict struct {
	Type        ConflictType
	Description string
	TaskIDs     []string
}

// ValidationResult contains all detected conflicts
type ValidationResult struct {
	Conflicts []Conflict
}

// HasConflicts returns true if there are any conflicts
func (vr *ValidationResult) HasConflicts() bool {
	return len(vr.Conflicts) > 0
}

// Has reports whether a conflict of type t was found.
func (vr *ValidationResult) Has(t ConflictType) bool {
	for _, c := range vr.Conflicts {
		if c.Type == t {
			return true
		}
	}
	return false
}

func (vr *ValidationResult) add(t ConflictType, format string, args ...any) {
	vr.Conflicts = append(vr.Conflicts, Conflict{Type: t, Description: fmt.Sprintf(format, args...)})
}

func (vr *ValidationResult) addTask(t ConflictType, id string, format string, args ...any) {
	vr.Conflicts = append(vr.Conflicts, Conflict{Type: t, Description: fmt.Sprintf(format, args...), TaskIDs: []string{id}})
}

// FormatReport returns a human-readable report of all conflicts
func (vr *ValidationResult) FormatReport() string {
	if !vr.HasConflicts() {
		return "No conflicts detected."
	}

	var b strings.Builder
	b.WriteString("Conflicts detected:\n")
	for _, c := range vr.Conflicts {
		fmt.Fprintf(&b, "- %s\n", c.Description)
	}
	return b.String()
}

// Summary joins conflict descriptions on one line for rejection reasons.
func (vr *ValidationResult) Summary() string {
	parts := make([]string, len(vr.Conflicts))
	for i, c := range vr.Conflicts {
		parts[i] = c.Description
	}
	return strings.Join(parts, "; ")
}

// Validator checks plan revisions before they are applied
type Validator struct{}

// New creates a new Validator
func New() *Validator {
	return &Validator{}
}

// Apply builds the schedule that results from applying rev to current.
// current is never modified. The returned schedule is only meaningful
// when the result has no conflicts.
func (v *Validator) Apply(current models.Schedule, rev models.PlanRevision) (models.Schedule, ValidationResult) {
	result := ValidationResult{}
	next := current.Clone()

	switch rev.Kind {
	case models.RevisionReplace:
		next.Tasks = make([]models.Task, len(rev.Tasks))
		copy(next.Tasks, rev.Tasks)
		for i := range next.Tasks {
			if next.Tasks[i].Status == "" {
				next.Tasks[i].Status = models.TaskPending
			}
		}
	case models.RevisionPatch:
		if len(rev.Ops) == 0 {
			result.add(ConflictEmptyRevision, "Patch revision has no operations")
			return current, result
		}
		for i, op := range rev.Ops {
			next.Tasks = applyOp(next.Tasks, i, op, &result)
		}
	default:
		result.add(ConflictUnknownOp, "Unknown revision kind: %q", rev.Kind)
		return current, result
	}

	structural := v.ValidateSchedule(next)
	result.Conflicts = append(result.Conflicts, structural.Conflicts...)
	return next, result
}

func applyOp(tasks []models.Task, n int, op models.PatchOp, result *ValidationResult) []models.Task {
	find := func() int {
		for i, t := range tasks {
			if t.ID == op.TaskID {
				return i
			}
		}
		result.addTask(ConflictUnknownTask, op.TaskID, "Op %d (%s): unknown task %q", n, op.Op, op.TaskID)
		return -1
	}

	switch op.Op {
	case models.OpInsert:
		if op.Task == nil {
			result.add(ConflictMissingTask, "Op %d (insert): no task given", n)
			return tasks
		}
		if op.Index < 0 {
			result.add(ConflictInvalidIndex, "Op %d (insert): negative index %d", n, op.Index)
			return tasks
		}
		t := *op.Task
		if t.Status == "" {
			t.Status = models.TaskPending
		}
		idx := min(op.Index, len(tasks))
		return append(tasks[:idx], append([]models.Task{t}, tasks[idx:]...)...)

	case models.OpRemove:
		if i := find(); i >= 0 {
			return append(tasks[:i], tasks[i+1:]...)
		}

	case models.OpReorder:
		if op.Index < 0 {
			result.add(ConflictInvalidIndex, "Op %d (reorder): negative index %d", n, op.Index)
			return tasks
		}
		if i := find(); i >= 0 {
			t := tasks[i]
			rest := append(tasks[:i:i], tasks[i+1:]...)
			idx := min(op.Index, len(rest))
			return append(rest[:idx], append([]models.Task{t}, rest[idx:]...)...)
		}

	case models.OpSetLoad:
		if !op.Load.Valid() {
			result.add(ConflictInvalidLoad, "Op %d (set_load): invalid load %q", n, op.Load)
			return tasks
		}
		if i := find(); i >= 0 {
			tasks[i].Load = op.Load
		}

	case models.OpSetStatus:
		if !op.Status.Valid() {
			result.add(ConflictInvalidStatus, "Op %d (set_status): invalid status %q", n, op.Status)
			return tasks
		}
		if i := find(); i >= 0 {
			tasks[i].Status = op.Status
		}

	default:
		result.add(ConflictUnknownOp, "Op %d: unknown operation %q", n, op.Op)
	}
	return tasks
}

// ValidateSchedule checks the tasks of a schedule for structural problems.
func (v *Validator) ValidateSchedule(s models.Schedule) ValidationResult {
	result := ValidationResult{}
	seen := make(map[string]bool, len(s.Tasks))

	for _, t := range s.Tasks {
		if t.ID == "" {
			result.add(ConflictMissingTaskID, "Task %q has no id", t.Name)
			continue
		}
		if seen[t.ID] {
			result.addTask(ConflictDuplicateTaskID, t.ID, "Duplicate task id: %s", t.ID)
		}
		seen[t.ID] = true

		if t.DurationMin <= 0 {
			result.addTask(ConflictInvalidDuration, t.ID, "Task %s: duration must be positive (got %d)", t.ID, t.DurationMin)
		}
		if !t.Load.Valid() {
			result.addTask(ConflictInvalidLoad, t.ID, "Task %s: invalid load %q", t.ID, t.Load)
		}
		if !t.Status.Valid() {
			result.addTask(ConflictInvalidStatus, t.ID, "Task %s: invalid status %q", t.ID, t.Status)
		}
	}
	return result
}

// CheckBudget rejects a schedule whose remaining work exceeds the
// available minutes plus tolerance. A revision that does not add remaining
// work is always within budget, so a session that is already over can
// still be trimmed.
func (v *Validator) CheckBudget(before, after models.Schedule, availableMin, toleranceMin int) ValidationResult {
	result := ValidationResult{}
	remaining := after.RemainingMinutes()
	if remaining <= before.RemainingMinutes() {
		return result
	}
	if remaining > availableMin+toleranceMin {
		result.add(ConflictOverBudget,
			"Remaining work of %d min exceeds the %d min left in the session (tolerance %d min)",
			remaining, availableMin, toleranceMin)
	}
	return result
}
