package coach

import (
	"github.com/google/uuid"

	"github.com/julianstephens/guardian/internal/constants"
	"github.com/julianstephens/guardian/internal/models"
)

func loadRank(l models.LoadTag) int {
	switch l {
	case models.LoadHigh:
		return 2
	case models.LoadMedium:
		return 1
	}
	return 0
}

// buildRevision turns an accepted intervention into a patch against the
// current schedule. small selects the reduced variant used after a
// rejection. ok is false when the schedule offers nothing to change.
func buildRevision(kind models.InterventionKind, s models.Schedule, breakMin int, small bool) (models.PlanRevision, bool) {
	var ops []models.PatchOp
	switch kind {
	case models.InterventionMicroBreak:
		ops = microBreak(s, breakMin, small)
	case models.InterventionTaskSwap:
		if small {
			ops = reduceLoad(s, true)
		} else {
			ops = swapLighter(s)
		}
	case models.InterventionLoadReduction:
		ops = reduceLoad(s, small)
	}
	if len(ops) == 0 {
		return models.PlanRevision{}, false
	}
	return models.PlanRevision{
		Kind:   models.RevisionPatch,
		Ops:    ops,
		Reason: string(kind),
		Status: models.RevisionRequested,
	}, true
}

func firstRemaining(s models.Schedule) int {
	for i, t := range s.Tasks {
		if t.Remaining() {
			return i
		}
	}
	return -1
}

// microBreak inserts a break ahead of the next remaining task.
func microBreak(s models.Schedule, breakMin int, small bool) []models.PatchOp {
	minutes := breakMin
	if small {
		minutes = max(breakMin/2, constants.MinBreakMin)
		if minutes >= breakMin {
			return nil
		}
	}
	idx := firstRemaining(s)
	if idx < 0 {
		idx = len(s.Tasks)
	}
	return []models.PatchOp{{
		Op:    models.OpInsert,
		Index: idx,
		Task: &models.Task{
			ID:          "break-" + uuid.NewString(),
			Name:        "Micro break",
			Category:    constants.BreakCategory,
			DurationMin: minutes,
			Load:        models.LoadLow,
			Status:      models.TaskPending,
		},
	}}
}

// swapLighter moves the first lighter remaining task ahead of the current one.
func swapLighter(s models.Schedule) []models.PatchOp {
	cur := firstRemaining(s)
	if cur < 0 {
		return nil
	}
	rank := loadRank(s.Tasks[cur].Load)
	for j := cur + 1; j < len(s.Tasks); j++ {
		t := s.Tasks[j]
		if t.Remaining() && loadRank(t.Load) < rank {
			return []models.PatchOp{{Op: models.OpReorder, TaskID: t.ID, Index: cur}}
		}
	}
	return nil
}

// reduceLoad downgrades remaining high-load tasks to medium, or only the
// first one when small is set. Without high-load tasks the first medium
// task drops to low.
func reduceLoad(s models.Schedule, small bool) []models.PatchOp {
	var ops []models.PatchOp
	for _, t := range s.Tasks {
		if t.Remaining() && t.Load == models.LoadHigh {
			ops = append(ops, models.PatchOp{Op: models.OpSetLoad, TaskID: t.ID, Load: models.LoadMedium})
			if small {
				break
			}
		}
	}
	if len(ops) > 0 {
		return ops
	}
	for _, t := range s.Tasks {
		if t.Remaining() && t.Load == models.LoadMedium {
			return []models.PatchOp{{Op: models.OpSetLoad, TaskID: t.ID, Load: models.LoadLow}}
		}
	}
	return nil
}
