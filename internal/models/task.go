package models

import "time"

type LoadTag string

const (
	LoadHigh   LoadTag = "high"
	LoadMedium LoadTag = "medium"
	LoadLow    LoadTag = "low"
)

// Valid reports whether l is one of the known load tags.
func (l LoadTag) Valid() bool {
	switch l {
	case LoadHigh, LoadMedium, LoadLow:
		return true
	}
	return false
}

type TaskStatus string

const (
	TaskPending TaskStatus = "pending"
	TaskActive  TaskStatus = "active"
	TaskSkipped TaskStatus = "skipped"
	TaskDone    TaskStatus = "done"
)

func (s TaskStatus) Valid() bool {
	switch s {
	case TaskPending, TaskActive, TaskSkipped, TaskDone:
		return true
	}
	return false
}

type Task struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Category    string     `json:"category"`
	DurationMin int        `json:"duration_min"`
	Load        LoadTag    `json:"load"`
	Status      TaskStatus `json:"status"`
}

// Remaining reports whether the task still needs work in this session.
func (t Task) Remaining() bool {
	return t.Status == TaskPending || t.Status == TaskActive
}

// Schedule is the ordered task list of one session. Order is execution order.
type Schedule struct {
	Revision  int       `json:"revision"`
	Tasks     []Task    `json:"tasks"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy so callers never share the backing array.
func (s Schedule) Clone() Schedule {
	out := s
	out.Tasks = make([]Task, len(s.Tasks))
	copy(out.Tasks, s.Tasks)
	return out
}

// RemainingMinutes sums the estimated duration of pending and active tasks.
func (s Schedule) RemainingMinutes() int {
	total := 0
	for _, t := range s.Tasks {
		if t.Remaining() {
			total += t.DurationMin
		}
	}
	return total
}

// RemainingWithLoad counts pending and active tasks carrying the given load tag.
func (s Schedule) RemainingWithLoad(load LoadTag) int {
	n := 0
	for _, t := range s.Tasks {
		if t.Remaining() && t.Load == load {
			n++
		}
	}
	return n
}

// IndexOf returns the position of the task with the given id, or -1.
func (s Schedule) IndexOf(id string) int {
	for i, t := range s.Tasks {
		if t.ID == id {
			return i
		}
	}
	return -1
}
