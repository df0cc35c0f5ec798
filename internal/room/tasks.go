package room

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/masc-run/masc/internal/masc"
)

// AddTask appends a new Todo task to the backlog. The id must be unique;
// re-adding an existing id reports AlreadyExists.
func (r *Room) AddTask(ctx context.Context, id, title string, priority int) (*Task, error) {
	if err := r.requireInit(ctx); err != nil {
		return nil, err
	}
	if err := validateAgentAndTask("", id); err != nil {
		return nil, err
	}

	var out *Task
	err := r.withNamedLock(ctx, backlogKey, func(ctx context.Context) error {
		bl, err := r.getBacklog(ctx)
		if err != nil {
			return err
		}
		if _, exists := bl.Tasks[id]; exists {
			return masc.AlreadyExists("task", id)
		}
		t := &Task{ID: id, Title: title, Priority: priority, Status: TaskTodo, CreatedAt: time.Now().UTC()}
		bl.Tasks[id] = t
		out = t
		return r.putBacklog(ctx, bl)
	})
	if err != nil {
		return nil, err
	}
	r.recordEvent("task_added", map[string]any{"task": id})
	return out, nil
}

// GetTask returns a single backlog entry.
func (r *Room) GetTask(ctx context.Context, id string) (*Task, error) {
	if err := r.requireInit(ctx); err != nil {
		return nil, err
	}
	bl, err := r.getBacklog(ctx)
	if err != nil {
		return nil, err
	}
	t, ok := bl.Tasks[id]
	if !ok {
		return nil, masc.New(masc.CodeTaskNotFound, "task not found").WithContext("id", id)
	}
	return t, nil
}

// ListTasks returns the full backlog ordered by descending priority then
// ascending creation time, matching the order claim_next consumes.
func (r *Room) ListTasks(ctx context.Context) ([]*Task, error) {
	if err := r.requireInit(ctx); err != nil {
		return nil, err
	}
	bl, err := r.getBacklog(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*Task, 0, len(bl.Tasks))
	for _, t := range bl.Tasks {
		out = append(out, t)
	}
	sortTasks(out)
	return out, nil
}

func sortTasks(tasks []*Task) {
	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].Priority != tasks[j].Priority {
			return tasks[i].Priority > tasks[j].Priority
		}
		return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
	})
}

// Claim assigns the highest-priority Todo task to agent, or a specific
// task id when id is non-empty. Concurrent claims on the same task race
// on the backlog's named lock; exactly one caller wins, the rest observe
// TaskClaimed (spec §4.3, §8's "concurrent claim" property).
func (r *Room) Claim(ctx context.Context, agent, id string) (*Task, error) {
	if err := r.requireInit(ctx); err != nil {
		return nil, err
	}
	if err := validateAgentAndTask(agent, ""); err != nil {
		return nil, err
	}

	var out *Task
	err := r.withNamedLock(ctx, backlogKey, func(ctx context.Context) error {
		bl, err := r.getBacklog(ctx)
		if err != nil {
			return err
		}

		var t *Task
		if id != "" {
			found, ok := bl.Tasks[id]
			if !ok {
				return masc.New(masc.CodeTaskNotFound, "task not found").WithContext("id", id)
			}
			t = found
		} else {
			candidates := make([]*Task, 0, len(bl.Tasks))
			for _, c := range bl.Tasks {
				if c.Status == TaskTodo {
					candidates = append(candidates, c)
				}
			}
			sortTasks(candidates)
			if len(candidates) == 0 {
				return masc.New(masc.CodeTaskNotFound, "no unclaimed tasks in backlog")
			}
			t = candidates[0]
		}

		if t.Status != TaskTodo {
			return masc.TaskClaimed(t.By)
		}
		now := time.Now().UTC()
		t.Status = TaskClaimed
		t.By = agent
		t.ClaimedAt = &now
		out = t
		return r.putBacklog(ctx, bl)
	})
	if err != nil {
		return nil, err
	}
	r.recordEvent("task_claimed", map[string]any{"task": out.ID, "agent": agent})
	return out, nil
}

// Release returns a claimed task to Todo. Only the current owner may
// release it.
func (r *Room) Release(ctx context.Context, agent, id string) (*Task, error) {
	return r.transition(ctx, agent, id, func(t *Task) error {
		if t.Status != TaskClaimed && t.Status != TaskInProgress {
			return masc.InvalidTransition(string(t.Status), string(TaskTodo))
		}
		if t.By != agent {
			return masc.NotOwner(t.By, agent)
		}
		t.Status = TaskTodo
		t.By = ""
		t.ClaimedAt = nil
		t.StartedAt = nil
		return nil
	}, "task_released")
}

// Start transitions a claimed task to InProgress.
func (r *Room) Start(ctx context.Context, agent, id string) (*Task, error) {
	return r.transition(ctx, agent, id, func(t *Task) error {
		if t.Status != TaskClaimed {
			return masc.InvalidTransition(string(t.Status), string(TaskInProgress))
		}
		if t.By != agent {
			return masc.NotOwner(t.By, agent)
		}
		now := time.Now().UTC()
		t.Status = TaskInProgress
		t.StartedAt = &now
		return nil
	}, "task_started")
}

// Done completes an in-progress task, recording an optional note.
func (r *Room) Done(ctx context.Context, agent, id, notes string) (*Task, error) {
	return r.transition(ctx, agent, id, func(t *Task) error {
		if t.Status != TaskInProgress {
			return masc.InvalidTransition(string(t.Status), string(TaskDone))
		}
		if t.By != agent {
			return masc.NotOwner(t.By, agent)
		}
		now := time.Now().UTC()
		t.Status = TaskDone
		t.CompletedAt = &now
		t.Notes = notes
		return nil
	}, "task_done")
}

// Cancel moves any non-terminal task to Cancelled. Unlike the other
// transitions, any agent (not just the owner) may cancel, matching the
// spec's "Cancelled is reachable from any non-terminal state".
func (r *Room) Cancel(ctx context.Context, id string) (*Task, error) {
	return r.transition(ctx, "", id, func(t *Task) error {
		if t.Status.terminal() {
			return masc.InvalidTransition(string(t.Status), string(TaskCancelled))
		}
		t.Status = TaskCancelled
		return nil
	}, "task_cancelled")
}

func (r *Room) transition(ctx context.Context, agent, id string, mutate func(*Task) error, eventType string) (*Task, error) {
	if err := r.requireInit(ctx); err != nil {
		return nil, err
	}
	if err := validateAgentAndTask("", id); err != nil {
		return nil, err
	}

	var out *Task
	err := r.withNamedLock(ctx, backlogKey, func(ctx context.Context) error {
		bl, err := r.getBacklog(ctx)
		if err != nil {
			return err
		}
		t, ok := bl.Tasks[id]
		if !ok {
			return masc.New(masc.CodeTaskNotFound, "task not found").WithContext("id", id)
		}
		if err := mutate(t); err != nil {
			return err
		}
		out = t
		return r.putBacklog(ctx, bl)
	})
	if err != nil {
		return nil, err
	}
	r.recordEvent(eventType, map[string]any{"task": id, "agent": agent})
	return out, nil
}

func (r *Room) getBacklog(ctx context.Context) (*backlog, error) {
	raw, found, err := r.backend.Get(ctx, backlogKey)
	if err != nil {
		return nil, err
	}
	if !found {
		return &backlog{Tasks: map[string]*Task{}}, nil
	}
	var bl backlog
	if err := json.Unmarshal(raw, &bl); err != nil {
		return nil, masc.IoError("decode backlog", err)
	}
	if bl.Tasks == nil {
		bl.Tasks = map[string]*Task{}
	}
	return &bl, nil
}

func (r *Room) putBacklog(ctx context.Context, bl *backlog) error {
	raw, err := json.Marshal(bl)
	if err != nil {
		return masc.IoError("marshal backlog", err)
	}
	return r.backend.Set(ctx, backlogKey, raw)
}
