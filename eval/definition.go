package eval

import (
	"encoding/json"
	"fmt"
)

// Definition is the authored contest: a named, immutable collection of
// heterogeneous tasks. Task ids are unique within a definition.
type Definition struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Tasks       []Task `json:"tasks"`
}

// UserInput is one submitted answer, addressed to a task by id.
type UserInput struct {
	TaskID int             `json:"task_id"`
	Value  json.RawMessage `json:"value"`
}

// ExpectedAnswer is the authored answer for one task.
type ExpectedAnswer struct {
	TaskID int             `json:"task_id"`
	Value  json.RawMessage `json:"expected_answer"`
}

// UnmarshalJSON decodes the heterogeneous task list through the task
// registry and enforces task-id uniqueness.
func (d *Definition) UnmarshalJSON(data []byte) error {
	var wire struct {
		ID          int               `json:"id"`
		Name        string            `json:"name"`
		Description string            `json:"description"`
		Tasks       []json.RawMessage `json:"tasks"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	tasks := make([]Task, 0, len(wire.Tasks))
	seen := make(map[int]struct{}, len(wire.Tasks))
	for _, raw := range wire.Tasks {
		task, err := DecodeTask(raw)
		if err != nil {
			return err
		}
		if _, dup := seen[task.TaskID()]; dup {
			return fmt.Errorf("definition %d: duplicate task id %d", wire.ID, task.TaskID())
		}
		seen[task.TaskID()] = struct{}{}
		tasks = append(tasks, task)
	}

	d.ID = wire.ID
	d.Name = wire.Name
	d.Description = wire.Description
	d.Tasks = tasks
	return nil
}

// TaskIndex returns tasks keyed by id.
func (d *Definition) TaskIndex() map[int]Task {
	index := make(map[int]Task, len(d.Tasks))
	for _, t := range d.Tasks {
		index[t.TaskID()] = t
	}
	return index
}
