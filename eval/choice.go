package eval

import (
	"encoding/json"
	"fmt"
)

// MultipleChoiceTask grades a single selected choice index against the
// expected index. Synchronous: Run always returns a terminal status.
type MultipleChoiceTask struct {
	TaskBase
	Question string   `json:"question"`
	Choices  []string `json:"choices"`
}

func decodeMultipleChoiceTask(raw json.RawMessage) (Task, error) {
	var t MultipleChoiceTask
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("multiple choice task: %w", err)
	}
	return &t, nil
}

// ValidateUserInput requires a single in-range choice index.
func (t *MultipleChoiceTask) ValidateUserInput(raw json.RawMessage) error {
	_, err := t.decodeIndex(raw, "user input")
	return err
}

// ValidateExpectedAnswer requires an in-range choice index.
func (t *MultipleChoiceTask) ValidateExpectedAnswer(raw json.RawMessage) error {
	if raw == nil {
		return nil
	}
	_, err := t.decodeIndex(raw, "expected answer")
	return err
}

// Run compares the selected index to the expected one.
func (t *MultipleChoiceTask) Run(userInput, expectedAnswer json.RawMessage) (TaskEvalResult, *RunnerRequest, error) {
	selected, err := t.decodeIndex(userInput, "user input")
	if err != nil {
		return TaskEvalResult{}, nil, err
	}
	expected, err := t.decodeIndex(expectedAnswer, "expected answer")
	if err != nil {
		return TaskEvalResult{}, nil, err
	}
	return TaskEvalResult{
		TaskID: t.ID,
		Status: StatusSuccess,
		Result: marshalResult(selected == expected),
	}, nil, nil
}

func (t *MultipleChoiceTask) decodeIndex(raw json.RawMessage, what string) (int, error) {
	var idx int
	if err := json.Unmarshal(raw, &idx); err != nil {
		return 0, validationFailed(t.ID, err, "%s must be a choice index", what)
	}
	if idx < 0 || idx >= len(t.Choices) {
		return 0, validationFailed(t.ID, nil, "%s index %d out of range [0, %d)", what, idx, len(t.Choices))
	}
	return idx, nil
}

// MultipleResponseResult summarizes a multiple-response grading.
type MultipleResponseResult struct {
	CorrectChoices   []int `json:"correct_choices"`
	IncorrectChoices []int `json:"incorrect_choices"`
	NumChoices       int   `json:"num_choices"`
}

// MultipleResponseTask grades a set of selected choice indices against
// the expected set.
type MultipleResponseTask struct {
	TaskBase
	Question string   `json:"question"`
	Choices  []string `json:"choices"`
}

func decodeMultipleResponseTask(raw json.RawMessage) (Task, error) {
	var t MultipleResponseTask
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("multiple response task: %w", err)
	}
	return &t, nil
}

// ValidateUserInput requires a list of in-range choice indices.
func (t *MultipleResponseTask) ValidateUserInput(raw json.RawMessage) error {
	_, err := t.decodeIndices(raw, "user input")
	return err
}

// ValidateExpectedAnswer requires a list of in-range choice indices.
func (t *MultipleResponseTask) ValidateExpectedAnswer(raw json.RawMessage) error {
	if raw == nil {
		return nil
	}
	_, err := t.decodeIndices(raw, "expected answer")
	return err
}

// Run partitions the selected indices into correct and incorrect
// against the expected set.
func (t *MultipleResponseTask) Run(userInput, expectedAnswer json.RawMessage) (TaskEvalResult, *RunnerRequest, error) {
	selected, err := t.decodeIndices(userInput, "user input")
	if err != nil {
		return TaskEvalResult{}, nil, err
	}
	expected, err := t.decodeIndices(expectedAnswer, "expected answer")
	if err != nil {
		return TaskEvalResult{}, nil, err
	}

	expectedSet := make(map[int]struct{}, len(expected))
	for _, idx := range expected {
		expectedSet[idx] = struct{}{}
	}

	result := MultipleResponseResult{
		CorrectChoices:   []int{},
		IncorrectChoices: []int{},
		NumChoices:       len(expected),
	}
	for _, idx := range selected {
		if _, ok := expectedSet[idx]; ok {
			result.CorrectChoices = append(result.CorrectChoices, idx)
		} else {
			result.IncorrectChoices = append(result.IncorrectChoices, idx)
		}
	}

	return TaskEvalResult{
		TaskID: t.ID,
		Status: StatusSuccess,
		Result: marshalResult(result),
	}, nil, nil
}

func (t *MultipleResponseTask) decodeIndices(raw json.RawMessage, what string) ([]int, error) {
	var indices []int
	if err := json.Unmarshal(raw, &indices); err != nil {
		return nil, validationFailed(t.ID, err, "%s must be a list of choice indices", what)
	}
	seen := make(map[int]struct{}, len(indices))
	for _, idx := range indices {
		if idx < 0 || idx >= len(t.Choices) {
			return nil, validationFailed(t.ID, nil, "%s index %d out of range [0, %d)", what, idx, len(t.Choices))
		}
		if _, dup := seen[idx]; dup {
			return nil, validationFailed(t.ID, nil, "%s contains duplicate index %d", what, idx)
		}
		seen[idx] = struct{}{}
	}
	return indices, nil
}
