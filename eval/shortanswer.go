package eval

import (
	"encoding/json"
	"fmt"
)

// ShortAnswerTask grades a free-text answer by exact string compare.
// With autograde disabled the task short-circuits to SKIPPED and is
// graded manually outside the core.
type ShortAnswerTask struct {
	TaskBase
	Question string `json:"question"`
}

func decodeShortAnswerTask(raw json.RawMessage) (Task, error) {
	var t ShortAnswerTask
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("short answer task: %w", err)
	}
	return &t, nil
}

// ValidateUserInput requires a string.
func (t *ShortAnswerTask) ValidateUserInput(raw json.RawMessage) error {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return validationFailed(t.ID, err, "user input must be a string")
	}
	return nil
}

// ValidateExpectedAnswer requires a string when present. An autograded
// short-answer task without an expected answer cannot be graded.
func (t *ShortAnswerTask) ValidateExpectedAnswer(raw json.RawMessage) error {
	if raw == nil {
		if t.Autograde {
			return validationFailed(t.ID, nil, "autograded short answer task needs an expected answer")
		}
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return validationFailed(t.ID, err, "expected answer must be a string")
	}
	return nil
}

// Run compares answer and expected answer, or skips when autograding
// is disabled.
func (t *ShortAnswerTask) Run(userInput, expectedAnswer json.RawMessage) (TaskEvalResult, *RunnerRequest, error) {
	if !t.Autograde {
		return TaskEvalResult{TaskID: t.ID, Status: StatusSkipped}, nil, nil
	}

	var answer string
	if err := json.Unmarshal(userInput, &answer); err != nil {
		return TaskEvalResult{}, nil, validationFailed(t.ID, err, "user input must be a string")
	}
	var expected string
	if err := json.Unmarshal(expectedAnswer, &expected); err != nil {
		return TaskEvalResult{}, nil, validationFailed(t.ID, err, "expected answer must be a string")
	}

	return TaskEvalResult{
		TaskID: t.ID,
		Status: StatusSuccess,
		Result: marshalResult(answer == expected),
	}, nil, nil
}
