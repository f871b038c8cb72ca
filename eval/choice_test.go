package eval

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestMultipleChoiceTask(t *testing.T) {
	task := &MultipleChoiceTask{
		TaskBase: TaskBase{ID: 1, Type: TaskMultipleChoice, Autograde: true},
		Question: "pick one",
		Choices:  []string{"a", "b", "c"},
	}

	t.Run("correct choice", func(t *testing.T) {
		result, req, err := task.Run(json.RawMessage(`1`), json.RawMessage(`1`))
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if req != nil {
			t.Error("synchronous task returned a runner request")
		}
		if result.Status != StatusSuccess || string(result.Result) != "true" {
			t.Errorf("result = %s %s, want SUCCESS true", result.Status, result.Result)
		}
	})

	t.Run("wrong choice still succeeds", func(t *testing.T) {
		result, _, err := task.Run(json.RawMessage(`0`), json.RawMessage(`1`))
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if result.Status != StatusSuccess || string(result.Result) != "false" {
			t.Errorf("result = %s %s, want SUCCESS false", result.Status, result.Result)
		}
	})

	t.Run("out of range input", func(t *testing.T) {
		err := task.ValidateUserInput(json.RawMessage(`3`))
		if !errors.Is(err, ErrValidationFailed) {
			t.Errorf("error %v does not match ErrValidationFailed", err)
		}
	})

	t.Run("non-numeric input", func(t *testing.T) {
		err := task.ValidateUserInput(json.RawMessage(`"b"`))
		if !errors.Is(err, ErrValidationFailed) {
			t.Errorf("error %v does not match ErrValidationFailed", err)
		}
	})
}

func TestMultipleResponseTask(t *testing.T) {
	task := &MultipleResponseTask{
		TaskBase: TaskBase{ID: 2, Type: TaskMultipleResponse, Autograde: true},
		Question: "pick all that apply",
		Choices:  []string{"a", "b", "c", "d"},
	}

	t.Run("partitions selections", func(t *testing.T) {
		result, req, err := task.Run(json.RawMessage(`[0,2,3]`), json.RawMessage(`[0,1,3]`))
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if req != nil {
			t.Error("synchronous task returned a runner request")
		}
		if result.Status != StatusSuccess {
			t.Fatalf("status = %s, want SUCCESS", result.Status)
		}

		var got MultipleResponseResult
		if err := json.Unmarshal(result.Result, &got); err != nil {
			t.Fatalf("unmarshal result: %v", err)
		}
		want := MultipleResponseResult{
			CorrectChoices:   []int{0, 3},
			IncorrectChoices: []int{2},
			NumChoices:       3,
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("grading mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("duplicate selection rejected", func(t *testing.T) {
		err := task.ValidateUserInput(json.RawMessage(`[1,1]`))
		if !errors.Is(err, ErrValidationFailed) {
			t.Errorf("error %v does not match ErrValidationFailed", err)
		}
	})

	t.Run("out of range selection rejected", func(t *testing.T) {
		err := task.ValidateUserInput(json.RawMessage(`[4]`))
		if !errors.Is(err, ErrValidationFailed) {
			t.Errorf("error %v does not match ErrValidationFailed", err)
		}
	})
}

func TestShortAnswerTask(t *testing.T) {
	t.Run("autograded compare", func(t *testing.T) {
		task := &ShortAnswerTask{
			TaskBase: TaskBase{ID: 3, Type: TaskShortAnswer, Autograde: true},
			Question: "q",
		}
		result, _, err := task.Run(json.RawMessage(`"42"`), json.RawMessage(`"42"`))
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if result.Status != StatusSuccess || string(result.Result) != "true" {
			t.Errorf("result = %s %s, want SUCCESS true", result.Status, result.Result)
		}
	})

	t.Run("manual grading skips", func(t *testing.T) {
		task := &ShortAnswerTask{
			TaskBase: TaskBase{ID: 3, Type: TaskShortAnswer, Autograde: false},
			Question: "q",
		}
		result, req, err := task.Run(json.RawMessage(`"essay"`), nil)
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if req != nil {
			t.Error("skipped task returned a runner request")
		}
		if result.Status != StatusSkipped {
			t.Errorf("status = %s, want SKIPPED", result.Status)
		}
	})

	t.Run("autograded without expected answer", func(t *testing.T) {
		task := &ShortAnswerTask{
			TaskBase: TaskBase{ID: 3, Type: TaskShortAnswer, Autograde: true},
			Question: "q",
		}
		err := task.ValidateExpectedAnswer(nil)
		if !errors.Is(err, ErrValidationFailed) {
			t.Errorf("error %v does not match ErrValidationFailed", err)
		}
	})
}
