package eval

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// Entrypoint is the file name of the assembled program within every
// runner package.
const Entrypoint = "__entrypoint.py"

// RunnerEnvironment describes the sandbox the runner must provide.
type RunnerEnvironment struct {
	Language    string         `json:"language"`
	TimeLimit   int            `json:"time_limit"`   // seconds
	MemoryLimit int            `json:"memory_limit"` // MB
	ExtraOpts   map[string]any `json:"extra_options,omitempty"`
}

// RunnerPackage is one self-contained executable unit: the assembled
// entrypoint plus every file the test case references.
type RunnerPackage struct {
	ID         int    `json:"id"`
	Entrypoint string `json:"entrypoint"`
	Files      []File `json:"files"`
}

// RunnerRequest is the envelope published to the runner. SubmissionID
// is the correlation key joining the eventual reply back to the
// pending task result.
type RunnerRequest struct {
	SubmissionID string            `json:"submission_id"`
	Environment  RunnerEnvironment `json:"environment"`
	Packages     []RunnerPackage   `json:"packages"`
}

// RequiredInput declares one input a programming task expects from the
// user: a primitive value or a file.
type RequiredInput struct {
	ID   string   `json:"id"`
	Data Artifact `json:"data"`
}

// Testcase is a compute graph evaluated as one runner package.
type Testcase struct {
	ID           int `json:"id"`
	ComputeGraph     // nodes, edges
}

// ProgrammingTask is the asynchronous task variant: each test case is
// lowered into a runner package, all packages ship in one runner
// request, and the task result stays PENDING until the listener
// reconciles the runner's reply.
type ProgrammingTask struct {
	TaskBase
	Question       string            `json:"question"`
	Environment    RunnerEnvironment `json:"environment"`
	RequiredInputs []RequiredInput   `json:"required_inputs"`
	Testcases      []Testcase        `json:"testcases"`
}

func decodeProgrammingTask(raw json.RawMessage) (Task, error) {
	var t ProgrammingTask
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("programming task: %w", err)
	}
	return &t, nil
}

// ValidateUserInput checks the input decodes as a list of required
// inputs and that every declared required input is present with data
// of the declared kind.
func (t *ProgrammingTask) ValidateUserInput(raw json.RawMessage) error {
	inputs, err := t.decodeUserInputs(raw)
	if err != nil {
		return err
	}
	return t.checkRequired(inputs)
}

// ValidateExpectedAnswer accepts anything: grading happens in the
// runner, which receives the expected outputs as part of the graph.
func (t *ProgrammingTask) ValidateExpectedAnswer(json.RawMessage) error { return nil }

// Run assembles one runner package per test case and wraps them in a
// single RunnerRequest carrying a fresh correlation id. The request is
// returned, not published; the orchestrator dispatches it only after
// the PENDING task result is durably committed.
func (t *ProgrammingTask) Run(userInput, _ json.RawMessage) (TaskEvalResult, *RunnerRequest, error) {
	inputs, err := t.decodeUserInputs(userInput)
	if err != nil {
		return TaskEvalResult{}, nil, err
	}
	if err := t.checkRequired(inputs); err != nil {
		return TaskEvalResult{}, nil, err
	}

	inputStep := t.userInputStep(inputs)

	var userFiles []File
	for _, in := range inputs {
		if in.Data.IsFile() {
			userFiles = append(userFiles, in.Data.File)
		}
	}

	packages := make([]RunnerPackage, 0, len(t.Testcases))
	for _, tc := range t.Testcases {
		lowered, _, err := tc.Lower(inputStep)
		if err != nil {
			return TaskEvalResult{}, nil, err
		}

		files, err := mergeFiles(
			userFiles,
			lowered.Files,
			[]File{{FileName: Entrypoint, Content: lowered.Text}},
		)
		if err != nil {
			return TaskEvalResult{}, nil, err
		}

		packages = append(packages, RunnerPackage{
			ID:         tc.ID,
			Entrypoint: Entrypoint,
			Files:      files,
		})
	}

	req := &RunnerRequest{
		SubmissionID: uuid.NewString(),
		Environment:  t.Environment,
		Packages:     packages,
	}

	return TaskEvalResult{
		TaskID: t.ID,
		Status: StatusPending,
		Result: marshalResult(req.SubmissionID),
	}, req, nil
}

// userInputStep synthesises the INPUT step with id 0 whose outputs are
// the user-supplied inputs, one socket per required input.
func (t *ProgrammingTask) userInputStep(inputs []RequiredInput) Step {
	outputs := make([]StepSocket, 0, len(inputs))
	for _, in := range inputs {
		data := in.Data
		outputs = append(outputs, StepSocket{ID: in.ID, Data: &data})
	}
	return Step{
		ID:      UserInputStepID,
		Type:    StepInput,
		Outputs: outputs,
	}
}

func (t *ProgrammingTask) decodeUserInputs(raw json.RawMessage) ([]RequiredInput, error) {
	var inputs []RequiredInput
	if err := json.Unmarshal(raw, &inputs); err != nil {
		return nil, validationFailed(t.ID, err, "user input must be a list of {id, data} entries")
	}
	return inputs, nil
}

// checkRequired verifies every declared required input is supplied
// with the declared kind.
func (t *ProgrammingTask) checkRequired(inputs []RequiredInput) error {
	supplied := make(map[string]Artifact, len(inputs))
	for _, in := range inputs {
		supplied[in.ID] = in.Data
	}
	for _, req := range t.RequiredInputs {
		data, ok := supplied[req.ID]
		if !ok {
			return missingInput(t.ID, "required input %q not provided", req.ID)
		}
		if data.Kind != req.Data.Kind {
			return missingInput(t.ID, "required input %q: expected %s, got %s", req.ID, req.Data.Kind, data.Kind)
		}
	}
	return nil
}

// mergeFiles combines file sets into one package file list, sorted by
// name. Equal duplicates collapse; same name with differing content is
// a package-assembly failure.
func mergeFiles(sets ...[]File) ([]File, error) {
	byName := make(map[string]File)
	for _, set := range sets {
		for _, f := range set {
			if prev, ok := byName[f.FileName]; ok {
				if prev.Content != f.Content {
					return nil, graphInvalid("conflicting contents for file %q in package", f.FileName)
				}
				continue
			}
			byName[f.FileName] = f
		}
	}

	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)

	files := make([]File, 0, len(names))
	for _, name := range names {
		files = append(files, byName[name])
	}
	return files, nil
}
