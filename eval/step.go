package eval

import (
	"fmt"
	"sort"
	"strings"
)

// StepType discriminates the behavior of a graph node.
type StepType string

// Recognized step kinds. INPUT produces values, OUTPUT is the single
// sink whose primary input is the test-case result, the rest are
// compute variants with plug-in code generation.
const (
	StepInput         StepType = "INPUT_STEP"
	StepOutput        StepType = "OUTPUT_STEP"
	StepStringMatch   StepType = "STRING_MATCH_STEP"
	StepPyRunFunction StepType = "PY_RUN_FUNCTION_STEP"
	StepLoop          StepType = "LOOP_STEP"
)

// UserInputStepID is the id of the synthesised INPUT step carrying the
// user-supplied inputs. Edges referencing node 0 bind against it.
const UserInputStepID = 0

// StepSocket is a typed port on a step. A socket may carry a literal
// default used when no incoming edge binds it.
type StepSocket struct {
	ID   string    `json:"id"`
	Data *Artifact `json:"data,omitempty"`
}

// Step is a node in a compute graph. It advertises the input sockets
// it consumes and the output sockets it produces. Kind-specific fields
// (FunctionIdentifier) are only meaningful for some step types.
type Step struct {
	ID      int          `json:"id"`
	Type    StepType     `json:"type"`
	Inputs  []StepSocket `json:"inputs"`
	Outputs []StepSocket `json:"outputs"`

	// FunctionIdentifier names the function invoked by a
	// PY_RUN_FUNCTION step.
	FunctionIdentifier string `json:"function_identifier,omitempty"`
}

// inputSocket returns the named input socket, nil when absent.
func (s *Step) inputSocket(id string) *StepSocket {
	for i := range s.Inputs {
		if s.Inputs[i].ID == id {
			return &s.Inputs[i]
		}
	}
	return nil
}

// outputSocket returns the named output socket, nil when absent.
func (s *Step) outputSocket(id string) *StepSocket {
	for i := range s.Outputs {
		if s.Outputs[i].ID == id {
			return &s.Outputs[i]
		}
	}
	return nil
}

// validateSockets enforces socket-id uniqueness within the step.
func (s *Step) validateSockets() error {
	seen := make(map[string]struct{}, len(s.Inputs)+len(s.Outputs))
	for _, sock := range append(append([]StepSocket{}, s.Inputs...), s.Outputs...) {
		if _, dup := seen[sock.ID]; dup {
			return graphInvalid("step %d: duplicate socket id %q", s.ID, sock.ID)
		}
		seen[sock.ID] = struct{}{}
	}
	return nil
}

const symbolPrefix = "var_"

// symbol derives the program identifier carrying the value produced on
// (nodeID, socketID). Socket ids may contain characters that are not
// legal in identifiers; those map to underscores. The derivation is
// deterministic, so repeated lowerings emit identical text.
func symbol(nodeID int, socketID string) string {
	var b strings.Builder
	b.WriteString(symbolPrefix)
	fmt.Fprintf(&b, "%d_", nodeID)
	for _, r := range socketID {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

// codegenInputs holds the bindings available to a step's code
// generator: program symbols for value inputs and file artifacts for
// file inputs, both keyed by input socket id.
type codegenInputs struct {
	vars  map[string]string
	files map[string]File
}

// stepCodegen emits the program fragment for one step. Fragments
// communicate only through symbols derived by symbol().
type stepCodegen func(s *Step, in codegenInputs) ([]string, error)

// stepCodegens is the plug-in table of per-kind code generators.
// Registering a new step kind means adding one entry here.
var stepCodegens = map[StepType]stepCodegen{
	StepInput:         genInput,
	StepOutput:        genOutput,
	StepStringMatch:   genStringMatch,
	StepPyRunFunction: genPyRunFunction,
	StepLoop:          genLoop,
}

// genInput assigns each primitive output its literal value. File
// outputs are not serialized; they travel as package files and are
// bound directly by downstream consumers.
func genInput(s *Step, _ codegenInputs) ([]string, error) {
	if len(s.Outputs) == 0 {
		return nil, graphInvalid("input step %d has no outputs", s.ID)
	}
	var frag []string
	for _, out := range s.Outputs {
		if out.Data == nil {
			return nil, graphInvalid("input step %d: output socket %q has no data", s.ID, out.ID)
		}
		if out.Data.IsFile() {
			continue
		}
		frag = append(frag, fmt.Sprintf("%s = %s", symbol(s.ID, out.ID), out.Data.PyLiteral()))
	}
	return frag, nil
}

// genOutput prints the value on the primary (first bound) input; the
// runner captures stdout as the test-case result artifact.
func genOutput(s *Step, in codegenInputs) ([]string, error) {
	if len(s.Inputs) == 0 {
		return nil, graphInvalid("output step %d has no inputs", s.ID)
	}
	for _, sock := range s.Inputs {
		if v, ok := in.vars[sock.ID]; ok {
			return []string{fmt.Sprintf("print(%s)", v)}, nil
		}
	}
	return nil, graphInvalid("output step %d has no bound input", s.ID)
}

// genStringMatch compares its first two inputs after string coercion.
func genStringMatch(s *Step, in codegenInputs) ([]string, error) {
	if len(s.Inputs) < 2 || len(s.Outputs) < 1 {
		return nil, graphInvalid("string match step %d needs two inputs and one output", s.ID)
	}
	lhs, lok := in.vars[s.Inputs[0].ID]
	rhs, rok := in.vars[s.Inputs[1].ID]
	if !lok || !rok {
		return nil, graphInvalid("string match step %d has unbound inputs", s.ID)
	}
	return []string{
		fmt.Sprintf("%s = str(%s) == str(%s)", symbol(s.ID, s.Outputs[0].ID), lhs, rhs),
	}, nil
}

// Socket id prefixes recognized by PY_RUN_FUNCTION steps.
const (
	pyFuncFileSocket    = "DATA.IN.FILE"
	pyFuncArgPrefix     = "DATA.IN.ARG"
	pyFuncKeywordPrefix = "DATA.IN.KWARG."
)

// genPyRunFunction imports the function named by FunctionIdentifier
// from the file bound on DATA.IN.FILE and invokes it. Positional
// arguments come from DATA.IN.ARG.* sockets in declaration order,
// keyword arguments from DATA.IN.KWARG.<name> sockets sorted by name.
func genPyRunFunction(s *Step, in codegenInputs) ([]string, error) {
	if s.FunctionIdentifier == "" {
		return nil, graphInvalid("function step %d has no function_identifier", s.ID)
	}
	file, ok := in.files[pyFuncFileSocket]
	if !ok {
		return nil, graphInvalid("function step %d has no file bound on %s", s.ID, pyFuncFileSocket)
	}
	if len(s.Outputs) < 1 {
		return nil, graphInvalid("function step %d has no output socket", s.ID)
	}

	var args []string
	for _, sock := range s.Inputs {
		if strings.HasPrefix(sock.ID, pyFuncArgPrefix) {
			v, bound := in.vars[sock.ID]
			if !bound {
				return nil, graphInvalid("function step %d: argument socket %q is unbound", s.ID, sock.ID)
			}
			args = append(args, v)
		}
	}

	var kwNames []string
	for sockID := range in.vars {
		if strings.HasPrefix(sockID, pyFuncKeywordPrefix) {
			kwNames = append(kwNames, sockID)
		}
	}
	sort.Strings(kwNames)
	for _, sockID := range kwNames {
		name := strings.TrimPrefix(sockID, pyFuncKeywordPrefix)
		args = append(args, fmt.Sprintf("%s=%s", name, in.vars[sockID]))
	}

	module := strings.TrimSuffix(file.FileName, ".py")
	return []string{
		fmt.Sprintf("from %s import %s", module, s.FunctionIdentifier),
		fmt.Sprintf("%s = %s(%s)", symbol(s.ID, s.Outputs[0].ID), s.FunctionIdentifier, strings.Join(args, ", ")),
	}, nil
}

// genLoop is registered but not implemented. Control-flow subgraphs
// are deferred until the runner supports iterative packages.
func genLoop(s *Step, _ codegenInputs) ([]string, error) {
	return nil, graphInvalid("loop step %d: loop steps are not supported", s.ID)
}
