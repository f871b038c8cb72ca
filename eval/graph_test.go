package eval

import (
	"errors"
	"strings"
	"testing"
)

// testUserInput is the synthesised step carrying the submitted answer,
// wired as node 0.
func testUserInput(sockets ...StepSocket) Step {
	if len(sockets) == 0 {
		answer := IntValue(5)
		sockets = []StepSocket{{ID: "answer", Data: &answer}}
	}
	return Step{ID: UserInputStepID, Type: StepInput, Outputs: sockets}
}

// matchGraph wires user input against a literal through a string match:
// 0.answer and 1.expected feed 2, whose verdict feeds the output 3.
func matchGraph() ComputeGraph {
	expected := IntValue(5)
	return ComputeGraph{
		Nodes: []Step{
			{ID: 1, Type: StepInput, Outputs: []StepSocket{{ID: "expected", Data: &expected}}},
			{ID: 2, Type: StepStringMatch, Inputs: []StepSocket{{ID: "a"}, {ID: "b"}}, Outputs: []StepSocket{{ID: "match"}}},
			{ID: 3, Type: StepOutput, Inputs: []StepSocket{{ID: "result"}}},
		},
		Edges: []GraphEdge{
			{ID: 1, FromNodeID: 0, FromSocketID: "answer", ToNodeID: 2, ToSocketID: "a"},
			{ID: 2, FromNodeID: 1, FromSocketID: "expected", ToNodeID: 2, ToSocketID: "b"},
			{ID: 3, FromNodeID: 2, FromSocketID: "match", ToNodeID: 3, ToSocketID: "result"},
		},
	}
}

func TestLowerAssemblesProgram(t *testing.T) {
	g := matchGraph()
	lowered, warnings, err := g.Lower(testUserInput())
	if err != nil {
		t.Fatalf("Lower failed: %v", err)
	}
	if len(warnings) != 0 {
		t.Errorf("unexpected warnings: %v", warnings)
	}

	for _, want := range []string{
		"var_0_answer = 5",
		"var_1_expected = 5",
		"var_2_match = str(var_0_answer) == str(var_1_expected)",
		"print(var_2_match)",
	} {
		if !strings.Contains(lowered.Text, want) {
			t.Errorf("assembled program missing %q:\n%s", want, lowered.Text)
		}
	}

	// The fragments execute inside the guarded main block.
	if !strings.Contains(lowered.Text, "\n  var_0_answer = 5") {
		t.Errorf("program fragments are not indented into the main block:\n%s", lowered.Text)
	}
}

func TestLowerIsDeterministic(t *testing.T) {
	g := matchGraph()

	first, _, err := g.Lower(testUserInput())
	if err != nil {
		t.Fatalf("first Lower failed: %v", err)
	}
	second, _, err := g.Lower(testUserInput())
	if err != nil {
		t.Fatalf("second Lower failed: %v", err)
	}

	if first.Text != second.Text {
		t.Error("repeated lowering produced different program text")
	}
	if len(first.Files) != len(second.Files) {
		t.Fatalf("repeated lowering produced different file sets: %d vs %d", len(first.Files), len(second.Files))
	}
	for i := range first.Files {
		if first.Files[i] != second.Files[i] {
			t.Errorf("file %d differs between lowerings", i)
		}
	}
}

func TestLowerOrdersIndependentNodesByID(t *testing.T) {
	// Two independent literal inputs feeding one match; their emitted
	// order must follow node ids, not map iteration.
	five := IntValue(5)
	g := ComputeGraph{
		Nodes: []Step{
			{ID: 9, Type: StepInput, Outputs: []StepSocket{{ID: "v", Data: &five}}},
			{ID: 4, Type: StepInput, Outputs: []StepSocket{{ID: "v", Data: &five}}},
			{ID: 11, Type: StepStringMatch, Inputs: []StepSocket{{ID: "a"}, {ID: "b"}}, Outputs: []StepSocket{{ID: "match"}}},
			{ID: 12, Type: StepOutput, Inputs: []StepSocket{{ID: "result"}}},
		},
		Edges: []GraphEdge{
			{ID: 1, FromNodeID: 9, FromSocketID: "v", ToNodeID: 11, ToSocketID: "a"},
			{ID: 2, FromNodeID: 4, FromSocketID: "v", ToNodeID: 11, ToSocketID: "b"},
			{ID: 3, FromNodeID: 11, FromSocketID: "match", ToNodeID: 12, ToSocketID: "result"},
		},
	}

	lowered, warnings, err := g.Lower(testUserInput())
	if err != nil {
		t.Fatalf("Lower failed: %v", err)
	}
	// The user input node is unreachable here, which is tolerated.
	if len(warnings) != 1 {
		t.Errorf("expected 1 dangling-producer warning, got %v", warnings)
	}

	first := strings.Index(lowered.Text, "# step 4:")
	second := strings.Index(lowered.Text, "# step 9:")
	if first == -1 || second == -1 || first > second {
		t.Errorf("independent nodes not emitted in ascending id order:\n%s", lowered.Text)
	}
}

func TestLowerRejectsInvalidGraphs(t *testing.T) {
	five := IntValue(5)

	tests := []struct {
		name    string
		graph   ComputeGraph
		wantMsg string
	}{
		{
			name: "no output step",
			graph: ComputeGraph{
				Nodes: []Step{
					{ID: 1, Type: StepInput, Outputs: []StepSocket{{ID: "v", Data: &five}}},
				},
			},
			wantMsg: "output step",
		},
		{
			name: "two output steps",
			graph: ComputeGraph{
				Nodes: []Step{
					{ID: 1, Type: StepOutput, Inputs: []StepSocket{{ID: "in", Data: &five}}},
					{ID: 2, Type: StepOutput, Inputs: []StepSocket{{ID: "in", Data: &five}}},
				},
			},
			wantMsg: "output step",
		},
		{
			name: "duplicate node id",
			graph: ComputeGraph{
				Nodes: []Step{
					{ID: 1, Type: StepInput, Outputs: []StepSocket{{ID: "v", Data: &five}}},
					{ID: 1, Type: StepOutput, Inputs: []StepSocket{{ID: "in", Data: &five}}},
				},
			},
			wantMsg: "duplicate node id",
		},
		{
			name: "edge references unknown node",
			graph: ComputeGraph{
				Nodes: []Step{
					{ID: 1, Type: StepOutput, Inputs: []StepSocket{{ID: "in", Data: &five}}},
				},
				Edges: []GraphEdge{
					{ID: 1, FromNodeID: 99, FromSocketID: "v", ToNodeID: 1, ToSocketID: "in"},
				},
			},
			wantMsg: "unknown from node",
		},
		{
			name: "edge references unknown socket",
			graph: ComputeGraph{
				Nodes: []Step{
					{ID: 1, Type: StepInput, Outputs: []StepSocket{{ID: "v", Data: &five}}},
					{ID: 2, Type: StepOutput, Inputs: []StepSocket{{ID: "in"}}},
				},
				Edges: []GraphEdge{
					{ID: 1, FromNodeID: 1, FromSocketID: "nope", ToNodeID: 2, ToSocketID: "in"},
				},
			},
			wantMsg: "no output socket",
		},
		{
			name: "edge into an output socket",
			graph: ComputeGraph{
				Nodes: []Step{
					{ID: 1, Type: StepInput, Outputs: []StepSocket{{ID: "v", Data: &five}}},
					{ID: 2, Type: StepStringMatch, Inputs: []StepSocket{{ID: "a", Data: &five}, {ID: "b", Data: &five}}, Outputs: []StepSocket{{ID: "out"}}},
					{ID: 3, Type: StepOutput, Inputs: []StepSocket{{ID: "in", Data: &five}}},
				},
				Edges: []GraphEdge{
					{ID: 1, FromNodeID: 1, FromSocketID: "v", ToNodeID: 2, ToSocketID: "out"},
				},
			},
			wantMsg: "no input socket",
		},
		{
			name: "edge out of an input socket",
			graph: ComputeGraph{
				Nodes: []Step{
					{ID: 1, Type: StepStringMatch, Inputs: []StepSocket{{ID: "a", Data: &five}, {ID: "b", Data: &five}}, Outputs: []StepSocket{{ID: "out"}}},
					{ID: 2, Type: StepOutput, Inputs: []StepSocket{{ID: "in"}}},
				},
				Edges: []GraphEdge{
					{ID: 1, FromNodeID: 1, FromSocketID: "a", ToNodeID: 2, ToSocketID: "in"},
				},
			},
			wantMsg: "no output socket",
		},
		{
			name: "unbound input socket",
			graph: ComputeGraph{
				Nodes: []Step{
					{ID: 1, Type: StepOutput, Inputs: []StepSocket{{ID: "in"}}},
				},
			},
			wantMsg: "unbound",
		},
		{
			name: "input socket bound twice",
			graph: ComputeGraph{
				Nodes: []Step{
					{ID: 1, Type: StepInput, Outputs: []StepSocket{{ID: "v", Data: &five}}},
					{ID: 2, Type: StepInput, Outputs: []StepSocket{{ID: "v", Data: &five}}},
					{ID: 3, Type: StepOutput, Inputs: []StepSocket{{ID: "in"}}},
				},
				Edges: []GraphEdge{
					{ID: 1, FromNodeID: 1, FromSocketID: "v", ToNodeID: 3, ToSocketID: "in"},
					{ID: 2, FromNodeID: 2, FromSocketID: "v", ToNodeID: 3, ToSocketID: "in"},
				},
			},
			wantMsg: "bound by 2 edges",
		},
		{
			name: "cycle in reachable closure",
			graph: ComputeGraph{
				Nodes: []Step{
					{ID: 1, Type: StepStringMatch, Inputs: []StepSocket{{ID: "a"}, {ID: "b", Data: &five}}, Outputs: []StepSocket{{ID: "out"}}},
					{ID: 2, Type: StepStringMatch, Inputs: []StepSocket{{ID: "a"}, {ID: "b", Data: &five}}, Outputs: []StepSocket{{ID: "out"}}},
					{ID: 3, Type: StepOutput, Inputs: []StepSocket{{ID: "in"}}},
				},
				Edges: []GraphEdge{
					{ID: 1, FromNodeID: 1, FromSocketID: "out", ToNodeID: 2, ToSocketID: "a"},
					{ID: 2, FromNodeID: 2, FromSocketID: "out", ToNodeID: 1, ToSocketID: "a"},
					{ID: 3, FromNodeID: 2, FromSocketID: "out", ToNodeID: 3, ToSocketID: "in"},
				},
			},
			wantMsg: "cycle",
		},
		{
			name: "duplicate socket id within step",
			graph: ComputeGraph{
				Nodes: []Step{
					{ID: 1, Type: StepOutput, Inputs: []StepSocket{{ID: "in", Data: &five}, {ID: "in", Data: &five}}},
				},
			},
			wantMsg: "duplicate socket id",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Keep the synthesised input out of the way of the fixture.
			answer := IntValue(5)
			_, _, err := tt.graph.Lower(Step{ID: 100, Type: StepInput, Outputs: []StepSocket{{ID: "answer", Data: &answer}}})
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !errors.Is(err, ErrGraphInvalid) {
				t.Errorf("error %v does not match ErrGraphInvalid", err)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error %q does not mention %q", err.Error(), tt.wantMsg)
			}
		})
	}
}

func TestLowerRejectsConflictingFileContents(t *testing.T) {
	fileA := FileValue(File{FileName: "solution.py", Content: "def f(): return 1"})
	fileB := FileValue(File{FileName: "solution.py", Content: "def f(): return 2"})
	five := IntValue(5)

	g := ComputeGraph{
		Nodes: []Step{
			{ID: 1, Type: StepInput, Outputs: []StepSocket{{ID: "f", Data: &fileA}}},
			{ID: 2, Type: StepInput, Outputs: []StepSocket{{ID: "f", Data: &fileB}}},
			{ID: 3, Type: StepOutput, Inputs: []StepSocket{{ID: "in", Data: &five}}},
		},
	}

	_, _, err := g.Lower(testUserInput())
	if err == nil {
		t.Fatal("expected file conflict error, got nil")
	}
	if !errors.Is(err, ErrGraphInvalid) {
		t.Errorf("error %v does not match ErrGraphInvalid", err)
	}
	if !strings.Contains(err.Error(), "solution.py") {
		t.Errorf("error %q does not name the conflicting file", err.Error())
	}
}

func TestLowerCollectsFilesSortedByName(t *testing.T) {
	fb := FileValue(File{FileName: "b.py", Content: "b"})
	fa := FileValue(File{FileName: "a.py", Content: "a"})
	five := IntValue(5)

	g := ComputeGraph{
		Nodes: []Step{
			{ID: 1, Type: StepInput, Outputs: []StepSocket{{ID: "f1", Data: &fb}, {ID: "f2", Data: &fa}}},
			{ID: 2, Type: StepOutput, Inputs: []StepSocket{{ID: "in", Data: &five}}},
		},
	}

	lowered, _, err := g.Lower(testUserInput())
	if err != nil {
		t.Fatalf("Lower failed: %v", err)
	}
	if len(lowered.Files) != 2 {
		t.Fatalf("expected 2 files, got %d", len(lowered.Files))
	}
	if lowered.Files[0].FileName != "a.py" || lowered.Files[1].FileName != "b.py" {
		t.Errorf("files not sorted by name: %v", lowered.Files)
	}
}
