package eval

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestArtifactUnmarshalSniffsShape(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Artifact
	}{
		{"int", `5`, IntValue(5)},
		{"negative int", `-17`, IntValue(-17)},
		{"float", `2.5`, FloatValue(2.5)},
		{"exponent is float", `1e3`, FloatValue(1000)},
		{"string", `"hello"`, StringValue("hello")},
		{"bool", `true`, BoolValue(true)},
		{"file", `{"file_name":"f.py","content":"pass"}`, FileValue(File{FileName: "f.py", Content: "pass"})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got Artifact
			if err := json.Unmarshal([]byte(tt.in), &got); err != nil {
				t.Fatalf("unmarshal %s: %v", tt.in, err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("artifact mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestArtifactUnmarshalRejectsInvalid(t *testing.T) {
	for _, in := range []string{`null`, ``, `[1,2]`, `{"content":"no name"}`} {
		var a Artifact
		if err := json.Unmarshal([]byte(in), &a); err == nil {
			t.Errorf("expected error for %q", in)
		}
	}
}

func TestArtifactMarshalRoundTrip(t *testing.T) {
	for _, a := range []Artifact{
		IntValue(42),
		FloatValue(0.5),
		StringValue("x"),
		BoolValue(false),
		FileValue(File{FileName: "m.py", Content: "pass"}),
	} {
		data, err := json.Marshal(a)
		if err != nil {
			t.Fatalf("marshal %v: %v", a.Kind, err)
		}
		var back Artifact
		if err := json.Unmarshal(data, &back); err != nil {
			t.Fatalf("unmarshal %s: %v", data, err)
		}
		if diff := cmp.Diff(a, back); diff != "" {
			t.Errorf("round trip mismatch for %v (-want +got):\n%s", a.Kind, diff)
		}
	}
}

func TestPyLiteral(t *testing.T) {
	tests := []struct {
		a    Artifact
		want string
	}{
		{IntValue(5), "5"},
		{FloatValue(2.5), "2.5"},
		{StringValue("hi"), `"hi"`},
		{StringValue("var_1_out"), "var_1_out"}, // symbol passes through unquoted
		{BoolValue(true), "True"},
		{BoolValue(false), "False"},
	}
	for _, tt := range tests {
		if got := tt.a.PyLiteral(); got != tt.want {
			t.Errorf("PyLiteral(%v) = %q, want %q", tt.a, got, tt.want)
		}
	}
}
