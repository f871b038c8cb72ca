// Package eval implements the evaluation core of an online
// programming-exercise platform: a compute-graph compiler that lowers
// declarative test-case graphs into sandboxed runner packages, a task
// dispatcher that publishes runner requests on a message broker, and a
// result listener that reconciles asynchronous runner replies into
// durable submission state.
package eval

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ArtifactKind tags the type of a value flowing on a graph edge.
type ArtifactKind int

// Artifact kinds. Primitives carry a literal value; files carry a name
// and textual content.
const (
	ArtifactInt ArtifactKind = iota
	ArtifactFloat
	ArtifactString
	ArtifactBool
	ArtifactFile
)

// String returns the kind tag used in logs and error messages.
func (k ArtifactKind) String() string {
	switch k {
	case ArtifactInt:
		return "int"
	case ArtifactFloat:
		return "float"
	case ArtifactString:
		return "str"
	case ArtifactBool:
		return "bool"
	case ArtifactFile:
		return "file"
	}
	return "unknown"
}

// File is a named text artifact included in a runner package.
// File names must not collide within a single package.
type File struct {
	FileName string `json:"file_name"`
	Content  string `json:"content"`
}

// Artifact is a typed value passed between steps: one of the four
// primitives (int, float, str, bool) or a File.
//
// The JSON form matches the wire format of step sockets and required
// inputs: primitives marshal as bare literals (5, 2.5, "x", true) and
// files marshal as {"file_name": ..., "content": ...}.
type Artifact struct {
	Kind ArtifactKind

	Int   int64
	Float float64
	Str   string
	Bool  bool
	File  File
}

// IntValue returns an int artifact.
func IntValue(v int64) Artifact { return Artifact{Kind: ArtifactInt, Int: v} }

// FloatValue returns a float artifact.
func FloatValue(v float64) Artifact { return Artifact{Kind: ArtifactFloat, Float: v} }

// StringValue returns a str artifact.
func StringValue(v string) Artifact { return Artifact{Kind: ArtifactString, Str: v} }

// BoolValue returns a bool artifact.
func BoolValue(v bool) Artifact { return Artifact{Kind: ArtifactBool, Bool: v} }

// FileValue returns a file artifact.
func FileValue(f File) Artifact { return Artifact{Kind: ArtifactFile, File: f} }

// IsFile reports whether the artifact is a file.
func (a Artifact) IsFile() bool { return a.Kind == ArtifactFile }

// MarshalJSON emits primitives as bare literals and files as objects.
func (a Artifact) MarshalJSON() ([]byte, error) {
	switch a.Kind {
	case ArtifactInt:
		return json.Marshal(a.Int)
	case ArtifactFloat:
		return json.Marshal(a.Float)
	case ArtifactString:
		return json.Marshal(a.Str)
	case ArtifactBool:
		return json.Marshal(a.Bool)
	case ArtifactFile:
		return json.Marshal(a.File)
	}
	return nil, fmt.Errorf("artifact: cannot marshal kind %d", int(a.Kind))
}

// UnmarshalJSON sniffs the value shape: objects are files, everything
// else is a primitive. Numbers without a fractional or exponent part
// decode as int, all other numbers as float.
func (a *Artifact) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || trimmed == "null" {
		return fmt.Errorf("artifact: empty value")
	}

	switch trimmed[0] {
	case '{':
		var f File
		if err := json.Unmarshal(data, &f); err != nil {
			return fmt.Errorf("artifact: invalid file object: %w", err)
		}
		if f.FileName == "" {
			return fmt.Errorf("artifact: file object missing file_name")
		}
		*a = FileValue(f)
		return nil
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*a = StringValue(s)
		return nil
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return err
		}
		*a = BoolValue(b)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("artifact: unsupported value %s", trimmed)
	}
	if !strings.ContainsAny(n.String(), ".eE") {
		i, err := n.Int64()
		if err != nil {
			return err
		}
		*a = IntValue(i)
		return nil
	}
	f, err := n.Float64()
	if err != nil {
		return err
	}
	*a = FloatValue(f)
	return nil
}

// PyLiteral renders the artifact as a deterministic Python literal for
// code generation. Strings that are generated symbols (var_ prefix)
// pass through unquoted so steps can reference upstream outputs.
// Files have no literal form; they are bound as file inputs instead.
func (a Artifact) PyLiteral() string {
	switch a.Kind {
	case ArtifactInt:
		return strconv.FormatInt(a.Int, 10)
	case ArtifactFloat:
		return strconv.FormatFloat(a.Float, 'g', -1, 64)
	case ArtifactString:
		if strings.HasPrefix(a.Str, symbolPrefix) {
			return a.Str
		}
		return strconv.Quote(a.Str)
	case ArtifactBool:
		if a.Bool {
			return "True"
		}
		return "False"
	}
	return ""
}
