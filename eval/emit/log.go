package emit

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
)

// LogEmitter implements Emitter by writing structured output to a
// writer.
//
// Two output modes:
//   - Text (default): human-readable key=value lines
//   - JSON: one JSON object per line (JSONL)
//
// Example text output:
//
//	[WARNING] stale_result_dropped submission=3f1c... meta={"correlation_id":"..."}
//
// Example JSON output:
//
//	{"severity":"WARNING","submission_id":"3f1c...","task_id":0,"msg":"stale_result_dropped","meta":{...}}
type LogEmitter struct {
	mu       sync.Mutex
	writer   io.Writer
	jsonMode bool
}

// NewLogEmitter creates a LogEmitter writing to w (os.Stdout when w is
// nil). jsonMode selects JSONL output over text.
func NewLogEmitter(w io.Writer, jsonMode bool) *LogEmitter {
	if w == nil {
		w = os.Stdout
	}
	return &LogEmitter{writer: w, jsonMode: jsonMode}
}

// Emit writes the event in the configured format.
func (l *LogEmitter) Emit(event Event) {
	if event.Severity == "" {
		event.Severity = SeverityInfo
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.jsonMode {
		l.emitJSON(event)
		return
	}
	l.emitText(event)
}

func (l *LogEmitter) emitJSON(event Event) {
	data, err := json.Marshal(struct {
		Severity     Severity       `json:"severity"`
		SubmissionID string         `json:"submission_id"`
		TaskID       int            `json:"task_id"`
		Msg          string         `json:"msg"`
		Meta         map[string]any `json:"meta,omitempty"`
	}{
		Severity:     event.Severity,
		SubmissionID: event.SubmissionID,
		TaskID:       event.TaskID,
		Msg:          event.Msg,
		Meta:         event.Meta,
	})
	if err != nil {
		fmt.Fprintf(l.writer, "{\"error\":\"failed to marshal event: %v\"}\n", err)
		return
	}
	fmt.Fprintf(l.writer, "%s\n", data)
}

func (l *LogEmitter) emitText(event Event) {
	fmt.Fprintf(l.writer, "[%s] %s", event.Severity, event.Msg)
	if event.SubmissionID != "" {
		fmt.Fprintf(l.writer, " submission=%s", event.SubmissionID)
	}
	if event.TaskID != 0 {
		fmt.Fprintf(l.writer, " task=%d", event.TaskID)
	}
	if len(event.Meta) > 0 {
		if metaJSON, err := json.Marshal(event.Meta); err == nil {
			fmt.Fprintf(l.writer, " meta=%s", metaJSON)
		} else {
			fmt.Fprintf(l.writer, " meta=%v", event.Meta)
		}
	}
	fmt.Fprint(l.writer, "\n")
}
