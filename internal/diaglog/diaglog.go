// Package diaglog writes structured NDJSON diagnostic events for pipeline
// runs. A disabled logger makes every Log call a no-op and creates no file.
package diaglog

import (
	"encoding/json"
	"os"
	"sync"
	"time"
)

// EnvDebug enables diagnostic logging when set to "true".
const EnvDebug = "SPEAKERSCRIBE_DEBUG"

// DefaultMaxSize caps the log file before it is truncated.
const DefaultMaxSize = 10 * 1024 * 1024

const (
	ComponentPipeline      = "pipeline"
	ComponentPreprocessor  = "preprocessor"
	ComponentTranscriber   = "transcriber"
	ComponentDiarizer      = "diarizer"
	ComponentAligner       = "aligner"
	ComponentWriter        = "writer"
	ComponentWatcher       = "watcher"
	ComponentRemoteWhisper = "remote-whisper"
	ComponentRemoteDiarize = "remote-diarize"
)

const (
	EventRunStart         = "run_start"
	EventRunDone          = "run_done"
	EventRunFailed        = "run_failed"
	EventPreprocessDone   = "preprocess_done"
	EventTranscribeDone   = "transcribe_done"
	EventTranscribeRetry  = "transcribe_retry"
	EventDiarizeDone      = "diarize_done"
	EventDiarizeSkipped   = "diarize_skipped"
	EventDiarizeProgress  = "diarize_progress"
	EventAlignDone        = "align_done"
	EventWriteDone        = "write_done"
	EventWatchQueued      = "watch_queued"
	EventPreconditionFail = "precondition_failed"
)

// LogEntry is one structured event record written as a single JSON line.
type LogEntry struct {
	Timestamp string      `json:"ts"` // RFC3339Nano
	Component string      `json:"component"`
	Event     string      `json:"event"`
	RunID     string      `json:"run_id,omitempty"`
	Reason    string      `json:"reason,omitempty"`
	Payload   interface{} `json:"payload,omitempty"` // redacted before write
}

// Logger writes LogEntry values to a rolling NDJSON file.
type Logger struct {
	rw      *rollingWriter
	mu      sync.Mutex
	enabled bool
	runID   string
}

// New opens (or creates) the NDJSON log file at path. When enabled is false
// path is ignored and a no-op logger is returned.
func New(path string, enabled bool) (*Logger, error) {
	if !enabled || path == "" {
		return &Logger{enabled: false}, nil
	}
	rw, err := newRollingWriter(path, DefaultMaxSize)
	if err != nil {
		return nil, err
	}
	return &Logger{rw: rw, enabled: true}, nil
}

// WithRun returns a logger sharing the same file that stamps runID on every
// entry that does not carry one.
func (l *Logger) WithRun(runID string) *Logger {
	if l == nil || !l.enabled {
		return l
	}
	return &Logger{rw: l.rw, enabled: true, runID: runID}
}

// Enabled reports whether entries are written.
func (l *Logger) Enabled() bool {
	return l != nil && l.enabled
}

// Log serialises entry to JSON, appends a newline, and writes to the rolling
// file. Sensitive payload fields are redacted before serialisation.
func (l *Logger) Log(entry LogEntry) {
	if l == nil || !l.enabled {
		return
	}
	if entry.Timestamp == "" {
		entry.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	if entry.RunID == "" {
		entry.RunID = l.runID
	}
	if entry.Payload != nil {
		entry.Payload = Redact(entry.Payload)
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	data = append(data, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = l.rw.Write(data)
}

// Close flushes and closes the underlying file. Safe on nil/disabled logger.
// Loggers derived with WithRun share the file; close only the root.
func (l *Logger) Close() error {
	if l == nil || !l.enabled || l.rw == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rw.close()
}

// IsDebugEnabled reports whether SPEAKERSCRIBE_DEBUG is set to "true".
func IsDebugEnabled() bool {
	return os.Getenv(EnvDebug) == "true"
}

// NewNoOp returns a logger where every Log call is a no-op.
func NewNoOp() *Logger {
	return &Logger{enabled: false}
}
