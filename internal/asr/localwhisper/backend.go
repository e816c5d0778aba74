// Package localwhisper transcribes through a whisper CLI binary
// (whisper.cpp, faster-whisper wrappers) that prints JSON segments.
package localwhisper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/tiroq/speakerscribe/internal/asr"
	"github.com/tiroq/speakerscribe/internal/subproc"
)

// Config configures the local whisper CLI backend.
type Config struct {
	BinaryPath     string // path to whisper-cpp or faster-whisper CLI
	ModelPath      string // path to .bin model file
	Model          string // model name (e.g., "small.en", "base")
	Threads        int    // CPU threads (0 = auto)
	TimeoutSeconds int    // default 3600; long recordings take a while on CPU
}

// Backend shells out to a whisper CLI binary for local transcription.
type Backend struct {
	cfg Config
}

// NewBackend creates a new local whisper backend with the given config.
func NewBackend(cfg Config) *Backend {
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 3600
	}
	return &Backend{cfg: cfg}
}

// Name returns the backend identifier.
func (b *Backend) Name() string {
	return "local_whisper"
}

// whisperSegment is one segment of the CLI JSON output. ID is a pointer so
// a missing id can be told apart from id 0.
type whisperSegment struct {
	ID    *int    `json:"id"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
	Score float64 `json:"score"`
}

type whisperOutput struct {
	Segments []whisperSegment `json:"segments"`
	Language string           `json:"language"`
}

// TranscribeFile runs the whisper CLI on filePath and parses its JSON output.
func (b *Backend) TranscribeFile(ctx context.Context, filePath string, opts asr.TranscribeOptions) (*asr.Transcript, error) {
	if _, err := os.Stat(b.cfg.BinaryPath); err != nil {
		return nil, fmt.Errorf("localwhisper: binary not found at %q: %w", b.cfg.BinaryPath, err)
	}

	cmd := exec.Command(b.cfg.BinaryPath, b.buildArgs(filePath, opts)...)
	timeout := time.Duration(b.cfg.TimeoutSeconds) * time.Second
	out, err := subproc.Run(ctx, cmd, timeout)
	if err != nil {
		if errors.Is(err, subproc.ErrTimedOut) {
			return nil, fmt.Errorf("localwhisper: transcription timed out after %d seconds", b.cfg.TimeoutSeconds)
		}
		return nil, fmt.Errorf("localwhisper: %w", err)
	}

	var output whisperOutput
	if err := json.Unmarshal(out, &output); err != nil {
		return nil, fmt.Errorf("localwhisper: failed to parse JSON output: %w", err)
	}

	transcript := &asr.Transcript{
		Language: output.Language,
		Model:    b.resolveModel(opts),
		Backend:  b.Name(),
	}

	haveIDs := true
	for _, seg := range output.Segments {
		s := asr.Segment{
			Start:    asr.SecondsToDuration(seg.Start),
			End:      asr.SecondsToDuration(seg.End),
			Text:     strings.TrimSpace(seg.Text),
			Language: output.Language,
			Score:    seg.Score,
		}
		if seg.ID != nil {
			s.ID = *seg.ID
		} else {
			haveIDs = false
		}
		transcript.Segments = append(transcript.Segments, s)
	}
	if !haveIDs {
		asr.Renumber(transcript.Segments)
	}

	if len(transcript.Segments) > 0 {
		transcript.Duration = transcript.Segments[len(transcript.Segments)-1].End
	}

	return transcript, nil
}

// HealthCheck verifies the whisper binary exists, is executable, and responds.
func (b *Backend) HealthCheck(ctx context.Context) (*asr.HealthStatus, error) {
	status := &asr.HealthStatus{
		Backend: b.Name(),
	}

	info, err := os.Stat(b.cfg.BinaryPath)
	if err != nil {
		status.Message = fmt.Sprintf("binary not found at %q: %v", b.cfg.BinaryPath, err)
		return status, nil
	}
	if info.Mode()&0111 == 0 {
		status.Message = fmt.Sprintf("binary at %q is not executable", b.cfg.BinaryPath)
		return status, nil
	}

	if b.cfg.ModelPath != "" {
		if _, err := os.Stat(b.cfg.ModelPath); err != nil {
			status.Message = fmt.Sprintf("model not found at %q: %v", b.cfg.ModelPath, err)
			return status, nil
		}
	}

	start := time.Now()
	err = exec.CommandContext(ctx, b.cfg.BinaryPath, "--help").Run()
	status.Latency = time.Since(start)

	// --help may exit non-zero on some binaries; we just need it to execute
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			status.Message = fmt.Sprintf("binary failed to execute: %v", err)
			return status, nil
		}
	}

	status.OK = true
	status.Message = "binary is available and executable"
	return status, nil
}

// buildArgs constructs the CLI arguments for the whisper binary.
func (b *Backend) buildArgs(filePath string, opts asr.TranscribeOptions) []string {
	var args []string

	if b.cfg.ModelPath != "" {
		args = append(args, "--model", b.cfg.ModelPath)
	}

	args = append(args, "--output-json")

	if opts.Language != "" {
		args = append(args, "--language", opts.Language)
	}
	if opts.Prompt != "" {
		args = append(args, "--prompt", opts.Prompt)
	}
	if b.cfg.Threads > 0 {
		args = append(args, "--threads", strconv.Itoa(b.cfg.Threads))
	}

	args = append(args, filePath)
	return args
}

// resolveModel returns the model name, preferring opts over config.
func (b *Backend) resolveModel(opts asr.TranscribeOptions) string {
	if opts.Model != "" {
		return opts.Model
	}
	return b.cfg.Model
}
