// Package pyannote diarizes through a pyannote.audio pipeline run by an
// external Python interpreter. The helper script is embedded in the binary.
package pyannote

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/tiroq/speakerscribe/internal/asr"
	"github.com/tiroq/speakerscribe/internal/diarize"
	"github.com/tiroq/speakerscribe/internal/subproc"
)

//go:embed diarize.py
var helperScript []byte

// DefaultModel is the pipeline the original tool used.
const DefaultModel = "pyannote/speaker-diarization"

// ErrTokenRequired is returned when no access token is available for the
// gated pyannote models.
var ErrTokenRequired = errors.New("pyannote: access token required (use --token or HF_TOKEN)")

var _ diarize.Backend = (*Backend)(nil)

// Config configures the pyannote backend.
type Config struct {
	PythonPath     string // default "python3"
	ScriptPath     string // optional override of the embedded helper
	Model          string // default DefaultModel
	Device         string // "cuda", "cpu" or "" for auto
	TimeoutSeconds int    // default 7200
}

// Backend runs the helper script once per request.
type Backend struct {
	cfg Config
}

// New returns a pyannote backend with defaults applied.
func New(cfg Config) *Backend {
	if cfg.PythonPath == "" {
		cfg.PythonPath = "python3"
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 7200
	}
	return &Backend{cfg: cfg}
}

func (b *Backend) Name() string { return "pyannote" }

type helperOutput struct {
	Turns []struct {
		Start   float64 `json:"start"`
		End     float64 `json:"end"`
		Speaker string  `json:"speaker"`
	} `json:"turns"`
}

// Diarize runs the pipeline on audioPath. The token travels in the child's
// environment so it never shows up in a process listing.
func (b *Backend) Diarize(ctx context.Context, audioPath string, opts diarize.Options) ([]diarize.Turn, error) {
	if opts.Token == "" {
		return nil, ErrTokenRequired
	}

	script, cleanup, err := b.script()
	if err != nil {
		return nil, err
	}
	defer cleanup()

	cmd := exec.Command(b.cfg.PythonPath, b.buildArgs(script, audioPath, opts)...)
	cmd.Env = append(os.Environ(), "HF_TOKEN="+opts.Token)

	out, err := subproc.Run(ctx, cmd, time.Duration(b.cfg.TimeoutSeconds)*time.Second)
	if err != nil {
		if errors.Is(err, subproc.ErrTimedOut) {
			return nil, fmt.Errorf("pyannote: diarization timed out after %d seconds", b.cfg.TimeoutSeconds)
		}
		return nil, fmt.Errorf("pyannote: %w", err)
	}
	return parseOutput(out)
}

func parseOutput(out []byte) ([]diarize.Turn, error) {
	// Libraries sometimes print to stdout before the result; the JSON
	// document is the last non-empty line.
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	last := strings.TrimSpace(lines[len(lines)-1])

	var parsed helperOutput
	if err := json.Unmarshal([]byte(last), &parsed); err != nil {
		return nil, fmt.Errorf("pyannote: parse helper output: %w", err)
	}
	turns := make([]diarize.Turn, 0, len(parsed.Turns))
	for _, t := range parsed.Turns {
		turns = append(turns, diarize.Turn{
			Start:   asr.SecondsToDuration(t.Start),
			End:     asr.SecondsToDuration(t.End),
			Speaker: t.Speaker,
		})
	}
	return turns, nil
}

func (b *Backend) buildArgs(script, audioPath string, opts diarize.Options) []string {
	args := []string{script, "--audio", audioPath, "--model", b.cfg.Model}
	if opts.NumSpeakers > 0 {
		args = append(args, "--num-speakers", strconv.Itoa(opts.NumSpeakers))
	}
	if b.cfg.Device != "" {
		args = append(args, "--device", b.cfg.Device)
	}
	return args
}

// script returns the helper path, materialising the embedded copy if needed.
func (b *Backend) script() (string, func(), error) {
	if b.cfg.ScriptPath != "" {
		return b.cfg.ScriptPath, func() {}, nil
	}
	f, err := os.CreateTemp("", "speakerscribe-diarize-*.py")
	if err != nil {
		return "", nil, fmt.Errorf("pyannote: write helper: %w", err)
	}
	if _, err := f.Write(helperScript); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", nil, fmt.Errorf("pyannote: write helper: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", nil, fmt.Errorf("pyannote: write helper: %w", err)
	}
	return f.Name(), func() { _ = os.Remove(f.Name()) }, nil
}

// HealthCheck verifies the interpreter can import pyannote.audio.
func (b *Backend) HealthCheck(ctx context.Context) (*diarize.HealthStatus, error) {
	status := &diarize.HealthStatus{Backend: b.Name()}

	start := time.Now()
	cmd := exec.Command(b.cfg.PythonPath, "-c", "import pyannote.audio")
	_, err := subproc.Run(ctx, cmd, 2*time.Minute)
	status.Latency = time.Since(start)
	if err != nil {
		status.Message = fmt.Sprintf("cannot import pyannote.audio with %s: %v", b.cfg.PythonPath, err)
		return status, nil
	}
	status.OK = true
	status.Message = "pyannote.audio importable"
	return status, nil
}
