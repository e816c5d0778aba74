//go:build whispercpp

// The whisper.cpp static library (libwhisper.a) and headers (whisper.h) must
// be available at link time via LIBRARY_PATH and C_INCLUDE_PATH.

package whispercpp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/tiroq/speakerscribe/internal/asr"
	"github.com/tiroq/speakerscribe/internal/audio"
)

var _ asr.Backend = (*Backend)(nil)

// Backend holds a loaded model. whisper.cpp contexts are not safe for
// concurrent Process calls on one model, so calls are serialised.
type Backend struct {
	cfg   Config
	model whisperlib.Model
	mu    sync.Mutex
}

// New loads the model at cfg.ModelPath.
func New(cfg Config) (*Backend, error) {
	if cfg.ModelPath == "" {
		return nil, errors.New("whispercpp: model path must not be empty")
	}
	model, err := whisperlib.New(cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("whispercpp: load model %q: %w", cfg.ModelPath, err)
	}
	return &Backend{cfg: cfg, model: model}, nil
}

// Close releases the model.
func (b *Backend) Close() error {
	if b.model == nil {
		return nil
	}
	return b.model.Close()
}

func (b *Backend) Name() string { return Name }

// TranscribeFile decodes the 16 kHz mono WAV at filePath and runs whisper.cpp
// on it. Cancellation is checked before the (uninterruptible) Process call.
func (b *Backend) TranscribeFile(ctx context.Context, filePath string, opts asr.TranscribeOptions) (*asr.Transcript, error) {
	samples, err := audio.ReadSamples(filePath)
	if err != nil {
		return nil, fmt.Errorf("whispercpp: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	wctx, err := b.model.NewContext()
	if err != nil {
		return nil, fmt.Errorf("whispercpp: new context: %w", err)
	}
	lang := opts.Language
	if lang == "" {
		lang = "auto"
	}
	if err := wctx.SetLanguage(lang); err != nil {
		return nil, fmt.Errorf("whispercpp: set language %q: %w", lang, err)
	}
	if b.cfg.Threads > 0 {
		wctx.SetThreads(uint(b.cfg.Threads))
	}
	if opts.Prompt != "" {
		wctx.SetInitialPrompt(opts.Prompt)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return nil, fmt.Errorf("whispercpp: process: %w", err)
	}

	t := &asr.Transcript{
		Language: opts.Language,
		Duration: audio.SamplesDuration(len(samples)),
		Model:    b.cfg.ModelPath,
		Backend:  Name,
	}
	for {
		seg, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("whispercpp: read segment: %w", err)
		}
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		t.Segments = append(t.Segments, asr.Segment{
			Start:    segmentTime(seg.Start),
			End:      segmentTime(seg.End),
			Text:     text,
			Language: opts.Language,
		})
	}
	asr.Renumber(t.Segments)
	return t, nil
}

// HealthCheck reports whether the model file is still present.
func (b *Backend) HealthCheck(ctx context.Context) (*asr.HealthStatus, error) {
	status := &asr.HealthStatus{Backend: Name}
	start := time.Now()
	if _, err := os.Stat(b.cfg.ModelPath); err != nil {
		status.Message = fmt.Sprintf("model not found at %q: %v", b.cfg.ModelPath, err)
		return status, nil
	}
	status.Latency = time.Since(start)
	status.OK = true
	status.Message = "model loaded"
	return status, nil
}
