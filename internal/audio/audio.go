// Package audio normalises input recordings for the speech engines: any
// container is converted to mono 16-bit PCM WAV, and a copy with leading
// silence is produced for the diarizer.
package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/tiroq/speakerscribe/internal/subproc"
)

const (
	// DefaultSampleRate is what every supported engine expects.
	DefaultSampleRate = 16000
	// DefaultPad is the leading silence added before diarization.
	DefaultPad = 2 * time.Second
	// DefaultTimeout bounds a single ffmpeg conversion.
	DefaultTimeout = 10 * time.Minute
)

var (
	// ErrInputNotFound is returned when the input recording does not exist.
	ErrInputNotFound = errors.New("audio: input file not found")
	// ErrFFmpegNotFound is returned when conversion is needed but ffmpeg is missing.
	ErrFFmpegNotFound = errors.New("audio: ffmpeg not found")
)

// Preprocessor converts recordings into engine-ready WAV files.
type Preprocessor struct {
	FFmpegPath string        // default "ffmpeg" from PATH
	WorkDir    string        // parent of per-run temp dirs; default os.TempDir()
	SampleRate int           // default 16000
	Pad        time.Duration // leading silence for the diarizer copy; 0 disables padding
	Timeout    time.Duration // default 10m
}

// Prepared holds the files produced for one input.
type Prepared struct {
	Input      string
	WAVPath    string        // normalised audio for transcription
	PaddedPath string        // WAVPath with Pad of leading silence, for diarization
	Pad        time.Duration // silence actually prepended to PaddedPath
	Duration   time.Duration // length of WAVPath
	Converted  bool          // false when the input was already canonical and copied as is

	dir string
}

// Cleanup removes the temporary files. Safe to call more than once.
func (p *Prepared) Cleanup() error {
	if p == nil || p.dir == "" {
		return nil
	}
	err := os.RemoveAll(p.dir)
	p.dir = ""
	return err
}

func (p *Preprocessor) withDefaults() Preprocessor {
	c := *p
	if c.FFmpegPath == "" {
		c.FFmpegPath = "ffmpeg"
	}
	if c.SampleRate <= 0 {
		c.SampleRate = DefaultSampleRate
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	return c
}

// Prepare normalises input and writes the padded copy.
func (p *Preprocessor) Prepare(ctx context.Context, input string) (*Prepared, error) {
	cfg := p.withDefaults()

	info, err := os.Stat(input)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrInputNotFound, input)
		}
		return nil, fmt.Errorf("audio: stat input: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrInputNotFound, input)
	}

	dir, err := os.MkdirTemp(cfg.WorkDir, "speakerscribe-*")
	if err != nil {
		return nil, fmt.Errorf("audio: create work dir: %w", err)
	}
	prep := &Prepared{
		Input:   input,
		WAVPath: filepath.Join(dir, "audio.wav"),
		dir:     dir,
	}

	if cfg.isCanonical(input) {
		err = copyFile(input, prep.WAVPath)
	} else {
		prep.Converted = true
		err = cfg.convert(ctx, input, prep.WAVPath)
	}
	if err != nil {
		_ = prep.Cleanup()
		return nil, err
	}

	wavInfo, err := Inspect(prep.WAVPath)
	if err != nil {
		_ = prep.Cleanup()
		return nil, err
	}
	prep.Duration = wavInfo.Duration

	if cfg.Pad > 0 {
		prep.PaddedPath = filepath.Join(dir, "audio.padded.wav")
		if _, err := PadWAV(prep.WAVPath, prep.PaddedPath, cfg.Pad); err != nil {
			_ = prep.Cleanup()
			return nil, err
		}
		prep.Pad = cfg.Pad
	} else {
		prep.PaddedPath = prep.WAVPath
	}
	return prep, nil
}

// isCanonical reports whether input is already a PCM WAV in the target format.
func (p Preprocessor) isCanonical(input string) bool {
	if !strings.EqualFold(filepath.Ext(input), ".wav") {
		return false
	}
	info, err := Inspect(input)
	if err != nil {
		return false
	}
	return info.Format == 1 && info.SampleRate == p.SampleRate && info.Channels == 1 && info.BitDepth == 16
}

func (p Preprocessor) convert(ctx context.Context, input, output string) error {
	bin, err := exec.LookPath(p.FFmpegPath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFFmpegNotFound, err)
	}
	cmd := exec.Command(bin,
		"-nostdin", "-hide_banner", "-loglevel", "error", "-y",
		"-i", input,
		"-ac", "1", "-ar", strconv.Itoa(p.SampleRate),
		"-c:a", "pcm_s16le", "-f", "wav",
		output,
	)
	if _, err := subproc.Run(ctx, cmd, p.Timeout); err != nil {
		return fmt.Errorf("audio: ffmpeg convert %s: %w", filepath.Base(input), err)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("audio: open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("audio: create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("audio: copy %s: %w", src, err)
	}
	return out.Close()
}
