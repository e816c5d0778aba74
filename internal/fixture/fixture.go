// Package fixture replays recorded engine output from a YAML (or JSON) file
// as both a transcription and a diarization backend. It lets the pipeline run
// end to end without models.
//
// Example:
//
//	language: en
//	model: small.en
//	segments:
//	  - {id: 0, start: 0.0, end: 3.5, text: "Welcome back."}
//	  - {id: 1, start: 3.5, end: 6.0, text: "Thanks for having me."}
//	turns:
//	  - {start: 0.0, end: 3.6, speaker: SPEAKER_00}
//	  - {start: 3.6, end: 6.2, speaker: SPEAKER_01}
//
// Times are seconds on the original audio timeline. Segment ids are optional;
// when every segment omits them they are numbered in file order.
package fixture

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tiroq/speakerscribe/internal/asr"
	"github.com/tiroq/speakerscribe/internal/diarize"
)

// File is the decoded fixture document.
type File struct {
	Language string        `yaml:"language"`
	Model    string        `yaml:"model"`
	Segments []SegmentSpec `yaml:"segments"`
	Turns    []TurnSpec    `yaml:"turns"`
}

// SegmentSpec is one recorded transcription segment.
type SegmentSpec struct {
	ID    *int    `yaml:"id"`
	Start float64 `yaml:"start"`
	End   float64 `yaml:"end"`
	Text  string  `yaml:"text"`
	Score float64 `yaml:"score"`
}

// TurnSpec is one recorded speaker turn.
type TurnSpec struct {
	Start   float64 `yaml:"start"`
	End     float64 `yaml:"end"`
	Speaker string  `yaml:"speaker"`
}

// Load reads and parses a fixture file from disk.
func Load(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("fixture: open %q: %w", path, err)
	}
	defer f.Close()

	ff, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("fixture: parse %q: %w", path, err)
	}
	return ff, nil
}

// LoadFromReader parses fixture YAML from r.
func LoadFromReader(r io.Reader) (*File, error) {
	var ff File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&ff); err != nil && err != io.EOF {
		return nil, fmt.Errorf("fixture: decode yaml: %w", err)
	}
	return &ff, nil
}

// Transcript converts the recorded segments.
func (f *File) Transcript() *asr.Transcript {
	t := &asr.Transcript{Language: f.Language, Model: f.Model, Backend: TranscriberName}
	withIDs := 0
	for _, s := range f.Segments {
		seg := asr.Segment{
			Start:    asr.SecondsToDuration(s.Start),
			End:      asr.SecondsToDuration(s.End),
			Text:     s.Text,
			Language: f.Language,
			Score:    s.Score,
		}
		if s.ID != nil {
			seg.ID = *s.ID
			withIDs++
		}
		t.Segments = append(t.Segments, seg)
	}
	if withIDs == 0 {
		asr.Renumber(t.Segments)
	}
	if n := len(t.Segments); n > 0 {
		t.Duration = t.Segments[n-1].End
	}
	return t
}

// TurnList converts the recorded turns.
func (f *File) TurnList() []diarize.Turn {
	out := make([]diarize.Turn, 0, len(f.Turns))
	for _, t := range f.Turns {
		out = append(out, diarize.Turn{
			Start:   asr.SecondsToDuration(t.Start),
			End:     asr.SecondsToDuration(t.End),
			Speaker: t.Speaker,
		})
	}
	return out
}

// Backend names.
const (
	TranscriberName = "fixture"
	DiarizerName    = "fixture"
)

// Transcriber is an asr.Backend serving a fixture's segments.
type Transcriber struct {
	path string
}

var _ asr.Backend = (*Transcriber)(nil)

// NewTranscriber returns a backend that reads path on every call, so the
// fixture can be edited between watch-mode runs.
func NewTranscriber(path string) *Transcriber {
	return &Transcriber{path: path}
}

func (t *Transcriber) Name() string { return TranscriberName }

func (t *Transcriber) TranscribeFile(ctx context.Context, filePath string, opts asr.TranscribeOptions) (*asr.Transcript, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := Load(t.path)
	if err != nil {
		return nil, err
	}
	return f.Transcript(), nil
}

func (t *Transcriber) HealthCheck(ctx context.Context) (*asr.HealthStatus, error) {
	status := &asr.HealthStatus{Backend: TranscriberName}
	if _, err := Load(t.path); err != nil {
		status.Message = err.Error()
		return status, nil
	}
	status.OK = true
	status.Message = "fixture readable"
	return status, nil
}

// Diarizer is a diarize.Backend serving a fixture's turns. Recorded turns are
// on the original timeline; Offset is added so they match the padded audio
// the diarizer is handed.
type Diarizer struct {
	path   string
	Offset time.Duration
}

var _ diarize.Backend = (*Diarizer)(nil)

// NewDiarizer returns a diarizer reading turns from path.
func NewDiarizer(path string, offset time.Duration) *Diarizer {
	return &Diarizer{path: path, Offset: offset}
}

func (d *Diarizer) Name() string { return DiarizerName }

func (d *Diarizer) Diarize(ctx context.Context, audioPath string, opts diarize.Options) ([]diarize.Turn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := Load(d.path)
	if err != nil {
		return nil, err
	}
	turns := f.TurnList()
	for i := range turns {
		turns[i].Start += d.Offset
		turns[i].End += d.Offset
	}
	return turns, nil
}

func (d *Diarizer) HealthCheck(ctx context.Context) (*diarize.HealthStatus, error) {
	status := &diarize.HealthStatus{Backend: DiarizerName}
	if _, err := Load(d.path); err != nil {
		status.Message = err.Error()
		return status, nil
	}
	status.OK = true
	status.Message = "fixture readable"
	return status, nil
}
