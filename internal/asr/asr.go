// Package asr defines the transcription capability used by the pipeline and
// the types shared by every speech-to-text backend.
package asr

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrInvalidSegments is returned by Validate when a backend produced segments
// that violate the ordering contract.
var ErrInvalidSegments = errors.New("asr: invalid segment sequence")

// Segment represents a single transcribed segment with timing. ID is unique
// within a transcript and increases in production order.
type Segment struct {
	ID       int
	Start    time.Duration
	End      time.Duration
	Text     string
	Language string
	Score    float64 // confidence 0.0–1.0
}

// Transcript represents a complete transcription result.
type Transcript struct {
	Segments []Segment
	Language string
	Duration time.Duration
	Model    string
	Backend  string
}

// TranscribeOptions configures a transcription request.
type TranscribeOptions struct {
	Language string // "" = auto-detect
	Model    string // backend-specific model name
	Prompt   string // optional vocabulary hint
}

// HealthStatus reports backend health.
type HealthStatus struct {
	OK      bool
	Backend string
	Message string
	Latency time.Duration
}

// Backend is the interface that ASR backends must implement.
type Backend interface {
	Name() string
	TranscribeFile(ctx context.Context, filePath string, opts TranscribeOptions) (*Transcript, error)
	HealthCheck(ctx context.Context) (*HealthStatus, error)
}

// Renumber assigns sequential ids starting at zero in slice order. Backends
// whose engine does not report segment ids call it before returning.
func Renumber(segments []Segment) {
	for i := range segments {
		segments[i].ID = i
	}
}

// Validate checks the contract the aligner relies on: ids strictly
// increasing, starts non-decreasing and no segment ending before it starts.
func Validate(segments []Segment) error {
	for i, seg := range segments {
		if seg.End < seg.Start {
			return fmt.Errorf("%w: segment %d ends (%s) before it starts (%s)", ErrInvalidSegments, seg.ID, seg.End, seg.Start)
		}
		if i == 0 {
			continue
		}
		prev := segments[i-1]
		if seg.ID <= prev.ID {
			return fmt.Errorf("%w: segment id %d follows id %d", ErrInvalidSegments, seg.ID, prev.ID)
		}
		if seg.Start < prev.Start {
			return fmt.Errorf("%w: segment %d starts (%s) before segment %d (%s)", ErrInvalidSegments, seg.ID, seg.Start, prev.ID, prev.Start)
		}
	}
	return nil
}

// SecondsToDuration converts fractional seconds as reported by whisper-style
// engines to a time.Duration.
func SecondsToDuration(sec float64) time.Duration {
	return time.Duration(sec * float64(time.Second))
}
