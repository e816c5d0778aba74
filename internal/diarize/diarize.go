// Package diarize defines the speaker-diarization capability and the
// adapter logic that turns engine output into turns on the original audio
// timeline.
package diarize

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"
)

// ErrInvalidTurn is returned when a turn ends before it starts.
var ErrInvalidTurn = errors.New("diarize: invalid turn")

// Turn is a speaker-attributed time span, e.g. {0s, 4.2s, "SPEAKER_00"}.
type Turn struct {
	Start   time.Duration
	End     time.Duration
	Speaker string
}

// Options configures a diarization request.
type Options struct {
	NumSpeakers int    // 0 = let the engine decide
	Token       string // model access token, never logged
}

// HealthStatus reports diarizer health.
type HealthStatus struct {
	OK      bool
	Backend string
	Message string
	Latency time.Duration
}

// Backend is implemented by every diarization engine adapter. Diarize
// returns turns on the timeline of the audio it was given.
type Backend interface {
	Name() string
	Diarize(ctx context.Context, audioPath string, opts Options) ([]Turn, error)
	HealthCheck(ctx context.Context) (*HealthStatus, error)
}

// Run diarizes paddedPath, which carries pad of leading silence, and returns
// the turns shifted back onto the unpadded timeline.
func Run(ctx context.Context, b Backend, paddedPath string, pad time.Duration, opts Options) ([]Turn, error) {
	turns, err := b.Diarize(ctx, paddedPath, opts)
	if err != nil {
		return nil, fmt.Errorf("diarize: %s: %w", b.Name(), err)
	}
	return RemovePad(turns, pad)
}

// RemovePad subtracts pad from every turn. Turns that end before the pad does
// are dropped; a turn ending exactly at the pad becomes [0,0]. Starts inside
// the pad are clamped to zero. The result is sorted
// by start time; equal starts keep their engine order.
func RemovePad(turns []Turn, pad time.Duration) ([]Turn, error) {
	out := make([]Turn, 0, len(turns))
	for i, t := range turns {
		if t.End < t.Start {
			return nil, fmt.Errorf("%w: turn %d (%s) ends at %s before start %s", ErrInvalidTurn, i, t.Speaker, t.End, t.Start)
		}
		if t.End < pad {
			continue
		}
		t.Start -= pad
		t.End -= pad
		if t.Start < 0 {
			t.Start = 0
		}
		out = append(out, t)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out, nil
}

// Speakers returns the distinct speaker labels in order of first appearance.
func Speakers(turns []Turn) []string {
	seen := make(map[string]bool)
	var out []string
	for _, t := range turns {
		if !seen[t.Speaker] {
			seen[t.Speaker] = true
			out = append(out, t.Speaker)
		}
	}
	return out
}
