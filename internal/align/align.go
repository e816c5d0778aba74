// Package align assigns diarization speaker labels to transcription segments
// by maximum temporal overlap.
//
// Tie-break policy: turns are compared with a non-strict >= against the best
// overlap so far, and the running best starts at zero. Among turns tied for
// the maximum the one scanned last wins, and a turn that only touches a
// segment at a boundary (overlap exactly zero) still produces an assignment.
// A segment stays unassigned only when every turn yields a strictly negative
// overlap.
package align

import (
	"errors"
	"fmt"
	"time"

	"github.com/tiroq/speakerscribe/internal/asr"
	"github.com/tiroq/speakerscribe/internal/diarize"
)

// UnknownSpeaker is the label rendered for segments with no assignment.
const UnknownSpeaker = "SPEAKER"

var (
	// ErrInvalidInterval is returned when a segment or turn ends before it starts.
	ErrInvalidInterval = errors.New("invalid interval")
	// ErrDuplicateSegmentID is returned when two segments share an id.
	ErrDuplicateSegmentID = errors.New("duplicate segment id")
)

// InputError identifies the element that failed a precondition.
type InputError struct {
	Kind  error  // ErrInvalidInterval or ErrDuplicateSegmentID
	What  string // "segment" or "turn"
	Index int    // position in the input slice
	ID    int    // segment id; meaningless for turns
	Start time.Duration
	End   time.Duration
}

func (e *InputError) Error() string {
	switch {
	case e.Kind == ErrDuplicateSegmentID:
		return fmt.Sprintf("align: %v %d at segment index %d", e.Kind, e.ID, e.Index)
	case e.What == "segment":
		return fmt.Sprintf("align: %v: segment %d (index %d) ends at %s before start %s", e.Kind, e.ID, e.Index, e.End, e.Start)
	default:
		return fmt.Sprintf("align: %v: turn %d ends at %s before start %s", e.Kind, e.Index, e.End, e.Start)
	}
}

func (e *InputError) Unwrap() error { return e.Kind }

// Alignment maps segment id to speaker label. Segments without an entry are
// unassigned.
type Alignment map[int]string

// Label returns the speaker for id, or UnknownSpeaker.
func (a Alignment) Label(id int) string {
	if l, ok := a[id]; ok {
		return l
	}
	return UnknownSpeaker
}

// Overlap returns the length shared by [aStart, aEnd] and [bStart, bEnd].
// Negative values are the gap between disjoint intervals.
func Overlap(aStart, aEnd, bStart, bEnd time.Duration) time.Duration {
	return min(aEnd, bEnd) - max(aStart, bStart)
}

// Align matches every segment to the turn with maximum overlap. An empty
// turn set yields an empty, non-nil alignment.
func Align(segments []asr.Segment, turns []diarize.Turn) (Alignment, error) {
	if err := CheckSegments(segments); err != nil {
		return nil, err
	}
	for i, t := range turns {
		if t.End < t.Start {
			return nil, &InputError{Kind: ErrInvalidInterval, What: "turn", Index: i, Start: t.Start, End: t.End}
		}
	}

	out := make(Alignment, len(segments))
	if len(turns) == 0 {
		return out, nil
	}
	for _, seg := range segments {
		var best time.Duration
		for _, t := range turns {
			o := Overlap(seg.Start, seg.End, t.Start, t.End)
			if o >= best {
				best = o
				out[seg.ID] = t.Speaker
			}
		}
	}
	return out, nil
}

// CheckSegments validates segment intervals and id uniqueness.
func CheckSegments(segments []asr.Segment) error {
	seen := make(map[int]struct{}, len(segments))
	for i, s := range segments {
		if s.End < s.Start {
			return &InputError{Kind: ErrInvalidInterval, What: "segment", Index: i, ID: s.ID, Start: s.Start, End: s.End}
		}
		if _, dup := seen[s.ID]; dup {
			return &InputError{Kind: ErrDuplicateSegmentID, What: "segment", Index: i, ID: s.ID}
		}
		seen[s.ID] = struct{}{}
	}
	return nil
}
