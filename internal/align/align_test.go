package align

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/tiroq/speakerscribe/internal/asr"
	"github.com/tiroq/speakerscribe/internal/diarize"
)

func sec(f float64) time.Duration { return time.Duration(f * float64(time.Second)) }

func seg(id int, start, end float64, text string) asr.Segment {
	return asr.Segment{ID: id, Start: sec(start), End: sec(end), Text: text}
}

func turn(start, end float64, speaker string) diarize.Turn {
	return diarize.Turn{Start: sec(start), End: sec(end), Speaker: speaker}
}

func TestAlign_TwoSpeakers(t *testing.T) {
	segments := []asr.Segment{seg(1, 0, 5, "Hello"), seg(2, 5, 10, "World")}
	turns := []diarize.Turn{turn(0, 6, "SPEAKER_00"), turn(6, 10, "SPEAKER_01")}

	got, err := Align(segments, turns)
	if err != nil {
		t.Fatalf("Align: %v", err)
	}
	want := Alignment{1: "SPEAKER_00", 2: "SPEAKER_01"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Align = %v, want %v", got, want)
	}
}

func TestAlign_NoTurns(t *testing.T) {
	segments := []asr.Segment{seg(1, 0, 2, "A"), seg(2, 2, 4, "B")}

	for _, turns := range [][]diarize.Turn{nil, {}} {
		got, err := Align(segments, turns)
		if err != nil {
			t.Fatalf("Align: %v", err)
		}
		if got == nil {
			t.Fatal("expected non-nil empty alignment")
		}
		if len(got) != 0 {
			t.Errorf("expected empty alignment, got %v", got)
		}
	}
}

func TestAlign_NoSegments(t *testing.T) {
	got, err := Align(nil, []diarize.Turn{turn(0, 1, "A")})
	if err != nil {
		t.Fatalf("Align: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected empty alignment, got %v", got)
	}
}

func TestAlign_TieBreakLaterTurnWins(t *testing.T) {
	segments := []asr.Segment{seg(0, 0, 4, "x")}

	got, err := Align(segments, []diarize.Turn{turn(0, 2, "A"), turn(2, 4, "B")})
	if err != nil {
		t.Fatalf("Align: %v", err)
	}
	if got[0] != "B" {
		t.Errorf("tie: got %q, want later turn B", got[0])
	}

	got, err = Align(segments, []diarize.Turn{turn(2, 4, "B"), turn(0, 2, "A")})
	if err != nil {
		t.Fatalf("Align: %v", err)
	}
	if got[0] != "A" {
		t.Errorf("tie reversed: got %q, want later turn A", got[0])
	}
}

func TestAlign_SmallerLaterOverlapDoesNotReplace(t *testing.T) {
	segments := []asr.Segment{seg(0, 0, 10, "x")}
	turns := []diarize.Turn{turn(0, 6, "A"), turn(8, 9, "B")}

	got, err := Align(segments, turns)
	if err != nil {
		t.Fatalf("Align: %v", err)
	}
	if got[0] != "A" {
		t.Errorf("got %q, want A", got[0])
	}
}

func TestAlign_BoundaryTouchAssigns(t *testing.T) {
	// Segment starts exactly where the only turn ends: overlap is 0 and is
	// still accepted.
	segments := []asr.Segment{seg(0, 5, 10, "x")}
	turns := []diarize.Turn{turn(0, 5, "A")}

	got, err := Align(segments, turns)
	if err != nil {
		t.Fatalf("Align: %v", err)
	}
	if got[0] != "A" {
		t.Errorf("boundary touch: got %v, want A", got)
	}
}

func TestAlign_TurnEndingAtPadAssignsFirstSegment(t *testing.T) {
	turns, err := diarize.RemovePad([]diarize.Turn{turn(1, 2, "X")}, 2*time.Second)
	if err != nil {
		t.Fatalf("RemovePad: %v", err)
	}
	got, err := Align([]asr.Segment{seg(0, 0, 1, "hi")}, turns)
	if err != nil {
		t.Fatalf("Align: %v", err)
	}
	if got[0] != "X" {
		t.Errorf("got %v, want X", got)
	}
}

func TestAlign_DisjointStaysUnassigned(t *testing.T) {
	segments := []asr.Segment{seg(0, 6, 10, "x")}
	turns := []diarize.Turn{turn(0, 5, "A"), turn(11, 12, "B")}

	got, err := Align(segments, turns)
	if err != nil {
		t.Fatalf("Align: %v", err)
	}
	if _, ok := got[0]; ok {
		t.Errorf("expected segment 0 unassigned, got %q", got[0])
	}
	if got.Label(0) != UnknownSpeaker {
		t.Errorf("Label = %q, want %q", got.Label(0), UnknownSpeaker)
	}
}

func TestAlign_ZeroOverlapThenNegativeKeepsFirst(t *testing.T) {
	segments := []asr.Segment{seg(0, 5, 8, "x")}
	turns := []diarize.Turn{turn(2, 5, "A"), turn(20, 30, "B")}

	got, err := Align(segments, turns)
	if err != nil {
		t.Fatalf("Align: %v", err)
	}
	if got[0] != "A" {
		t.Errorf("got %q, want A", got[0])
	}
}

func TestAlign_UnorderedTurnsScannedFully(t *testing.T) {
	segments := []asr.Segment{seg(0, 0, 5, "x")}
	turns := []diarize.Turn{turn(20, 30, "LATE"), turn(0, 10, "EARLY")}

	got, err := Align(segments, turns)
	if err != nil {
		t.Fatalf("Align: %v", err)
	}
	if got[0] != "EARLY" {
		t.Errorf("got %q, want EARLY", got[0])
	}
}

func TestAlign_InvalidSegmentInterval(t *testing.T) {
	segments := []asr.Segment{seg(0, 0, 1, "ok"), seg(1, 5, 4, "bad")}

	_, err := Align(segments, []diarize.Turn{turn(0, 10, "A")})
	if !errors.Is(err, ErrInvalidInterval) {
		t.Fatalf("expected ErrInvalidInterval, got %v", err)
	}
	var ie *InputError
	if !errors.As(err, &ie) {
		t.Fatalf("expected *InputError, got %T", err)
	}
	if ie.What != "segment" || ie.Index != 1 || ie.ID != 1 {
		t.Errorf("InputError = %+v", ie)
	}
}

func TestAlign_InvalidTurnInterval(t *testing.T) {
	_, err := Align([]asr.Segment{seg(0, 0, 1, "ok")}, []diarize.Turn{turn(0, 1, "A"), turn(3, 2, "B")})
	if !errors.Is(err, ErrInvalidInterval) {
		t.Fatalf("expected ErrInvalidInterval, got %v", err)
	}
	var ie *InputError
	if errors.As(err, &ie) && (ie.What != "turn" || ie.Index != 1) {
		t.Errorf("InputError = %+v", ie)
	}
}

func TestAlign_InvalidTurnRejectedEvenWithoutSegments(t *testing.T) {
	_, err := Align(nil, []diarize.Turn{turn(3, 2, "B")})
	if !errors.Is(err, ErrInvalidInterval) {
		t.Fatalf("expected ErrInvalidInterval, got %v", err)
	}
}

func TestAlign_DuplicateSegmentID(t *testing.T) {
	segments := []asr.Segment{seg(4, 0, 1, "a"), seg(4, 1, 2, "b")}

	_, err := Align(segments, nil)
	if !errors.Is(err, ErrDuplicateSegmentID) {
		t.Fatalf("expected ErrDuplicateSegmentID, got %v", err)
	}
}

func TestAlign_Deterministic(t *testing.T) {
	segments := []asr.Segment{seg(0, 0, 3, "a"), seg(1, 3, 7, "b"), seg(2, 7, 9, "c")}
	turns := []diarize.Turn{turn(0, 3.5, "A"), turn(3.5, 7, "B"), turn(7, 9, "A")}

	first, err := Align(segments, turns)
	if err != nil {
		t.Fatalf("Align: %v", err)
	}
	for i := 0; i < 20; i++ {
		again, err := Align(segments, turns)
		if err != nil {
			t.Fatalf("Align: %v", err)
		}
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("run %d differs: %v vs %v", i, first, again)
		}
	}
}

func TestOverlap_Symmetric(t *testing.T) {
	cases := [][4]float64{
		{0, 5, 3, 8},
		{0, 5, 5, 9},
		{0, 5, 6, 9},
		{2, 3, 0, 10},
		{1, 1, 1, 1},
	}
	for _, c := range cases {
		a := Overlap(sec(c[0]), sec(c[1]), sec(c[2]), sec(c[3]))
		b := Overlap(sec(c[2]), sec(c[3]), sec(c[0]), sec(c[1]))
		if a != b {
			t.Errorf("Overlap(%v) not symmetric: %v vs %v", c, a, b)
		}
	}
	if got := Overlap(0, sec(5), sec(3), sec(8)); got != sec(2) {
		t.Errorf("Overlap = %v, want 2s", got)
	}
	if got := Overlap(0, sec(5), sec(6), sec(9)); got != -sec(1) {
		t.Errorf("disjoint Overlap = %v, want -1s", got)
	}
}

func TestSummarize(t *testing.T) {
	segments := []asr.Segment{seg(0, 0, 2, "a"), seg(1, 2, 5, "b"), seg(2, 5, 6, "c"), seg(3, 6, 7, "d")}
	a := Alignment{0: "B", 1: "A", 2: "B"}

	st := Summarize(segments, a)
	if st.Assigned != 3 || st.Unassigned != 1 {
		t.Errorf("assigned/unassigned = %d/%d", st.Assigned, st.Unassigned)
	}
	want := []SpeakerStats{
		{Speaker: "A", Segments: 1, Duration: sec(3)},
		{Speaker: "B", Segments: 2, Duration: sec(3)},
	}
	if !reflect.DeepEqual(st.Speakers, want) {
		t.Errorf("Speakers = %+v, want %+v", st.Speakers, want)
	}
}
