package align

import (
	"sort"
	"time"

	"github.com/tiroq/speakerscribe/internal/asr"
)

// SpeakerStats aggregates the segments attributed to one label.
type SpeakerStats struct {
	Speaker  string        `json:"speaker"`
	Segments int           `json:"segments"`
	Duration time.Duration `json:"duration_ns"`
}

// Stats summarises an alignment.
type Stats struct {
	Assigned   int            `json:"assigned"`
	Unassigned int            `json:"unassigned"`
	Speakers   []SpeakerStats `json:"speakers"`
}

// Summarize counts assigned segments and per-speaker talk time. Speakers are
// ordered by label.
func Summarize(segments []asr.Segment, a Alignment) Stats {
	var st Stats
	bySpeaker := make(map[string]*SpeakerStats)
	for _, seg := range segments {
		label, ok := a[seg.ID]
		if !ok {
			st.Unassigned++
			continue
		}
		st.Assigned++
		ss := bySpeaker[label]
		if ss == nil {
			ss = &SpeakerStats{Speaker: label}
			bySpeaker[label] = ss
		}
		ss.Segments++
		ss.Duration += seg.End - seg.Start
	}
	for _, ss := range bySpeaker {
		st.Speakers = append(st.Speakers, *ss)
	}
	sort.Slice(st.Speakers, func(i, j int) bool { return st.Speakers[i].Speaker < st.Speakers[j].Speaker })
	return st
}
