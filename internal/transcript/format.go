// Package transcript renders aligned segments into speaker-attributed
// transcripts and writes them to disk.
package transcript

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tiroq/speakerscribe/internal/align"
	"github.com/tiroq/speakerscribe/internal/asr"
)

// Format renders segments as blocks headed by "[HH:MM:SS.mmm] LABEL:".
// Consecutive segments of the same known speaker share one header; every
// unassigned segment gets its own UnknownSpeaker header. Each segment's text
// is followed by a blank line.
func Format(segments []asr.Segment, a align.Alignment) (string, error) {
	var b strings.Builder
	prev := ""
	for i, seg := range segments {
		if seg.End < seg.Start {
			return "", &align.InputError{Kind: align.ErrInvalidInterval, What: "segment", Index: i, ID: seg.ID, Start: seg.Start, End: seg.End}
		}
		label := a.Label(seg.ID)
		if label != prev || label == align.UnknownSpeaker {
			fmt.Fprintf(&b, "[%s] %s:\n", FormatTimestamp(seg.Start), label)
			prev = label
		}
		b.WriteString(seg.Text)
		b.WriteString("\n\n")
	}
	return b.String(), nil
}

// AppendText appends text to path, creating the file and its directory when
// missing. Existing content is kept so repeated runs accumulate.
func AppendText(path, text string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("opening transcript: %w", err)
	}
	if _, err := f.WriteString(text); err != nil {
		f.Close()
		return fmt.Errorf("appending transcript: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("syncing transcript: %w", err)
	}
	return f.Close()
}

// FormatTimestamp formats a duration as HH:MM:SS.mmm. Hours are always
// present and grow past two digits for very long recordings.
func FormatTimestamp(d time.Duration) string {
	return formatClock(d, '.')
}

// formatSRTTimestamp formats a duration as HH:MM:SS,mmm (SRT subtitle format).
func formatSRTTimestamp(d time.Duration) string {
	return formatClock(d, ',')
}

func formatClock(d time.Duration, sep byte) string {
	if d < 0 {
		d = 0
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	ms := int(d.Milliseconds()) % 1000
	return fmt.Sprintf("%02d:%02d:%02d%c%03d", h, m, s, sep, ms)
}
