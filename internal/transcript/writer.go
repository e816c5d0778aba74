package transcript

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tiroq/speakerscribe/internal/align"
	"github.com/tiroq/speakerscribe/internal/asr"
)

// Supported output formats.
const (
	FormatText = "txt"
	FormatSRT  = "srt"
	FormatVTT  = "vtt"
	FormatJSON = "json"
)

// WriteSRT writes a SubRip (.srt) subtitle file. Cue text is prefixed with
// the speaker label when the segment was assigned one.
func WriteSRT(path string, segments []asr.Segment, a align.Alignment) error {
	var b strings.Builder
	for i, seg := range segments {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%d\n", i+1)
		fmt.Fprintf(&b, "%s --> %s\n", formatSRTTimestamp(seg.Start), formatSRTTimestamp(seg.End))
		fmt.Fprintf(&b, "%s\n", cueText(seg, a))
	}
	return atomicWrite(path, []byte(b.String()))
}

// WriteVTT writes a WebVTT (.vtt) subtitle file. Known speakers use the
// WebVTT voice span so players can style them.
func WriteVTT(path string, segments []asr.Segment, a align.Alignment) error {
	var b strings.Builder
	b.WriteString("WEBVTT\n")
	for _, seg := range segments {
		b.WriteByte('\n')
		fmt.Fprintf(&b, "%s --> %s\n", FormatTimestamp(seg.Start), FormatTimestamp(seg.End))
		if label, ok := a[seg.ID]; ok {
			fmt.Fprintf(&b, "<v %s>%s\n", label, strings.TrimSpace(seg.Text))
		} else {
			fmt.Fprintf(&b, "%s\n", strings.TrimSpace(seg.Text))
		}
	}
	return atomicWrite(path, []byte(b.String()))
}

// jsonSegment is one record of the JSON output.
type jsonSegment struct {
	ID      int     `json:"id"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Speaker string  `json:"speaker,omitempty"`
	Text    string  `json:"text"`
}

// WriteJSON writes the aligned segments as an indented JSON array with
// start/end in seconds. Unassigned segments omit the speaker field.
func WriteJSON(path string, segments []asr.Segment, a align.Alignment) error {
	out := make([]jsonSegment, 0, len(segments))
	for _, seg := range segments {
		out = append(out, jsonSegment{
			ID:      seg.ID,
			Start:   seg.Start.Seconds(),
			End:     seg.End.Seconds(),
			Speaker: a[seg.ID],
			Text:    strings.TrimSpace(seg.Text),
		})
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding json transcript: %w", err)
	}
	return atomicWrite(path, append(data, '\n'))
}

// WriteAll writes the transcript in every requested format. basePath is the
// file path without extension. The txt format is appended to; the others
// are replaced atomically. If formats is empty, defaults to ["txt"].
// Returns the paths written and a combined error listing all failures.
func WriteAll(basePath string, segments []asr.Segment, a align.Alignment, formats []string) ([]string, error) {
	if len(formats) == 0 {
		formats = []string{FormatText}
	}
	var written []string
	var errs []string
	for _, f := range formats {
		path := basePath + "." + f
		var err error
		switch f {
		case FormatText:
			var text string
			text, err = Format(segments, a)
			if err == nil {
				err = AppendText(path, text)
			}
		case FormatSRT:
			err = WriteSRT(path, segments, a)
		case FormatVTT:
			err = WriteVTT(path, segments, a)
		case FormatJSON:
			err = WriteJSON(path, segments, a)
		default:
			errs = append(errs, fmt.Sprintf("unknown format %q", f))
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", f, err))
			continue
		}
		written = append(written, path)
	}
	if len(errs) > 0 {
		return written, fmt.Errorf("transcript write errors: %s", strings.Join(errs, "; "))
	}
	return written, nil
}

// ValidFormat reports whether f is a supported output format.
func ValidFormat(f string) bool {
	switch f {
	case FormatText, FormatSRT, FormatVTT, FormatJSON:
		return true
	}
	return false
}

func cueText(seg asr.Segment, a align.Alignment) string {
	text := strings.TrimSpace(seg.Text)
	if label, ok := a[seg.ID]; ok {
		return label + ": " + text
	}
	return text
}

// atomicWrite writes data to path atomically using a temp file + rename.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}

	tmpFile, err := os.CreateTemp(dir, "transcript-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	// Ensure cleanup on error.
	defer func() {
		if tmpFile != nil {
			tmpFile.Close()
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		return fmt.Errorf("writing transcript: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("syncing transcript: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("closing transcript: %w", err)
	}
	tmpFile = nil

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming transcript: %w", err)
	}
	return nil
}
