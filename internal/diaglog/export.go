package diaglog

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// Version is injected at link time from the main package; defaults to "dev".
var Version = "dev"

// Bundle is the first line written to an export file.
type Bundle struct {
	ExportedAt string `json:"exported_at"`
	Version    string `json:"speakerscribe_version"`
	GoVersion  string `json:"go_version"`
	OS         string `json:"os"`
	Arch       string `json:"arch"`
	LogFile    string `json:"log_file"`
	RunID      string `json:"run_id,omitempty"`
	EntryCount int    `json:"entry_count"`
}

// Export copies the NDJSON entries of logPath into
// dest/speakerscribe-diag-<ts>.ndjson behind a Bundle header line. When runID
// is non-empty only entries of that run are included. Returns the written
// path and the number of entries copied.
func Export(logPath, dest, runID string) (path string, lines int, err error) {
	src, err := os.Open(logPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", 0, fmt.Errorf("log file not found at %s: %w", logPath, os.ErrNotExist)
		}
		return "", 0, fmt.Errorf("log file unreadable: %w", err)
	}
	defer func() { _ = src.Close() }()

	var kept [][]byte
	scanner := bufio.NewScanner(src)
	scanner.Buffer(make([]byte, 64*1024), DefaultMaxSize)
	for scanner.Scan() {
		raw := scanner.Bytes()
		if runID != "" && !belongsToRun(raw, runID) {
			continue
		}
		line := make([]byte, len(raw))
		copy(line, raw)
		kept = append(kept, line)
	}
	if serr := scanner.Err(); serr != nil {
		return "", 0, fmt.Errorf("log file unreadable: %w", serr)
	}

	tstamp := time.Now().UTC().Format("20060102T150405")
	outPath := filepath.Join(dest, "speakerscribe-diag-"+tstamp+".ndjson")

	out, err := os.OpenFile(outPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return "", 0, fmt.Errorf("output file could not be created: %w", err)
	}
	defer func() { _ = out.Close() }()

	header, err := json.Marshal(Bundle{
		ExportedAt: time.Now().UTC().Format(time.RFC3339),
		Version:    Version,
		GoVersion:  runtime.Version(),
		OS:         runtime.GOOS,
		Arch:       runtime.GOARCH,
		LogFile:    logPath,
		RunID:      runID,
		EntryCount: len(kept),
	})
	if err != nil {
		return "", 0, err
	}

	w := bufio.NewWriter(out)
	if _, err := w.Write(append(header, '\n')); err != nil {
		return "", 0, err
	}
	for _, line := range kept {
		if _, err := w.Write(append(line, '\n')); err != nil {
			return "", 0, err
		}
	}
	if err := w.Flush(); err != nil {
		return "", 0, err
	}

	return outPath, len(kept), nil
}

func belongsToRun(line []byte, runID string) bool {
	var e struct {
		RunID string `json:"run_id"`
	}
	if err := json.Unmarshal(line, &e); err != nil {
		return false
	}
	return e.RunID == runID
}
