// Package fileutil holds output file helpers: run metadata sidecars and
// filename derivation for watched inputs.
package fileutil

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tiroq/speakerscribe/internal/align"
)

// MetadataVersion is bumped when the sidecar layout changes.
const MetadataVersion = "1"

// RunMetadata is the sidecar written next to the transcript of each run.
type RunMetadata struct {
	Version     string        `json:"version"`
	RunID       string        `json:"run_id"`
	Input       string        `json:"input"`
	StartedAt   time.Time     `json:"started_at"`
	FinishedAt  time.Time     `json:"finished_at"`
	AudioMs     int64         `json:"audio_duration_ms"`
	Transcriber *StageMeta    `json:"transcriber,omitempty"`
	Diarizer    *StageMeta    `json:"diarizer,omitempty"`
	Speakers    *align.Stats  `json:"speakers,omitempty"`
	Outputs     []string      `json:"outputs"`
	Degraded    bool          `json:"degraded,omitempty"`
	Elapsed     time.Duration `json:"elapsed_ns"`
}

// StageMeta describes one pipeline stage.
type StageMeta struct {
	Backend  string `json:"backend"`
	Model    string `json:"model,omitempty"`
	Language string `json:"language,omitempty"`
	Items    int    `json:"items"`
	Error    string `json:"error,omitempty"`
	Ms       int64  `json:"elapsed_ms"`
}

// WriteMetadata writes <base>.meta.json atomically (temp + rename) and
// returns its path. base is the output path without extension.
func WriteMetadata(base string, meta *RunMetadata) (string, error) {
	metaPath := MetadataPath(base)
	dir := filepath.Dir(metaPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create metadata directory: %w", err)
	}
	if meta.Version == "" {
		meta.Version = MetadataVersion
	}

	tmpFile, err := os.CreateTemp(dir, "meta-*.tmp")
	if err != nil {
		return "", fmt.Errorf("create metadata temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			tmpFile.Close()
			os.Remove(tmpPath)
		}
	}()

	encoder := json.NewEncoder(tmpFile)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(meta); err != nil {
		return "", fmt.Errorf("encode metadata: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return "", fmt.Errorf("sync metadata: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return "", fmt.Errorf("close metadata temp: %w", err)
	}
	success = true

	if err := os.Rename(tmpPath, metaPath); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("rename metadata: %w", err)
	}
	return metaPath, nil
}

// ReadMetadata loads a sidecar written by WriteMetadata.
func ReadMetadata(base string) (*RunMetadata, error) {
	data, err := os.ReadFile(MetadataPath(base))
	if err != nil {
		return nil, err
	}
	var meta RunMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return &meta, nil
}

// MetadataPath returns <base>.meta.json.
func MetadataPath(base string) string {
	return base + ".meta.json"
}
