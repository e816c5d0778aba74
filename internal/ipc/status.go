// Package ipc shares watch-mode progress with other processes through an
// atomically replaced JSON status file.
package ipc

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// State is what the watcher is doing.
type State string

const (
	StateIdle       State = "idle"
	StateProcessing State = "processing"
	StateStopped    State = "stopped"
)

// StatusSnapshot is the watcher state at a point in time.
type StatusSnapshot struct {
	State     State     `json:"state"`
	PID       int       `json:"pid"`
	Dir       string    `json:"dir"`
	Current   string    `json:"current,omitempty"` // file being processed
	Processed int       `json:"processed"`
	Failed    int       `json:"failed"`
	LastFile  string    `json:"last_file,omitempty"`
	LastRunID string    `json:"last_run_id,omitempty"`
	LastError string    `json:"last_error,omitempty"`
	StartedAt time.Time `json:"started_at"`
	Timestamp time.Time `json:"timestamp"`
}

// DefaultStatusPath returns ~/.cache/speakerscribe/status.json.
func DefaultStatusPath() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "speakerscribe", "status.json")
	}
	return filepath.Join(os.TempDir(), "speakerscribe-status.json")
}

// WriteStatus persists status to path using an atomic write.
func WriteStatus(path string, status *StatusSnapshot) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	status.Timestamp = time.Now()
	return atomicWriteJSON(path, status)
}

// ReadStatus loads the snapshot at path.
func ReadStatus(path string) (*StatusSnapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var status StatusSnapshot
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// atomicWriteJSON writes data to a file atomically using temp file + rename
func atomicWriteJSON(path string, data interface{}) error {
	dir := filepath.Dir(path)
	tmpFile, err := os.CreateTemp(dir, "status-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()

	defer func() {
		if tmpFile != nil {
			tmpFile.Close()
			os.Remove(tmpPath)
		}
	}()

	encoder := json.NewEncoder(tmpFile)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		return err
	}
	if err := tmpFile.Sync(); err != nil {
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}
	tmpFile = nil

	return os.Rename(tmpPath, path)
}
