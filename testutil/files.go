// Package testutil holds helpers shared by package tests: fake engine
// binaries, canned audio and assertions.
package testutil

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/tiroq/speakerscribe/internal/audio"
)

// FakeBinary writes an executable shell script standing in for an engine
// CLI and returns its path. Skips on Windows.
func FakeBinary(t *testing.T, dir, name, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported on windows")
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(script), 0755); err != nil {
		t.Fatalf("failed to write fake binary: %v", err)
	}
	return path
}

// WriteFile writes content to path, creating parent directories.
func WriteFile(t *testing.T, path, content string) string {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

// SilentWAV writes d of 16 kHz mono silence to dir/name, a file the
// preprocessor accepts without ffmpeg.
func SilentWAV(t *testing.T, dir, name string, d time.Duration) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := audio.WriteSilence(path, audio.DefaultSampleRate, d); err != nil {
		t.Fatalf("write silence: %v", err)
	}
	return path
}
