// Package whispercpp runs whisper.cpp in-process through its CGO bindings.
// Builds without the whispercpp tag get a stub whose constructor returns
// ErrUnavailable, so the default binary needs no C toolchain.
package whispercpp

import (
	"errors"
	"time"
)

// ErrUnavailable is returned when the binary was built without whisper.cpp.
var ErrUnavailable = errors.New("whispercpp: not compiled in (rebuild with -tags whispercpp)")

// Config configures the in-process whisper.cpp backend.
type Config struct {
	ModelPath string // ggml model file
	Threads   int    // 0 = library default
}

// Name is the backend identifier in both builds.
const Name = "whispercpp"

// segmentTime converts whisper.cpp's centisecond-resolution durations,
// rounding to the millisecond used in transcript headers.
func segmentTime(d time.Duration) time.Duration {
	return d.Round(time.Millisecond)
}
