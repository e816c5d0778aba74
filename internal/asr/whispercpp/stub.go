//go:build !whispercpp

package whispercpp

import (
	"context"

	"github.com/tiroq/speakerscribe/internal/asr"
)

var _ asr.Backend = (*Backend)(nil)

// Backend is the placeholder used when whisper.cpp is not compiled in.
type Backend struct{}

// New always returns ErrUnavailable.
func New(cfg Config) (*Backend, error) {
	return nil, ErrUnavailable
}

func (b *Backend) Close() error { return nil }

func (b *Backend) Name() string { return Name }

func (b *Backend) TranscribeFile(ctx context.Context, filePath string, opts asr.TranscribeOptions) (*asr.Transcript, error) {
	return nil, ErrUnavailable
}

func (b *Backend) HealthCheck(ctx context.Context) (*asr.HealthStatus, error) {
	return &asr.HealthStatus{Backend: Name, Message: ErrUnavailable.Error()}, nil
}
