package main

import (
	"fmt"

	"github.com/tiroq/speakerscribe/internal/asr"
	"github.com/tiroq/speakerscribe/internal/asr/localwhisper"
	"github.com/tiroq/speakerscribe/internal/asr/openaistt"
	"github.com/tiroq/speakerscribe/internal/asr/remotewhisper"
	"github.com/tiroq/speakerscribe/internal/asr/whispercpp"
	"github.com/tiroq/speakerscribe/internal/audio"
	"github.com/tiroq/speakerscribe/internal/config"
	"github.com/tiroq/speakerscribe/internal/diaglog"
	"github.com/tiroq/speakerscribe/internal/diarize"
	"github.com/tiroq/speakerscribe/internal/diarize/pyannote"
	"github.com/tiroq/speakerscribe/internal/diarize/remote"
	"github.com/tiroq/speakerscribe/internal/fixture"
	"github.com/tiroq/speakerscribe/internal/logger"
	"github.com/tiroq/speakerscribe/internal/pipeline"
)

type backends struct {
	prep     *audio.Preprocessor
	registry *asr.Registry
	diarizer diarize.Backend
	closers  []func() error
}

func (b *backends) close() {
	for _, c := range b.closers {
		_ = c()
	}
}

func buildBackends(cfg *config.Config, log *logger.Logger, diag *diaglog.Logger) (*backends, error) {
	b := &backends{
		prep: &audio.Preprocessor{
			FFmpegPath: cfg.Preprocess.FFmpeg,
			WorkDir:    cfg.Preprocess.WorkDir,
			SampleRate: cfg.Preprocess.SampleRate,
			Pad:        cfg.Preprocess.Pad,
			Timeout:    cfg.Preprocess.Timeout,
		},
		registry: asr.NewRegistry(),
	}

	names := []string{cfg.Transcriber.Backend}
	if fb := cfg.Transcriber.Fallback; fb != "" && fb != cfg.Transcriber.Backend {
		names = append(names, fb)
	}
	for _, name := range names {
		t, err := newTranscriber(cfg, name, diag, b)
		if err != nil {
			b.close()
			return nil, err
		}
		b.registry.Register(name, t)
	}
	b.registry.SetPrimary(cfg.Transcriber.Backend)
	if len(names) > 1 {
		b.registry.SetFallback(names[1])
	}

	if cfg.Diarize {
		d, err := newDiarizer(cfg, diag)
		if err != nil {
			b.close()
			return nil, err
		}
		b.diarizer = d
	}

	log.Debugw("Backends ready", "transcribers", b.registry.Backends(), "diarize", cfg.Diarize)
	return b, nil
}

func newTranscriber(cfg *config.Config, name string, diag *diaglog.Logger, b *backends) (asr.Backend, error) {
	tc := cfg.Transcriber
	switch name {
	case config.TranscriberLocalWhisper:
		return localwhisper.NewBackend(localwhisper.Config{
			BinaryPath:     tc.LocalWhisper.Binary,
			ModelPath:      tc.LocalWhisper.ModelPath,
			Model:          tc.Model,
			Threads:        tc.LocalWhisper.Threads,
			TimeoutSeconds: tc.LocalWhisper.TimeoutSeconds,
		}), nil
	case config.TranscriberRemote:
		c := remotewhisper.NewClient(remotewhisper.Config{
			BaseURL:        tc.Remote.BaseURL,
			Token:          tc.Remote.Token,
			TimeoutSeconds: tc.Remote.TimeoutSeconds,
			Retries:        tc.Remote.Retries,
			Model:          tc.Model,
		})
		c.SetLogger(diag)
		return c, nil
	case config.TranscriberOpenAI:
		// Local model names such as small.en mean nothing to the API, so the
		// OpenAI default model is used.
		return openaistt.New(openaistt.Config{
			APIKey:         tc.OpenAI.APIKey,
			BaseURL:        tc.OpenAI.BaseURL,
			TimeoutSeconds: tc.OpenAI.TimeoutSeconds,
		})
	case config.TranscriberWhisperCpp:
		w, err := whispercpp.New(whispercpp.Config{ModelPath: tc.WhisperCpp.ModelPath, Threads: tc.WhisperCpp.Threads})
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, w.Close)
		return w, nil
	case config.TranscriberFixture:
		return fixture.NewTranscriber(tc.Fixture), nil
	default:
		return nil, fmt.Errorf("unknown transcriber %q", name)
	}
}

func newDiarizer(cfg *config.Config, diag *diaglog.Logger) (diarize.Backend, error) {
	dc := cfg.Diarizer
	switch dc.Backend {
	case config.DiarizerPyannote:
		return pyannote.New(pyannote.Config{
			PythonPath:     dc.Pyannote.Python,
			ScriptPath:     dc.Pyannote.Script,
			Model:          dc.Pyannote.Model,
			Device:         dc.Pyannote.Device,
			TimeoutSeconds: dc.Pyannote.TimeoutSeconds,
		}), nil
	case config.DiarizerRemote:
		c := remote.NewClient(remote.Config{
			URL:            dc.Remote.URL,
			Token:          dc.Remote.Token,
			TimeoutSeconds: dc.Remote.TimeoutSeconds,
		})
		c.SetLogger(diag)
		return c, nil
	case config.DiarizerFixture:
		// Recorded turns are on the original timeline; shift them onto the
		// padded audio the diarizer is given.
		return fixture.NewDiarizer(dc.Fixture, cfg.Preprocess.Pad), nil
	default:
		return nil, fmt.Errorf("unknown diarizer %q", dc.Backend)
	}
}

func pipelineOptions(cfg *config.Config) pipeline.Options {
	return pipeline.Options{
		Formats:         cfg.Formats,
		Transcribe:      asr.TranscribeOptions{Language: cfg.Language, Prompt: cfg.Prompt},
		Diarize:         diarize.Options{NumSpeakers: cfg.Speakers, Token: cfg.Token},
		Parallel:        cfg.Parallel,
		DiarizeOptional: cfg.DiarizeOptional,
		Metadata:        cfg.Metadata,
		LockWait:        cfg.LockWait,
	}
}
