// Package pipeline runs one recording through preprocessing, transcription,
// optional diarization, alignment and transcript output.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/tiroq/speakerscribe/internal/align"
	"github.com/tiroq/speakerscribe/internal/asr"
	"github.com/tiroq/speakerscribe/internal/audio"
	"github.com/tiroq/speakerscribe/internal/diaglog"
	"github.com/tiroq/speakerscribe/internal/diarize"
	"github.com/tiroq/speakerscribe/internal/fileutil"
	"github.com/tiroq/speakerscribe/internal/lockfile"
	"github.com/tiroq/speakerscribe/internal/logger"
	"github.com/tiroq/speakerscribe/internal/transcript"
)

// Options control a Pipeline.
type Options struct {
	Formats         []string // default ["txt"]
	Transcribe      asr.TranscribeOptions
	Diarize         diarize.Options
	Parallel        bool          // run the two engines concurrently
	DiarizeOptional bool          // continue without speakers when diarization fails
	Metadata        bool          // write <base>.meta.json
	LockWait        time.Duration // 0 fails at once when the output is locked
}

// Pipeline wires the stages together. A nil Diarizer skips diarization and
// every segment is rendered under the unknown speaker label.
type Pipeline struct {
	Prep        *audio.Preprocessor
	Transcriber *asr.Registry
	Diarizer    diarize.Backend
	Log         *logger.Logger
	Diag        *diaglog.Logger
	Opts        Options

	now func() time.Time
}

// Request names one input and where its transcript goes.
type Request struct {
	Input      string
	OutputBase string // output path without extension
}

// Result describes a finished run.
type Result struct {
	RunID        string
	Transcript   *asr.Transcript
	Turns        []diarize.Turn
	Alignment    align.Alignment
	Stats        align.Stats
	Text         string
	Outputs      []string
	MetadataPath string
	Degraded     bool // diarization failed and was skipped
	Elapsed      time.Duration
}

func (p *Pipeline) clock() time.Time {
	if p.now != nil {
		return p.now()
	}
	return time.Now()
}

// Run processes req. Temporary audio is removed before returning.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Result, error) {
	if p.Transcriber == nil {
		return nil, errors.New("pipeline: no transcriber configured")
	}
	log := p.Log
	if log == nil {
		log = logger.NewNop()
	}
	prep := p.Prep
	if prep == nil {
		prep = &audio.Preprocessor{Pad: audio.DefaultPad}
	}

	runID := uuid.NewString()
	diag := p.Diag.WithRun(runID)
	log = log.With("run_id", runID, "input", req.Input)
	started := p.clock()
	res := &Result{RunID: runID}

	diag.Log(diaglog.LogEntry{
		Component: diaglog.ComponentPipeline,
		Event:     diaglog.EventRunStart,
		Payload:   map[string]interface{}{"input": req.Input, "output": req.OutputBase, "diarize": p.Diarizer != nil},
	})
	fail := func(err error) (*Result, error) {
		event := diaglog.EventRunFailed
		if IsPrecondition(err) {
			event = diaglog.EventPreconditionFail
		}
		diag.Log(diaglog.LogEntry{Component: diaglog.ComponentPipeline, Event: event, Reason: err.Error()})
		return nil, err
	}

	prepared, err := prep.Prepare(ctx, req.Input)
	if err != nil {
		return fail(fmt.Errorf("pipeline: preprocess: %w", err))
	}
	defer func() {
		if err := prepared.Cleanup(); err != nil {
			log.Warnw("Failed to remove temporary audio", "error", err)
		}
	}()
	log.Debugw("Audio prepared", "wav", prepared.WAVPath, "duration", prepared.Duration, "pad", prepared.Pad, "converted", prepared.Converted)
	diag.Log(diaglog.LogEntry{
		Component: diaglog.ComponentPreprocessor,
		Event:     diaglog.EventPreprocessDone,
		Payload:   map[string]interface{}{"duration_ms": prepared.Duration.Milliseconds(), "pad_ms": prepared.Pad.Milliseconds(), "converted": prepared.Converted},
	})

	var (
		tr    *asr.Transcript
		turns []diarize.Turn
		trMs  int64
		diMs  int64
		diErr error
	)

	g, gctx := errgroup.WithContext(ctx)
	if p.Opts.Parallel {
		g.SetLimit(2)
	} else {
		g.SetLimit(1)
	}

	if p.Diarizer != nil {
		g.Go(func() error {
			start := time.Now()
			t, err := diarize.Run(gctx, p.Diarizer, prepared.PaddedPath, prepared.Pad, p.Opts.Diarize)
			diMs = time.Since(start).Milliseconds()
			if err != nil {
				if p.Opts.DiarizeOptional && gctx.Err() == nil {
					diErr = err
					return nil
				}
				return err
			}
			turns = t
			return nil
		})
	}
	g.Go(func() error {
		start := time.Now()
		t, err := p.Transcriber.TranscribeWithFallback(gctx, prepared.WAVPath, p.Opts.Transcribe)
		trMs = time.Since(start).Milliseconds()
		if err != nil {
			return err
		}
		tr = t
		return nil
	})
	if err := g.Wait(); err != nil {
		return fail(fmt.Errorf("pipeline: %w", err))
	}
	res.Transcript = tr

	log.Infow("Transcription finished", "backend", tr.Backend, "model", tr.Model, "segments", len(tr.Segments), "elapsed_ms", trMs)
	diag.Log(diaglog.LogEntry{
		Component: diaglog.ComponentTranscriber,
		Event:     diaglog.EventTranscribeDone,
		Payload:   map[string]interface{}{"backend": tr.Backend, "model": tr.Model, "segments": len(tr.Segments), "elapsed_ms": trMs},
	})

	switch {
	case p.Diarizer == nil:
		diag.Log(diaglog.LogEntry{Component: diaglog.ComponentDiarizer, Event: diaglog.EventDiarizeSkipped, Reason: "disabled"})
	case diErr != nil:
		res.Degraded = true
		log.Warnw("Diarization failed, continuing without speakers", "backend", p.Diarizer.Name(), "error", diErr)
		diag.Log(diaglog.LogEntry{Component: diaglog.ComponentDiarizer, Event: diaglog.EventDiarizeSkipped, Reason: diErr.Error()})
	default:
		log.Infow("Diarization finished", "backend", p.Diarizer.Name(), "turns", len(turns), "speakers", len(diarize.Speakers(turns)), "elapsed_ms", diMs)
		diag.Log(diaglog.LogEntry{
			Component: diaglog.ComponentDiarizer,
			Event:     diaglog.EventDiarizeDone,
			Payload:   map[string]interface{}{"backend": p.Diarizer.Name(), "turns": len(turns), "elapsed_ms": diMs},
		})
	}
	res.Turns = turns

	a, err := align.Align(tr.Segments, turns)
	if err != nil {
		return fail(fmt.Errorf("pipeline: %w", err))
	}
	res.Alignment = a
	res.Stats = align.Summarize(tr.Segments, a)
	if len(turns) == 0 && len(tr.Segments) > 0 {
		log.Debugw("No speaker turns, every segment is unassigned")
	}
	diag.Log(diaglog.LogEntry{
		Component: diaglog.ComponentAligner,
		Event:     diaglog.EventAlignDone,
		Payload:   map[string]interface{}{"assigned": res.Stats.Assigned, "unassigned": res.Stats.Unassigned, "speakers": len(res.Stats.Speakers)},
	})

	text, err := transcript.Format(tr.Segments, a)
	if err != nil {
		return fail(fmt.Errorf("pipeline: %w", err))
	}
	res.Text = text

	outputs, err := p.write(ctx, req.OutputBase, tr.Segments, a)
	res.Outputs = outputs
	if err != nil {
		return fail(fmt.Errorf("pipeline: %w", err))
	}
	diag.Log(diaglog.LogEntry{
		Component: diaglog.ComponentWriter,
		Event:     diaglog.EventWriteDone,
		Payload:   map[string]interface{}{"outputs": outputs},
	})

	res.Elapsed = p.clock().Sub(started)

	if p.Opts.Metadata {
		path, err := fileutil.WriteMetadata(req.OutputBase, p.metadata(req, res, prepared, trMs, diMs, diErr, started))
		if err != nil {
			log.Warnw("Failed to write metadata", "error", err)
		} else {
			res.MetadataPath = path
		}
	}

	log.Infow("Transcript written", "outputs", outputs, "assigned", res.Stats.Assigned, "unassigned", res.Stats.Unassigned, "elapsed", res.Elapsed)
	diag.Log(diaglog.LogEntry{
		Component: diaglog.ComponentPipeline,
		Event:     diaglog.EventRunDone,
		Payload:   map[string]interface{}{"elapsed_ms": res.Elapsed.Milliseconds(), "degraded": res.Degraded},
	})
	return res, nil
}

// write holds the output lock while every format is written.
func (p *Pipeline) write(ctx context.Context, base string, segs []asr.Segment, a align.Alignment) ([]string, error) {
	lockPath := lockfile.PathFor(base)
	var (
		lock *lockfile.Lock
		err  error
	)
	if p.Opts.LockWait > 0 {
		waitCtx, cancel := context.WithTimeout(ctx, p.Opts.LockWait)
		lock, err = lockfile.AcquireWait(waitCtx, lockPath, 0)
		cancel()
	} else {
		lock, err = lockfile.Acquire(lockPath)
	}
	if err != nil {
		return nil, err
	}
	defer lock.Release()

	return transcript.WriteAll(base, segs, a, p.Opts.Formats)
}

func (p *Pipeline) metadata(req Request, res *Result, prepared *audio.Prepared, trMs, diMs int64, diErr error, started time.Time) *fileutil.RunMetadata {
	tr := res.Transcript
	meta := &fileutil.RunMetadata{
		RunID:      res.RunID,
		Input:      req.Input,
		StartedAt:  started,
		FinishedAt: started.Add(res.Elapsed),
		AudioMs:    prepared.Duration.Milliseconds(),
		Transcriber: &fileutil.StageMeta{
			Backend:  tr.Backend,
			Model:    tr.Model,
			Language: tr.Language,
			Items:    len(tr.Segments),
			Ms:       trMs,
		},
		Outputs:  res.Outputs,
		Degraded: res.Degraded,
		Elapsed:  res.Elapsed,
	}
	stats := res.Stats
	meta.Speakers = &stats
	if p.Diarizer != nil {
		meta.Diarizer = &fileutil.StageMeta{Backend: p.Diarizer.Name(), Items: len(res.Turns), Ms: diMs}
		if diErr != nil {
			meta.Diarizer.Error = diErr.Error()
		}
	}
	return meta
}

// IsPrecondition reports whether err is an input precondition failure rather
// than a runtime fault.
func IsPrecondition(err error) bool {
	return errors.Is(err, audio.ErrInputNotFound) ||
		errors.Is(err, audio.ErrFFmpegNotFound) ||
		errors.Is(err, align.ErrInvalidInterval) ||
		errors.Is(err, align.ErrDuplicateSegmentID) ||
		errors.Is(err, asr.ErrInvalidSegments) ||
		errors.Is(err, diarize.ErrInvalidTurn)
}
