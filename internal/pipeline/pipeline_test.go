package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/tiroq/speakerscribe/internal/asr"
	"github.com/tiroq/speakerscribe/internal/audio"
	"github.com/tiroq/speakerscribe/internal/diarize"
	"github.com/tiroq/speakerscribe/internal/fileutil"
	"github.com/tiroq/speakerscribe/internal/fixture"
	"github.com/tiroq/speakerscribe/internal/lockfile"
	"github.com/tiroq/speakerscribe/internal/logger"
	"github.com/tiroq/speakerscribe/testutil"
)

const interview = `language: en
model: small.en
segments:
  - {start: 0.0, end: 3.5, text: "Welcome back."}
  - {start: 3.5, end: 6.0, text: "Thanks for having me."}
turns:
  - {start: 0.0, end: 3.6, speaker: SPEAKER_00}
  - {start: 3.6, end: 6.2, speaker: SPEAKER_01}
`

const pad = 500 * time.Millisecond

type failingDiarizer struct{}

func (failingDiarizer) Name() string { return "broken" }
func (failingDiarizer) Diarize(ctx context.Context, audioPath string, opts diarize.Options) ([]diarize.Turn, error) {
	return nil, errors.New("model download refused")
}
func (failingDiarizer) HealthCheck(ctx context.Context) (*diarize.HealthStatus, error) {
	return &diarize.HealthStatus{Backend: "broken"}, nil
}

type env struct {
	dir     string
	input   string
	fixture string
	base    string
}

func newEnv(t *testing.T, fixtureYAML string) env {
	t.Helper()
	dir := t.TempDir()
	return env{
		dir:     dir,
		input:   testutil.SilentWAV(t, dir, "interview.wav", 7*time.Second),
		fixture: testutil.WriteFile(t, filepath.Join(dir, "fixture.yaml"), fixtureYAML),
		base:    filepath.Join(dir, "out", "interview"),
	}
}

func (e env) pipeline(t *testing.T, diarizer diarize.Backend, opts Options) (*Pipeline, *observer.ObservedLogs) {
	t.Helper()
	reg := asr.NewRegistry()
	reg.Register(fixture.TranscriberName, fixture.NewTranscriber(e.fixture))
	reg.SetPrimary(fixture.TranscriberName)

	core, logs := observer.New(zap.DebugLevel)
	return &Pipeline{
		Prep:        &audio.Preprocessor{WorkDir: e.dir, Pad: pad},
		Transcriber: reg,
		Diarizer:    diarizer,
		Log:         logger.FromCore(core),
		Opts:        opts,
	}, logs
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(data)
}

const wantTwoSpeakers = "[00:00:00.000] SPEAKER_00:\nWelcome back.\n\n" +
	"[00:00:03.500] SPEAKER_01:\nThanks for having me.\n\n"

func TestRun_TwoSpeakers(t *testing.T) {
	e := newEnv(t, interview)
	p, _ := e.pipeline(t, fixture.NewDiarizer(e.fixture, pad), Options{})

	res, err := p.Run(context.Background(), Request{Input: e.input, OutputBase: e.base})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Text != wantTwoSpeakers {
		t.Errorf("text:\n%q\nwant:\n%q", res.Text, wantTwoSpeakers)
	}
	if got := readFile(t, e.base+".txt"); got != wantTwoSpeakers {
		t.Errorf("file:\n%q", got)
	}
	if res.Stats.Assigned != 2 || res.Stats.Unassigned != 0 {
		t.Errorf("stats = %+v", res.Stats)
	}
	if len(res.Turns) != 2 || res.Turns[0].Start != 0 {
		t.Errorf("turns not shifted back onto the original timeline: %+v", res.Turns)
	}
	if res.RunID == "" {
		t.Error("missing run id")
	}
}

func TestRun_AppendsAcrossRuns(t *testing.T) {
	e := newEnv(t, interview)
	p, _ := e.pipeline(t, fixture.NewDiarizer(e.fixture, pad), Options{})

	for i := 0; i < 2; i++ {
		if _, err := p.Run(context.Background(), Request{Input: e.input, OutputBase: e.base}); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}
	if got := readFile(t, e.base+".txt"); got != wantTwoSpeakers+wantTwoSpeakers {
		t.Errorf("second run did not append:\n%q", got)
	}
}

func TestRun_WithoutDiarizer(t *testing.T) {
	e := newEnv(t, interview)
	p, _ := e.pipeline(t, nil, Options{})

	res, err := p.Run(context.Background(), Request{Input: e.input, OutputBase: e.base})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := "[00:00:00.000] SPEAKER:\nWelcome back.\n\n" +
		"[00:00:03.500] SPEAKER:\nThanks for having me.\n\n"
	if res.Text != want {
		t.Errorf("text = %q", res.Text)
	}
	if len(res.Alignment) != 0 {
		t.Errorf("alignment = %v, want empty", res.Alignment)
	}
}

func TestRun_Parallel(t *testing.T) {
	e := newEnv(t, interview)
	p, _ := e.pipeline(t, fixture.NewDiarizer(e.fixture, pad), Options{Parallel: true})

	res, err := p.Run(context.Background(), Request{Input: e.input, OutputBase: e.base})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Text != wantTwoSpeakers {
		t.Errorf("text = %q", res.Text)
	}
}

func TestRun_DiarizeOptionalDegrades(t *testing.T) {
	e := newEnv(t, interview)
	p, logs := e.pipeline(t, failingDiarizer{}, Options{DiarizeOptional: true, Metadata: true})

	res, err := p.Run(context.Background(), Request{Input: e.input, OutputBase: e.base})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Degraded {
		t.Error("expected degraded result")
	}
	if res.Stats.Unassigned != 2 {
		t.Errorf("stats = %+v", res.Stats)
	}
	if logs.FilterMessage("Diarization failed, continuing without speakers").Len() != 1 {
		t.Error("expected a warning about the skipped diarization")
	}

	meta, err := fileutil.ReadMetadata(e.base)
	if err != nil {
		t.Fatalf("ReadMetadata: %v", err)
	}
	if !meta.Degraded || meta.Diarizer == nil || !strings.Contains(meta.Diarizer.Error, "model download refused") {
		t.Errorf("metadata = %+v", meta)
	}
}

func TestRun_DiarizeRequiredFails(t *testing.T) {
	e := newEnv(t, interview)
	p, _ := e.pipeline(t, failingDiarizer{}, Options{})

	_, err := p.Run(context.Background(), Request{Input: e.input, OutputBase: e.base})
	testutil.AssertErrorContains(t, err, "model download refused", "required diarizer")
	if _, err := os.Stat(e.base + ".txt"); !os.IsNotExist(err) {
		t.Error("no transcript should be written on failure")
	}
}

func TestRun_MissingInput(t *testing.T) {
	e := newEnv(t, interview)
	p, _ := e.pipeline(t, nil, Options{})

	_, err := p.Run(context.Background(), Request{Input: filepath.Join(e.dir, "nope.wav"), OutputBase: e.base})
	if !errors.Is(err, audio.ErrInputNotFound) {
		t.Fatalf("expected ErrInputNotFound, got %v", err)
	}
	if !IsPrecondition(err) {
		t.Error("missing input should be a precondition failure")
	}
}

func TestRun_DuplicateSegmentIDs(t *testing.T) {
	e := newEnv(t, `segments:
  - {id: 1, start: 0.0, end: 1.0, text: "a"}
  - {id: 1, start: 1.0, end: 2.0, text: "b"}
`)
	p, _ := e.pipeline(t, nil, Options{})

	_, err := p.Run(context.Background(), Request{Input: e.input, OutputBase: e.base})
	if err == nil || !IsPrecondition(err) {
		t.Fatalf("expected precondition failure, got %v", err)
	}
}

func TestRun_OutputLocked(t *testing.T) {
	e := newEnv(t, interview)
	p, _ := e.pipeline(t, nil, Options{})

	held, err := lockfile.Acquire(lockfile.PathFor(e.base))
	if err != nil {
		t.Fatal(err)
	}
	defer held.Release()

	_, err = p.Run(context.Background(), Request{Input: e.input, OutputBase: e.base})
	if !errors.Is(err, lockfile.ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}
}

func TestRun_MetadataAndFormats(t *testing.T) {
	e := newEnv(t, interview)
	p, _ := e.pipeline(t, fixture.NewDiarizer(e.fixture, pad), Options{
		Formats:  []string{"txt", "srt", "json"},
		Metadata: true,
	})

	res, err := p.Run(context.Background(), Request{Input: e.input, OutputBase: e.base})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Outputs) != 3 {
		t.Errorf("outputs = %v", res.Outputs)
	}
	if res.MetadataPath != fileutil.MetadataPath(e.base) {
		t.Errorf("metadata path = %q", res.MetadataPath)
	}
	meta, err := fileutil.ReadMetadata(e.base)
	if err != nil {
		t.Fatal(err)
	}
	if meta.RunID != res.RunID || meta.Transcriber.Backend != fixture.TranscriberName {
		t.Errorf("metadata = %+v", meta)
	}
	if meta.Speakers == nil || len(meta.Speakers.Speakers) != 2 {
		t.Errorf("speakers = %+v", meta.Speakers)
	}
	if _, err := os.Stat(lockfile.PathFor(e.base)); !os.IsNotExist(err) {
		t.Error("lock file left behind")
	}
}

func TestRun_CleansTemporaryAudio(t *testing.T) {
	e := newEnv(t, interview)
	p, _ := e.pipeline(t, nil, Options{})
	if _, err := p.Run(context.Background(), Request{Input: e.input, OutputBase: e.base}); err != nil {
		t.Fatal(err)
	}
	matches, _ := filepath.Glob(filepath.Join(e.dir, "speakerscribe-*"))
	if len(matches) != 0 {
		t.Errorf("temporary dirs left behind: %v", matches)
	}
}
