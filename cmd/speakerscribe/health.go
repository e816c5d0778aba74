package main

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"text/tabwriter"
	"time"

	"github.com/tiroq/speakerscribe/internal/config"
)

type healthLine struct {
	kind    string
	name    string
	ok      bool
	message string
	latency time.Duration
}

// healthReport checks ffmpeg and every configured backend, one line each.
// Returns exitFailure when anything is unhealthy.
func healthReport(ctx context.Context, cfg *config.Config, b *backends, out io.Writer) int {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	var lines []healthLine

	ff := healthLine{kind: "preprocess", name: cfg.Preprocess.FFmpeg}
	if path, err := exec.LookPath(cfg.Preprocess.FFmpeg); err != nil {
		ff.message = "not found (only canonical 16 kHz mono WAV input will work)"
	} else {
		ff.ok = true
		ff.message = path
	}
	lines = append(lines, ff)

	for _, st := range b.registry.HealthCheckAll(ctx) {
		lines = append(lines, healthLine{kind: "transcriber", name: st.Backend, ok: st.OK, message: st.Message, latency: st.Latency})
	}

	if b.diarizer != nil {
		line := healthLine{kind: "diarizer", name: b.diarizer.Name()}
		st, err := b.diarizer.HealthCheck(ctx)
		switch {
		case err != nil:
			line.message = err.Error()
		case st != nil:
			line.ok, line.message, line.latency = st.OK, st.Message, st.Latency
		}
		lines = append(lines, line)
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	healthy := true
	for _, l := range lines {
		status := "ok"
		if !l.ok {
			status = "FAIL"
			healthy = false
		}
		latency := "-"
		if l.latency > 0 {
			latency = l.latency.Round(time.Millisecond).String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", l.kind, l.name, status, latency, l.message)
	}
	_ = tw.Flush()

	if !healthy {
		return exitFailure
	}
	return exitOK
}
