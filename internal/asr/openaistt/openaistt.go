// Package openaistt provides an asr.Backend backed by the OpenAI audio
// transcription endpoint (or any server speaking the same API).
package openaistt

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/tiroq/speakerscribe/internal/asr"
)

// DefaultModel is the only OpenAI model that returns segment timestamps.
const DefaultModel = string(oai.AudioModelWhisper1)

// Ensure Backend implements the asr.Backend interface.
var _ asr.Backend = (*Backend)(nil)

// Config configures the OpenAI transcription backend.
type Config struct {
	APIKey         string
	BaseURL        string // optional, for compatible self-hosted servers
	Model          string // default whisper-1
	TimeoutSeconds int    // default 600
	MaxRetries     int    // default 2 (SDK default)
}

// Backend transcribes audio files through the OpenAI API.
type Backend struct {
	client oai.Client
	model  string
}

// New constructs a Backend. The API key is required.
func New(cfg Config) (*Backend, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openaistt: apiKey must not be empty")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 600
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(&http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		}),
	}
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.MaxRetries > 0 {
		reqOpts = append(reqOpts, option.WithMaxRetries(cfg.MaxRetries))
	}

	return &Backend{client: oai.NewClient(reqOpts...), model: cfg.Model}, nil
}

// Name returns the backend identifier.
func (b *Backend) Name() string {
	return "openai"
}

// verboseTranscription is the verbose_json body. The SDK's Transcription type
// only models the text, so segments are read from the raw response.
type verboseTranscription struct {
	Language string  `json:"language"`
	Duration float64 `json:"duration"`
	Text     string  `json:"text"`
	Segments []struct {
		ID         int     `json:"id"`
		Start      float64 `json:"start"`
		End        float64 `json:"end"`
		Text       string  `json:"text"`
		AvgLogprob float64 `json:"avg_logprob"`
	} `json:"segments"`
}

// TranscribeFile uploads filePath and converts the returned segments.
func (b *Backend) TranscribeFile(ctx context.Context, filePath string, opts asr.TranscribeOptions) (*asr.Transcript, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("openaistt: open audio file: %w", err)
	}
	defer f.Close()

	model := b.model
	if opts.Model != "" {
		model = opts.Model
	}

	params := oai.AudioTranscriptionNewParams{
		File:                   f,
		Model:                  oai.AudioModel(model),
		ResponseFormat:         oai.AudioResponseFormatVerboseJSON,
		TimestampGranularities: []string{"segment"},
	}
	if opts.Language != "" {
		params.Language = oai.String(opts.Language)
	}
	if opts.Prompt != "" {
		params.Prompt = oai.String(opts.Prompt)
	}

	resp, err := b.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openaistt: transcribe: %w", err)
	}

	return parseVerbose([]byte(resp.RawJSON()), model, b.Name())
}

func parseVerbose(raw []byte, model, backend string) (*asr.Transcript, error) {
	var v verboseTranscription
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("openaistt: decode verbose response: %w", err)
	}

	t := &asr.Transcript{
		Language: v.Language,
		Duration: asr.SecondsToDuration(v.Duration),
		Model:    model,
		Backend:  backend,
	}
	for _, s := range v.Segments {
		t.Segments = append(t.Segments, asr.Segment{
			ID:       s.ID,
			Start:    asr.SecondsToDuration(s.Start),
			End:      asr.SecondsToDuration(s.End),
			Text:     strings.TrimSpace(s.Text),
			Language: v.Language,
			Score:    logprobScore(s.AvgLogprob),
		})
	}
	// A response without segments still carries the full text; keep it as
	// one segment spanning the reported duration.
	if len(t.Segments) == 0 && strings.TrimSpace(v.Text) != "" {
		t.Segments = []asr.Segment{{
			End:      t.Duration,
			Text:     strings.TrimSpace(v.Text),
			Language: v.Language,
		}}
	}
	return t, nil
}

// logprobScore maps an average log-probability onto 0..1.
func logprobScore(avg float64) float64 {
	if avg >= 0 {
		return 1
	}
	if avg < -5 {
		return 0
	}
	return 1 + avg/5
}

// HealthCheck fetches the configured model as an authenticated round trip.
func (b *Backend) HealthCheck(ctx context.Context) (*asr.HealthStatus, error) {
	start := time.Now()
	_, err := b.client.Models.Get(ctx, b.model)
	status := &asr.HealthStatus{
		Backend: b.Name(),
		Latency: time.Since(start),
	}
	if err != nil {
		status.Message = fmt.Sprintf("model %q not reachable: %v", b.model, err)
		return status, nil
	}
	status.OK = true
	status.Message = "healthy"
	return status, nil
}
