// Package remotewhisper is an asr.Backend for a self-hosted whisper HTTP
// service exposing /v1/transcribe and /v1/health.
package remotewhisper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/tiroq/speakerscribe/internal/asr"
	"github.com/tiroq/speakerscribe/internal/diaglog"
)

// Config configures the remote Whisper API client.
type Config struct {
	BaseURL        string
	Token          string // optional auth token, sent as Bearer
	TimeoutSeconds int    // default 600
	Retries        int    // default 3
	Model          string // default "small"
}

// Client is an asr.Backend that calls a remote Whisper HTTP API.
type Client struct {
	cfg         Config
	client      *http.Client
	backoffBase time.Duration // default time.Second; tests override to 1ms

	logger   *diaglog.Logger
	loggerMu sync.RWMutex
}

// NewClient creates a new remote Whisper API client.
func NewClient(cfg Config) *Client {
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 600
	}
	if cfg.Retries <= 0 {
		cfg.Retries = 3
	}
	if cfg.Model == "" {
		cfg.Model = "small"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		cfg:         cfg,
		backoffBase: time.Second,
		client: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		},
	}
}

// SetLogger injects a diaglog.Logger for debug logging.
func (c *Client) SetLogger(l *diaglog.Logger) {
	c.loggerMu.Lock()
	c.logger = l
	c.loggerMu.Unlock()
}

func (c *Client) log(entry diaglog.LogEntry) {
	c.loggerMu.RLock()
	l := c.logger
	c.loggerMu.RUnlock()
	if l == nil {
		return
	}
	if entry.Component == "" {
		entry.Component = diaglog.ComponentRemoteWhisper
	}
	l.Log(entry)
}

// Name returns the backend identifier.
func (c *Client) Name() string {
	return "remote_whisper_api"
}

// transcribeResponse mirrors the JSON shape returned by the remote API.
type transcribeResponse struct {
	Segments []struct {
		ID       *int    `json:"id"`
		Start    float64 `json:"start"`
		End      float64 `json:"end"`
		Text     string  `json:"text"`
		Language string  `json:"language"`
		Score    float64 `json:"score"`
	} `json:"segments"`
	Language string  `json:"language"`
	Duration float64 `json:"duration"`
	Model    string  `json:"model"`
}

// TranscribeFile sends the audio file to the remote Whisper API and returns
// a parsed Transcript. Retries on transient errors (5xx, network).
func (c *Client) TranscribeFile(ctx context.Context, filePath string, opts asr.TranscribeOptions) (*asr.Transcript, error) {
	model := opts.Model
	if model == "" {
		model = c.cfg.Model
	}

	var lastErr error
	for attempt := 0; attempt <= c.cfg.Retries; attempt++ {
		if attempt > 0 {
			backoff := c.backoff(attempt)
			c.log(diaglog.LogEntry{
				Event:   diaglog.EventTranscribeRetry,
				Reason:  lastErr.Error(),
				Payload: map[string]interface{}{"attempt": attempt, "backoff_ms": backoff.Milliseconds()},
			})
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, fmt.Errorf("transcribe %s: %w", filepath.Base(filePath), ctx.Err())
			}
		}

		result, err := c.doTranscribe(ctx, filePath, model, opts)
		if err == nil {
			return result, nil
		}

		if !isRetryable(err) || ctx.Err() != nil {
			return nil, fmt.Errorf("transcribe %s: %w", filepath.Base(filePath), err)
		}
		lastErr = err
	}

	return nil, fmt.Errorf("transcribe %s: all %d retries exhausted: %w", filepath.Base(filePath), c.cfg.Retries, lastErr)
}

// doTranscribe performs a single multipart POST to the transcription endpoint.
func (c *Client) doTranscribe(ctx context.Context, filePath, model string, opts asr.TranscribeOptions) (*asr.Transcript, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("open audio file: %w", err)
	}
	defer f.Close()

	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)

	// Write multipart in a goroutine so the pipe feeds the request body.
	errCh := make(chan error, 1)
	go func() {
		part, err := writer.CreateFormFile("file", filepath.Base(filePath))
		if err != nil {
			pw.CloseWithError(err)
			errCh <- fmt.Errorf("create form file: %w", err)
			return
		}
		if _, err := io.Copy(part, f); err != nil {
			pw.CloseWithError(err)
			errCh <- fmt.Errorf("copy audio data: %w", err)
			return
		}
		_ = writer.WriteField("model", model)
		_ = writer.WriteField("language", opts.Language)
		_ = writer.WriteField("timestamps", "true")
		if opts.Prompt != "" {
			_ = writer.WriteField("prompt", opts.Prompt)
		}

		err = writer.Close()
		pw.CloseWithError(err)
		errCh <- err
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/transcribe", pr)
	if err != nil {
		pr.Close()
		<-errCh
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		pr.Close()
		<-errCh
		return nil, &retryableError{err: fmt.Errorf("http request: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &retryableError{err: fmt.Errorf("read response body: %w", err)}
	}

	// The server may answer before consuming the whole upload.
	pr.Close()
	if writeErr := <-errCh; writeErr != nil && !errors.Is(writeErr, io.ErrClosedPipe) && resp.StatusCode < 300 {
		return nil, fmt.Errorf("multipart write: %w", writeErr)
	}

	if resp.StatusCode >= 500 {
		return nil, &retryableError{err: fmt.Errorf("server error %d: %s", resp.StatusCode, truncate(body, 200))}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, truncate(body, 200))
	}

	var parsed transcribeResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	segments := make([]asr.Segment, len(parsed.Segments))
	haveIDs := true
	for i, s := range parsed.Segments {
		segments[i] = asr.Segment{
			Start:    asr.SecondsToDuration(s.Start),
			End:      asr.SecondsToDuration(s.End),
			Text:     strings.TrimSpace(s.Text),
			Language: s.Language,
			Score:    s.Score,
		}
		if s.ID != nil {
			segments[i].ID = *s.ID
		} else {
			haveIDs = false
		}
	}
	if !haveIDs {
		asr.Renumber(segments)
	}

	modelName := parsed.Model
	if modelName == "" {
		modelName = model
	}
	return &asr.Transcript{
		Segments: segments,
		Language: parsed.Language,
		Duration: asr.SecondsToDuration(parsed.Duration),
		Model:    modelName,
		Backend:  c.Name(),
	}, nil
}

// HealthCheck queries the remote API health endpoint.
func (c *Client) HealthCheck(ctx context.Context) (*asr.HealthStatus, error) {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/v1/health", nil)
	if err != nil {
		return nil, fmt.Errorf("create health request: %w", err)
	}
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	resp, err := c.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return &asr.HealthStatus{
			OK:      false,
			Backend: c.Name(),
			Message: fmt.Sprintf("health check failed: %v", err),
			Latency: latency,
		}, nil
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &asr.HealthStatus{
			OK:      false,
			Backend: c.Name(),
			Message: fmt.Sprintf("unhealthy: http %d: %s", resp.StatusCode, truncate(body, 200)),
			Latency: latency,
		}, nil
	}

	var parsed struct {
		OK bool `json:"ok"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return &asr.HealthStatus{
			OK:      false,
			Backend: c.Name(),
			Message: fmt.Sprintf("invalid health response: %v", err),
			Latency: latency,
		}, nil
	}

	msg := "healthy"
	if !parsed.OK {
		msg = "service reports not ok"
	}

	return &asr.HealthStatus{
		OK:      parsed.OK,
		Backend: c.Name(),
		Message: msg,
		Latency: latency,
	}, nil
}

// retryableError wraps errors that should trigger a retry.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

func isRetryable(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}

// backoff returns exponential backoff duration: base * 2^(attempt-1) + jitter.
func (c *Client) backoff(attempt int) time.Duration {
	base := c.backoffBase
	if base <= 0 {
		base = time.Second
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
	}
	jitter := time.Duration(rand.Int63n(int64(delay/4) + 1))
	return delay + jitter
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
