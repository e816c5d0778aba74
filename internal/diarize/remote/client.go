// Package remote is a diarize.Backend that streams audio to a diarization
// service over a WebSocket and collects the speaker turns it reports.
//
// Protocol, one session per connection:
//
//	client → {"type":"start","filename":...,"num_speakers":N,"size":bytes}
//	client → binary frames carrying the WAV file
//	client → {"type":"end"}
//	server → {"type":"progress","progress":0.4}   (any number)
//	server → {"type":"turn","start":1.2,"end":3.4,"speaker":"SPEAKER_00"}
//	server → {"type":"done"} or {"type":"error","message":"..."}
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tiroq/speakerscribe/internal/asr"
	"github.com/tiroq/speakerscribe/internal/diaglog"
	"github.com/tiroq/speakerscribe/internal/diarize"
)

// Message types exchanged with the service.
const (
	TypeStart    = "start"
	TypeEnd      = "end"
	TypeProgress = "progress"
	TypeTurn     = "turn"
	TypeDone     = "done"
	TypeError    = "error"
	TypePing     = "ping"
	TypePong     = "pong"
)

// ErrServer wraps an error message reported by the service.
var ErrServer = errors.New("remote diarizer error")

// Message is the JSON envelope for every text frame.
type Message struct {
	Type        string  `json:"type"`
	Filename    string  `json:"filename,omitempty"`
	NumSpeakers int     `json:"num_speakers,omitempty"`
	Size        int64   `json:"size,omitempty"`
	Progress    float64 `json:"progress,omitempty"`
	Start       float64 `json:"start,omitempty"`
	End         float64 `json:"end,omitempty"`
	Speaker     string  `json:"speaker,omitempty"`
	Message     string  `json:"message,omitempty"`
}

// Config configures the WebSocket diarizer client.
type Config struct {
	URL            string // ws:// or wss:// endpoint
	Token          string // optional, sent as Bearer
	ChunkSize      int    // default 32 KiB
	TimeoutSeconds int    // idle read timeout, default 600
}

// Client implements diarize.Backend.
type Client struct {
	cfg    Config
	dialer *websocket.Dialer

	logger   *diaglog.Logger
	loggerMu sync.RWMutex
}

var _ diarize.Backend = (*Client)(nil)

// NewClient creates a client with defaults applied.
func NewClient(cfg Config) *Client {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 32 * 1024
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 600
	}
	return &Client{
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 15 * time.Second,
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
	entry.Component = diaglog.ComponentRemoteDiarize
	l.Log(entry)
}

func (c *Client) Name() string { return "remote_diarizer" }

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if c.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
	conn, resp, err := c.dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: http %d: %w", c.cfg.URL, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial %s: %w", c.cfg.URL, err)
	}
	return conn, nil
}

// watch closes conn when ctx is cancelled so blocked reads and writes return.
// The returned func stops the watcher.
func watch(ctx context.Context, conn *websocket.Conn) func() {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()
	return func() { close(done) }
}

// Diarize uploads audioPath and returns the turns the service reports.
func (c *Client) Diarize(ctx context.Context, audioPath string, opts diarize.Options) ([]diarize.Turn, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return nil, fmt.Errorf("open audio file: %w", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat audio file: %w", err)
	}

	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	stop := watch(ctx, conn)
	defer stop()

	turns, err := c.session(conn, f, Message{
		Type:        TypeStart,
		Filename:    filepath.Base(audioPath),
		NumSpeakers: opts.NumSpeakers,
		Size:        info.Size(),
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}

	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return turns, nil
}

func (c *Client) session(conn *websocket.Conn, audio io.Reader, start Message) ([]diarize.Turn, error) {
	if err := conn.WriteJSON(start); err != nil {
		return nil, fmt.Errorf("send start: %w", err)
	}

	buf := make([]byte, c.cfg.ChunkSize)
	for {
		n, err := audio.Read(buf)
		if n > 0 {
			if werr := conn.WriteMessage(websocket.BinaryMessage, buf[:n]); werr != nil {
				return nil, fmt.Errorf("send audio: %w", werr)
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read audio: %w", err)
		}
	}
	if err := conn.WriteJSON(Message{Type: TypeEnd}); err != nil {
		return nil, fmt.Errorf("send end: %w", err)
	}

	idle := time.Duration(c.cfg.TimeoutSeconds) * time.Second
	var turns []diarize.Turn
	for {
		_ = conn.SetReadDeadline(time.Now().Add(idle))
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			return nil, fmt.Errorf("read reply: %w", err)
		}

		switch msg.Type {
		case TypeProgress:
			c.log(diaglog.LogEntry{
				Event:   diaglog.EventDiarizeProgress,
				Payload: map[string]interface{}{"progress": msg.Progress},
			})
		case TypeTurn:
			turns = append(turns, diarize.Turn{
				Start:   asr.SecondsToDuration(msg.Start),
				End:     asr.SecondsToDuration(msg.End),
				Speaker: msg.Speaker,
			})
		case TypeDone:
			return turns, nil
		case TypeError:
			return nil, fmt.Errorf("%w: %s", ErrServer, msg.Message)
		default:
			raw, _ := json.Marshal(msg)
			c.log(diaglog.LogEntry{Event: "unknown_message", Reason: string(raw)})
		}
	}
}

// HealthCheck opens a connection and exchanges a ping.
func (c *Client) HealthCheck(ctx context.Context) (*diarize.HealthStatus, error) {
	status := &diarize.HealthStatus{Backend: c.Name()}
	start := time.Now()

	conn, err := c.dial(ctx)
	if err != nil {
		status.Message = err.Error()
		return status, nil
	}
	defer conn.Close()
	stop := watch(ctx, conn)
	defer stop()

	if err := conn.WriteJSON(Message{Type: TypePing}); err != nil {
		status.Message = fmt.Sprintf("send ping: %v", err)
		return status, nil
	}
	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	var msg Message
	if err := conn.ReadJSON(&msg); err != nil {
		status.Message = fmt.Sprintf("read pong: %v", err)
		return status, nil
	}
	status.Latency = time.Since(start)
	if msg.Type != TypePong {
		status.Message = fmt.Sprintf("unexpected reply %q", msg.Type)
		return status, nil
	}
	status.OK = true
	status.Message = "healthy"
	return status, nil
}
