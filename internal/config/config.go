// Package config loads speakerscribe settings from defaults, an optional YAML
// file, SPEAKERSCRIBE_* environment variables and command-line flags, in
// increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/tiroq/speakerscribe/internal/transcript"
)

// EnvPrefix prefixes every environment override, e.g. SPEAKERSCRIBE_DIARIZER_BACKEND.
const EnvPrefix = "SPEAKERSCRIBE"

// ErrUsage marks errors caused by bad flags or settings.
var ErrUsage = errors.New("usage error")

// Transcription backends.
const (
	TranscriberLocalWhisper = "local_whisper"
	TranscriberRemote       = "remote_whisper_api"
	TranscriberOpenAI       = "openai"
	TranscriberWhisperCpp   = "whispercpp"
	TranscriberFixture      = "fixture"
)

// Diarization backends.
const (
	DiarizerPyannote = "pyannote"
	DiarizerRemote   = "remote"
	DiarizerFixture  = "fixture"
)

// Config is the full runtime configuration.
type Config struct {
	Input           string        `mapstructure:"audio"`
	Output          string        `mapstructure:"output"` // base path, extension added per format
	Formats         []string      `mapstructure:"formats"`
	Diarize         bool          `mapstructure:"diarize"`
	Speakers        int           `mapstructure:"speakers"`
	Token           string        `mapstructure:"token"`
	Language        string        `mapstructure:"language"`
	Prompt          string        `mapstructure:"prompt"`
	Parallel        bool          `mapstructure:"parallel"`
	DiarizeOptional bool          `mapstructure:"diarize_optional"`
	Metadata        bool          `mapstructure:"metadata"`
	LockWait        time.Duration `mapstructure:"lock_wait"` // how long to wait for another writer of the same output
	Health          bool          `mapstructure:"health"`
	Debug           bool          `mapstructure:"debug"`

	Preprocess  PreprocessConfig  `mapstructure:"preprocess"`
	Transcriber TranscriberConfig `mapstructure:"transcriber"`
	Diarizer    DiarizerConfig    `mapstructure:"diarizer"`
	Log         LogConfig         `mapstructure:"log"`
	Watch       WatchConfig       `mapstructure:"watch"`

	// ConfigFile is the file that was read, if any.
	ConfigFile string `mapstructure:"-"`
}

type PreprocessConfig struct {
	FFmpeg     string        `mapstructure:"ffmpeg"`
	WorkDir    string        `mapstructure:"work_dir"`
	SampleRate int           `mapstructure:"sample_rate"`
	Pad        time.Duration `mapstructure:"pad"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type TranscriberConfig struct {
	Backend      string              `mapstructure:"backend"`
	Fallback     string              `mapstructure:"fallback"`
	Model        string              `mapstructure:"model"`
	LocalWhisper LocalWhisperConfig  `mapstructure:"local_whisper"`
	Remote       RemoteWhisperConfig `mapstructure:"remote"`
	OpenAI       OpenAIConfig        `mapstructure:"openai"`
	WhisperCpp   WhisperCppConfig    `mapstructure:"whispercpp"`
	Fixture      string              `mapstructure:"fixture"`
}

type LocalWhisperConfig struct {
	Binary         string `mapstructure:"binary"`
	ModelPath      string `mapstructure:"model_path"`
	Threads        int    `mapstructure:"threads"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

type RemoteWhisperConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	Token          string `mapstructure:"token"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	Retries        int    `mapstructure:"retries"`
}

type OpenAIConfig struct {
	APIKey         string `mapstructure:"api_key"`
	BaseURL        string `mapstructure:"base_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

type WhisperCppConfig struct {
	ModelPath string `mapstructure:"model_path"`
	Threads   int    `mapstructure:"threads"`
}

type DiarizerConfig struct {
	Backend  string               `mapstructure:"backend"`
	Pyannote PyannoteConfig       `mapstructure:"pyannote"`
	Remote   RemoteDiarizerConfig `mapstructure:"remote"`
	Fixture  string               `mapstructure:"fixture"`
}

type PyannoteConfig struct {
	Python         string `mapstructure:"python"`
	Script         string `mapstructure:"script"`
	Model          string `mapstructure:"model"`
	Device         string `mapstructure:"device"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

type RemoteDiarizerConfig struct {
	URL            string `mapstructure:"url"`
	Token          string `mapstructure:"token"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

type LogConfig struct {
	Level     string `mapstructure:"level"`
	Format    string `mapstructure:"format"` // "console" or "json"
	DiagPath  string `mapstructure:"diag_path"`
	DiagDebug bool   `mapstructure:"diag"`
}

type WatchConfig struct {
	Dir        string        `mapstructure:"dir"`
	Extensions []string      `mapstructure:"extensions"`
	Debounce   time.Duration `mapstructure:"debounce"`
	Poll       time.Duration `mapstructure:"poll"`
	StatusFile string        `mapstructure:"status_file"` // default ~/.cache/speakerscribe/status.json
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("formats", []string{"txt"})
	v.SetDefault("speakers", 0)
	v.SetDefault("lock_wait", "30s")

	v.SetDefault("preprocess.ffmpeg", "ffmpeg")
	v.SetDefault("preprocess.sample_rate", 16000)
	v.SetDefault("preprocess.pad", "2s")
	v.SetDefault("preprocess.timeout", "10m")

	v.SetDefault("transcriber.backend", TranscriberLocalWhisper)
	v.SetDefault("transcriber.model", "small.en")
	v.SetDefault("transcriber.local_whisper.binary", "whisper-cli")
	v.SetDefault("transcriber.local_whisper.timeout_seconds", 3600)
	v.SetDefault("transcriber.remote.timeout_seconds", 600)
	v.SetDefault("transcriber.remote.retries", 3)
	v.SetDefault("transcriber.openai.timeout_seconds", 600)

	v.SetDefault("diarizer.backend", DiarizerPyannote)
	v.SetDefault("diarizer.pyannote.python", "python3")
	v.SetDefault("diarizer.pyannote.model", "pyannote/speaker-diarization")
	v.SetDefault("diarizer.pyannote.timeout_seconds", 7200)
	v.SetDefault("diarizer.remote.timeout_seconds", 600)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("watch.extensions", []string{".wav", ".mp3", ".m4a", ".flac", ".ogg", ".mp4", ".mkv", ".webm"})
	v.SetDefault("watch.debounce", "2s")
	v.SetDefault("watch.poll", "5s")

	// Registered so SPEAKERSCRIBE_* variables reach Unmarshal for keys that
	// have no meaningful default.
	for _, key := range []string{
		"audio", "output", "token", "language", "prompt",
		"parallel", "diarize", "diarize_optional", "metadata", "health", "debug",
		"preprocess.work_dir",
		"transcriber.fallback", "transcriber.fixture",
		"transcriber.local_whisper.model_path", "transcriber.local_whisper.threads",
		"transcriber.remote.base_url", "transcriber.remote.token",
		"transcriber.openai.api_key", "transcriber.openai.base_url",
		"transcriber.whispercpp.model_path", "transcriber.whispercpp.threads",
		"diarizer.fixture", "diarizer.pyannote.script", "diarizer.pyannote.device",
		"diarizer.remote.url", "diarizer.remote.token",
		"log.diag_path", "log.diag", "watch.dir", "watch.status_file",
	} {
		v.SetDefault(key, nil)
	}
}

// NewFlagSet declares every command-line flag. The short names match the
// original tool: -a audio, -d diarize, -s speakers, -t token.
func NewFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SortFlags = false
	fs.StringP("audio", "a", "", "audio or video file to transcribe")
	fs.BoolP("diarize", "d", false, "label speakers (-d, -d True or --diarize=false)")
	fs.IntP("speakers", "s", 0, "expected number of speakers, 0 = detect")
	fs.StringP("token", "t", "", "model access token for diarization (default $HF_TOKEN)")
	fs.StringP("output", "o", "", "output base path (default: input path without extension)")
	fs.StringSlice("formats", nil, "output formats: txt,srt,vtt,json")
	fs.String("config", "", "config file (default ./speakerscribe.yaml or ~/.config/speakerscribe/config.yaml)")
	fs.String("transcriber", "", "transcription backend: local_whisper, remote_whisper_api, openai, whispercpp, fixture")
	fs.String("diarizer", "", "diarization backend: pyannote, remote, fixture")
	fs.String("language", "", "spoken language code, empty = detect")
	fs.Bool("parallel", false, "run transcription and diarization concurrently")
	fs.Bool("diarize-optional", false, "write an unlabelled transcript when diarization fails")
	fs.Bool("metadata", false, "write a <output>.meta.json run summary")
	fs.String("watch", "", "watch a directory and transcribe new recordings")
	fs.Bool("health", false, "check configured backends and exit")
	fs.Bool("debug", false, "verbose logging and diagnostic event log")
	return fs
}

// flagKeys maps flag names to config keys where they differ.
var flagKeys = map[string]string{
	"transcriber":      "transcriber.backend",
	"diarizer":         "diarizer.backend",
	"watch":            "watch.dir",
	"diarize-optional": "diarize_optional",
}

// Load parses args with fs and merges every configuration source.
func Load(fs *pflag.FlagSet, args []string) (*Config, error) {
	if err := fs.Parse(foldBoolValues(fs, args)); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUsage, err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	explicit, _ := fs.GetString("config")
	path, err := findConfigFile(explicit)
	if err != nil {
		return nil, err
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("%w: read config %s: %v", ErrUsage, path, err)
		}
	}

	var bindErr error
	fs.VisitAll(func(f *pflag.Flag) {
		if f.Name == "config" {
			return
		}
		key := f.Name
		if k, ok := flagKeys[f.Name]; ok {
			key = k
		}
		if err := v.BindPFlag(key, f); err != nil && bindErr == nil {
			bindErr = err
		}
	})
	if bindErr != nil {
		return nil, fmt.Errorf("bind flags: %w", bindErr)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: decode config: %v", ErrUsage, err)
	}
	cfg.ConfigFile = path

	extra := fs.Args()
	if cfg.Input == "" && len(extra) > 0 {
		cfg.Input, extra = extra[0], extra[1:]
	}
	if len(extra) > 0 {
		return nil, fmt.Errorf("%w: unexpected arguments %q after input %q", ErrUsage, extra, cfg.Input)
	}
	if cfg.Token == "" {
		cfg.Token = os.Getenv("HF_TOKEN")
	}
	if cfg.Transcriber.OpenAI.APIKey == "" {
		cfg.Transcriber.OpenAI.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	for i, f := range cfg.Formats {
		cfg.Formats[i] = strings.ToLower(strings.TrimSpace(f))
	}
	return &cfg, nil
}

// foldBoolValues rewrites a boolean flag followed by a separate true/false
// word ("-d False") into "--diarize=false", the form the original tool
// accepted. Everything after "--" is left alone.
func foldBoolValues(fs *pflag.FlagSet, args []string) []string {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			return append(out, args[i:]...)
		}
		f := boolFlag(fs, arg)
		if f != nil && i+1 < len(args) {
			if v, ok := boolWord(args[i+1]); ok {
				out = append(out, "--"+f.Name+"="+v)
				i++
				continue
			}
		}
		out = append(out, arg)
	}
	return out
}

func boolFlag(fs *pflag.FlagSet, arg string) *pflag.Flag {
	var f *pflag.Flag
	switch {
	case strings.HasPrefix(arg, "--") && !strings.Contains(arg, "="):
		f = fs.Lookup(arg[2:])
	case len(arg) == 2 && arg[0] == '-' && arg[1] != '-':
		f = fs.ShorthandLookup(arg[1:])
	}
	if f == nil || f.Value.Type() != "bool" {
		return nil
	}
	return f
}

func boolWord(s string) (string, bool) {
	switch strings.ToLower(s) {
	case "true":
		return "true", true
	case "false":
		return "false", true
	}
	return "", false
}

// findConfigFile returns explicit if set (it must exist), otherwise the first
// default location that exists, otherwise "".
func findConfigFile(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("%w: config file: %v", ErrUsage, err)
		}
		return explicit, nil
	}
	candidates := []string{"speakerscribe.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "speakerscribe", "config.yaml"))
	}
	for _, c := range candidates {
		if info, err := os.Stat(c); err == nil && !info.IsDir() {
			return c, nil
		}
	}
	return "", nil
}

// OutputBase returns the path transcripts are written under, without extension.
func (c *Config) OutputBase() string {
	if c.Output != "" {
		return strings.TrimSuffix(c.Output, filepath.Ext(c.Output))
	}
	return strings.TrimSuffix(c.Input, filepath.Ext(c.Input))
}

// Validate checks the configuration for a single-file or watch run and
// reports every problem at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Input == "" && c.Watch.Dir == "" && !c.Health {
		errs = append(errs, errors.New("an audio file is required (-a/--audio)"))
	}
	if c.Input != "" && c.Watch.Dir != "" {
		errs = append(errs, errors.New("--audio and --watch are mutually exclusive"))
	}
	if c.Speakers < 0 {
		errs = append(errs, fmt.Errorf("speakers must be >= 0, got %d", c.Speakers))
	}
	if len(c.Formats) == 0 {
		errs = append(errs, errors.New("at least one output format is required"))
	}
	for _, f := range c.Formats {
		if !transcript.ValidFormat(f) {
			errs = append(errs, fmt.Errorf("unknown output format %q", f))
		}
	}
	if c.Preprocess.Pad < 0 {
		errs = append(errs, fmt.Errorf("preprocess.pad must be >= 0, got %s", c.Preprocess.Pad))
	}

	errs = append(errs, c.checkTranscriber(c.Transcriber.Backend)...)
	if fb := c.Transcriber.Fallback; fb != "" && fb != c.Transcriber.Backend {
		errs = append(errs, c.checkTranscriber(fb)...)
	}

	if c.Diarize {
		switch c.Diarizer.Backend {
		case DiarizerPyannote:
			if c.Token == "" {
				errs = append(errs, errors.New("diarization with pyannote needs a token (-t/--token or HF_TOKEN)"))
			}
		case DiarizerRemote:
			if c.Diarizer.Remote.URL == "" {
				errs = append(errs, errors.New("diarizer.remote.url is required for the remote diarizer"))
			}
		case DiarizerFixture:
			if c.Diarizer.Fixture == "" {
				errs = append(errs, errors.New("diarizer.fixture is required for the fixture diarizer"))
			}
		default:
			errs = append(errs, fmt.Errorf("unknown diarizer %q", c.Diarizer.Backend))
		}
	}

	if c.LockWait < 0 {
		errs = append(errs, fmt.Errorf("lock_wait must be >= 0, got %s", c.LockWait))
	}
	if c.Watch.Dir != "" && c.Watch.Debounce <= 0 {
		errs = append(errs, fmt.Errorf("watch.debounce must be positive, got %s", c.Watch.Debounce))
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrUsage, errors.Join(errs...))
}

func (c *Config) checkTranscriber(name string) []error {
	var errs []error
	switch name {
	case TranscriberRemote:
		if c.Transcriber.Remote.BaseURL == "" {
			errs = append(errs, errors.New("transcriber.remote.base_url is required for remote_whisper_api"))
		}
	case TranscriberOpenAI:
		if c.Transcriber.OpenAI.APIKey == "" {
			errs = append(errs, errors.New("transcriber.openai.api_key (or OPENAI_API_KEY) is required for openai"))
		}
	case TranscriberWhisperCpp:
		if c.Transcriber.WhisperCpp.ModelPath == "" {
			errs = append(errs, errors.New("transcriber.whispercpp.model_path is required for whispercpp"))
		}
	case TranscriberFixture:
		if c.Transcriber.Fixture == "" {
			errs = append(errs, errors.New("transcriber.fixture is required for the fixture transcriber"))
		}
	case TranscriberLocalWhisper:
	default:
		errs = append(errs, fmt.Errorf("unknown transcriber %q", name))
	}
	return errs
}
