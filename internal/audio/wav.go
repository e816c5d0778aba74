package audio

import (
	"errors"
	"fmt"
	"os"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// ErrNotWAV is returned when a file is not a readable PCM WAV.
var ErrNotWAV = errors.New("audio: not a valid WAV file")

// Info describes the format of a decoded WAV.
type Info struct {
	SampleRate int
	Channels   int
	BitDepth   int
	Format     int // WAVE format tag, 1 = PCM
	Frames     int
	Duration   time.Duration
}

func decode(path string) (*goaudio.IntBuffer, *Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	d := wav.NewDecoder(f)
	if !d.IsValidFile() {
		return nil, nil, fmt.Errorf("%w: %s", ErrNotWAV, path)
	}
	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, nil, fmt.Errorf("audio: decode %s: %w", path, err)
	}
	info := &Info{
		SampleRate: int(d.SampleRate),
		Channels:   int(d.NumChans),
		BitDepth:   int(d.BitDepth),
		Format:     int(d.WavAudioFormat),
	}
	if info.Channels > 0 {
		info.Frames = len(buf.Data) / info.Channels
	}
	if info.SampleRate > 0 {
		info.Duration = time.Duration(info.Frames) * time.Second / time.Duration(info.SampleRate)
	}
	return buf, info, nil
}

// Inspect decodes the WAV at path and reports its format and duration.
func Inspect(path string) (*Info, error) {
	_, info, err := decode(path)
	return info, err
}

// PadWAV writes dst as a copy of src with pad of leading silence. The sample
// rate, channel count and bit depth are preserved.
func PadWAV(src, dst string, pad time.Duration) (*Info, error) {
	if pad < 0 {
		return nil, fmt.Errorf("audio: negative pad %s", pad)
	}
	buf, info, err := decode(src)
	if err != nil {
		return nil, err
	}

	padFrames := int(pad * time.Duration(info.SampleRate) / time.Second)
	data := make([]int, padFrames*info.Channels, padFrames*info.Channels+len(buf.Data))
	data = append(data, buf.Data...)

	out := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: info.Channels, SampleRate: info.SampleRate},
		Data:           data,
		SourceBitDepth: info.BitDepth,
	}
	if err := writeWAV(dst, out, info); err != nil {
		return nil, err
	}

	padded := *info
	padded.Frames += padFrames
	padded.Duration = time.Duration(padded.Frames) * time.Second / time.Duration(info.SampleRate)
	return &padded, nil
}

func writeWAV(path string, buf *goaudio.IntBuffer, info *Info) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("audio: create %s: %w", path, err)
	}
	enc := wav.NewEncoder(f, info.SampleRate, info.BitDepth, info.Channels, info.Format)
	if err := enc.Write(buf); err != nil {
		_ = f.Close()
		return fmt.Errorf("audio: encode %s: %w", path, err)
	}
	if err := enc.Close(); err != nil {
		_ = f.Close()
		return fmt.Errorf("audio: finalize %s: %w", path, err)
	}
	return f.Close()
}

// WriteSilence writes a mono 16-bit PCM WAV of the given duration. Tests and
// health checks use it to produce a known-good input.
func WriteSilence(path string, sampleRate int, d time.Duration) error {
	frames := int(d * time.Duration(sampleRate) / time.Second)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           make([]int, frames),
		SourceBitDepth: 16,
	}
	return writeWAV(path, buf, &Info{SampleRate: sampleRate, Channels: 1, BitDepth: 16, Format: 1})
}

// ReadSamples decodes a 16 kHz mono 16-bit WAV into normalised float32
// samples as expected by whisper.cpp.
func ReadSamples(path string) ([]float32, error) {
	buf, info, err := decode(path)
	if err != nil {
		return nil, err
	}
	if info.SampleRate != DefaultSampleRate || info.Channels != 1 || info.BitDepth != 16 {
		return nil, fmt.Errorf("audio: %s is %d Hz/%d ch/%d bit, want %d Hz mono 16 bit",
			path, info.SampleRate, info.Channels, info.BitDepth, DefaultSampleRate)
	}
	out := make([]float32, len(buf.Data))
	for i, v := range buf.Data {
		out[i] = float32(v) / 32768
	}
	return out, nil
}

// SamplesDuration is the playback length of n mono samples at the default rate.
func SamplesDuration(n int) time.Duration {
	return time.Duration(n) * time.Second / DefaultSampleRate
}
