package speech

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const frameDuration = 20 * time.Millisecond

var (
	ErrInvalidAudio  = errors.New("unsupported or corrupt WAV audio")
	errNoSpeech      = errors.New("no speech detected")
	errListenTimeout = errors.New("no speech before listen timeout")
)

// GateOptions are the listening rules applied to a recorded clip.
type GateOptions struct {
	CalibrationWindow  time.Duration
	AcquisitionTimeout time.Duration
	PhraseTimeLimit    time.Duration
	EnergyRatio        float64
	EnergyFloor        float64
}

// Phrase is the part of a clip that starts at speech onset, re-encoded as mono 16-bit PCM WAV.
type Phrase struct {
	WAV        []byte
	SampleRate int
	Duration   time.Duration
}

// gatePhrase calibrates ambient energy on the head of the clip, finds speech onset
// and cuts the phrase to the configured limit.
func gatePhrase(data []byte, opts GateOptions) (*Phrase, error) {
	samples, sampleRate, err := decodeMono(data)
	if err != nil {
		return nil, err
	}

	frameLen := int(int64(sampleRate) * int64(frameDuration) / int64(time.Second))
	if frameLen <= 0 {
		return nil, ErrInvalidAudio
	}
	energies := frameEnergies(samples, frameLen)

	calibFrames := int(math.Ceil(float64(opts.CalibrationWindow) / float64(frameDuration)))
	if len(energies) <= calibFrames {
		return nil, errNoSpeech
	}

	var ambient float64
	for _, e := range energies[:calibFrames] {
		ambient += e
	}
	if calibFrames > 0 {
		ambient /= float64(calibFrames)
	}
	threshold := math.Max(ambient*opts.EnergyRatio, opts.EnergyFloor)

	onset := -1
	for i := calibFrames; i < len(energies); i++ {
		if energies[i] > threshold {
			onset = i
			break
		}
	}

	waited := func(frames int) time.Duration { return time.Duration(frames-calibFrames) * frameDuration }
	if onset < 0 {
		if opts.AcquisitionTimeout > 0 && waited(len(energies)) >= opts.AcquisitionTimeout {
			return nil, errListenTimeout
		}
		return nil, errNoSpeech
	}
	if opts.AcquisitionTimeout > 0 && waited(onset) > opts.AcquisitionTimeout {
		return nil, errListenTimeout
	}

	start := onset * frameLen
	end := len(samples)
	if opts.PhraseTimeLimit > 0 {
		limit := start + int(int64(sampleRate)*int64(opts.PhraseTimeLimit)/int64(time.Second))
		if limit < end {
			end = limit
		}
	}

	encoded, err := encodeMono(samples[start:end], sampleRate)
	if err != nil {
		return nil, err
	}

	return &Phrase{
		WAV:        encoded,
		SampleRate: sampleRate,
		Duration:   time.Duration(int64(end-start) * int64(time.Second) / int64(sampleRate)),
	}, nil
}

// decodeMono returns samples scaled to [-1, 1], averaged across channels.
func decodeMono(data []byte) ([]float64, int, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return nil, 0, ErrInvalidAudio
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrInvalidAudio, err)
	}

	channels := int(dec.NumChans)
	depth := int(dec.BitDepth)
	sampleRate := int(dec.SampleRate)
	if channels <= 0 || depth <= 0 || sampleRate <= 0 {
		return nil, 0, ErrInvalidAudio
	}

	scale := math.Pow(2, float64(depth-1))
	frames := len(buf.Data) / channels
	out := make([]float64, frames)
	for i := 0; i < frames; i++ {
		var sum float64
		for c := 0; c < channels; c++ {
			sum += float64(buf.Data[i*channels+c]) / scale
		}
		out[i] = sum / float64(channels)
	}
	return out, sampleRate, nil
}

func frameEnergies(samples []float64, frameLen int) []float64 {
	count := len(samples) / frameLen
	energies := make([]float64, count)
	for i := 0; i < count; i++ {
		var sq float64
		for _, s := range samples[i*frameLen : (i+1)*frameLen] {
			sq += s * s
		}
		energies[i] = math.Sqrt(sq / float64(frameLen))
	}
	return energies
}

func encodeMono(samples []float64, sampleRate int) ([]byte, error) {
	ints := make([]int, len(samples))
	for i, s := range samples {
		v := math.Round(s * 32767)
		ints[i] = int(math.Max(-32768, math.Min(32767, v)))
	}

	out := &writeSeeker{}
	enc := wav.NewEncoder(out, sampleRate, 16, 1, 1)
	err := enc.Write(&audio.IntBuffer{
		Data:           ints,
		Format:         &audio.Format{NumChannels: 1, SampleRate: sampleRate},
		SourceBitDepth: 16,
	})
	if err != nil {
		return nil, fmt.Errorf("encode phrase: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("finalize phrase: %w", err)
	}
	return out.buf, nil
}

// writeSeeker is an in-memory io.WriteSeeker; the WAV encoder seeks back to patch chunk sizes.
type writeSeeker struct {
	buf []byte
	pos int
}

func (w *writeSeeker) Write(p []byte) (int, error) {
	if need := w.pos + len(p); need > len(w.buf) {
		w.buf = append(w.buf, make([]byte, need-len(w.buf))...)
	}
	n := copy(w.buf[w.pos:], p)
	w.pos += n
	return n, nil
}

func (w *writeSeeker) Seek(offset int64, whence int) (int64, error) {
	var base int64
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		base = int64(w.pos)
	case io.SeekEnd:
		base = int64(len(w.buf))
	default:
		return 0, fmt.Errorf("invalid whence %d", whence)
	}
	next := base + offset
	if next < 0 {
		return 0, errors.New("negative seek position")
	}
	w.pos = int(next)
	return next, nil
}
