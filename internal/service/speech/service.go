package speech

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/zhouzirui/z-polyglot/backend/internal/model/speech"
)

// Service 语音服务核心业务逻辑
type Service struct {
	config      speech.SpeechConfig
	recognizer  Recognizer
	synthesizer Synthesizer
	log         *zap.Logger
}

// NewService 创建语音服务实例
func NewService(cfg speech.SpeechConfig, recognizer Recognizer, synthesizer Synthesizer, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		config:      cfg,
		recognizer:  recognizer,
		synthesizer: synthesizer,
		log:         log,
	}
}

func (s *Service) gateOptions() GateOptions {
	return GateOptions{
		CalibrationWindow:  s.config.CalibrationWindow,
		AcquisitionTimeout: s.config.AcquisitionTimeout,
		PhraseTimeLimit:    s.config.PhraseTimeLimit,
		EnergyRatio:        s.config.EnergyRatio,
		EnergyFloor:        s.config.EnergyFloor,
	}
}

// Listen runs one listen attempt over a recorded clip. Failures are reported in the result, never as an error.
func (s *Service) Listen(ctx context.Context, audio []byte, format, locale string) speech.RecognitionResult {
	resp := s.listen(ctx, audio, format, locale)
	return resp.Result
}

type listenOutcome struct {
	Result     speech.RecognitionResult
	Confidence float64
	Duration   time.Duration
}

func (s *Service) listen(ctx context.Context, audio []byte, format, locale string) listenOutcome {
	if s.recognizer == nil {
		return listenOutcome{Result: speech.ServiceFailure(ErrDisabled.Error())}
	}
	if len(audio) == 0 {
		return listenOutcome{Result: speech.NoSpeech()}
	}

	cfg := AudioConfig{Locale: locale}
	payload := audio
	var duration time.Duration

	switch strings.ToLower(format) {
	case "", "wav", "wave":
		phrase, err := gatePhrase(audio, s.gateOptions())
		switch {
		case errors.Is(err, errNoSpeech):
			return listenOutcome{Result: speech.NoSpeech()}
		case errors.Is(err, errListenTimeout):
			return listenOutcome{Result: speech.ListenTimeout()}
		case err != nil:
			s.log.Warn("reject audio clip", zap.Error(err))
			return listenOutcome{Result: speech.ServiceFailure("unsupported audio")}
		}
		payload = phrase.WAV
		duration = phrase.Duration
		cfg.Encoding = EncodingLinear16
		cfg.SampleRate = phrase.SampleRate
	case "webm":
		cfg.Encoding = EncodingWebMOpus
		cfg.SampleRate = 48000
	case "ogg", "opus":
		cfg.Encoding = EncodingOggOpus
		cfg.SampleRate = 48000
	case "flac":
		cfg.Encoding = EncodingFLAC
	default:
		return listenOutcome{Result: speech.ServiceFailure("unsupported audio format " + format)}
	}

	if s.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.Timeout)
		defer cancel()
	}

	transcript, err := s.recognizer.Recognize(ctx, payload, cfg)
	if err != nil {
		s.log.Error("speech recognition failed", zap.String("locale", locale), zap.Error(err))
		return listenOutcome{Result: speech.ServiceFailure(err.Error())}
	}
	if strings.TrimSpace(transcript.Text) == "" {
		return listenOutcome{Result: speech.NoSpeech(), Duration: duration}
	}

	return listenOutcome{
		Result:     speech.Recognized(strings.TrimSpace(transcript.Text)),
		Confidence: transcript.Confidence,
		Duration:   duration,
	}
}

// TranscribeAudio 语音转文字
func (s *Service) TranscribeAudio(ctx context.Context, req *speech.ASRRequest) (*speech.ASRResponse, error) {
	if req == nil || req.AudioData == nil {
		return nil, fmt.Errorf("audio data is required")
	}
	if s.recognizer == nil {
		return nil, ErrDisabled
	}
	audio, err := io.ReadAll(req.AudioData)
	if err != nil {
		return nil, fmt.Errorf("read audio: %w", err)
	}

	out := s.listen(ctx, audio, req.Format, req.Locale)
	return &speech.ASRResponse{
		SessionID:  req.SessionID,
		Result:     out.Result,
		Confidence: out.Confidence,
		Duration:   out.Duration.Milliseconds(),
		CreatedAt:  time.Now(),
	}, nil
}

// Synthesize fetches speech for text and stores it as a temp clip owned by the caller.
func (s *Service) Synthesize(ctx context.Context, text, language string) (*Clip, error) {
	if s.synthesizer == nil {
		return nil, &SynthesisError{Language: language, Err: ErrDisabled}
	}
	if strings.TrimSpace(text) == "" {
		return nil, &SynthesisError{Language: language, Err: ErrEmptyText}
	}

	if s.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.Timeout)
		defer cancel()
	}

	data, err := s.synthesizer.Synthesize(ctx, text, language)
	if err != nil {
		s.log.Warn("speech synthesis failed", zap.String("language", language), zap.Error(err))
		return nil, &SynthesisError{Language: language, Err: err}
	}

	clip, err := NewClip(s.config.TempDir, data, "mp3")
	if err != nil {
		return nil, &SynthesisError{Language: language, Err: err}
	}
	return clip, nil
}

// WithClip synthesizes text, hands the clip to fn and removes the file on every exit path.
func (s *Service) WithClip(ctx context.Context, text, language string, fn func(*Clip) error) error {
	clip, err := s.Synthesize(ctx, text, language)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := clip.Close(); cerr != nil {
			s.log.Warn("remove clip file", zap.String("path", clip.Path()), zap.Error(cerr))
		}
	}()
	return fn(clip)
}

// SynthesizeSpeech 文字转语音（返回字节数组）
func (s *Service) SynthesizeSpeech(ctx context.Context, req *speech.TTSRequest) (*speech.TTSResponse, error) {
	if req == nil {
		return nil, fmt.Errorf("request is required")
	}

	var data []byte
	err := s.WithClip(ctx, req.Text, req.Language, func(c *Clip) error {
		var rerr error
		data, rerr = c.ReadAll()
		return rerr
	})
	if err != nil {
		return nil, err
	}

	return &speech.TTSResponse{
		SessionID: req.SessionID,
		AudioData: data,
		Format:    "mp3",
		Language:  req.Language,
		CreatedAt: time.Now(),
	}, nil
}

// Enabled reports which directions are wired.
func (s *Service) Enabled() (recognition, synthesis bool) {
	return s.recognizer != nil, s.synthesizer != nil
}
