package speech

import (
	"context"
	"fmt"
	"strings"

	gspeech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
)

// Encoding of audio handed to a Recognizer.
type Encoding string

const (
	EncodingLinear16 Encoding = "linear16"
	EncodingWebMOpus Encoding = "webm_opus"
	EncodingOggOpus  Encoding = "ogg_opus"
	EncodingFLAC     Encoding = "flac"
)

// AudioConfig 描述发送给识别服务的音频
type AudioConfig struct {
	Encoding   Encoding
	SampleRate int
	Locale     string
}

// Transcript is the best alternative returned by the recognizer. Empty Text means nothing was understood.
type Transcript struct {
	Text       string
	Confidence float64
}

// Recognizer 远程语音识别接口
type Recognizer interface {
	Recognize(ctx context.Context, audio []byte, cfg AudioConfig) (Transcript, error)
}

// GoogleRecognizer uses Google Cloud Speech-to-Text; credentials come from ADC.
type GoogleRecognizer struct {
	client *gspeech.Client
	model  string
}

// NewGoogleRecognizer 创建 Google Cloud Speech 客户端
func NewGoogleRecognizer(ctx context.Context, model string) (*GoogleRecognizer, error) {
	client, err := gspeech.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create speech client: %w", err)
	}
	return &GoogleRecognizer{client: client, model: model}, nil
}

// Close releases the underlying gRPC connection.
func (r *GoogleRecognizer) Close() error {
	if r.client == nil {
		return nil
	}
	return r.client.Close()
}

func (r *GoogleRecognizer) Recognize(ctx context.Context, audio []byte, cfg AudioConfig) (Transcript, error) {
	resp, err := r.client.Recognize(ctx, &speechpb.RecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:                   pbEncoding(cfg.Encoding),
			SampleRateHertz:            int32(cfg.SampleRate),
			LanguageCode:               cfg.Locale,
			Model:                      r.model,
			EnableAutomaticPunctuation: true,
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: audio},
		},
	})
	if err != nil {
		return Transcript{}, fmt.Errorf("recognize: %w", err)
	}

	var (
		parts      []string
		confidence float64
	)
	for _, result := range resp.GetResults() {
		alts := result.GetAlternatives()
		if len(alts) == 0 {
			continue
		}
		if text := strings.TrimSpace(alts[0].GetTranscript()); text != "" {
			parts = append(parts, text)
			if confidence == 0 {
				confidence = float64(alts[0].GetConfidence())
			}
		}
	}

	return Transcript{Text: strings.Join(parts, " "), Confidence: confidence}, nil
}

func pbEncoding(enc Encoding) speechpb.RecognitionConfig_AudioEncoding {
	switch enc {
	case EncodingLinear16:
		return speechpb.RecognitionConfig_LINEAR16
	case EncodingWebMOpus:
		return speechpb.RecognitionConfig_WEBM_OPUS
	case EncodingOggOpus:
		return speechpb.RecognitionConfig_OGG_OPUS
	case EncodingFLAC:
		return speechpb.RecognitionConfig_FLAC
	default:
		return speechpb.RecognitionConfig_ENCODING_UNSPECIFIED
	}
}
