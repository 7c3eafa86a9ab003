package speech

import (
	"io"
)

// ASRRequest 语音识别请求
type ASRRequest struct {
	SessionID string    `json:"sessionId"`
	AudioData io.Reader `json:"-"`
	Format    string    `json:"format"` // wav, webm, ogg, flac
	Locale    string    `json:"locale"` // es-ES, en-US, etc.
}

// TTSRequest 语音合成请求
type TTSRequest struct {
	SessionID string  `json:"sessionId"`
	Text      string  `json:"text"`
	Language  string  `json:"language"` // synthesis code: es, en, etc.
	Speed     float32 `json:"speed"`    // 仅透传，不参与合成
}
