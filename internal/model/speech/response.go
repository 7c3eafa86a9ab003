package speech

import "time"

// ASRResponse 语音识别响应
type ASRResponse struct {
	SessionID  string            `json:"sessionId"`
	Result     RecognitionResult `json:"result"`
	Confidence float64           `json:"confidence"`
	Duration   int64             `json:"duration"` // milliseconds of speech sent to the recognizer
	CreatedAt  time.Time         `json:"createdAt"`
}

// TTSResponse 语音合成响应
type TTSResponse struct {
	SessionID string    `json:"sessionId"`
	AudioData []byte    `json:"-"`
	Format    string    `json:"format"`
	Language  string    `json:"language"`
	CreatedAt time.Time `json:"createdAt"`
}
