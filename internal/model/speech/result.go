package speech

// RecognitionKind tags the outcome of one listen attempt.
type RecognitionKind string

const (
	RecognitionOK           RecognitionKind = "ok"
	RecognitionNoSpeech     RecognitionKind = "no_speech"
	RecognitionTimeout      RecognitionKind = "timeout"
	RecognitionServiceError RecognitionKind = "service_error"
)

// RecognitionResult is Ok(text) or one of the failure kinds with a readable message.
type RecognitionResult struct {
	Kind    RecognitionKind `json:"kind"`
	Text    string          `json:"text,omitempty"`
	Message string          `json:"message,omitempty"`
}

// OK reports whether the result carries recognized text.
func (r RecognitionResult) OK() bool {
	return r.Kind == RecognitionOK
}

// Recognized 构造成功结果
func Recognized(text string) RecognitionResult {
	return RecognitionResult{Kind: RecognitionOK, Text: text}
}

// NoSpeech 构造未识别到语音的结果
func NoSpeech() RecognitionResult {
	return RecognitionResult{Kind: RecognitionNoSpeech, Message: "could not understand the audio"}
}

// ListenTimeout 构造等待语音超时的结果
func ListenTimeout() RecognitionResult {
	return RecognitionResult{Kind: RecognitionTimeout, Message: "timed out waiting for speech"}
}

// ServiceFailure 构造识别服务错误结果
func ServiceFailure(detail string) RecognitionResult {
	msg := "recognition service error"
	if detail != "" {
		msg += ": " + detail
	}
	return RecognitionResult{Kind: RecognitionServiceError, Message: msg}
}
