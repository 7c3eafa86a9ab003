package speech

import "time"

// SpeechConfig 语音服务配置
type SpeechConfig struct {
	// 识别 (Google Cloud Speech，凭证走 ADC)
	RecognitionModel string `json:"recognitionModel"`

	// 合成 (Google Translate TTS 端点)
	TTSBaseURL string `json:"ttsBaseUrl"`
	TTSTLD     string `json:"ttsTld"`
	TempDir    string `json:"tempDir"`

	// 录音预处理
	CalibrationWindow  time.Duration `json:"calibrationWindow"`
	AcquisitionTimeout time.Duration `json:"acquisitionTimeout"`
	PhraseTimeLimit    time.Duration `json:"phraseTimeLimit"`
	EnergyRatio        float64       `json:"energyRatio"`
	EnergyFloor        float64       `json:"energyFloor"`

	// 通用配置
	Timeout time.Duration `json:"timeout"`
}

// DefaultSpeechConfig returns the listening and synthesis defaults.
func DefaultSpeechConfig() SpeechConfig {
	return SpeechConfig{
		TTSBaseURL:         "https://translate.google.com",
		TTSTLD:             "com",
		CalibrationWindow:  500 * time.Millisecond,
		AcquisitionTimeout: 5 * time.Second,
		PhraseTimeLimit:    10 * time.Second,
		EnergyRatio:        1.5,
		EnergyFloor:        0.01,
		Timeout:            30 * time.Second,
	}
}
