package language

// Language maps a UI language key to the codes each remote speech service expects.
type Language struct {
	Key               string `json:"key" yaml:"key"`
	Name              string `json:"name" yaml:"name"`
	RecognitionLocale string `json:"recognitionLocale" yaml:"recognitionLocale"`
	SynthesisCode     string `json:"synthesisCode" yaml:"synthesisCode"`
}

// Seed returns the preset language table in display order.
func Seed() []Language {
	return []Language{
		{Key: "es", Name: "Español", RecognitionLocale: "es-ES", SynthesisCode: "es"},
		{Key: "en", Name: "English", RecognitionLocale: "en-US", SynthesisCode: "en"},
		{Key: "fr", Name: "Français", RecognitionLocale: "fr-FR", SynthesisCode: "fr"},
		{Key: "de", Name: "Deutsch", RecognitionLocale: "de-DE", SynthesisCode: "de"},
		{Key: "it", Name: "Italiano", RecognitionLocale: "it-IT", SynthesisCode: "it"},
		{Key: "pt", Name: "Português", RecognitionLocale: "pt-PT", SynthesisCode: "pt"},
		{Key: "zh", Name: "中文", RecognitionLocale: "zh-CN", SynthesisCode: "zh"},
		{Key: "ja", Name: "日本語", RecognitionLocale: "ja-JP", SynthesisCode: "ja"},
		{Key: "ko", Name: "한국어", RecognitionLocale: "ko-KR", SynthesisCode: "ko"},
		{Key: "ar", Name: "العربية", RecognitionLocale: "ar-SA", SynthesisCode: "ar"},
	}
}
