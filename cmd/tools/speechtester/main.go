package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/zhouzirui/z-polyglot/backend/internal/config"
	"github.com/zhouzirui/z-polyglot/backend/internal/logger"
	"github.com/zhouzirui/z-polyglot/backend/internal/model/language"
	speechmodel "github.com/zhouzirui/z-polyglot/backend/internal/model/speech"
	"github.com/zhouzirui/z-polyglot/backend/internal/service/speech"
)

func main() {
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Fatal("配置加载失败", zap.Error(err))
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		zap.NewExample().Fatal("日志初始化失败", zap.Error(err))
	}
	defer func() { _ = log.Sync() }()

	if envErr != nil {
		log.Warn("无法加载 .env，改用系统环境变量", zap.Error(envErr))
	}

	mode := flag.String("mode", "", "测试模式: asr 或 tts")
	audioPath := flag.String("audio", "", "ASR 输入音频文件路径")
	text := flag.String("text", "", "TTS 输入文本")
	outputPath := flag.String("out", "", "TTS 输出音频文件路径 (默认自动生成)")
	format := flag.String("format", "", "ASR 输入格式 (wav/webm/ogg/flac)，默认取文件扩展名")
	lang := flag.String("lang", cfg.Languages.Default, "语言键，例如 es、fr、ja")
	session := flag.String("session", "", "自定义 sessionID，留空则自动生成")
	timeout := flag.Duration("timeout", 45*time.Second, "请求超时时间")

	flag.Parse()

	if *mode != "asr" && *mode != "tts" {
		flag.Usage()
		log.Fatal("请通过 -mode=asr 或 -mode=tts 指定测试模式")
	}

	entry, ok := language.NewMemoryStore(language.Seed()).FindByKey(*lang)
	if !ok {
		log.Fatal("未知语言", zap.String("lang", *lang))
	}

	sessionID := *session
	if sessionID == "" {
		sessionID = fmt.Sprintf("manual-%d", time.Now().UnixNano())
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	settings := cfg.Speech.Settings
	synthesizer := speech.NewTranslateSynthesizer(settings.TTSBaseURL, settings.TTSTLD, settings.Timeout)

	switch *mode {
	case "asr":
		recognizer, err := speech.NewGoogleRecognizer(ctx, settings.RecognitionModel)
		if err != nil {
			log.Fatal("创建识别客户端失败", zap.Error(err))
		}
		defer recognizer.Close()
		svc := speech.NewService(settings, recognizer, synthesizer, log)
		runASR(ctx, svc, log, sessionID, *audioPath, *format, entry.RecognitionLocale)
	case "tts":
		svc := speech.NewService(settings, nil, synthesizer, log)
		runTTS(ctx, svc, log, sessionID, *text, entry.SynthesisCode, *outputPath)
	}
}

func runASR(ctx context.Context, svc *speech.Service, log *zap.Logger, sessionID, audioPath, format, locale string) {
	if audioPath == "" {
		log.Fatal("ASR 模式需要通过 -audio 指定音频文件路径")
	}

	file, err := os.Open(audioPath)
	if err != nil {
		log.Fatal("打开音频文件失败", zap.Error(err))
	}
	defer file.Close()

	if format == "" {
		format = strings.TrimPrefix(strings.ToLower(filepath.Ext(audioPath)), ".")
		if format == "" {
			format = "wav"
		}
	}

	log.Info("开始进行 ASR 测试", zap.String("session_id", sessionID), zap.String("format", format), zap.String("locale", locale))

	resp, err := svc.TranscribeAudio(ctx, &speechmodel.ASRRequest{
		SessionID: sessionID,
		AudioData: file,
		Format:    format,
		Locale:    locale,
	})
	if err != nil {
		log.Fatal("ASR 调用失败", zap.Error(err))
	}

	if !resp.Result.OK() {
		log.Fatal("ASR 未识别到内容", zap.String("kind", string(resp.Result.Kind)), zap.String("message", resp.Result.Message))
	}
	log.Info("ASR 识别成功",
		zap.String("text", resp.Result.Text),
		zap.Float64("confidence", resp.Confidence),
		zap.Int64("duration_ms", resp.Duration))
}

func runTTS(ctx context.Context, svc *speech.Service, log *zap.Logger, sessionID, text, code, outputPath string) {
	if strings.TrimSpace(text) == "" {
		log.Fatal("TTS 模式需要通过 -text 提供待合成文本")
	}

	if outputPath == "" {
		outputPath = fmt.Sprintf("tts-output-%d.mp3", time.Now().Unix())
	}

	log.Info("开始进行 TTS 测试", zap.String("session_id", sessionID), zap.String("language", code))

	resp, err := svc.SynthesizeSpeech(ctx, &speechmodel.TTSRequest{
		SessionID: sessionID,
		Text:      text,
		Language:  code,
	})
	if err != nil {
		log.Fatal("TTS 调用失败", zap.Error(err))
	}

	if err := os.WriteFile(outputPath, resp.AudioData, 0o644); err != nil {
		log.Fatal("写入音频文件失败", zap.Error(err))
	}

	log.Info("TTS 合成成功", zap.String("output", outputPath), zap.Int("bytes", len(resp.AudioData)))
}
