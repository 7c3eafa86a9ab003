package speech

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zhouzirui/z-polyglot/backend/internal/handler/httperror"
	"github.com/zhouzirui/z-polyglot/backend/internal/model/language"
	"github.com/zhouzirui/z-polyglot/backend/internal/model/speech"
	chatservice "github.com/zhouzirui/z-polyglot/backend/internal/service/chat"
	"github.com/zhouzirui/z-polyglot/backend/pkg/utils"
)

const maxUploadBytes = 32 << 20

// SpeechService 抽象语音业务，便于测试与替换实现
type SpeechService interface {
	TranscribeAudio(ctx context.Context, req *speech.ASRRequest) (*speech.ASRResponse, error)
	SynthesizeSpeech(ctx context.Context, req *speech.TTSRequest) (*speech.TTSResponse, error)
	Enabled() (recognition, synthesis bool)
}

// Handler 语音服务的HTTP处理器
type Handler struct {
	speechSvc SpeechService
	chatSvc   *chatservice.Service
	languages language.Store
	log       *zap.Logger
}

// New 创建语音处理器；speechSvc 为 nil 时语音端点返回 503
func New(speechSvc SpeechService, chatSvc *chatservice.Service, languages language.Store, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		speechSvc: speechSvc,
		chatSvc:   chatSvc,
		languages: languages,
		log:       log,
	}
}

// RegisterRoutes 注册语音相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/speech", func(speechRouter chi.Router) {
		speechRouter.Post("/transcribe", h.handleTranscribe)
		speechRouter.Post("/synthesize", h.handleSynthesize)
		speechRouter.Get("/health", h.handleHealth)
	})
	if h.chatSvc != nil {
		r.Post("/sessions/{sessionID}/record", h.handleRecord)
	}
}

// handleRecord 上传录音，识别后作为一轮对话提交
func (h *Handler) handleRecord(w http.ResponseWriter, r *http.Request) {
	audio, format, err := readUpload(w, r)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	sessionID := chi.URLParam(r, "sessionID")
	exchange, err := h.chatSvc.Record(r.Context(), sessionID, audio, format)
	if err != nil {
		h.log.Info("record failed", zap.String("session_id", sessionID), zap.Error(err))
		httperror.Respond(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, exchange)
}

// handleTranscribe 处理语音转文本请求
func (h *Handler) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if h.speechSvc == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "speech service unavailable")
		return
	}

	audio, format, err := readUpload(w, r)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	locale := r.FormValue("locale")
	if key := r.FormValue("language"); key != "" && h.languages != nil {
		lang, ok := h.languages.FindByKey(key)
		if !ok {
			utils.RespondError(w, http.StatusBadRequest, "unknown language: "+key)
			return
		}
		locale = lang.RecognitionLocale
	}
	if locale == "" {
		utils.RespondError(w, http.StatusBadRequest, "language or locale is required")
		return
	}

	resp, err := h.speechSvc.TranscribeAudio(r.Context(), &speech.ASRRequest{
		SessionID: r.FormValue("sessionId"),
		AudioData: bytes.NewReader(audio),
		Format:    format,
		Locale:    locale,
	})
	if err != nil {
		h.log.Error("ASR error", zap.Error(err))
		httperror.Respond(w, err)
		return
	}

	status := http.StatusOK
	if !resp.Result.OK() {
		status = http.StatusUnprocessableEntity
	}
	utils.RespondJSON(w, status, resp)
}

// handleSynthesize 处理文本转语音请求，直接返回 MP3
func (h *Handler) handleSynthesize(w http.ResponseWriter, r *http.Request) {
	if h.speechSvc == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "speech service unavailable")
		return
	}

	var req speech.TTSRequest
	raw, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil || sonic.Unmarshal(raw, &req) != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		utils.RespondError(w, http.StatusBadRequest, "text is required")
		return
	}

	// language 可以是界面语言键 (es) 也可以直接是合成代码
	if h.languages != nil {
		if lang, ok := h.languages.FindByKey(req.Language); ok {
			req.Language = lang.SynthesisCode
		}
	}
	if req.Language == "" {
		utils.RespondError(w, http.StatusBadRequest, "language is required")
		return
	}

	resp, err := h.speechSvc.SynthesizeSpeech(r.Context(), &req)
	if err != nil {
		h.log.Warn("TTS error", zap.Error(err))
		httperror.Respond(w, err)
		return
	}

	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Content-Length", strconv.Itoa(len(resp.AudioData)))
	w.Header().Set("Content-Disposition", "inline; filename=speech."+resp.Format)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(resp.AudioData); err != nil {
		h.log.Debug("failed to write audio response", zap.Error(err))
	}
}

// handleHealth 健康检查端点
func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	var recognition, synthesis bool
	if h.speechSvc != nil {
		recognition, synthesis = h.speechSvc.Enabled()
	}
	status := "healthy"
	if !recognition || !synthesis {
		status = "degraded"
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"status":      status,
		"service":     "speech",
		"recognition": recognition,
		"synthesis":   synthesis,
	})
}

// readUpload 读取 multipart 表单中的 audio 字段
func readUpload(w http.ResponseWriter, r *http.Request) ([]byte, string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return nil, "", fmt.Errorf("failed to parse multipart form: %v", err)
	}
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}

	file, header, err := r.FormFile("audio")
	if err != nil {
		return nil, "", fmt.Errorf("audio file is required")
	}
	defer file.Close()

	audio, err := io.ReadAll(file)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read audio: %v", err)
	}
	if len(audio) == 0 {
		return nil, "", fmt.Errorf("audio file is empty")
	}

	format := r.FormValue("format")
	if format == "" {
		format = inferAudioFormat(header)
	}
	return audio, format, nil
}

// inferAudioFormat 从文件名或 Content-Type 推断音频格式
func inferAudioFormat(header *multipart.FileHeader) string {
	switch strings.ToLower(filepath.Ext(header.Filename)) {
	case ".wav", ".wave":
		return "wav"
	case ".webm":
		return "webm"
	case ".ogg", ".opus":
		return "ogg"
	case ".flac":
		return "flac"
	}

	contentType := header.Header.Get("Content-Type")
	switch {
	case strings.Contains(contentType, "webm"):
		return "webm"
	case strings.Contains(contentType, "ogg"):
		return "ogg"
	case strings.Contains(contentType, "flac"):
		return "flac"
	default:
		return "wav"
	}
}
