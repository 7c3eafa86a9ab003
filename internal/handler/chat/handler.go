package chat

import (
	"errors"
	"io"
	"net/http"

	"github.com/bytedance/sonic"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zhouzirui/z-polyglot/backend/internal/handler/httperror"
	chatService "github.com/zhouzirui/z-polyglot/backend/internal/service/chat"
	"github.com/zhouzirui/z-polyglot/backend/pkg/utils"
)

const maxBodyBytes = 1 << 20

// Handler 聊天服务的HTTP处理器
type Handler struct {
	chatSvc *chatService.Service
	log     *zap.Logger
}

// New 创建聊天处理器
func New(chatSvc *chatService.Service, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		chatSvc: chatSvc,
		log:     log,
	}
}

// RegisterRoutes 注册聊天相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/sessions", h.handleCreateSession)
	r.Route("/sessions/{sessionID}", func(sr chi.Router) {
		sr.Get("/", h.handleGetSession)
		sr.Delete("/", h.handleDeleteSession)
		sr.Patch("/settings", h.handleUpdateSettings)
		sr.Post("/messages", h.handleSubmit)
		sr.Delete("/messages", h.handleClear)
	})
}

// handleCreateSession 创建会话
func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Language string `json:"language"`
	}
	if err := decodeOptional(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	session, err := h.chatSvc.CreateSession(r.Context(), payload.Language)
	if err != nil {
		httperror.Respond(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusCreated, session)
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.chatSvc.GetSession(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		httperror.Respond(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, session)
}

func (h *Handler) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := h.chatSvc.DeleteSession(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		httperror.Respond(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleUpdateSettings 更新语言、语音开关与语速
func (h *Handler) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var settings chatService.Settings
	if err := decodeOptional(r, &settings); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	session, err := h.chatSvc.UpdateSettings(r.Context(), chi.URLParam(r, "sessionID"), settings)
	if err != nil {
		httperror.Respond(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, session)
}

// handleSubmit 发送文本消息并等待助手回复
func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Text string `json:"text"`
	}
	if err := decodeOptional(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sessionID := chi.URLParam(r, "sessionID")
	exchange, err := h.chatSvc.Submit(r.Context(), sessionID, payload.Text)
	if err != nil {
		h.log.Warn("submit failed", zap.String("session_id", sessionID), zap.Error(err))
		httperror.Respond(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, exchange)
}

// handleClear 清空对话
func (h *Handler) handleClear(w http.ResponseWriter, r *http.Request) {
	session, err := h.chatSvc.Clear(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		httperror.Respond(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, session)
}

// decodeOptional decodes a JSON body; an empty body leaves dst untouched.
func decodeOptional(r *http.Request, dst any) error {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return err
	}
	if len(raw) == 0 {
		return nil
	}
	if err := sonic.Unmarshal(raw, dst); err != nil {
		return errors.New("invalid json")
	}
	return nil
}
