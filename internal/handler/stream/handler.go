package stream

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zhouzirui/z-polyglot/backend/internal/handler/httperror"
	"github.com/zhouzirui/z-polyglot/backend/internal/service/assistant"
	chatService "github.com/zhouzirui/z-polyglot/backend/internal/service/chat"
	"github.com/zhouzirui/z-polyglot/backend/pkg/utils"
)

// Handler streams run progress and the assistant reply via Server-Sent Events
type Handler struct {
	chatSvc *chatService.Service
	log     *zap.Logger
}

// New creates a new stream handler
func New(chatSvc *chatService.Service, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{chatSvc: chatSvc, log: log}
}

// RegisterRoutes 注册流式接口
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/stream/{sessionID}", h.handleStream)
}

// StreamResponse represents one event payload
type StreamResponse struct {
	SessionID string `json:"sessionId"`
	Status    string `json:"status,omitempty"`
	Content   string `json:"content,omitempty"`
	Audio     []byte `json:"audio,omitempty"`
	Format    string `json:"format,omitempty"`
	Kind      string `json:"kind,omitempty"`
	Error     string `json:"error,omitempty"`
	Finished  bool   `json:"finished,omitempty"`
}

func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	message := r.URL.Query().Get("message")
	if message == "" {
		utils.RespondError(w, http.StatusBadRequest, "message query parameter is required")
		return
	}

	// unknown sessions get a plain 404 before the stream opens
	if _, err := h.chatSvc.GetSession(r.Context(), sessionID); err != nil {
		httperror.Respond(w, err)
		return
	}

	if err := h.HandleStreamRequest(r.Context(), w, sessionID, message); err != nil {
		h.log.Warn("stream request failed", zap.String("session_id", sessionID), zap.Error(err))
	}
}

// HandleStreamRequest submits message and reports each polled run status, then the reply.
func (h *Handler) HandleStreamRequest(ctx context.Context, w http.ResponseWriter, sessionID, message string) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return fmt.Errorf("streaming unsupported")
	}

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	observer := func(status assistant.RunStatus) {
		utils.SendSSEEvent(w, flusher, "status", StreamResponse{SessionID: sessionID, Status: string(status)})
	}

	exchange, err := h.chatSvc.Submit(ctx, sessionID, message, observer)
	if err != nil {
		h.sendError(w, flusher, sessionID, err)
		return err
	}

	utils.SendSSEEvent(w, flusher, "reply", StreamResponse{SessionID: sessionID, Content: exchange.Reply})

	switch {
	case len(exchange.Audio) > 0:
		utils.SendSSEEvent(w, flusher, "audio", StreamResponse{SessionID: sessionID, Audio: exchange.Audio, Format: exchange.AudioFormat})
	case exchange.AudioError != "":
		utils.SendSSEEvent(w, flusher, "audio", StreamResponse{SessionID: sessionID, Error: exchange.AudioError})
	}

	utils.SendSSEEvent(w, flusher, "done", StreamResponse{SessionID: sessionID, Finished: true})
	h.log.Debug("stream completed", zap.String("session_id", sessionID))
	return nil
}

func (h *Handler) sendError(w http.ResponseWriter, flusher http.Flusher, sessionID string, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	resp := StreamResponse{SessionID: sessionID, Error: err.Error()}
	if _, fields := httperror.Status(err); fields["kind"] != nil {
		resp.Kind = fmt.Sprint(fields["kind"])
	}
	utils.SendSSEEvent(w, flusher, "error", resp)
}
