package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/zhouzirui/z-polyglot/backend/internal/handler/httperror"
	"github.com/zhouzirui/z-polyglot/backend/internal/service/assistant"
	chatservice "github.com/zhouzirui/z-polyglot/backend/internal/service/chat"
)

const (
	readTimeout  = 60 * time.Second
	pingInterval = 54 * time.Second
	writeTimeout = 10 * time.Second

	// 排队等待处理的消息上限，超出时直接回错误帧
	messageQueueSize = 8
	// base64 编码后的音频加上 JSON 信封
	frameOverhead = 64 << 10
)

// WebSocketHandler WebSocket语音处理器
type WebSocketHandler struct {
	chatSvc  *chatservice.Service
	log      *zap.Logger
	upgrader websocket.Upgrader

	readTimeout   time.Duration
	pingInterval  time.Duration
	maxAudioBytes int
}

// NewWebSocketHandler 创建WebSocket处理器
func NewWebSocketHandler(chatSvc *chatservice.Service, log *zap.Logger) *WebSocketHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &WebSocketHandler{
		chatSvc: chatSvc,
		log:     log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		readTimeout:   readTimeout,
		pingInterval:  pingInterval,
		maxAudioBytes: maxUploadBytes,
	}
}

// RegisterWebSocketRoutes 注册WebSocket路由
func (h *WebSocketHandler) RegisterWebSocketRoutes(r chi.Router) {
	r.Get("/ws/{sessionID}", h.handleWebSocket)
}

type inboundMessage struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId"`
	Data      json.RawMessage `json:"data"`
}

// AudioMessage 音频消息；数据可分片发送，IsFinal 时整段识别
type AudioMessage struct {
	AudioData []byte `json:"audioData"`
	Format    string `json:"format"`
	IsFinal   bool   `json:"isFinal"`
}

// TextMessage 文本消息
type TextMessage struct {
	Text string `json:"text"`
}

// ConfigMessage 配置消息
type ConfigMessage = chatservice.Settings

type outgoingMessage struct {
	Type      string      `json:"type"`
	SessionID string      `json:"sessionId,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// wsClient is one connection. Messages are handled on a single worker goroutine,
// so audioFormat and buffer are only touched there; writes go through writeMu.
type wsClient struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	sessionID string

	audioFormat string
	buffer      bytes.Buffer
}

// handleWebSocket 处理WebSocket连接
func (h *WebSocketHandler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	session, err := h.chatSvc.GetSession(r.Context(), sessionID)
	if err != nil {
		httperror.Respond(w, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	log := h.log.With(zap.String("session_id", sessionID))
	log.Info("websocket connected")

	client := &wsClient{conn: conn, sessionID: sessionID}

	conn.SetReadLimit(int64(h.maxAudioBytes/3*4) + frameOverhead)
	_ = conn.SetReadDeadline(time.Now().Add(h.readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.readTimeout))
	})

	ctx, cancel := context.WithCancel(r.Context())
	queue := make(chan *inboundMessage, messageQueueSize)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for msg := range queue {
			if ctx.Err() != nil {
				continue
			}
			h.handleMessage(ctx, client, msg)
		}
	}()
	defer func() {
		cancel()
		close(queue)
		wg.Wait()
	}()

	go h.pingLoop(ctx, conn)

	h.sendResult(client, map[string]any{
		"type":    "connected",
		"session": session,
	})

	// 读循环只负责收帧，长耗时的对话在 worker 中执行，pong 可持续刷新读超时
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("websocket read error", zap.Error(err))
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(h.readTimeout))

		msg := &inboundMessage{}
		if err := sonic.Unmarshal(raw, msg); err != nil {
			h.sendError(client, "invalid message", nil)
			continue
		}
		if msg.SessionID != "" && msg.SessionID != sessionID {
			h.sendError(client, "session mismatch", nil)
			continue
		}

		select {
		case queue <- msg:
		default:
			h.sendError(client, "too many pending messages", map[string]any{"code": http.StatusTooManyRequests})
		}
	}
}

func (h *WebSocketHandler) handleMessage(ctx context.Context, client *wsClient, msg *inboundMessage) {
	switch msg.Type {
	case "audio":
		h.handleAudioMessage(ctx, client, msg.Data)
	case "text":
		h.handleTextMessage(ctx, client, msg.Data)
	case "config":
		h.handleConfigMessage(ctx, client, msg.Data)
	case "clear":
		h.handleClearMessage(ctx, client)
	default:
		h.sendError(client, "unsupported message type: "+msg.Type, nil)
	}
}

func (h *WebSocketHandler) handleAudioMessage(ctx context.Context, client *wsClient, raw []byte) {
	var audio AudioMessage
	if err := sonic.Unmarshal(raw, &audio); err != nil {
		h.sendError(client, "invalid audio payload", nil)
		return
	}

	if client.buffer.Len()+len(audio.AudioData) > h.maxAudioBytes {
		client.buffer.Reset()
		h.sendError(client, fmt.Sprintf("audio exceeds %d bytes", h.maxAudioBytes), map[string]any{"code": http.StatusRequestEntityTooLarge})
		return
	}
	if len(audio.AudioData) > 0 {
		client.buffer.Write(audio.AudioData)
	}
	if audio.Format != "" {
		client.audioFormat = audio.Format
	}
	if !audio.IsFinal {
		return
	}

	data := append([]byte(nil), client.buffer.Bytes()...)
	client.buffer.Reset()
	if len(data) == 0 {
		h.sendError(client, chatservice.ErrEmptyAudio.Error(), nil)
		return
	}

	exchange, err := h.chatSvc.Record(ctx, client.sessionID, data, client.audioFormat, h.statusObserver(client))
	if err != nil {
		h.sendFailure(client, err)
		return
	}
	h.sendExchange(client, exchange)
}

func (h *WebSocketHandler) handleTextMessage(ctx context.Context, client *wsClient, raw []byte) {
	var text TextMessage
	if err := sonic.Unmarshal(raw, &text); err != nil {
		h.sendError(client, "invalid text payload", nil)
		return
	}

	exchange, err := h.chatSvc.Submit(ctx, client.sessionID, text.Text, h.statusObserver(client))
	if err != nil {
		h.sendFailure(client, err)
		return
	}
	h.sendExchange(client, exchange)
}

func (h *WebSocketHandler) handleConfigMessage(ctx context.Context, client *wsClient, raw []byte) {
	var cfg ConfigMessage
	if err := sonic.Unmarshal(raw, &cfg); err != nil {
		h.sendError(client, "invalid config payload", nil)
		return
	}

	session, err := h.chatSvc.UpdateSettings(ctx, client.sessionID, cfg)
	if err != nil {
		h.sendFailure(client, err)
		return
	}
	h.sendResult(client, map[string]any{
		"type":    "config",
		"session": session,
	})
}

func (h *WebSocketHandler) handleClearMessage(ctx context.Context, client *wsClient) {
	client.buffer.Reset()
	session, err := h.chatSvc.Clear(ctx, client.sessionID)
	if err != nil {
		h.sendFailure(client, err)
		return
	}
	h.sendResult(client, map[string]any{
		"type":    "cleared",
		"session": session,
	})
}

func (h *WebSocketHandler) statusObserver(client *wsClient) assistant.StatusObserver {
	return func(status assistant.RunStatus) {
		h.sendResult(client, map[string]any{
			"type":   "status",
			"status": status,
		})
	}
}

func (h *WebSocketHandler) sendExchange(client *wsClient, exchange *chatservice.Exchange) {
	h.sendResult(client, map[string]any{
		"type":     "reply",
		"exchange": exchange,
	})
}

func (h *WebSocketHandler) sendFailure(client *wsClient, err error) {
	status, fields := httperror.Status(err)
	if fields == nil {
		fields = map[string]any{}
	}
	fields["code"] = status

	var recErr *chatservice.RecognitionError
	if errors.As(err, &recErr) {
		h.sendError(client, recErr.Result.Message, fields)
		return
	}
	h.sendError(client, err.Error(), fields)
}

func (h *WebSocketHandler) sendResult(client *wsClient, data map[string]any) {
	h.write(client, outgoingMessage{
		Type:      "result",
		SessionID: client.sessionID,
		Data:      data,
		Timestamp: time.Now().Unix(),
	})
}

func (h *WebSocketHandler) sendError(client *wsClient, message string, fields map[string]any) {
	data := map[string]any{"message": message}
	for k, v := range fields {
		data[k] = v
	}
	h.write(client, outgoingMessage{
		Type:      "error",
		Data:      data,
		Timestamp: time.Now().Unix(),
	})
}

func (h *WebSocketHandler) write(client *wsClient, msg outgoingMessage) {
	payload, err := sonic.Marshal(msg)
	if err != nil {
		h.log.Error("encode websocket message", zap.Error(err))
		return
	}

	client.writeMu.Lock()
	defer client.writeMu.Unlock()
	_ = client.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := client.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		h.log.Debug("websocket write failed", zap.Error(err))
	}
}

// pingLoop 定期发送ping消息；WriteControl 可与其他写操作并发
func (h *WebSocketHandler) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		}
	}
}
