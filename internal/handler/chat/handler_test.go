package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	chatModel "github.com/zhouzirui/z-polyglot/backend/internal/model/chat"
	"github.com/zhouzirui/z-polyglot/backend/internal/service/assistant"
	chatservice "github.com/zhouzirui/z-polyglot/backend/internal/service/chat"
)

type stubConversation struct {
	err error
}

func (s *stubConversation) StartConversation(context.Context) (string, error) {
	return "thread_test", nil
}

func (s *stubConversation) EndConversation(context.Context, string) error { return nil }

func (s *stubConversation) Send(_ context.Context, _, text string, _ ...assistant.StatusObserver) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return "re: " + text, nil
}

func setupRouter(conv *stubConversation) (*chi.Mux, *chatservice.Service) {
	chatSvc := chatservice.NewService(chatservice.Options{Assistant: conv})
	handler := New(chatSvc, nil)

	r := chi.NewRouter()
	handler.RegisterRoutes(r)
	return r, chatSvc
}

func do(r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var payload []byte
	if body != nil {
		payload, _ = json.Marshal(body)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func createSession(t *testing.T, r http.Handler) chatModel.Snapshot {
	t.Helper()
	resp := do(r, http.MethodPost, "/sessions", map[string]string{"language": "en"})
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.Code, resp.Body.String())
	}
	var session chatModel.Snapshot
	if err := json.Unmarshal(resp.Body.Bytes(), &session); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	off := false
	if resp := do(r, http.MethodPatch, "/sessions/"+session.ID+"/settings", map[string]any{"voiceEnabled": off}); resp.Code != http.StatusOK {
		t.Fatalf("expected 200 from settings, got %d", resp.Code)
	}
	return session
}

func TestCreateSessionDefaults(t *testing.T) {
	r, _ := setupRouter(&stubConversation{})

	resp := do(r, http.MethodPost, "/sessions", nil)
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.Code)
	}

	var session chatModel.Snapshot
	if err := json.Unmarshal(resp.Body.Bytes(), &session); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if session.Language != "es" || !session.VoiceEnabled || session.VoiceSpeed != 1.0 {
		t.Fatalf("unexpected defaults: %+v", session)
	}
}

func TestCreateSessionUnknownLanguage(t *testing.T) {
	r, _ := setupRouter(&stubConversation{})

	resp := do(r, http.MethodPost, "/sessions", map[string]string{"language": "klingon"})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestGetSessionNotFound(t *testing.T) {
	r, _ := setupRouter(&stubConversation{})

	resp := do(r, http.MethodGet, "/sessions/missing", nil)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}

func TestSubmitAndClear(t *testing.T) {
	r, _ := setupRouter(&stubConversation{})
	session := createSession(t, r)

	resp := do(r, http.MethodPost, "/sessions/"+session.ID+"/messages", map[string]string{"text": "Hello"})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var exchange chatservice.Exchange
	if err := json.Unmarshal(resp.Body.Bytes(), &exchange); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if exchange.Reply != "re: Hello" {
		t.Fatalf("unexpected reply %q", exchange.Reply)
	}
	if len(exchange.Session.Messages) != 2 || !exchange.Session.Connected {
		t.Fatalf("unexpected session after submit: %+v", exchange.Session)
	}

	resp = do(r, http.MethodDelete, "/sessions/"+session.ID+"/messages", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var cleared chatModel.Snapshot
	if err := json.Unmarshal(resp.Body.Bytes(), &cleared); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(cleared.Messages) != 0 || cleared.Connected {
		t.Fatalf("expected idle session, got %+v", cleared)
	}
}

func TestSubmitEmptyText(t *testing.T) {
	r, _ := setupRouter(&stubConversation{})
	session := createSession(t, r)

	resp := do(r, http.MethodPost, "/sessions/"+session.ID+"/messages", map[string]string{"text": "  "})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestSubmitAssistantTimeout(t *testing.T) {
	r, svc := setupRouter(&stubConversation{err: assistant.ErrTimeout})
	session := createSession(t, r)

	resp := do(r, http.MethodPost, "/sessions/"+session.ID+"/messages", map[string]string{"text": "hola"})
	if resp.Code != http.StatusGatewayTimeout {
		t.Fatalf("expected 504, got %d", resp.Code)
	}

	got, err := svc.GetSession(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("GetSession err: %v", err)
	}
	if len(got.Messages) != 0 {
		t.Fatalf("expected empty log after failed send, got %d messages", len(got.Messages))
	}
}

func TestUpdateSettingsRejectsSpeed(t *testing.T) {
	r, _ := setupRouter(&stubConversation{})
	session := createSession(t, r)

	resp := do(r, http.MethodPatch, "/sessions/"+session.ID+"/settings", map[string]any{"voiceSpeed": 9.0})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}

	resp = do(r, http.MethodPatch, "/sessions/"+session.ID+"/settings", map[string]any{"language": "pt", "voiceSpeed": 0.75})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var updated chatModel.Snapshot
	if err := json.Unmarshal(resp.Body.Bytes(), &updated); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if updated.Language != "pt" || updated.VoiceSpeed != 0.75 {
		t.Fatalf("unexpected settings: %+v", updated)
	}
}

func TestDeleteSession(t *testing.T) {
	r, _ := setupRouter(&stubConversation{})
	session := createSession(t, r)

	if resp := do(r, http.MethodDelete, "/sessions/"+session.ID, nil); resp.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.Code)
	}
	if resp := do(r, http.MethodGet, "/sessions/"+session.ID, nil); resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", resp.Code)
	}
}

func TestInvalidBody(t *testing.T) {
	r, _ := setupRouter(&stubConversation{})
	req := httptest.NewRequest(http.MethodPost, "/sessions", bytes.NewReader([]byte("{not json")))
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}
