package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/z-polyglot/backend/internal/model/language"
	"github.com/zhouzirui/z-polyglot/backend/internal/model/speech"
	"github.com/zhouzirui/z-polyglot/backend/internal/service/assistant"
	chatservice "github.com/zhouzirui/z-polyglot/backend/internal/service/chat"
	speechsvc "github.com/zhouzirui/z-polyglot/backend/internal/service/speech"
)

type mockSpeechService struct {
	result     speech.RecognitionResult
	lastLocale string
	lastFormat string
	lastLang   string
	synthErr   error
}

func (m *mockSpeechService) TranscribeAudio(_ context.Context, req *speech.ASRRequest) (*speech.ASRResponse, error) {
	if _, err := io.ReadAll(req.AudioData); err != nil {
		return nil, err
	}
	m.lastLocale = req.Locale
	m.lastFormat = req.Format
	return &speech.ASRResponse{SessionID: req.SessionID, Result: m.result, CreatedAt: time.Now()}, nil
}

func (m *mockSpeechService) SynthesizeSpeech(_ context.Context, req *speech.TTSRequest) (*speech.TTSResponse, error) {
	m.lastLang = req.Language
	if m.synthErr != nil {
		return nil, &speechsvc.SynthesisError{Language: req.Language, Err: m.synthErr}
	}
	return &speech.TTSResponse{SessionID: req.SessionID, AudioData: []byte("ID3"), Format: "mp3", Language: req.Language}, nil
}

func (m *mockSpeechService) Enabled() (bool, bool) { return true, true }

func (m *mockSpeechService) Listen(_ context.Context, _ []byte, format, locale string) speech.RecognitionResult {
	m.lastLocale = locale
	m.lastFormat = format
	return m.result
}

func (m *mockSpeechService) WithClip(_ context.Context, text, lang string, fn func(*speechsvc.Clip) error) error {
	m.lastLang = lang
	clip, err := speechsvc.NewClip("", []byte("mp3:"+text), "mp3")
	if err != nil {
		return err
	}
	defer clip.Close()
	return fn(clip)
}

type echoConversation struct{}

func (echoConversation) StartConversation(context.Context) (string, error) { return "thread_ws", nil }

func (echoConversation) EndConversation(context.Context, string) error { return nil }

func (echoConversation) Send(_ context.Context, _, text string, observers ...assistant.StatusObserver) (string, error) {
	for _, o := range observers {
		o(assistant.RunQueued)
		o(assistant.RunCompleted)
	}
	return "echo: " + text, nil
}

func setupRouter(mock *mockSpeechService) (*chi.Mux, *chatservice.Service) {
	langs := language.NewMemoryStore(language.Seed())
	chatSvc := chatservice.NewService(chatservice.Options{
		Languages: langs,
		Assistant: echoConversation{},
		Speech:    mock,
	})
	r := chi.NewRouter()
	New(mock, chatSvc, langs, nil).RegisterRoutes(r)
	NewWebSocketHandler(chatSvc, nil).RegisterWebSocketRoutes(r)
	return r, chatSvc
}

func multipartAudio(t *testing.T, filename string, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	part, err := mw.CreateFormFile("audio", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write([]byte("RIFF....WAVE")); err != nil {
		t.Fatalf("write audio: %v", err)
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return body, mw.FormDataContentType()
}

func TestTranscribeResolvesLanguageKey(t *testing.T) {
	mock := &mockSpeechService{result: speech.Recognized("bonjour")}
	r, _ := setupRouter(mock)

	body, contentType := multipartAudio(t, "clip.wav", map[string]string{"language": "fr"})
	req := httptest.NewRequest(http.MethodPost, "/speech/transcribe", body)
	req.Header.Set("Content-Type", contentType)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if mock.lastLocale != "fr-FR" {
		t.Fatalf("expected locale fr-FR, got %s", mock.lastLocale)
	}
	if mock.lastFormat != "wav" {
		t.Fatalf("expected wav format, got %s", mock.lastFormat)
	}
}

func TestTranscribeNoSpeechIs422(t *testing.T) {
	mock := &mockSpeechService{result: speech.NoSpeech()}
	r, _ := setupRouter(mock)

	body, contentType := multipartAudio(t, "clip.webm", map[string]string{"locale": "en-US"})
	req := httptest.NewRequest(http.MethodPost, "/speech/transcribe", body)
	req.Header.Set("Content-Type", contentType)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", resp.Code)
	}
	if mock.lastFormat != "webm" {
		t.Fatalf("expected webm format, got %s", mock.lastFormat)
	}
}

func TestTranscribeRequiresAudio(t *testing.T) {
	r, _ := setupRouter(&mockSpeechService{})

	req := httptest.NewRequest(http.MethodPost, "/speech/transcribe", bytes.NewReader([]byte("{}")))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestSynthesizeReturnsMP3(t *testing.T) {
	mock := &mockSpeechService{}
	r, _ := setupRouter(mock)

	req := httptest.NewRequest(http.MethodPost, "/speech/synthesize", bytes.NewReader([]byte(`{"text":"Hi there","language":"en"}`)))
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if ct := resp.Header().Get("Content-Type"); ct != "audio/mpeg" {
		t.Fatalf("unexpected content type %s", ct)
	}
	if resp.Body.String() != "ID3" {
		t.Fatalf("unexpected body %q", resp.Body.String())
	}
	if mock.lastLang != "en" {
		t.Fatalf("expected synthesis code en, got %s", mock.lastLang)
	}
}

func TestSynthesizeFailureIs502(t *testing.T) {
	r, _ := setupRouter(&mockSpeechService{synthErr: errors.New("blocked")})

	req := httptest.NewRequest(http.MethodPost, "/speech/synthesize", bytes.NewReader([]byte(`{"text":"hola","language":"es"}`)))
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", resp.Code)
	}
}

func TestRecordSubmitsTranscript(t *testing.T) {
	mock := &mockSpeechService{result: speech.Recognized("hola")}
	r, chatSvc := setupRouter(mock)

	session, err := chatSvc.CreateSession(context.Background(), "es")
	if err != nil {
		t.Fatalf("CreateSession err: %v", err)
	}

	body, contentType := multipartAudio(t, "clip.wav", nil)
	req := httptest.NewRequest(http.MethodPost, "/sessions/"+session.ID+"/record", body)
	req.Header.Set("Content-Type", contentType)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var exchange chatservice.Exchange
	if err := json.Unmarshal(resp.Body.Bytes(), &exchange); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if exchange.UserText != "hola" || exchange.Reply != "echo: hola" {
		t.Fatalf("unexpected exchange %+v", exchange)
	}
	if string(exchange.Audio) != "mp3:echo: hola" {
		t.Fatalf("unexpected audio %q", exchange.Audio)
	}
	if mock.lastLocale != "es-ES" || mock.lastLang != "es" {
		t.Fatalf("unexpected locale/code %s/%s", mock.lastLocale, mock.lastLang)
	}
}

func TestRecordTimeoutIs422(t *testing.T) {
	mock := &mockSpeechService{result: speech.ListenTimeout()}
	r, chatSvc := setupRouter(mock)

	session, err := chatSvc.CreateSession(context.Background(), "")
	if err != nil {
		t.Fatalf("CreateSession err: %v", err)
	}

	body, contentType := multipartAudio(t, "clip.wav", nil)
	req := httptest.NewRequest(http.MethodPost, "/sessions/"+session.ID+"/record", body)
	req.Header.Set("Content-Type", contentType)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", resp.Code)
	}
	got, _ := chatSvc.GetSession(context.Background(), session.ID)
	if len(got.Messages) != 0 {
		t.Fatalf("expected untouched log, got %d messages", len(got.Messages))
	}
}

func TestHealth(t *testing.T) {
	r, _ := setupRouter(&mockSpeechService{})
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/speech/health", nil))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "healthy" {
		t.Fatalf("unexpected status %v", body["status"])
	}
}
