package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zhouzirui/z-polyglot/backend/internal/model/chat"
	"github.com/zhouzirui/z-polyglot/backend/internal/model/language"
	speechmodel "github.com/zhouzirui/z-polyglot/backend/internal/model/speech"
	"github.com/zhouzirui/z-polyglot/backend/internal/service/assistant"
	"github.com/zhouzirui/z-polyglot/backend/internal/service/speech"
)

var (
	ErrEmptyText       = errors.New("text is required")
	ErrEmptyAudio      = errors.New("audio is required")
	ErrUnknownLanguage = errors.New("unknown language")
	ErrInvalidSpeed    = fmt.Errorf("voice speed must be between %.1f and %.1f", chat.MinVoiceSpeed, chat.MaxVoiceSpeed)
	ErrSpeechDisabled  = errors.New("speech is not configured")
)

// RecognitionError is returned by Record when listening did not produce text. The session is left untouched.
type RecognitionError struct {
	Result speechmodel.RecognitionResult
}

func (e *RecognitionError) Error() string {
	return fmt.Sprintf("recognition %s: %s", e.Result.Kind, e.Result.Message)
}

// Conversation 对话助手客户端
type Conversation interface {
	StartConversation(ctx context.Context) (string, error)
	Send(ctx context.Context, handle, text string, observers ...assistant.StatusObserver) (string, error)
	EndConversation(ctx context.Context, handle string) error
}

// Speech 语音识别与合成
type Speech interface {
	Listen(ctx context.Context, audio []byte, format, locale string) speechmodel.RecognitionResult
	WithClip(ctx context.Context, text, language string, fn func(*speech.Clip) error) error
	Enabled() (recognition, synthesis bool)
}

// Settings is a partial update; nil fields are left as they are.
type Settings struct {
	Language     *string  `json:"language,omitempty"`
	VoiceEnabled *bool    `json:"voiceEnabled,omitempty"`
	VoiceSpeed   *float64 `json:"voiceSpeed,omitempty"`
}

// Exchange is the outcome of one successful submit or record.
type Exchange struct {
	Session     chat.Snapshot `json:"session"`
	UserText    string        `json:"userText"`
	Reply       string        `json:"reply"`
	Audio       []byte        `json:"audio,omitempty"`
	AudioFormat string        `json:"audioFormat,omitempty"`
	AudioError  string        `json:"audioError,omitempty"`
}

// Service encapsulates conversation state management.
type Service struct {
	store     Store
	languages language.Store
	assistant Conversation
	speech    Speech
	defLang   string
	log       *zap.Logger
	now       func() time.Time

	locksMu sync.Mutex
	locks   map[string]*sessionLock
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

// Options wires the collaborators of Service. Speech may be nil when voice is not configured.
type Options struct {
	Store           Store
	Languages       language.Store
	Assistant       Conversation
	Speech          Speech
	DefaultLanguage string
	Logger          *zap.Logger
}

// NewService 创建会话编排服务
func NewService(opts Options) *Service {
	store := opts.Store
	if store == nil {
		store = NewMemoryStore(0)
	}
	langs := opts.Languages
	if langs == nil {
		langs = language.NewMemoryStore(language.Seed())
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	def := opts.DefaultLanguage
	if _, ok := langs.FindByKey(def); !ok {
		def = chat.DefaultLanguage
	}

	return &Service{
		store:     store,
		languages: langs,
		assistant: opts.Assistant,
		speech:    opts.Speech,
		defLang:   def,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
		locks:     make(map[string]*sessionLock),
	}
}

// lock serializes actions on one session; the returned func releases it.
func (s *Service) lock(id string) func() {
	s.locksMu.Lock()
	l, ok := s.locks[id]
	if !ok {
		l = &sessionLock{}
		s.locks[id] = l
	}
	l.refs++
	s.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, id)
		}
		s.locksMu.Unlock()
	}
}

// CreateSession starts an idle session; an empty language selects the default.
func (s *Service) CreateSession(ctx context.Context, lang string) (chat.Snapshot, error) {
	if lang == "" {
		lang = s.defLang
	}
	if _, ok := s.languages.FindByKey(lang); !ok {
		return chat.Snapshot{}, fmt.Errorf("%w: %s", ErrUnknownLanguage, lang)
	}

	session := chat.NewSession(uuid.NewString(), lang, s.now())
	if err := s.store.Save(ctx, session); err != nil {
		return chat.Snapshot{}, fmt.Errorf("save session: %w", err)
	}
	s.log.Info("session created", zap.String("session_id", session.ID), zap.String("language", lang))
	return session.Snapshot(), nil
}

// GetSession retrieves a session by identifier.
func (s *Service) GetSession(ctx context.Context, id string) (chat.Snapshot, error) {
	session, err := s.store.Get(ctx, id)
	if err != nil {
		return chat.Snapshot{}, err
	}
	return session.Snapshot(), nil
}

// UpdateSettings changes language, voice toggle or voice speed. The log and handle are kept.
func (s *Service) UpdateSettings(ctx context.Context, id string, in Settings) (chat.Snapshot, error) {
	if in.Language != nil {
		if _, ok := s.languages.FindByKey(*in.Language); !ok {
			return chat.Snapshot{}, fmt.Errorf("%w: %s", ErrUnknownLanguage, *in.Language)
		}
	}
	if in.VoiceSpeed != nil && (*in.VoiceSpeed < chat.MinVoiceSpeed || *in.VoiceSpeed > chat.MaxVoiceSpeed) {
		return chat.Snapshot{}, ErrInvalidSpeed
	}

	unlock := s.lock(id)
	defer unlock()

	session, err := s.store.Get(ctx, id)
	if err != nil {
		return chat.Snapshot{}, err
	}
	if in.Language != nil {
		session.Language = *in.Language
	}
	if in.VoiceEnabled != nil {
		session.VoiceEnabled = *in.VoiceEnabled
	}
	if in.VoiceSpeed != nil {
		session.VoiceSpeed = *in.VoiceSpeed
	}
	session.UpdatedAt = s.now()

	if err := s.store.Save(ctx, session); err != nil {
		return chat.Snapshot{}, fmt.Errorf("save session: %w", err)
	}
	return session.Snapshot(), nil
}

// Submit sends user text to the assistant and records the exchange.
func (s *Service) Submit(ctx context.Context, id, text string, observers ...assistant.StatusObserver) (*Exchange, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyText
	}

	unlock := s.lock(id)
	defer unlock()

	session, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.exchange(ctx, session, text, observers)
}

// Record listens to an uploaded clip in the session language and submits the transcript.
func (s *Service) Record(ctx context.Context, id string, audio []byte, format string, observers ...assistant.StatusObserver) (*Exchange, error) {
	if len(audio) == 0 {
		return nil, ErrEmptyAudio
	}
	if !s.canListen() {
		return nil, ErrSpeechDisabled
	}

	unlock := s.lock(id)
	defer unlock()

	session, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	lang, ok := s.languages.FindByKey(session.Language)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownLanguage, session.Language)
	}

	result := s.speech.Listen(ctx, audio, format, lang.RecognitionLocale)
	if !result.OK() {
		s.log.Info("recognition produced no text",
			zap.String("session_id", id),
			zap.String("kind", string(result.Kind)),
			zap.String("message", result.Message))
		return nil, &RecognitionError{Result: result}
	}

	return s.exchange(ctx, session, result.Text, observers)
}

// exchange runs Idle->Active or Active->Active; caller holds the session lock.
func (s *Service) exchange(ctx context.Context, session chat.Session, text string, observers []assistant.StatusObserver) (*Exchange, error) {
	if s.assistant == nil {
		return nil, &assistant.ServiceError{Op: "send", Err: errors.New("assistant not configured")}
	}

	handle := session.ConversationHandle
	if handle == "" {
		var err error
		handle, err = s.assistant.StartConversation(ctx)
		if err != nil {
			return nil, err
		}
		s.log.Info("conversation started", zap.String("session_id", session.ID))
	}

	reply, err := s.assistant.Send(ctx, handle, text, observers...)
	if err != nil {
		s.log.Warn("assistant send failed", zap.String("session_id", session.ID), zap.Error(err))
		// a fresh handle is dropped so an empty log never carries one
		if session.ConversationHandle == "" {
			s.endConversation(ctx, session.ID, handle)
		}
		return nil, err
	}

	now := s.now()
	session.ConversationHandle = handle
	if err := session.Append(chat.RoleUser, text, now); err != nil {
		return nil, err
	}
	if err := session.Append(chat.RoleAssistant, reply, now); err != nil {
		return nil, err
	}
	if err := s.store.Save(ctx, session); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}

	out := &Exchange{
		Session:  session.Snapshot(),
		UserText: text,
		Reply:    reply,
	}
	if session.VoiceEnabled {
		s.speak(ctx, session, out)
	}
	return out, nil
}

// speak attaches synthesized audio to out. Failures are reported on out and never fail the exchange.
func (s *Service) speak(ctx context.Context, session chat.Session, out *Exchange) {
	if !s.canSpeak() {
		out.AudioError = ErrSpeechDisabled.Error()
		return
	}
	lang, ok := s.languages.FindByKey(session.Language)
	if !ok {
		out.AudioError = fmt.Sprintf("%v: %s", ErrUnknownLanguage, session.Language)
		return
	}

	err := s.speech.WithClip(ctx, out.Reply, lang.SynthesisCode, func(c *speech.Clip) error {
		data, err := c.ReadAll()
		if err != nil {
			return err
		}
		out.Audio = data
		out.AudioFormat = c.Format()
		return nil
	})
	if err != nil {
		s.log.Warn("reply audio unavailable", zap.String("session_id", session.ID), zap.Error(err))
		out.Audio = nil
		out.AudioFormat = ""
		out.AudioError = err.Error()
	}
}

// Clear empties the log and drops the conversation handle.
func (s *Service) Clear(ctx context.Context, id string) (chat.Snapshot, error) {
	unlock := s.lock(id)
	defer unlock()

	session, err := s.store.Get(ctx, id)
	if err != nil {
		return chat.Snapshot{}, err
	}
	handle := session.ConversationHandle
	session.Reset(s.now())
	if err := s.store.Save(ctx, session); err != nil {
		return chat.Snapshot{}, fmt.Errorf("save session: %w", err)
	}
	s.endConversation(ctx, id, handle)
	s.log.Info("session cleared", zap.String("session_id", id))
	return session.Snapshot(), nil
}

// DeleteSession removes a session entirely.
func (s *Service) DeleteSession(ctx context.Context, id string) error {
	unlock := s.lock(id)
	defer unlock()

	session, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.endConversation(ctx, id, session.ConversationHandle)
	return nil
}

// endConversation releases a backend thread. Failures are logged only.
func (s *Service) endConversation(ctx context.Context, sessionID, handle string) {
	if handle == "" || s.assistant == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := s.assistant.EndConversation(ctx, handle); err != nil {
		s.log.Warn("release conversation failed", zap.String("session_id", sessionID), zap.Error(err))
	}
}

func (s *Service) canListen() bool {
	if s.speech == nil {
		return false
	}
	recognition, _ := s.speech.Enabled()
	return recognition
}

func (s *Service) canSpeak() bool {
	if s.speech == nil {
		return false
	}
	_, synthesis := s.speech.Enabled()
	return synthesis
}

// Languages returns the selectable languages in display order.
func (s *Service) Languages() []language.Language {
	return s.languages.List()
}

// DefaultLanguage returns the key used for new sessions.
func (s *Service) DefaultLanguage() string {
	return s.defLang
}
