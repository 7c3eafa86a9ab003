package chat

import (
	"errors"
	"fmt"
	"time"
)

const (
	DefaultLanguage   = "es"
	DefaultVoiceSpeed = 1.0
	MinVoiceSpeed     = 0.5
	MaxVoiceSpeed     = 2.0
)

// Session captures the state of one interactive browser session.
type Session struct {
	ID                 string    `json:"id"`
	Messages           []Message `json:"messages"`
	ConversationHandle string    `json:"conversationHandle,omitempty"`
	Language           string    `json:"language"`
	VoiceEnabled       bool      `json:"voiceEnabled"`
	// VoiceSpeed is kept for the UI slider only; synthesis ignores it.
	VoiceSpeed float64   `json:"voiceSpeed"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// NewSession 创建带默认设置的空会话
func NewSession(id, language string, now time.Time) Session {
	if language == "" {
		language = DefaultLanguage
	}
	return Session{
		ID:           id,
		Messages:     make([]Message, 0, 16),
		Language:     language,
		VoiceEnabled: true,
		VoiceSpeed:   DefaultVoiceSpeed,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Active reports whether a conversation handle has been issued since the last clear.
func (s Session) Active() bool {
	return s.ConversationHandle != ""
}

// ErrOutOfTurn is returned when a message would break user/assistant alternation.
var ErrOutOfTurn = errors.New("message out of turn")

// NextRole is the role the log expects next: user on even lengths, assistant on odd.
func (s Session) NextRole() Role {
	if len(s.Messages)%2 == 0 {
		return RoleUser
	}
	return RoleAssistant
}

// Append adds a message to the end of the log. The log always starts with a
// user message and alternates from there.
func (s *Session) Append(role Role, content string, now time.Time) error {
	if !role.Valid() {
		return fmt.Errorf("invalid role %q", role)
	}
	if want := s.NextRole(); role != want {
		return fmt.Errorf("%w: got %s, want %s", ErrOutOfTurn, role, want)
	}
	s.Messages = append(s.Messages, Message{Role: role, Content: content, CreatedAt: now})
	s.UpdatedAt = now
	return nil
}

// Reset drops the message log and the conversation handle.
func (s *Session) Reset(now time.Time) {
	s.Messages = make([]Message, 0, 16)
	s.ConversationHandle = ""
	s.UpdatedAt = now
}

// Clone returns a copy whose message slice does not alias the original.
func (s Session) Clone() Session {
	out := s
	out.Messages = append(make([]Message, 0, len(s.Messages)), s.Messages...)
	return out
}

// Snapshot is the read model returned to the presentation layer.
type Snapshot struct {
	ID           string    `json:"id"`
	Messages     []Message `json:"messages"`
	Language     string    `json:"language"`
	VoiceEnabled bool      `json:"voiceEnabled"`
	VoiceSpeed   float64   `json:"voiceSpeed"`
	Connected    bool      `json:"connected"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Snapshot builds the read model for s.
func (s Session) Snapshot() Snapshot {
	c := s.Clone()
	return Snapshot{
		ID:           c.ID,
		Messages:     c.Messages,
		Language:     c.Language,
		VoiceEnabled: c.VoiceEnabled,
		VoiceSpeed:   c.VoiceSpeed,
		Connected:    c.Active(),
		UpdatedAt:    c.UpdatedAt,
	}
}
