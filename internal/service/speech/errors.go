package speech

import (
	"errors"
	"fmt"
)

var (
	ErrDisabled  = errors.New("speech service disabled")
	ErrEmptyText = errors.New("text is empty")
)

// SynthesisError 语音合成失败，调用方应视为非致命
type SynthesisError struct {
	Language string
	Err      error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("synthesis failed for %q: %v", e.Language, e.Err)
}

func (e *SynthesisError) Unwrap() error { return e.Err }
