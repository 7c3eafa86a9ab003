// Package httperror maps service errors onto HTTP responses.
package httperror

import (
	"context"
	"errors"
	"net/http"

	"github.com/zhouzirui/z-polyglot/backend/internal/service/assistant"
	chatService "github.com/zhouzirui/z-polyglot/backend/internal/service/chat"
	speechService "github.com/zhouzirui/z-polyglot/backend/internal/service/speech"
	"github.com/zhouzirui/z-polyglot/backend/pkg/utils"
)

// Status returns the HTTP status for err and any extra body fields.
func Status(err error) (int, map[string]any) {
	var (
		recErr   *chatService.RecognitionError
		svcErr   *assistant.ServiceError
		synthErr *speechService.SynthesisError
	)

	switch {
	case errors.As(err, &recErr):
		return http.StatusUnprocessableEntity, map[string]any{"kind": recErr.Result.Kind}
	case errors.Is(err, chatService.ErrSessionNotFound):
		return http.StatusNotFound, nil
	case errors.Is(err, chatService.ErrEmptyText),
		errors.Is(err, chatService.ErrEmptyAudio),
		errors.Is(err, chatService.ErrUnknownLanguage),
		errors.Is(err, chatService.ErrInvalidSpeed),
		errors.Is(err, speechService.ErrEmptyText),
		errors.Is(err, assistant.ErrEmptyText):
		return http.StatusBadRequest, nil
	case errors.Is(err, assistant.ErrTimeout):
		return http.StatusGatewayTimeout, map[string]any{"kind": "timeout"}
	case errors.Is(err, chatService.ErrSpeechDisabled),
		errors.Is(err, speechService.ErrDisabled):
		return http.StatusServiceUnavailable, nil
	case errors.As(err, &svcErr):
		fields := map[string]any{"kind": "service_error"}
		if svcErr.Status != "" {
			fields["status"] = svcErr.Status
		}
		return http.StatusBadGateway, fields
	case errors.As(err, &synthErr):
		return http.StatusBadGateway, map[string]any{"kind": "synthesis_error"}
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, nil
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, nil
	default:
		return http.StatusInternalServerError, nil
	}
}

// Respond writes err as a JSON error body.
func Respond(w http.ResponseWriter, err error) {
	status, fields := Status(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal error"
	}
	utils.RespondErrorDetail(w, status, message, fields)
}
