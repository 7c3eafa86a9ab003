package assistant

import (
	"context"
	"errors"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// OpenAIBackend talks to the OpenAI Assistants API (threads, messages, runs).
type OpenAIBackend struct {
	client      openai.Client
	assistantID string
}

var _ Backend = (*OpenAIBackend)(nil)

// NewOpenAIBackend 创建 OpenAI Assistants 后端
func NewOpenAIBackend(apiKey, assistantID, baseURL string) (*OpenAIBackend, error) {
	if apiKey == "" {
		return nil, errors.New("OPENAI_API_KEY is required")
	}
	if assistantID == "" {
		return nil, errors.New("ASSISTANT_ID is required")
	}

	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}

	return &OpenAIBackend{
		client:      openai.NewClient(opts...),
		assistantID: assistantID,
	}, nil
}

func (b *OpenAIBackend) CreateThread(ctx context.Context) (string, error) {
	thread, err := b.client.Beta.Threads.New(ctx, openai.BetaThreadNewParams{})
	if err != nil {
		return "", err
	}
	return thread.ID, nil
}

func (b *OpenAIBackend) AddUserMessage(ctx context.Context, threadID, text string) error {
	_, err := b.client.Beta.Threads.Messages.New(ctx, threadID, openai.BetaThreadMessageNewParams{
		Role: openai.BetaThreadMessageNewParamsRoleUser,
		Content: openai.BetaThreadMessageNewParamsContentUnion{
			OfString: openai.String(text),
		},
	})
	return err
}

func (b *OpenAIBackend) CreateRun(ctx context.Context, threadID string) (Run, error) {
	run, err := b.client.Beta.Threads.Runs.New(ctx, threadID, openai.BetaThreadRunNewParams{
		AssistantID: b.assistantID,
	})
	if err != nil {
		return Run{}, err
	}
	return fromOpenAIRun(run), nil
}

func (b *OpenAIBackend) GetRun(ctx context.Context, threadID, runID string) (Run, error) {
	run, err := b.client.Beta.Threads.Runs.Get(ctx, threadID, runID)
	if err != nil {
		return Run{}, err
	}
	return fromOpenAIRun(run), nil
}

func (b *OpenAIBackend) CancelRun(ctx context.Context, threadID, runID string) error {
	_, err := b.client.Beta.Threads.Runs.Cancel(ctx, threadID, runID)
	return err
}

// LatestAssistantMessage returns the text blocks of the newest assistant message.
func (b *OpenAIBackend) LatestAssistantMessage(ctx context.Context, threadID string) (string, error) {
	page, err := b.client.Beta.Threads.Messages.List(ctx, threadID, openai.BetaThreadMessageListParams{
		Order: openai.BetaThreadMessageListParamsOrderDesc,
		Limit: openai.Int(20),
	})
	if err != nil {
		return "", err
	}

	for _, msg := range page.Data {
		if msg.Role != openai.MessageRoleAssistant {
			continue
		}
		var parts []string
		for _, block := range msg.Content {
			if block.Type == "text" && block.Text.Value != "" {
				parts = append(parts, block.Text.Value)
			}
		}
		return strings.Join(parts, "\n"), nil
	}
	return "", ErrNoReply
}

func (b *OpenAIBackend) DeleteThread(ctx context.Context, threadID string) error {
	_, err := b.client.Beta.Threads.Delete(ctx, threadID)
	return err
}

func fromOpenAIRun(run *openai.Run) Run {
	return Run{
		ID:        run.ID,
		Status:    RunStatus(run.Status),
		LastError: run.LastError.Message,
	}
}
