package assistant

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChatModel struct {
	reply  string
	err    error
	inputs [][]*schema.Message
	block  chan struct{}
}

func (f *fakeChatModel) Generate(ctx context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	f.inputs = append(f.inputs, input)
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return schema.AssistantMessage(f.reply, nil), nil
}

func (f *fakeChatModel) Stream(context.Context, []*schema.Message, ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not implemented")
}

func TestArkBackendRoundTrip(t *testing.T) {
	chatModel := &fakeChatModel{reply: "Hola"}
	backend := NewArkBackend(chatModel, "Be brief.", nil)
	client := NewClient(backend, fastOptions(), nil)
	ctx := context.Background()

	handle, err := client.StartConversation(ctx)
	require.NoError(t, err)

	reply, err := client.Send(ctx, handle, "Hello")
	require.NoError(t, err)
	assert.Equal(t, "Hola", reply)

	_, err = client.Send(ctx, handle, "Again")
	require.NoError(t, err)

	require.Len(t, chatModel.inputs, 2)
	second := chatModel.inputs[1]
	require.Len(t, second, 4)
	assert.Equal(t, schema.System, second[0].Role)
	assert.Equal(t, "Hello", second[1].Content)
	assert.Equal(t, schema.Assistant, second[2].Role)
	assert.Equal(t, "Again", second[3].Content)
}

func TestArkBackendFailedRun(t *testing.T) {
	backend := NewArkBackend(&fakeChatModel{err: errors.New("quota exceeded")}, "", nil)
	client := NewClient(backend, fastOptions(), nil)
	ctx := context.Background()

	handle, err := client.StartConversation(ctx)
	require.NoError(t, err)

	_, err = client.Send(ctx, handle, "Hello")
	var svcErr *ServiceError
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, RunFailed, svcErr.Status)
	assert.Contains(t, err.Error(), "quota exceeded")
}

func TestArkBackendCancelOnTimeout(t *testing.T) {
	chatModel := &fakeChatModel{reply: "late", block: make(chan struct{})}
	defer close(chatModel.block)

	backend := NewArkBackend(chatModel, "", nil)
	opts := fastOptions()
	opts.MaxWait = 20 * time.Millisecond
	client := NewClient(backend, opts, nil)
	ctx := context.Background()

	handle, err := client.StartConversation(ctx)
	require.NoError(t, err)

	_, err = client.Send(ctx, handle, "Hello")
	require.ErrorIs(t, err, ErrTimeout)

	reply, err := backend.LatestAssistantMessage(ctx, handle)
	require.NoError(t, err)
	assert.Empty(t, reply)
}

func TestArkBackendUnknownThread(t *testing.T) {
	backend := NewArkBackend(&fakeChatModel{}, "", nil)

	assert.ErrorIs(t, backend.AddUserMessage(context.Background(), "missing", "x"), ErrThreadNotFound)
	_, err := backend.GetRun(context.Background(), "missing", "run")
	assert.ErrorIs(t, err, ErrThreadNotFound)
}

func TestArkBackendEndConversationReleasesThread(t *testing.T) {
	backend := NewArkBackend(&fakeChatModel{reply: "Hola"}, "", nil)
	client := NewClient(backend, fastOptions(), nil)
	ctx := context.Background()

	handle, err := client.StartConversation(ctx)
	require.NoError(t, err)
	_, err = client.Send(ctx, handle, "Hello")
	require.NoError(t, err)
	require.Equal(t, 1, backend.ThreadCount())

	require.NoError(t, client.EndConversation(ctx, handle))
	assert.Equal(t, 0, backend.ThreadCount())

	var svcErr *ServiceError
	require.ErrorAs(t, client.EndConversation(ctx, handle), &svcErr)
	assert.ErrorIs(t, svcErr, ErrThreadNotFound)
	assert.ErrorIs(t, client.EndConversation(ctx, ""), ErrNoHandle)
}

func TestArkBackendPrunesFinishedRuns(t *testing.T) {
	backend := NewArkBackend(&fakeChatModel{reply: "ok"}, "", nil)
	client := NewClient(backend, fastOptions(), nil)
	ctx := context.Background()

	handle, err := client.StartConversation(ctx)
	require.NoError(t, err)
	for _, text := range []string{"one", "two", "three"} {
		_, err := client.Send(ctx, handle, text)
		require.NoError(t, err)
	}

	backend.mu.Lock()
	runs := len(backend.threads[handle].runs)
	backend.mu.Unlock()
	assert.Equal(t, 1, runs)
}

func TestArkBackendSweepIdleThreads(t *testing.T) {
	backend := NewArkBackend(&fakeChatModel{reply: "ok"}, "", nil)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	backend.now = func() time.Time { return now }
	ctx := context.Background()

	stale, err := backend.CreateThread(ctx)
	require.NoError(t, err)
	now = now.Add(90 * time.Minute)
	fresh, err := backend.CreateThread(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, backend.Sweep(time.Hour))
	assert.Equal(t, 1, backend.ThreadCount())
	assert.ErrorIs(t, backend.AddUserMessage(ctx, stale, "x"), ErrThreadNotFound)
	assert.NoError(t, backend.AddUserMessage(ctx, fresh, "x"))
	assert.Equal(t, 0, backend.Sweep(0))
}
