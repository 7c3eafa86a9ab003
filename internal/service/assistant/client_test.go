package assistant

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedBackend replays a fixed list of run statuses and a canned reply.
type scriptedBackend struct {
	mu        sync.Mutex
	statuses  []RunStatus
	reply     string
	lastError string

	threads   int
	messages  []string
	polls     int
	cancelled []string
	deleted   []string

	createErr error
	addErr    error
	pollErr   error
}

func (b *scriptedBackend) CreateThread(context.Context) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.createErr != nil {
		return "", b.createErr
	}
	b.threads++
	return "thread_fixture", nil
}

func (b *scriptedBackend) AddUserMessage(_ context.Context, _ string, text string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.addErr != nil {
		return b.addErr
	}
	b.messages = append(b.messages, text)
	return nil
}

func (b *scriptedBackend) CreateRun(context.Context, string) (Run, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.polls = 0
	return Run{ID: "run_1", Status: RunQueued}, nil
}

func (b *scriptedBackend) GetRun(context.Context, string, string) (Run, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pollErr != nil {
		return Run{}, b.pollErr
	}
	status := RunInProgress
	if b.polls < len(b.statuses) {
		status = b.statuses[b.polls]
	}
	b.polls++
	return Run{ID: "run_1", Status: status, LastError: b.lastError}, nil
}

func (b *scriptedBackend) CancelRun(_ context.Context, _ string, runID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cancelled = append(b.cancelled, runID)
	return nil
}

func (b *scriptedBackend) LatestAssistantMessage(context.Context, string) (string, error) {
	return b.reply, nil
}

func (b *scriptedBackend) DeleteThread(_ context.Context, threadID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deleted = append(b.deleted, threadID)
	return nil
}

func fastOptions() Options {
	return Options{
		PollInterval:    time.Millisecond,
		MaxPollInterval: 4 * time.Millisecond,
		BackoffFactor:   2,
		MaxWait:         time.Second,
	}
}

func TestStartConversation(t *testing.T) {
	backend := &scriptedBackend{}
	client := NewClient(backend, fastOptions(), nil)

	handle, err := client.StartConversation(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "thread_fixture", handle)
}

func TestStartConversationServiceError(t *testing.T) {
	backend := &scriptedBackend{createErr: errors.New("connection refused")}
	client := NewClient(backend, fastOptions(), nil)

	_, err := client.StartConversation(context.Background())
	var svcErr *ServiceError
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, "create conversation", svcErr.Op)
}

func TestSendPollsUntilCompleted(t *testing.T) {
	backend := &scriptedBackend{
		statuses: []RunStatus{RunInProgress, RunInProgress, RunCompleted},
		reply:    "Hi there",
	}
	client := NewClient(backend, fastOptions(), nil)

	var seen []RunStatus
	reply, err := client.Send(context.Background(), "thread_fixture", "Hello", func(s RunStatus) {
		seen = append(seen, s)
	})
	require.NoError(t, err)
	assert.Equal(t, "Hi there", reply)
	assert.Equal(t, []string{"Hello"}, backend.messages)
	assert.Equal(t, []RunStatus{RunQueued, RunInProgress, RunInProgress, RunCompleted}, seen)
}

func TestSendIsRepeatableWithCannedReply(t *testing.T) {
	backend := &scriptedBackend{statuses: []RunStatus{RunCompleted}, reply: "Hi there"}
	client := NewClient(backend, fastOptions(), nil)

	for i := 0; i < 3; i++ {
		reply, err := client.Send(context.Background(), "thread_fixture", "Hello")
		require.NoError(t, err)
		assert.Equal(t, "Hi there", reply)
	}
}

func TestSendFailedRunIsServiceError(t *testing.T) {
	for _, status := range []RunStatus{RunFailed, RunCancelled, RunExpired, RunRequiresAction, RunIncomplete} {
		t.Run(string(status), func(t *testing.T) {
			backend := &scriptedBackend{statuses: []RunStatus{status}, lastError: "rate limited"}
			client := NewClient(backend, fastOptions(), nil)

			_, err := client.Send(context.Background(), "thread_fixture", "Hello")
			var svcErr *ServiceError
			require.ErrorAs(t, err, &svcErr)
			assert.Equal(t, status, svcErr.Status)
			assert.Contains(t, err.Error(), "rate limited")
			assert.NotErrorIs(t, err, ErrTimeout)
		})
	}
}

func TestSendTimesOutAndCancelsRun(t *testing.T) {
	backend := &scriptedBackend{}
	opts := fastOptions()
	opts.MaxWait = 20 * time.Millisecond
	client := NewClient(backend, opts, nil)

	start := time.Now()
	_, err := client.Send(context.Background(), "thread_fixture", "Hello")
	require.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, []string{"run_1"}, backend.cancelled)
}

func TestSendHonoursContextCancel(t *testing.T) {
	backend := &scriptedBackend{}
	opts := fastOptions()
	opts.MaxWait = time.Minute
	client := NewClient(backend, opts, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Millisecond)
	defer cancel()

	_, err := client.Send(ctx, "thread_fixture", "Hello")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSendValidation(t *testing.T) {
	client := NewClient(&scriptedBackend{}, fastOptions(), nil)

	_, err := client.Send(context.Background(), "", "Hello")
	assert.ErrorIs(t, err, ErrNoHandle)

	_, err = client.Send(context.Background(), "thread_fixture", "   ")
	assert.ErrorIs(t, err, ErrEmptyText)
}

func TestSendPollErrorIsServiceError(t *testing.T) {
	backend := &scriptedBackend{pollErr: errors.New("502 bad gateway")}
	client := NewClient(backend, fastOptions(), nil)

	_, err := client.Send(context.Background(), "thread_fixture", "Hello")
	var svcErr *ServiceError
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, "poll run", svcErr.Op)
}

func TestSendEmptyReply(t *testing.T) {
	backend := &scriptedBackend{statuses: []RunStatus{RunCompleted}}
	client := NewClient(backend, fastOptions(), nil)

	_, err := client.Send(context.Background(), "thread_fixture", "Hello")
	assert.ErrorIs(t, err, ErrNoReply)
}

func TestOptionsNormalized(t *testing.T) {
	opts := Options{PollInterval: time.Second, MaxPollInterval: time.Millisecond, BackoffFactor: 0.2}.normalized()
	assert.Equal(t, time.Second, opts.MaxPollInterval)
	assert.InDelta(t, 1.0, opts.BackoffFactor, 1e-9)
	assert.Equal(t, DefaultOptions().MaxWait, opts.MaxWait)
}
