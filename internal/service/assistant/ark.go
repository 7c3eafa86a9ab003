package assistant

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const arkRunTimeout = 2 * time.Minute

// ArkBackend emulates assistant threads locally on top of an eino chat model.
// Each run generates one reply from the whole thread history in the background.
type ArkBackend struct {
	model        model.BaseChatModel
	instructions string
	log          *zap.Logger

	now     func() time.Time
	mu      sync.Mutex
	threads map[string]*arkThread
}

type arkThread struct {
	history    []*schema.Message
	runs       map[string]*arkRun
	lastActive time.Time
}

// busy reports whether a run on the thread is still generating.
func (t *arkThread) busy() bool {
	for _, entry := range t.runs {
		if entry.run.Status.Pending() {
			return true
		}
	}
	return false
}

// pruneRuns drops finished runs; only a pending run can still be polled.
func (t *arkThread) pruneRuns() {
	for id, entry := range t.runs {
		if !entry.run.Status.Pending() {
			delete(t.runs, id)
		}
	}
}

type arkRun struct {
	run    Run
	cancel context.CancelFunc
}

var _ Backend = (*ArkBackend)(nil)

// NewArkBackend 基于 Ark 模型创建后端
func NewArkBackend(chatModel model.BaseChatModel, instructions string, log *zap.Logger) *ArkBackend {
	if log == nil {
		log = zap.NewNop()
	}
	return &ArkBackend{
		model:        chatModel,
		instructions: instructions,
		log:          log,
		now:          time.Now,
		threads:      make(map[string]*arkThread),
	}
}

func (b *ArkBackend) CreateThread(_ context.Context) (string, error) {
	id := "thread_" + uuid.NewString()

	b.mu.Lock()
	b.threads[id] = &arkThread{runs: make(map[string]*arkRun), lastActive: b.now()}
	b.mu.Unlock()

	return id, nil
}

func (b *ArkBackend) AddUserMessage(_ context.Context, threadID, text string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	thread, ok := b.threads[threadID]
	if !ok {
		return ErrThreadNotFound
	}
	thread.history = append(thread.history, schema.UserMessage(text))
	thread.lastActive = b.now()
	return nil
}

func (b *ArkBackend) CreateRun(ctx context.Context, threadID string) (Run, error) {
	b.mu.Lock()
	thread, ok := b.threads[threadID]
	if !ok {
		b.mu.Unlock()
		return Run{}, ErrThreadNotFound
	}
	thread.pruneRuns()
	thread.lastActive = b.now()

	input := make([]*schema.Message, 0, len(thread.history)+1)
	if b.instructions != "" {
		input = append(input, schema.SystemMessage(b.instructions))
	}
	input = append(input, thread.history...)

	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), arkRunTimeout)
	entry := &arkRun{
		run:    Run{ID: "run_" + uuid.NewString(), Status: RunQueued},
		cancel: cancel,
	}
	thread.runs[entry.run.ID] = entry
	snapshot := entry.run
	b.mu.Unlock()

	go b.execute(runCtx, threadID, entry, input)

	return snapshot, nil
}

func (b *ArkBackend) execute(ctx context.Context, threadID string, entry *arkRun, input []*schema.Message) {
	defer entry.cancel()

	b.setStatus(entry, RunInProgress, "")

	reply, err := b.model.Generate(ctx, input)

	b.mu.Lock()
	defer b.mu.Unlock()

	if entry.run.Status == RunCancelled {
		return
	}
	if err != nil {
		b.log.Warn("ark generation failed", zap.String("thread", threadID), zap.String("run", entry.run.ID), zap.Error(err))
		entry.run.Status = RunFailed
		entry.run.LastError = err.Error()
		return
	}
	if reply == nil || reply.Content == "" {
		entry.run.Status = RunIncomplete
		entry.run.LastError = "model returned empty content"
		return
	}

	if thread, ok := b.threads[threadID]; ok {
		thread.history = append(thread.history, schema.AssistantMessage(reply.Content, nil))
	}
	entry.run.Status = RunCompleted
}

func (b *ArkBackend) setStatus(entry *arkRun, status RunStatus, lastError string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if entry.run.Status == RunCancelled {
		return
	}
	entry.run.Status = status
	entry.run.LastError = lastError
}

func (b *ArkBackend) GetRun(_ context.Context, threadID, runID string) (Run, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry, err := b.lookupRun(threadID, runID)
	if err != nil {
		return Run{}, err
	}
	return entry.run, nil
}

func (b *ArkBackend) CancelRun(_ context.Context, threadID, runID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry, err := b.lookupRun(threadID, runID)
	if err != nil {
		return err
	}
	if entry.run.Status.Pending() {
		entry.run.Status = RunCancelled
		entry.cancel()
	}
	return nil
}

func (b *ArkBackend) LatestAssistantMessage(_ context.Context, threadID string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	thread, ok := b.threads[threadID]
	if !ok {
		return "", ErrThreadNotFound
	}
	for i := len(thread.history) - 1; i >= 0; i-- {
		if thread.history[i].Role == schema.Assistant {
			return thread.history[i].Content, nil
		}
	}
	return "", nil
}

// DeleteThread drops the thread history and cancels any run still generating.
func (b *ArkBackend) DeleteThread(_ context.Context, threadID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	thread, ok := b.threads[threadID]
	if !ok {
		return ErrThreadNotFound
	}
	b.dropLocked(threadID, thread)
	return nil
}

// Sweep drops threads idle for longer than maxIdle and returns how many were removed.
// Threads whose session expired without a clear are only reclaimed here.
func (b *ArkBackend) Sweep(maxIdle time.Duration) int {
	if maxIdle <= 0 {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	cutoff := b.now().Add(-maxIdle)
	removed := 0
	for id, thread := range b.threads {
		if thread.busy() || thread.lastActive.After(cutoff) {
			continue
		}
		b.dropLocked(id, thread)
		removed++
	}
	return removed
}

// ThreadCount returns the number of live threads.
func (b *ArkBackend) ThreadCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.threads)
}

func (b *ArkBackend) dropLocked(threadID string, thread *arkThread) {
	for _, entry := range thread.runs {
		if entry.run.Status.Pending() {
			entry.run.Status = RunCancelled
			entry.cancel()
		}
	}
	delete(b.threads, threadID)
}

func (b *ArkBackend) lookupRun(threadID, runID string) (*arkRun, error) {
	thread, ok := b.threads[threadID]
	if !ok {
		return nil, ErrThreadNotFound
	}
	entry, ok := thread.runs[runID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return entry, nil
}
