package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Options bounds the run polling loop.
type Options struct {
	PollInterval    time.Duration
	MaxPollInterval time.Duration
	BackoffFactor   float64
	MaxWait         time.Duration
}

// DefaultOptions 返回默认轮询参数
func DefaultOptions() Options {
	return Options{
		PollInterval:    500 * time.Millisecond,
		MaxPollInterval: 5 * time.Second,
		BackoffFactor:   1.5,
		MaxWait:         60 * time.Second,
	}
}

func (o Options) normalized() Options {
	def := DefaultOptions()
	if o.PollInterval <= 0 {
		o.PollInterval = def.PollInterval
	}
	if o.MaxPollInterval < o.PollInterval {
		o.MaxPollInterval = o.PollInterval
	}
	if o.BackoffFactor < 1 {
		o.BackoffFactor = 1
	}
	if o.MaxWait <= 0 {
		o.MaxWait = def.MaxWait
	}
	return o
}

// StatusObserver receives every run status seen while waiting for a reply.
type StatusObserver func(RunStatus)

// Client drives conversations against a Backend.
type Client struct {
	backend Backend
	opts    Options
	log     *zap.Logger
}

// NewClient 创建会话客户端
func NewClient(backend Backend, opts Options, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{backend: backend, opts: opts.normalized(), log: log}
}

// StartConversation requests a new conversation context and returns its handle.
func (c *Client) StartConversation(ctx context.Context) (string, error) {
	handle, err := c.backend.CreateThread(ctx)
	if err != nil {
		return "", &ServiceError{Op: "create conversation", Err: err}
	}
	if handle == "" {
		return "", &ServiceError{Op: "create conversation", Err: errors.New("empty conversation id")}
	}

	c.log.Debug("conversation created", zap.String("handle", handle))
	return handle, nil
}

// EndConversation releases the backend thread behind handle.
func (c *Client) EndConversation(ctx context.Context, handle string) error {
	if handle == "" {
		return ErrNoHandle
	}
	if err := c.backend.DeleteThread(ctx, handle); err != nil {
		return &ServiceError{Op: "delete conversation", Err: err}
	}
	c.log.Debug("conversation deleted", zap.String("handle", handle))
	return nil
}

// Send submits text as a user turn and waits for the assistant's reply.
// Polling backs off exponentially and gives up with ErrTimeout after MaxWait.
func (c *Client) Send(ctx context.Context, handle, text string, observers ...StatusObserver) (string, error) {
	if handle == "" {
		return "", ErrNoHandle
	}
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyText
	}

	if err := c.backend.AddUserMessage(ctx, handle, text); err != nil {
		return "", &ServiceError{Op: "append message", Err: err}
	}

	run, err := c.backend.CreateRun(ctx, handle)
	if err != nil {
		return "", &ServiceError{Op: "create run", Err: err}
	}
	notify(observers, run.Status)

	run, err = c.await(ctx, handle, run, observers)
	if err != nil {
		return "", err
	}

	if run.Status != RunCompleted {
		var cause error
		if run.LastError != "" {
			cause = errors.New(run.LastError)
		}
		return "", &ServiceError{Op: "run", Status: run.Status, Err: cause}
	}

	reply, err := c.backend.LatestAssistantMessage(ctx, handle)
	if err != nil {
		return "", &ServiceError{Op: "list messages", Err: err}
	}
	if reply == "" {
		return "", &ServiceError{Op: "list messages", Err: ErrNoReply}
	}

	c.log.Debug("assistant replied", zap.String("handle", handle), zap.String("run", run.ID), zap.Int("length", len(reply)))
	return reply, nil
}

func (c *Client) await(ctx context.Context, handle string, run Run, observers []StatusObserver) (Run, error) {
	deadline := time.Now().Add(c.opts.MaxWait)
	wait := c.opts.PollInterval

	for run.Status.Pending() {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			c.cancelRun(handle, run.ID)
			return run, fmt.Errorf("%w: run %s still %s after %s", ErrTimeout, run.ID, run.Status, c.opts.MaxWait)
		}
		if wait > remaining {
			wait = remaining
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			c.cancelRun(handle, run.ID)
			return run, ctx.Err()
		case <-timer.C:
		}

		next, err := c.backend.GetRun(ctx, handle, run.ID)
		if err != nil {
			return run, &ServiceError{Op: "poll run", Err: err}
		}
		run = next
		notify(observers, run.Status)

		wait = time.Duration(float64(wait) * c.opts.BackoffFactor)
		if wait > c.opts.MaxPollInterval {
			wait = c.opts.MaxPollInterval
		}
	}

	return run, nil
}

// cancelRun releases the thread so the next message is not rejected by an active run.
func (c *Client) cancelRun(handle, runID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.backend.CancelRun(ctx, handle, runID); err != nil {
		c.log.Warn("cancel run failed", zap.String("handle", handle), zap.String("run", runID), zap.Error(err))
	}
}

func notify(observers []StatusObserver, status RunStatus) {
	for _, observe := range observers {
		if observe != nil {
			observe(status)
		}
	}
}
