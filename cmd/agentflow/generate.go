package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/phrazzld/agentflow/internal/events"
	"github.com/phrazzld/agentflow/internal/service"
	"github.com/phrazzld/agentflow/internal/task"
	"github.com/spf13/cobra"
)

type generateOptions struct {
	session    string
	id         string
	prePrompt  string
	postPrompt string
	target     string
	timeout    time.Duration
}

func newGenerateCmd(opts *rootOptions) *cobra.Command {
	gen := &generateOptions{}

	cmd := &cobra.Command{
		Use:   "generate <input...>",
		Short: "Run one generation task and print its outcome",
		Long: "generate attaches to the session, prints any outcomes recorded there while " +
			"nobody was listening, submits the input and waits for its outcome. If the wait " +
			"times out the outcome is recorded in the session instead.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := opts.openApp(cmd)
			if err != nil {
				return err
			}
			defer app.close()

			return runGenerate(cmd, app.tasks, gen, strings.Join(args, " "))
		},
	}
	cmd.Flags().StringVar(&gen.session, "session", service.DefaultSession, "session that owns the task outcome")
	cmd.Flags().StringVar(&gen.id, "id", "", "task ID (generated when empty)")
	cmd.Flags().StringVar(&gen.prePrompt, "pre", "", "text placed before the input")
	cmd.Flags().StringVar(&gen.postPrompt, "post", "", "text placed after the input")
	cmd.Flags().StringVar(&gen.target, "target", "", "name of the consumer the result is meant for")
	cmd.Flags().DurationVar(&gen.timeout, "timeout", 2*time.Minute, "how long to wait for the outcome")
	return cmd
}

// generationService is the part of service.TaskService generate uses.
type generationService interface {
	Attach(ctx context.Context, req service.AttachRequest) (*service.Attachment, error)
	SubmitGeneration(ctx context.Context, req service.GenerateRequest) (*task.Handle, error)
}

func runGenerate(cmd *cobra.Command, tasks generationService, gen *generateOptions, input string) error {
	ctx := cmd.Context()
	inbox := newOutcomeInbox()

	attachment, err := tasks.Attach(ctx, service.AttachRequest{
		Session: gen.session,
		Handler: inbox.deliver,
	})
	if err != nil {
		return fmt.Errorf("attach to session: %w", err)
	}
	defer attachment.Detach()

	for _, o := range inbox.drain() {
		if err := writeJSON(cmd.OutOrStdout(), o); err != nil {
			return err
		}
	}

	h, err := tasks.SubmitGeneration(ctx, service.GenerateRequest{
		ID:             gen.id,
		CorrelationKey: gen.session,
		Input:          input,
		Decoration: task.Decoration{
			PrePrompt:  gen.prePrompt,
			PostPrompt: gen.postPrompt,
			Target:     gen.target,
		},
	})
	if err != nil {
		return fmt.Errorf("submit generation: %w", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, gen.timeout)
	defer cancel()

	for {
		var (
			done    bool
			taskErr error
		)
		for _, o := range inbox.drain() {
			if err := writeJSON(cmd.OutOrStdout(), o); err != nil {
				return err
			}
			if o.TaskID == h.ID() {
				done = true
				if o.Status == task.StatusFailed {
					taskErr = errors.New(o.Error)
				}
			}
		}
		if done {
			return taskErr
		}

		select {
		case <-inbox.ready:
		case <-waitCtx.Done():
			return fmt.Errorf("task %s still running, its outcome will be recorded in session %q: %w",
				h.ID(), gen.session, waitCtx.Err())
		}
	}
}

// outcomeInbox collects notifications delivered on worker goroutines
// without blocking them.
type outcomeInbox struct {
	mu      sync.Mutex
	pending []service.Outcome
	ready   chan struct{}
}

func newOutcomeInbox() *outcomeInbox {
	return &outcomeInbox{ready: make(chan struct{}, 1)}
}

func (b *outcomeInbox) deliver(_ context.Context, n events.Notification) {
	b.mu.Lock()
	b.pending = append(b.pending, service.OutcomeFromNotification(n))
	b.mu.Unlock()

	select {
	case b.ready <- struct{}{}:
	default:
	}
}

func (b *outcomeInbox) drain() []service.Outcome {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.pending
	b.pending = nil
	return out
}
