package a2a

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/a2aproject/a2a-go/a2asrv"
	"github.com/a2aproject/a2a-go/a2asrv/eventqueue"

	"github.com/hupe1980/auditmesh/core"
	"github.com/hupe1980/auditmesh/logging"
	"github.com/hupe1980/auditmesh/runner"
)

// Executor serves a runner over A2A. The task context id is used as the
// session id, so follow-up messages continue the same session.
//
// Event mapping:
//   - new task: submitted status
//   - run start: working status
//   - partial text and final answers: one artifact, streamed as chunks
//   - run end: last artifact chunk, then completed or failed status
type Executor struct {
	runner *runner.Runner
	logger logging.Logger

	mu   sync.Mutex
	runs map[a2a.TaskID]string
}

var _ a2asrv.AgentExecutor = (*Executor)(nil)

// NewExecutor creates an executor for r.
func NewExecutor(r *runner.Runner, logger logging.Logger) *Executor {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Executor{runner: r, logger: logger, runs: make(map[a2a.TaskID]string)}
}

// Execute implements a2asrv.AgentExecutor.
func (e *Executor) Execute(ctx context.Context, reqCtx *a2asrv.RequestContext, queue eventqueue.Queue) error {
	if reqCtx.Message == nil {
		return fmt.Errorf("message not provided")
	}

	if reqCtx.StoredTask == nil {
		if err := queue.Write(ctx, a2a.NewStatusUpdateEvent(reqCtx, a2a.TaskStateSubmitted, nil)); err != nil {
			return fmt.Errorf("write submitted event: %w", err)
		}
	}

	content := toCoreContent(reqCtx.Message)
	content.Role = core.RoleUser

	runID, events, errs, err := e.runner.Run(ctx, reqCtx.ContextID, content)
	if err != nil {
		e.logger.Warn("a2a.executor.start_failed", "task_id", string(reqCtx.TaskID), "error", err.Error())
		return queue.Write(ctx, failedEvent(reqCtx, err))
	}

	e.track(reqCtx.TaskID, runID)
	defer e.untrack(reqCtx.TaskID)

	e.logger.Info("a2a.executor.start", "task_id", string(reqCtx.TaskID), "session_id", reqCtx.ContextID, "run_id", runID)

	if err := queue.Write(ctx, a2a.NewStatusUpdateEvent(reqCtx, a2a.TaskStateWorking, nil)); err != nil {
		e.drain(runID, events)
		return err
	}

	w := &artifactWriter{reqCtx: reqCtx, queue: queue}

	var (
		writeErr error
		eventErr error
	)

	for ev := range events {
		if writeErr != nil {
			continue
		}

		if ev.IsError() {
			eventErr = errors.New(ev.ErrorText())
			continue
		}

		if err := w.handle(ctx, ev); err != nil {
			writeErr = err
			_ = e.runner.Cancel(runID)
		}
	}

	runErr := <-errs

	if writeErr != nil {
		return writeErr
	}

	if err := w.close(ctx); err != nil {
		return err
	}

	if runErr == nil {
		runErr = eventErr
	}

	if runErr != nil {
		if errors.Is(runErr, context.Canceled) {
			e.logger.Info("a2a.executor.cancelled", "task_id", string(reqCtx.TaskID))
			ev := a2a.NewStatusUpdateEvent(reqCtx, a2a.TaskStateCanceled, nil)
			ev.Final = true
			return queue.Write(ctx, ev)
		}

		e.logger.Warn("a2a.executor.failed", "task_id", string(reqCtx.TaskID), "error", runErr.Error())
		return queue.Write(ctx, failedEvent(reqCtx, runErr))
	}

	done := a2a.NewStatusUpdateEvent(reqCtx, a2a.TaskStateCompleted, nil)
	done.Final = true

	e.logger.Info("a2a.executor.complete", "task_id", string(reqCtx.TaskID), "run_id", runID)

	return queue.Write(ctx, done)
}

// Cancel implements a2asrv.AgentExecutor.
func (e *Executor) Cancel(ctx context.Context, reqCtx *a2asrv.RequestContext, queue eventqueue.Queue) error {
	e.mu.Lock()
	runID, ok := e.runs[reqCtx.TaskID]
	e.mu.Unlock()

	if ok {
		if err := e.runner.Cancel(runID); err != nil && !errors.Is(err, runner.ErrRunNotFound) {
			return err
		}
	}

	ev := a2a.NewStatusUpdateEvent(reqCtx, a2a.TaskStateCanceled, nil)
	ev.Final = true

	return queue.Write(ctx, ev)
}

func (e *Executor) track(taskID a2a.TaskID, runID string) {
	e.mu.Lock()
	e.runs[taskID] = runID
	e.mu.Unlock()
}

func (e *Executor) untrack(taskID a2a.TaskID) {
	e.mu.Lock()
	delete(e.runs, taskID)
	e.mu.Unlock()
}

func (e *Executor) drain(runID string, events <-chan core.Event) {
	_ = e.runner.Cancel(runID)
	for range events {
	}
}

func failedEvent(reqCtx *a2asrv.RequestContext, cause error) *a2a.TaskStatusUpdateEvent {
	msg := a2a.NewMessageForTask(a2a.MessageRoleAgent, reqCtx, a2a.TextPart{Text: cause.Error()})
	ev := a2a.NewStatusUpdateEvent(reqCtx, a2a.TaskStateFailed, msg)
	ev.Final = true
	return ev
}

// artifactWriter streams the answer of a run as a single artifact.
type artifactWriter struct {
	reqCtx     *a2asrv.RequestContext
	queue      eventqueue.Queue
	artifactID a2a.ArtifactID
	lastAuthor string
	// streamed is set while partial chunks of the current turn were sent.
	streamed bool
}

func (w *artifactWriter) handle(ctx context.Context, ev core.Event) error {
	if ev.Content == nil || len(ev.GetFunctionCalls()) > 0 || len(ev.GetFunctionResponses()) > 0 {
		return nil
	}

	if ev.IsPartial() {
		w.streamed = true
		return w.write(ctx, ev.Author, ev.Content.Parts)
	}

	if w.streamed && ev.Author == w.lastAuthor {
		w.streamed = false
		return nil
	}

	w.streamed = false

	return w.write(ctx, ev.Author, ev.Content.Parts)
}

func (w *artifactWriter) write(ctx context.Context, author string, parts []core.Part) error {
	out := toA2AParts(parts)
	if len(out) == 0 {
		return nil
	}

	if w.artifactID != "" && author != w.lastAuthor {
		out = append([]a2a.Part{a2a.TextPart{Text: "\n\n"}}, out...)
	}

	w.lastAuthor = author

	meta := map[string]any{"author": author}

	if w.artifactID == "" {
		ev := a2a.NewArtifactEvent(w.reqCtx, out...)
		ev.Metadata = meta
		w.artifactID = ev.Artifact.ID
		return w.queue.Write(ctx, ev)
	}

	ev := a2a.NewArtifactUpdateEvent(w.reqCtx, w.artifactID, out...)
	ev.Metadata = meta

	return w.queue.Write(ctx, ev)
}

func (w *artifactWriter) close(ctx context.Context) error {
	if w.artifactID == "" {
		return nil
	}

	ev := a2a.NewArtifactUpdateEvent(w.reqCtx, w.artifactID)
	ev.LastChunk = true

	return w.queue.Write(ctx, ev)
}
