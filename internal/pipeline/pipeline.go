// Package pipeline sequences the intake stages for a single task and
// decides its terminal status. The controller owns the workspace
// lifetime, observes cancellation between stages, and always runs
// reporting before handing the record back.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"thirdcoast.systems/intake/internal/publish"
	"thirdcoast.systems/intake/internal/report"
	"thirdcoast.systems/intake/internal/sourceurl"
	"thirdcoast.systems/intake/internal/task"
	"thirdcoast.systems/intake/internal/taskid"
	"thirdcoast.systems/intake/internal/workspace"
)

// Acquirer runs the media acquisition stage.
type Acquirer interface {
	Run(ctx context.Context, ws *workspace.Workspace, in task.Input) (*task.Acquisition, error)
}

// Publisher runs the artifact publication stage.
type Publisher interface {
	Publish(ctx context.Context, rec *task.Record) *task.Publication
	State() publish.State
}

// Synthesizer runs the content synthesis stage.
type Synthesizer interface {
	Run(ctx context.Context, in task.Input, md task.Metadata) *task.Synthesis
}

// PageCreator persists the result page.
type PageCreator interface {
	CreatePage(ctx context.Context, rec *task.Record) (*report.PageResult, error)
}

// Notifier delivers the outcome to the workflow engine.
type Notifier interface {
	Send(ctx context.Context, payload map[string]any) error
	SuccessPayload(rec *task.Record) map[string]any
	ErrorPayload(rec *task.Record) map[string]any
}

// Deps are the pipeline's collaborators.
type Deps struct {
	Acquire    Acquirer
	Publish    Publisher
	Synthesize Synthesizer
	Pages      PageCreator
	Notify     Notifier

	// AcquireWorkspace defaults to workspace.Acquire.
	AcquireWorkspace func(taskID string) (*workspace.Workspace, error)
	// Now defaults to time.Now.
	Now func() time.Time
}

// Pipeline processes one task per Run call.
type Pipeline struct {
	deps Deps
}

func New(deps Deps) *Pipeline {
	if deps.AcquireWorkspace == nil {
		deps.AcquireWorkspace = workspace.Acquire
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Pipeline{deps: deps}
}

// Run processes the task and returns its record with a terminal status.
func (p *Pipeline) Run(ctx context.Context, in task.Input) *task.Record {
	start := p.deps.Now()
	id := taskid.Generate(in.TaskName, in.SourceURL, start)
	rec := task.NewRecord(id, in, start)

	slog.Info("Task started",
		"task_id", id,
		"task", in.TaskName,
		"row_index", in.RowIndex,
		"url", in.SourceURL)

	if err := validateInput(in); err != nil {
		rec.Annotate(err.Error())
		rec.SetStatus(task.StatusFailed)
		slog.Error("Task input invalid", "task_id", id, "error", err)
		p.report(ctx, rec)
		p.summarize(rec)
		return rec
	}

	rec.SetStatus(task.StatusInProgress)
	p.process(ctx, rec)
	p.report(ctx, rec)
	p.summarize(rec)
	return rec
}

func validateInput(in task.Input) error {
	if err := sourceurl.Validate(in.SourceURL); err != nil {
		return fmt.Errorf("invalid source url: %w", err)
	}
	if in.TaskName == "" {
		return errors.New("missing task name")
	}
	if in.RowIndex == "" {
		return errors.New("missing worklist row reference")
	}
	return nil
}

// process runs the work stages and sets the terminal status. Reporting
// is not part of it so the caller can always notify, whatever happened.
func (p *Pipeline) process(ctx context.Context, rec *task.Record) {
	ws, err := p.deps.AcquireWorkspace(rec.TaskID)
	if err != nil {
		rec.Annotate(fmt.Sprintf("workspace setup failed: %v", err))
		rec.SetStatus(task.StatusFailed)
		return
	}
	defer ws.Release()

	// Acquisition
	stageStart := p.deps.Now()
	acq, err := p.deps.Acquire.Run(ctx, ws, rec.Input)
	rec.RecordTiming("acquire", p.deps.Now().Sub(stageStart))
	if acq != nil {
		rec.Acquisition = acq
	}
	if err != nil {
		if cancelled(ctx, err) {
			rec.Annotate("task cancelled during acquisition")
			rec.SetStatus(task.StatusCancelled)
			return
		}
		rec.Annotate(err.Error())
		if acq == nil {
			rec.SetStatus(task.StatusFailed)
			return
		}
		// Tolerant-mode placeholder: keep going with degraded media.
	}

	if p.checkCancelled(ctx, rec, "publication") {
		return
	}

	// Publication
	stageStart = p.deps.Now()
	pub := p.deps.Publish.Publish(ctx, rec)
	rec.RecordTiming("publish", p.deps.Now().Sub(stageStart))
	rec.Publication = pub
	switch {
	case p.deps.Publish.State() == publish.Failed:
		rec.Annotate("object storage unavailable, media served from source URL")
	case p.deps.Publish.State() == publish.Ready && !pub.Uploaded:
		rec.Annotate("media upload failed, media served from source URL")
	}

	if p.checkCancelled(ctx, rec, "synthesis") {
		return
	}

	// Synthesis. Fallback content is an expected degrade and does not
	// affect the terminal status.
	stageStart = p.deps.Now()
	rec.Synthesis = p.deps.Synthesize.Run(ctx, rec.Input, rec.Acquisition.Metadata)
	rec.RecordTiming("synthesize", p.deps.Now().Sub(stageStart))

	if p.checkCancelled(ctx, rec, "reporting") {
		return
	}

	// Every stage ran; degrades recorded along the way decide between
	// completed and partially completed.
	if rec.ErrorMessage() == "" {
		rec.SetStatus(task.StatusCompleted)
	} else {
		rec.SetStatus(task.StatusPartiallyCompleted)
	}
}

func cancelled(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, context.Canceled)
}

func (p *Pipeline) checkCancelled(ctx context.Context, rec *task.Record, before string) bool {
	if ctx.Err() == nil {
		return false
	}
	rec.Annotate("task cancelled before " + before)
	rec.SetStatus(task.StatusCancelled)
	return true
}

// report persists the outcome to Notion, then notifies the webhook with
// the page URL when one was created. The channels fail independently,
// and both run even when the task context was cancelled.
func (p *Pipeline) report(ctx context.Context, rec *task.Record) {
	ctx = context.WithoutCancel(ctx)

	success := rec.Status() == task.StatusCompleted ||
		rec.Status() == task.StatusPartiallyCompleted

	if success && p.deps.Pages != nil {
		stageStart := p.deps.Now()
		page, err := p.deps.Pages.CreatePage(ctx, rec)
		rec.RecordTiming("notion", p.deps.Now().Sub(stageStart))
		if err != nil {
			slog.Error("Notion page creation failed", "task_id", rec.TaskID, "error", err)
		} else if page != nil {
			rec.PageID = page.ID
			rec.PageURL = page.URL
		}
	}

	if p.deps.Notify == nil {
		return
	}
	var payload map[string]any
	if success {
		payload = p.deps.Notify.SuccessPayload(rec)
	} else {
		payload = p.deps.Notify.ErrorPayload(rec)
	}
	if err := p.deps.Notify.Send(ctx, payload); err != nil {
		slog.Error("Webhook notification failed", "task_id", rec.TaskID, "error", err)
	}
}

func (p *Pipeline) summarize(rec *task.Record) {
	attrs := []any{
		"task_id", rec.TaskID,
		"status", string(rec.Status()),
		"duration", p.deps.Now().Sub(rec.StartedAt).Round(time.Millisecond),
	}
	if pub := rec.Publication; pub != nil {
		attrs = append(attrs, "media_url", pub.MediaURL)
	}
	if rec.PageURL != "" {
		attrs = append(attrs, "notion_page", rec.PageURL)
	}
	if msg := rec.ErrorMessage(); msg != "" {
		attrs = append(attrs, "detail", msg)
	}
	slog.Info("Task finished", attrs...)
}
