package pipeline

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"thirdcoast.systems/intake/internal/publish"
	"thirdcoast.systems/intake/internal/report"
	"thirdcoast.systems/intake/internal/task"
	"thirdcoast.systems/intake/internal/workspace"
)

type fakeAcquirer struct {
	acq    *task.Acquisition
	err    error
	cancel context.CancelFunc
}

func (f *fakeAcquirer) Run(ctx context.Context, ws *workspace.Workspace, in task.Input) (*task.Acquisition, error) {
	if f.cancel != nil {
		f.cancel()
	}
	return f.acq, f.err
}

type fakePublisher struct {
	state publish.State
	pub   *task.Publication
}

func (f *fakePublisher) Publish(ctx context.Context, rec *task.Record) *task.Publication {
	if f.pub != nil {
		return f.pub
	}
	return &task.Publication{MediaURL: "https://cdn/video.mp4", Uploaded: true}
}

func (f *fakePublisher) State() publish.State { return f.state }

type fakeSynthesizer struct{}

func (fakeSynthesizer) Run(ctx context.Context, in task.Input, md task.Metadata) *task.Synthesis {
	return &task.Synthesis{Titles: []string{"t"}, Summary: "s", Tags: []string{"#a"}}
}

type fakePages struct {
	page   *report.PageResult
	err    error
	called bool
}

func (f *fakePages) CreatePage(ctx context.Context, rec *task.Record) (*report.PageResult, error) {
	f.called = true
	return f.page, f.err
}

type fakeNotifier struct {
	sent    []map[string]any
	sendErr error
}

func (f *fakeNotifier) Send(ctx context.Context, payload map[string]any) error {
	f.sent = append(f.sent, payload)
	return f.sendErr
}

func (f *fakeNotifier) SuccessPayload(rec *task.Record) map[string]any {
	return map[string]any{"status": "success", "page_url": rec.PageURL}
}

func (f *fakeNotifier) ErrorPayload(rec *task.Record) map[string]any {
	return map[string]any{"status": "error", "message": rec.ErrorMessage()}
}

func goodInput() task.Input {
	return task.Input{
		SourceURL: "https://www.youtube.com/watch?v=abc123",
		TaskName:  "Launch",
		RowIndex:  "7",
	}
}

func goodAcquisition() *task.Acquisition {
	return &task.Acquisition{
		MediaPath: "/ws/clip.mp4",
		MediaSize: 10,
		Metadata:  task.Metadata{Title: "Launch", Duration: 30},
	}
}

type pipelineFixture struct {
	p        *Pipeline
	acquire  *fakeAcquirer
	publishr *fakePublisher
	pages    *fakePages
	notify   *fakeNotifier
}

func newFixture(t *testing.T) *pipelineFixture {
	t.Helper()
	f := &pipelineFixture{
		acquire:  &fakeAcquirer{acq: goodAcquisition()},
		publishr: &fakePublisher{state: publish.Ready},
		pages:    &fakePages{page: &report.PageResult{ID: "p1", URL: "https://notion.so/p1"}},
		notify:   &fakeNotifier{},
	}
	f.p = New(Deps{
		Acquire:    f.acquire,
		Publish:    f.publishr,
		Synthesize: fakeSynthesizer{},
		Pages:      f.pages,
		Notify:     f.notify,
	})
	return f
}

func TestRun_HappyPath(t *testing.T) {
	f := newFixture(t)

	rec := f.p.Run(context.Background(), goodInput())
	require.Equal(t, task.StatusCompleted, rec.Status())
	require.Equal(t, 0, rec.Status().ExitCode())
	require.NotEmpty(t, rec.TaskID)
	require.Len(t, rec.TaskID, 12)

	require.True(t, f.pages.called)
	require.Equal(t, "https://notion.so/p1", rec.PageURL)
	require.Len(t, f.notify.sent, 1)
	require.Equal(t, "success", f.notify.sent[0]["status"])
	require.Equal(t, "https://notion.so/p1", f.notify.sent[0]["page_url"])

	timings := rec.Timings()
	require.Contains(t, timings, "acquire")
	require.Contains(t, timings, "publish")
	require.Contains(t, timings, "synthesize")
}

func TestRun_InvalidInputFailsWithoutStages(t *testing.T) {
	f := newFixture(t)

	rec := f.p.Run(context.Background(), task.Input{SourceURL: "not-a-url", TaskName: "x", RowIndex: "1"})
	require.Equal(t, task.StatusFailed, rec.Status())
	require.Nil(t, rec.Acquisition)
	require.False(t, f.pages.called)
	require.Len(t, f.notify.sent, 1)
	require.Equal(t, "error", f.notify.sent[0]["status"])
}

func TestRun_MissingRowIndexFails(t *testing.T) {
	f := newFixture(t)
	in := goodInput()
	in.RowIndex = ""

	rec := f.p.Run(context.Background(), in)
	require.Equal(t, task.StatusFailed, rec.Status())
}

func TestRun_StrictAcquisitionFailure(t *testing.T) {
	f := newFixture(t)
	f.acquire.acq = nil
	f.acquire.err = errors.New("download failed (not_found): boom")

	rec := f.p.Run(context.Background(), goodInput())
	require.Equal(t, task.StatusFailed, rec.Status())
	require.Equal(t, 1, rec.Status().ExitCode())
	require.Contains(t, rec.ErrorMessage(), "not_found")
	require.False(t, f.pages.called)
	require.Equal(t, "error", f.notify.sent[0]["status"])
}

func TestRun_TolerantPlaceholderIsPartial(t *testing.T) {
	f := newFixture(t)
	f.acquire.acq = &task.Acquisition{
		MediaPath:       "/ws/placeholder.mp4",
		PlaceholderUsed: true,
		Metadata:        task.Metadata{Title: "Launch"},
	}
	f.acquire.err = errors.New("download failed (auth_required): private")

	rec := f.p.Run(context.Background(), goodInput())
	require.Equal(t, task.StatusPartiallyCompleted, rec.Status())
	require.Equal(t, 2, rec.Status().ExitCode())
	require.NotNil(t, rec.Synthesis)
	require.True(t, f.pages.called)
	require.Equal(t, "success", f.notify.sent[0]["status"])
}

func TestRun_UploadFailureIsPartial(t *testing.T) {
	f := newFixture(t)
	f.publishr.pub = &task.Publication{MediaURL: "https://example.com/v", Uploaded: false}

	rec := f.p.Run(context.Background(), goodInput())
	require.Equal(t, task.StatusPartiallyCompleted, rec.Status())
	require.Contains(t, rec.ErrorMessage(), "upload failed")
}

func TestRun_UnconfiguredStorageStaysCompleted(t *testing.T) {
	f := newFixture(t)
	f.publishr.state = publish.Unconfigured
	f.publishr.pub = &task.Publication{MediaURL: "https://example.com/v", Uploaded: false}

	rec := f.p.Run(context.Background(), goodInput())
	require.Equal(t, task.StatusCompleted, rec.Status())
}

func TestRun_CancellationBetweenStages(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	f.acquire.cancel = cancel
	f.acquire.err = context.Canceled

	rec := f.p.Run(ctx, goodInput())
	require.Equal(t, task.StatusCancelled, rec.Status())
	require.Equal(t, 130, rec.Status().ExitCode())
	// Reporting still happens so the worklist row is not left dangling.
	require.Len(t, f.notify.sent, 1)
	require.Equal(t, "error", f.notify.sent[0]["status"])
}

func TestRun_NotionFailureDoesNotBlockWebhook(t *testing.T) {
	f := newFixture(t)
	f.pages.page = nil
	f.pages.err = errors.New("notion down")

	rec := f.p.Run(context.Background(), goodInput())
	require.Equal(t, task.StatusCompleted, rec.Status())
	require.Empty(t, rec.PageURL)
	require.Len(t, f.notify.sent, 1)
}

func TestRun_WorkspaceReleasedOnAllTerminalPaths(t *testing.T) {
	tests := []struct {
		name  string
		setup func(f *pipelineFixture) context.Context
		want  task.Status
	}{
		{
			name:  "completed",
			setup: func(f *pipelineFixture) context.Context { return context.Background() },
			want:  task.StatusCompleted,
		},
		{
			name: "strict acquisition failure",
			setup: func(f *pipelineFixture) context.Context {
				f.acquire.acq = nil
				f.acquire.err = errors.New("download failed (not_found): gone")
				return context.Background()
			},
			want: task.StatusFailed,
		},
		{
			name: "tolerant placeholder",
			setup: func(f *pipelineFixture) context.Context {
				f.acquire.acq = &task.Acquisition{MediaPath: "/ws/placeholder.mp4", PlaceholderUsed: true}
				f.acquire.err = errors.New("download failed (timeout): slow")
				return context.Background()
			},
			want: task.StatusPartiallyCompleted,
		},
		{
			name: "cancelled",
			setup: func(f *pipelineFixture) context.Context {
				ctx, cancel := context.WithCancel(context.Background())
				f.acquire.cancel = cancel
				f.acquire.err = context.Canceled
				return ctx
			},
			want: task.StatusCancelled,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := tc.setup(f)

			var dir string
			f.p.deps.AcquireWorkspace = func(taskID string) (*workspace.Workspace, error) {
				ws, err := workspace.Acquire(taskID)
				if err == nil {
					dir = ws.Path()
				}
				return ws, err
			}

			rec := f.p.Run(ctx, goodInput())
			require.Equal(t, tc.want, rec.Status())

			require.NotEmpty(t, dir)
			_, err := os.Stat(dir)
			require.True(t, os.IsNotExist(err), "workspace %s should be gone", dir)
		})
	}
}

func TestRun_DeterministicTaskID(t *testing.T) {
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	mk := func() *Pipeline {
		f := newFixture(t)
		deps := f.p.deps
		deps.Now = func() time.Time { return now }
		return New(deps)
	}

	rec1 := mk().Run(context.Background(), goodInput())
	rec2 := mk().Run(context.Background(), goodInput())
	require.Equal(t, rec1.TaskID, rec2.TaskID)
}
