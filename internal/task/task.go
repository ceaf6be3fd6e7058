// Package task defines the per-task record threaded through the
// pipeline: an immutable input plus a mutable accumulator that each
// stage writes its results into.
package task

import (
	"sync"
	"time"
)

// Status is the task lifecycle state. Transitions are forward-only.
type Status string

const (
	StatusPending            Status = "pending"
	StatusInProgress         Status = "in_progress"
	StatusCompleted          Status = "completed"
	StatusPartiallyCompleted Status = "partially_completed"
	StatusFailed             Status = "failed"
	StatusCancelled          Status = "cancelled"
)

// rank orders statuses so that transitions can never regress.
func (s Status) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusInProgress:
		return 1
	case StatusCompleted, StatusPartiallyCompleted, StatusFailed, StatusCancelled:
		return 2
	default:
		return -1
	}
}

// Terminal reports whether s is a final state.
func (s Status) Terminal() bool {
	return s.rank() == 2
}

// ExitCode maps a terminal status to the process exit code.
func (s Status) ExitCode() int {
	switch s {
	case StatusCompleted:
		return 0
	case StatusPartiallyCompleted:
		return 2
	case StatusCancelled:
		return 130
	default:
		return 1
	}
}

// Input holds the validated, immutable task parameters.
type Input struct {
	SourceURL    string
	TaskName     string
	RowIndex     string
	Assignee     string
	Videographer string
	ShootDate    string
	Notes        string
}

// Metadata describes the acquired media, from the downloader's info
// sidecar or probe fallback.
type Metadata struct {
	Title       string
	Description string
	Uploader    string
	Extractor   string
	Duration    float64
}

// Acquisition holds workspace-relative artifact paths. They are invalid
// once the workspace is released.
type Acquisition struct {
	MediaPath       string
	ThumbnailPath   string
	InfoPath        string
	MediaSize       int64
	PlaceholderUsed bool
	Metadata        Metadata
}

// Publication holds public URLs for published artifacts. A nil-equivalent
// empty ThumbnailURL means no thumbnail was published; MediaURL is never
// empty once the stage ran (it degrades to the source URL).
type Publication struct {
	MediaURL     string
	ThumbnailURL string
	StorageKey   string
	Uploaded     bool
}

// Synthesis holds generated descriptive content. Always populated after
// the synthesis stage (fallback content when the model is unavailable).
type Synthesis struct {
	Titles         []string
	Summary        string
	Tags           []string
	Classification string
	Audience       string
	Keywords       []string
	FallbackUsed   bool
}

// Record is the mutable aggregate for one task. It is created by the
// controller, written by stages in sequence, and read-only afterwards.
type Record struct {
	TaskID    string
	Input     Input
	StartedAt time.Time

	Acquisition *Acquisition
	Publication *Publication
	Synthesis   *Synthesis

	PageID  string
	PageURL string

	mu           sync.Mutex
	status       Status
	errorMessage string
	timings      map[string]time.Duration
}

// NewRecord creates a pending record for the given id and input.
func NewRecord(taskID string, in Input, startedAt time.Time) *Record {
	return &Record{
		TaskID:    taskID,
		Input:     in,
		StartedAt: startedAt,
		status:    StatusPending,
		timings:   make(map[string]time.Duration),
	}
}

// Status returns the current lifecycle status.
func (r *Record) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// SetStatus advances the lifecycle status. Regressions and transitions
// out of a terminal state are ignored.
func (r *Record) SetStatus(s Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status.Terminal() {
		return
	}
	if s.rank() < r.status.rank() {
		return
	}
	r.status = s
}

// Annotate records a degrade-level error message. Only the first
// annotation is kept; it does not by itself imply failure.
func (r *Record) Annotate(msg string) {
	if msg == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.errorMessage == "" {
		r.errorMessage = msg
	}
}

// ErrorMessage returns the first degrade annotation, if any.
func (r *Record) ErrorMessage() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.errorMessage
}

// RecordTiming stores a stage duration.
func (r *Record) RecordTiming(stage string, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.timings[stage] = d
}

// Timings returns a copy of the per-stage durations.
func (r *Record) Timings() map[string]time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]time.Duration, len(r.timings))
	for k, v := range r.timings {
		out[k] = v
	}
	return out
}

// RealMedia reports whether acquisition produced actual media rather
// than a tolerant-mode placeholder.
func (r *Record) RealMedia() bool {
	return r.Acquisition != nil && !r.Acquisition.PlaceholderUsed
}
