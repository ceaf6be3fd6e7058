// Package acquire implements the media acquisition stage: it drives the
// downloader into the task workspace, locates the artifacts it wrote,
// and backfills metadata and thumbnails when sidecars are missing.
package acquire

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"thirdcoast.systems/intake/internal/task"
	"thirdcoast.systems/intake/internal/workspace"
	"thirdcoast.systems/intake/pkg/ffmpeg"
	"thirdcoast.systems/intake/pkg/ytdlp"
)

// ErrNoMedia indicates the downloader exited cleanly but left no media
// file in the workspace.
var ErrNoMedia = errors.New("acquire: no media file produced")

var mediaExts = map[string]bool{
	".mp4":  true,
	".webm": true,
	".mkv":  true,
	".mov":  true,
}

var thumbnailExts = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".webp": true,
}

// Downloader is the subset of the yt-dlp client the stage depends on.
type Downloader interface {
	Download(ctx context.Context, url string, destDir string, name string, extraArgs ...string) error
}

// Stage runs acquisition for one task.
type Stage struct {
	Downloader Downloader
	Timeout    time.Duration

	// Tolerant makes download failures produce a placeholder artifact
	// instead of aborting the task.
	Tolerant bool

	// ExtractFrame produces a thumbnail from media when the downloader
	// did not write one. Defaults to ffmpeg single-frame extraction.
	ExtractFrame func(ctx context.Context, input, output string) error

	// ProbeDuration reads media duration when no info sidecar exists.
	// Defaults to ffprobe. Errors are tolerated.
	ProbeDuration func(ctx context.Context, path string) (float64, error)
}

func (s *Stage) extractFrame(ctx context.Context, input, output string) error {
	if s.ExtractFrame != nil {
		return s.ExtractFrame(ctx, input, output)
	}
	return ffmpeg.ExtractThumbnail(ctx, input, output, nil)
}

func (s *Stage) probeDuration(ctx context.Context, path string) (float64, error) {
	if s.ProbeDuration != nil {
		return s.ProbeDuration(ctx, path)
	}
	return ffmpeg.ProbeDuration(ctx, path)
}

// Run downloads the task's media into the workspace and returns the
// discovered artifacts. In tolerant mode a failed download returns a
// placeholder acquisition together with the classified error so the
// caller can annotate the degradation; otherwise the error is returned
// alone and the task should fail.
func (s *Stage) Run(ctx context.Context, ws *workspace.Workspace, in task.Input) (*task.Acquisition, error) {
	dir := ws.Path()

	dlCtx := ctx
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		dlCtx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	slog.Info("Starting download", "url", in.SourceURL, "dir", dir)
	err := s.Downloader.Download(dlCtx, in.SourceURL, dir, in.TaskName)
	if err == nil {
		acq, derr := s.collect(ctx, dir, in)
		if derr == nil {
			return acq, nil
		}
		err = derr
	}

	// Parent cancellation is never downgraded to a placeholder.
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	reason := ytdlp.Classify(err, "")
	// A killed subprocess surfaces as a plain exit error, so the stage
	// deadline has to be checked directly.
	if errors.Is(dlCtx.Err(), context.DeadlineExceeded) {
		reason = ytdlp.ReasonTimeout
	}
	wrapped := fmt.Errorf("download failed (%s): %w", reason, err)

	var ee *ytdlp.ExecError
	if errors.As(err, &ee) {
		slog.Error("Downloader failed",
			"reason", reason,
			"exit_code", ee.ExitCode,
			"stderr", ee.Stderr)
	} else {
		slog.Error("Download failed", "reason", reason, "error", err)
	}

	if !s.Tolerant {
		return nil, wrapped
	}

	acq, perr := s.placeholder(dir, in, reason)
	if perr != nil {
		return nil, wrapped
	}
	slog.Warn("Using placeholder media", "reason", reason)
	return acq, wrapped
}

// collect locates the media, thumbnail and info sidecar the downloader
// wrote and assembles the acquisition result.
func (s *Stage) collect(ctx context.Context, dir string, in task.Input) (*task.Acquisition, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("acquire: read workspace: %w", err)
	}

	acq := &task.Acquisition{}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		ext := strings.ToLower(filepath.Ext(name))
		full := filepath.Join(dir, name)

		switch {
		case strings.HasSuffix(name, ".info.json"):
			acq.InfoPath = full
		case mediaExts[ext] && !strings.Contains(name, "info"):
			if acq.MediaPath == "" {
				acq.MediaPath = full
			}
		case thumbnailExts[ext]:
			if acq.ThumbnailPath == "" {
				acq.ThumbnailPath = full
			}
		}
	}

	if acq.MediaPath == "" {
		return nil, ErrNoMedia
	}

	if fi, err := os.Stat(acq.MediaPath); err == nil {
		acq.MediaSize = fi.Size()
	}

	acq.Metadata = s.metadata(ctx, acq, in)

	if acq.ThumbnailPath == "" {
		out := strings.TrimSuffix(acq.MediaPath, filepath.Ext(acq.MediaPath)) + "_thumb.jpg"
		if err := s.extractFrame(ctx, acq.MediaPath, out); err != nil {
			slog.Warn("Thumbnail extraction failed", "error", err)
		} else {
			acq.ThumbnailPath = out
		}
	}

	slog.Info("Download complete",
		"media", filepath.Base(acq.MediaPath),
		"size", humanize.Bytes(uint64(acq.MediaSize)),
		"thumbnail", acq.ThumbnailPath != "",
		"duration_s", acq.Metadata.Duration)

	return acq, nil
}

// metadata reads the info sidecar, falling back to the task name and a
// duration probe when absent or unparseable.
func (s *Stage) metadata(ctx context.Context, acq *task.Acquisition, in task.Input) task.Metadata {
	if acq.InfoPath != "" {
		data, err := os.ReadFile(acq.InfoPath)
		if err == nil {
			info, perr := ytdlp.ParseInfo(data)
			if perr == nil {
				md := task.Metadata{
					Title:       info.Title,
					Description: info.Description,
					Uploader:    info.Uploader,
					Extractor:   info.Extractor,
					Duration:    info.Duration,
				}
				if md.Title == "" {
					md.Title = in.TaskName
				}
				return md
			}
			slog.Warn("Unparseable info sidecar", "path", acq.InfoPath, "error", perr)
		}
	}

	md := task.Metadata{Title: in.TaskName}
	if d, err := s.probeDuration(ctx, acq.MediaPath); err == nil {
		md.Duration = d
	}
	return md
}

// placeholderMarker is the content of the tolerant-mode stand-in file.
const placeholderMarker = "PLACEHOLDER: media acquisition failed\n"

func (s *Stage) placeholder(dir string, in task.Input, reason ytdlp.FailureReason) (*task.Acquisition, error) {
	path := filepath.Join(dir, "placeholder.mp4")
	content := placeholderMarker + "reason: " + string(reason) + "\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return nil, fmt.Errorf("acquire: write placeholder: %w", err)
	}

	return &task.Acquisition{
		MediaPath:       path,
		MediaSize:       int64(len(content)),
		PlaceholderUsed: true,
		Metadata:        task.Metadata{Title: in.TaskName},
	}, nil
}
