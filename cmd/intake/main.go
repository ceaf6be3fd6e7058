package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"thirdcoast.systems/intake/internal/acquire"
	"thirdcoast.systems/intake/internal/config"
	"thirdcoast.systems/intake/internal/pipeline"
	"thirdcoast.systems/intake/internal/publish"
	"thirdcoast.systems/intake/internal/report"
	"thirdcoast.systems/intake/internal/synthesize"
	"thirdcoast.systems/intake/internal/task"
	"thirdcoast.systems/intake/internal/taskid"
	"thirdcoast.systems/intake/pkg/ytdlp"
)

// browserUA avoids extractor blocks on the default tool user agent.
const browserUA = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) " +
	"AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Best-effort: env vars from the environment win over .env.
	if err := godotenv.Load(); err == nil {
		slog.Info("Loaded .env file")
	}

	slog.Info("Starting intake")

	conf, err := config.LoadConfig(ctx)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		reportConfigFailure(ctx, conf, err)
		os.Exit(1)
	}

	dl := ytdlp.New()
	dl.UserAgent = browserUA
	dl.LogCallback = func(stream, line string) {
		slog.Debug("yt-dlp", "stream", stream, "line", line)
	}

	if conf.YtdlpSelfUpdate {
		updateCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
		if err := dl.Update(updateCtx); err != nil {
			slog.Warn("failed to update yt-dlp", "error", err)
		} else {
			slog.Info("yt-dlp updated successfully")
		}
		cancel()
	}

	p := pipeline.New(pipeline.Deps{
		Acquire: &acquire.Stage{
			Downloader: dl,
			Timeout:    conf.DownloadTimeout(),
			Tolerant:   conf.SkipFailedDownloads,
		},
		Publish: publish.New(ctx, publish.Options{
			AccountID:    conf.R2AccountID,
			AccessKey:    conf.R2AccessKey,
			SecretKey:    conf.R2SecretKey,
			Bucket:       conf.R2Bucket,
			CustomDomain: conf.R2CustomDomain,
		}),
		Synthesize: synthesize.New(conf.OpenAIAPIKey, conf.OpenAIModel, conf.AIMaxTokens, conf.AITemperature),
		Pages: &report.Notion{
			APIKey:     conf.NotionAPIKey,
			DatabaseID: conf.NotionDatabaseID,
		},
		Notify: &report.Webhook{
			URL:      conf.WebhookURL,
			Secret:   conf.WebhookSecret,
			TestMode: conf.TestMode,
		},
	})

	rec := p.Run(ctx, task.Input{
		SourceURL:    conf.VideoURL,
		TaskName:     conf.TaskName,
		RowIndex:     conf.RowIndex,
		Assignee:     conf.Assignee,
		Videographer: conf.Videographer,
		ShootDate:    conf.ShootDate,
		Notes:        conf.Notes,
	})

	os.Exit(rec.Status().ExitCode())
}

// reportConfigFailure notifies the webhook about a task that failed
// validation, so the worklist row is not left dangling. Best-effort:
// the process exits 1 either way.
func reportConfigFailure(ctx context.Context, conf *config.Config, cause error) {
	if conf == nil || conf.WebhookURL == "" {
		return
	}

	now := time.Now()
	rec := task.NewRecord(
		taskid.Generate(conf.TaskName, conf.VideoURL, now),
		task.Input{TaskName: conf.TaskName, RowIndex: conf.RowIndex},
		now,
	)
	rec.Annotate("configuration invalid: " + cause.Error())
	rec.SetStatus(task.StatusFailed)

	w := &report.Webhook{URL: conf.WebhookURL, Secret: conf.WebhookSecret, TestMode: conf.TestMode}
	if err := w.Send(ctx, w.ErrorPayload(rec)); err != nil {
		slog.Error("config failure notification failed", "error", err)
	}
}
