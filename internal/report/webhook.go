// Package report implements the reporting stage: persisting the task
// outcome to Notion and notifying the workflow engine's webhook. Both
// channels fail independently; neither can change the task's terminal
// status.
package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"thirdcoast.systems/intake/internal/task"
)

const (
	webhookTimeout = 30 * time.Second
	userAgent      = "intake/1.0"

	maxErrorMessageLen = 500
)

// Webhook delivers task results to the workflow engine. A single POST,
// no retries: the engine owns retry semantics on its side.
type Webhook struct {
	URL      string
	Secret   string
	TestMode bool

	// HTTPClient defaults to a 30s-timeout client.
	HTTPClient *http.Client
}

func (w *Webhook) httpClient() *http.Client {
	if w.HTTPClient != nil {
		return w.HTTPClient
	}
	return &http.Client{Timeout: webhookTimeout}
}

// Send posts the payload. Skipped (with a warning) in test mode or when
// no URL is configured.
func (w *Webhook) Send(ctx context.Context, payload map[string]any) error {
	if w.URL == "" {
		slog.Warn("Webhook URL not configured, skipping notification")
		return nil
	}
	if w.TestMode {
		slog.Warn("Test mode, skipping webhook notification", "url", w.URL)
		return nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("webhook: marshal payload: %w", err)
	}
	slog.Debug("Webhook payload", "body", string(body))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := w.httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("webhook: post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		slog.Error("Webhook rejected", "status", resp.StatusCode, "body", string(respBody))
		return fmt.Errorf("webhook: status %d", resp.StatusCode)
	}

	slog.Info("Webhook delivered", "status", resp.StatusCode)
	return nil
}

// SuccessPayload builds the webhook body for a completed or partially
// completed task.
func (w *Webhook) SuccessPayload(rec *task.Record) map[string]any {
	payload := map[string]any{
		"status":           "success",
		"secret":           w.Secret,
		"task_id":          rec.TaskID,
		"gsheet_row_index": rec.Input.RowIndex,
		"task_name":        rec.Input.TaskName,
		"task_status":      string(rec.Status()),
		"processed_time":   time.Now().UTC().Format(time.RFC3339),
	}

	if syn := rec.Synthesis; syn != nil {
		payload["page_title"] = firstOr(syn.Titles, rec.Input.TaskName)
		payload["properties"] = map[string]any{
			"titles":         syn.Titles,
			"summary":        syn.Summary,
			"tags":           syn.Tags,
			"classification": syn.Classification,
			"audience":       syn.Audience,
			"keywords":       syn.Keywords,
			"fallback_used":  syn.FallbackUsed,
		}
	} else {
		payload["page_title"] = rec.Input.TaskName
	}

	if acq := rec.Acquisition; acq != nil {
		payload["video_info"] = map[string]any{
			"title":       acq.Metadata.Title,
			"uploader":    acq.Metadata.Uploader,
			"duration":    acq.Metadata.Duration,
			"size_bytes":  acq.MediaSize,
			"placeholder": acq.PlaceholderUsed,
		}
	}

	if pub := rec.Publication; pub != nil {
		payload["video_url"] = pub.MediaURL
		if pub.ThumbnailURL != "" {
			payload["thumbnail_url"] = pub.ThumbnailURL
		}
	}

	if rec.PageURL != "" {
		payload["notion_page_url"] = rec.PageURL
	}
	if msg := rec.ErrorMessage(); msg != "" {
		payload["warnings"] = truncate(msg, maxErrorMessageLen)
	}

	stats := map[string]any{}
	for stage, d := range rec.Timings() {
		stats[stage+"_seconds"] = d.Seconds()
	}
	payload["processing_stats"] = stats

	return payload
}

// ErrorPayload builds the webhook body for a failed or cancelled task.
func (w *Webhook) ErrorPayload(rec *task.Record) map[string]any {
	return map[string]any{
		"status":           "error",
		"secret":           w.Secret,
		"task_id":          rec.TaskID,
		"gsheet_row_index": rec.Input.RowIndex,
		"task_name":        rec.Input.TaskName,
		"task_status":      string(rec.Status()),
		"error_message":    truncate(rec.ErrorMessage(), maxErrorMessageLen),
		"processed_time":   time.Now().UTC().Format(time.RFC3339),
	}
}

func firstOr(ss []string, fallback string) string {
	if len(ss) > 0 {
		return ss[0]
	}
	return fallback
}

// truncate caps s at n characters on a rune boundary; subprocess
// stderr is frequently non-ASCII and must stay valid UTF-8 in JSON.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
