package report

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"thirdcoast.systems/intake/internal/retry"
	"thirdcoast.systems/intake/internal/task"
)

const (
	notionBaseURL = "https://api.notion.com"
	notionVersion = "2022-06-28"

	maxRichTextLen    = 2000
	maxSelectNameLen  = 100
	maxTitleOptions   = 5
	maxTagOptions     = 10
	processedStatus   = "Processed"
	notionHTTPTimeout = 30 * time.Second
)

// statusError is an HTTP-level Notion failure.
type statusError struct {
	Code int
	Body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("notion: status %d: %s", e.Code, e.Body)
}

// Notion persists task results as pages in a Notion database.
type Notion struct {
	APIKey     string
	DatabaseID string

	// BaseURL overrides the API host in tests.
	BaseURL string
	// HTTPClient defaults to a 30s-timeout client.
	HTTPClient *http.Client
	// Retry defaults to 3 attempts starting at 1s.
	Retry retry.Policy
}

// PageResult identifies the created page.
type PageResult struct {
	ID  string
	URL string
}

// Configured reports whether the channel is usable.
func (n *Notion) Configured() bool {
	return n.APIKey != "" && n.DatabaseID != ""
}

func (n *Notion) baseURL() string {
	if n.BaseURL != "" {
		return strings.TrimSuffix(n.BaseURL, "/")
	}
	return notionBaseURL
}

func (n *Notion) httpClient() *http.Client {
	if n.HTTPClient != nil {
		return n.HTTPClient
	}
	return &http.Client{Timeout: notionHTTPTimeout}
}

func (n *Notion) policy() retry.Policy {
	if n.Retry.Attempts > 0 {
		return n.Retry
	}
	return retry.Policy{Attempts: 3, BaseDelay: time.Second}
}

// retryableNotionError retries rate limits and transport timeouts;
// validation errors (other 4xx) are terminal.
func retryableNotionError(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.Code == http.StatusTooManyRequests || se.Code >= 500
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// CreatePage creates the result page for a task.
func (n *Notion) CreatePage(ctx context.Context, rec *task.Record) (*PageResult, error) {
	if !n.Configured() {
		slog.Warn("Notion not configured, skipping page creation")
		return nil, nil
	}

	body := map[string]any{
		"parent":     map[string]any{"database_id": n.DatabaseID},
		"properties": n.pageProperties(rec),
		"children":   n.pageChildren(rec),
	}

	var result PageResult
	err := n.policy().Do(ctx, func(ctx context.Context) error {
		resp, err := n.do(ctx, http.MethodPost, "/v1/pages", body)
		if err != nil {
			return err
		}
		result.ID, _ = resp["id"].(string)
		result.URL, _ = resp["url"].(string)
		return nil
	}, retryableNotionError)
	if err != nil {
		var se *statusError
		if errors.As(err, &se) && se.Code >= 400 && se.Code < 500 && se.Code != http.StatusTooManyRequests {
			slog.Error("Notion rejected page, check database schema", "status", se.Code, "body", se.Body)
		}
		return nil, fmt.Errorf("notion: create page: %w", err)
	}

	slog.Info("Notion page created", "page_id", result.ID, "url", result.URL)
	return &result, nil
}

// UpdatePageStatus flips the status select on an existing page.
func (n *Notion) UpdatePageStatus(ctx context.Context, pageID, status string) error {
	if !n.Configured() {
		return nil
	}
	body := map[string]any{
		"properties": map[string]any{
			"Status": map[string]any{
				"select": map[string]any{"name": sanitizeOption(status)},
			},
		},
	}
	err := n.policy().Do(ctx, func(ctx context.Context) error {
		_, err := n.do(ctx, http.MethodPatch, "/v1/pages/"+pageID, body)
		return err
	}, retryableNotionError)
	if err != nil {
		return fmt.Errorf("notion: update page status: %w", err)
	}
	return nil
}

func (n *Notion) do(ctx context.Context, method, path string, body any) (map[string]any, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("notion: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, n.baseURL()+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("notion: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+n.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Notion-Version", notionVersion)

	resp, err := n.httpClient().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &statusError{Code: resp.StatusCode, Body: truncate(string(respBody), 500)}
	}

	var parsed map[string]any
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("notion: parse response: %w", err)
	}
	return parsed, nil
}

// pageProperties builds the database properties for the result page.
func (n *Notion) pageProperties(rec *task.Record) map[string]any {
	pageTitle := rec.Input.TaskName
	summary := ""
	var titles, tags []string
	if syn := rec.Synthesis; syn != nil {
		pageTitle = firstOr(syn.Titles, pageTitle)
		summary = syn.Summary
		titles = syn.Titles
		tags = syn.Tags
	}

	props := map[string]any{
		"Name": map[string]any{
			"title": []any{richText(pageTitle)},
		},
		"Status": map[string]any{
			"select": map[string]any{"name": processedStatus},
		},
		"Task ID": map[string]any{
			"rich_text": []any{richText(rec.TaskID)},
		},
	}

	if summary != "" {
		props["Summary"] = map[string]any{
			"rich_text": []any{richText(truncate(summary, maxRichTextLen))},
		}
	}
	if len(titles) > 0 {
		props["Suggested Titles"] = map[string]any{
			"multi_select": selectOptions(titles, maxTitleOptions),
		}
	}
	if len(tags) > 0 {
		props["Tags"] = map[string]any{
			"multi_select": selectOptions(tags, maxTagOptions),
		}
	}
	if pub := rec.Publication; pub != nil && pub.MediaURL != "" {
		props["Video URL"] = map[string]any{"url": pub.MediaURL}
	}
	if rec.Input.Assignee != "" {
		props["Assignee"] = map[string]any{
			"rich_text": []any{richText(rec.Input.Assignee)},
		}
	}
	if rec.Input.ShootDate != "" {
		props["Shoot Date"] = map[string]any{
			"date": map[string]any{"start": rec.Input.ShootDate},
		}
	}

	return props
}

// pageChildren builds the page body blocks.
func (n *Notion) pageChildren(rec *task.Record) []any {
	var blocks []any

	blocks = append(blocks, headingBlock("Video Info"))

	info := fmt.Sprintf("Task %s, row %s", rec.TaskID, rec.Input.RowIndex)
	if acq := rec.Acquisition; acq != nil {
		info = fmt.Sprintf("%s. Duration %.0fs, uploader %s.",
			info, acq.Metadata.Duration, orDash(acq.Metadata.Uploader))
		if acq.PlaceholderUsed {
			info += " Media is a placeholder; the download failed."
		}
	}
	blocks = append(blocks, calloutBlock(info))

	if syn := rec.Synthesis; syn != nil {
		blocks = append(blocks, headingBlock("Summary"))
		blocks = append(blocks, paragraphBlock(truncate(syn.Summary, maxRichTextLen)))

		if len(syn.Titles) > 0 {
			blocks = append(blocks, headingBlock("Suggested Titles"))
			for _, title := range syn.Titles {
				blocks = append(blocks, numberedItemBlock(title))
			}
		}
		if len(syn.Tags) > 0 {
			blocks = append(blocks, paragraphBlock(strings.Join(syn.Tags, " ")))
		}
	}

	if pub := rec.Publication; pub != nil && pub.MediaURL != "" {
		blocks = append(blocks, map[string]any{
			"object":   "block",
			"type":     "bookmark",
			"bookmark": map[string]any{"url": pub.MediaURL},
		})
	}

	return blocks
}

func richText(s string) map[string]any {
	return map[string]any{
		"type": "text",
		"text": map[string]any{"content": truncate(s, maxRichTextLen)},
	}
}

// selectOptions sanitizes names for multi_select: Notion forbids commas
// and misrenders newlines, and caps option names at 100 characters.
func selectOptions(names []string, max int) []any {
	out := make([]any, 0, max)
	for _, name := range names {
		name = sanitizeOption(name)
		if name == "" {
			continue
		}
		out = append(out, map[string]any{"name": name})
		if len(out) == max {
			break
		}
	}
	return out
}

func sanitizeOption(s string) string {
	s = strings.NewReplacer(",", " ", "\n", " ", "\r", " ").Replace(s)
	s = strings.Join(strings.Fields(s), " ")
	if len([]rune(s)) > maxSelectNameLen {
		s = string([]rune(s)[:maxSelectNameLen])
	}
	return s
}

func headingBlock(text string) map[string]any {
	return map[string]any{
		"object": "block",
		"type":   "heading_2",
		"heading_2": map[string]any{
			"rich_text": []any{richText(text)},
		},
	}
}

func paragraphBlock(text string) map[string]any {
	return map[string]any{
		"object": "block",
		"type":   "paragraph",
		"paragraph": map[string]any{
			"rich_text": []any{richText(text)},
		},
	}
}

func calloutBlock(text string) map[string]any {
	return map[string]any{
		"object": "block",
		"type":   "callout",
		"callout": map[string]any{
			"rich_text": []any{richText(text)},
			"icon":      map[string]any{"type": "emoji", "emoji": "🎬"},
		},
	}
}

func numberedItemBlock(text string) map[string]any {
	return map[string]any{
		"object": "block",
		"type":   "numbered_list_item",
		"numbered_list_item": map[string]any{
			"rich_text": []any{richText(text)},
		},
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
