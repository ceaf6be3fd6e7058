// Package synthesize implements the content synthesis stage: asking a
// language model for titles, a summary and tags for the acquired video,
// validating the response shape, and substituting deterministic
// fallback content whenever the model is unavailable or misbehaves.
// The stage never fails the task.
package synthesize

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"thirdcoast.systems/intake/internal/task"
)

const (
	requestTimeout = 60 * time.Second

	maxTitles   = 5
	maxTitleLen = 30
	maxTags     = 10
	maxSummary  = 2000
)

// chatClient is the slice of the OpenAI client the stage depends on.
type chatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Stage runs content synthesis for one task.
type Stage struct {
	client      chatClient
	Model       string
	MaxTokens   int
	Temperature float64
}

// New builds a Stage. An empty API key yields a stage that always
// produces fallback content.
func New(apiKey, model string, maxTokens int, temperature float64) *Stage {
	s := &Stage{
		Model:       model,
		MaxTokens:   maxTokens,
		Temperature: temperature,
	}
	if apiKey != "" {
		s.client = openai.NewClient(apiKey)
	}
	return s
}

// NewWithClient is used by tests to inject a fake completion client.
func NewWithClient(c chatClient, model string) *Stage {
	return &Stage{client: c, Model: model, MaxTokens: 1000, Temperature: 0.7}
}

// content is the JSON shape requested from the model.
type content struct {
	Titles         []string `json:"titles"`
	Summary        string   `json:"summary"`
	Tags           []string `json:"tags"`
	Classification string   `json:"classification"`
	Audience       string   `json:"audience"`
	Keywords       []string `json:"keywords"`
}

// Run produces descriptive content for the task. It never returns an
// error: every failure path lands on the deterministic fallback, with
// FallbackUsed set.
func (s *Stage) Run(ctx context.Context, in task.Input, md task.Metadata) *task.Synthesis {
	if s.client == nil {
		slog.Warn("Language model not configured, using fallback content")
		return fallback(in)
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       s.Model,
		MaxTokens:   s.MaxTokens,
		Temperature: float32(s.Temperature),
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: systemPrompt,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: userPrompt(in, md),
			},
		},
	})
	if err != nil {
		slog.Warn("Language model request failed, using fallback content", "error", err)
		return fallback(in)
	}
	if len(resp.Choices) == 0 {
		slog.Warn("Language model returned no choices, using fallback content")
		return fallback(in)
	}

	raw := stripFences(resp.Choices[0].Message.Content)
	var c content
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		slog.Warn("Unparseable model response, using fallback content", "error", err)
		return fallback(in)
	}

	syn, err := validate(c)
	if err != nil {
		slog.Warn("Model response failed validation, using fallback content", "error", err)
		return fallback(in)
	}

	slog.Info("Content synthesis complete", "titles", len(syn.Titles), "tags", len(syn.Tags))
	return syn
}

const systemPrompt = `You are a social media content strategist. Given a short-form ` +
	`video's metadata, produce JSON with keys: "titles" (up to 5 catchy titles, ` +
	`each 30 characters or fewer), "summary" (1-3 sentences), "tags" (up to 10 ` +
	`hashtags), "classification" (one of: product, lifestyle, educational, ` +
	`entertainment, other), "audience" (one short phrase), "keywords" (up to 8 ` +
	`search keywords). Respond with JSON only.`

func userPrompt(in task.Input, md task.Metadata) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task name: %s\n", in.TaskName)
	if md.Title != "" && md.Title != in.TaskName {
		fmt.Fprintf(&b, "Original title: %s\n", md.Title)
	}
	if md.Uploader != "" {
		fmt.Fprintf(&b, "Creator: %s\n", md.Uploader)
	}
	if md.Duration > 0 {
		fmt.Fprintf(&b, "Duration: %.0f seconds\n", md.Duration)
	}
	if md.Description != "" {
		desc := md.Description
		if len(desc) > 500 {
			desc = desc[:500]
		}
		fmt.Fprintf(&b, "Description: %s\n", desc)
	}
	if in.Notes != "" {
		fmt.Fprintf(&b, "Producer notes: %s\n", in.Notes)
	}
	return b.String()
}

// stripFences removes a markdown code fence wrapper, which some models
// emit even in JSON mode.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// validate enforces the content contract and normalizes tags.
func validate(c content) (*task.Synthesis, error) {
	if len(c.Titles) == 0 {
		return nil, fmt.Errorf("no titles")
	}
	if len(c.Titles) > maxTitles {
		c.Titles = c.Titles[:maxTitles]
	}
	for _, t := range c.Titles {
		if strings.TrimSpace(t) == "" {
			return nil, fmt.Errorf("empty title")
		}
		if len([]rune(t)) > maxTitleLen {
			return nil, fmt.Errorf("title %q exceeds %d characters", t, maxTitleLen)
		}
	}

	if strings.TrimSpace(c.Summary) == "" {
		return nil, fmt.Errorf("missing summary")
	}
	if len(c.Summary) > maxSummary {
		c.Summary = c.Summary[:maxSummary]
	}

	tags := make([]string, 0, len(c.Tags))
	for _, tag := range c.Tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		if !strings.HasPrefix(tag, "#") {
			tag = "#" + tag
		}
		tags = append(tags, tag)
		if len(tags) == maxTags {
			break
		}
	}
	if len(tags) == 0 {
		return nil, fmt.Errorf("no tags")
	}

	return &task.Synthesis{
		Titles:         c.Titles,
		Summary:        c.Summary,
		Tags:           tags,
		Classification: c.Classification,
		Audience:       c.Audience,
		Keywords:       c.Keywords,
	}, nil
}

// fallback builds deterministic content from the task name. It always
// satisfies the same contract validate enforces.
func fallback(in task.Input) *task.Synthesis {
	name := strings.TrimSpace(in.TaskName)
	if name == "" {
		name = "New Video"
	}
	short := name
	if len([]rune(short)) > maxTitleLen-8 {
		short = string([]rune(short)[:maxTitleLen-8])
	}

	return &task.Synthesis{
		Titles: []string{
			truncateTitle(name),
			truncateTitle("Watch: " + short),
			truncateTitle(short + " clip"),
		},
		Summary: fmt.Sprintf("Short-form video for %q. Automated description was "+
			"unavailable; review and edit before publishing.", name),
		Tags:           []string{"#video", "#shorts", "#content", "#media", "#clip"},
		Classification: "other",
		Audience:       "general",
		Keywords:       []string{name, "video", "short"},
		FallbackUsed:   true,
	}
}

func truncateTitle(s string) string {
	r := []rune(s)
	if len(r) <= maxTitleLen {
		return s
	}
	return string(r[:maxTitleLen])
}
