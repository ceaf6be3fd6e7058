package synthesize

import (
	"context"
	"errors"
	"strings"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/require"

	"thirdcoast.systems/intake/internal/task"
)

type fakeChat struct {
	content string
	err     error
	gotReq  openai.ChatCompletionRequest
}

func (f *fakeChat) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.gotReq = req
	if f.err != nil {
		return openai.ChatCompletionResponse{}, f.err
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: f.content}},
		},
	}, nil
}

const goodJSON = `{
	"titles": ["Big Launch Day", "Behind the Scenes"],
	"summary": "A quick look at the product launch.",
	"tags": ["#launch", "product"],
	"classification": "product",
	"audience": "tech enthusiasts",
	"keywords": ["launch", "demo"]
}`

func TestRun_UsesModelContent(t *testing.T) {
	f := &fakeChat{content: goodJSON}
	s := NewWithClient(f, "gpt-4-turbo-preview")

	syn := s.Run(context.Background(), task.Input{TaskName: "Launch"}, task.Metadata{Title: "orig"})
	require.False(t, syn.FallbackUsed)
	require.Equal(t, []string{"Big Launch Day", "Behind the Scenes"}, syn.Titles)
	require.Equal(t, []string{"#launch", "#product"}, syn.Tags)
	require.Equal(t, "product", syn.Classification)

	require.Equal(t, "gpt-4-turbo-preview", f.gotReq.Model)
	require.NotNil(t, f.gotReq.ResponseFormat)
	require.Equal(t, openai.ChatCompletionResponseFormatTypeJSONObject, f.gotReq.ResponseFormat.Type)
}

func TestRun_StripsMarkdownFences(t *testing.T) {
	f := &fakeChat{content: "```json\n" + goodJSON + "\n```"}
	s := NewWithClient(f, "m")

	syn := s.Run(context.Background(), task.Input{TaskName: "x"}, task.Metadata{})
	require.False(t, syn.FallbackUsed)
}

func TestRun_FallbackWithoutClient(t *testing.T) {
	s := New("", "m", 1000, 0.7)
	syn := s.Run(context.Background(), task.Input{TaskName: "My Launch Video"}, task.Metadata{})
	require.True(t, syn.FallbackUsed)
	require.Contains(t, syn.Titles[0], "My Launch Video")
	require.Contains(t, syn.Summary, "My Launch Video")
}

func TestRun_FallbackOnRequestError(t *testing.T) {
	f := &fakeChat{err: errors.New("rate limited")}
	s := NewWithClient(f, "m")
	syn := s.Run(context.Background(), task.Input{TaskName: "t"}, task.Metadata{})
	require.True(t, syn.FallbackUsed)
}

func TestRun_FallbackOnInvalidShape(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"not json", "sorry, here are some ideas:"},
		{"no titles", `{"titles": [], "summary": "s", "tags": ["#a"]}`},
		{"title too long", `{"titles": ["` + strings.Repeat("a", 40) + `"], "summary": "s", "tags": ["#a"]}`},
		{"no summary", `{"titles": ["ok"], "tags": ["#a"]}`},
		{"no tags", `{"titles": ["ok"], "summary": "s", "tags": []}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := &fakeChat{content: tc.content}
			s := NewWithClient(f, "m")
			syn := s.Run(context.Background(), task.Input{TaskName: "t"}, task.Metadata{})
			require.True(t, syn.FallbackUsed)
		})
	}
}

func TestRun_CapsTitlesAndTags(t *testing.T) {
	f := &fakeChat{content: `{
		"titles": ["a","b","c","d","e","f","g"],
		"summary": "s",
		"tags": ["#1","#2","#3","#4","#5","#6","#7","#8","#9","#10","#11","#12"]
	}`}
	s := NewWithClient(f, "m")
	syn := s.Run(context.Background(), task.Input{TaskName: "t"}, task.Metadata{})
	require.False(t, syn.FallbackUsed)
	require.Len(t, syn.Titles, 5)
	require.Len(t, syn.Tags, 10)
}

func TestFallback_SatisfiesContract(t *testing.T) {
	syn := fallback(task.Input{TaskName: strings.Repeat("long name ", 20)})
	require.NotEmpty(t, syn.Titles)
	require.LessOrEqual(t, len(syn.Titles), maxTitles)
	for _, title := range syn.Titles {
		require.LessOrEqual(t, len([]rune(title)), maxTitleLen)
	}
	require.NotEmpty(t, syn.Summary)
	require.LessOrEqual(t, len(syn.Summary), maxSummary)
	require.NotEmpty(t, syn.Tags)
	for _, tag := range syn.Tags {
		require.True(t, strings.HasPrefix(tag, "#"))
	}
}

func TestUserPrompt_IncludesMetadata(t *testing.T) {
	p := userPrompt(
		task.Input{TaskName: "Launch", Notes: "keep it upbeat"},
		task.Metadata{Title: "Original", Uploader: "studio", Duration: 45},
	)
	require.Contains(t, p, "Launch")
	require.Contains(t, p, "Original")
	require.Contains(t, p, "studio")
	require.Contains(t, p, "keep it upbeat")
}
