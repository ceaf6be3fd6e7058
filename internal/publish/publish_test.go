package publish

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/require"

	"thirdcoast.systems/intake/internal/task"
)

type putCall struct {
	key         string
	contentType string
	body        []byte
}

type fakePutter struct {
	calls   []putCall
	failKey string
}

func (f *fakePutter) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.failKey != "" && strings.Contains(*in.Key, f.failKey) {
		return nil, errors.New("upload refused")
	}
	body, _ := io.ReadAll(in.Body)
	ct := ""
	if in.ContentType != nil {
		ct = *in.ContentType
	}
	f.calls = append(f.calls, putCall{key: *in.Key, contentType: ct, body: body})
	return &s3.PutObjectOutput{}, nil
}

func testRecord(t *testing.T) *task.Record {
	t.Helper()
	dir := t.TempDir()
	media := filepath.Join(dir, "clip.mp4")
	thumb := filepath.Join(dir, "clip.jpg")
	require.NoError(t, os.WriteFile(media, []byte("media"), 0o644))
	require.NoError(t, os.WriteFile(thumb, []byte("thumb"), 0o644))

	rec := task.NewRecord("abc123def456", task.Input{
		SourceURL: "https://youtu.be/dQw4w9WgXcQ",
		TaskName:  "Launch Teaser",
		ShootDate: "2026-08-20",
		Assignee:  "dana",
	}, time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC))
	rec.Acquisition = &task.Acquisition{
		MediaPath:     media,
		ThumbnailPath: thumb,
		MediaSize:     5,
		Metadata:      task.Metadata{Title: "Launch Teaser", Duration: 30},
	}
	return rec
}

func readyPublisher(f *fakePutter, domain string) *Publisher {
	return &Publisher{
		state:        Ready,
		client:       f,
		bucket:       "video-automation",
		accountID:    "acct",
		customDomain: domain,
	}
}

func TestPublish_UploadsAllArtifacts(t *testing.T) {
	f := &fakePutter{}
	p := readyPublisher(f, "")
	rec := testRecord(t)

	pub := p.Publish(context.Background(), rec)
	require.True(t, pub.Uploaded)
	require.Len(t, f.calls, 3)

	prefix := "videos/2026-08-20/Launch_Teaser_abc123def456"
	require.Equal(t, prefix+"/video.mp4", f.calls[0].key)
	require.Equal(t, "video/mp4", f.calls[0].contentType)
	require.Equal(t, prefix+"/thumbnail.jpg", f.calls[1].key)
	require.Equal(t, prefix+"/metadata.json", f.calls[2].key)

	require.Equal(t, "https://video-automation.acct.r2.cloudflarestorage.com/"+prefix+"/video.mp4", pub.MediaURL)
	require.Contains(t, pub.ThumbnailURL, "/thumbnail.jpg")
	require.Equal(t, prefix, pub.StorageKey)

	var sidecar map[string]any
	require.NoError(t, json.Unmarshal(f.calls[2].body, &sidecar))
	require.Equal(t, "abc123def456", sidecar["task_id"])
	require.NotEmpty(t, sidecar["video_uuid"])
	require.Equal(t, "dana", sidecar["assignee"])
}

func TestPublish_CustomDomainURL(t *testing.T) {
	f := &fakePutter{}
	p := readyPublisher(f, "cdn.example.com")
	rec := testRecord(t)

	pub := p.Publish(context.Background(), rec)
	require.True(t, strings.HasPrefix(pub.MediaURL, "https://cdn.example.com/videos/"))
}

func TestPublish_UnconfiguredDegradesToSourceURL(t *testing.T) {
	p := New(context.Background(), Options{Bucket: "b"})
	require.Equal(t, Unconfigured, p.State())

	rec := testRecord(t)
	pub := p.Publish(context.Background(), rec)
	require.False(t, pub.Uploaded)
	require.Equal(t, rec.Input.SourceURL, pub.MediaURL)
	require.Empty(t, pub.ThumbnailURL)
}

func TestPublish_MediaFailureKeepsSourceURL(t *testing.T) {
	f := &fakePutter{failKey: "video.mp4"}
	p := readyPublisher(f, "")
	rec := testRecord(t)

	pub := p.Publish(context.Background(), rec)
	require.False(t, pub.Uploaded)
	require.Equal(t, rec.Input.SourceURL, pub.MediaURL)
	// Other artifacts still go up.
	require.Contains(t, pub.ThumbnailURL, "/thumbnail.jpg")
}

func TestPublish_ThumbnailFailureIsIsolated(t *testing.T) {
	f := &fakePutter{failKey: "thumbnail"}
	p := readyPublisher(f, "")
	rec := testRecord(t)

	pub := p.Publish(context.Background(), rec)
	require.True(t, pub.Uploaded)
	require.Empty(t, pub.ThumbnailURL)
}

func TestPublish_NoAcquisition(t *testing.T) {
	f := &fakePutter{}
	p := readyPublisher(f, "")
	rec := task.NewRecord("id", task.Input{SourceURL: "https://example.com/v"}, time.Now())

	pub := p.Publish(context.Background(), rec)
	require.Equal(t, "https://example.com/v", pub.MediaURL)
	require.Empty(t, f.calls)
}

func TestKeyPrefix_FallsBackToRunDate(t *testing.T) {
	p := readyPublisher(&fakePutter{}, "")
	rec := task.NewRecord("tid", task.Input{TaskName: "x"}, time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC))
	require.Equal(t, "videos/2026-01-02/x_tid", p.keyPrefix(rec))
}
