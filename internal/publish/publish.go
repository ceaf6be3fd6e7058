// Package publish implements the artifact publication stage: uploading
// acquired media, thumbnail and a metadata sidecar to R2 (or any
// S3-compatible store) and deriving public URLs. Publication never
// fails the task; every failure degrades to the original source URL.
package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/dustin/go-humanize"

	"thirdcoast.systems/intake/internal/sourceurl"
	"thirdcoast.systems/intake/internal/task"
	"thirdcoast.systems/intake/pkg/ytdlp"
)

// State tags the publisher's readiness. An Unconfigured or Failed
// publisher still serves Publish calls; it just degrades every artifact
// to the source URL.
type State int

const (
	Unconfigured State = iota
	Ready
	Failed
)

func (s State) String() string {
	switch s {
	case Unconfigured:
		return "unconfigured"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// objectPutter is the slice of the S3 client Publish depends on.
type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Options configures a Publisher.
type Options struct {
	AccountID    string
	AccessKey    string
	SecretKey    string
	Bucket       string
	CustomDomain string
}

// Publisher uploads task artifacts to object storage.
type Publisher struct {
	state        State
	stateReason  string
	client       objectPutter
	bucket       string
	accountID    string
	customDomain string
}

// New builds a Publisher. Missing credentials yield an Unconfigured
// publisher; client construction errors yield a Failed one. Neither is
// an error to the caller.
func New(ctx context.Context, opts Options) *Publisher {
	p := &Publisher{
		bucket:       opts.Bucket,
		accountID:    opts.AccountID,
		customDomain: opts.CustomDomain,
	}

	if opts.AccountID == "" || opts.AccessKey == "" || opts.SecretKey == "" {
		p.state = Unconfigured
		slog.Warn("Object storage not configured, publication will degrade to source URLs")
		return p
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion("auto"),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			opts.AccessKey,
			opts.SecretKey,
			"",
		)),
	)
	if err != nil {
		p.state = Failed
		p.stateReason = err.Error()
		slog.Error("Object storage client setup failed", "error", err)
		return p
	}

	endpoint := fmt.Sprintf("https://%s.r2.cloudflarestorage.com", opts.AccountID)
	p.client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = true
	})
	p.state = Ready
	return p
}

// State returns the publisher's readiness.
func (p *Publisher) State() State {
	return p.state
}

// Publish uploads the acquisition's artifacts and returns their public
// URLs. It never returns an error: an unusable store or a failed upload
// degrades the affected artifact to the source URL (media) or drops it
// (thumbnail, metadata), with the degradation logged.
func (p *Publisher) Publish(ctx context.Context, rec *task.Record) *task.Publication {
	pub := &task.Publication{MediaURL: rec.Input.SourceURL}
	acq := rec.Acquisition
	if acq == nil || acq.MediaPath == "" {
		return pub
	}

	if p.state != Ready {
		slog.Warn("Skipping upload, storage unavailable",
			"state", p.state.String(), "reason", p.stateReason)
		return pub
	}

	prefix := p.keyPrefix(rec)
	pub.StorageKey = prefix

	mediaKey := path.Join(prefix, "video"+strings.ToLower(filepath.Ext(acq.MediaPath)))
	if err := p.uploadFile(ctx, acq.MediaPath, mediaKey); err != nil {
		slog.Warn("Media upload failed, keeping source URL", "key", mediaKey, "error", err)
	} else {
		pub.MediaURL = p.publicURL(mediaKey)
		pub.Uploaded = true
	}

	if acq.ThumbnailPath != "" {
		thumbKey := path.Join(prefix, "thumbnail"+strings.ToLower(filepath.Ext(acq.ThumbnailPath)))
		if err := p.uploadFile(ctx, acq.ThumbnailPath, thumbKey); err != nil {
			slog.Warn("Thumbnail upload failed", "key", thumbKey, "error", err)
		} else {
			pub.ThumbnailURL = p.publicURL(thumbKey)
		}
	}

	metaKey := path.Join(prefix, "metadata.json")
	if data, err := p.metadataSidecar(rec); err != nil {
		slog.Warn("Metadata sidecar build failed", "error", err)
	} else if err := p.uploadBytes(ctx, data, metaKey, "application/json"); err != nil {
		slog.Warn("Metadata upload failed", "key", metaKey, "error", err)
	}

	slog.Info("Publication finished",
		"uploaded", pub.Uploaded,
		"media_url", pub.MediaURL,
		"thumbnail", pub.ThumbnailURL != "")
	return pub
}

// keyPrefix partitions objects by shoot date, then by task.
func (p *Publisher) keyPrefix(rec *task.Record) string {
	date := rec.Input.ShootDate
	if date == "" {
		date = rec.StartedAt.Format("2006-01-02")
	}
	name := ytdlp.SanitizeFilename(rec.Input.TaskName)
	return path.Join("videos", date, name+"_"+rec.TaskID)
}

func (p *Publisher) uploadFile(ctx context.Context, localPath, key string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()

	_, err = p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:       aws.String(p.bucket),
		Key:          aws.String(key),
		Body:         f,
		ContentType:  aws.String(contentTypeFor(localPath)),
		CacheControl: aws.String("public, max-age=31536000"),
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

func (p *Publisher) uploadBytes(ctx context.Context, data []byte, key, contentType string) error {
	_, err := p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:       aws.String(p.bucket),
		Key:          aws.String(key),
		Body:         bytes.NewReader(data),
		ContentType:  aws.String(contentType),
		CacheControl: aws.String("public, max-age=31536000"),
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// publicURL prefers the custom domain when configured.
func (p *Publisher) publicURL(key string) string {
	if p.customDomain != "" {
		return fmt.Sprintf("https://%s/%s", p.customDomain, key)
	}
	return fmt.Sprintf("https://%s.%s.r2.cloudflarestorage.com/%s", p.bucket, p.accountID, key)
}

// metadataSidecar assembles the metadata.json uploaded next to the
// media, including a deterministic per-video UUID for cross-referencing.
func (p *Publisher) metadataSidecar(rec *task.Record) ([]byte, error) {
	acq := rec.Acquisition

	videoUUID := ""
	if normalized, domain, err := sourceurl.Normalize(rec.Input.SourceURL); err == nil && domain != "" {
		videoUUID = sourceurl.VideoUUID(domain, normalized).String()
	}

	sidecar := map[string]any{
		"task_id":      rec.TaskID,
		"task_name":    rec.Input.TaskName,
		"source_url":   rec.Input.SourceURL,
		"assignee":     rec.Input.Assignee,
		"videographer": rec.Input.Videographer,
		"shoot_date":   rec.Input.ShootDate,
		"notes":        rec.Input.Notes,
		"uploaded_at":  time.Now().UTC().Format(time.RFC3339),
		"video_uuid":   videoUUID,
		"placeholder":  acq.PlaceholderUsed,
		"media_size":   humanize.Bytes(uint64(acq.MediaSize)),
		"video_info": map[string]any{
			"title":     acq.Metadata.Title,
			"uploader":  acq.Metadata.Uploader,
			"extractor": acq.Metadata.Extractor,
			"duration":  acq.Metadata.Duration,
		},
	}
	return json.MarshalIndent(sidecar, "", "  ")
}

func contentTypeFor(p string) string {
	switch strings.ToLower(filepath.Ext(p)) {
	case ".mp4":
		return "video/mp4"
	case ".webm":
		return "video/webm"
	case ".mkv":
		return "video/x-matroska"
	case ".mov":
		return "video/quicktime"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	case ".json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}
