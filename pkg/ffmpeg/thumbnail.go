package ffmpeg

import (
	"context"
	"fmt"
	"time"
)

// ThumbnailOptions configures thumbnail extraction.
type ThumbnailOptions struct {
	Offset  time.Duration // Where to extract from (default: 1s)
	Quality int           // JPEG quality 1-31, lower is better (default: 2)
}

// ThumbnailArgs builds the argument list for a single-frame extraction.
// Exposed separately so tests can assert on it without running ffmpeg.
func ThumbnailArgs(input, output string, opts *ThumbnailOptions) []string {
	if opts == nil {
		opts = &ThumbnailOptions{}
	}
	if opts.Offset == 0 {
		opts.Offset = time.Second
	}
	if opts.Quality == 0 {
		opts.Quality = 2
	}

	offset := opts.Offset.Seconds()
	return []string{
		"-hide_banner", "-y",
		"-ss", fmt.Sprintf("%02d:%02d:%02d", int(offset)/3600, (int(offset)%3600)/60, int(offset)%60),
		"-i", input,
		"-vframes", "1",
		"-q:v", fmt.Sprintf("%d", opts.Quality),
		output,
	}
}

// ExtractThumbnail extracts a single frame as an image.
func ExtractThumbnail(ctx context.Context, input, output string, opts *ThumbnailOptions) error {
	return run(ctx, ThumbnailArgs(input, output, opts))
}
