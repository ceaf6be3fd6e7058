package ytdlp

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"unicode"
)

const maxFilenameLen = 100

// DefaultFormat caps downloads at 720p. Short-form sources rarely carry
// anything useful above that, and the cap keeps uploads small.
const DefaultFormat = "bestvideo[height<=720]+bestaudio/best[height<=720]"

// Download fetches the media plus sidecars into destDir:
//
//	<destDir>/<sanitized name>.mp4
//	<destDir>/<sanitized name>.info.json
//	<destDir>/<sanitized name>.<thumbnail ext>
//
// The output template uses the caller-supplied name so the acquisition
// stage can discover the files without guessing extractor ids.
func (c *Client) Download(ctx context.Context, url string, destDir string, name string, extraArgs ...string) error {
	if strings.TrimSpace(url) == "" {
		return fmt.Errorf("ytdlp: url is required")
	}
	if strings.TrimSpace(destDir) == "" {
		return fmt.Errorf("ytdlp: destDir is required")
	}

	tmpl := filepath.Join(destDir, SanitizeFilename(name)+".%(ext)s")

	args := []string{
		"-o", tmpl,
		"--format", DefaultFormat,
		"--merge-output-format", "mp4",
		"--write-info-json",
		"--write-thumbnail",
		"--no-playlist",
		"--extractor-retries", "3",
		"--no-colors",
	}
	args = append(args, extraArgs...)
	args = append(args, url)

	stdout, stderr, err := c.exec(ctx, args...)
	if err != nil {
		return wrapExecError(c.PathOrDefault(), args, stdout, stderr, err)
	}
	return nil
}

// SanitizeFilename strips characters unsafe for filesystems and object
// store keys, collapses whitespace to underscores, and caps the length.
func SanitizeFilename(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r == '/' || r == '\\' || r == ':' || r == '*' || r == '?' ||
			r == '"' || r == '<' || r == '>' || r == '|' || r == '\x00':
			// drop
		case unicode.IsSpace(r):
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}

	out := strings.Trim(b.String(), "._")
	if out == "" {
		out = "video"
	}
	if len(out) > maxFilenameLen {
		out = out[:maxFilenameLen]
	}
	return out
}
