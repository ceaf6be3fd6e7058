package ytdlp

import (
	"context"
	"errors"
	"strings"
)

// FailureReason categorizes a download failure so the pipeline can
// report something more useful than the raw stderr dump.
type FailureReason string

const (
	ReasonAuthRequired      FailureReason = "auth_required"
	ReasonNotFound          FailureReason = "not_found"
	ReasonTimeout           FailureReason = "timeout"
	ReasonFormatUnavailable FailureReason = "format_unavailable"
	ReasonUnknown           FailureReason = "unknown"
)

// Classify inspects a download error and the captured stderr and maps
// them onto a FailureReason. The stderr patterns follow yt-dlp's
// extractor error messages; they are matched case-insensitively.
func Classify(err error, stderr string) FailureReason {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ReasonTimeout
	}

	var ee *ExecError
	if errors.As(err, &ee) {
		if stderr == "" {
			stderr = ee.Stderr
		}
		if errors.Is(ee.Cause, context.DeadlineExceeded) {
			return ReasonTimeout
		}
	}

	s := strings.ToLower(stderr)
	switch {
	case strings.Contains(s, "login required") ||
		strings.Contains(s, "sign in") ||
		strings.Contains(s, "private video") ||
		strings.Contains(s, "members-only") ||
		strings.Contains(s, "age-restricted") ||
		strings.Contains(s, "authentication"):
		return ReasonAuthRequired
	case strings.Contains(s, "video unavailable") ||
		strings.Contains(s, "404") ||
		strings.Contains(s, "not found") ||
		strings.Contains(s, "removed") ||
		strings.Contains(s, "does not exist"):
		return ReasonNotFound
	case strings.Contains(s, "timed out") ||
		strings.Contains(s, "timeout"):
		return ReasonTimeout
	case strings.Contains(s, "requested format is not available") ||
		strings.Contains(s, "no video formats"):
		return ReasonFormatUnavailable
	default:
		return ReasonUnknown
	}
}
