// Package sourceurl validates and normalizes task source URLs and
// derives deterministic per-video identifiers from them.
package sourceurl

import (
	"errors"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// Well-known host aliases. Key: input host. Value: canonical domain.
//
// Kept intentionally conservative: only hosts that are truly the same
// source website from a user perspective are aliased.
var canonicalDomainByHost = map[string]string{
	"youtube.com":     "youtube.com",
	"www.youtube.com": "youtube.com",
	"m.youtube.com":   "youtube.com",
	"youtu.be":        "youtube.com",

	"x.com":              "x.com",
	"www.x.com":          "x.com",
	"twitter.com":        "x.com",
	"www.twitter.com":    "x.com",
	"mobile.twitter.com": "x.com",

	"instagram.com":     "instagram.com",
	"www.instagram.com": "instagram.com",

	"tiktok.com":     "tiktok.com",
	"www.tiktok.com": "tiktok.com",
	"vm.tiktok.com":  "tiktok.com",
}

// Validate checks that raw is a well-formed absolute http(s) URL with a
// host. This is the Controller's input gate before any side effect.
func Validate(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return errors.New("missing source url")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.New("source url must use http or https")
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("source url has no host")
	}
	return nil
}

// ResolveCanonicalDomain returns the canonical domain for host.
//
// host should be a hostname without port.
func ResolveCanonicalDomain(host string) string {
	h := normalizeHost(host)
	if h == "" {
		return ""
	}
	if c, ok := canonicalDomainByHost[h]; ok {
		return c
	}
	return h
}

// NamespaceUUIDForDomain returns a deterministic UUIDv5 namespace for a domain.
func NamespaceUUIDForDomain(domain string) uuid.UUID {
	d := strings.TrimSpace(strings.ToLower(domain))
	d = strings.TrimSuffix(d, ".")
	return uuid.NewSHA1(uuid.NameSpaceDNS, []byte(d))
}

// VideoUUID returns a deterministic UUIDv5 for a (domain, videoID) pair.
//
// The name string is exactly "{videoID}"; the domain is already scoped
// by the namespace.
func VideoUUID(domain string, videoID string) uuid.UUID {
	d := strings.TrimSpace(strings.ToLower(domain))
	d = strings.TrimSuffix(d, ".")
	v := strings.TrimSpace(videoID)

	ns := NamespaceUUIDForDomain(d)
	return uuid.NewSHA1(ns, []byte(v))
}

// Normalize canonicalizes a source URL for stable storage metadata:
// host aliasing (twitter.com -> x.com), fragment and userinfo removal,
// https preference. For YouTube it rewrites to the watch?v= form.
// Returns the normalized URL and the canonical domain.
func Normalize(raw string) (string, string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", "", errors.New("missing url")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", "", err
	}
	if u.Scheme == "" {
		u, err = url.Parse("https://" + raw)
		if err != nil {
			return "", "", err
		}
	}

	// Remove fragment for stability.
	u.Fragment = ""
	// Drop userinfo.
	u.User = nil

	origHost := normalizeHost(u.Host)
	canon := ResolveCanonicalDomain(origHost)

	// YouTube shortlinks carry the video id in the path, so extract it
	// before the host rewrite.
	youtubeID := ""
	if canon == "youtube.com" {
		if id := extractYouTubeVideoID(u); id != "" {
			youtubeID = id
		}
	}

	if canon != "" {
		u.Host = canon
	}
	if u.Scheme == "http" || u.Scheme == "https" {
		u.Scheme = "https"
	}

	switch canon {
	case "youtube.com":
		if youtubeID != "" {
			u.Path = "/watch"
			u.RawQuery = "v=" + url.QueryEscape(youtubeID)
		}
	case "x.com", "tiktok.com", "instagram.com":
		u.RawQuery = ""
	}

	return u.String(), canon, nil
}

func normalizeHost(hostport string) string {
	h := strings.TrimSpace(strings.ToLower(hostport))
	if h == "" {
		return ""
	}
	// url.URL.Host may include port.
	if strings.Contains(h, ":") {
		if parsed, err := url.Parse("//" + h); err == nil {
			if parsed.Hostname() != "" {
				h = parsed.Hostname()
			}
		}
	}
	h = strings.TrimSuffix(h, ".")
	return h
}

func extractYouTubeVideoID(u *url.URL) string {
	host := normalizeHost(u.Host)

	if host == "youtu.be" {
		return firstPathSegment(u.Path)
	}

	if q := u.Query().Get("v"); q != "" {
		return q
	}
	for _, prefix := range []string{"/embed/", "/v/", "/shorts/", "/live/"} {
		if strings.HasPrefix(u.Path, prefix) {
			if id := firstPathSegment(strings.TrimPrefix(u.Path, prefix)); id != "" {
				return id
			}
		}
	}
	return ""
}

func firstPathSegment(p string) string {
	p = strings.TrimPrefix(strings.TrimSpace(p), "/")
	if p == "" {
		return ""
	}
	seg, _, _ := strings.Cut(p, "/")
	return strings.TrimSpace(seg)
}
