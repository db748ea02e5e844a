package services

import (
	"net/url"
	"regexp"
	"strings"
)

// youtubeIDPattern matches an 11-character YouTube video identifier.
var youtubeIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

// SourceKey canonicalizes a source URL into the dedup match key. Two
// superficially different URLs that carry the same natural identifier
// (e.g. a YouTube video id) map to the same key; anything else matches
// verbatim on the normalized URL. The function is pure.
func SourceKey(rawURL string) string {
	if rawURL == "" {
		return ""
	}
	if id := youtubeVideoID(rawURL); id != "" {
		return "youtube:" + id
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	// Verbatim fallback, modulo scheme and trailing slash noise.
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	s := u.String()
	return strings.TrimSuffix(s, "/")
}

// youtubeVideoID extracts the video id from any recognized YouTube URL
// form, or returns "".
func youtubeVideoID(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	switch host {
	case "youtu.be":
		id := strings.Trim(strings.SplitN(strings.TrimPrefix(u.Path, "/"), "/", 2)[0], "/")
		if youtubeIDPattern.MatchString(id) {
			return id
		}
	case "youtube.com", "m.youtube.com", "music.youtube.com":
		if id := u.Query().Get("v"); youtubeIDPattern.MatchString(id) {
			return id
		}
		for _, prefix := range []string{"/shorts/", "/embed/", "/live/", "/v/"} {
			if strings.HasPrefix(u.Path, prefix) {
				id := strings.SplitN(strings.TrimPrefix(u.Path, prefix), "/", 2)[0]
				if youtubeIDPattern.MatchString(id) {
					return id
				}
			}
		}
	}
	return ""
}
