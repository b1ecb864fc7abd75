// Package challenge recognizes anti-bot interstitials served in place of
// real content.
package challenge

import (
	"encoding/json"
	"mime"
	"strings"

	"stock-analysis-fetcher/internal/store"
)

type Detector struct {
	markers []string
}

// NewDetector matches against markers, or the default catalogue when none
// are given.
func NewDetector(markers ...string) *Detector {
	if len(markers) == 0 {
		markers = store.DefaultChallengeMarkers
	}
	return &Detector{markers: append([]string(nil), markers...)}
}

// IsChallenge reports whether body contains a known marker. Only string and
// []byte bodies are inspected; anything else, such as decoded JSON, is never
// a challenge.
func (d *Detector) IsChallenge(body any) bool {
	var s string
	switch v := body.(type) {
	case string:
		s = v
	case []byte:
		s = string(v)
	default:
		return false
	}
	for _, m := range d.markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

// IsChallengeResponse runs IsChallenge only for textual responses.
func (d *Detector) IsChallengeResponse(contentType, body string) bool {
	if !IsTextual(contentType, body) {
		return false
	}
	return d.IsChallenge(body)
}

// IsTextual is true for text, HTML and XML content types. JSON and binary
// types are not textual. With no content type, a body that parses as JSON is
// not textual either.
func IsTextual(contentType, body string) bool {
	mediaType := strings.ToLower(strings.TrimSpace(contentType))
	if parsed, _, err := mime.ParseMediaType(contentType); err == nil {
		mediaType = parsed
	}

	switch {
	case mediaType == "":
		return !json.Valid([]byte(body))
	case strings.Contains(mediaType, "json"):
		return false
	case strings.HasPrefix(mediaType, "text/"),
		strings.Contains(mediaType, "html"),
		strings.Contains(mediaType, "xml"):
		return true
	default:
		return false
	}
}
