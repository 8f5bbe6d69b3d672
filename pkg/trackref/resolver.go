// Package trackref resolves user-supplied Spotify track references into track IDs.
package trackref

import (
	"regexp"
	"strings"

	"streamrev/internal/core"
)

const (
	// URIPrefix is the leading part of a track URI
	URIPrefix = "spotify:track:"
	// WebURLPrefix is the leading part of a web player track URL
	WebURLPrefix = "https://open.spotify.com/track/"
)

var (
	// Both shapes are anchored at the start; the ID ends at '?' or end of input.
	// Nothing after the '?' is inspected.
	trackURIRegex = regexp.MustCompile(`^spotify:track:([a-zA-Z0-9]+)(?:\?|$)`)
	trackURLRegex = regexp.MustCompile(`^https://open\.spotify\.com/track/([a-zA-Z0-9]+)(?:\?|$)`)
	trackIDRegex  = regexp.MustCompile(`^[a-zA-Z0-9]+$`)
)

// Resolve returns the track ID of a track URI or web URL.
// Query parameters such as share tokens are discarded. The input is matched
// as given: no trimming, no Unicode folding.
func Resolve(input string) (string, error) {
	var matches []string
	switch {
	case strings.HasPrefix(input, URIPrefix):
		matches = trackURIRegex.FindStringSubmatch(input)
	case strings.HasPrefix(input, WebURLPrefix):
		matches = trackURLRegex.FindStringSubmatch(input)
	}

	if len(matches) < 2 {
		return "", core.ErrInvalidTrackReference
	}

	return matches[1], nil
}

// ValidID reports whether id is an already-resolved track ID.
func ValidID(id string) bool {
	return trackIDRegex.MatchString(id)
}

// WebURL returns the web player page of a track.
func WebURL(id string) string {
	return WebURLPrefix + id
}

// URI returns the URI form of a track reference.
func URI(id string) string {
	return URIPrefix + id
}
