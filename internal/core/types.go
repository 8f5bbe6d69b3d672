package core

import (
	"context"
	"errors"
)

var (
	// ErrInvalidTrackReference is returned for input that is neither a track URI nor a track URL
	ErrInvalidTrackReference = errors.New("invalid Spotify track URI or URL format")
	// ErrBrowserLaunch is returned when a browser session cannot be started
	ErrBrowserLaunch = errors.New("browser launch failed")
	// ErrNavigationTimeout is returned when the page does not load within the navigation timeout
	ErrNavigationTimeout = errors.New("navigation timed out")
	// ErrEvaluation is returned when the in-page script fails
	ErrEvaluation = errors.New("page evaluation failed")
	// ErrBusy is returned when no browser slot frees up in time
	ErrBusy = errors.New("all browser sessions are busy")
	// ErrMissingCredentials is returned when Spotify client credentials are unset
	ErrMissingCredentials = errors.New("spotify client credentials are not configured")
)

// RawPlayCountCandidate is a play-count shaped text fragment scraped from the page.
type RawPlayCountCandidate struct {
	Count        string `json:"count"`
	SourceMarkup string `json:"element"`
}

// PopularTrackRow is a sibling entry from a "popular tracks" style listing.
type PopularTrackRow struct {
	Name  string `json:"name"`
	Count string `json:"count"`
}

// ExtractionResult is the unreconciled output of one page scan.
type ExtractionResult struct {
	TrackName     *string                 `json:"trackName"`
	PlayCounts    []RawPlayCountCandidate `json:"playCounts"`
	PopularTracks []PopularTrackRow       `json:"popularTracks"`
}

// Confidence describes which evidence a reconciled play count came from.
type Confidence string

const (
	// ConfidencePrimary means the count came from a dedicated play-count element
	ConfidencePrimary Confidence = "primary"
	// ConfidenceMatched means the count came from a popular-track row matching the track name
	ConfidenceMatched Confidence = "matched"
	// ConfidenceFallback means the count is the first popular-track row, unmatched
	ConfidenceFallback Confidence = "fallback"
)

// PlayCount is the reconciled play count. The zero value means not found.
type PlayCount struct {
	Found      bool
	Count      int64
	Confidence Confidence
	Source     string // the raw text the count was parsed from
}

// NotFound is the empty reconciliation result.
var NotFound = PlayCount{}

// ReconciledCount is the JSON view of a found PlayCount.
type ReconciledCount struct {
	Count      int64      `json:"count"`
	Confidence Confidence `json:"confidence"`
	Source     string     `json:"source"`
}

// View returns the JSON view of the play count, or nil when nothing was found.
func (pc PlayCount) View() *ReconciledCount {
	if !pc.Found {
		return nil
	}
	return &ReconciledCount{Count: pc.Count, Confidence: pc.Confidence, Source: pc.Source}
}

// RevenueEstimate is derived from a play count and never persisted.
type RevenueEstimate struct {
	PerStream float64  `json:"perStream"`
	Total     *float64 `json:"total"`
	Currency  string   `json:"currency"`
}

// PlayCountReport is the response of a play-count lookup.
type PlayCountReport struct {
	ExtractionResult
	PlayCount *ReconciledCount `json:"playCount"`
	Revenue   RevenueEstimate  `json:"revenue"`
}

type Image struct {
	URL    string `json:"url"`
	Height int    `json:"height"`
	Width  int    `json:"width"`
}

type Artist struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
	URI  string `json:"uri"`
}

type Album struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	AlbumType   string   `json:"album_type"`
	Artists     []Artist `json:"artists"`
	Images      []Image  `json:"images"`
	ReleaseDate string   `json:"release_date"`
	URI         string   `json:"uri"`
}

// TrackMetadata is the display-quality track description from the Web API.
type TrackMetadata struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Album      Album    `json:"album"`
	Artists    []Artist `json:"artists"`
	DurationMs int      `json:"duration_ms"`
	Explicit   bool     `json:"explicit"`
	Popularity int      `json:"popularity"`
	URI        string   `json:"uri"`
}

// PageExtractor scans the web player page of a track.
type PageExtractor interface {
	Extract(ctx context.Context, trackID string) (*ExtractionResult, error)
}

// PlayCountService runs the full scrape, reconcile and estimate pipeline.
type PlayCountService interface {
	Lookup(ctx context.Context, trackID string) (*PlayCountReport, error)
}

// MetadataFetcher retrieves structured track metadata.
type MetadataFetcher interface {
	GetTrack(ctx context.Context, trackID string) (*TrackMetadata, error)
}

// TokenIssuer performs the client-credentials exchange.
type TokenIssuer interface {
	AccessToken(ctx context.Context) (string, error)
}
