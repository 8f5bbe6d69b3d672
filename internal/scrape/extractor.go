// Package scrape extracts raw play-count evidence from the web player page of a track.
package scrape

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"streamrev/internal/browser"
	"streamrev/internal/core"
	"streamrev/pkg/trackref"
)

const (
	bodySelector   = "body"
	titleSeparator = " - "

	snapshotScript = `({title: document.title, html: document.documentElement.outerHTML})`
)

var countRegex = regexp.MustCompile(`^[0-9,]+$`)

type snapshot struct {
	Title string `json:"title"`
	HTML  string `json:"html"`
}

// Extractor drives one browser session per call and scans the rendered page.
type Extractor struct {
	launcher browser.Launcher
	config   *core.ScrapeConfig
	logger   *zap.Logger
}

func NewExtractor(launcher browser.Launcher, config *core.ScrapeConfig, logger *zap.Logger) *Extractor {
	return &Extractor{
		launcher: launcher,
		config:   config,
		logger:   logger,
	}
}

// Extract navigates to the track page and returns the unreconciled scan.
// A page without any play-count evidence is a valid, empty result.
func (e *Extractor) Extract(ctx context.Context, trackID string) (*core.ExtractionResult, error) {
	url := trackref.WebURL(trackID)
	var snap snapshot

	err := browser.Use(ctx, e.launcher, func(session browser.Session) error {
		e.logger.Debug("Navigating", zap.String("url", url))
		if err := session.Navigate(url); err != nil {
			return err
		}
		if err := session.WaitVisible(bodySelector); err != nil {
			return err
		}

		// Client-side rendering can still be painting after the network goes quiet.
		// Waiting for the markers narrows that race but cannot close it.
		markers := []string{e.config.PlayCountSelector, e.config.TrackRowSelector}
		settled, err := session.WaitAny(markers, e.config.SettleTimeout)
		if err != nil {
			return err
		}
		if !settled {
			e.logger.Debug("No play-count markers rendered within settle timeout",
				zap.String("trackID", trackID),
				zap.Duration("settleTimeout", e.config.SettleTimeout))
		}

		return session.Evaluate(snapshotScript, &snap)
	})
	if err != nil {
		return nil, err
	}

	result, err := Scan(snap.Title, snap.HTML, e.config)
	if err != nil {
		return nil, err
	}

	e.logger.Debug("Page scanned",
		zap.String("trackID", trackID),
		zap.Int("playCounts", len(result.PlayCounts)),
		zap.Int("popularTracks", len(result.PopularTracks)))
	return result, nil
}

// Scan runs the play-count scan over a rendered document.
func Scan(title, html string, config *core.ScrapeConfig) (*core.ExtractionResult, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrEvaluation, err)
	}

	result := &core.ExtractionResult{
		TrackName:     TrackNameFromTitle(title),
		PlayCounts:    []core.RawPlayCountCandidate{},
		PopularTracks: []core.PopularTrackRow{},
	}

	doc.Find(config.PlayCountSelector).Each(func(_ int, s *goquery.Selection) {
		count := strings.TrimSpace(s.Text())
		if !countRegex.MatchString(count) {
			return
		}
		markup, err := goquery.OuterHtml(s)
		if err != nil {
			return
		}
		result.PlayCounts = append(result.PlayCounts, core.RawPlayCountCandidate{
			Count:        count,
			SourceMarkup: markup,
		})
	})

	doc.Find(config.TrackRowSelector).Each(func(_ int, row *goquery.Selection) {
		name := row.Find(config.TrackNameSelector).First()
		countEl := row.Find(config.RowCountSelector).First()
		if name.Length() == 0 || countEl.Length() == 0 {
			return
		}

		count := strings.TrimSpace(countEl.Text())
		if !countRegex.MatchString(count) {
			return
		}
		result.PopularTracks = append(result.PopularTracks, core.PopularTrackRow{
			Name:  name.Text(),
			Count: count,
		})
	})

	return result, nil
}

// TrackNameFromTitle keeps the part of the page title before the first " - ".
func TrackNameFromTitle(title string) *string {
	name, _, _ := strings.Cut(title, titleSeparator)
	if name == "" {
		return nil
	}
	return &name
}
