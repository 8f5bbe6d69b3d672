// Package report renders play-count reports for terminal output.
package report

import (
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"streamrev/internal/core"
)

const (
	notAvailable = "Not available"
	fallbackNote = "(estimated from a related track)"
	labelWidth   = 19
)

// Summary renders lookups with locale-aware number formatting.
type Summary struct {
	printer *message.Printer
}

func NewSummary(tag language.Tag) *Summary {
	return &Summary{printer: message.NewPrinter(tag)}
}

// Write renders one lookup. Either argument may be nil when the corresponding lookup failed.
func (s *Summary) Write(w io.Writer, metadata *core.TrackMetadata, report *core.PlayCountReport) error {
	var b strings.Builder

	switch {
	case metadata != nil:
		b.WriteString(metadata.Name + "\n")
	case report != nil && report.TrackName != nil:
		b.WriteString(*report.TrackName + "\n")
	}

	if metadata != nil {
		s.line(&b, "Artists", artistNames(metadata.Artists))
		s.line(&b, "Album", metadata.Album.Name)
		s.line(&b, "Release Date", metadata.Album.ReleaseDate)
		s.line(&b, "Duration", FormatDuration(metadata.DurationMs))
		s.line(&b, "Popularity", fmt.Sprintf("%d/100", metadata.Popularity))
		if metadata.Explicit {
			s.line(&b, "Explicit", "yes")
		}
	}

	if report != nil {
		s.line(&b, "Play Count", s.playCount(report.PlayCount))
		s.line(&b, "Estimated Revenue", s.revenue(report.Revenue))
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func (s *Summary) line(b *strings.Builder, label, value string) {
	fmt.Fprintf(b, "%-*s %s\n", labelWidth, label+":", value)
}

func (s *Summary) playCount(count *core.ReconciledCount) string {
	if count == nil {
		return notAvailable
	}
	formatted := s.printer.Sprintf("%d", count.Count)
	if count.Confidence == core.ConfidenceFallback {
		formatted += " " + fallbackNote
	}
	return formatted
}

func (s *Summary) revenue(estimate core.RevenueEstimate) string {
	rate := fmt.Sprintf("(based on $%.5f per stream)", estimate.PerStream)
	if estimate.Total == nil {
		return notAvailable + " " + rate
	}
	return s.printer.Sprintf("$%.2f", *estimate.Total) + " " + rate
}

// FormatDuration renders milliseconds as m:ss.
func FormatDuration(ms int) string {
	if ms < 0 {
		ms = 0
	}
	minutes := ms / 60000
	seconds := (ms % 60000) / 1000
	return fmt.Sprintf("%d:%02d", minutes, seconds)
}

func artistNames(artists []core.Artist) string {
	names := make([]string, 0, len(artists))
	for _, artist := range artists {
		names = append(names, artist.Name)
	}
	return strings.Join(names, ", ")
}
