package core

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestPlayCountView(t *testing.T) {
	if NotFound.View() != nil {
		t.Error("Expected nil view for NotFound")
	}

	pc := PlayCount{Found: true, Count: 42, Confidence: ConfidenceFallback, Source: "42"}
	view := pc.View()
	if view == nil || view.Count != 42 || view.Confidence != ConfidenceFallback {
		t.Errorf("Unexpected view %+v", view)
	}
}

func TestPlayCountReportJSON(t *testing.T) {
	report := PlayCountReport{
		ExtractionResult: ExtractionResult{
			PlayCounts:    []RawPlayCountCandidate{{Count: "1,234", SourceMarkup: "<span>1,234</span>"}},
			PopularTracks: []PopularTrackRow{},
		},
		Revenue: RevenueEstimate{PerStream: 0.00238, Currency: "USD"},
	}

	data, err := json.Marshal(report)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	body := string(data)
	expected := []string{
		`"trackName":null`,
		`"playCounts":[{"count":"1,234","element":"\u003cspan\u003e1,234\u003c/span\u003e"}]`,
		`"popularTracks":[]`,
		`"playCount":null`,
		`"revenue":{"perStream":0.00238,"total":null,"currency":"USD"}`,
	}
	for _, fragment := range expected {
		if !strings.Contains(body, fragment) {
			t.Errorf("Expected JSON to contain %s, got %s", fragment, body)
		}
	}
}

func TestSentinelErrorsAreDistinct(t *testing.T) {
	sentinels := []error{
		ErrInvalidTrackReference,
		ErrBrowserLaunch,
		ErrNavigationTimeout,
		ErrEvaluation,
		ErrBusy,
		ErrMissingCredentials,
	}

	for i, a := range sentinels {
		for j, b := range sentinels {
			if i != j && errors.Is(a, b) {
				t.Errorf("Expected %q and %q to be distinct", a, b)
			}
		}
	}
}
