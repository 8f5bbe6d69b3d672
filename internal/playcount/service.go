// Package playcount runs the scrape, reconcile and estimate pipeline for one track.
package playcount

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"streamrev/internal/core"
	"streamrev/internal/reconcile"
	"streamrev/internal/revenue"
	"streamrev/pkg/trackref"
)

// Service bounds the number of concurrent browser sessions and turns a page
// scan into a play-count report.
type Service struct {
	extractor  core.PageExtractor
	reconciler *reconcile.Reconciler
	slots      *semaphore.Weighted
	wait       time.Duration
	logger     *zap.Logger
}

func NewService(
	extractor core.PageExtractor,
	reconciler *reconcile.Reconciler,
	config *core.PipelineConfig,
	logger *zap.Logger,
) *Service {
	maxSessions := config.MaxSessions
	if maxSessions <= 0 {
		maxSessions = core.DefaultMaxSessions
	}

	return &Service{
		extractor:  extractor,
		reconciler: reconciler,
		slots:      semaphore.NewWeighted(int64(maxSessions)),
		wait:       config.SessionWait,
		logger:     logger,
	}
}

// Lookup returns the play-count report for a resolved track ID.
func (s *Service) Lookup(ctx context.Context, trackID string) (*core.PlayCountReport, error) {
	if !trackref.ValidID(trackID) {
		return nil, core.ErrInvalidTrackReference
	}

	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	defer s.slots.Release(1)

	start := time.Now()
	extraction, err := s.extractor.Extract(ctx, trackID)
	if err != nil {
		s.logger.Error("Page extraction failed",
			zap.String("trackID", trackID),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return nil, err
	}

	playCount := s.reconciler.Reconcile(extraction)
	report := &core.PlayCountReport{
		ExtractionResult: *extraction,
		PlayCount:        playCount.View(),
		Revenue:          revenue.Estimate(playCount),
	}

	s.logger.Info("Play count looked up",
		zap.String("trackID", trackID),
		zap.Bool("found", playCount.Found),
		zap.Int64("count", playCount.Count),
		zap.String("confidence", string(playCount.Confidence)),
		zap.Duration("elapsed", time.Since(start)))
	return report, nil
}

func (s *Service) acquire(ctx context.Context) error {
	waitCtx := ctx
	if s.wait > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, s.wait)
		defer cancel()
	}

	if err := s.slots.Acquire(waitCtx, 1); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: waited %s", core.ErrBusy, s.wait)
		}
		return err
	}
	return nil
}
