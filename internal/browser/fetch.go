package browser

import (
	"context"
	"path/filepath"

	"github.com/go-rod/rod/lib/launcher"
	"go.uber.org/zap"
)

// fetchBrowser returns the path of a browser binary, preferring one already
// installed on the host and otherwise downloading a pinned Chromium into dir.
func fetchBrowser(ctx context.Context, dir string, logger *zap.Logger) (string, error) {
	if path, found := launcher.LookPath(); found {
		logger.Info("Using installed browser", zap.String("path", path))
		return path, nil
	}

	b := launcher.NewBrowser()
	b.Context = ctx
	if dir != "" {
		abs, err := filepath.Abs(dir)
		if err != nil {
			return "", err
		}
		b.RootDir = abs
	}

	logger.Info("Fetching browser", zap.String("dir", b.RootDir), zap.Int("revision", b.Revision))
	path, err := b.Get()
	if err != nil {
		return "", err
	}

	logger.Info("Browser ready", zap.String("path", path))
	return path, nil
}
