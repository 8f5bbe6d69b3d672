// Package browser manages isolated headless browser sessions, one per request.
package browser

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"streamrev/internal/core"
)

// Session is one browser process (or remote tab) with a single page.
// It is bound to the context it was launched with and must be closed.
type Session interface {
	// Navigate loads url and waits until network activity is quiescent.
	Navigate(url string) error
	// WaitVisible blocks until the first element matching selector is visible.
	WaitVisible(selector string) error
	// WaitAny polls until any selector matches or limit passes.
	// Running out of time is not an error.
	WaitAny(selectors []string, limit time.Duration) (bool, error)
	// Evaluate runs expression in the page and decodes its result into out.
	Evaluate(expression string, out any) error
	// Close releases the page and the browser. It is safe to call more than once.
	Close() error
}

// Launcher acquires a fresh Session. Sessions are never pooled or shared.
type Launcher interface {
	Launch(ctx context.Context) (Session, error)
}

// Use launches a session, hands it to fn and closes it on every return path,
// including panics inside fn.
func Use(ctx context.Context, launcher Launcher, fn func(Session) error) error {
	session, err := launcher.Launch(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = session.Close()
	}()

	return fn(session)
}

// NewLauncher selects the browser acquisition strategy for the process.
func NewLauncher(ctx context.Context, config *core.BrowserConfig, logger *zap.Logger) (Launcher, error) {
	switch config.Mode {
	case core.BrowserModeLocal, "":
		return newLocalLauncher(config, config.ExecPath, logger), nil
	case core.BrowserModeFetched:
		execPath, err := fetchBrowser(ctx, config.DownloadDir, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch browser: %w", err)
		}
		return newLocalLauncher(config, execPath, logger), nil
	case core.BrowserModeRemote:
		if config.RemoteURL == "" {
			return nil, fmt.Errorf("remote browser mode requires a DevTools URL")
		}
		return newRemoteLauncher(config, logger), nil
	default:
		return nil, fmt.Errorf("unsupported browser mode: %s", config.Mode)
	}
}
