package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"streamrev/internal/core"
)

const (
	acceptLanguageHeaderValue = "en-US,en;q=0.9"

	// networkAlmostIdle fires once no more than two connections are open for 500ms.
	lifecycleNetworkAlmostIdle = "networkAlmostIdle"
	lifecycleInit              = "init"

	markerPollInterval = 100 * time.Millisecond
)

// Basic fingerprint masking applied to every new document.
var stealthScripts = []string{
	"Object.defineProperty(navigator, 'webdriver', { get: () => undefined });",
	"window.chrome = window.chrome || {}; window.chrome.runtime = {};",
	"Object.defineProperty(navigator, 'languages', { get: () => ['en-US','en'] });",
	"Object.defineProperty(navigator, 'plugins', { get: () => [1, 2, 3, 4, 5] });",
}

type allocatorFunc func(ctx context.Context) (context.Context, context.CancelFunc)

type chromeLauncher struct {
	config   *core.BrowserConfig
	allocate allocatorFunc
	logger   *zap.Logger
}

func newLocalLauncher(config *core.BrowserConfig, execPath string, logger *zap.Logger) *chromeLauncher {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.WindowSize(config.ViewportWidth, config.ViewportHeight),
	)
	if config.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(config.UserAgent))
	}
	if config.NoSandbox {
		opts = append(opts, chromedp.NoSandbox, chromedp.Flag("disable-setuid-sandbox", true))
	}
	if execPath = strings.TrimSpace(execPath); execPath != "" {
		opts = append(opts, chromedp.ExecPath(execPath))
	}

	return &chromeLauncher{
		config: config,
		allocate: func(ctx context.Context) (context.Context, context.CancelFunc) {
			return chromedp.NewExecAllocator(ctx, opts...)
		},
		logger: logger,
	}
}

func newRemoteLauncher(config *core.BrowserConfig, logger *zap.Logger) *chromeLauncher {
	remoteURL := config.RemoteURL
	return &chromeLauncher{
		config: config,
		allocate: func(ctx context.Context) (context.Context, context.CancelFunc) {
			return chromedp.NewRemoteAllocator(ctx, remoteURL)
		},
		logger: logger,
	}
}

func (l *chromeLauncher) Launch(ctx context.Context) (Session, error) {
	s := l.newSession(ctx)
	if err := s.start(); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("%w: %w", core.ErrBrowserLaunch, err)
	}

	l.logger.Debug("Browser session launched")
	return s, nil
}

func (l *chromeLauncher) newSession(ctx context.Context) *chromeSession {
	allocCtx, cancelAlloc := l.allocate(ctx)

	sugar := l.logger.Sugar()
	tabCtx, cancelTab := chromedp.NewContext(allocCtx,
		chromedp.WithErrorf(sugar.Debugf),
		chromedp.WithLogf(sugar.Debugf),
	)

	return &chromeSession{
		ctx:         tabCtx,
		cancelTab:   cancelTab,
		cancelAlloc: cancelAlloc,
		navTimeout:  l.config.NavigationTimeout,
		userAgent:   l.config.UserAgent,
		width:       l.config.ViewportWidth,
		height:      l.config.ViewportHeight,
		logger:      l.logger,
		lifecycle:   newLifecycleTracker(),
	}
}

// start runs the first action on the tab, which is what brings the browser up.
func (s *chromeSession) start() error {
	err := chromedp.Run(s.ctx, s.prepare()...)

	c := chromedp.FromContext(s.ctx)
	s.started = c != nil && c.Browser != nil
	if err != nil {
		return err
	}

	if c.Target != nil {
		s.lifecycle.frameID = cdp.FrameID(c.Target.TargetID)
	}
	chromedp.ListenTarget(s.ctx, s.lifecycle.handle)
	return nil
}

type chromeSession struct {
	ctx         context.Context
	cancelTab   context.CancelFunc
	cancelAlloc context.CancelFunc
	navTimeout  time.Duration
	userAgent   string
	width       int
	height      int
	logger      *zap.Logger
	lifecycle   *lifecycleTracker
	started     bool

	closeOnce sync.Once
	closeErr  error
}

func (s *chromeSession) prepare() chromedp.Tasks {
	return chromedp.Tasks{
		chromedp.ActionFunc(func(ctx context.Context) error {
			if err := network.Enable().Do(ctx); err != nil {
				return err
			}
			return network.SetExtraHTTPHeaders(network.Headers{
				"Accept-Language": acceptLanguageHeaderValue,
			}).Do(ctx)
		}),
		chromedp.ActionFunc(func(ctx context.Context) error {
			for _, script := range stealthScripts {
				if _, err := page.AddScriptToEvaluateOnNewDocument(script).Do(ctx); err != nil {
					return err
				}
			}
			return nil
		}),
		chromedp.ActionFunc(func(ctx context.Context) error {
			return page.SetLifecycleEventsEnabled(true).Do(ctx)
		}),
		chromedp.ActionFunc(s.applyUserAgent),
		chromedp.EmulateViewport(int64(s.width), int64(s.height)),
	}
}

func (s *chromeSession) applyUserAgent(ctx context.Context) error {
	ua := core.DefaultUserAgent
	if s.userAgent != "" {
		ua = s.userAgent
	}
	return emulation.SetUserAgentOverride(ua).WithAcceptLanguage(acceptLanguageHeaderValue).Do(ctx)
}

func (s *chromeSession) Navigate(url string) error {
	ctx, cancel := s.withNavigationTimeout()
	defer cancel()

	s.lifecycle.reset()

	err := chromedp.Run(ctx,
		chromedp.Navigate(url),
		chromedp.ActionFunc(s.lifecycle.waitIdle),
	)
	if err != nil {
		return s.navigationError(url, err)
	}
	return nil
}

func (s *chromeSession) WaitVisible(selector string) error {
	ctx, cancel := s.withNavigationTimeout()
	defer cancel()

	if err := chromedp.Run(ctx, chromedp.WaitVisible(selector, chromedp.ByQuery)); err != nil {
		return s.navigationError(selector, err)
	}
	return nil
}

func (s *chromeSession) WaitAny(selectors []string, limit time.Duration) (bool, error) {
	if len(selectors) == 0 || limit <= 0 {
		return false, nil
	}

	encoded, err := json.Marshal(selectors)
	if err != nil {
		return false, err
	}
	expression := fmt.Sprintf(`%s.some((s) => document.querySelector(s) !== null)`, encoded)

	ctx, cancel := context.WithTimeout(s.ctx, limit)
	defer cancel()

	ticker := time.NewTicker(markerPollInterval)
	defer ticker.Stop()

	for {
		var present bool
		if err := chromedp.Run(ctx, chromedp.Evaluate(expression, &present)); err == nil && present {
			return true, nil
		}

		select {
		case <-ctx.Done():
			if s.ctx.Err() != nil {
				return false, s.ctx.Err()
			}
			return false, nil
		case <-ticker.C:
		}
	}
}

func (s *chromeSession) Evaluate(expression string, out any) error {
	if err := chromedp.Run(s.ctx, chromedp.Evaluate(expression, out)); err != nil {
		return fmt.Errorf("%w: %w", core.ErrEvaluation, err)
	}
	return nil
}

func (s *chromeSession) Close() error {
	s.closeOnce.Do(func() {
		s.release()
		s.cancelAlloc()
		s.logger.Debug("Browser session closed")
	})
	return s.closeErr
}

// release stops the tab. A browser that never came up has nothing to close
// gracefully, and chromedp.Cancel would consume the allocation token that
// cancelTab still waits on.
func (s *chromeSession) release() {
	if !s.started {
		s.cancelTab()
		return
	}

	err := chromedp.Cancel(s.ctx)
	if err == nil || errors.Is(err, context.Canceled) {
		return
	}

	s.closeErr = err
	s.logger.Warn("Failed to close browser cleanly", zap.Error(err))
	s.cancelTab()
}

func (s *chromeSession) withNavigationTimeout() (context.Context, context.CancelFunc) {
	if s.navTimeout <= 0 {
		return context.WithCancel(s.ctx)
	}
	return context.WithTimeout(s.ctx, s.navTimeout)
}

func (s *chromeSession) navigationError(target string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) && s.ctx.Err() == nil {
		return fmt.Errorf("%w after %s: %s", core.ErrNavigationTimeout, s.navTimeout, target)
	}
	return fmt.Errorf("navigation failed for %s: %w", target, err)
}

// lifecycleTracker follows lifecycle events of the main frame so navigation
// can wait for network quiescence on the newly committed document.
type lifecycleTracker struct {
	mu      sync.Mutex
	frameID cdp.FrameID
	idle    bool
	notify  chan struct{}
}

func newLifecycleTracker() *lifecycleTracker {
	return &lifecycleTracker{notify: make(chan struct{}, 1)}
}

func (t *lifecycleTracker) handle(ev any) {
	e, ok := ev.(*page.EventLifecycleEvent)
	if !ok {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.frameID != "" && e.FrameID != t.frameID {
		return
	}

	switch e.Name {
	case lifecycleInit:
		t.idle = false
	case lifecycleNetworkAlmostIdle:
		t.idle = true
		select {
		case t.notify <- struct{}{}:
		default:
		}
	}
}

func (t *lifecycleTracker) reset() {
	t.mu.Lock()
	t.idle = false
	t.mu.Unlock()
}

func (t *lifecycleTracker) isIdle() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.idle
}

func (t *lifecycleTracker) waitIdle(ctx context.Context) error {
	for !t.isIdle() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.notify:
		}
	}
	return nil
}
