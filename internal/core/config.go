package core

import (
	"time"
)

const (
	// DefaultServerPort is the HTTP port the service listens on when none is configured
	DefaultServerPort = 3001
	// DefaultNavigationTimeout is the hard ceiling for page navigation
	DefaultNavigationTimeout = 30 * time.Second
	// DefaultSettleTimeout bounds the wait for client-rendered play-count markers
	DefaultSettleTimeout = 2 * time.Second
	// DefaultMaxSessions caps concurrently running browser sessions
	DefaultMaxSessions = 4
	// DefaultSessionWait bounds how long a request waits for a free browser slot
	DefaultSessionWait = 30 * time.Second
	// DefaultFloodLimitPerMinute is the per-client API request limit
	DefaultFloodLimitPerMinute = 30
	// DefaultMetadataCacheSize is the number of track metadata entries kept in memory
	DefaultMetadataCacheSize = 256
	// DefaultMetadataCacheTTL is how long cached track metadata stays valid
	DefaultMetadataCacheTTL = 10 * time.Minute

	// DefaultUserAgent is a realistic desktop Chrome user agent
	DefaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 " +
		"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	// DefaultViewportWidth is the fixed browser viewport width
	DefaultViewportWidth = 1280
	// DefaultViewportHeight is the fixed browser viewport height
	DefaultViewportHeight = 800

	// writeTimeoutMargin is added to the lookup budget for encoding and writing the response
	writeTimeoutMargin = 10 * time.Second
)

// Browser acquisition strategies.
const (
	BrowserModeLocal   = "local"
	BrowserModeFetched = "fetched"
	BrowserModeRemote  = "remote"
)

// Primary play-count candidate selection policies.
const (
	PrimaryPickFirst   = "first"
	PrimaryPickLargest = "largest"
)

type Config struct {
	Spotify   SpotifyConfig
	Browser   BrowserConfig
	Scrape    ScrapeConfig
	Reconcile ReconcileConfig
	Pipeline  PipelineConfig
	Server    ServerConfig
	Log       LogConfig
	App       AppConfig
}

type SpotifyConfig struct {
	ClientID          string
	ClientSecret      string
	TokenURL          string // empty means the Spotify accounts endpoint
	APIBaseURL        string // empty means https://api.spotify.com/v1/
	MetadataCacheSize int    // 0 disables the metadata cache
	MetadataCacheTTL  time.Duration
}

// BrowserConfig selects how a headless browser is acquired for each request.
// The mode is fixed at startup.
type BrowserConfig struct {
	Mode              string // local, fetched or remote
	ExecPath          string // local mode: browser binary, empty lets chromedp find one
	RemoteURL         string // remote mode: DevTools websocket URL
	DownloadDir       string // fetched mode: where the browser binary is cached
	NoSandbox         bool
	UserAgent         string
	ViewportWidth     int
	ViewportHeight    int
	NavigationTimeout time.Duration
}

// ScrapeConfig holds the page-structure assumptions of the extractor.
// Selectors are configurable so a changed page layout doesn't need a rebuild.
type ScrapeConfig struct {
	SettleTimeout     time.Duration
	PlayCountSelector string
	TrackRowSelector  string
	TrackNameSelector string
	RowCountSelector  string
}

type ReconcileConfig struct {
	PrimaryPick string
}

type PipelineConfig struct {
	MaxSessions int
	SessionWait time.Duration
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

type AppConfig struct {
	FloodLimitPerMinute int // 0 disables per-client limiting
}

func DefaultConfig() *Config {
	cfg := &Config{
		Spotify: SpotifyConfig{
			MetadataCacheSize: DefaultMetadataCacheSize,
			MetadataCacheTTL:  DefaultMetadataCacheTTL,
		},
		Browser: BrowserConfig{
			Mode:              BrowserModeLocal,
			DownloadDir:       "./.browser",
			NoSandbox:         true,
			UserAgent:         DefaultUserAgent,
			ViewportWidth:     DefaultViewportWidth,
			ViewportHeight:    DefaultViewportHeight,
			NavigationTimeout: DefaultNavigationTimeout,
		},
		Scrape: ScrapeConfig{
			SettleTimeout:     DefaultSettleTimeout,
			PlayCountSelector: `[data-testid="playcount"]`,
			TrackRowSelector:  `[data-testid="track-row"]`,
			TrackNameSelector: `[data-testid="internal-track-link"]`,
			RowCountSelector:  `span:not([data-testid])`,
		},
		Reconcile: ReconcileConfig{
			PrimaryPick: PrimaryPickFirst,
		},
		Pipeline: PipelineConfig{
			MaxSessions: DefaultMaxSessions,
			SessionWait: DefaultSessionWait,
		},
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         DefaultServerPort,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 90 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		App: AppConfig{
			FloodLimitPerMinute: DefaultFloodLimitPerMinute,
		},
	}
	cfg.FitWriteTimeout()

	return cfg
}

// LookupBudget is the longest a play-count lookup can run once a request is
// admitted: the wait for a browser slot, navigation, the wait for the page
// body (both bounded by the navigation timeout) and the settle poll.
func (c *Config) LookupBudget() time.Duration {
	return c.Pipeline.SessionWait + 2*c.Browser.NavigationTimeout + c.Scrape.SettleTimeout
}

// FitWriteTimeout raises the server write timeout so a lookup that uses its
// whole budget can still be answered. An unbounded session wait can't be covered.
func (c *Config) FitWriteTimeout() {
	if minimum := c.LookupBudget() + writeTimeoutMargin; c.Server.WriteTimeout < minimum {
		c.Server.WriteTimeout = minimum
	}
}
