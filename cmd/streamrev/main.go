// Package main provides the StreamRev CLI application entry point.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/language"

	"streamrev/internal/browser"
	"streamrev/internal/core"
	"streamrev/internal/flood"
	httpserver "streamrev/internal/http"
	"streamrev/internal/playcount"
	"streamrev/internal/reconcile"
	"streamrev/internal/report"
	"streamrev/internal/scrape"
	"streamrev/internal/spotify"
	"streamrev/pkg/trackref"
)

const (
	defaultServerHost = "0.0.0.0"
	maxPort           = 65535
)

var (
	cfgFile string
	config  *core.Config
	logger  *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "streamrev",
	Short: "StreamRev - Spotify play counts and revenue estimates",
	Long: `StreamRev reads the public play count of a Spotify track from the web player
and estimates the streaming revenue it represents. It runs as an HTTP service by default.`,
	SilenceUsage: true,
	RunE:         runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP service",
	RunE:  runServe,
}

var estimateCmd = &cobra.Command{
	Use:   "estimate <spotify-track-uri-or-url>",
	Short: "Look up one track and print its play count and estimated revenue",
	Args:  cobra.ExactArgs(1),
	RunE:  runEstimate,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	defaults := core.DefaultConfig()
	flags := rootCmd.PersistentFlags()

	flags.StringVar(&cfgFile, "config", "", "config file (default is .env)")
	flags.String("log-level", defaults.Log.Level, "log level (debug, info, warn, error)")
	flags.String("log-format", defaults.Log.Format, "log format (json, console)")
	flags.String("spotify-client-id", "", "Spotify client ID")
	flags.String("spotify-client-secret", "", "Spotify client secret")
	flags.Int("metadata-cache-size", defaults.Spotify.MetadataCacheSize, "Number of cached track metadata entries (0 disables)")
	flags.Duration("metadata-cache-ttl", defaults.Spotify.MetadataCacheTTL, "Lifetime of cached track metadata")
	flags.String("browser-mode", defaults.Browser.Mode, "Browser acquisition (local, fetched, remote)")
	flags.String("browser-exec-path", "", "Browser binary for local mode (empty searches the system)")
	flags.String("browser-remote-url", "", "DevTools websocket URL for remote mode")
	flags.String("browser-download-dir", defaults.Browser.DownloadDir, "Download directory for fetched mode")
	flags.Bool("browser-no-sandbox", defaults.Browser.NoSandbox, "Disable the browser sandbox")
	flags.Duration("navigation-timeout", defaults.Browser.NavigationTimeout, "Page navigation timeout")
	flags.Duration("settle-timeout", defaults.Scrape.SettleTimeout, "Maximum wait for client-rendered play counts")
	flags.String("selector-playcount", defaults.Scrape.PlayCountSelector, "Selector of play-count elements")
	flags.String("selector-track-row", defaults.Scrape.TrackRowSelector, "Selector of popular-track rows")
	flags.String("selector-track-name", defaults.Scrape.TrackNameSelector, "Selector of the track name inside a row")
	flags.String("selector-row-count", defaults.Scrape.RowCountSelector, "Selector of the play count inside a row")
	flags.String("primary-pick", defaults.Reconcile.PrimaryPick, "Play-count candidate to trust (first, largest)")
	flags.Int("max-sessions", defaults.Pipeline.MaxSessions, "Maximum concurrent browser sessions")
	flags.Duration("session-wait", defaults.Pipeline.SessionWait, "Maximum wait for a free browser session")
	flags.String("server-host", defaultServerHost, "HTTP server host")
	flags.Int("server-port", core.DefaultServerPort, "HTTP server port")
	flags.Int("flood-limit-per-minute", core.DefaultFloodLimitPerMinute, "Maximum API requests per client per minute (0 disables)")
	flags.Bool("generate-env-example", false, "Generate .env.example file from current configuration and exit")

	estimateCmd.Flags().Bool("json", false, "Print the raw JSON result")

	rootCmd.AddCommand(serveCmd, estimateCmd)

	if err := viper.BindPFlags(flags); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bind flags: %v\n", err)
		os.Exit(1)
	}
}

func initConfig() {
	envFile := ".env"
	if cfgFile != "" {
		envFile = cfgFile
	}

	if err := gotenv.Load(envFile); err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Error loading .env file: %v\n", err)
		}
	}

	viper.SetEnvPrefix("STREAMREV")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	config = buildConfig()
	logger = buildLogger(config.Log.Level, config.Log.Format)
}

func buildConfig() *core.Config {
	cfg := core.DefaultConfig()

	configureSpotify(cfg)
	configureBrowser(cfg)
	configureScrape(cfg)
	configurePipeline(cfg)
	configureServer(cfg)
	configureApp(cfg)
	cfg.FitWriteTimeout()

	return cfg
}

func configureSpotify(cfg *core.Config) {
	cfg.Spotify.ClientID = viper.GetString("spotify-client-id")
	cfg.Spotify.ClientSecret = viper.GetString("spotify-client-secret")
	cfg.Spotify.MetadataCacheSize = viper.GetInt("metadata-cache-size")
	cfg.Spotify.MetadataCacheTTL = viper.GetDuration("metadata-cache-ttl")
}

func configureBrowser(cfg *core.Config) {
	cfg.Browser.Mode = strings.ToLower(viper.GetString("browser-mode"))
	cfg.Browser.ExecPath = viper.GetString("browser-exec-path")
	cfg.Browser.RemoteURL = viper.GetString("browser-remote-url")
	cfg.Browser.DownloadDir = viper.GetString("browser-download-dir")
	cfg.Browser.NoSandbox = viper.GetBool("browser-no-sandbox")

	if timeout := viper.GetDuration("navigation-timeout"); timeout > 0 {
		cfg.Browser.NavigationTimeout = timeout
	}
}

func configureScrape(cfg *core.Config) {
	cfg.Scrape.SettleTimeout = viper.GetDuration("settle-timeout")

	selectors := map[string]*string{
		"selector-playcount":  &cfg.Scrape.PlayCountSelector,
		"selector-track-row":  &cfg.Scrape.TrackRowSelector,
		"selector-track-name": &cfg.Scrape.TrackNameSelector,
		"selector-row-count":  &cfg.Scrape.RowCountSelector,
	}
	for key, target := range selectors {
		if value := strings.TrimSpace(viper.GetString(key)); value != "" {
			*target = value
		}
	}

	cfg.Reconcile.PrimaryPick = strings.ToLower(viper.GetString("primary-pick"))
}

func configurePipeline(cfg *core.Config) {
	cfg.Pipeline.MaxSessions = viper.GetInt("max-sessions")
	if cfg.Pipeline.MaxSessions <= 0 {
		fmt.Fprintf(os.Stderr, "Warning: Invalid max sessions (%d), using default (%d)\n",
			cfg.Pipeline.MaxSessions, core.DefaultMaxSessions)
		cfg.Pipeline.MaxSessions = core.DefaultMaxSessions
	}
	cfg.Pipeline.SessionWait = viper.GetDuration("session-wait")
}

func configureServer(cfg *core.Config) {
	cfg.Server.Host = viper.GetString("server-host")
	if cfg.Server.Host == "" {
		cfg.Server.Host = defaultServerHost
	}
	cfg.Server.Port = viper.GetInt("server-port")
	cfg.Log.Level = viper.GetString("log-level")
	cfg.Log.Format = viper.GetString("log-format")
}

func configureApp(cfg *core.Config) {
	cfg.App.FloodLimitPerMinute = viper.GetInt("flood-limit-per-minute")
	if cfg.App.FloodLimitPerMinute < 0 {
		cfg.App.FloodLimitPerMinute = core.DefaultFloodLimitPerMinute
	}
}

func buildLogger(level, format string) *zap.Logger {
	var zapLevel zapcore.Level
	switch strings.ToLower(level) {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)
	if strings.EqualFold(format, "console") {
		cfg.Encoding = "console"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	builtLogger, err := cfg.Build()
	if err != nil {
		panic(fmt.Sprintf("Failed to build logger: %v", err))
	}

	return builtLogger
}

func validateConfig() error {
	switch config.Browser.Mode {
	case core.BrowserModeLocal, core.BrowserModeFetched:
	case core.BrowserModeRemote:
		if config.Browser.RemoteURL == "" {
			return fmt.Errorf("browser-remote-url is required when browser-mode is %q", core.BrowserModeRemote)
		}
	default:
		return fmt.Errorf("unsupported browser-mode %q (use local, fetched or remote)", config.Browser.Mode)
	}

	if config.Server.Port <= 0 || config.Server.Port > maxPort {
		return fmt.Errorf("invalid server-port %d", config.Server.Port)
	}

	if config.Spotify.ClientID == "" || config.Spotify.ClientSecret == "" {
		logger.Warn("Spotify client credentials not set, token and metadata endpoints will fail")
	}

	return nil
}

type services struct {
	playCounts *playcount.Service
	spotify    *spotify.Client
}

// initializeServices selects the browser mode once; nothing downstream branches on it.
func initializeServices(ctx context.Context) (*services, error) {
	launcher, err := browser.NewLauncher(ctx, &config.Browser, logger.Named("browser"))
	if err != nil {
		return nil, fmt.Errorf("failed to create browser launcher: %w", err)
	}

	reconciler, err := reconcile.New(&config.Reconcile)
	if err != nil {
		return nil, err
	}

	extractor := scrape.NewExtractor(launcher, &config.Scrape, logger.Named("scrape"))
	return &services{
		playCounts: playcount.NewService(extractor, reconciler, &config.Pipeline, logger.Named("playcount")),
		spotify:    spotify.NewClient(&config.Spotify, logger.Named("spotify")),
	}, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	if viper.GetBool("generate-env-example") {
		return generateEnvExample(cmd)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("Starting StreamRev",
		zap.String("browser_mode", config.Browser.Mode),
		zap.Int("max_sessions", config.Pipeline.MaxSessions),
		zap.String("primary_pick", config.Reconcile.PrimaryPick))

	if err := validateConfig(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	svcs, err := initializeServices(ctx)
	if err != nil {
		return err
	}

	var floodgate *flood.Floodgate
	if config.App.FloodLimitPerMinute > 0 {
		floodgate = flood.New(config.App.FloodLimitPerMinute)
		defer floodgate.Stop()
	}

	httpServer := httpserver.NewServer(&config.Server, httpserver.Services{
		PlayCounts: svcs.playCounts,
		Metadata:   svcs.spotify,
		Tokens:     svcs.spotify,
		Floodgate:  floodgate,
	}, logger.Named("http"))

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return httpServer.Start(gCtx)
	})

	logger.Info("StreamRev started successfully",
		zap.String("http_addr", fmt.Sprintf("%s:%d", config.Server.Host, config.Server.Port)))

	if err := g.Wait(); err != nil {
		logger.Error("StreamRev stopped with error", zap.Error(err))
		return err
	}

	logger.Info("StreamRev stopped gracefully")
	return nil
}

type estimateOutput struct {
	TrackID  string                `json:"trackId"`
	TrackURI string                `json:"trackUri"`
	Track    *core.TrackMetadata   `json:"track"`
	Report   *core.PlayCountReport `json:"report"`
}

func runEstimate(cmd *cobra.Command, args []string) error {
	trackID, err := trackref.Resolve(args[0])
	if err != nil {
		return err
	}

	if err := validateConfig(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	svcs, err := initializeServices(ctx)
	if err != nil {
		return err
	}
	out := estimateOutput{TrackID: trackID, TrackURI: trackref.URI(trackID)}
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		rep, lookupErr := svcs.playCounts.Lookup(gCtx, trackID)
		if lookupErr != nil {
			return fmt.Errorf("failed to fetch play count: %w", lookupErr)
		}
		out.Report = rep
		return nil
	})

	// Metadata only decorates the summary, so its failure is not fatal.
	g.Go(func() error {
		track, metaErr := svcs.spotify.GetTrack(gCtx, trackID)
		if metaErr != nil {
			if !errors.Is(metaErr, core.ErrMissingCredentials) {
				logger.Warn("Failed to fetch track metadata", zap.String("trackID", trackID), zap.Error(metaErr))
			}
			return nil
		}
		out.Track = track
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		return encoder.Encode(out)
	}

	return report.NewSummary(language.English).Write(cmd.OutOrStdout(), out.Track, out.Report)
}
