// Package spotify provides Spotify Web API integration for token issuing and track metadata.
package spotify

import (
	"context"
	"fmt"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/zmb3/spotify/v2"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"streamrev/internal/core"
)

const (
	// ArtistType is the object type reported for track artists
	ArtistType = "artist"
)

// Client issues client-credentials tokens and reads track metadata.
// No user authorization is involved, so only catalog endpoints are reachable.
type Client struct {
	config      *core.SpotifyConfig
	logger      *zap.Logger
	credentials *clientcredentials.Config
	client      *spotify.Client
	cache       *expirable.LRU[string, *core.TrackMetadata]
}

func NewClient(config *core.SpotifyConfig, logger *zap.Logger) *Client {
	tokenURL := config.TokenURL
	if tokenURL == "" {
		tokenURL = spotifyauth.TokenURL
	}

	credentials := &clientcredentials.Config{
		ClientID:     config.ClientID,
		ClientSecret: config.ClientSecret,
		TokenURL:     tokenURL,
		AuthStyle:    oauth2.AuthStyleInHeader,
	}

	var opts []spotify.ClientOption
	if config.APIBaseURL != "" {
		opts = append(opts, spotify.WithBaseURL(config.APIBaseURL))
	}

	// The token source caches and refreshes the app token for metadata calls.
	httpClient := oauth2.NewClient(context.Background(), credentials.TokenSource(context.Background()))

	c := &Client{
		config:      config,
		logger:      logger,
		credentials: credentials,
		client:      spotify.New(httpClient, opts...),
	}

	if config.MetadataCacheSize > 0 {
		c.cache = expirable.NewLRU[string, *core.TrackMetadata](config.MetadataCacheSize, nil, config.MetadataCacheTTL)
	}

	return c
}

func (c *Client) hasCredentials() bool {
	return c.config.ClientID != "" && c.config.ClientSecret != ""
}

// AccessToken performs a fresh client-credentials exchange.
func (c *Client) AccessToken(ctx context.Context) (string, error) {
	if !c.hasCredentials() {
		return "", core.ErrMissingCredentials
	}

	token, err := c.credentials.Token(ctx)
	if err != nil {
		c.logger.Error("Token exchange failed", zap.Error(err))
		return "", fmt.Errorf("failed to get access token: %w", err)
	}

	return token.AccessToken, nil
}

// GetTrack returns structured metadata for a track. Upstream API errors are
// returned unwrapped so their message reaches the caller verbatim.
func (c *Client) GetTrack(ctx context.Context, trackID string) (*core.TrackMetadata, error) {
	if !c.hasCredentials() {
		return nil, core.ErrMissingCredentials
	}

	if c.cache != nil {
		if metadata, ok := c.cache.Get(trackID); ok {
			c.logger.Debug("Metadata cache hit", zap.String("trackID", trackID))
			return metadata, nil
		}
	}

	track, err := c.client.GetTrack(ctx, spotify.ID(trackID))
	if err != nil {
		c.logger.Warn("Track metadata request failed", zap.String("trackID", trackID), zap.Error(err))
		return nil, err
	}

	metadata := convertSpotifyTrack(track)
	if c.cache != nil {
		c.cache.Add(trackID, metadata)
	}

	return metadata, nil
}

func convertSpotifyTrack(track *spotify.FullTrack) *core.TrackMetadata {
	album := core.Album{
		ID:          track.Album.ID.String(),
		Name:        track.Album.Name,
		AlbumType:   track.Album.AlbumType,
		Artists:     convertArtists(track.Album.Artists),
		Images:      make([]core.Image, 0, len(track.Album.Images)),
		ReleaseDate: track.Album.ReleaseDate,
		URI:         string(track.Album.URI),
	}
	for _, image := range track.Album.Images {
		album.Images = append(album.Images, core.Image{
			URL:    image.URL,
			Height: int(image.Height),
			Width:  int(image.Width),
		})
	}

	return &core.TrackMetadata{
		ID:         track.ID.String(),
		Name:       track.Name,
		Album:      album,
		Artists:    convertArtists(track.Artists),
		DurationMs: int(track.Duration),
		Explicit:   track.Explicit,
		Popularity: int(track.Popularity),
		URI:        string(track.URI),
	}
}

func convertArtists(artists []spotify.SimpleArtist) []core.Artist {
	converted := make([]core.Artist, 0, len(artists))
	for _, artist := range artists {
		converted = append(converted, core.Artist{
			ID:   artist.ID.String(),
			Name: artist.Name,
			Type: ArtistType,
			URI:  string(artist.URI),
		})
	}
	return converted
}
