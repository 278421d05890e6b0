// Package youtube searches the YouTube Data API v3 for recent uploads.
package youtube

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"vidbot/internal/fetch"
	"vidbot/internal/timeutil"
)

const (
	defaultSearchURL = "https://www.googleapis.com/youtube/v3/search"
	watchURL         = "https://www.youtube.com/watch?v="
)

// Video is one search result.
type Video struct {
	ID          string
	ChannelID   string
	Title       string
	Description string
	PublishedAt time.Time
}

// URL returns the public watch page for the video.
func (v *Video) URL() string { return watchURL + v.ID }

// Config holds the API key and endpoint override for tests.
type Config struct {
	DeveloperKey string
	MaxResults   int

	SearchURL string
}

// Client queries the Data API with a retrying fetcher.
type Client struct {
	cfg     Config
	httpc   *http.Client
	fetcher *fetch.Fetcher
}

// New creates a Client, applying defaults for unset config fields.
func New(cfg Config, fetcher *fetch.Fetcher) *Client {
	if cfg.SearchURL == "" {
		cfg.SearchURL = defaultSearchURL
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 32
	}
	return &Client{
		cfg:     cfg,
		httpc:   &http.Client{Timeout: 30 * time.Second},
		fetcher: fetcher,
	}
}

type searchResponse struct {
	Items []searchItem `json:"items"`
}

type searchItem struct {
	ID struct {
		Kind    string `json:"kind"`
		VideoID string `json:"videoId"`
	} `json:"id"`
	Snippet struct {
		ChannelID   string `json:"channelId"`
		Title       string `json:"title"`
		Description string `json:"description"`
		PublishedAt string `json:"publishedAt"`
	} `json:"snippet"`
}

// Search returns videos matching keyword published at or after since,
// newest first. Non-video results (channels, playlists) are dropped.
func (c *Client) Search(ctx context.Context, keyword string, since time.Time) ([]*Video, error) {
	params := url.Values{
		"key":        {c.cfg.DeveloperKey},
		"part":       {"snippet"},
		"q":          {keyword},
		"type":       {"video"},
		"order":      {"date"},
		"maxResults": {strconv.Itoa(c.cfg.MaxResults)},
	}
	if !since.IsZero() {
		params.Set("publishedAfter", timeutil.LocalToUTC(since).Format(time.RFC3339))
	}

	var sr searchResponse
	err := c.fetcher.Do(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet,
			c.cfg.SearchURL+"?"+params.Encode(), nil)
		if err != nil {
			return err
		}
		resp, err := c.httpc.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			return fmt.Errorf("search returned status %d: %s", resp.StatusCode, body)
		}
		sr = searchResponse{}
		return json.NewDecoder(resp.Body).Decode(&sr)
	})
	if err != nil {
		return nil, fmt.Errorf("youtube search %q: %w", keyword, err)
	}

	var videos []*Video
	for _, it := range sr.Items {
		if it.ID.Kind != "youtube#video" || it.ID.VideoID == "" {
			continue
		}
		publishedAt, err := timeutil.UTCStringToLocal(timeutil.LayoutUTC, it.Snippet.PublishedAt)
		if err != nil {
			return nil, fmt.Errorf("video %s: bad publishedAt %q: %w", it.ID.VideoID, it.Snippet.PublishedAt, err)
		}
		if publishedAt.Before(since) {
			continue
		}
		videos = append(videos, &Video{
			ID:          it.ID.VideoID,
			ChannelID:   it.Snippet.ChannelID,
			Title:       it.Snippet.Title,
			Description: it.Snippet.Description,
			PublishedAt: publishedAt,
		})
	}
	return videos, nil
}
