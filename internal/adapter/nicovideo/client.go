// Package nicovideo searches Nico Nico Douga for videos and comments.
// All network calls go through a retrying fetcher; the comment search
// additionally applies the cumulative-failure circuit breaker so a
// degraded upstream cannot stall a batch forever.
package nicovideo

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"vidbot/internal/fetch"
)

const (
	defaultLoginURL  = "https://secure.nicovideo.jp/secure/login"
	defaultSearchURL = "https://www.nicovideo.jp/api/search/search/"
	defaultGetFLVURL = "https://flapi.nicovideo.jp/api/getflv/"

	firstRetrieveLayout = "2006-01-02 15:04:05"

	threadPacket = `<packet>` +
		`<thread thread="%[1]s" version="20090904" user_id="%[2]s"/>` +
		`<thread_leaves thread="%[1]s" user_id="%[2]s">0-99:10,1000</thread_leaves>` +
		`</packet>`
)

// Sort keys accepted by the search API.
const (
	SortFirstRetrieve = "f" // newest uploads first
	SortCommentCount  = "n" // recently commented first
)

// Config holds credentials and endpoint overrides (tests point the
// endpoints at a local server).
type Config struct {
	Mail     string
	Password string

	LoginURL  string
	SearchURL string
	GetFLVURL string
}

// Client is a Nico Nico search client with session cookies.
type Client struct {
	cfg     Config
	httpc   *http.Client
	fetcher *fetch.Fetcher
	log     zerolog.Logger

	sleep    func(time.Duration)
	loggedIn bool
}

// New creates a Client. The fetcher supplies retry, throttle, and the
// failure budget shared across this client's calls.
func New(cfg Config, fetcher *fetch.Fetcher, logger zerolog.Logger) *Client {
	if cfg.LoginURL == "" {
		cfg.LoginURL = defaultLoginURL
	}
	if cfg.SearchURL == "" {
		cfg.SearchURL = defaultSearchURL
	}
	if cfg.GetFLVURL == "" {
		cfg.GetFLVURL = defaultGetFLVURL
	}
	jar, _ := cookiejar.New(nil)
	return &Client{
		cfg:     cfg,
		httpc:   &http.Client{Jar: jar, Timeout: 30 * time.Second},
		fetcher: fetcher,
		log:     logger,
		sleep:   time.Sleep,
	}
}

// Login establishes the session used by the comment endpoints.
func (c *Client) Login(ctx context.Context) error {
	form := url.Values{
		"mail":     {c.cfg.Mail},
		"password": {c.cfg.Password},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.LoginURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("niconico login: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("niconico login: status %d", resp.StatusCode)
	}
	c.loggedIn = true
	return nil
}

type searchResponse struct {
	Status string       `json:"status"`
	List   []searchItem `json:"list"`
}

type searchItem struct {
	ID               string  `json:"id"`
	Title            string  `json:"title"`
	DescriptionShort string  `json:"description_short"`
	Length           string  `json:"length"`
	FirstRetrieve    string  `json:"first_retrieve"`
	MylistCounter    flexInt `json:"mylist_counter"`
	ViewCounter      flexInt `json:"view_counter"`
	ThumbnailURL     string  `json:"thumbnail_url"`
	NumRes           flexInt `json:"num_res"`
}

// flexInt accepts both numeric and quoted-numeric JSON values; the search
// API is inconsistent about which it returns.
type flexInt int

func (f *flexInt) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	*f = flexInt(n)
	return nil
}

// SearchVideos fetches up to maxPages of keyword search results, dropping
// videos first seen before since. Pagination stops early on an empty page.
func (c *Client) SearchVideos(ctx context.Context, keyword string, since time.Time, sortKey string, maxPages int) ([]*Video, error) {
	if maxPages <= 0 {
		maxPages = 1
	}

	var videos []*Video
	for page := 1; page <= maxPages; page++ {
		var items []searchItem
		err := c.fetcher.Do(ctx, func(ctx context.Context) error {
			var err error
			items, err = c.fetchPage(ctx, keyword, sortKey, page)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("niconico search %q page %d: %w", keyword, page, err)
		}
		if len(items) == 0 {
			break
		}
		for _, it := range items {
			v, err := it.toVideo()
			if err != nil {
				return nil, fmt.Errorf("niconico search %q: %w", keyword, err)
			}
			if v.FirstRetrieve.Before(since) {
				continue
			}
			videos = append(videos, v)
		}
	}
	return videos, nil
}

func (it searchItem) toVideo() (*Video, error) {
	firstRetrieve, err := time.ParseInLocation(firstRetrieveLayout, it.FirstRetrieve, time.Local)
	if err != nil {
		return nil, fmt.Errorf("video %s: bad first_retrieve %q: %w", it.ID, it.FirstRetrieve, err)
	}
	return &Video{
		ID:            it.ID,
		Title:         it.Title,
		Description:   it.DescriptionShort,
		Length:        it.Length,
		FirstRetrieve: firstRetrieve,
		ViewCount:     int(it.ViewCounter),
		MylistCount:   int(it.MylistCounter),
		CommentCount:  int(it.NumRes),
		ThumbnailURL:  it.ThumbnailURL,
	}, nil
}

func (c *Client) fetchPage(ctx context.Context, keyword, sortKey string, page int) ([]searchItem, error) {
	params := url.Values{
		"mode":  {"watch"},
		"sort":  {sortKey},
		"order": {"d"},
		"page":  {strconv.Itoa(page)},
	}
	u := c.cfg.SearchURL + url.QueryEscape(keyword) + "?" + params.Encode()

	body, err := c.get(ctx, u)
	if err != nil {
		return nil, err
	}

	var sr searchResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	if sr.Status != "ok" {
		return nil, fmt.Errorf("search returned status %q", sr.Status)
	}
	return sr.List, nil
}

// SearchVideosWithComments searches videos by recent comment activity and
// attaches their comments posted at or after since. Videos with no
// comments, or more than maxComments, are skipped. A single exhausted
// comment fetch triggers a cooldown and moves on; once the fetcher's
// failure budget is spent the whole search fails.
func (c *Client) SearchVideosWithComments(ctx context.Context, keyword string, since time.Time, maxComments int) ([]*Video, error) {
	if !c.loggedIn {
		if err := c.Login(ctx); err != nil {
			return nil, err
		}
	}

	videos, err := c.SearchVideos(ctx, keyword, time.Time{}, SortCommentCount, 1)
	if err != nil {
		return nil, err
	}

	var results []*Video
	for _, v := range videos {
		if v.CommentCount <= 0 || v.CommentCount > maxComments {
			continue
		}

		var body []byte
		err := c.fetcher.Do(ctx, func(ctx context.Context) error {
			var err error
			body, err = c.fetchComments(ctx, v.ID)
			return err
		})
		if err != nil {
			if c.fetcher.ExhaustedBudget() {
				return nil, fmt.Errorf("niconico comment fetch: failure budget spent after %d failures: %w",
					c.fetcher.Failures(), err)
			}
			cooldown := c.fetcher.Cooldown()
			c.log.Warn().
				Err(err).
				Str("video", v.ID).
				Dur("cooldown", cooldown).
				Msg("comment fetch exhausted retries, cooling down")
			c.sleep(cooldown)
			continue
		}
		if body == nil {
			continue
		}

		comments, err := parseComments(body, since)
		if err != nil {
			return nil, fmt.Errorf("niconico comments for %s: %w", v.ID, err)
		}
		if len(comments) == 0 {
			continue
		}
		v.Comments = comments
		results = append(results, v)
	}
	return results, nil
}

// fetchComments resolves the message server for the video and posts the
// thread request. A video without a resolvable message server yields
// (nil, nil) and is skipped by the caller.
func (c *Client) fetchComments(ctx context.Context, videoID string) ([]byte, error) {
	body, err := c.get(ctx, c.cfg.GetFLVURL+videoID)
	if err != nil {
		return nil, err
	}
	vals, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, fmt.Errorf("parse getflv response: %w", err)
	}
	if vals.Get("error") != "" {
		return nil, fmt.Errorf("getflv %s: error %q", videoID, vals.Get("error"))
	}
	ms := vals.Get("ms")
	if ms == "" {
		c.log.Error().Str("video", videoID).Msg("no message server in getflv response")
		return nil, nil
	}

	packet := fmt.Sprintf(threadPacket, vals.Get("thread_id"), vals.Get("user_id"))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ms, strings.NewReader(packet))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "text/xml")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("message server returned status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

type threadResponse struct {
	Chats []chatNode `xml:"chat"`
}

type chatNode struct {
	Date int64  `xml:"date,attr"`
	Vpos int    `xml:"vpos,attr"`
	Text string `xml:",chardata"`
}

// parseComments extracts comments posted at or after since. Vpos is in
// hundredths of a second.
func parseComments(body []byte, since time.Time) ([]Comment, error) {
	var tr threadResponse
	if err := xml.Unmarshal(body, &tr); err != nil {
		return nil, fmt.Errorf("decode thread response: %w", err)
	}

	var comments []Comment
	for _, chat := range tr.Chats {
		if chat.Text == "" {
			continue
		}
		postedAt := time.Unix(chat.Date, 0)
		if postedAt.Before(since) {
			continue
		}
		comments = append(comments, Comment{
			Text:     chat.Text,
			PlayPos:  fmt.Sprintf("%02d:%02d", chat.Vpos/100/60, chat.Vpos/100%60),
			PostedAt: postedAt,
		})
	}
	return comments, nil
}

func (c *Client) get(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: status %d", u, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
