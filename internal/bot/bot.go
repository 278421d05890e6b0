// Package bot assembles the scheduled posting jobs: search a video
// service for new activity since the job's last run, render each hit
// into a budgeted message, gate it through the posted-item ledger, and
// deliver it to the feed.
package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"vidbot/internal/adapter/nicovideo"
	"vidbot/internal/adapter/youtube"
	"vidbot/internal/domain"
	"vidbot/internal/message"
	"vidbot/internal/scheduler"
)

// Owner is the ledger owner key for every job in this package.
const Owner = "VideoBot"

// Job names; these key the persisted last-run ledger, so renaming one
// resets its schedule.
const (
	ActionNewVideos       = "post_new_videos"
	ActionHotComments     = "post_hot_comments"
	ActionLatestCommented = "post_latest_commented"
	ActionYouTubeVideos   = "post_youtube_videos"
)

const whenLayout = "06/01/02 15:04"

// Message templates. The url field is counted at the shortened display
// width and is never trimmed.
const (
	videoTemplate   = "{title} [{when}] | {url}"
	commentTemplate = "[C]{comment} ({pos})[{when}] | {title} {url}"
	youtubeTemplate = "YouTube - {title} [{when}] | {url}"
)

// NicoSearcher is the slice of the Nico Nico client the bot uses.
type NicoSearcher interface {
	SearchVideos(ctx context.Context, keyword string, since time.Time, sortKey string, maxPages int) ([]*nicovideo.Video, error)
	SearchVideosWithComments(ctx context.Context, keyword string, since time.Time, maxComments int) ([]*nicovideo.Video, error)
}

// YouTubeSearcher is the slice of the YouTube client the bot uses.
type YouTubeSearcher interface {
	Search(ctx context.Context, keyword string, since time.Time) ([]*youtube.Video, error)
}

// Config tunes the jobs. Jobs whose keyword is empty are not registered.
type Config struct {
	NicoKeyword      string
	VideoInterval    time.Duration
	CommentInterval  time.Duration
	SearchPages      int
	MaxComments      int
	CommentsPerVideo int

	CommentedInterval time.Duration
	CommentedCount    int
	CommentedPages    int

	YouTubeKeyword  string
	YouTubeInterval time.Duration

	MaxRepeat int
	Expiry    time.Duration
	PostSleep time.Duration
}

// Bot holds the job dependencies.
type Bot struct {
	cfg    Config
	ledger domain.JobLedger
	posts  domain.PostLedger
	poster domain.Poster
	trunc  message.Truncator
	nico   NicoSearcher
	yt     YouTubeSearcher
	log    zerolog.Logger

	sleep func(time.Duration)
}

// New creates a Bot. nico and yt may be nil when the matching keyword is
// unset.
func New(cfg Config, ledger domain.JobLedger, posts domain.PostLedger, poster domain.Poster,
	trunc message.Truncator, nico NicoSearcher, yt YouTubeSearcher, logger zerolog.Logger) *Bot {
	if cfg.CommentsPerVideo <= 0 {
		cfg.CommentsPerVideo = 1
	}
	if cfg.CommentedCount <= 0 {
		cfg.CommentedCount = 3
	}
	if cfg.CommentedPages <= 0 {
		cfg.CommentedPages = 5
	}
	if cfg.MaxRepeat <= 0 {
		cfg.MaxRepeat = 1
	}
	return &Bot{
		cfg:    cfg,
		ledger: ledger,
		posts:  posts,
		poster: poster,
		trunc:  trunc,
		nico:   nico,
		yt:     yt,
		log:    logger,
		sleep:  time.Sleep,
	}
}

// Actions returns the scheduling descriptors for the configured jobs.
func (b *Bot) Actions() []scheduler.Action {
	var actions []scheduler.Action
	if b.cfg.NicoKeyword != "" {
		actions = append(actions,
			scheduler.Action{Owner: Owner, Name: ActionNewVideos, Interval: b.cfg.VideoInterval, Run: b.PostNewVideos},
			scheduler.Action{Owner: Owner, Name: ActionHotComments, Interval: b.cfg.CommentInterval, Run: b.PostHotComments},
			scheduler.Action{Owner: Owner, Name: ActionLatestCommented, Interval: b.cfg.CommentedInterval, Run: b.PostLatestCommentedVideos},
		)
	}
	if b.cfg.YouTubeKeyword != "" {
		actions = append(actions,
			scheduler.Action{Owner: Owner, Name: ActionYouTubeVideos, Interval: b.cfg.YouTubeInterval, Run: b.PostYouTubeVideos},
		)
	}
	return actions
}

// sinceFor returns the job's persisted last-run time, the lower bound
// for "new since last time" searches. A never-run job gets the epoch
// and sees everything.
func (b *Bot) sinceFor(ctx context.Context, action string) (time.Time, error) {
	rec, err := b.ledger.Get(ctx, Owner, action)
	if err != nil {
		return time.Time{}, fmt.Errorf("last run of %s.%s: %w", Owner, action, err)
	}
	return rec.LastRunAt, nil
}

// PostNewVideos posts videos uploaded since the job last ran. The
// search returns newest first; posting walks it backwards so the feed
// reads chronologically.
func (b *Bot) PostNewVideos(ctx context.Context) error {
	since, err := b.sinceFor(ctx, ActionNewVideos)
	if err != nil {
		return err
	}
	videos, err := b.nico.SearchVideos(ctx, b.cfg.NicoKeyword, since, nicovideo.SortFirstRetrieve, b.cfg.SearchPages)
	if err != nil {
		return err
	}

	var batch []item
	var errs []error
	for i := len(videos) - 1; i >= 0; i-- {
		v := videos[i]
		msg, err := b.trunc.Format(videoTemplate, nil, map[string]string{
			"title": v.Title,
			"when":  v.FirstRetrieve.Format(whenLayout),
			"url":   v.URL(),
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("format video %s: %w", v.ID, err))
			continue
		}
		batch = append(batch, item{id: "nico:" + v.ID, msg: msg})
	}
	return b.postBatch(ctx, batch, errs, 0)
}

// PostHotComments posts recent comments from actively commented videos.
func (b *Bot) PostHotComments(ctx context.Context) error {
	since, err := b.sinceFor(ctx, ActionHotComments)
	if err != nil {
		return err
	}
	videos, err := b.nico.SearchVideosWithComments(ctx, b.cfg.NicoKeyword, since, b.cfg.MaxComments)
	if err != nil {
		return err
	}

	var batch []item
	var errs []error
	for _, v := range videos {
		for _, c := range v.LatestComments(b.cfg.CommentsPerVideo) {
			msg, err := b.trunc.Format(commentTemplate, nil, map[string]string{
				"comment": c.Text,
				"pos":     c.PlayPos,
				"when":    c.PostedAt.Format(whenLayout),
				"title":   v.Title,
				"url":     v.URL(),
			})
			if err != nil {
				errs = append(errs, fmt.Errorf("format comment on %s: %w", v.ID, err))
				continue
			}
			batch = append(batch, item{
				id:  fmt.Sprintf("nico-comment:%s:%d", v.ID, c.PostedAt.Unix()),
				msg: msg,
			})
		}
	}
	return b.postBatch(ctx, batch, errs, 0)
}

// PostLatestCommentedVideos re-announces videos that recent comment
// activity has surfaced again. There is no since cutoff: an old video
// can come back once its suppression window has lapsed. At most
// CommentedCount videos pass the gate per run.
func (b *Bot) PostLatestCommentedVideos(ctx context.Context) error {
	videos, err := b.nico.SearchVideos(ctx, b.cfg.NicoKeyword, time.Time{}, nicovideo.SortCommentCount, b.cfg.CommentedPages)
	if err != nil {
		return err
	}

	var batch []item
	var errs []error
	for _, v := range videos {
		msg, err := b.trunc.Format(videoTemplate, nil, map[string]string{
			"title": v.Title,
			"when":  v.FirstRetrieve.Format(whenLayout),
			"url":   v.URL(),
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("format video %s: %w", v.ID, err))
			continue
		}
		batch = append(batch, item{id: "nico:" + v.ID, msg: msg})
	}
	return b.postBatch(ctx, batch, errs, b.cfg.CommentedCount)
}

// PostYouTubeVideos posts videos published since the job last ran.
func (b *Bot) PostYouTubeVideos(ctx context.Context) error {
	since, err := b.sinceFor(ctx, ActionYouTubeVideos)
	if err != nil {
		return err
	}
	videos, err := b.yt.Search(ctx, b.cfg.YouTubeKeyword, since)
	if err != nil {
		return err
	}

	var batch []item
	var errs []error
	for i := len(videos) - 1; i >= 0; i-- {
		v := videos[i]
		msg, err := b.trunc.Format(youtubeTemplate, nil, map[string]string{
			"title": v.Title,
			"when":  v.PublishedAt.Format(whenLayout),
			"url":   v.URL(),
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("format video %s: %w", v.ID, err))
			continue
		}
		batch = append(batch, item{id: "yt:" + v.ID, msg: msg})
	}
	return b.postBatch(ctx, batch, errs, 0)
}

type item struct {
	id  string
	msg string
}

// PostError aggregates per-message failures from one job run. Every
// message in the batch is attempted before the aggregate is returned.
type PostError struct {
	Errs []error
}

func (e *PostError) Error() string {
	msgs := make([]string, len(e.Errs))
	for i, err := range e.Errs {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("%d message(s) failed: %s", len(e.Errs), strings.Join(msgs, "; "))
}

func (e *PostError) Unwrap() []error { return e.Errs }

// postBatch delivers the batch, one message at a time. Each item is
// gated through the posted-item ledger; a recorded item that fails to
// send is not retried on the next run. A ledger error is fatal, a
// delivery or formatting error is collected into the aggregate. A
// non-zero maxPosts stops the batch after that many items pass the
// gate; the rest stay unrecorded for the next run.
func (b *Bot) postBatch(ctx context.Context, batch []item, errs []error, maxPosts int) error {
	posted := 0
	for _, it := range batch {
		ok, err := b.posts.ShouldPostAndRecord(ctx, it.id, b.cfg.MaxRepeat, b.cfg.Expiry)
		if err != nil {
			return fmt.Errorf("post ledger %s: %w", it.id, err)
		}
		if !ok {
			b.log.Debug().Str("item", it.id).Msg("suppressed duplicate")
			continue
		}
		if err := b.poster.Post(ctx, it.msg); err != nil {
			errs = append(errs, fmt.Errorf("post %s: %w", it.id, err))
		} else {
			b.log.Info().Str("item", it.id).Int("length", len([]rune(it.msg))).Msg("posted")
		}
		posted++
		if maxPosts > 0 && posted >= maxPosts {
			break
		}
		if b.cfg.PostSleep > 0 {
			b.sleep(b.cfg.PostSleep)
		}
	}
	if len(errs) > 0 {
		return &PostError{Errs: errs}
	}
	return nil
}
