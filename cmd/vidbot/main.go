package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"vidbot/internal/adapter/feed"
	httpAdapter "vidbot/internal/adapter/http"
	"vidbot/internal/adapter/nicovideo"
	"vidbot/internal/adapter/sqlite"
	"vidbot/internal/adapter/youtube"
	"vidbot/internal/bot"
	"vidbot/internal/config"
	"vidbot/internal/domain"
	"vidbot/internal/fetch"
	"vidbot/internal/message"
	"vidbot/internal/scheduler"
	"vidbot/internal/worker"
)

func main() {
	configPath := flag.String("config", "", "path to TOML config file")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	level := zerolog.InfoLevel
	if *debug {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	log.Info().
		Str("db", cfg.Bot.DBPath).
		Dur("tick", cfg.Bot.Tick.Std()).
		Bool("dry_run", cfg.Bot.DryRun).
		Msg("starting vidbot")

	repo, err := sqlite.New(cfg.Bot.DBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("open ledger database")
	}
	defer repo.Close()

	fetcher := fetch.New(fetch.Config{
		MaxRetries:  cfg.Niconico.MaxRetries,
		RetrySleep:  cfg.Niconico.RetrySleep.Std(),
		FetchSleep:  cfg.Niconico.FetchSleep.Std(),
		MaxFailures: cfg.Niconico.MaxFetchFailures,
	}, log)

	nico := nicovideo.New(nicovideo.Config{
		Mail:     cfg.Niconico.Mail,
		Password: cfg.Niconico.Password,
	}, fetcher, log)

	var yt bot.YouTubeSearcher
	if cfg.YouTube.Keyword != "" {
		yt = youtube.New(youtube.Config{
			DeveloperKey: cfg.YouTube.DeveloperKey,
			MaxResults:   cfg.YouTube.MaxResults,
		}, fetcher)
	}

	var poster domain.Poster
	if cfg.Bot.DryRun {
		poster = feed.NewDryRun(log)
	} else {
		poster, err = feed.NewTelegram(cfg.Feed.Token, cfg.Feed.ChatID)
		if err != nil {
			log.Fatal().Err(err).Msg("create feed poster")
		}
	}

	trunc := message.Truncator{
		MaxLength: cfg.Feed.MaxLength,
		URLField:  message.DefaultURLField,
		URLWidth:  cfg.Feed.URLWidth,
	}

	b := bot.New(bot.Config{
		NicoKeyword:      cfg.Niconico.Keyword,
		VideoInterval:    time.Duration(cfg.Niconico.VideoIntervalMin) * time.Minute,
		CommentInterval:  time.Duration(cfg.Niconico.CommentIntervalMin) * time.Minute,
		SearchPages:      cfg.Niconico.SearchPages,
		MaxComments:      cfg.Niconico.MaxComments,
		CommentsPerVideo: cfg.Niconico.CommentsPerVideo,

		CommentedInterval: time.Duration(cfg.Niconico.CommentedIntervalMin) * time.Minute,
		CommentedCount:    cfg.Niconico.CommentedCount,
		CommentedPages:    cfg.Niconico.CommentedPages,

		YouTubeKeyword:   cfg.YouTube.Keyword,
		YouTubeInterval:  time.Duration(cfg.YouTube.IntervalMin) * time.Minute,
		MaxRepeat:        cfg.Niconico.MaxRepeatCount,
		Expiry:           time.Duration(cfg.Niconico.ExpiryDays) * 24 * time.Hour,
		PostSleep:        cfg.Feed.PostSleep.Std(),
	}, repo, repo, poster, trunc, nico, yt, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sched := scheduler.New(repo, log)
	if err := sched.Register(ctx, b.Actions()...); err != nil {
		log.Fatal().Err(err).Msg("register jobs")
	}

	w := worker.New(sched, cfg.Bot.Tick.Std(), log)
	if err := w.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("start worker")
	}

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := httpAdapter.NewServer(sched, addr, log)
	go func() {
		log.Info().Str("addr", addr).Msg("status server listening")
		if err := srv.ListenAndServe(); err != nil && err.Error() != "http: Server closed" {
			log.Error().Err(err).Msg("status server error")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("shutting down")

	cancel()
	w.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("status server shutdown error")
	}

	log.Info().Msg("shutdown complete")
}
