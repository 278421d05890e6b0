// Package config loads vidbot configuration from a TOML file with
// environment overrides for secrets.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration is a time.Duration that unmarshals from TOML strings like "15s".
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config holds application configuration.
type Config struct {
	Bot      BotConfig      `toml:"bot"`
	Feed     FeedConfig     `toml:"feed"`
	Niconico NiconicoConfig `toml:"niconico"`
	YouTube  YouTubeConfig  `toml:"youtube"`
	Server   ServerConfig   `toml:"server"`
}

// BotConfig controls the scheduler process.
type BotConfig struct {
	DBPath string   `toml:"db_path"`
	Tick   Duration `toml:"tick_interval"`
	DryRun bool     `toml:"dry_run"`
}

// FeedConfig configures the feed poster and message budget.
type FeedConfig struct {
	Token     string   `toml:"token"`
	ChatID    int64    `toml:"chat_id"`
	MaxLength int      `toml:"message_max_length"`
	URLWidth  int      `toml:"url_display_width"`
	PostSleep Duration `toml:"post_sleep"`
}

// NiconicoConfig configures the Nico Nico search jobs.
type NiconicoConfig struct {
	Mail                 string   `toml:"mail"`
	Password             string   `toml:"password"`
	Keyword              string   `toml:"keyword"`
	VideoIntervalMin     int      `toml:"video_interval_min"`
	CommentIntervalMin   int      `toml:"comment_interval_min"`
	CommentedIntervalMin int      `toml:"commented_interval_min"`
	CommentedCount       int      `toml:"commented_count"`
	CommentedPages       int      `toml:"commented_pages"`
	MaxRetries           int      `toml:"max_retries"`
	RetrySleep           Duration `toml:"retry_sleep"`
	FetchSleep           Duration `toml:"fetch_sleep"`
	MaxFetchFailures     int      `toml:"max_fetch_failures"`
	ExpiryDays           int      `toml:"expiry_days"`
	MaxRepeatCount       int      `toml:"max_repeat_count"`
	MaxComments          int      `toml:"max_comments"`
	SearchPages          int      `toml:"search_pages"`
	CommentsPerVideo     int      `toml:"comments_per_video"`
}

// YouTubeConfig configures the YouTube search job.
type YouTubeConfig struct {
	DeveloperKey string `toml:"developer_key"`
	Keyword      string `toml:"keyword"`
	IntervalMin  int    `toml:"interval_min"`
	MaxResults   int    `toml:"max_results"`
}

// ServerConfig configures the status HTTP server.
type ServerConfig struct {
	Port int `toml:"port"`
}

// DefaultDBPath returns the default ledger path using XDG_CACHE_HOME.
func DefaultDBPath() string {
	cacheDir := os.Getenv("XDG_CACHE_HOME")
	if cacheDir == "" {
		home, _ := os.UserHomeDir()
		cacheDir = filepath.Join(home, ".cache")
	}
	return filepath.Join(cacheDir, "vidbot", "ledger.db")
}

func defaults() *Config {
	return &Config{
		Bot: BotConfig{
			DBPath: DefaultDBPath(),
			Tick:   Duration(time.Minute),
		},
		Feed: FeedConfig{
			MaxLength: 140,
			URLWidth:  22,
			PostSleep: Duration(time.Second),
		},
		Niconico: NiconicoConfig{
			VideoIntervalMin:     30,
			CommentIntervalMin:   60,
			CommentedIntervalMin: 60,
			CommentedCount:       3,
			CommentedPages:       5,
			MaxRetries:           3,
			RetrySleep:           Duration(15 * time.Second),
			FetchSleep:           Duration(time.Second),
			MaxFetchFailures:     2,
			ExpiryDays:           30,
			MaxRepeatCount:       1,
			MaxComments:          1500,
			SearchPages:          1,
			CommentsPerVideo:     1,
		},
		YouTube: YouTubeConfig{
			IntervalMin: 60,
			MaxResults:  32,
		},
		Server: ServerConfig{
			Port: 8080,
		},
	}
}

// Load reads the TOML file at path (optional) over built-in defaults,
// then applies environment overrides for secrets.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	// Env overrides keep secrets out of the config file.
	if v := os.Getenv("VIDBOT_DB"); v != "" {
		cfg.Bot.DBPath = v
	}
	if v := os.Getenv("VIDBOT_FEED_TOKEN"); v != "" {
		cfg.Feed.Token = v
	}
	if v := os.Getenv("VIDBOT_NICONICO_MAIL"); v != "" {
		cfg.Niconico.Mail = v
	}
	if v := os.Getenv("VIDBOT_NICONICO_PASSWORD"); v != "" {
		cfg.Niconico.Password = v
	}
	if v := os.Getenv("VIDBOT_YOUTUBE_KEY"); v != "" {
		cfg.YouTube.DeveloperKey = v
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if !c.Bot.DryRun && c.Feed.Token == "" {
		return fmt.Errorf("feed token is required unless dry_run is set")
	}
	if c.Bot.Tick.Std() < time.Second {
		return fmt.Errorf("tick_interval %s is too small", c.Bot.Tick.Std())
	}
	if c.Feed.MaxLength <= 0 {
		return fmt.Errorf("message_max_length must be positive")
	}
	return nil
}
