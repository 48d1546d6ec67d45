// Package config provides configuration loading and default values.
package config

import (
	"os"

	yaml "gopkg.in/yaml.v2"
)

type OAuthConfig struct {
	Port        string `yaml:"port"`
	RedirectURI string `yaml:"redirect_uri"`
}

// ServiceConfig is one remote tracking service's credentials. A service
// with no explicit enabled flag counts as enabled once a client ID is set.
type ServiceConfig struct {
	Enabled      *bool  `yaml:"enabled"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	Username     string `yaml:"username"`
}

// IsEnabled reports whether the service takes part in syncs.
func (c ServiceConfig) IsEnabled() bool {
	if c.Enabled != nil {
		return *c.Enabled
	}
	return c.ClientID != ""
}

type TMDBConfig struct {
	APIKey string `yaml:"api_key"`
}

type SyncConfig struct {
	IntervalHours int   `yaml:"interval_hours"`
	Watchlist     *bool `yaml:"watchlist"`
	History       *bool `yaml:"history"`
	Ratings       *bool `yaml:"ratings"`
	HistoryMax    int   `yaml:"history_max"`
}

type Config struct {
	OAuth       OAuthConfig   `yaml:"oauth"`
	AniList     ServiceConfig `yaml:"anilist"`
	MyAnimeList ServiceConfig `yaml:"myanimelist"`
	Trakt       ServiceConfig `yaml:"trakt"`
	TMDB        TMDBConfig    `yaml:"tmdb"`
	Sync        SyncConfig    `yaml:"sync"`

	DataDir        string `yaml:"data_dir"`
	CacheDir       string `yaml:"cache_dir"`
	CredentialsDir string `yaml:"credentials_dir"`
}

// Default returns the configuration used when no file exists.
func Default() Config {
	var cfg Config
	applyDefaults(&cfg)
	return cfg
}

// Load reads configuration from a YAML file and applies environment overrides.
func Load(filename string) (Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}

	if port := os.Getenv("PORT"); port != "" {
		cfg.OAuth.Port = port
	}

	if clientSecret := os.Getenv("CLIENT_SECRET_ANILIST"); clientSecret != "" {
		cfg.AniList.ClientSecret = clientSecret
	}

	if clientSecret := os.Getenv("CLIENT_SECRET_MYANIMELIST"); clientSecret != "" {
		cfg.MyAnimeList.ClientSecret = clientSecret
	}

	if clientSecret := os.Getenv("CLIENT_SECRET_TRAKT"); clientSecret != "" {
		cfg.Trakt.ClientSecret = clientSecret
	}

	if apiKey := os.Getenv("TMDB_API_KEY"); apiKey != "" {
		cfg.TMDB.APIKey = apiKey
	}

	applyDefaults(&cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.OAuth.Port == "" {
		cfg.OAuth.Port = "18080"
	}
	if cfg.DataDir == "" {
		cfg.DataDir = os.ExpandEnv("$HOME/.local/share/animedb-helper")
	}
	if cfg.CredentialsDir == "" {
		cfg.CredentialsDir = os.ExpandEnv("$HOME/.config/animedb-helper/credentials")
	}
	if cfg.Sync.IntervalHours <= 0 {
		cfg.Sync.IntervalHours = 6
	}
	if cfg.Sync.HistoryMax <= 0 {
		cfg.Sync.HistoryMax = 1000
	}
	for _, stage := range []**bool{&cfg.Sync.Watchlist, &cfg.Sync.History, &cfg.Sync.Ratings} {
		if *stage == nil {
			v := true
			*stage = &v
		}
	}
}
