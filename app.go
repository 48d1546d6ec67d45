package main

import (
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/animedb/animedb-helper/internal/auth"
	"github.com/animedb/animedb-helper/internal/cache"
	"github.com/animedb/animedb-helper/internal/config"
	"github.com/animedb/animedb-helper/internal/library"
	"github.com/animedb/animedb-helper/internal/remote"
	"github.com/animedb/animedb-helper/internal/syncer"
)

const (
	anilistAuthURL  = "https://anilist.co/api/v2/oauth/authorize"
	anilistTokenURL = "https://anilist.co/api/v2/oauth/token"

	malAuthURL  = "https://myanimelist.net/v1/oauth2/authorize"
	malTokenURL = "https://myanimelist.net/v1/oauth2/token"

	traktDeviceCodeURL  = "https://api.trakt.tv/oauth/device/code"
	traktDeviceTokenURL = "https://api.trakt.tv/oauth/device/token"
	traktRefreshURL     = "https://api.trakt.tv/oauth/token"

	httpTimeout = 2 * time.Minute
	maxRetries  = 3
)

// App wires the library store, caches, credentials and remote clients into
// the sync engine. Every command works through one App.
type App struct {
	config config.Config
	logger *Logger

	store    *library.Store
	cache    *cache.Cache
	creds    *auth.Store
	registry *remote.Registry
	tmdb     *remote.TMDB
	engine   *syncer.Engine
	monitor  *syncer.Monitor

	refreshers map[library.Source]auth.RefreshFunc
}

// NewApp builds the full component graph from config. Services without
// credentials are left out of the registry.
func NewApp(cfg config.Config, logger *Logger) (*App, error) {
	store, err := library.Open(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open library: %w", err)
	}

	fileCache, err := cache.New(cfg.CacheDir)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}

	creds, err := auth.NewStore(cfg.CredentialsDir)
	if err != nil {
		return nil, fmt.Errorf("open credential store: %w", err)
	}

	httpClient := &http.Client{
		Timeout:   httpTimeout,
		Transport: newLoggingRoundTripper(nil, logger),
	}

	app := &App{
		config:     cfg,
		logger:     logger,
		store:      store,
		cache:      fileCache,
		creds:      creds,
		refreshers: make(map[library.Source]auth.RefreshFunc),
	}

	var services []remote.Service

	if cfg.AniList.IsEnabled() {
		flow := app.anilistFlow()
		app.refreshers[library.SourceAniList] = flow.Refresh
		tokens := auth.NewProvider(creds, library.SourceAniList, flow.Refresh)
		services = append(services, remote.NewAniList(httpClient, tokens, cfg.AniList.Username, fileCache, maxRetries))
		logger.Debug("AniList client enabled")
	}

	if cfg.MyAnimeList.IsEnabled() {
		flow := app.malFlow()
		app.refreshers[library.SourceMAL] = flow.Refresh
		tokens := auth.NewProvider(creds, library.SourceMAL, flow.Refresh)
		malHTTP := &http.Client{
			Timeout: httpTimeout,
			Transport: &bearerTransport{
				base:   newLoggingRoundTripper(nil, logger),
				tokens: tokens,
			},
		}
		services = append(services, remote.NewMAL(malHTTP, cfg.MyAnimeList.Username, fileCache))
		logger.Debug("MyAnimeList client enabled")
	}

	if cfg.Trakt.IsEnabled() {
		flow := app.traktFlow()
		app.refreshers[library.SourceTrakt] = flow.Refresh
		tokens := auth.NewProvider(creds, library.SourceTrakt, flow.Refresh)
		services = append(services, remote.NewTrakt(httpClient, tokens, cfg.Trakt.ClientID, maxRetries))
		logger.Debug("Trakt client enabled")
	}

	app.registry = remote.NewRegistry(services...)
	app.tmdb = remote.NewTMDB(httpClient, cfg.TMDB.APIKey, fileCache)

	app.engine = syncer.New(store, app.registry, syncer.Options{
		Watchlist: *cfg.Sync.Watchlist,
		History:   *cfg.Sync.History,
		Ratings:   *cfg.Sync.Ratings,
	})

	app.monitor = syncer.NewMonitor(app.engine, store, creds)
	app.monitor.Refreshers = app.refreshers
	app.monitor.SyncInterval = time.Duration(cfg.Sync.IntervalHours) * time.Hour
	app.monitor.HistoryMax = cfg.Sync.HistoryMax

	return app, nil
}

// redirectURI resolves the OAuth callback URL for the code flows.
func (a *App) redirectURI() string {
	if a.config.OAuth.RedirectURI != "" {
		return a.config.OAuth.RedirectURI
	}
	return fmt.Sprintf("http://localhost:%s/callback", a.config.OAuth.Port)
}

func (a *App) anilistFlow() *auth.CodeFlow {
	return auth.NewCodeFlow(a.creds, library.SourceAniList, &oauth2.Config{
		ClientID:     a.config.AniList.ClientID,
		ClientSecret: a.config.AniList.ClientSecret,
		RedirectURL:  a.redirectURI(),
		Endpoint: oauth2.Endpoint{
			AuthURL:  anilistAuthURL,
			TokenURL: anilistTokenURL,
		},
	})
}

// malFlow uses PKCE with the plain challenge method, which is the only one
// MyAnimeList accepts.
func (a *App) malFlow() *auth.CodeFlow {
	verifier := oauth2.GenerateVerifier()
	return auth.NewCodeFlow(a.creds, library.SourceMAL, &oauth2.Config{
		ClientID:     a.config.MyAnimeList.ClientID,
		ClientSecret: a.config.MyAnimeList.ClientSecret,
		RedirectURL:  a.redirectURI(),
		Endpoint: oauth2.Endpoint{
			AuthURL:  malAuthURL,
			TokenURL: malTokenURL,
		},
	},
		oauth2.SetAuthURLParam("code_challenge", verifier),
		oauth2.SetAuthURLParam("code_challenge_method", "plain"),
		oauth2.VerifierOption(verifier),
	)
}

func (a *App) traktFlow() *auth.DeviceFlow {
	return auth.NewDeviceFlow(a.creds, library.SourceTrakt,
		a.config.Trakt.ClientID, a.config.Trakt.ClientSecret,
		traktDeviceCodeURL, traktDeviceTokenURL, traktRefreshURL)
}

// loadApp builds an App from the --config flag, falling back to defaults
// when the file does not exist.
func loadApp(configPath string, verbose bool) (*App, error) {
	logger := NewLogger(verbose)

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Debug("Config %s not loaded (%v), using defaults", configPath, err)
		cfg = config.Default()
	}

	return NewApp(cfg, logger)
}
