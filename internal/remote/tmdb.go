package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/animedb/animedb-helper/internal/cache"
	"github.com/animedb/animedb-helper/internal/httpx"
	"github.com/animedb/animedb-helper/internal/library"
)

const (
	tmdbBaseURL      = "https://api.themoviedb.org/3"
	tmdbImageBaseURL = "https://image.tmdb.org/t/p"
	tmdbPosterSize   = "w500"
	tmdbBackdropSize = "w1280"

	artworkTTL = 7 * 24 * time.Hour
)

// Artwork is the image set TMDB contributes for one title.
type Artwork struct {
	TMDBID int    `json:"tmdb_id"`
	Poster string `json:"poster,omitempty"`
	Banner string `json:"banner,omitempty"`
}

type tmdbTV struct {
	ID           int     `json:"id"`
	Name         string  `json:"name"`
	Overview     string  `json:"overview"`
	PosterPath   string  `json:"poster_path"`
	BackdropPath string  `json:"backdrop_path"`
	VoteAverage  float64 `json:"vote_average"`
	FirstAirDate string  `json:"first_air_date"`
}

type tmdbSearchResponse struct {
	Results []tmdbTV `json:"results"`
}

// TMDB resolves poster and backdrop art for watchlist items. It is a
// metadata sidecar, not a tracked list service.
type TMDB struct {
	http    *httpx.Client
	cache   *cache.Cache
	apiKey  string
	baseURL string
}

// NewTMDB builds the client. An empty apiKey disables enrichment.
func NewTMDB(httpClient *http.Client, apiKey string, c *cache.Cache) *TMDB {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &TMDB{
		http:    httpx.New(httpClient, nil, 2),
		cache:   c,
		apiKey:  apiKey,
		baseURL: tmdbBaseURL,
	}
}

// Configured reports whether an API key is set.
func (t *TMDB) Configured() bool { return t != nil && t.apiKey != "" }

func (t *TMDB) get(ctx context.Context, path string, query url.Values, dst any) error {
	if query == nil {
		query = url.Values{}
	}
	query.Set("api_key", t.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+path+"?"+query.Encode(), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := t.http.Do(req)
	if err != nil {
		return fmt.Errorf("tmdb request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("tmdb request failed: %s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("decode tmdb response: %w", err)
	}
	return nil
}

// SearchTV finds the best TV match for a title and returns its artwork.
func (t *TMDB) SearchTV(ctx context.Context, title string) (*Artwork, error) {
	if !t.Configured() {
		return nil, ErrNotSupported
	}
	if title == "" {
		return nil, ErrNotFound
	}

	key := cache.Key("tmdb_search_tv", title)
	if t.cache != nil {
		var art Artwork
		if t.cache.Get(key, artworkTTL, &art) {
			return &art, nil
		}
	}

	var resp tmdbSearchResponse
	q := url.Values{}
	q.Set("query", title)
	if err := t.get(ctx, "/search/tv", q, &resp); err != nil {
		return nil, err
	}
	if len(resp.Results) == 0 {
		return nil, ErrNotFound
	}

	art := artworkFromTV(&resp.Results[0])
	if t.cache != nil {
		t.cache.Put(key, art)
	}
	return art, nil
}

// TVArtwork fetches artwork for a known TMDB TV ID.
func (t *TMDB) TVArtwork(ctx context.Context, tmdbID int) (*Artwork, error) {
	if !t.Configured() {
		return nil, ErrNotSupported
	}
	if tmdbID <= 0 {
		return nil, ErrNotFound
	}

	key := cache.Key("tmdb_tv", tmdbID)
	if t.cache != nil {
		var art Artwork
		if t.cache.Get(key, artworkTTL, &art) {
			return &art, nil
		}
	}

	var tv tmdbTV
	if err := t.get(ctx, fmt.Sprintf("/tv/%d", tmdbID), nil, &tv); err != nil {
		return nil, err
	}
	art := artworkFromTV(&tv)
	if t.cache != nil {
		t.cache.Put(key, art)
	}
	return art, nil
}

// Enrich fills missing poster and banner URLs on a watchlist item. Lookup
// failures leave the item untouched.
func (t *TMDB) Enrich(ctx context.Context, item *library.WatchlistItem) {
	if !t.Configured() || (item.Poster != "" && item.Banner != "") {
		return
	}
	art, err := t.SearchTV(ctx, item.Title)
	if err != nil {
		return
	}
	if item.Poster == "" {
		item.Poster = art.Poster
	}
	if item.Banner == "" {
		item.Banner = art.Banner
	}
}

func artworkFromTV(tv *tmdbTV) *Artwork {
	art := &Artwork{TMDBID: tv.ID}
	if tv.PosterPath != "" {
		art.Poster = tmdbImageBaseURL + "/" + tmdbPosterSize + tv.PosterPath
	}
	if tv.BackdropPath != "" {
		art.Banner = tmdbImageBaseURL + "/" + tmdbBackdropSize + tv.BackdropPath
	}
	return art
}
