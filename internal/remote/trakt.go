package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/animedb/animedb-helper/internal/httpx"
	"github.com/animedb/animedb-helper/internal/library"
)

const (
	traktAPIBaseURL = "https://api.trakt.tv"
	traktAPIVersion = "2"
	traktPageLimit  = 100
)

// traktIDs carries the cross-reference IDs Trakt attaches to every record.
type traktIDs struct {
	Trakt int    `json:"trakt,omitempty"`
	Slug  string `json:"slug,omitempty"`
	IMDB  string `json:"imdb,omitempty"`
	TMDB  int    `json:"tmdb,omitempty"`
	TVDB  int    `json:"tvdb,omitempty"`
}

type traktShow struct {
	Title    string   `json:"title"`
	Year     int      `json:"year"`
	IDs      traktIDs `json:"ids"`
	Overview string   `json:"overview,omitempty"`
	Rating   float64  `json:"rating,omitempty"`
	Aired    int      `json:"aired_episodes,omitempty"`
	Genres   []string `json:"genres,omitempty"`
}

type traktListItem struct {
	ListedAt time.Time  `json:"listed_at"`
	Type     string     `json:"type"`
	Show     *traktShow `json:"show,omitempty"`
}

type traktSearchResult struct {
	Type  string     `json:"type"`
	Score float64    `json:"score"`
	Show  *traktShow `json:"show,omitempty"`
}

type traktSyncShow struct {
	IDs     traktIDs          `json:"ids"`
	Seasons []traktSyncSeason `json:"seasons,omitempty"`
}

type traktSyncSeason struct {
	Number   int                `json:"number"`
	Episodes []traktSyncEpisode `json:"episodes,omitempty"`
}

type traktSyncEpisode struct {
	Number    int    `json:"number"`
	WatchedAt string `json:"watched_at,omitempty"`
}

type traktSyncRequest struct {
	Shows []traktSyncShow `json:"shows"`
}

// Trakt tracks shows on trakt.tv. Trakt models watched state as history
// events, not a per-title status, so PushProgress writes history entries and
// watchlist membership maps to the plan-to-watch idea.
type Trakt struct {
	http     *httpx.Client
	clientID string
	baseURL  string
	now      func() time.Time
}

// NewTrakt builds the client. tokens supplies the user bearer token.
func NewTrakt(httpClient *http.Client, tokens httpx.TokenProvider, clientID string, maxRetries int) *Trakt {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Trakt{
		http:     httpx.New(httpClient, tokens, maxRetries),
		clientID: clientID,
		baseURL:  traktAPIBaseURL,
		now:      time.Now,
	}
}

func (t *Trakt) Name() library.Source { return library.SourceTrakt }

func (t *Trakt) do(ctx context.Context, method, path string, payload any, wantStatus int, dst any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, t.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("trakt-api-version", traktAPIVersion)
	req.Header.Set("trakt-api-key", t.clientID)

	resp, err := t.http.Do(req)
	if err != nil {
		return fmt.Errorf("trakt api request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode != wantStatus {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("trakt %s %s failed: %s - %s", method, path, resp.Status, string(raw))
	}
	if dst != nil {
		if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
			return fmt.Errorf("decode trakt response: %w", err)
		}
	}
	return nil
}

func (t *Trakt) FetchWatchlist(ctx context.Context) ([]ListEntry, error) {
	var entries []ListEntry
	for page := 1; ; page++ {
		var items []traktListItem
		path := fmt.Sprintf("/users/me/watchlist/shows?page=%d&limit=%d", page, traktPageLimit)
		if err := t.do(ctx, http.MethodGet, path, nil, http.StatusOK, &items); err != nil {
			return nil, err
		}
		for _, it := range items {
			if it.Show == nil {
				continue
			}
			entries = append(entries, ListEntry{
				Media:     fromTraktShow(it.Show),
				Status:    library.StatusPlanning,
				UpdatedAt: it.ListedAt,
			})
		}
		if len(items) < traktPageLimit {
			break
		}
	}
	return entries, nil
}

func (t *Trakt) FetchDetails(ctx context.Context, id string) (*Media, error) {
	var show traktShow
	path := fmt.Sprintf("/shows/%s?extended=full", url.PathEscape(id))
	if err := t.do(ctx, http.MethodGet, path, nil, http.StatusOK, &show); err != nil {
		return nil, err
	}
	m := fromTraktShow(&show)
	return &m, nil
}

func (t *Trakt) Search(ctx context.Context, query string) ([]Media, error) {
	var results []traktSearchResult
	path := "/search/show?query=" + url.QueryEscape(query)
	if err := t.do(ctx, http.MethodGet, path, nil, http.StatusOK, &results); err != nil {
		return nil, err
	}
	out := make([]Media, 0, len(results))
	for _, r := range results {
		if r.Show == nil {
			continue
		}
		out = append(out, fromTraktShow(r.Show))
	}
	return out, nil
}

// PushProgress records the episode in the user's history. Anime is tracked
// with absolute episode numbers, mapped to season 1 on Trakt.
func (t *Trakt) PushProgress(ctx context.Context, id string, episode int, status library.Status, _ float64) error {
	ids, err := t.syncIDs(id)
	if err != nil {
		return err
	}
	if episode <= 0 {
		if status == library.StatusPlanning {
			return t.pushWatchlist(ctx, ids)
		}
		return nil
	}

	req := traktSyncRequest{Shows: []traktSyncShow{{
		IDs: ids,
		Seasons: []traktSyncSeason{{
			Number: 1,
			Episodes: []traktSyncEpisode{{
				Number:    episode,
				WatchedAt: t.now().UTC().Format(time.RFC3339),
			}},
		}},
	}}}
	return t.do(ctx, http.MethodPost, "/sync/history", req, http.StatusCreated, nil)
}

func (t *Trakt) PushWatchlistAdd(ctx context.Context, item library.WatchlistItem) error {
	ids, err := t.syncIDs(item.ID)
	if err != nil {
		return err
	}
	return t.pushWatchlist(ctx, ids)
}

func (t *Trakt) pushWatchlist(ctx context.Context, ids traktIDs) error {
	req := traktSyncRequest{Shows: []traktSyncShow{{IDs: ids}}}
	return t.do(ctx, http.MethodPost, "/sync/watchlist", req, http.StatusCreated, nil)
}

// syncIDs accepts either a numeric Trakt ID or a slug.
func (t *Trakt) syncIDs(id string) (traktIDs, error) {
	if id == "" {
		return traktIDs{}, fmt.Errorf("trakt id is empty")
	}
	if n, err := strconv.Atoi(id); err == nil {
		return traktIDs{Trakt: n}, nil
	}
	return traktIDs{Slug: id}, nil
}

func fromTraktShow(s *traktShow) Media {
	id := s.IDs.Slug
	if s.IDs.Trakt > 0 {
		id = strconv.Itoa(s.IDs.Trakt)
	}
	return Media{
		ID:       id,
		Source:   library.SourceTrakt,
		TMDBID:   s.IDs.TMDB,
		Title:    s.Title,
		Synopsis: s.Overview,
		Episodes: s.Aired,
		Year:     s.Year,
		Score:    s.Rating,
		Genres:   s.Genres,
	}
}
