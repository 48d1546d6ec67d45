package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/nstratos/go-myanimelist/mal"

	"github.com/animedb/animedb-helper/internal/cache"
	"github.com/animedb/animedb-helper/internal/library"
)

var malAnimeFields = mal.Fields{
	"alternative_titles",
	"num_episodes",
	"my_list_status",
	"start_season",
	"mean",
	"synopsis",
	"main_picture",
}

// MAL tracks the user's list on myanimelist.net through the official API.
// Metadata lookups fall back to Jikan when the official call fails, so
// browsing keeps working while unauthenticated.
type MAL struct {
	c        *mal.Client
	jikan    *jikanClient
	cache    *cache.Cache
	username string
}

// NewMAL builds the client. httpClient must carry the user's OAuth token
// for list reads and writes.
func NewMAL(httpClient *http.Client, username string, c *cache.Cache) *MAL {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 2 * time.Minute}
	}
	return &MAL{
		c:        mal.NewClient(httpClient),
		jikan:    newJikanClient(),
		cache:    c,
		username: username,
	}
}

func (m *MAL) Name() library.Source { return library.SourceMAL }

func (m *MAL) FetchWatchlist(ctx context.Context) ([]ListEntry, error) {
	var entries []ListEntry
	var offset int
	for {
		list, resp, err := m.c.User.AnimeList(ctx, m.username, malAnimeFields, mal.Offset(offset), mal.Limit(100))
		if err != nil {
			return nil, fmt.Errorf("mal user list: %w", err)
		}
		for i := range list {
			ua := &list[i]
			entries = append(entries, ListEntry{
				Media:    fromMALAnime(&ua.Anime),
				Status:   statusFromMAL(ua.Status.Status),
				Progress: ua.Status.NumEpisodesWatched,
				Score:    float64(ua.Status.Score),
			})
		}
		if resp.NextOffset == 0 {
			break
		}
		offset = resp.NextOffset
	}
	return entries, nil
}

func (m *MAL) FetchDetails(ctx context.Context, id string) (*Media, error) {
	malID, err := strconv.Atoi(id)
	if err != nil || malID <= 0 {
		return nil, fmt.Errorf("mal id %q invalid", id)
	}

	key := cache.Key("mal_details", malID)
	if m.cache != nil {
		var cached Media
		if m.cache.Get(key, detailsTTL, &cached) {
			return &cached, nil
		}
	}

	anime, _, err := m.c.Anime.Details(ctx, malID, malAnimeFields)
	if err != nil {
		// The official endpoint needs a token; Jikan covers anonymous
		// metadata browsing.
		ja, jerr := m.jikan.animeByID(ctx, malID)
		if jerr != nil {
			return nil, errors.Join(fmt.Errorf("mal details %d: %w", malID, err), jerr)
		}
		anime = jikanToMAL(ja)
	}

	media := fromMALAnime(anime)
	if m.cache != nil {
		m.cache.Put(key, &media)
	}
	return &media, nil
}

// jikanToMAL reshapes a Jikan record into the official API type so the rest
// of the client normalizes from one shape.
func jikanToMAL(ja *jikanAnime) *mal.Anime {
	a := &mal.Anime{
		ID:          ja.MalID,
		Title:       ja.Title,
		NumEpisodes: ja.Episodes,
		Synopsis:    ja.Synopsis,
		Mean:        ja.Score,
	}
	a.AlternativeTitles.En = ja.TitleEnglish
	a.AlternativeTitles.Ja = ja.TitleJapanese
	a.StartSeason.Year = ja.Year
	a.MainPicture.Large = ja.Images.JPG.Large
	return a
}

func (m *MAL) Search(ctx context.Context, query string) ([]Media, error) {
	list, _, err := m.c.Anime.List(ctx, query, malAnimeFields, mal.Limit(10))
	if err != nil {
		results, jerr := m.jikan.searchAnime(ctx, query, 10)
		if jerr != nil {
			return nil, errors.Join(fmt.Errorf("mal search %q: %w", query, err), jerr)
		}
		out := make([]Media, 0, len(results))
		for i := range results {
			media := fromMALAnime(jikanToMAL(&results[i]))
			out = append(out, media)
		}
		return out, nil
	}

	out := make([]Media, 0, len(list))
	for i := range list {
		out = append(out, fromMALAnime(&list[i]))
	}
	return out, nil
}

func (m *MAL) PushProgress(ctx context.Context, id string, episode int, status library.Status, score float64) error {
	malID, err := strconv.Atoi(id)
	if err != nil || malID <= 0 {
		return fmt.Errorf("mal id %q invalid", id)
	}

	opts := []mal.UpdateMyAnimeListStatusOption{
		statusToMAL(status),
	}
	if episode > 0 {
		opts = append(opts, mal.NumEpisodesWatched(episode))
	}
	if score > 0 {
		opts = append(opts, mal.Score(int(score)))
	}

	if _, _, err := m.c.Anime.UpdateMyListStatus(ctx, malID, opts...); err != nil {
		return fmt.Errorf("mal update %d: %w", malID, err)
	}
	return nil
}

func (m *MAL) PushWatchlistAdd(ctx context.Context, item library.WatchlistItem) error {
	return m.PushProgress(ctx, item.ID, 0, library.StatusPlanning, 0)
}
