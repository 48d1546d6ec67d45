package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/rl404/verniy"

	"github.com/animedb/animedb-helper/internal/cache"
	"github.com/animedb/animedb-helper/internal/httpx"
	"github.com/animedb/animedb-helper/internal/library"
)

const anilistGraphQLURL = "https://graphql.anilist.co"

// detailsTTL is how long title metadata stays cached; list reads are never
// cached, they feed sync decisions.
const detailsTTL = 6 * time.Hour

// AniList tracks the user's list on anilist.co. Reads go through verniy,
// writes are raw GraphQL mutations under the shared retry contract.
type AniList struct {
	v        *verniy.Client
	http     *httpx.Client
	cache    *cache.Cache
	username string
	endpoint string
}

// NewAniList builds the client. httpClient must carry the user's bearer
// token (verniy reads authenticated lists through it); tokens drives refresh
// on the mutation path.
func NewAniList(httpClient *http.Client, tokens httpx.TokenProvider, username string, c *cache.Cache, maxRetries int) *AniList {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 2 * time.Minute}
	}
	v := verniy.New()
	v.Http = *httpClient
	return &AniList{
		v:        v,
		http:     httpx.New(httpClient, tokens, maxRetries),
		cache:    c,
		username: username,
		endpoint: anilistGraphQLURL,
	}
}

func (a *AniList) Name() library.Source { return library.SourceAniList }

func (a *AniList) FetchWatchlist(ctx context.Context) ([]ListEntry, error) {
	groups, err := a.v.GetUserAnimeListWithContext(ctx, a.username,
		verniy.MediaListGroupFieldStatus,
		verniy.MediaListGroupFieldEntries(
			verniy.MediaListFieldID,
			verniy.MediaListFieldStatus,
			verniy.MediaListFieldScore,
			verniy.MediaListFieldProgress,
			verniy.MediaListFieldMedia(
				verniy.MediaFieldID,
				verniy.MediaFieldIDMAL,
				verniy.MediaFieldTitle(
					verniy.MediaTitleFieldRomaji,
					verniy.MediaTitleFieldEnglish,
					verniy.MediaTitleFieldNative,
				),
				verniy.MediaFieldStatusV2,
				verniy.MediaFieldEpisodes,
				verniy.MediaFieldSeasonYear,
			),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("anilist user list: %w", err)
	}

	var entries []ListEntry
	for _, group := range groups {
		for _, ml := range group.Entries {
			if ml.Media == nil || ml.Status == nil {
				continue
			}
			e := ListEntry{
				Media:  fromVerniyMedia(ml.Media),
				Status: statusFromAniList(*ml.Status),
			}
			if ml.Progress != nil {
				e.Progress = *ml.Progress
			}
			if ml.Score != nil {
				e.Score = *ml.Score
			}
			entries = append(entries, e)
		}
	}
	return entries, nil
}

func (a *AniList) FetchDetails(ctx context.Context, id string) (*Media, error) {
	mediaID, err := strconv.Atoi(id)
	if err != nil {
		return nil, fmt.Errorf("anilist id %q: %w", id, err)
	}

	key := cache.Key("anilist_details", mediaID)
	if a.cache != nil {
		var m Media
		if a.cache.Get(key, detailsTTL, &m) {
			return &m, nil
		}
	}

	media, err := a.v.GetAnimeWithContext(ctx, mediaID,
		verniy.MediaFieldID,
		verniy.MediaFieldIDMAL,
		verniy.MediaFieldTitle(
			verniy.MediaTitleFieldRomaji,
			verniy.MediaTitleFieldEnglish,
			verniy.MediaTitleFieldNative,
		),
		verniy.MediaFieldStatusV2,
		verniy.MediaFieldEpisodes,
		verniy.MediaFieldSeasonYear,
	)
	if err != nil {
		return nil, fmt.Errorf("anilist details %d: %w", mediaID, err)
	}
	if media == nil {
		return nil, ErrNotFound
	}

	m := fromVerniyMedia(media)
	if a.cache != nil {
		a.cache.Put(key, &m)
	}
	return &m, nil
}

func (a *AniList) Search(ctx context.Context, query string) ([]Media, error) {
	page, err := a.v.SearchAnimeWithContext(ctx, verniy.PageParamMedia{Search: query}, 1, 10,
		verniy.MediaFieldID,
		verniy.MediaFieldIDMAL,
		verniy.MediaFieldTitle(
			verniy.MediaTitleFieldRomaji,
			verniy.MediaTitleFieldEnglish,
			verniy.MediaTitleFieldNative,
		),
		verniy.MediaFieldStatusV2,
		verniy.MediaFieldEpisodes,
		verniy.MediaFieldSeasonYear,
	)
	if err != nil {
		return nil, fmt.Errorf("anilist search %q: %w", query, err)
	}

	out := make([]Media, 0, len(page.Media))
	for i := range page.Media {
		out = append(out, fromVerniyMedia(&page.Media[i]))
	}
	return out, nil
}

// graphQLError is one entry of an AniList top-level errors array, which the
// API can return with HTTP 200.
type graphQLError struct {
	Message string `json:"message"`
	Status  int    `json:"status"`
}

type mutationResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphQLError  `json:"errors"`
}

func (a *AniList) PushProgress(ctx context.Context, id string, episode int, status library.Status, score float64) error {
	mediaID, err := strconv.Atoi(id)
	if err != nil {
		return fmt.Errorf("anilist id %q: %w", id, err)
	}

	mutation := `
		mutation ($mediaId: Int, $status: MediaListStatus, $progress: Int, $score: Float) {
			SaveMediaListEntry(mediaId: $mediaId, status: $status, progress: $progress, score: $score) {
				id
				status
				progress
				score
			}
		}
	`
	variables := map[string]any{
		"mediaId":  mediaID,
		"status":   statusToAniList(status),
		"progress": episode,
	}
	if score > 0 {
		variables["score"] = score
	}

	return a.mutate(ctx, mediaID, map[string]any{
		"query":     mutation,
		"variables": variables,
	})
}

func (a *AniList) PushWatchlistAdd(ctx context.Context, item library.WatchlistItem) error {
	return a.PushProgress(ctx, item.ID, 0, library.StatusPlanning, 0)
}

// mutate posts a GraphQL document and decodes the errors array the API can
// return alongside HTTP 200. Viewer-scoped failures do not reliably carry a
// status field, so any errors payload is retried once without the
// Authorization header.
func (a *AniList) mutate(ctx context.Context, mediaID int, document map[string]any) error {
	body, err := json.Marshal(document)
	if err != nil {
		return fmt.Errorf("marshal mutation: %w", err)
	}

	gqlErrs, err := a.post(ctx, body, false)
	if err != nil {
		return err
	}
	if len(gqlErrs) == 0 {
		return nil
	}

	log.Printf("[anilist] Mutation for %d failed (%s), retrying anonymously", mediaID, gqlErrs[0].Message)
	gqlErrs, err = a.post(ctx, body, true)
	if err != nil {
		return err
	}
	if len(gqlErrs) == 0 {
		return nil
	}
	return fmt.Errorf("anilist mutation for %d: %s", mediaID, gqlErrs[0].Message)
}

func (a *AniList) post(ctx context.Context, body []byte, anonymous bool) ([]graphQLError, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build mutation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	var resp *http.Response
	if anonymous {
		// Tokens left nil so no Authorization header is attached.
		plain := &httpx.Client{HTTPClient: a.http.HTTPClient, MaxRetries: a.http.MaxRetries}
		resp, err = plain.Do(req)
	} else {
		resp, err = a.http.Do(req)
	}
	if err != nil {
		return nil, fmt.Errorf("anilist request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("anilist returned status %d: %s", resp.StatusCode, string(payload))
	}

	var decoded mutationResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode anilist response: %w", err)
	}
	return decoded.Errors, nil
}
