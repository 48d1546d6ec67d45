package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"
)

const (
	defaultJikanBaseURL = "https://api.jikan.moe/v4"
	// Jikan allows 3 req/s; stay under it.
	jikanMinRequestInterval = 500 * time.Millisecond
)

// jikanAnime holds the fields extracted from Jikan API v4 anime responses.
type jikanAnime struct {
	MalID         int     `json:"mal_id"`
	Title         string  `json:"title"`
	TitleEnglish  string  `json:"title_english"`
	TitleJapanese string  `json:"title_japanese"`
	Episodes      int     `json:"episodes"`
	Synopsis      string  `json:"synopsis"`
	Score         float64 `json:"score"`
	Year          int     `json:"year"`
	Images        struct {
		JPG struct {
			Large string `json:"large_image_url"`
		} `json:"jpg"`
	} `json:"images"`
}

type jikanItemResponse struct {
	Data jikanAnime `json:"data"`
}

type jikanSearchResponse struct {
	Data []jikanAnime `json:"data"`
}

// jikanClient calls Jikan, the unofficial MAL REST API. It needs no token,
// which keeps metadata lookups working while the user is logged out.
type jikanClient struct {
	baseURL    string
	httpClient *http.Client

	rateMu      sync.Mutex
	lastRequest time.Time
}

func newJikanClient() *jikanClient {
	return &jikanClient{
		baseURL:    defaultJikanBaseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// rateLimit waits if needed to respect the Jikan request interval.
func (c *jikanClient) rateLimit() {
	c.rateMu.Lock()
	defer c.rateMu.Unlock()

	elapsed := time.Since(c.lastRequest)
	if elapsed < jikanMinRequestInterval {
		time.Sleep(jikanMinRequestInterval - elapsed)
	}
	c.lastRequest = time.Now()
}

func (c *jikanClient) animeByID(ctx context.Context, malID int) (*jikanAnime, error) {
	apiURL := fmt.Sprintf("%s/anime/%d", c.baseURL, malID)

	var resp jikanItemResponse
	if err := c.getJSON(ctx, apiURL, &resp); err != nil {
		return nil, fmt.Errorf("jikan anime %d: %w", malID, err)
	}
	return &resp.Data, nil
}

func (c *jikanClient) searchAnime(ctx context.Context, query string, limit int) ([]jikanAnime, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("limit", fmt.Sprint(limit))
	apiURL := fmt.Sprintf("%s/anime?%s", c.baseURL, params.Encode())

	var resp jikanSearchResponse
	if err := c.getJSON(ctx, apiURL, &resp); err != nil {
		return nil, fmt.Errorf("jikan search %q: %w", query, err)
	}
	return resp.Data, nil
}

func (c *jikanClient) getJSON(ctx context.Context, apiURL string, dst any) error {
	c.rateLimit()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status: %s", resp.Status)
	}

	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
