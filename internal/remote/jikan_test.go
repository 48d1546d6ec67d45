package remote

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestJikan(srv *httptest.Server) *jikanClient {
	c := newJikanClient()
	c.baseURL = srv.URL
	c.httpClient = srv.Client()
	// Tests should not sleep between requests.
	c.lastRequest = time.Now().Add(-time.Second)
	return c
}

func TestJikan_AnimeByID(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/anime/5114", r.URL.Path)
		_, _ = w.Write([]byte(`{"data": {
			"mal_id": 5114,
			"title": "Hagane no Renkinjutsushi: Fullmetal Alchemist",
			"title_english": "Fullmetal Alchemist: Brotherhood",
			"episodes": 64,
			"score": 9.09,
			"year": 2009,
			"images": {"jpg": {"large_image_url": "https://cdn.example/fma.jpg"}}
		}}`))
	}))
	defer srv.Close()

	ja, err := newTestJikan(srv).animeByID(context.Background(), 5114)
	require.NoError(t, err)

	assert.Equal(t, 5114, ja.MalID)
	assert.Equal(t, "Fullmetal Alchemist: Brotherhood", ja.TitleEnglish)
	assert.Equal(t, 64, ja.Episodes)
	assert.Equal(t, 2009, ja.Year)
	assert.Equal(t, "https://cdn.example/fma.jpg", ja.Images.JPG.Large)
}

func TestJikan_AnimeByID_NotFound(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"status": 404}`, http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := newTestJikan(srv).animeByID(context.Background(), 999999999)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestJikan_SearchAnime(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/anime", r.URL.Path)
		assert.Equal(t, "frieren", r.URL.Query().Get("q"))
		assert.Equal(t, "10", r.URL.Query().Get("limit"))
		_, _ = w.Write([]byte(`{"data": [
			{"mal_id": 52991, "title": "Sousou no Frieren", "episodes": 28},
			{"mal_id": 56885, "title": "Yuusha", "episodes": 1}
		]}`))
	}))
	defer srv.Close()

	results, err := newTestJikan(srv).searchAnime(context.Background(), "frieren", 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, 52991, results[0].MalID)
	assert.Equal(t, 28, results[0].Episodes)
}

func TestJikan_ToMAL(t *testing.T) {
	t.Parallel()

	ja := &jikanAnime{
		MalID:         52991,
		Title:         "Sousou no Frieren",
		TitleEnglish:  "Frieren: Beyond Journey's End",
		TitleJapanese: "葬送のフリーレン",
		Episodes:      28,
		Score:         9.3,
		Year:          2023,
	}

	a := jikanToMAL(ja)
	assert.Equal(t, 52991, a.ID)
	assert.Equal(t, "Sousou no Frieren", a.Title)
	assert.Equal(t, "Frieren: Beyond Journey's End", a.AlternativeTitles.En)
	assert.Equal(t, 28, a.NumEpisodes)
	assert.Equal(t, 9.3, a.Mean)
	assert.Equal(t, 2023, a.StartSeason.Year)
}
