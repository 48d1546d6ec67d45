package remote

import (
	"strconv"

	"github.com/nstratos/go-myanimelist/mal"
	"github.com/rl404/verniy"

	"github.com/animedb/animedb-helper/internal/library"
)

// Media is the canonical title record every provider normalizes into.
// ID is the service-native identifier of Source; cross-service IDs are
// carried when the provider exposes them.
type Media struct {
	ID     string         `json:"id"`
	Source library.Source `json:"source"`

	AniListID int `json:"anilist_id,omitempty"`
	MALID     int `json:"mal_id,omitempty"`
	TMDBID    int `json:"tmdb_id,omitempty"`

	Title        string `json:"title"`
	TitleEnglish string `json:"title_english,omitempty"`
	TitleNative  string `json:"title_native,omitempty"`

	Synopsis string   `json:"synopsis,omitempty"`
	Episodes int      `json:"episodes,omitempty"`
	Year     int      `json:"year,omitempty"`
	Score    float64  `json:"score,omitempty"`
	Genres   []string `json:"genres,omitempty"`
	Poster   string   `json:"poster,omitempty"`
	Banner   string   `json:"banner,omitempty"`
}

// DisplayTitle prefers the English title when present.
func (m *Media) DisplayTitle() string {
	if m.TitleEnglish != "" {
		return m.TitleEnglish
	}
	return m.Title
}

func fromVerniyMedia(m *verniy.Media) Media {
	out := Media{
		ID:        strconv.Itoa(m.ID),
		Source:    library.SourceAniList,
		AniListID: m.ID,
	}
	if m.IDMAL != nil {
		out.MALID = *m.IDMAL
	}
	if m.Title != nil {
		if m.Title.Romaji != nil {
			out.Title = *m.Title.Romaji
		}
		if m.Title.English != nil {
			out.TitleEnglish = *m.Title.English
		}
		if m.Title.Native != nil {
			out.TitleNative = *m.Title.Native
		}
	}
	if m.Episodes != nil {
		out.Episodes = *m.Episodes
	}
	if m.SeasonYear != nil {
		out.Year = *m.SeasonYear
	}
	if m.Description != nil {
		out.Synopsis = *m.Description
	}
	if m.CoverImage != nil && m.CoverImage.Large != nil {
		out.Poster = *m.CoverImage.Large
	}
	if m.BannerImage != nil {
		out.Banner = *m.BannerImage
	}
	return out
}

func fromMALAnime(a *mal.Anime) Media {
	out := Media{
		ID:       strconv.Itoa(a.ID),
		Source:   library.SourceMAL,
		MALID:    a.ID,
		Title:    a.Title,
		Episodes: a.NumEpisodes,
		Synopsis: a.Synopsis,
		Year:     a.StartSeason.Year,
		Score:    a.Mean,
		Poster:   a.MainPicture.Large,
	}
	if a.AlternativeTitles.En != "" {
		out.TitleEnglish = a.AlternativeTitles.En
	}
	if a.AlternativeTitles.Ja != "" {
		out.TitleNative = a.AlternativeTitles.Ja
	}
	return out
}

// statusFromAniList maps an AniList list status onto the local enum.
func statusFromAniList(s verniy.MediaListStatus) library.Status {
	switch s {
	case verniy.MediaListStatusCurrent:
		return library.StatusWatching
	case verniy.MediaListStatusCompleted:
		return library.StatusCompleted
	case verniy.MediaListStatusPaused:
		return library.StatusPaused
	case verniy.MediaListStatusDropped:
		return library.StatusDropped
	case verniy.MediaListStatusRepeating:
		return library.StatusRepeating
	case verniy.MediaListStatusPlanning:
		return library.StatusPlanning
	default:
		return library.StatusPlanning
	}
}

// statusToAniList maps the local enum onto AniList mutation values.
func statusToAniList(s library.Status) string {
	switch s {
	case library.StatusWatching:
		return "CURRENT"
	case library.StatusCompleted:
		return "COMPLETED"
	case library.StatusPaused:
		return "PAUSED"
	case library.StatusDropped:
		return "DROPPED"
	case library.StatusRepeating:
		return "REPEATING"
	default:
		return "PLANNING"
	}
}

func statusFromMAL(s mal.AnimeStatus) library.Status {
	switch s {
	case mal.AnimeStatusWatching:
		return library.StatusWatching
	case mal.AnimeStatusCompleted:
		return library.StatusCompleted
	case mal.AnimeStatusOnHold:
		return library.StatusPaused
	case mal.AnimeStatusDropped:
		return library.StatusDropped
	case mal.AnimeStatusPlanToWatch:
		return library.StatusPlanning
	default:
		return library.StatusPlanning
	}
}

func statusToMAL(s library.Status) mal.AnimeStatus {
	switch s {
	case library.StatusWatching, library.StatusRepeating:
		return mal.AnimeStatusWatching
	case library.StatusCompleted:
		return mal.AnimeStatusCompleted
	case library.StatusPaused:
		return mal.AnimeStatusOnHold
	case library.StatusDropped:
		return mal.AnimeStatusDropped
	default:
		return mal.AnimeStatusPlanToWatch
	}
}
