// SPDX-License-Identifier: MIT

package service

// TitleKind discriminates the Titles sum type.
type TitleKind string

const (
	TitleKindMovies TitleKind = "movies"
	TitleKindSeries TitleKind = "series"
)

// Titles is the sum of the two title shapes a service can resolve:
// an ordered sequence of movies, or an ordered sequence of episodes.
type Titles struct {
	Kind     TitleKind `json:"kind"`
	Name     string    `json:"name"`
	Movies   []Movie   `json:"movies,omitempty"`
	Episodes []Episode `json:"episodes,omitempty"`
}

// List flattens the sum into its ordered titles.
func (t *Titles) List() []Title {
	var out []Title
	switch t.Kind {
	case TitleKindMovies:
		for i := range t.Movies {
			out = append(out, &t.Movies[i])
		}
	case TitleKindSeries:
		for i := range t.Episodes {
			out = append(out, &t.Episodes[i])
		}
	}
	return out
}

// Title is one downloadable unit: a movie or an episode.
type Title interface {
	TitleID() string
	TitleName() string
}

// Movie is a single feature.
type Movie struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Year int    `json:"year,omitempty"`
}

func (m *Movie) TitleID() string   { return m.ID }
func (m *Movie) TitleName() string { return m.Name }

// Episode is one entry of a series.
type Episode struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Season  int    `json:"season"`
	Episode int    `json:"episode"`
	Series  string `json:"series,omitempty"`
}

func (e *Episode) TitleID() string   { return e.ID }
func (e *Episode) TitleName() string { return e.Name }

// Track describes one elementary stream. The core forwards tracks to the
// external downloader without interpretation beyond selection filters.
type Track struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"` // video, audio, subtitle
	Codec    string         `json:"codec,omitempty"`
	Language string         `json:"language,omitempty"`
	Bitrate  int            `json:"bitrate,omitempty"` // kbps
	Width    int            `json:"width,omitempty"`
	Height   int            `json:"height,omitempty"`
	Range    string         `json:"range,omitempty"` // SDR, HDR10, ...
	Channels float64        `json:"channels,omitempty"`
	Atmos    bool           `json:"atmos,omitempty"`
	Forced   bool           `json:"forced,omitempty"`
	SDH      bool           `json:"sdh,omitempty"`
	KID      string         `json:"kid,omitempty"`
	PSSH     []byte         `json:"pssh,omitempty"`
	URL      string         `json:"url,omitempty"`
	Extra    map[string]any `json:"extra,omitempty"`
}

// Tracks groups a title's streams by type.
type Tracks struct {
	Video     []Track `json:"video"`
	Audio     []Track `json:"audio"`
	Subtitles []Track `json:"subtitles"`
}

// Chapter is one muxer chapter mark.
type Chapter struct {
	Title string  `json:"title,omitempty"`
	Start float64 `json:"start"` // seconds
}
