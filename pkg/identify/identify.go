package identify

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"strconv"
	"strings"

	tnp "github.com/ProfChaos/torrent-name-parser"

	"strmdav/pkg/debrid"
	"strmdav/pkg/logger"
	"strmdav/pkg/tmdb"
)

// MediaType classifies an identified item.
type MediaType string

const (
	MediaTypeMovie MediaType = "movie"
	MediaTypeShow  MediaType = "show"
)

// ExternalID names an item in an external metadata catalogue.
type ExternalID struct {
	Source string `json:"source"`
	ID     string `json:"id"`
}

// MediaIdentification uniquely identifies the library folder an item
// belongs to.
type MediaIdentification struct {
	Title      string      `json:"title"`
	Year       string      `json:"year,omitempty"`
	MediaType  MediaType   `json:"media_type"`
	ExternalID *ExternalID `json:"external_id,omitempty"`
}

// FolderName derives the canonical library folder name, e.g.
// "Inception (2010) [tmdbid-27205]". Year and id segments are omitted when
// absent.
func (m MediaIdentification) FolderName() string {
	name := m.Title
	if m.Year != "" {
		name = fmt.Sprintf("%s (%s)", name, m.Year)
	}
	if m.ExternalID != nil {
		name = fmt.Sprintf("%s [%sid-%s]", name, m.ExternalID.Source, m.ExternalID.ID)
	}
	return name
}

// Candidate titles this short only match when the query has an exact title
// and year agreement; queries this short without a year are rejected.
const shortTitleMax = 3

var episodeMarkerRe = regexp.MustCompile(`(?i)s(\d+)\.?e(\d+)|(\d+)x(\d+)|seasons?\s*\d+|\d+\s*seasons?|temporada\s*\d+|saison\s*\d+|\be\d+\b`)

// Searcher is the metadata search surface the identifier consumes.
type Searcher interface {
	SearchMovie(ctx context.Context, query, year string) ([]tmdb.SearchResult, error)
	SearchShow(ctx context.Context, query, year string) ([]tmdb.SearchResult, error)
}

// Identifier turns torrent records into media identifications.
type Identifier struct {
	searcher Searcher
}

// New creates an identifier backed by the given metadata searcher.
func New(searcher Searcher) *Identifier {
	return &Identifier{searcher: searcher}
}

// IdentifyTorrent identifies a torrent, preferring the name of its largest
// video file over the torrent name, then falling back to the torrent name
// for disc dumps whose files carry generic names. Returns nil when no
// confident identification exists; the item is retried on a later scan.
func (id *Identifier) IdentifyTorrent(ctx context.Context, info *debrid.TorrentInfo) *MediaIdentification {
	rep := representativeName(info)

	if m := id.identifyName(ctx, rep, info.Files); m != nil {
		return m
	}
	if rep != info.Filename {
		logger.Debug("[Identify] No match for file name %q, trying torrent name %q", rep, info.Filename)
		if m := id.identifyName(ctx, info.Filename, info.Files); m != nil {
			return m
		}
	}

	logger.Warn("[Identify] Could not identify torrent %s (%q)", info.ID, info.Filename)
	return nil
}

// representativeName picks the base name of the largest selected video file,
// falling back to the torrent filename.
func representativeName(info *debrid.TorrentInfo) string {
	var best *debrid.TorrentFile
	for i := range info.Files {
		f := &info.Files[i]
		if f.Selected != 1 || !IsVideoFile(f.Path) {
			continue
		}
		if best == nil || f.Bytes > best.Bytes {
			best = f
		}
	}
	if best == nil {
		return info.Filename
	}
	return path.Base(strings.Trim(best.Path, "/"))
}

// scoredCandidate is a search result annotated with its match facts.
type scoredCandidate struct {
	result    tmdb.SearchResult
	exact     bool
	yearMatch bool
	score     float64
}

func (id *Identifier) identifyName(ctx context.Context, name string, files []debrid.TorrentFile) *MediaIdentification {
	cleaned, year := CleanName(name)
	if cleaned == "" {
		// Fall back to the release-name parser for names the cleaning
		// pipeline reduced to nothing.
		if parsed, err := tnp.ParseName(name); err == nil && parsed.Title != "" {
			cleaned = parsed.Title
			if year == "" && parsed.Year > 0 {
				year = strconv.Itoa(parsed.Year)
			}
		}
	}
	if cleaned == "" || isGenericTitle(cleaned) {
		return nil
	}

	showGuess := IsShowGuess(files, name)
	norm := NormalizeTitle(cleaned)

	tvResults, movieResults := id.searchBoth(ctx, cleaned, year, showGuess)

	// With a year but no exact title agreement, widen the search by dropping
	// the year once.
	if year != "" && !hasExact(tvResults, norm) && !hasExact(movieResults, norm) {
		tvExtra, movieExtra := id.searchBoth(ctx, cleaned, "", showGuess)
		tvResults = append(tvResults, tvExtra...)
		movieResults = append(movieResults, movieExtra...)
	}

	bestTV := bestCandidate(tvResults, norm, year, cleaned)
	bestMovie := bestCandidate(movieResults, norm, year, cleaned)

	result, mediaType := selectBestMatch(bestTV, bestMovie, showGuess)
	if result == nil {
		return nil
	}

	// The folder year is the one parsed from the release name; TMDB's release
	// year only arbitrates candidate selection.
	ident := &MediaIdentification{
		Title:     result.result.Title,
		Year:      year,
		MediaType: mediaType,
		ExternalID: &ExternalID{
			Source: "tmdb",
			ID:     strconv.Itoa(result.result.ID),
		},
	}
	logger.Info("[Identify] %q -> %s (%s) as %s [tmdb:%d]", name, ident.Title, ident.Year, ident.MediaType, result.result.ID)
	return ident
}

// searchBoth queries the endpoint matching the type heuristic first, then the
// other; both are always queried so selection can weigh a TV and a movie
// candidate. Search errors degrade to empty candidate lists.
func (id *Identifier) searchBoth(ctx context.Context, query, year string, showGuess bool) (tv, movie []tmdb.SearchResult) {
	searchTV := func() {
		results, err := id.searcher.SearchShow(ctx, query, year)
		if err != nil {
			logger.Warn("[Identify] TV search for %q failed: %v", query, err)
			return
		}
		tv = results
	}
	searchMovie := func() {
		results, err := id.searcher.SearchMovie(ctx, query, year)
		if err != nil {
			logger.Warn("[Identify] Movie search for %q failed: %v", query, err)
			return
		}
		movie = results
	}

	if showGuess {
		searchTV()
		searchMovie()
	} else {
		searchMovie()
		searchTV()
	}
	return tv, movie
}

func hasExact(results []tmdb.SearchResult, norm string) bool {
	for _, r := range results {
		if isExact(r, norm) {
			return true
		}
	}
	return false
}

func isExact(r tmdb.SearchResult, norm string) bool {
	if NormalizeTitle(r.Title) == norm {
		return true
	}
	return r.OriginalTitle != "" && NormalizeTitle(r.OriginalTitle) == norm
}

// bestCandidate scores one endpoint's results and returns the strongest
// survivor: exact title +1000, year agreement +500, popularity as tiebreak.
// Short candidate titles only pass with exact+year; short queries without a
// year never pass.
func bestCandidate(results []tmdb.SearchResult, norm, year, query string) *scoredCandidate {
	shortQuery := len([]rune(query)) <= shortTitleMax

	var best *scoredCandidate
	for _, r := range results {
		exact := isExact(r, norm)
		yearMatch := year != "" && r.Year() == year

		if shortQuery && !(exact && yearMatch) {
			continue
		}
		if len([]rune(r.Title)) <= shortTitleMax && !(exact && yearMatch) {
			continue
		}

		score := r.Popularity
		if exact {
			score += 1000
		}
		if yearMatch {
			score += 500
		}

		if best == nil || score > best.score {
			best = &scoredCandidate{result: r, exact: exact, yearMatch: yearMatch, score: score}
		}
	}
	return best
}

// selectBestMatch arbitrates between the best TV and best movie candidates:
// exact+year unique to one wins, then year agreement aligned with the type
// heuristic, then exact-title unique, then year unique, then the heuristic.
func selectBestMatch(tv, movie *scoredCandidate, showGuess bool) (*scoredCandidate, MediaType) {
	switch {
	case tv == nil && movie == nil:
		return nil, ""
	case movie == nil:
		return tv, MediaTypeShow
	case tv == nil:
		return movie, MediaTypeMovie
	}

	tvExactYear := tv.exact && tv.yearMatch
	movieExactYear := movie.exact && movie.yearMatch

	switch {
	case tvExactYear && !movieExactYear:
		return tv, MediaTypeShow
	case movieExactYear && !tvExactYear:
		return movie, MediaTypeMovie
	case showGuess && tv.yearMatch:
		return tv, MediaTypeShow
	case !showGuess && movie.yearMatch:
		return movie, MediaTypeMovie
	case tv.exact && !movie.exact:
		return tv, MediaTypeShow
	case movie.exact && !tv.exact:
		return movie, MediaTypeMovie
	case tv.yearMatch && !movie.yearMatch:
		return tv, MediaTypeShow
	case movie.yearMatch && !tv.yearMatch:
		return movie, MediaTypeMovie
	case showGuess:
		return tv, MediaTypeShow
	default:
		return movie, MediaTypeMovie
	}
}

// IsShowGuess reports whether the torrent looks like episodic content: any
// file carrying an episode marker, two or more video files, or the name
// itself carrying a marker. The release-name parser acts as a second opinion
// for names the marker regex misses.
func IsShowGuess(files []debrid.TorrentFile, name string) bool {
	videoCount := 0
	for _, f := range files {
		base := path.Base(strings.Trim(f.Path, "/"))
		if episodeMarkerRe.MatchString(base) {
			return true
		}
		if IsVideoFile(f.Path) {
			videoCount++
		}
	}
	if videoCount > 1 {
		return true
	}
	if episodeMarkerRe.MatchString(name) {
		return true
	}

	if parsed, err := tnp.ParseName(name); err == nil {
		if parsed.Season > 0 || parsed.Episode > 0 {
			return true
		}
	}
	return false
}
