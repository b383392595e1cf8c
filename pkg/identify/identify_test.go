package identify

import (
	"context"
	"testing"

	"strmdav/pkg/debrid"
	"strmdav/pkg/tmdb"
)

type fakeSearcher struct {
	movies []tmdb.SearchResult
	shows  []tmdb.SearchResult

	movieQueries []string
	showQueries  []string
}

func (f *fakeSearcher) SearchMovie(_ context.Context, query, year string) ([]tmdb.SearchResult, error) {
	f.movieQueries = append(f.movieQueries, query)
	return f.movies, nil
}

func (f *fakeSearcher) SearchShow(_ context.Context, query, year string) ([]tmdb.SearchResult, error) {
	f.showQueries = append(f.showQueries, query)
	return f.shows, nil
}

func TestIdentifyCleanMovie(t *testing.T) {
	searcher := &fakeSearcher{
		movies: []tmdb.SearchResult{
			{ID: 27205, Title: "Inception", OriginalTitle: "Inception", ReleaseDate: "2010-07-15", Popularity: 90},
		},
	}
	ident := New(searcher).IdentifyTorrent(context.Background(), &debrid.TorrentInfo{
		ID:       "t1",
		Filename: "Inception.2010.1080p.BluRay.x264-GROUP.mkv",
		Files: []debrid.TorrentFile{
			{ID: 1, Path: "/Inception.2010.1080p.BluRay.x264-GROUP.mkv", Bytes: 9e9, Selected: 1},
		},
	})

	if ident == nil {
		t.Fatal("expected identification")
	}
	if ident.MediaType != MediaTypeMovie {
		t.Fatalf("media type = %s", ident.MediaType)
	}
	if ident.ExternalID == nil || ident.ExternalID.Source != "tmdb" || ident.ExternalID.ID != "27205" {
		t.Fatalf("external id = %+v", ident.ExternalID)
	}
	if got := ident.FolderName(); got != "Inception (2010) [tmdbid-27205]" {
		t.Fatalf("folder name = %q", got)
	}
}

func TestIdentifyCamelCaseShow(t *testing.T) {
	searcher := &fakeSearcher{
		shows: []tmdb.SearchResult{
			{ID: 60574, Title: "Peaky Blinders", OriginalTitle: "Peaky Blinders", ReleaseDate: "2013-09-12", Popularity: 55},
		},
	}
	ident := New(searcher).IdentifyTorrent(context.Background(), &debrid.TorrentInfo{
		ID:       "t2",
		Filename: "[RARBG].PeakyBlindersS01E01.720p.mkv",
		Files: []debrid.TorrentFile{
			{ID: 1, Path: "/[RARBG].PeakyBlindersS01E01.720p.mkv", Bytes: 2e9, Selected: 1},
		},
	})

	if ident == nil {
		t.Fatal("expected identification")
	}
	if ident.MediaType != MediaTypeShow {
		t.Fatalf("media type = %s, want show", ident.MediaType)
	}
	if got := ident.FolderName(); got != "Peaky Blinders [tmdbid-60574]" {
		t.Fatalf("folder name = %q", got)
	}
	if len(searcher.showQueries) == 0 || searcher.showQueries[0] != "Peaky Blinders" {
		t.Fatalf("show queries = %v", searcher.showQueries)
	}
}

func TestIdentifyShortTitleRequiresYearAgreement(t *testing.T) {
	searcher := &fakeSearcher{
		movies: []tmdb.SearchResult{
			{ID: 458723, Title: "Us", OriginalTitle: "Us", ReleaseDate: "2019-03-14", Popularity: 40},
		},
	}
	files := []debrid.TorrentFile{{ID: 1, Path: "/Us.2019.1080p.mkv", Bytes: 4e9, Selected: 1}}

	ident := New(searcher).IdentifyTorrent(context.Background(), &debrid.TorrentInfo{
		ID: "t3", Filename: "Us.2019.1080p.mkv", Files: files,
	})
	if ident == nil || ident.ExternalID.ID != "458723" {
		t.Fatalf("short title with matching year should identify, got %+v", ident)
	}

	// Without a year the short query is ambiguous and must be rejected.
	searcher2 := &fakeSearcher{
		movies: []tmdb.SearchResult{
			{ID: 458723, Title: "Us", OriginalTitle: "Us", ReleaseDate: "2019-03-14", Popularity: 40},
		},
	}
	ident2 := New(searcher2).IdentifyTorrent(context.Background(), &debrid.TorrentInfo{
		ID:       "t4",
		Filename: "Us.1080p.mkv",
		Files:    []debrid.TorrentFile{{ID: 1, Path: "/Us.1080p.mkv", Bytes: 4e9, Selected: 1}},
	})
	if ident2 != nil {
		t.Fatalf("short title without year should be rejected, got %+v", ident2)
	}
}

func TestIdentifyFallsBackToTorrentName(t *testing.T) {
	// A disc dump: the largest file has a generic name, the torrent name
	// carries the title.
	searcher := &fakeSearcher{
		movies: []tmdb.SearchResult{
			{ID: 27205, Title: "Inception", OriginalTitle: "Inception", ReleaseDate: "2010-07-15", Popularity: 90},
		},
	}
	ident := New(searcher).IdentifyTorrent(context.Background(), &debrid.TorrentInfo{
		ID:       "t5",
		Filename: "Inception.2010.BluRay.REMUX",
		Files: []debrid.TorrentFile{
			{ID: 1, Path: "/BDMV/STREAM/00000.m2ts", Bytes: 25e9, Selected: 1},
		},
	})

	if ident == nil {
		t.Fatal("expected identification from the torrent name")
	}
	if ident.Title != "Inception" {
		t.Fatalf("title = %q", ident.Title)
	}
}

func TestIdentifyReturnsNilWhenNothingMatches(t *testing.T) {
	searcher := &fakeSearcher{}
	ident := New(searcher).IdentifyTorrent(context.Background(), &debrid.TorrentInfo{
		ID:       "t6",
		Filename: "Totally.Unknown.Release.2020.mkv",
		Files:    []debrid.TorrentFile{{ID: 1, Path: "/file.mkv", Bytes: 1e9, Selected: 1}},
	})
	if ident != nil {
		t.Fatalf("expected nil identification, got %+v", ident)
	}
}

func TestSelectBestMatchPrefersExactYearAgreement(t *testing.T) {
	tv := &scoredCandidate{result: tmdb.SearchResult{ID: 1, Title: "Twin"}, exact: true}
	movie := &scoredCandidate{result: tmdb.SearchResult{ID: 2, Title: "Twin"}, exact: true, yearMatch: true}

	got, mediaType := selectBestMatch(tv, movie, true)
	if got != movie || mediaType != MediaTypeMovie {
		t.Fatalf("exact+year on one side must win, got %v (%s)", got.result.ID, mediaType)
	}
}

func TestIsShowGuess(t *testing.T) {
	if !IsShowGuess([]debrid.TorrentFile{{Path: "/Show.S01E02.mkv", Selected: 1}}, "Show.S01") {
		t.Error("episode marker in file should flag a show")
	}
	if !IsShowGuess([]debrid.TorrentFile{
		{Path: "/a.mkv", Selected: 1},
		{Path: "/b.mkv", Selected: 1},
	}, "Pack") {
		t.Error("multiple video files should flag a show")
	}
	if IsShowGuess([]debrid.TorrentFile{{Path: "/Movie.2010.mkv", Selected: 1}}, "Movie.2010.mkv") {
		t.Error("single movie file should not flag a show")
	}
}
