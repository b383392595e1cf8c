package debrid

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewClient("test-token", time.Millisecond, 10*time.Millisecond)
	c.SetBaseURL(srv.URL)
	return c, srv
}

func TestListTorrentsPaginates(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("missing bearer token, got %q", got)
		}
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		var items []TorrentItem
		if page == 1 {
			for i := 0; i < listPageSize; i++ {
				items = append(items, TorrentItem{ID: fmt.Sprintf("t%d", i), Status: StatusDownloaded})
			}
		} else if page == 2 {
			items = []TorrentItem{{ID: "last", Status: StatusDownloaded}}
		}
		json.NewEncoder(w).Encode(items)
	}))

	items, err := c.ListTorrents(context.Background())
	if err != nil {
		t.Fatalf("ListTorrents: %v", err)
	}
	if len(items) != listPageSize+1 {
		t.Fatalf("got %d items, want %d", len(items), listPageSize+1)
	}
	if items[len(items)-1].ID != "last" {
		t.Fatalf("last item = %q", items[len(items)-1].ID)
	}
}

func TestListTorrentsEmptyAccount(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	items, err := c.ListTorrents(context.Background())
	if err != nil {
		t.Fatalf("ListTorrents: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("got %d items, want none", len(items))
	}
}

func TestGetTorrentInfoNotFoundIsTerminal(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"error":"unknown_resource"}`, http.StatusNotFound)
	}))

	_, err := c.GetTorrentInfo(context.Background(), "gone")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("terminal status was retried %d times", calls.Load())
	}
}

func TestDeleteTorrentTreats404AsSuccess(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	if err := c.DeleteTorrent(context.Background(), "gone"); err != nil {
		t.Fatalf("DeleteTorrent: %v", err)
	}
}

func TestUnrestrictCachesAndDedupes(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if err := r.ParseForm(); err != nil {
			t.Error(err)
			return
		}
		if r.PostForm.Get("link") != "https://debrid/restricted" {
			t.Errorf("unexpected link %q", r.PostForm.Get("link"))
		}
		json.NewEncoder(w).Encode(UnrestrictResponse{Download: "https://direct/file.mkv", Filesize: 42})
	}))

	for i := 0; i < 3; i++ {
		resp, err := c.Unrestrict(context.Background(), "https://debrid/restricted")
		if err != nil {
			t.Fatalf("Unrestrict: %v", err)
		}
		if resp.Download != "https://direct/file.mkv" {
			t.Fatalf("download = %q", resp.Download)
		}
	}
	if calls.Load() != 1 {
		t.Fatalf("unrestrict hit the API %d times, want 1 (cached)", calls.Load())
	}
}

func TestUnrestrict503IsTerminal(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"error":"hoster_unavailable"}`, http.StatusServiceUnavailable)
	}))

	_, err := c.Unrestrict(context.Background(), "https://debrid/broken")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("terminal 503 was retried %d times", calls.Load())
	}
	if c.UnrestrictCacheSize() != 0 {
		t.Fatal("failed unrestricts must not be cached")
	}
}

func TestRetryAfterHeaderIsClamped(t *testing.T) {
	if got := parseRetryAfter("1000000"); got != 300 {
		t.Fatalf("parseRetryAfter(1000000) = %d, want 300", got)
	}
	if got := parseRetryAfter(""); got != 0 {
		t.Fatalf("parseRetryAfter(empty) = %d, want 0", got)
	}
	if got := parseRetryAfter("nonsense"); got != 0 {
		t.Fatalf("parseRetryAfter(garbage) = %d, want 0", got)
	}
}

func TestFetchRetriesThrottledResponses(t *testing.T) {
	if testing.Short() {
		t.Skip("retry backoff sleeps")
	}
	var calls atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		json.NewEncoder(w).Encode(&TorrentInfo{ID: "t1", Status: StatusDownloaded})
	}))

	info, err := c.GetTorrentInfo(context.Background(), "t1")
	if err != nil {
		t.Fatalf("GetTorrentInfo: %v", err)
	}
	if info.ID != "t1" {
		t.Fatalf("info.ID = %q", info.ID)
	}
	if calls.Load() != 2 {
		t.Fatalf("got %d calls, want 2", calls.Load())
	}
}
