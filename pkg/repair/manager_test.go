package repair

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"strmdav/pkg/debrid"
)

type fakeDebrid struct {
	infos      map[string]*debrid.TorrentInfo
	infoErr    error
	addErr     error
	selectErr  error
	deleted    []string
	addedMag   []string
	selectedOn []string
}

func (f *fakeDebrid) GetTorrentInfo(_ context.Context, id string) (*debrid.TorrentInfo, error) {
	if f.infoErr != nil {
		return nil, f.infoErr
	}
	info, ok := f.infos[id]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", id, debrid.ErrNotFound)
	}
	return info, nil
}

func (f *fakeDebrid) AddMagnet(_ context.Context, magnet string) (*debrid.AddMagnetResponse, error) {
	if f.addErr != nil {
		return nil, f.addErr
	}
	f.addedMag = append(f.addedMag, magnet)
	return &debrid.AddMagnetResponse{ID: "new-id"}, nil
}

func (f *fakeDebrid) SelectFiles(_ context.Context, id, fileIDs string) error {
	if f.selectErr != nil {
		return f.selectErr
	}
	f.selectedOn = append(f.selectedOn, id+":"+fileIDs)
	return nil
}

func (f *fakeDebrid) DeleteTorrent(_ context.Context, id string) error {
	f.deleted = append(f.deleted, id)
	return nil
}

func TestMarkBrokenHidesTorrent(t *testing.T) {
	m := NewManager(&fakeDebrid{})

	if m.ShouldHide("t1") {
		t.Fatal("untracked torrent should not be hidden")
	}

	m.MarkBroken("t1", "/links/dead")
	if !m.ShouldHide("t1") {
		t.Fatal("broken torrent must be hidden")
	}
	if m.StateOf("t1") != Broken {
		t.Fatalf("state = %v", m.StateOf("t1"))
	}
}

func TestRepairSequenceAndRecovery(t *testing.T) {
	client := &fakeDebrid{
		infos: map[string]*debrid.TorrentInfo{
			"t1": {ID: "t1", Filename: "Movie.mkv", Hash: "cafebabe"},
		},
	}
	m := NewManager(client)
	m.MarkBroken("t1", "/links/dead")

	if err := m.RepairByID(context.Background(), "t1"); err != nil {
		t.Fatalf("RepairByID: %v", err)
	}

	if len(client.deleted) != 1 || client.deleted[0] != "t1" {
		t.Fatalf("deleted = %v", client.deleted)
	}
	if len(client.addedMag) != 1 || client.addedMag[0] != "magnet:?xt=urn:btih:cafebabe" {
		t.Fatalf("magnets = %v", client.addedMag)
	}
	if len(client.selectedOn) != 1 || !strings.HasPrefix(client.selectedOn[0], "new-id:") {
		t.Fatalf("selections = %v", client.selectedOn)
	}

	// Success clears the record; the next scan surfaces the replacement.
	if m.ShouldHide("t1") {
		t.Fatal("repaired torrent should no longer be hidden")
	}
	if m.StateOf("t1") != Healthy {
		t.Fatalf("state = %v", m.StateOf("t1"))
	}
}

func TestRepairGoneTorrentFails(t *testing.T) {
	m := NewManager(&fakeDebrid{infos: map[string]*debrid.TorrentInfo{}})
	m.MarkBroken("gone", "/links/x")

	if err := m.RepairByID(context.Background(), "gone"); err == nil {
		t.Fatal("expected error for missing torrent")
	}
	if m.StateOf("gone") != Failed {
		t.Fatalf("state = %v, want Failed", m.StateOf("gone"))
	}
	if !m.ShouldHide("gone") {
		t.Fatal("failed torrent stays hidden")
	}
}

func TestRepairFailureOnAddTransitionsToFailed(t *testing.T) {
	client := &fakeDebrid{
		infos:  map[string]*debrid.TorrentInfo{"t1": {ID: "t1", Hash: "h"}},
		addErr: fmt.Errorf("boom"),
	}
	m := NewManager(client)
	m.MarkBroken("t1", "/l")

	if err := m.RepairByID(context.Background(), "t1"); err == nil {
		t.Fatal("expected add failure to surface")
	}
	if m.StateOf("t1") != Failed {
		t.Fatalf("state = %v, want Failed", m.StateOf("t1"))
	}

	// Failed is terminal without operator intervention.
	if err := m.RepairByID(context.Background(), "t1"); err == nil {
		t.Fatal("repairing a failed torrent should be rejected")
	}
}

func TestRepairGuardsAgainstDoubleRepair(t *testing.T) {
	m := NewManager(&fakeDebrid{})

	m.mu.Lock()
	m.health["t1"] = &Health{State: Repairing}
	m.mu.Unlock()

	if err := m.RepairByID(context.Background(), "t1"); err == nil {
		t.Fatal("expected in-progress repair to block a second one")
	}
}

func TestRepairRetriggerSuppression(t *testing.T) {
	client := &fakeDebrid{
		infos:   map[string]*debrid.TorrentInfo{},
		infoErr: fmt.Errorf("transient"),
	}
	m := NewManager(client)

	m.MarkBroken("t1", "/l")
	_ = m.RepairByID(context.Background(), "t1") // fails, transitions to Failed

	// Reset to Broken with a fresh trigger stamp to exercise the window.
	m.mu.Lock()
	m.health["t1"].State = Broken
	m.mu.Unlock()

	err := m.RepairByID(context.Background(), "t1")
	if err == nil || !strings.Contains(err.Error(), "recently triggered") {
		t.Fatalf("err = %v, want retrigger suppression", err)
	}
}

func TestStatusSummary(t *testing.T) {
	m := NewManager(&fakeDebrid{})
	m.MarkBroken("a", "/1")
	m.MarkBroken("b", "/2")
	m.mu.Lock()
	m.health["c"] = &Health{State: Failed}
	m.mu.Unlock()

	repairing, failed := m.StatusSummary()
	if repairing != 2 || failed != 1 {
		t.Fatalf("summary = (%d, %d), want (2, 1)", repairing, failed)
	}
}
