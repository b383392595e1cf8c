package repair

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"strmdav/pkg/debrid"
	"strmdav/pkg/logger"
)

// State is the repair lifecycle of one torrent.
type State int

const (
	Healthy State = iota
	Broken
	Repairing
	Failed
)

func (s State) String() string {
	switch s {
	case Healthy:
		return "healthy"
	case Broken:
		return "broken"
	case Repairing:
		return "repairing"
	case Failed:
		return "failed"
	}
	return "unknown"
}

const (
	// maxAttempts is the recorded attempt count at which beginRepair parks a
	// torrent in Failed. A failed try already moves the torrent to Failed,
	// which is terminal, so in the normal flow each torrent gets one try.
	maxAttempts = 3
	// retriggerWindow suppresses repeat triggers for the same torrent.
	retriggerWindow = 30 * time.Second
)

// Health tracks one torrent's repair record.
type Health struct {
	State          State
	LastTransition time.Time
	Attempts       int
	LastTrigger    time.Time
	FailedLink     string
	Magnet         string
}

// DebridAPI is the slice of the debrid client the repair sequence needs.
type DebridAPI interface {
	GetTorrentInfo(ctx context.Context, id string) (*debrid.TorrentInfo, error)
	AddMagnet(ctx context.Context, magnet string) (*debrid.AddMagnetResponse, error)
	SelectFiles(ctx context.Context, id, fileIDs string) error
	DeleteTorrent(ctx context.Context, id string) error
}

// Manager drives the per-torrent repair state machine. A broken torrent is
// hidden from the library, deleted remotely, re-added by magnet and
// re-selected; the next scan surfaces the replacement as healthy.
type Manager struct {
	mu     sync.RWMutex
	health map[string]*Health
	client DebridAPI
}

// NewManager creates a repair manager over the given debrid API.
func NewManager(client DebridAPI) *Manager {
	return &Manager{
		health: make(map[string]*Health),
		client: client,
	}
}

// MarkBroken records a torrent as broken, typically after a failing
// unrestrict during playback. Repair attempt history is preserved.
func (m *Manager) MarkBroken(torrentID, failedLink string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev := m.health[torrentID]
	attempts := 0
	if prev != nil {
		if prev.State == Repairing || prev.State == Failed {
			return
		}
		attempts = prev.Attempts
	}

	logger.Warn("[Repair] Marking torrent %s as broken (link %s)", torrentID, failedLink)
	m.health[torrentID] = &Health{
		State:          Broken,
		LastTransition: time.Now(),
		Attempts:       attempts,
		FailedLink:     failedLink,
	}
}

// ShouldHide reports whether the torrent must be excluded from the library.
func (m *Manager) ShouldHide(torrentID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	h, ok := m.health[torrentID]
	if !ok {
		return false
	}
	return h.State == Broken || h.State == Repairing || h.State == Failed
}

// StateOf returns the recorded state for a torrent; Healthy when untracked.
func (m *Manager) StateOf(torrentID string) State {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if h, ok := m.health[torrentID]; ok {
		return h.State
	}
	return Healthy
}

// StatusSummary returns the number of broken/repairing and failed torrents.
func (m *Manager) StatusSummary() (repairing, failed int) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, h := range m.health {
		switch h.State {
		case Broken, Repairing:
			repairing++
		case Failed:
			failed++
		}
	}
	return repairing, failed
}

// Spawn runs RepairByID in a fire-and-forget goroutine. Read paths use this
// so a playback failure returns immediately.
func (m *Manager) Spawn(torrentID string) {
	go func() {
		if err := m.RepairByID(context.Background(), torrentID); err != nil {
			logger.Error("[Repair] Repair of %s failed: %v", torrentID, err)
		}
	}()
}

// RepairByID re-acquires a torrent from its source magnet:
// fetch info, delete the broken item, add the magnet, select all files.
// On success the health entry is removed so the next scan surfaces the new
// id; any failure transitions to Failed and the item stays hidden.
func (m *Manager) RepairByID(ctx context.Context, torrentID string) error {
	if err := m.beginRepair(torrentID); err != nil {
		return err
	}

	info, err := m.client.GetTorrentInfo(ctx, torrentID)
	if err != nil {
		if errors.Is(err, debrid.ErrNotFound) {
			m.setFailed(torrentID)
			return fmt.Errorf("torrent %s is gone: %w", torrentID, err)
		}
		m.setFailed(torrentID)
		return fmt.Errorf("fetch torrent %s: %w", torrentID, err)
	}

	magnet := "magnet:?xt=urn:btih:" + info.Hash
	m.setMagnet(torrentID, magnet)
	logger.Info("[Repair] Re-acquiring torrent %s (%q) via %s", torrentID, info.Filename, magnet)

	if err := m.client.DeleteTorrent(ctx, torrentID); err != nil {
		m.setFailed(torrentID)
		return fmt.Errorf("delete torrent %s: %w", torrentID, err)
	}

	added, err := m.client.AddMagnet(ctx, magnet)
	if err != nil {
		m.setFailed(torrentID)
		return fmt.Errorf("re-add magnet for %s: %w", torrentID, err)
	}

	if err := m.client.SelectFiles(ctx, added.ID, "all"); err != nil {
		m.setFailed(torrentID)
		return fmt.Errorf("select files on %s: %w", added.ID, err)
	}

	m.mu.Lock()
	delete(m.health, torrentID)
	m.mu.Unlock()

	logger.Info("[Repair] Torrent %s repaired, replacement id %s", torrentID, added.ID)
	return nil
}

// beginRepair guards the Broken -> Repairing transition: no double repair, no
// retrigger inside the suppression window, and a bounded attempt budget.
func (m *Manager) beginRepair(torrentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.health[torrentID]
	if !ok {
		h = &Health{State: Broken, LastTransition: time.Now()}
		m.health[torrentID] = h
	}

	switch h.State {
	case Failed:
		return fmt.Errorf("torrent %s has permanently failed repair", torrentID)
	case Repairing:
		return fmt.Errorf("repair already in progress for %s", torrentID)
	}

	if !h.LastTrigger.IsZero() && time.Since(h.LastTrigger) < retriggerWindow {
		return fmt.Errorf("repair recently triggered for %s", torrentID)
	}

	if h.Attempts >= maxAttempts {
		logger.Error("[Repair] Torrent %s failed repair %d times, marking failed", torrentID, h.Attempts)
		h.State = Failed
		h.LastTransition = time.Now()
		return fmt.Errorf("maximum repair attempts exceeded for %s", torrentID)
	}

	h.State = Repairing
	h.LastTransition = time.Now()
	h.Attempts++
	h.LastTrigger = time.Now()
	return nil
}

func (m *Manager) setFailed(torrentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if h, ok := m.health[torrentID]; ok {
		h.State = Failed
		h.LastTransition = time.Now()
	}
}

func (m *Manager) setMagnet(torrentID, magnet string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if h, ok := m.health[torrentID]; ok {
		h.Magnet = magnet
	}
}
