package reconciler

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"strmdav/pkg/debrid"
	"strmdav/pkg/identify"
	"strmdav/pkg/logger"
	"strmdav/pkg/store"
	"strmdav/pkg/vfs"
)

// DebridService is the slice of the debrid client the scan loop consumes.
type DebridService interface {
	ListTorrents(ctx context.Context) ([]debrid.TorrentItem, error)
	GetTorrentInfo(ctx context.Context, id string) (*debrid.TorrentInfo, error)
	Unrestrict(ctx context.Context, link string) (*debrid.UnrestrictResponse, error)
}

// IdentifierService identifies torrents; nil means "retry next scan".
type IdentifierService interface {
	IdentifyTorrent(ctx context.Context, info *debrid.TorrentInfo) *identify.MediaIdentification
}

// RepairFilter hides in-flight repairs from the library and receives broken
// items found while building.
type RepairFilter interface {
	ShouldHide(torrentID string) bool
	MarkBroken(torrentID, failedLink string)
}

// Notifier receives the diff of each swap. May be nil.
type Notifier interface {
	NotifyChanges(ctx context.Context, changes []vfs.Change)
}

// storedMatch is the persisted pairing of a torrent and its identification.
type storedMatch struct {
	Info  debrid.TorrentInfo           `json:"info"`
	Ident identify.MediaIdentification `json:"identification"`
}

// Reconciler keeps the live VFS aligned with the remote inventory: fetch,
// identify what is new, persist, rebuild off-lock, diff, swap, notify.
type Reconciler struct {
	client     DebridService
	identifier IdentifierService
	store      *store.Store
	repairs    RepairFilter
	live       *vfs.Live
	notifier   Notifier
	interval   time.Duration

	seen map[string]storedMatch
}

// New creates a reconciler. notifier may be nil.
func New(client DebridService, identifier IdentifierService, st *store.Store, repairs RepairFilter, live *vfs.Live, notifier Notifier, interval time.Duration) *Reconciler {
	return &Reconciler{
		client:     client,
		identifier: identifier,
		store:      st,
		repairs:    repairs,
		live:       live,
		notifier:   notifier,
		interval:   interval,
		seen:       make(map[string]storedMatch),
	}
}

// Run executes a scan immediately, then every interval until the context is
// cancelled. A failed cycle leaves the previous snapshot in effect.
func (r *Reconciler) Run(ctx context.Context) {
	r.loadPersisted()

	logger.Info("[Scan] Running initial scan")
	if err := r.RunCycle(ctx); err != nil && ctx.Err() == nil {
		logger.Error("[Scan] Initial scan failed: %v", err)
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("[Scan] Reconciler stopped")
			return
		case <-ticker.C:
			if err := r.RunCycle(ctx); err != nil && ctx.Err() == nil {
				logger.Error("[Scan] Cycle failed: %v", err)
			}
		}
	}
}

// loadPersisted seeds the in-memory match table from the store. Records that
// fail to decode are dropped and re-identified on the next scan.
func (r *Reconciler) loadPersisted() {
	records, err := r.store.All()
	if err != nil {
		logger.Error("[Scan] Loading persisted identifications: %v", err)
		return
	}
	for key, value := range records {
		var match storedMatch
		if err := json.Unmarshal(value, &match); err != nil {
			logger.Warn("[Scan] Dropping unreadable record for %s: %v", key, err)
			_ = r.store.Delete(key)
			continue
		}
		r.seen[key] = match
	}
	if len(r.seen) > 0 {
		logger.Info("[Scan] Loaded %d persisted identifications", len(r.seen))
	}
}

// RunCycle performs one reconcile pass.
func (r *Reconciler) RunCycle(ctx context.Context) error {
	cycle := uuid.NewString()[:8]
	started := time.Now()

	torrents, err := r.client.ListTorrents(ctx)
	if err != nil {
		return err
	}
	if len(torrents) == 0 {
		logger.Warn("[Scan %s] No torrents in the remote inventory", cycle)
	}

	downloaded := 0
	newlyIdentified := 0
	var current []vfs.BuildItem
	for _, t := range torrents {
		if t.Status != debrid.StatusDownloaded {
			continue
		}
		downloaded++

		match, ok := r.seen[t.ID]
		if !ok {
			info, err := r.client.GetTorrentInfo(ctx, t.ID)
			if err != nil {
				logger.Warn("[Scan %s] Fetching torrent %s: %v", cycle, t.ID, err)
				continue
			}
			ident := r.identifier.IdentifyTorrent(ctx, info)
			if ident == nil {
				// Skipped this cycle; retried on the next scan.
				continue
			}
			match = storedMatch{Info: *info, Ident: *ident}
			if err := r.persist(t.ID, match); err != nil {
				logger.Error("[Scan %s] Persisting identification for %s: %v", cycle, t.ID, err)
				continue
			}
			r.seen[t.ID] = match
			newlyIdentified++
		}

		if r.repairs != nil && r.repairs.ShouldHide(t.ID) {
			continue
		}
		current = append(current, vfs.BuildItem{Info: match.Info, Ident: match.Ident})
	}

	r.prune(torrents)

	// Assemble the new snapshot without touching the live tree, then swap.
	newVFS := vfs.Build(ctx, current, r.client, func(torrentID, link string) {
		if r.repairs != nil {
			r.repairs.MarkBroken(torrentID, link)
		}
	})

	old := r.live.Snapshot()
	changes := vfs.Diff(old, newVFS)
	r.live.Swap(newVFS)

	logger.Info("[Scan %s] %d downloaded, %d newly identified, %d change(s), took %s",
		cycle, downloaded, newlyIdentified, len(changes), time.Since(started).Round(time.Millisecond))

	if len(changes) > 0 && r.notifier != nil {
		go r.notifier.NotifyChanges(context.Background(), changes)
	}
	return nil
}

func (r *Reconciler) persist(id string, match storedMatch) error {
	data, err := json.Marshal(match)
	if err != nil {
		return err
	}
	return r.store.Put(id, data)
}

// prune drops identifications whose torrents left the remote inventory.
func (r *Reconciler) prune(torrents []debrid.TorrentItem) {
	remote := make(map[string]bool, len(torrents))
	for _, t := range torrents {
		remote[t.ID] = true
	}
	for id := range r.seen {
		if remote[id] {
			continue
		}
		delete(r.seen, id)
		if err := r.store.Delete(id); err != nil {
			logger.Warn("[Scan] Removing stale record %s: %v", id, err)
		}
	}
}
