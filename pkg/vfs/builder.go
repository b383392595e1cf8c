package vfs

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"strmdav/pkg/debrid"
	"strmdav/pkg/identify"
	"strmdav/pkg/logger"
)

// Unrestrictor resolves a restricted link into a direct URL. The debrid
// client satisfies this; its cache makes the builder's per-leaf resolution
// cheap on rebuilds.
type Unrestrictor interface {
	Unrestrict(ctx context.Context, link string) (*debrid.UnrestrictResponse, error)
}

// BuildItem pairs a downloaded torrent with its identification.
type BuildItem struct {
	Info  debrid.TorrentInfo
	Ident identify.MediaIdentification
}

// Season folder detection, in order of preference.
var seasonRes = []*regexp.Regexp{
	regexp.MustCompile(`(?i)s(\d+)`),
	regexp.MustCompile(`(?i)season\s*(\d+)`),
	regexp.MustCompile(`(?i)(\d+)x\d+`),
}

// sanitizeName replaces path-hostile characters in folder and file names.
var sanitizeName = strings.NewReplacer(
	"/", "_", "\\", "_", ":", "_", "*", "_", "?", "_", "\"", "_", "<", "_", ">", "_", "|", "_",
)

// Build assembles a fresh snapshot from the given items. Items whose link
// count disagrees with their selected-file count are omitted with a warning.
// Each leaf's direct URL is resolved through the unrestrictor; a failing leaf
// is dropped and onBroken is invoked so the owning item can be hidden; a
// broken file must never masquerade as valid. The build holds no lock on the
// live tree; callers swap the result in afterwards.
func Build(ctx context.Context, items []BuildItem, unrestrictor Unrestrictor, onBroken func(torrentID, link string)) *VFS {
	v := New()
	movies := v.Root.Children["Movies"].(*Directory)
	shows := v.Root.Children["Shows"].(*Directory)

	// Deterministic processing order: folder, then larger torrent first,
	// then id.
	sorted := make([]BuildItem, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool {
		fi, fj := sorted[i].Ident.FolderName(), sorted[j].Ident.FolderName()
		if fi != fj {
			return fi < fj
		}
		if sorted[i].Info.Bytes != sorted[j].Info.Bytes {
			return sorted[i].Info.Bytes > sorted[j].Info.Bytes
		}
		return sorted[i].Info.ID < sorted[j].Info.ID
	})

	for _, item := range sorted {
		info := item.Info
		if info.SelectedCount() != len(info.Links) {
			logger.Warn("[VFS] Torrent %s has %d selected files but %d links, omitting", info.ID, info.SelectedCount(), len(info.Links))
			continue
		}

		folderName := sanitizeName.Replace(item.Ident.FolderName())
		parent := movies
		if item.Ident.MediaType == identify.MediaTypeShow {
			parent = shows
		}

		folder := NewDirectory()
		if existing, ok := parent.Children[folderName].(*Directory); ok {
			folder = existing
		}

		added := addTorrentLeaves(ctx, folder, &item, unrestrictor, onBroken)
		if added == 0 && !hasLeaves(folder) {
			continue
		}

		if _, ok := folder.Children[nfoName(item.Ident.MediaType)]; !ok {
			folder.Children[nfoName(item.Ident.MediaType)] = &VirtualBlob{Content: renderNFO(item.Ident)}
		}
		parent.Children[folderName] = folder
	}

	return v
}

// addTorrentLeaves places one torrent's selected video files into the folder,
// grouped into Season NN subfolders for shows. Returns the number of leaves
// added.
func addTorrentLeaves(ctx context.Context, folder *Directory, item *BuildItem, unrestrictor Unrestrictor, onBroken func(string, string)) int {
	info := &item.Info
	added := 0
	linkIdx := -1
	for _, f := range info.Files {
		if f.Selected != 1 {
			continue
		}
		linkIdx++
		if !identify.IsVideoFile(f.Path) {
			continue
		}
		link := info.Links[linkIdx]
		base := path.Base(strings.Trim(f.Path, "/"))

		resp, err := unrestrictor.Unrestrict(ctx, link)
		if err != nil {
			logger.Warn("[VFS] Unrestrict failed for %s (%s), dropping leaf: %v", base, info.ID, err)
			if onBroken != nil {
				onBroken(info.ID, link)
			}
			continue
		}

		target := folder
		if item.Ident.MediaType == identify.MediaTypeShow {
			target = folder.ensureDir(seasonFolder(base))
		}

		leaf := &StrmLeaf{
			Content:    []byte(resp.Download + "\n"),
			DebridLink: link,
			TorrentID:  info.ID,
			FileBytes:  f.Bytes,
		}
		if insertLeaf(target, strmName(base), leaf) {
			added++
		}
	}
	return added
}

// insertLeaf adds a leaf under name, resolving collisions: the larger source
// file wins across items, while distinct files from the same torrent get a
// numbered suffix. Reports whether the leaf ended up in the tree.
func insertLeaf(dir *Directory, name string, leaf *StrmLeaf) bool {
	existing, ok := dir.Children[name]
	if !ok {
		dir.Children[name] = leaf
		return true
	}

	current, isLeaf := existing.(*StrmLeaf)
	if !isLeaf {
		return false
	}

	if current.TorrentID == leaf.TorrentID && current.DebridLink != leaf.DebridLink {
		ext := path.Ext(name)
		base := strings.TrimSuffix(name, ext)
		for i := 1; ; i++ {
			candidate := fmt.Sprintf("%s (%d)%s", base, i, ext)
			if _, taken := dir.Children[candidate]; !taken {
				dir.Children[candidate] = leaf
				return true
			}
		}
	}

	if leaf.FileBytes > current.FileBytes {
		dir.Children[name] = leaf
		return true
	}
	return false
}

// strmName swaps the media extension for .strm.
func strmName(base string) string {
	ext := path.Ext(base)
	return sanitizeName.Replace(strings.TrimSuffix(base, ext)) + ".strm"
}

// seasonFolder extracts the season number from an episode file name.
// Files without a detectable season land in Season 01.
func seasonFolder(base string) string {
	for _, re := range seasonRes {
		if m := re.FindStringSubmatch(base); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil {
				return fmt.Sprintf("Season %02d", n)
			}
		}
	}
	return "Season 01"
}

// hasLeaves reports whether the directory contains at least one strm leaf,
// directly or in a season subfolder.
func hasLeaves(dir *Directory) bool {
	for _, child := range dir.Children {
		switch c := child.(type) {
		case *StrmLeaf:
			return true
		case *Directory:
			if hasLeaves(c) {
				return true
			}
		}
	}
	return false
}
