package dav

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/net/webdav"

	"strmdav/pkg/debrid"
	"strmdav/pkg/logger"
	"strmdav/pkg/vfs"
)

// Unrestrictor resolves a restricted link into a direct URL on read-open.
type Unrestrictor interface {
	Unrestrict(ctx context.Context, link string) (*debrid.UnrestrictResponse, error)
}

// RepairTrigger is the slice of the repair manager the read path uses.
type RepairTrigger interface {
	MarkBroken(torrentID, failedLink string)
	Spawn(torrentID string)
	ShouldHide(torrentID string) bool
}

// FileSystem projects the live VFS snapshot as a read-only webdav.FileSystem.
// Directory listings come straight from the snapshot; opening a .strm leaf
// re-resolves its direct URL so served content is always fresh. A leaf whose
// source turns out broken surfaces an I/O error and queues a repair.
type FileSystem struct {
	live         *vfs.Live
	unrestrictor Unrestrictor
	repairs      RepairTrigger
}

// NewFileSystem creates the projection over the live snapshot handle.
func NewFileSystem(live *vfs.Live, unrestrictor Unrestrictor, repairs RepairTrigger) *FileSystem {
	return &FileSystem{
		live:         live,
		unrestrictor: unrestrictor,
		repairs:      repairs,
	}
}

var errReadOnly = errors.New("filesystem is read-only")

func (f *FileSystem) Mkdir(_ context.Context, name string, _ os.FileMode) error {
	return &fs.PathError{Op: "mkdir", Path: name, Err: errReadOnly}
}

func (f *FileSystem) RemoveAll(_ context.Context, name string) error {
	return &fs.PathError{Op: "remove", Path: name, Err: errReadOnly}
}

func (f *FileSystem) Rename(_ context.Context, oldName, _ string) error {
	return &fs.PathError{Op: "rename", Path: oldName, Err: errReadOnly}
}

func (f *FileSystem) Stat(_ context.Context, name string) (os.FileInfo, error) {
	snapshot := f.live.Snapshot()
	node, base, err := resolve(snapshot, name)
	if err != nil {
		return nil, err
	}
	return newFileInfo(base, node, snapshot.CreatedAt), nil
}

func (f *FileSystem) OpenFile(ctx context.Context, name string, flag int, _ os.FileMode) (webdav.File, error) {
	if flag&(os.O_WRONLY|os.O_RDWR|os.O_CREATE|os.O_TRUNC|os.O_APPEND) != 0 {
		return nil, &fs.PathError{Op: "open", Path: name, Err: errReadOnly}
	}

	snapshot := f.live.Snapshot()
	node, base, err := resolve(snapshot, name)
	if err != nil {
		return nil, err
	}

	switch n := node.(type) {
	case *vfs.Directory:
		return &dirHandle{
			name:      base,
			dir:       n,
			createdAt: snapshot.CreatedAt,
		}, nil

	case *vfs.VirtualBlob:
		return newFileHandle(base, n.Content, snapshot.CreatedAt), nil

	case *vfs.StrmLeaf:
		if f.repairs != nil && f.repairs.ShouldHide(n.TorrentID) {
			return nil, &fs.PathError{Op: "open", Path: name, Err: os.ErrNotExist}
		}

		resp, err := f.unrestrictor.Unrestrict(ctx, n.DebridLink)
		if err != nil {
			if errors.Is(err, debrid.ErrUnavailable) && f.repairs != nil {
				logger.Error("[DAV] Unrestrict failed for %s, triggering repair: %v", name, err)
				f.repairs.MarkBroken(n.TorrentID, n.DebridLink)
				f.repairs.Spawn(n.TorrentID)
			} else {
				logger.Warn("[DAV] Unrestrict failed for %s: %v", name, err)
			}
			return nil, &fs.PathError{Op: "open", Path: name, Err: fmt.Errorf("i/o error: %w", err)}
		}

		return newFileHandle(base, []byte(resp.Download+"\n"), snapshot.CreatedAt), nil
	}

	return nil, &fs.PathError{Op: "open", Path: name, Err: os.ErrNotExist}
}

// resolve walks the snapshot to the node at name. Paths with dot-dot
// segments or invalid UTF-8 are rejected outright.
func resolve(snapshot *vfs.VFS, name string) (vfs.Node, string, error) {
	if !utf8.ValidString(name) {
		return nil, "", &fs.PathError{Op: "resolve", Path: name, Err: os.ErrInvalid}
	}
	for _, part := range strings.Split(name, "/") {
		if part == ".." {
			return nil, "", &fs.PathError{Op: "resolve", Path: name, Err: os.ErrInvalid}
		}
	}

	cleaned := strings.Trim(path.Clean("/"+name), "/")
	if cleaned == "" || cleaned == "." {
		return snapshot.Root, "/", nil
	}

	var node vfs.Node = snapshot.Root
	base := "/"
	for _, part := range strings.Split(cleaned, "/") {
		dir, ok := node.(*vfs.Directory)
		if !ok {
			return nil, "", &fs.PathError{Op: "resolve", Path: name, Err: os.ErrNotExist}
		}
		child, ok := dir.Children[part]
		if !ok {
			return nil, "", &fs.PathError{Op: "resolve", Path: name, Err: os.ErrNotExist}
		}
		node = child
		base = part
	}
	return node, base, nil
}

// fileInfo is the stat record for any node. All nodes in a snapshot report
// the snapshot's build time, keeping timestamps stable between rebuilds of
// identical trees.
type fileInfo struct {
	name    string
	size    int64
	mode    os.FileMode
	modTime time.Time
	isDir   bool
}

func newFileInfo(name string, node vfs.Node, createdAt time.Time) *fileInfo {
	switch n := node.(type) {
	case *vfs.Directory:
		return &fileInfo{name: name, mode: 0o555 | os.ModeDir, modTime: createdAt, isDir: true}
	case *vfs.StrmLeaf:
		return &fileInfo{name: name, size: int64(len(n.Content)), mode: 0o444, modTime: createdAt}
	case *vfs.VirtualBlob:
		return &fileInfo{name: name, size: int64(len(n.Content)), mode: 0o444, modTime: createdAt}
	}
	return &fileInfo{name: name, mode: 0o444, modTime: createdAt}
}

func (fi *fileInfo) Name() string       { return fi.name }
func (fi *fileInfo) Size() int64        { return fi.size }
func (fi *fileInfo) Mode() os.FileMode  { return fi.mode }
func (fi *fileInfo) ModTime() time.Time { return fi.modTime }
func (fi *fileInfo) IsDir() bool        { return fi.isDir }
func (fi *fileInfo) Sys() interface{}   { return nil }
