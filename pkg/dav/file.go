package dav

import (
	"io"
	"io/fs"
	"os"
	"time"

	"strmdav/pkg/vfs"
)

// fileHandle serves an in-memory document with checked seek arithmetic.
type fileHandle struct {
	name      string
	content   []byte
	pos       int64
	createdAt time.Time
}

func newFileHandle(name string, content []byte, createdAt time.Time) *fileHandle {
	return &fileHandle{
		name:      name,
		content:   content,
		createdAt: createdAt,
	}
}

func (h *fileHandle) Read(p []byte) (int, error) {
	if h.pos >= int64(len(h.content)) {
		return 0, io.EOF
	}
	n := copy(p, h.content[h.pos:])
	h.pos += int64(n)
	return n, nil
}

// Seek validates the target position: negative offsets and positions past
// the end are errors, never a wraparound.
func (h *fileHandle) Seek(offset int64, whence int) (int64, error) {
	var target int64
	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = h.pos + offset
	case io.SeekEnd:
		target = int64(len(h.content)) + offset
	default:
		return 0, &fs.PathError{Op: "seek", Path: h.name, Err: os.ErrInvalid}
	}

	if target < 0 || target > int64(len(h.content)) {
		return 0, &fs.PathError{Op: "seek", Path: h.name, Err: os.ErrInvalid}
	}
	h.pos = target
	return target, nil
}

func (h *fileHandle) Close() error { return nil }

func (h *fileHandle) Write([]byte) (int, error) {
	return 0, &fs.PathError{Op: "write", Path: h.name, Err: errReadOnly}
}

func (h *fileHandle) Readdir(int) ([]os.FileInfo, error) {
	return nil, &fs.PathError{Op: "readdir", Path: h.name, Err: os.ErrInvalid}
}

func (h *fileHandle) Stat() (os.FileInfo, error) {
	return &fileInfo{
		name:    h.name,
		size:    int64(len(h.content)),
		mode:    0o444,
		modTime: h.createdAt,
	}, nil
}

// dirHandle serves a directory listing in lexicographic order.
type dirHandle struct {
	name      string
	dir       *vfs.Directory
	createdAt time.Time
	offset    int
}

func (h *dirHandle) Read([]byte) (int, error) {
	return 0, &fs.PathError{Op: "read", Path: h.name, Err: os.ErrInvalid}
}

func (h *dirHandle) Write([]byte) (int, error) {
	return 0, &fs.PathError{Op: "write", Path: h.name, Err: errReadOnly}
}

func (h *dirHandle) Seek(int64, int) (int64, error) {
	return 0, &fs.PathError{Op: "seek", Path: h.name, Err: os.ErrInvalid}
}

func (h *dirHandle) Close() error { return nil }

// Readdir returns children in sorted order; count <= 0 returns everything.
func (h *dirHandle) Readdir(count int) ([]os.FileInfo, error) {
	names := h.dir.SortedNames()
	if h.offset >= len(names) {
		if count <= 0 {
			return nil, nil
		}
		return nil, io.EOF
	}

	end := len(names)
	if count > 0 && h.offset+count < end {
		end = h.offset + count
	}

	infos := make([]os.FileInfo, 0, end-h.offset)
	for _, name := range names[h.offset:end] {
		infos = append(infos, newFileInfo(name, h.dir.Children[name], h.createdAt))
	}
	h.offset = end
	return infos, nil
}

func (h *dirHandle) Stat() (os.FileInfo, error) {
	return &fileInfo{
		name:    h.name,
		mode:    0o555 | os.ModeDir,
		modTime: h.createdAt,
		isDir:   true,
	}, nil
}
