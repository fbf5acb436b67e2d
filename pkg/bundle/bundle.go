// Package bundle maps local files and directories onto the ordered item list
// a transfer sends, and writes received items below a download directory.
package bundle

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"go.uber.org/multierr"

	"tarun-kavipurapu/nitroshare/pkg/logger"
	"tarun-kavipurapu/nitroshare/pkg/protocol"
)

type entry struct {
	item protocol.Item
	path string
}

// Bundle is a snapshot of the paths given to Scan. It implements
// transfer.Source.
type Bundle struct {
	entries []entry
	byPath  map[string]string
	pos     int
	total   uint64
}

// Scan builds a bundle from paths. Each path becomes a top-level entry named
// after its base name; directories are walked in lexical order with parents
// before children. Symbolic links below a directory are skipped.
func Scan(paths ...string) (*Bundle, error) {
	if len(paths) == 0 {
		return nil, errors.New("no paths provided")
	}

	b := &Bundle{byPath: make(map[string]string)}
	var errs error
	for _, p := range paths {
		errs = multierr.Append(errs, b.add(p))
	}
	if errs != nil {
		return nil, errs
	}

	m := protocol.Manifest{Items: b.Items()}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	total, _ := m.TotalSize()
	b.total = total

	logger.Sugar.Infof("[Bundle] scanned %d path(s): items=%d bytes=%d", len(paths), len(b.entries), b.total)
	return b, nil
}

func (b *Bundle) add(root string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("cannot resolve %s: %w", root, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("path does not exist: %s", root)
		}
		return fmt.Errorf("cannot access %s: %w", root, err)
	}

	base := filepath.Base(abs)
	if _, dup := b.byPath[base]; dup {
		return fmt.Errorf("duplicate top-level name %q", base)
	}
	if !info.IsDir() {
		if !info.Mode().IsRegular() {
			return fmt.Errorf("not a regular file: %s", root)
		}
		b.append(protocol.Item{RelativePath: base, Size: uint64(info.Size())}, abs)
		return nil
	}

	// A symlinked root is followed; links below it are not.
	walkRoot, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return fmt.Errorf("cannot resolve %s: %w", root, err)
	}
	return filepath.WalkDir(walkRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("cannot read %s: %w", path, err)
		}
		if d.Type()&fs.ModeSymlink != 0 {
			logger.Sugar.Debugf("[Bundle] skipping symlink %s", path)
			return nil
		}

		rel, err := filepath.Rel(walkRoot, path)
		if err != nil {
			return fmt.Errorf("cannot compute relative path: %w", err)
		}
		name := base
		if rel != "." {
			name = base + "/" + filepath.ToSlash(rel)
		}

		if d.IsDir() {
			b.append(protocol.Item{RelativePath: name, IsDirectory: true}, path)
			return nil
		}
		if !d.Type().IsRegular() {
			logger.Sugar.Debugf("[Bundle] skipping special file %s", path)
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("cannot stat %s: %w", path, err)
		}
		b.append(protocol.Item{RelativePath: name, Size: uint64(info.Size())}, path)
		return nil
	})
}

func (b *Bundle) append(item protocol.Item, path string) {
	b.entries = append(b.entries, entry{item: item, path: path})
	b.byPath[item.RelativePath] = path
}

// Next returns the items in scan order and io.EOF once all were returned.
func (b *Bundle) Next() (protocol.Item, error) {
	if b.pos >= len(b.entries) {
		return protocol.Item{}, io.EOF
	}
	b.pos++
	return b.entries[b.pos-1].item, nil
}

// Open opens the file behind item.
func (b *Bundle) Open(item protocol.Item) (io.ReadCloser, error) {
	path, ok := b.byPath[item.RelativePath]
	if !ok || item.IsDirectory {
		return nil, fmt.Errorf("%s is not a file in this bundle", item.RelativePath)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return f, nil
}

// Items returns a copy of every item in scan order.
func (b *Bundle) Items() []protocol.Item {
	items := make([]protocol.Item, len(b.entries))
	for i, e := range b.entries {
		items[i] = e.item
	}
	return items
}

func (b *Bundle) Len() int {
	return len(b.entries)
}

// TotalSize is the number of file bytes the bundle will send.
func (b *Bundle) TotalSize() uint64 {
	return b.total
}
