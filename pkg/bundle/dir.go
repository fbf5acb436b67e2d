package bundle

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"tarun-kavipurapu/nitroshare/pkg/protocol"
)

const (
	dirPerm  = 0o755
	filePerm = 0o644
)

// Dir writes received items below a root directory. It implements
// transfer.Sink.
type Dir struct {
	root string
}

func NewDir(root string) *Dir {
	return &Dir{root: root}
}

func (d *Dir) Root() string {
	return d.root
}

// Create makes the directory for a directory item, or creates (truncating)
// the file for a file item along with any missing parents.
func (d *Dir) Create(item protocol.Item) (io.WriteCloser, error) {
	if err := protocol.ValidatePath(item.RelativePath); err != nil {
		return nil, fmt.Errorf("%q: %w", item.RelativePath, err)
	}
	target := filepath.Join(d.root, filepath.FromSlash(item.RelativePath))

	if item.IsDirectory {
		if err := os.MkdirAll(target, dirPerm); err != nil {
			return nil, err
		}
		return nil, nil
	}

	if err := os.MkdirAll(filepath.Dir(target), dirPerm); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, filePerm)
	if err != nil {
		return nil, err
	}
	return f, nil
}
