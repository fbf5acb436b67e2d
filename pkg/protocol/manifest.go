package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"path"
	"strconv"
	"strings"
)

// ErrInvalidManifest wraps every manifest decoding and validation failure.
var ErrInvalidManifest = errors.New("invalid manifest")

// ErrDirectoryTraversal indicates a path that would escape the bundle root.
var ErrDirectoryTraversal = errors.New("path contains directory traversal")

// The wire structs use pointers so that a missing field can be told apart
// from a zero value. The peer controls every byte of the payload.
type wireManifest struct {
	DeviceName *string     `json:"deviceName"`
	Items      *[]wireItem `json:"items"`
}

type wireItem struct {
	RelativePath *string     `json:"relativePath"`
	IsDirectory  *bool       `json:"isDirectory"`
	Size         json.Number `json:"size"`
}

// EncodeManifest serializes m as a compact JSON object. It refuses manifests
// that DecodeManifest would reject.
func EncodeManifest(m Manifest) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	out := m
	if out.Items == nil {
		out.Items = []Item{}
	}
	return json.Marshal(out)
}

// DecodeManifest parses and validates a manifest payload.
func DecodeManifest(payload []byte) (Manifest, error) {
	var wire wireManifest
	if err := json.Unmarshal(payload, &wire); err != nil {
		return Manifest{}, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	if wire.DeviceName == nil {
		return Manifest{}, fmt.Errorf("%w: missing deviceName", ErrInvalidManifest)
	}
	if wire.Items == nil {
		return Manifest{}, fmt.Errorf("%w: missing items", ErrInvalidManifest)
	}

	m := Manifest{
		DeviceName: *wire.DeviceName,
		Items:      make([]Item, 0, len(*wire.Items)),
	}
	for i, w := range *wire.Items {
		item, err := w.item()
		if err != nil {
			return Manifest{}, fmt.Errorf("%w: item %d: %v", ErrInvalidManifest, i, err)
		}
		m.Items = append(m.Items, item)
	}
	if err := m.Validate(); err != nil {
		return Manifest{}, err
	}
	return m, nil
}

func (w wireItem) item() (Item, error) {
	if w.RelativePath == nil {
		return Item{}, errors.New("missing relativePath")
	}
	if w.IsDirectory == nil {
		return Item{}, errors.New("missing isDirectory")
	}
	if w.Size == "" {
		return Item{}, errors.New("missing size")
	}
	size, err := strconv.ParseUint(string(w.Size), 10, 64)
	if err != nil {
		return Item{}, fmt.Errorf("bad size %q", string(w.Size))
	}
	return Item{
		RelativePath: *w.RelativePath,
		IsDirectory:  *w.IsDirectory,
		Size:         size,
	}, nil
}

// Validate checks the invariants both sides rely on: safe unique paths,
// empty directories, sizes that fit a file offset and a total that fits
// in 64 bits.
func (m Manifest) Validate() error {
	seen := make(map[string]struct{}, len(m.Items))
	for i, item := range m.Items {
		if err := ValidatePath(item.RelativePath); err != nil {
			return fmt.Errorf("%w: item %d: %v", ErrInvalidManifest, i, err)
		}
		if _, dup := seen[item.RelativePath]; dup {
			return fmt.Errorf("%w: item %d: duplicate path %q", ErrInvalidManifest, i, item.RelativePath)
		}
		seen[item.RelativePath] = struct{}{}
		if item.IsDirectory && item.Size != 0 {
			return fmt.Errorf("%w: item %d: directory %q has size %d", ErrInvalidManifest, i, item.RelativePath, item.Size)
		}
		if item.Size > math.MaxInt64 {
			return fmt.Errorf("%w: item %d: size %d too large", ErrInvalidManifest, i, item.Size)
		}
	}
	if _, ok := m.TotalSize(); !ok {
		return fmt.Errorf("%w: declared sizes overflow", ErrInvalidManifest)
	}
	return nil
}

// ValidatePath accepts only clean, relative, forward-slash paths that stay
// inside the bundle root.
func ValidatePath(p string) error {
	switch {
	case p == "", p == ".":
		return fmt.Errorf("path %q names no entry", p)
	case strings.ContainsAny(p, "\\\x00"):
		return fmt.Errorf("path %q contains a forbidden character", p)
	case strings.HasPrefix(p, "/"), len(p) >= 2 && p[1] == ':':
		return fmt.Errorf("path %q is absolute", p)
	}
	for _, part := range strings.Split(p, "/") {
		if part == ".." {
			return fmt.Errorf("%w: %q", ErrDirectoryTraversal, p)
		}
	}
	if path.Clean(p) != p {
		return fmt.Errorf("path %q is not clean", p)
	}
	return nil
}
