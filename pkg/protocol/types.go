package protocol

// Item is a single entry of a bundle as it travels on the wire.
type Item struct {
	// RelativePath uses forward slashes regardless of platform.
	RelativePath string `json:"relativePath"`
	IsDirectory  bool   `json:"isDirectory"`
	// Size is zero for directories; only files contribute bytes to the stream.
	Size uint64 `json:"size"`
}

// Manifest is the first and only framed message of a transfer. The raw item
// bytes that follow it are laid out in exactly this order.
type Manifest struct {
	DeviceName string `json:"deviceName"`
	Items      []Item `json:"items"`
}

// TotalSize sums the declared sizes of all items. ok is false if the sum
// overflows.
func (m Manifest) TotalSize() (total uint64, ok bool) {
	for _, item := range m.Items {
		if item.Size > ^uint64(0)-total {
			return 0, false
		}
		total += item.Size
	}
	return total, true
}
