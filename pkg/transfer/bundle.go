package transfer

import (
	"io"

	"tarun-kavipurapu/nitroshare/pkg/protocol"
)

// Source supplies the items of an outgoing bundle.
type Source interface {
	// Next returns items in a stable order and io.EOF once all have been
	// returned.
	Next() (protocol.Item, error)
	// Open opens a file item for reading. It is never called for directories.
	Open(item protocol.Item) (io.ReadCloser, error)
}

// Sink stores the items of an incoming bundle.
type Sink interface {
	// Create prepares item for writing, creating parent directories as
	// needed. Directory items are created on the spot and return a nil
	// writer.
	Create(item protocol.Item) (io.WriteCloser, error)
}
