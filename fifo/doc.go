// Package fifo provides FIFO byte buffers for buffered asynchronous I/O.
//
// Buffer is a growable in-memory ring with a dual API: the plain methods
// (Write, Read, ReadAll, ...) never block and are meant for the context
// that owns the buffer and drives its loop, while the OrBlock variants
// suspend until the operation can make progress and are meant for
// concurrent producers and consumers sharing the same instance.
//
// MappedBuffer is the same contract persisted through a memory-mapped
// file, with a fixed capacity and a read-only view for inspection.
package fifo
