package fifo

import (
	"errors"
	"unsafe"
)

func newHeader(capacity int) *header {
	h := &header{
		capacity: int64(capacity),
	}
	h.headSize = int64(unsafe.Sizeof(*h))

	return h
}

// header is the persisted state of a mapped buffer, cast directly onto the
// start of the mapping.
type header struct {
	headSize     int64
	capacity     int64
	readIdx      int64
	writeIdx     int64
	length       int64
	bytesWritten uint64
	bytesRead    uint64
	eof          int64
}

func (h header) fileSize() int64 {
	return h.headSize + h.capacity
}

func (h *header) validate(fileSize int64) error {
	if h.capacity < 1 {
		return errors.New("invalid capacity")
	}

	// Cursors must be less than capacity
	if h.readIdx < 0 || h.readIdx >= h.capacity {
		return errors.New("invalid read index")
	}

	if h.writeIdx < 0 || h.writeIdx >= h.capacity {
		return errors.New("invalid write index")
	}

	// A capacity can never be less than the length
	if h.length < 0 || h.length > h.capacity {
		return errors.New("invalid length")
	}

	// Cursors and length must agree on the ring layout
	if (h.readIdx+h.length)%h.capacity != h.writeIdx {
		return errors.New("inconsistent cursors")
	}

	if fileSize != h.fileSize() {
		return errors.New("invalid file size")
	}

	return nil
}
