package fifo

import (
	"errors"
	"io"
	"os"

	"github.com/edsrzf/mmap-go"
	"github.com/webbmaffian/go-fifo/internal/utils"
)

// MappedBufferReadonly is a read-only view over a mapped buffer file,
// meant for inspection tooling. It never mutates the file and takes no
// locks, so its numbers are snapshots that may lag a concurrent writer.
type MappedBufferReadonly struct {
	data mmap.MMap
	file *os.File
	head *header
}

func OpenMappedBufferReadonly(filepath string) (b *MappedBufferReadonly, err error) {
	b = &MappedBufferReadonly{
		head: newHeader(0),
	}

	defer func() {
		if err == nil || b == nil {
			return
		}

		if b.data != nil {
			b.data.Unmap()
		}

		if b.file != nil {
			b.file.Close()
		}

		b = nil
	}()

	info, err := os.Stat(filepath)

	if err != nil {
		return
	}

	if b.file, err = os.Open(filepath); err != nil {
		return
	}

	if err = b.validateHead(info.Size()); err != nil {
		return
	}

	if b.data, err = mmap.Map(b.file, mmap.RDONLY, 0); err != nil {
		return
	}

	b.head = utils.BytesToPointer[header](b.data[:b.head.headSize])

	return
}

func (b *MappedBufferReadonly) validateHead(fileSize int64) (err error) {
	if fileSize < b.head.headSize {
		return errors.New("file too small")
	}

	if _, err = b.file.Seek(0, io.SeekStart); err != nil {
		return
	}

	buf := make([]byte, b.head.headSize)

	if _, err = io.ReadFull(b.file, buf); err != nil {
		return
	}

	return utils.BytesToPointer[header](buf).validate(fileSize)
}

func (b *MappedBufferReadonly) Cap() int64 {
	return b.head.capacity
}

func (b *MappedBufferReadonly) Len() int64 {
	return b.head.length
}

func (b *MappedBufferReadonly) Free() int64 {
	return b.head.capacity - b.head.length
}

func (b *MappedBufferReadonly) ReadIndex() int64 {
	return b.head.readIdx
}

func (b *MappedBufferReadonly) WriteIndex() int64 {
	return b.head.writeIdx
}

func (b *MappedBufferReadonly) BytesWritten() uint64 {
	return b.head.bytesWritten
}

func (b *MappedBufferReadonly) BytesRead() uint64 {
	return b.head.bytesRead
}

func (b *MappedBufferReadonly) EOF() bool {
	return b.head.eof != 0 && b.head.length == 0
}

func (b *MappedBufferReadonly) Closed() bool {
	return b.head.eof != 0
}

// Bytes returns a copy of the buffered bytes in write order without
// consuming them.
func (b *MappedBufferReadonly) Bytes() []byte {
	if b.head.length == 0 {
		return nil
	}

	out := make([]byte, b.head.length)
	store := b.data[b.head.headSize:b.head.fileSize()]

	if end := b.head.readIdx + b.head.length; end <= b.head.capacity {
		copy(out, store[b.head.readIdx:end])
	} else {
		n := copy(out, store[b.head.readIdx:])
		copy(out[n:], store[:b.head.writeIdx])
	}

	return out
}

// Close unmaps the view and closes the file. Closing twice is a no-op.
func (b *MappedBufferReadonly) Close() (err error) {
	if b.data != nil {
		head := *b.head
		b.head = &head

		if err = b.data.Unmap(); err != nil {
			return
		}

		b.data = nil
	}

	if b.file == nil {
		return
	}

	err = b.file.Close()
	b.file = nil

	return
}
