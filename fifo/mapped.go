package fifo

import (
	"errors"
	"io"
	"os"
	"sync"

	"github.com/edsrzf/mmap-go"
	"github.com/webbmaffian/go-fifo/internal/utils"
)

// MappedBuffer is a FIFO byte ring persisted through a memory-mapped file.
// It follows the same dual API as Buffer, but its capacity is fixed by the
// file size: a full buffer never grows in place, it only reports short
// writes until reads free space. Cursors, length and the end-of-stream
// flag live in the file header, so a reopened buffer resumes where it
// left off.
type MappedBuffer struct {
	data      mmap.MMap
	readCond  sync.Cond // Awaited by readers, notified by writers.
	writeCond sync.Cond // Awaited by writers, notified by readers.
	mu        sync.Mutex
	file      *os.File
	head      *header
}

// NewMappedBuffer creates or opens a mapped buffer at filepath. Opening an
// existing file with a different capacity fails unless allowResize is set,
// in which case the content is copied in FIFO order into a new file of the
// requested capacity.
func NewMappedBuffer(filepath string, capacity int, allowResize ...bool) (b *MappedBuffer, err error) {
	b = &MappedBuffer{
		head: newHeader(capacity),
	}

	b.readCond.L = &b.mu
	b.writeCond.L = &b.mu

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

	var created bool
	info, err := os.Stat(filepath)

	if err == nil {
		if b.file, err = os.OpenFile(filepath, os.O_RDWR, 0); err != nil {
			return
		}

		if err = b.validateHead(info.Size()); err != nil {
			return
		}
	} else if os.IsNotExist(err) {
		if b.head.capacity < 1 {
			err = errors.New("capacity is mandatory")
			return
		}

		if b.file, err = os.Create(filepath); err != nil {
			return
		}

		if err = b.file.Truncate(b.head.fileSize()); err != nil {
			return
		}

		created = true
	} else {
		return
	}

	if b.data, err = mmap.Map(b.file, mmap.RDWR, 0); err != nil {
		return
	}

	if created {

		if s := int(b.head.headSize); copy(b.data[:s], utils.PointerToBytes(b.head, s)) != s {
			err = errors.New("failed to write header")
			return
		}

		if err = b.Flush(); err != nil {
			return
		}
	}

	b.head = utils.BytesToPointer[header](b.data[:b.head.headSize])

	if capacity > 0 && b.head.capacity != int64(capacity) {
		if allowResize == nil || !allowResize[0] {
			err = errors.New("capacity mismatch")
			return
		}

		if err = b.resize(filepath, capacity); err != nil {
			return
		}

		return NewMappedBuffer(filepath, capacity)
	}

	return
}

func (b *MappedBuffer) validateHead(fileSize int64) (err error) {
	if fileSize < b.head.headSize {
		return errors.New("file too small")
	}

	if b.file == nil {
		return errors.New("file is not open")
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

// resize copies the buffer in logical order into a new file of the
// requested capacity, which then replaces the old one.
func (b *MappedBuffer) resize(filepath string, capacity int) (err error) {
	newFilepath := filepath + ".new"
	dst, err := NewMappedBuffer(newFilepath, capacity)

	if err != nil {
		return err
	}

	b.CopyTo(dst)

	if err = dst.Close(); err != nil {
		return
	}

	if err = b.Close(); err != nil {
		return
	}

	if err = os.Remove(filepath); err != nil {
		return
	}

	return os.Rename(newFilepath, filepath)
}

// CopyTo writes this buffer's content into dst in FIFO order without
// consuming it. If dst is smaller, the excess is cut off by dst's short
// writes.
func (b *MappedBuffer) CopyTo(dst *MappedBuffer) {
	b.mu.Lock()
	defer b.mu.Unlock()

	dst.mu.Lock()
	defer dst.mu.Unlock()

	store := b.storage()

	if end := b.head.readIdx + b.head.length; end <= b.head.capacity {
		dst.write(store[b.head.readIdx:end])
	} else {
		dst.write(store[b.head.readIdx:])
		dst.write(store[:b.head.writeIdx])
	}

	if b.head.eof != 0 {
		dst.head.eof = 1
	}
}

// Write stores as much of p as fits and returns the count. It never
// blocks; a full buffer yields 0. Returns 0 after CloseWriting.
func (b *MappedBuffer) Write(p []byte) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.head.eof != 0 {
		return 0
	}

	return b.write(p)
}

// WriteOrBlock stores as much of p as fits, waiting for a read to free
// space if the buffer is full. The count may still be short after waking.
func (b *MappedBuffer) WriteOrBlock(p []byte) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	for {
		if b.head.eof != 0 {
			return 0
		}

		if n := b.write(p); n > 0 || len(p) == 0 {
			return n
		}

		// Wait until there is space in the buffer
		b.writeCond.Wait()
	}
}

// PushByte stores a single byte, reporting false when the buffer is full
// or writing is closed.
func (b *MappedBuffer) PushByte(c byte) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.head.eof != 0 || b.head.length == b.head.capacity {
		return false
	}

	b.storage()[b.head.writeIdx] = c
	b.head.writeIdx = (b.head.writeIdx + 1) % b.head.capacity
	b.head.length++
	b.head.bytesWritten++
	b.readCond.Broadcast()

	return true
}

// Read copies up to len(p) buffered bytes into p and returns the count.
// It never blocks: an empty buffer yields 0.
func (b *MappedBuffer) Read(p []byte) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.read(p)
}

// ReadOrBlock copies up to len(p) buffered bytes into p, waiting for the
// next write if the buffer is empty. Returns 0 once the buffer is closed
// and drained.
func (b *MappedBuffer) ReadOrBlock(p []byte) int {
	if len(p) == 0 {
		return 0
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	// Wait until there is data in the buffer to read
	for b.head.length == 0 {
		if b.head.eof != 0 {
			return 0
		}

		b.readCond.Wait()
	}

	return b.read(p)
}

// ReadAll drains every buffered byte in write order without blocking.
func (b *MappedBuffer) ReadAll() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.readAll()
}

// ReadAllOrBlock drains every buffered byte in write order, waiting for
// the next write if the buffer is empty. Returns nil once the buffer is
// closed and drained.
func (b *MappedBuffer) ReadAllOrBlock() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	for b.head.length == 0 {
		if b.head.eof != 0 {
			return nil
		}

		b.readCond.Wait()
	}

	return b.readAll()
}

// PopByte pops a single byte without blocking.
func (b *MappedBuffer) PopByte() (c byte, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.head.length == 0 {
		return
	}

	c = b.storage()[b.head.readIdx]
	b.head.readIdx = (b.head.readIdx + 1) % b.head.capacity
	b.head.length--
	b.head.bytesRead++
	b.writeCond.Broadcast()

	return c, true
}

// Wait blocks until the buffer has something to read, reporting false
// once writing is closed and everything has been drained.
func (b *MappedBuffer) Wait() (ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	// Wait until there is data in the buffer to read
	for b.head.length == 0 {

		// If writing is closed, there will never be any more to read
		if b.head.eof != 0 {
			return
		}

		b.readCond.Wait()
	}

	return true
}

// CloseWriting marks the end of the stream, persists it in the header and
// wakes every waiter.
func (b *MappedBuffer) CloseWriting() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.head.eof == 0 {
		b.head.eof = 1
		b.readCond.Broadcast()
		b.writeCond.Broadcast()
	}
}

// Closed reports whether the stream has been closed for writing.
func (b *MappedBuffer) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.head.eof != 0
}

// EOF is the end-of-stream check for concurrent readers: true only once
// writing is closed and every buffered byte has been drained.
func (b *MappedBuffer) EOF() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.head.eof != 0 && b.head.length == 0
}

// Drained reports whether nothing is left to read right now.
func (b *MappedBuffer) Drained() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.head.length == 0
}

// Bytes returns a copy of the buffered bytes in write order without
// consuming them.
func (b *MappedBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.head.length == 0 {
		return nil
	}

	out := make([]byte, b.head.length)
	store := b.storage()

	if end := b.head.readIdx + b.head.length; end <= b.head.capacity {
		copy(out, store[b.head.readIdx:end])
	} else {
		n := copy(out, store[b.head.readIdx:])
		copy(out[n:], store[:b.head.writeIdx])
	}

	return out
}

func (b *MappedBuffer) Len() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.head.length
}

func (b *MappedBuffer) Cap() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.head.capacity
}

// Free returns how many bytes can be written without blocking.
func (b *MappedBuffer) Free() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.head.capacity - b.head.length
}

func (b *MappedBuffer) BytesWritten() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.head.bytesWritten
}

func (b *MappedBuffer) BytesRead() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.head.bytesRead
}

// Reset discards all buffered bytes. The closed flag is kept.
func (b *MappedBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.head.readIdx = 0
	b.head.writeIdx = 0
	b.head.length = 0
	b.writeCond.Broadcast()
}

// Flush syncs the mapping to disk.
func (b *MappedBuffer) Flush() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.flush()
}

func (b *MappedBuffer) flush() error {
	return b.data.Flush()
}

// Close flushes, unmaps and closes the underlying file, waking any
// waiters. It does not mark end-of-stream; use CloseWriting for that.
// Closing twice is a no-op.
func (b *MappedBuffer) Close() (err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.readCond.Broadcast()
	b.writeCond.Broadcast()

	if b.data != nil {
		if err = b.flush(); err != nil {
			return
		}

		// Detach the header so stat reads after Close don't touch the
		// unmapped region.
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

func (b *MappedBuffer) write(p []byte) int {
	if free := b.head.capacity - b.head.length; int64(len(p)) > free {
		p = p[:free]
	}

	if len(p) == 0 {
		return 0
	}

	store := b.storage()
	end := b.head.writeIdx + int64(len(p))

	if end <= b.head.capacity {
		copy(store[b.head.writeIdx:], p)
	} else {
		n := copy(store[b.head.writeIdx:], p)
		copy(store, p[n:])
	}

	b.head.writeIdx = end % b.head.capacity
	b.head.length += int64(len(p))
	b.head.bytesWritten += uint64(len(p))
	b.readCond.Broadcast()

	return len(p)
}

func (b *MappedBuffer) read(p []byte) int {
	if b.head.length == 0 || len(p) == 0 {
		return 0
	}

	n := int64(len(p))

	if n > b.head.length {
		n = b.head.length
	}

	store := b.storage()

	if end := b.head.readIdx + n; end <= b.head.capacity {
		copy(p, store[b.head.readIdx:end])
		b.head.readIdx = end % b.head.capacity
	} else {
		k := int64(copy(p[:n], store[b.head.readIdx:]))
		copy(p[k:n], store[:n-k])
		b.head.readIdx = n - k
	}

	b.head.length -= n
	b.head.bytesRead += uint64(n)
	b.writeCond.Broadcast()

	return int(n)
}

func (b *MappedBuffer) readAll() []byte {
	if b.head.length == 0 {
		return nil
	}

	out := make([]byte, b.head.length)
	b.read(out)

	return out
}

func (b *MappedBuffer) storage() []byte {
	return b.data[b.head.headSize:b.head.fileSize()]
}
