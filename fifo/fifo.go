package fifo

import (
	"context"
	"math"
	"sync"
)

// Unbounded is the default capacity ceiling: large enough that growth
// checks never trigger in practice.
const Unbounded = math.MaxInt64

// Buffer is a growable FIFO byte ring shared between one writing side and
// one or more reading sides. Storage is allocated lazily and grows on
// demand up to a fixed ceiling; once the ceiling is reached, writes report
// backpressure through short (or zero) write counts rather than errors.
//
// The plain methods never block. The OrBlock variants suspend the caller
// until the operation can make progress, or until CloseWriting.
type Buffer struct {
	data         []byte
	readCond     sync.Cond // Awaited by readers, notified by writers.
	writeCond    sync.Cond // Awaited by writers, notified by readers.
	mu           sync.Mutex
	readIdx      int64
	writeIdx     int64
	length       int64 // Bytes written but not yet read.
	maxCap       int64
	bytesWritten uint64
	bytesRead    uint64
	eof          bool
}

// New creates an empty buffer. Storage grows as writes arrive, up to
// maxCapacity bytes if given, otherwise without bound.
func New(maxCapacity ...int) (b *Buffer) {
	b = &Buffer{
		maxCap: Unbounded,
	}

	if maxCapacity != nil && maxCapacity[0] > 0 {
		b.maxCap = int64(maxCapacity[0])
	}

	b.readCond.L = &b.mu
	b.writeCond.L = &b.mu

	return
}

// FromBytes creates a buffer pre-filled with a copy of p. The buffer is
// full on creation and its capacity ceiling equals len(p), so it never
// grows; it frees space only as bytes are read.
func FromBytes(p []byte) (b *Buffer) {
	b = &Buffer{
		data:         append([]byte(nil), p...),
		length:       int64(len(p)),
		maxCap:       int64(len(p)),
		bytesWritten: uint64(len(p)),
	}

	b.readCond.L = &b.mu
	b.writeCond.L = &b.mu

	return
}

// Write stores as much of p as fits, growing storage if the ceiling
// allows, and returns the number of bytes written. It never blocks: when
// no space can be made, it returns a short count (possibly 0). Returns 0
// after CloseWriting.
func (b *Buffer) Write(p []byte) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.eof {
		return 0
	}

	return b.write(p)
}

// WriteOrBlock stores as much of p as fits. If the buffer is full and
// cannot grow, it waits until a read frees space or writing is closed.
// After waking it writes whatever fits, so the count may still be short.
func (b *Buffer) WriteOrBlock(p []byte) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	for {
		if b.eof {
			return 0
		}

		if n := b.write(p); n > 0 || len(p) == 0 {
			return n
		}

		// Wait until there is space in the buffer
		b.writeCond.Wait()
	}
}

// PushByte stores a single byte, growing storage by one if the buffer is
// full and the ceiling allows. Reports false when no space can be made or
// writing is closed.
func (b *Buffer) PushByte(c byte) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.eof {
		return false
	}

	if b.length == int64(len(b.data)) && !b.grow(1) {
		return false
	}

	b.data[b.writeIdx] = c
	b.writeIdx = (b.writeIdx + 1) % int64(len(b.data))
	b.length++
	b.bytesWritten++
	b.readCond.Broadcast()

	return true
}

// Read copies up to len(p) buffered bytes into p and returns the count.
// It never blocks: an empty buffer yields 0.
func (b *Buffer) Read(p []byte) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.read(p)
}

// ReadOrBlock copies up to len(p) buffered bytes into p. If the buffer is
// empty and writing is not closed, it waits for the next write. Returns 0
// once the buffer is closed and drained.
func (b *Buffer) ReadOrBlock(p []byte) int {
	if len(p) == 0 {
		return 0
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	// Wait until there is data in the buffer to read
	for b.length == 0 {
		if b.eof {
			return 0
		}

		b.readCond.Wait()
	}

	return b.read(p)
}

// ReadAll drains every buffered byte and returns them in write order. It
// never blocks: an empty buffer yields nil.
func (b *Buffer) ReadAll() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.readAll()
}

// ReadAllOrBlock drains every buffered byte in write order. If the buffer
// is empty and writing is not closed, it waits for the next write. Returns
// nil once the buffer is closed and drained.
func (b *Buffer) ReadAllOrBlock() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	for b.length == 0 {
		if b.eof {
			return nil
		}

		b.readCond.Wait()
	}

	return b.readAll()
}

// PopByte pops a single byte. It never blocks, regardless of caller: a
// 1-byte ReadOrBlock is the blocking counterpart.
func (b *Buffer) PopByte() (c byte, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.length == 0 {
		return
	}

	c = b.data[b.readIdx]
	b.readIdx = (b.readIdx + 1) % int64(len(b.data))
	b.length--
	b.bytesRead++
	b.writeCond.Broadcast()

	return c, true
}

// ReadToCallback drains the buffer in place, invoking cb once per
// contiguous segment in write order (twice when the content wraps). If cb
// fails and undoOnError is set, the drained bytes are restored. Returns
// ErrEmpty when nothing is buffered.
func (b *Buffer) ReadToCallback(cb func([]byte) error, undoOnError bool) (err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	// If there is nothing to read, fail
	if b.length == 0 {
		return ErrEmpty
	}

	readIdx, length := b.readIdx, b.length
	alloc := int64(len(b.data))

	if end := b.readIdx + b.length; end <= alloc {
		err = cb(b.data[b.readIdx:end])
	} else if err = cb(b.data[b.readIdx:]); err == nil {
		err = cb(b.data[:b.writeIdx])
	}

	b.readIdx = b.writeIdx
	b.length = 0
	b.bytesRead += uint64(length)

	if undoOnError && err != nil {
		b.readIdx = readIdx
		b.length = length
		b.bytesRead -= uint64(length)
		b.readCond.Broadcast()
	} else {
		b.writeCond.Broadcast()
	}

	return
}

// Wait blocks until the buffer has something to read, reporting false once
// writing is closed and everything has been drained.
func (b *Buffer) Wait() (ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	// Wait until there is data in the buffer to read
	for b.length == 0 {

		// If writing is closed, there will never be any more to read
		if b.eof {
			return
		}

		b.readCond.Wait()
	}

	return true
}

// WaitContext blocks until the buffer has something to read, writing is
// closed, or ctx is done. It returns ctx's error, if any.
func (b *Buffer) WaitContext(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel() // Ensure that the child context is canceled when we're done

	// This goroutine waits for the context to be done and then wakes the
	// main goroutine. The lock orders the broadcast against the waiter:
	// it lands either before the condition check (which then sees the
	// context error) or after the waiter is enqueued.
	go func() {
		<-ctx.Done()
		b.mu.Lock()
		b.readCond.Broadcast()
		b.mu.Unlock()
	}()

	b.mu.Lock()
	for b.length == 0 && !b.eof && ctx.Err() == nil {
		b.readCond.Wait() // wait either for a write, a close, or for the context to be done
	}
	b.mu.Unlock()

	return ctx.Err()
}

// CloseWriting marks the end of the stream and wakes every waiter. Buffered
// bytes remain readable; further writes report 0.
func (b *Buffer) CloseWriting() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.eof {
		b.eof = true
		b.readCond.Broadcast()
		b.writeCond.Broadcast()
	}
}

// Closed reports whether CloseWriting has been called.
func (b *Buffer) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.eof
}

// EOF is the end-of-stream check for concurrent readers: true only once
// writing is closed and every buffered byte has been drained. An empty
// buffer alone is not EOF - more data may still arrive.
func (b *Buffer) EOF() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.eof && b.length == 0
}

// Drained is the owning side's notion of done: nothing left to read right
// now, whether or not writing has been closed.
func (b *Buffer) Drained() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.length == 0
}

// Bytes returns a copy of the buffered bytes in write order without
// consuming them.
func (b *Buffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.length == 0 {
		return nil
	}

	out := make([]byte, b.length)
	alloc := int64(len(b.data))

	if end := b.readIdx + b.length; end <= alloc {
		copy(out, b.data[b.readIdx:end])
	} else {
		n := copy(out, b.data[b.readIdx:])
		copy(out[n:], b.data[:b.writeIdx])
	}

	return out
}

func (b *Buffer) String() string {
	return string(b.Bytes())
}

// Len returns the number of buffered (written but unread) bytes.
func (b *Buffer) Len() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.length
}

// Cap returns the currently allocated storage size.
func (b *Buffer) Cap() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	return int64(len(b.data))
}

// Max returns the capacity ceiling.
func (b *Buffer) Max() int64 {
	return b.maxCap
}

// Free returns how many bytes can be written without blocking, counting
// room the buffer could still grow into.
func (b *Buffer) Free() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.maxCap - b.length
}

func (b *Buffer) BytesWritten() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.bytesWritten
}

func (b *Buffer) BytesRead() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.bytesRead
}

// Reset discards all buffered bytes. Allocated storage and the closed
// flag are kept.
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.readIdx = 0
	b.writeIdx = 0
	b.length = 0
	b.writeCond.Broadcast()
}

// write copies as much of p as fits, growing storage if needed and
// allowed, and advances the write cursor across the wrap boundary.
func (b *Buffer) write(p []byte) int {
	b.ensure(int64(len(p)))

	if free := int64(len(b.data)) - b.length; int64(len(p)) > free {
		p = p[:free]
	}

	if len(p) == 0 {
		return 0
	}

	alloc := int64(len(b.data))
	end := b.writeIdx + int64(len(p))

	if end <= alloc {
		copy(b.data[b.writeIdx:], p)
	} else {
		n := copy(b.data[b.writeIdx:], p)
		copy(b.data, p[n:])
	}

	b.writeIdx = end % alloc
	b.length += int64(len(p))
	b.bytesWritten += uint64(len(p))
	b.readCond.Broadcast()

	return len(p)
}

// read copies up to len(p) bytes, advancing the read cursor across the
// wrap boundary.
func (b *Buffer) read(p []byte) int {
	if b.length == 0 || len(p) == 0 {
		return 0
	}

	n := int64(len(p))

	if n > b.length {
		n = b.length
	}

	alloc := int64(len(b.data))

	if end := b.readIdx + n; end <= alloc {
		copy(p, b.data[b.readIdx:end])
		b.readIdx = end % alloc
	} else {
		k := int64(copy(p[:n], b.data[b.readIdx:]))
		copy(p[k:n], b.data[:n-k])
		b.readIdx = n - k
	}

	b.length -= n
	b.bytesRead += uint64(n)
	b.writeCond.Broadcast()

	return int(n)
}

func (b *Buffer) readAll() []byte {
	if b.length == 0 {
		return nil
	}

	out := make([]byte, b.length)
	b.read(out)

	return out
}

// ensure grows storage so that at least n bytes fit, as far as the
// ceiling allows.
func (b *Buffer) ensure(n int64) {
	if free := int64(len(b.data)) - b.length; n > free {
		b.grow(n - free)
	}
}

// grow extends storage by up to n bytes, bounded by the ceiling. Wrapped
// content is copied into the new storage in logical order so that the
// buffer ends up in a canonical non-wrapped layout; appending to the raw
// end of a wrapped ring would corrupt FIFO order.
func (b *Buffer) grow(n int64) bool {
	alloc := int64(len(b.data))

	if room := b.maxCap - alloc; n > room {
		n = room
	}

	if n <= 0 {
		return false
	}

	data := make([]byte, alloc+n)

	if b.length > 0 {
		if end := b.readIdx + b.length; end <= alloc {
			copy(data, b.data[b.readIdx:end])
		} else {
			k := copy(data, b.data[b.readIdx:])
			copy(data[k:], b.data[:b.writeIdx])
		}
	}

	b.data = data
	b.readIdx = 0
	b.writeIdx = b.length

	return true
}
