package fifo

import (
	"bytes"
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"
)

func checkInvariants(t *testing.T, b *Buffer) {
	t.Helper()

	b.mu.Lock()
	defer b.mu.Unlock()

	alloc := int64(len(b.data))

	if b.length < 0 || b.length > alloc || alloc > b.maxCap {
		t.Fatalf("invariants violated: length %d, allocated %d, max %d", b.length, alloc, b.maxCap)
	}

	if alloc > 0 && (b.readIdx+b.length)%alloc != b.writeIdx {
		t.Fatalf("cursors disagree with length: read %d, write %d, length %d, allocated %d", b.readIdx, b.writeIdx, b.length, alloc)
	}

	if b.bytesWritten-b.bytesRead != uint64(b.length) {
		t.Fatalf("counters disagree with length: written %d, read %d, length %d", b.bytesWritten, b.bytesRead, b.length)
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	b := New()
	data := []byte("hello world")

	if n := b.Write(data); n != len(data) {
		t.Fatalf("Write returned %d, want %d", n, len(data))
	}

	if b.Len() != int64(len(data)) {
		t.Fatalf("Len() = %d, want %d", b.Len(), len(data))
	}

	if got := b.ReadAll(); !bytes.Equal(got, data) {
		t.Fatalf("ReadAll got %q, want %q", got, data)
	}

	if b.Len() != 0 {
		t.Fatalf("Len() = %d after drain, want 0", b.Len())
	}

	checkInvariants(t, b)
}

func TestReadEmptyNeverBlocks(t *testing.T) {
	b := New()

	if got := b.ReadAll(); got != nil {
		t.Fatalf("ReadAll on empty buffer got %v, want nil", got)
	}

	if n := b.Read(make([]byte, 4)); n != 0 {
		t.Fatalf("Read on empty buffer got %d, want 0", n)
	}

	if _, ok := b.PopByte(); ok {
		t.Fatal("PopByte on empty buffer reported ok")
	}
}

func TestBoundedRead(t *testing.T) {
	b := New()
	b.Write([]byte{1, 2, 3, 4, 5})

	p := make([]byte, 2)

	if n := b.Read(p); n != 2 || !bytes.Equal(p, []byte{1, 2}) {
		t.Fatalf("Read got %d %v", n, p)
	}

	// A request beyond what is buffered yields a short read, not an error
	p = make([]byte, 10)

	if n := b.Read(p); n != 3 || !bytes.Equal(p[:n], []byte{3, 4, 5}) {
		t.Fatalf("Read got %d %v", n, p[:n])
	}

	checkInvariants(t, b)
}

func TestShortWriteAtMaxCapacity(t *testing.T) {
	b := New(5)

	if n := b.Write([]byte{1, 2, 3}); n != 3 {
		t.Fatalf("Write returned %d, want 3", n)
	}

	// Only 2 bytes left before the ceiling; the remainder must not be written
	if n := b.Write([]byte{4, 5, 6, 7}); n != 2 {
		t.Fatalf("Write returned %d, want 2", n)
	}

	if b.PushByte(8) {
		t.Fatal("PushByte on full buffer reported ok")
	}

	if n := b.Write([]byte{9}); n != 0 {
		t.Fatalf("Write on full buffer returned %d, want 0", n)
	}

	if got, want := b.ReadAll(), []byte{1, 2, 3, 4, 5}; !bytes.Equal(got, want) {
		t.Fatalf("ReadAll got %v, want %v", got, want)
	}

	checkInvariants(t, b)
}

func TestPushByteGrowsByOne(t *testing.T) {
	b := New(3)

	for i := byte(0); i < 3; i++ {
		if !b.PushByte(i) {
			t.Fatalf("PushByte(%d) failed", i)
		}
	}

	if b.PushByte(3) {
		t.Fatal("PushByte beyond the ceiling reported ok")
	}

	if got, want := b.ReadAll(), []byte{0, 1, 2}; !bytes.Equal(got, want) {
		t.Fatalf("ReadAll got %v, want %v", got, want)
	}
}

func TestWraparound(t *testing.T) {
	b := New(5)

	b.Write([]byte{1, 2, 3, 4, 5})

	p := make([]byte, 2)

	if n := b.Read(p); n != 2 {
		t.Fatalf("Read returned %d, want 2", n)
	}

	// The two new bytes land before the read cursor, wrapping the ring
	if n := b.Write([]byte{6, 7}); n != 2 {
		t.Fatalf("Write returned %d, want 2", n)
	}

	checkInvariants(t, b)

	if got, want := b.ReadAll(), []byte{3, 4, 5, 6, 7}; !bytes.Equal(got, want) {
		t.Fatalf("ReadAll got %v, want %v", got, want)
	}
}

func TestGrowthPreservesWrappedOrder(t *testing.T) {
	b := New()

	b.Write([]byte{1, 2, 3, 4, 5})
	b.Read(make([]byte, 2))
	b.Write([]byte{6, 7})

	// Full and wrapped; this write forces a grow that must splice the
	// wrapped segments back into logical order.
	if n := b.Write([]byte{8, 9, 10}); n != 3 {
		t.Fatalf("Write returned %d, want 3", n)
	}

	checkInvariants(t, b)

	if got, want := b.ReadAll(), []byte{3, 4, 5, 6, 7, 8, 9, 10}; !bytes.Equal(got, want) {
		t.Fatalf("ReadAll got %v, want %v", got, want)
	}
}

func TestFIFOOrderRandom(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	b := New()

	var model bytes.Buffer

	for i := 0; i < 10000; i++ {
		switch rng.Intn(4) {
		case 0, 1:
			p := make([]byte, rng.Intn(64))
			rng.Read(p)

			if n := b.Write(p); n != len(p) {
				t.Fatalf("op %d: unbounded Write returned %d, want %d", i, n, len(p))
			}

			model.Write(p)

		case 2:
			p := make([]byte, rng.Intn(64))
			q := make([]byte, len(p))

			n := b.Read(p)
			m, _ := model.Read(q)

			if n != m || !bytes.Equal(p[:n], q[:m]) {
				t.Fatalf("op %d: Read got %d %v, want %d %v", i, n, p[:n], m, q[:m])
			}

		case 3:
			got := b.ReadAll()
			want := model.Next(model.Len())

			if !bytes.Equal(got, want) {
				t.Fatalf("op %d: ReadAll got %v, want %v", i, got, want)
			}
		}

		checkInvariants(t, b)
	}

	if got, want := b.ReadAll(), model.Next(model.Len()); !bytes.Equal(got, want) {
		t.Fatalf("final drain got %d bytes, want %d", len(got), len(want))
	}
}

func TestReadOrBlockWakesOnWrite(t *testing.T) {
	b := New()
	data := []byte("delayed")

	var (
		wg  sync.WaitGroup
		got []byte
	)

	wg.Add(1)

	go func() {
		defer wg.Done()
		got = b.ReadAllOrBlock()
	}()

	time.Sleep(10 * time.Millisecond)
	b.Write(data)
	wg.Wait()

	if !bytes.Equal(got, data) {
		t.Fatalf("ReadAllOrBlock got %q, want %q", got, data)
	}
}

func TestWriteOrBlockWakesOnRead(t *testing.T) {
	b := New(5)
	b.Write([]byte{1, 2, 3, 4, 5})

	var (
		wg sync.WaitGroup
		n  int
	)

	wg.Add(1)

	go func() {
		defer wg.Done()
		n = b.WriteOrBlock([]byte{6, 7})
	}()

	time.Sleep(10 * time.Millisecond)

	p := make([]byte, 3)

	if got := b.Read(p); got != 3 {
		t.Fatalf("Read returned %d, want 3", got)
	}

	wg.Wait()

	if n != 2 {
		t.Fatalf("WriteOrBlock returned %d, want 2", n)
	}

	if got, want := b.ReadAll(), []byte{4, 5, 6, 7}; !bytes.Equal(got, want) {
		t.Fatalf("ReadAll got %v, want %v", got, want)
	}
}

func TestCloseUnblocksBlockedWriter(t *testing.T) {
	b := New(1)
	b.PushByte(1)

	var wg sync.WaitGroup
	wg.Add(1)

	go func() {
		defer wg.Done()

		if n := b.WriteOrBlock([]byte{2}); n != 0 {
			t.Errorf("WriteOrBlock after close returned %d, want 0", n)
		}
	}()

	time.Sleep(10 * time.Millisecond)
	b.CloseWriting()
	wg.Wait()
}

func TestCloseUnblocksBlockedReader(t *testing.T) {
	b := New()

	var wg sync.WaitGroup
	wg.Add(1)

	go func() {
		defer wg.Done()

		if got := b.ReadAllOrBlock(); got != nil {
			t.Errorf("ReadAllOrBlock got %v, want nil", got)
		}
	}()

	time.Sleep(10 * time.Millisecond)
	b.CloseWriting()
	wg.Wait()
}

func TestCloseDrainAndEOF(t *testing.T) {
	b := New()
	b.Write([]byte{1, 2, 3})
	b.CloseWriting()

	if !b.Closed() {
		t.Fatal("Closed() = false after CloseWriting")
	}

	// Three bytes are still buffered, so concurrent readers are not at EOF yet
	if b.EOF() {
		t.Fatal("EOF() = true with unread bytes")
	}

	if got, want := b.ReadAll(), []byte{1, 2, 3}; !bytes.Equal(got, want) {
		t.Fatalf("ReadAll got %v, want %v", got, want)
	}

	if !b.EOF() {
		t.Fatal("EOF() = false after close and drain")
	}

	if !b.Drained() {
		t.Fatal("Drained() = false after drain")
	}

	if n := b.Write([]byte{4}); n != 0 {
		t.Fatalf("Write after close returned %d, want 0", n)
	}
}

func TestDrainedWithoutClose(t *testing.T) {
	b := New()

	if !b.Drained() {
		t.Fatal("Drained() = false on a fresh buffer")
	}

	// Momentarily empty is not end-of-stream for concurrent readers
	if b.EOF() {
		t.Fatal("EOF() = true on an open buffer")
	}
}

func TestFromBytes(t *testing.T) {
	data := []byte("snapshot")
	b := FromBytes(data)

	if b.Len() != int64(len(data)) || b.Cap() != int64(len(data)) || b.Max() != int64(len(data)) {
		t.Fatalf("Len/Cap/Max = %d/%d/%d, want all %d", b.Len(), b.Cap(), b.Max(), len(data))
	}

	// Full on creation; no growth allowed
	if b.PushByte('x') {
		t.Fatal("PushByte on a full snapshot reported ok")
	}

	checkInvariants(t, b)

	if got := b.ReadAll(); !bytes.Equal(got, data) {
		t.Fatalf("ReadAll got %q, want %q", got, data)
	}

	// Reads freed space, so writes fit again up to the original size
	if n := b.Write([]byte("abc")); n != 3 {
		t.Fatalf("Write returned %d, want 3", n)
	}
}

func TestBytesSnapshotDoesNotConsume(t *testing.T) {
	b := New(5)

	b.Write([]byte{1, 2, 3, 4, 5})
	b.Read(make([]byte, 2))
	b.Write([]byte{6, 7})

	want := []byte{3, 4, 5, 6, 7}

	if got := b.Bytes(); !bytes.Equal(got, want) {
		t.Fatalf("Bytes got %v, want %v", got, want)
	}

	if b.Len() != 5 {
		t.Fatalf("Len() = %d after snapshot, want 5", b.Len())
	}

	if got := b.ReadAll(); !bytes.Equal(got, want) {
		t.Fatalf("ReadAll got %v, want %v", got, want)
	}

	if b.String() != "" {
		t.Fatalf("String() = %q on empty buffer", b.String())
	}
}

func TestReadToCallback(t *testing.T) {
	b := New(5)

	if err := b.ReadToCallback(func([]byte) error { return nil }, false); err != ErrEmpty {
		t.Fatalf("expected ErrEmpty, got %v", err)
	}

	b.Write([]byte{1, 2, 3, 4, 5})
	b.Read(make([]byte, 2))
	b.Write([]byte{6, 7})

	boom := errors.New("boom")

	if err := b.ReadToCallback(func([]byte) error { return boom }, true); err != boom {
		t.Fatalf("expected boom, got %v", err)
	}

	// The failed drain was undone
	if b.Len() != 5 {
		t.Fatalf("Len() = %d after undo, want 5", b.Len())
	}

	checkInvariants(t, b)

	var got []byte

	if err := b.ReadToCallback(func(p []byte) error {
		got = append(got, p...)
		return nil
	}, false); err != nil {
		t.Fatalf("ReadToCallback error: %v", err)
	}

	if want := []byte{3, 4, 5, 6, 7}; !bytes.Equal(got, want) {
		t.Fatalf("callback saw %v, want %v", got, want)
	}

	if b.Len() != 0 {
		t.Fatalf("Len() = %d after drain, want 0", b.Len())
	}
}

func TestWait(t *testing.T) {
	b := New()

	go func() {
		time.Sleep(10 * time.Millisecond)
		b.PushByte(1)
	}()

	if !b.Wait() {
		t.Fatal("Wait reported no data after a write")
	}

	b.ReadAll()
	b.CloseWriting()

	if b.Wait() {
		t.Fatal("Wait reported data on a closed, drained buffer")
	}
}

func TestWaitContext(t *testing.T) {
	b := New()
	b.PushByte(1)

	// Data available: returns without blocking
	if err := b.WaitContext(context.Background()); err != nil {
		t.Fatalf("WaitContext error: %v", err)
	}

	b.ReadAll()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if err := b.WaitContext(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
}

// Races near-immediate deadlines against a quiescent buffer; every call must
// still observe its own cancellation.
func TestWaitContextCancelRace(t *testing.T) {
	b := New()

	done := make(chan struct{})

	go func() {
		defer close(done)

		for i := 0; i < 500; i++ {
			ctx, cancel := context.WithTimeout(context.Background(), time.Microsecond)
			err := b.WaitContext(ctx)
			cancel()

			if !errors.Is(err, context.DeadlineExceeded) {
				t.Errorf("WaitContext returned %v, want DeadlineExceeded", err)
				return
			}
		}
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("WaitContext stuck after cancellation")
	}
}

func TestReset(t *testing.T) {
	b := New(8)
	b.Write([]byte("junk"))
	b.Reset()

	if b.Len() != 0 {
		t.Fatalf("Len() = %d after Reset, want 0", b.Len())
	}

	if n := b.Write([]byte("fresh")); n != 5 {
		t.Fatalf("Write returned %d, want 5", n)
	}

	if got := b.ReadAll(); !bytes.Equal(got, []byte("fresh")) {
		t.Fatalf("ReadAll got %q, want %q", got, "fresh")
	}
}

func TestConcurrentProducerConsumer(t *testing.T) {
	b := New(64)

	data := make([]byte, 64<<10)
	rand.New(rand.NewSource(2)).Read(data)

	var (
		wg  sync.WaitGroup
		got []byte
	)

	wg.Add(2)

	go func() {
		defer wg.Done()

		for rest := data; len(rest) > 0; {
			n := b.WriteOrBlock(rest)

			if n == 0 {
				t.Error("WriteOrBlock returned 0 before close")
				return
			}

			rest = rest[n:]
		}

		b.CloseWriting()
	}()

	go func() {
		defer wg.Done()

		p := make([]byte, 17)

		for {
			n := b.ReadOrBlock(p)

			if n == 0 {
				return
			}

			got = append(got, p[:n]...)
		}
	}()

	wg.Wait()

	if !bytes.Equal(got, data) {
		t.Fatalf("consumer got %d bytes, want %d in write order", len(got), len(data))
	}
}

func BenchmarkPushByte(b *testing.B) {
	buf := New(b.N + 1)

	// Pre-grow the storage so pushes don't reallocate one byte at a time
	buf.Write(make([]byte, b.N))
	buf.Reset()

	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		buf.PushByte(1)
	}
}

func BenchmarkWriteRead(b *testing.B) {
	buf := New(1 << 16)
	p := make([]byte, 64)

	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		buf.Write(p)
		buf.Read(p)
	}
}

func BenchmarkConcurrentWriteRead(b *testing.B) {
	buf := New(1 << 16)

	go func() {
		p := make([]byte, 64)

		for {
			if buf.ReadOrBlock(p) == 0 {
				break
			}
		}
	}()

	p := make([]byte, 64)

	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		buf.WriteOrBlock(p)
	}

	b.StopTimer()
	buf.CloseWriting()
}
