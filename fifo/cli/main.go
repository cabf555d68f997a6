package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/gosuri/uilive"
	"github.com/webbmaffian/go-fifo/fifo"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, os.Kill)
	defer stop()

	args := os.Args[1:]

	if len(args) != 1 {
		log.Println("Exactly one (1) argument expected, and this must be the path to the buffer file.")
		return
	}

	buf, err := fifo.OpenMappedBufferReadonly(args[0])

	if err != nil {
		log.Println(err)
		return
	}

	defer buf.Close()

	ticker := time.NewTicker(time.Second)
	writer := uilive.New()

	capacity := writer.Newline()
	length := writer.Newline()
	free := writer.Newline()
	readIdx := writer.Newline()
	writeIdx := writer.Newline()
	written := writer.Newline()
	read := writer.Newline()
	closed := writer.Newline()

	// start listening for updates and render
	writer.Start()
	defer writer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:

			fmt.Fprintf(capacity, "Capacity: %d\n", buf.Cap())
			fmt.Fprintf(length, "Length: %d\n", buf.Len())
			fmt.Fprintf(free, "Free: %d\n", buf.Free())
			fmt.Fprintf(readIdx, "Read index: %d\n", buf.ReadIndex())
			fmt.Fprintf(writeIdx, "Write index: %d\n", buf.WriteIndex())
			fmt.Fprintf(written, "Bytes written: %d\n", buf.BytesWritten())
			fmt.Fprintf(read, "Bytes read: %d\n", buf.BytesRead())
			fmt.Fprintf(closed, "Closed: %t (EOF: %t)\n", buf.Closed(), buf.EOF())
		}
	}
}
