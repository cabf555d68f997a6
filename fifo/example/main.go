package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/webbmaffian/go-fifo/fifo"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, os.Kill)
	defer stop()

	buf := fifo.New(1 << 10)

	go runProducer(ctx, buf)
	go runConsumer(buf)

	<-ctx.Done()

	buf.CloseWriting()
}

func runProducer(ctx context.Context, buf *fifo.Buffer) {
	log.Println("producer: started")

	for i := 0; ctx.Err() == nil; i++ {
		msg := fmt.Sprintf("message %04d\n", i)

		if buf.WriteOrBlock([]byte(msg)) == 0 {
			break
		}

		stats(buf, "producer", "WRITE")
		time.Sleep(time.Second)
	}

	log.Println("producer: closing")
}

func runConsumer(buf *fifo.Buffer) {
	log.Println("consumer: started")

	for {
		msg := buf.ReadAllOrBlock()

		if msg == nil {
			if buf.EOF() {
				break
			}

			continue
		}

		stats(buf, "consumer", "READ")
	}

	log.Println("consumer: closing")
}

func stats(buf *fifo.Buffer, who, what string) {
	log.Printf("%s: %5s | %02d bytes buffered (%d written, %d read)\n", who, what, buf.Len(), buf.BytesWritten(), buf.BytesRead())
}
