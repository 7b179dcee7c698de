package main

import (
	"bytes"
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net"
	"sync"
	"time"
)

var (
	addr  = flag.String("addr", "localhost:5601", "gate address to flood")
	conns = flag.Int("conns", 100, "concurrent connections")
	size  = flag.Int("size", 4096, "payload bytes per round trip")
)

var stats struct {
	max   time.Duration
	total time.Duration
	count int
	bytes int64
	sync.Mutex
}

// echoRound writes one payload and expects the far end of the tunnel to
// echo it back unchanged.
func echoRound(conn net.Conn, payload, back []byte) error {
	if _, err := rand.Read(payload); err != nil {
		return err
	}
	if _, err := conn.Write(payload); err != nil {
		return err
	}
	if _, err := io.ReadFull(conn, back); err != nil {
		return err
	}
	if !bytes.Equal(payload, back) {
		return fmt.Errorf("payload mismatch after %d bytes", len(payload))
	}
	return nil
}

func flooder() error {
	conn, err := net.Dial("tcp", *addr)
	if err != nil {
		return err
	}
	payload := make([]byte, *size)
	back := make([]byte, *size)
	for {
		start := time.Now()
		if err := echoRound(conn, payload, back); err != nil {
			return err
		}
		wait := time.Since(start)

		stats.Lock()
		stats.total += wait
		stats.count++
		stats.bytes += int64(len(payload)) * 2
		if wait > stats.max {
			stats.max = wait
		}
		stats.Unlock()
	}
}

func main() {
	flag.Parse()

	for i := 0; i < *conns; i++ {
		go func() {
			if err := flooder(); err != nil {
				panic(err)
			}
		}()
	}

	ticker := time.NewTicker(1 * time.Second)
	var lastBytes int64
	for range ticker.C {
		stats.Lock()
		avg := time.Duration(0)
		if stats.count > 0 {
			avg = stats.total / time.Duration(stats.count)
		}
		log.Printf("avg %s max %s %.2f MB/s", avg, stats.max, float64(stats.bytes-lastBytes)/1e6)
		lastBytes = stats.bytes
		stats.Unlock()
	}
}
