package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/zsiec/wtecho/internal/certs"
	"github.com/zsiec/wtecho/internal/client"
	"github.com/zsiec/wtecho/internal/echo"
)

func main() {
	urlFlag := flag.String("url", "https://127.0.0.1:8765/", "Echo server URL")
	hashFlag := flag.String("hash", "", "Server certificate SHA-256 fingerprint (hex)")
	sessionsFlag := flag.Int("sessions", 4, "Concurrent sessions")
	messagesFlag := flag.Int("messages", 25, "Stream messages per session")
	datagramsFlag := flag.Int("datagrams", 10, "Datagrams per session")
	timeoutFlag := flag.Duration("timeout", 30*time.Second, "Per-session deadline")
	flag.Parse()

	if *hashFlag == "" {
		fmt.Fprintf(os.Stderr, "Usage:\n")
		fmt.Fprintf(os.Stderr, "  echo-load --hash <sha256-hex> [--sessions N] [--messages M] [--datagrams D]\n")
		fmt.Fprintf(os.Stderr, "\nThe fingerprint is printed by the server at startup.\n")
		os.Exit(1)
	}

	hash, err := certs.ParseFingerprintHex(*hashFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid fingerprint: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Running %d sessions x %d stream messages + %d datagrams against %s\n",
		*sessionsFlag, *messagesFlag, *datagramsFlag, *urlFlag)

	start := time.Now()
	results := make([]sessionResult, *sessionsFlag)

	var wg sync.WaitGroup
	for i := 0; i < *sessionsFlag; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			results[n] = runSession(n, *urlFlag, hash, *messagesFlag, *datagramsFlag, *timeoutFlag)
		}(i)
	}
	wg.Wait()

	var streamEchoes, datagramEchoes, failures int
	for _, r := range results {
		streamEchoes += r.streamEchoes
		datagramEchoes += r.datagramEchoes
		if r.err != nil {
			failures++
		}
	}

	wantStream := *sessionsFlag * *messagesFlag
	wantDatagram := *sessionsFlag * *datagramsFlag
	fmt.Printf("Done in %s: %d/%d stream echoes, %d/%d datagram echoes (unreliable), %d failed sessions\n",
		time.Since(start).Truncate(time.Millisecond),
		streamEchoes, wantStream, datagramEchoes, wantDatagram, failures)

	// Streams are reliable, so every message must come back. Datagrams may
	// legitimately drop; their count is informational.
	if failures > 0 || streamEchoes != wantStream {
		os.Exit(1)
	}
}

type sessionResult struct {
	streamEchoes   int
	datagramEchoes int
	err            error
}

func runSession(n int, url string, hash [32]byte, messages, datagrams int, timeout time.Duration) sessionResult {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	session, err := client.Dial(ctx, url, hash)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[session %d] dial failed: %v\n", n, err)
		return sessionResult{err: err}
	}
	defer session.CloseWithError(0, "load test complete")

	stream, err := session.OpenStream(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[session %d] open stream failed: %v\n", n, err)
		return sessionResult{err: err}
	}

	var res sessionResult

	// Write one message at a time and read until its echo arrives. Replies
	// can be split or coalesced across reads, so match against an
	// accumulator rather than assuming one read per reply.
	acc := make([]byte, 0, 4096)
	readBuf := make([]byte, 2048)
	for i := 0; i < messages; i++ {
		msg := fmt.Sprintf("load %d-%d", n, i)
		if _, err := stream.Write([]byte(msg)); err != nil {
			fmt.Fprintf(os.Stderr, "[session %d] write failed: %v\n", n, err)
			res.err = err
			return res
		}

		want := []byte(echo.StreamEchoPrefix + msg)
		for !bytes.Contains(acc, want) {
			m, err := stream.Read(readBuf)
			if m > 0 {
				acc = append(acc, readBuf[:m]...)
			}
			if err != nil {
				fmt.Fprintf(os.Stderr, "[session %d] read failed: %v\n", n, err)
				res.err = err
				return res
			}
		}
		res.streamEchoes++
	}

	for i := 0; i < datagrams; i++ {
		if err := session.SendDatagram([]byte(fmt.Sprintf("dg %d-%d", n, i))); err != nil {
			fmt.Fprintf(os.Stderr, "[session %d] datagram send failed: %v\n", n, err)
			break
		}
	}

	// Collect whatever echoes make it back within a short window.
	dgCtx, dgCancel := context.WithTimeout(ctx, 3*time.Second)
	defer dgCancel()
	for res.datagramEchoes < datagrams {
		payload, err := session.ReceiveDatagram(dgCtx)
		if err != nil {
			break
		}
		if bytes.HasPrefix(payload, []byte(echo.DatagramEchoPrefix)) {
			res.datagramEchoes++
		}
	}

	return res
}
