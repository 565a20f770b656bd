// Command wtecho-client is a terminal client for the WebTransport echo
// server. It pins the server certificate by SHA-256 fingerprint, either
// passed directly or fetched from the status server, then reads lines
// from stdin and sends them as stream messages or datagrams.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/zsiec/wtecho/internal/certs"
	"github.com/zsiec/wtecho/internal/client"
)

func main() {
	urlFlag := flag.String("url", "https://127.0.0.1:8765/", "WebTransport echo server URL")
	hashFlag := flag.String("hash", "", "Server certificate SHA-256 fingerprint (hex)")
	statusFlag := flag.String("status", "", "Status server base URL to fetch the fingerprint from")
	flag.Parse()

	// The message log is the user surface; keep slog quiet unless DEBUG.
	level := slog.LevelWarn
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	hashHex := *hashFlag
	if hashHex == "" && *statusFlag != "" {
		fetched, err := fetchHash(*statusFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to fetch fingerprint from %s: %v\n", *statusFlag, err)
			os.Exit(1)
		}
		hashHex = fetched
	}
	if hashHex == "" {
		fmt.Fprintf(os.Stderr, "Usage:\n")
		fmt.Fprintf(os.Stderr, "  wtecho-client --hash <sha256-hex>                Pin a known fingerprint\n")
		fmt.Fprintf(os.Stderr, "  wtecho-client --status http://127.0.0.1:7654     Fetch the fingerprint from the status server\n")
		os.Exit(1)
	}

	hash, err := certs.ParseFingerprintHex(hashHex)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid fingerprint: %v\n", err)
		os.Exit(1)
	}

	ctrl := client.NewController(client.Config{
		Dial: client.Dial,
		UI:   consoleUI{},
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		ctrl.Disconnect()
		os.Exit(0)
	}()

	dialCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := ctrl.Connect(dialCtx, *urlFlag, hash); err != nil {
		os.Exit(1)
	}

	fmt.Println("Type a message and press Enter to send it on the stream.")
	fmt.Println("Prefix with '/d ' to send it as a datagram; '/quit' disconnects.")

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "/quit":
			ctrl.Disconnect()
			return
		case strings.HasPrefix(line, "/d "):
			ctrl.SendDatagram(strings.TrimPrefix(line, "/d "))
		default:
			ctrl.SendStream(line)
		}
	}
	ctrl.Disconnect()
}

// consoleUI renders controller events as plain terminal lines.
type consoleUI struct{}

var _ client.UI = consoleUI{}

func (consoleUI) AddMessage(text string, kind client.MessageKind) {
	fmt.Printf("[%s] %s\n", kind, text)
}

func (consoleUI) SetConnected(connected bool) {
	if connected {
		fmt.Println("Status: Connected")
	} else {
		fmt.Println("Status: Disconnected")
	}
}

func fetchHash(base string) (string, error) {
	httpClient := &http.Client{Timeout: 5 * time.Second}
	resp, err := httpClient.Get(strings.TrimRight(base, "/") + "/api/cert-hash")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("status server returned %s", resp.Status)
	}

	var payload struct {
		Hash string `json:"hash"`
		Addr string `json:"addr"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if payload.Hash == "" {
		return "", fmt.Errorf("status server returned no fingerprint")
	}
	return payload.Hash, nil
}
