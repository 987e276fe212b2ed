// Command probe-ws is a CLI tool for exploring the Polymarket CLOB WebSocket feed.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/johan/polymarket-orderbook-watcher/internal/gamma"
	"github.com/johan/polymarket-orderbook-watcher/internal/market"
	"github.com/johan/polymarket-orderbook-watcher/internal/window"
	"github.com/johan/polymarket-orderbook-watcher/internal/ws"
)

func main() {
	tokens := flag.String("tokens", "", "Comma-separated list of token IDs to subscribe")
	current := flag.Bool("current", false, "Subscribe to the current window's market")
	family := flag.String("family", "btc-updown", "Market family (with --current)")
	label := flag.String("label", "15m", "Window label (with --current)")
	windowLen := flag.Duration("window", window.DefaultLength, "Window length (with --current)")
	url := flag.String("url", ws.DefaultWSURL, "WebSocket URL")
	duration := flag.Duration("duration", 0, "How long to run (0 = until Ctrl+C)")
	outputFile := flag.String("output", "", "Output file path (empty = stdout)")
	verbose := flag.Bool("v", false, "Verbose output")

	flag.Parse()

	if *tokens == "" && !*current {
		fmt.Println("Usage: probe-ws --tokens <id1,id2,...> | --current [options]")
		fmt.Println()
		fmt.Println("Options:")
		flag.PrintDefaults()
		fmt.Println()
		fmt.Println("Examples:")
		fmt.Println("  probe-ws --tokens 83955612...,46434110...")
		fmt.Println("  probe-ws --current --duration 30s -v")
		fmt.Println("  probe-ws --current --family eth-updown --output data.jsonl")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *duration > 0 {
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	// Handle Ctrl+C
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Fprintln(os.Stderr, "\nShutting down...")
		cancel()
	}()

	var tokenList []string
	if *current {
		m, err := resolveCurrent(ctx, *family, *label, *windowLen)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error resolving current market: %v\n", err)
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "Market: %s (%s)\n", m.Title, m.Slug)
		for _, o := range m.Outcomes {
			fmt.Fprintf(os.Stderr, "  %-6s %s\n", o.Label, truncateID(o.TokenID))
		}
		tokenList = m.TokenIDs()
	} else {
		for _, t := range strings.Split(*tokens, ",") {
			if t = strings.TrimSpace(t); t != "" {
				tokenList = append(tokenList, t)
			}
		}
	}

	var out *os.File
	if *outputFile != "" {
		f, err := os.Create(*outputFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating output file: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		out = f
	}

	var messageCount, bookCount, priceChangeCount atomic.Int64

	handler := func(messages []ws.WSMessage) {
		for _, msg := range messages {
			messageCount.Add(1)

			switch msg.EventType {
			case ws.EventTypeBook:
				bookCount.Add(1)
				if *verbose {
					fmt.Fprintf(os.Stderr, "[%s] book: asset=%s bids=%d asks=%d\n",
						time.Now().Format("15:04:05"),
						truncateID(msg.AssetID),
						len(msg.Bids),
						len(msg.Asks))
				}
			case ws.EventTypePriceChange:
				priceChangeCount.Add(1)
				if *verbose {
					fmt.Fprintf(os.Stderr, "[%s] price_change: market=%s changes=%d\n",
						time.Now().Format("15:04:05"),
						truncateID(msg.Market),
						len(msg.PriceChanges))
				}
			}

			// Output JSON
			data, _ := json.Marshal(msg)
			if out != nil {
				fmt.Fprintln(out, string(data))
			} else if !*verbose {
				fmt.Println(string(data))
			}
		}
	}

	var client *ws.Client
	client = ws.NewWSClient(handler).
		WithURL(*url).
		WithStatusHandler(func(status ws.Status, err error) {
			switch status {
			case ws.StatusConnected:
				fmt.Fprintf(os.Stderr, "Connected - subscribing to %d tokens...\n", len(tokenList))
				if err := client.Subscribe(tokenList); err != nil {
					fmt.Fprintf(os.Stderr, "Error subscribing: %v\n", err)
				}
			case ws.StatusDisconnected:
				fmt.Fprintf(os.Stderr, "Disconnected: %v\n", err)
			case ws.StatusError:
				fmt.Fprintf(os.Stderr, "Stream error: %v\n", err)
			}
		})

	fmt.Fprintf(os.Stderr, "Connecting to WebSocket...\n")
	if err := client.Connect(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error connecting: %v\n", err)
		os.Exit(1)
	}

	fmt.Fprintf(os.Stderr, "Listening... (Ctrl+C to stop)\n\n")

	<-ctx.Done()
	client.Close()

	fmt.Fprintf(os.Stderr, "\n--- Summary ---\n")
	fmt.Fprintf(os.Stderr, "Total messages:  %d\n", messageCount.Load())
	fmt.Fprintf(os.Stderr, "Book snapshots:  %d\n", bookCount.Load())
	fmt.Fprintf(os.Stderr, "Price changes:   %d\n", priceChangeCount.Load())

	if *outputFile != "" {
		fmt.Fprintf(os.Stderr, "Output written to: %s\n", *outputFile)
	}
}

func resolveCurrent(ctx context.Context, family, label string, length time.Duration) (*market.Market, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	client := gamma.NewClient(&http.Client{Timeout: 30 * time.Second})
	start := window.NewClock(length).CurrentStart(time.Now())
	return market.NewResolver(client, family, label).ResolveWindow(ctx, start)
}

func truncateID(id string) string {
	if len(id) > 20 {
		return id[:20] + "..."
	}
	return id
}
