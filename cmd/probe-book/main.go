// Command probe-book fetches REST order book snapshots from the CLOB and
// renders them through the same store and presenter the watcher uses.
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
	"syscall"
	"time"

	"github.com/johan/polymarket-orderbook-watcher/internal/clob"
	"github.com/johan/polymarket-orderbook-watcher/internal/display"
	"github.com/johan/polymarket-orderbook-watcher/internal/gamma"
	"github.com/johan/polymarket-orderbook-watcher/internal/market"
	"github.com/johan/polymarket-orderbook-watcher/internal/orderbook"
	"github.com/johan/polymarket-orderbook-watcher/internal/window"
)

func main() {
	tokens := flag.String("tokens", "", "Comma-separated token IDs")
	current := flag.Bool("current", false, "Use the current window's market")
	family := flag.String("family", "btc-updown", "Market family (with --current)")
	label := flag.String("label", "15m", "Window label (with --current)")
	windowLen := flag.Duration("window", window.DefaultLength, "Window length (with --current)")
	watch := flag.Bool("watch", false, "Continuously poll for updates")
	interval := flag.Duration("interval", 5*time.Second, "Poll interval (with --watch)")
	depth := flag.Int("depth", display.DefaultDepth, "Levels shown per side")
	output := flag.String("output", "table", "Output format: table or json")
	timeout := flag.Duration("timeout", 30*time.Second, "Request timeout")

	flag.Parse()

	if *tokens == "" && !*current {
		fmt.Println("Usage: probe-book --tokens <id1,id2> | --current [options]")
		fmt.Println()
		fmt.Println("Options:")
		flag.PrintDefaults()
		fmt.Println()
		fmt.Println("Examples:")
		fmt.Println("  probe-book --tokens 83955612...")
		fmt.Println("  probe-book --current --watch --interval 2s")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	httpClient := &http.Client{Timeout: *timeout}

	var tokenList, labels []string
	if *current {
		rctx, cancel := context.WithTimeout(ctx, *timeout)
		start := window.NewClock(*windowLen).CurrentStart(time.Now())
		m, err := market.NewResolver(gamma.NewClient(httpClient), *family, *label).ResolveWindow(rctx, start)
		cancel()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("%s\n\n", m.Title)
		tokenList, labels = m.TokenIDs(), m.Labels()
	} else {
		for _, t := range strings.Split(*tokens, ",") {
			if t = strings.TrimSpace(t); t != "" {
				tokenList = append(tokenList, t)
				labels = append(labels, truncateID(t))
			}
		}
	}

	client := clob.NewClient(httpClient)
	renderer := display.NewRenderer("")
	renderer.Depth = *depth
	store := orderbook.NewStore()

	for {
		if err := fetchAndRender(ctx, client, store, renderer, tokenList, labels, *output, *timeout); err != nil {
			if !*watch {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			fmt.Fprintf(os.Stderr, "[%s] Error: %v\n", time.Now().Format("15:04:05"), err)
		}
		if !*watch {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(*interval):
		}
	}
}

func fetchAndRender(ctx context.Context, client *clob.Client, store *orderbook.Store, r *display.Renderer,
	tokenIDs, labels []string, format string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	books, err := client.FetchBooks(ctx, tokenIDs...)
	if err != nil {
		return err
	}

	if format == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(books)
	}

	for i, b := range books {
		if err := store.ReplaceSnapshot(tokenIDs[i], b.Bids, b.Asks); err != nil {
			fmt.Fprintf(os.Stderr, "book %s: skipped levels: %v\n", truncateID(tokenIDs[i]), err)
		}
	}

	fmt.Printf("[%s]\n", time.Now().Format("15:04:05"))
	for i, id := range tokenIDs {
		if err := r.RenderBook(os.Stdout, labels[i], store.Snapshot(id)); err != nil {
			return err
		}
		fmt.Println()
	}
	return nil
}

func truncateID(id string) string {
	if len(id) > 20 {
		return id[:20] + "..."
	}
	return id
}
