// Command probe-gamma is a CLI tool for exploring the Polymarket Gamma API.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/johan/polymarket-orderbook-watcher/internal/gamma"
	"github.com/johan/polymarket-orderbook-watcher/internal/market"
	"github.com/johan/polymarket-orderbook-watcher/internal/window"
)

func main() {
	resolve := flag.Bool("resolve", false, "Resolve the market of a window")
	offset := flag.Int("offset", 0, "Window offset from the current one (with --resolve)")
	family := flag.String("family", "btc-updown", "Market family (with --resolve)")
	label := flag.String("label", "15m", "Window label (with --resolve)")
	windowLen := flag.Duration("window", window.DefaultLength, "Window length (with --resolve)")
	listEvents := flag.Bool("list-events", false, "List active events")
	tag := flag.String("tag", "", "Filter by tag slug")
	slug := flag.String("slug", "", "Resolve a market by exact slug")
	limit := flag.Int("limit", 10, "Maximum number of results")
	output := flag.String("output", "table", "Output format: table or json")
	timeout := flag.Duration("timeout", 30*time.Second, "Request timeout")

	flag.Parse()

	if !*resolve && !*listEvents && *tag == "" && *slug == "" {
		fmt.Println("Usage: probe-gamma [options]")
		fmt.Println()
		fmt.Println("Options:")
		flag.PrintDefaults()
		fmt.Println()
		fmt.Println("Examples:")
		fmt.Println("  probe-gamma --resolve")
		fmt.Println("  probe-gamma --resolve --offset 1 --family eth-updown")
		fmt.Println("  probe-gamma --slug btc-updown-15m-1767186000 --output json")
		fmt.Println("  probe-gamma --tag bitcoin")
		os.Exit(1)
	}

	client := gamma.NewClient(&http.Client{Timeout: *timeout})
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	resolver := market.NewResolver(client, *family, *label)

	switch {
	case *resolve:
		clock := window.NewClock(*windowLen)
		start := clock.CurrentStart(time.Now()) + int64(*offset)*int64(clock.Length/time.Second)
		m, err := resolver.ResolveWindow(ctx, start)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		outputMarket(m, *output, *windowLen)

	case *slug != "":
		m, err := resolver.Resolve(ctx, *slug)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		outputMarket(m, *output, *windowLen)

	default:
		active := true
		events, err := client.FetchEvents(ctx, &gamma.Filter{
			Active:  &active,
			TagSlug: *tag,
			Limit:   *limit,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		outputEvents(events, *output)
	}
}

func outputMarket(m *market.Market, format string, length time.Duration) {
	if format == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(m)
		return
	}

	fmt.Printf("Slug:      %s\n", m.Slug)
	fmt.Printf("Title:     %s\n", m.Title)
	if m.WindowStart != 0 {
		w := window.Window{Start: m.WindowStart, Length: length}
		fmt.Printf("Window:    %s - %s\n", window.FormatTime(w.Start), window.FormatTime(w.End()))
	}
	fmt.Printf("Accepting: %v\n\n", m.AcceptingOrders)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "OUTCOME\tTOKEN")
	for _, o := range m.Outcomes {
		fmt.Fprintf(w, "%s\t%s\n", o.Label, o.TokenID)
	}
	w.Flush()
}

func outputEvents(events []gamma.Event, format string) {
	if format == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(events)
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSLUG\tTITLE\tMARKETS\tACTIVE")
	for _, e := range events {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%v\n",
			e.ID, e.Slug, truncate(e.Title, 40), len(e.Markets), e.Active)
	}
	w.Flush()
	fmt.Printf("\nTotal: %d events\n", len(events))
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
