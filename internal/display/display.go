// Package display renders session views as plain text for a terminal.
package display

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"

	"github.com/johan/polymarket-orderbook-watcher/internal/orderbook"
	"github.com/johan/polymarket-orderbook-watcher/internal/session"
	"github.com/johan/polymarket-orderbook-watcher/internal/window"
)

// ClearScreen moves the cursor home and clears the terminal.
const ClearScreen = "\033[H\033[2J"

// DefaultDepth is the number of levels shown per side.
const DefaultDepth = 10

// Renderer writes views to a terminal.
type Renderer struct {
	Heading string
	Depth   int
	// Clear redraws in place instead of scrolling.
	Clear bool
}

// NewRenderer returns a renderer with the default depth.
func NewRenderer(heading string) *Renderer {
	return &Renderer{Heading: heading, Depth: DefaultDepth}
}

func (r *Renderer) depth() int {
	if r.Depth <= 0 {
		return DefaultDepth
	}
	return r.Depth
}

// Render writes one frame for v.
func (r *Renderer) Render(w io.Writer, v session.View) error {
	var b strings.Builder
	if r.Clear {
		b.WriteString(ClearScreen)
	}
	if r.Heading != "" {
		fmt.Fprintf(&b, "%s\n\n", r.Heading)
	}

	fmt.Fprintf(&b, "Window: %s - %s | Next: %s | %s\n",
		window.FormatTime(v.Window.Start), window.FormatTime(v.Window.End()), v.Countdown, v.Status)

	if title := v.Title(); title != "" {
		fmt.Fprintf(&b, "%s\n", title)
	}
	if v.Notice != "" {
		fmt.Fprintf(&b, "! %s\n", v.Notice)
	}
	if v.Err != nil && v.State != session.StateErrored {
		fmt.Fprintf(&b, "last error: %v\n", v.Err)
	}
	b.WriteString("\n")

	if v.Market != nil {
		for i, o := range v.Market.Outcomes {
			if err := r.writeBook(&b, o.Label, v.Book(i)); err != nil {
				return err
			}
			b.WriteString("\n")
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// RenderBook writes a single labelled book.
func (r *Renderer) RenderBook(w io.Writer, label string, book orderbook.Book) error {
	var b strings.Builder
	if err := r.writeBook(&b, label, book); err != nil {
		return err
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func (r *Renderer) writeBook(w io.Writer, label string, book orderbook.Book) error {
	fmt.Fprintf(w, "%s\n", label)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "BIDS\t\t\tASKS\t")
	fmt.Fprintln(tw, "Price\tSize\t\tPrice\tSize")

	depth := r.depth()
	rows := min(max(len(book.Bids), len(book.Asks)), depth)
	if rows == 0 {
		fmt.Fprintln(tw, "No orders\t\t\tNo orders\t")
	}
	for i := 0; i < rows; i++ {
		bid, ask := "\t", "\t"
		if i < len(book.Bids) {
			bid = formatLevel(book.Bids[i])
		}
		if i < len(book.Asks) {
			ask = formatLevel(book.Asks[i])
		}
		fmt.Fprintf(tw, "%s\t\t%s\n", bid, ask)
	}
	return tw.Flush()
}

// formatLevel renders a level as "price\tsize" with whole-share sizes.
func formatLevel(l orderbook.Level) string {
	return l.Price.StringFixed(2) + "\t" + FormatSize(l)
}

// FormatSize renders a level's size rounded to whole shares with thousands
// separators.
func FormatSize(l orderbook.Level) string {
	return humanize.Comma(l.Size.Round(0).IntPart())
}
