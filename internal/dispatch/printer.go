package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/rickgao/streamlabs-tracer/internal/model"
)

// Printer writes events to a console, one line each, or as indented JSON in
// verbose mode.
type Printer struct {
	mu      sync.Mutex
	w       io.Writer
	verbose bool
}

// NewPrinter creates a console dispatcher.
func NewPrinter(w io.Writer, verbose bool) *Printer {
	return &Printer{w: w, verbose: verbose}
}

// HandleEvent prints the event.
func (p *Printer) HandleEvent(ctx context.Context, ev model.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.verbose {
		data, err := json.MarshalIndent(ev, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal event: %w", err)
		}
		_, err = fmt.Fprintf(p.w, "[EVENT] %s\n", data)
		return err
	}

	_, err := fmt.Fprintf(p.w, "[EVENT] streamer=%s type=%s for=%s actor=%s amount=%g currency=%s months=%d raiders=%d viewers=%d message=%q\n",
		ev.StreamerNickname, ev.EventType, ev.EventFor, ev.ActorNickname,
		ev.DonationAmount, ev.DonationCurrency,
		ev.SubscriptionMonths, ev.RaiderCount, ev.ViewerCount, ev.Message)
	return err
}
