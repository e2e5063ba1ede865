package dispatch

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/rickgao/streamlabs-tracer/internal/model"
)

// Logger writes one structured log record per event.
type Logger struct {
	logger  *slog.Logger
	printer *message.Printer
}

// NewLogger creates a logging dispatcher.
func NewLogger(logger *slog.Logger) *Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Logger{
		logger:  logger,
		printer: message.NewPrinter(language.English),
	}
}

// HandleEvent logs the event.
func (l *Logger) HandleEvent(ctx context.Context, ev model.Event) error {
	attrs := []slog.Attr{
		slog.String("event_id", ev.ID.String()),
		slog.String("streamer", ev.StreamerNickname),
		slog.String("event_type", ev.EventType),
		slog.String("event_for", ev.EventFor),
	}
	if ev.ActorNickname != "" {
		attrs = append(attrs, slog.String("actor", ev.ActorNickname))
	}
	if ev.IsDonation() {
		attrs = append(attrs, slog.String("amount", l.FormatAmount(ev.DonationAmount, ev.DonationCurrency)))
	}
	if ev.SubscriptionMonths > 0 {
		attrs = append(attrs, slog.Int("months", ev.SubscriptionMonths))
	}
	if ev.RaiderCount > 0 {
		attrs = append(attrs, slog.Int("raiders", ev.RaiderCount))
	}
	if ev.ViewerCount > 0 {
		attrs = append(attrs, slog.Int("viewers", ev.ViewerCount))
	}
	if ev.Message != "" {
		attrs = append(attrs, slog.String("message", ev.Message))
	}

	l.logger.LogAttrs(ctx, slog.LevelInfo, "stream event", attrs...)
	return nil
}

// FormatAmount renders a donation amount with its ISO currency code, falling
// back to the bare number when the code is missing or unknown.
func (l *Logger) FormatAmount(amount float64, code string) string {
	if code == "" {
		return strconv.FormatFloat(amount, 'f', -1, 64)
	}

	unit, err := currency.ParseISO(strings.ToUpper(code))
	if err != nil {
		return strconv.FormatFloat(amount, 'f', -1, 64) + " " + code
	}

	return l.printer.Sprint(currency.ISO(unit.Amount(amount)))
}
