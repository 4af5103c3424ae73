// Package notify forwards market events to operator chat channels. Alerts
// are dispatched to every registered sender (Telegram, Discord) and filtered
// by event type so operators receive only the alerts they care about.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/geomarket/internal/domain"
)

// Sender is the interface that each notification channel must implement.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// Notifier dispatches alerts to one or more Senders. Notify only forwards
// events whose type is in the allowed set.
type Notifier struct {
	senders []Sender
	events  map[string]bool // allowed event types
	logger  *slog.Logger
}

// NewNotifier creates a Notifier that will deliver to the given senders. If
// events is empty, all event types are allowed.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether at least one sender is configured.
func (n *Notifier) Enabled() bool { return len(n.senders) > 0 }

// Notify sends a notification to all senders if the event type is allowed.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "notify: event filtered out",
			slog.String("event", event),
		)
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// Run relays market events from the bus until ctx is cancelled. Delivery
// failures are logged and never stop the loop.
func (n *Notifier) Run(ctx context.Context, bus domain.SignalBus) error {
	msgCh, err := bus.Subscribe(ctx, domain.ChannelMarket)
	if err != nil {
		return fmt.Errorf("notify: subscribe %s: %w", domain.ChannelMarket, err)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data, ok := <-msgCh:
			if !ok {
				return nil
			}
			var evt domain.MarketEvent
			if err := json.Unmarshal(data, &evt); err != nil {
				n.logger.WarnContext(ctx, "notify: undecodable event", slog.String("error", err.Error()))
				continue
			}
			title, message := FormatEvent(evt)
			_ = n.Notify(ctx, string(evt.Type), title, message)
		}
	}
}

// FormatEvent renders a market event as an alert title and body.
func FormatEvent(evt domain.MarketEvent) (title, message string) {
	var b strings.Builder
	switch evt.Type {
	case domain.EventTradeExecuted:
		title = "Trade executed"
		fmt.Fprintf(&b, "order #%d: %s %s bought by %s", evt.ID, amountText(evt), evt.Token, evt.Caller)
		if evt.Value != nil {
			fmt.Fprintf(&b, " for %s wei", evt.Value)
		}
	case domain.EventAuctionFinalized:
		title = "Auction finalized"
		fmt.Fprintf(&b, "%s auction #%d settled", evt.Token, evt.ID)
		if evt.Value != nil {
			fmt.Fprintf(&b, " at %s wei", evt.Value)
		}
	case domain.EventModeChanged:
		title = "Market mode changed"
		fmt.Fprintf(&b, "market is now %s", evt.Mode)
	default:
		title = strings.ReplaceAll(string(evt.Type), "_", " ")
		fmt.Fprintf(&b, "%s #%d", evt.Token, evt.ID)
		if evt.Amount != nil {
			fmt.Fprintf(&b, " amount %s", evt.Amount)
		}
	}
	if !evt.At.IsZero() {
		fmt.Fprintf(&b, " (%s)", evt.At.UTC().Format("2006-01-02 15:04:05Z"))
	}
	return title, b.String()
}

func amountText(evt domain.MarketEvent) string {
	if evt.Amount == nil {
		return "?"
	}
	return evt.Amount.String()
}

// dispatch sends to every sender. A single sender failure does not prevent
// delivery to the rest; failures are joined into one error.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	if len(n.senders) == 0 {
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "notify: sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notify: notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}
