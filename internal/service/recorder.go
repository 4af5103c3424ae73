package service

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/alanyoungcy/geomarket/internal/domain"
)

// recorder publishes market events and writes audit entries after a
// confirmed Ledger mutation. Failures are logged, never returned: the
// mutation has already happened.
type recorder struct {
	bus    domain.SignalBus
	audit  domain.AuditStore
	logger *slog.Logger
}

func (r *recorder) record(ctx context.Context, evt domain.MarketEvent, detail map[string]any) {
	payload, err := json.Marshal(evt)
	if err != nil {
		r.logger.ErrorContext(ctx, "service: marshal market event failed",
			slog.String("event", string(evt.Type)),
			slog.String("error", err.Error()),
		)
		return
	}
	if r.bus != nil {
		if pubErr := r.bus.Publish(ctx, domain.ChannelMarket, payload); pubErr != nil {
			r.logger.WarnContext(ctx, "service: publish event failed",
				slog.String("event", string(evt.Type)),
				slog.Uint64("id", evt.ID),
				slog.String("error", pubErr.Error()),
			)
		}
		if streamErr := r.bus.StreamAppend(ctx, domain.StreamMarket, payload); streamErr != nil {
			r.logger.WarnContext(ctx, "service: stream append failed",
				slog.String("event", string(evt.Type)),
				slog.Uint64("id", evt.ID),
				slog.String("error", streamErr.Error()),
			)
		}
	}
	if r.audit != nil {
		if detail == nil {
			detail = map[string]any{}
		}
		detail["id"] = evt.ID
		if evt.Caller != "" {
			detail["caller"] = evt.Caller
		}
		if evt.Token != "" {
			detail["token"] = string(evt.Token)
		}
		if auditErr := r.audit.Log(ctx, string(evt.Type), detail); auditErr != nil {
			r.logger.WarnContext(ctx, "service: audit log failed",
				slog.String("event", string(evt.Type)),
				slog.Uint64("id", evt.ID),
				slog.String("error", auditErr.Error()),
			)
		}
	}
}

// details builds an audit detail map from key/value pairs. Values with a
// String method, such as *big.Int, are stored as strings.
func details(pairs ...any) map[string]any {
	out := make(map[string]any, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		k, _ := pairs[i].(string)
		switch v := pairs[i+1].(type) {
		case interface{ String() string }:
			out[k] = v.String()
		default:
			out[k] = v
		}
	}
	return out
}
