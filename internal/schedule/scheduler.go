// Package schedule derives the market trading mode from wall-clock time.
package schedule

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/geomarket/internal/domain"
)

// PeakDefinition selects which hour rule classifies peak hours.
type PeakDefinition string

const (
	// DefinitionWindow is off-peak when hour < start or hour >= end.
	DefinitionWindow PeakDefinition = "window"
	// DefinitionLegacy is peak when !(hour >= start || hour == 0).
	DefinitionLegacy PeakDefinition = "legacy"
)

// ParsePeakDefinition validates a configured definition name. The empty
// string selects DefinitionWindow.
func ParsePeakDefinition(s string) (PeakDefinition, error) {
	switch PeakDefinition(strings.ToLower(strings.TrimSpace(s))) {
	case "", DefinitionWindow:
		return DefinitionWindow, nil
	case DefinitionLegacy:
		return DefinitionLegacy, nil
	default:
		return "", fmt.Errorf("schedule: unknown peak definition %q", s)
	}
}

// Config controls mode evaluation.
type Config struct {
	Definition PeakDefinition
	PeakStart  int
	PeakEnd    int
	Location   *time.Location
	Tick       time.Duration
}

// DefaultConfig returns the 10:00-13:00 window evaluated every minute in
// local time.
func DefaultConfig() Config {
	return Config{
		Definition: DefinitionWindow,
		PeakStart:  10,
		PeakEnd:    13,
		Location:   time.Local,
		Tick:       60 * time.Second,
	}
}

// Scheduler reports the active market mode. Mode is recomputed from the
// clock on every call; nothing is cached between requests.
type Scheduler struct {
	cfg    Config
	clock  Clock
	bus    domain.SignalBus
	logger *slog.Logger
}

// New creates a Scheduler. bus may be nil, in which case Run only logs
// transitions.
func New(cfg Config, clock Clock, bus domain.SignalBus, logger *slog.Logger) *Scheduler {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Tick <= 0 {
		cfg.Tick = 60 * time.Second
	}
	if cfg.Definition == "" {
		cfg.Definition = DefinitionWindow
	}
	if clock == nil {
		clock = RealClock{}
	}
	return &Scheduler{
		cfg:    cfg,
		clock:  clock,
		bus:    bus,
		logger: logger.With(slog.String("component", "mode_scheduler")),
	}
}

// ModeAt classifies t under the configured definition.
func (s *Scheduler) ModeAt(t time.Time) domain.MarketMode {
	return ModeForHour(s.cfg.Definition, s.cfg.PeakStart, s.cfg.PeakEnd, t.In(s.cfg.Location).Hour())
}

// ModeForHour applies def to a local hour in [0, 23].
func ModeForHour(def PeakDefinition, start, end, hour int) domain.MarketMode {
	var peak bool
	switch def {
	case DefinitionLegacy:
		peak = !(hour >= start || hour == 0)
	default:
		peak = !(hour < start || hour >= end)
	}
	if peak {
		return domain.ModePeak
	}
	return domain.ModeOffPeak
}

// Current evaluates the mode now.
func (s *Scheduler) Current() domain.ModeReading {
	now := s.clock.Now()
	return domain.ModeReading{
		Mode:        s.ModeAt(now),
		Hour:        now.In(s.cfg.Location).Hour(),
		EvaluatedAt: now.UTC(),
	}
}

// Location is the timezone hours are evaluated in.
func (s *Scheduler) Location() *time.Location { return s.cfg.Location }

// Now reads the scheduler's clock.
func (s *Scheduler) Now() time.Time { return s.clock.Now() }

// Run re-evaluates the mode every tick and announces transitions as
// mode_changed events. It blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	last := s.Current()
	s.logger.InfoContext(ctx, "schedule: starting",
		slog.String("mode", string(last.Mode)),
		slog.String("definition", string(s.cfg.Definition)),
		slog.Duration("tick", s.cfg.Tick),
	)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.clock.After(s.cfg.Tick):
			reading := s.Current()
			if reading.Mode == last.Mode {
				continue
			}
			s.logger.InfoContext(ctx, "schedule: mode changed",
				slog.String("from", string(last.Mode)),
				slog.String("to", string(reading.Mode)),
				slog.Int("hour", reading.Hour),
			)
			last = reading
			s.announce(ctx, reading)
		}
	}
}

func (s *Scheduler) announce(ctx context.Context, reading domain.ModeReading) {
	if s.bus == nil {
		return
	}
	payload, err := json.Marshal(domain.MarketEvent{
		Type: domain.EventModeChanged,
		Mode: reading.Mode,
		At:   reading.EvaluatedAt,
	})
	if err != nil {
		s.logger.WarnContext(ctx, "schedule: marshal mode change failed",
			slog.String("mode", string(reading.Mode)),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := s.bus.Publish(ctx, domain.ChannelMarket, payload); err != nil {
		s.logger.WarnContext(ctx, "schedule: publish mode change failed", slog.String("error", err.Error()))
	}
}
