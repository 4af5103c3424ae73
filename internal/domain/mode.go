package domain

import "time"

// MarketMode is the trading regime derived from wall-clock time.
type MarketMode string

const (
	// ModeOffPeak admits direct order-book trading.
	ModeOffPeak MarketMode = "off_peak"
	// ModePeak admits auction creation and bidding only.
	ModePeak MarketMode = "peak"
)

// ModeReading is one evaluation of the scheduler.
type ModeReading struct {
	Mode        MarketMode `json:"mode"`
	Hour        int        `json:"hour"`
	EvaluatedAt time.Time  `json:"evaluatedAt"`
}
