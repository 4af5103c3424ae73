package service

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/alanyoungcy/geomarket/internal/domain"
)

// weiPerCoin is the native value of one whole coin.
var weiPerCoin = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// DayStartHour is the local hour the administrative day starts.
const DayStartHour = 10

// TokenService covers token purchases, balances and the owner-only day
// start.
type TokenService struct {
	ledger domain.Ledger
	owner  string
	loc    *time.Location
	audit  domain.AuditStore
	now    func() time.Time
	logger *slog.Logger
}

// NewTokenService creates a TokenService. owner is the Ledger owner wallet;
// loc is the timezone of the day start.
func NewTokenService(ledger domain.Ledger, owner string, loc *time.Location, audit domain.AuditStore, now func() time.Time, logger *slog.Logger) *TokenService {
	if loc == nil {
		loc = time.Local
	}
	if now == nil {
		now = time.Now
	}
	return &TokenService{
		ledger: ledger,
		owner:  owner,
		loc:    loc,
		audit:  audit,
		now:    now,
		logger: logger.With(slog.String("component", "token_service")),
	}
}

// DayStartFor returns 10:00 on t's date in loc.
func DayStartFor(t time.Time, loc *time.Location) time.Time {
	lt := t.In(loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), DayStartHour, 0, 0, 0, loc)
}

// SetDayStart sets the Ledger day start to today's 10:00. Only the owner
// may call it.
func (s *TokenService) SetDayStart(ctx context.Context, caller string) (time.Time, error) {
	if s.owner == "" || caller != s.owner {
		return time.Time{}, fmt.Errorf("tokens: set day start: %w", domain.ErrNotLedgerOwner)
	}
	at := DayStartFor(s.now(), s.loc)
	if err := s.ledger.SetDayStart(ctx, caller, at); err != nil {
		s.logger.ErrorContext(ctx, "tokens: set day start failed",
			slog.Time("day_start", at),
			slog.String("error", err.Error()),
		)
		return time.Time{}, fmt.Errorf("tokens: set day start: %w", err)
	}
	if err := s.audit.Log(ctx, "day_start_set", map[string]any{"caller": caller, "day_start": at.Format(time.RFC3339)}); err != nil {
		s.logger.WarnContext(ctx, "tokens: audit log failed", slog.String("error", err.Error()))
	}
	s.logger.InfoContext(ctx, "tokens: day start set", slog.Time("day_start", at))
	return at, nil
}

// DayStart reads the Ledger day start.
func (s *TokenService) DayStart(ctx context.Context) (time.Time, error) {
	at, err := s.ledger.DayStart(ctx)
	if err != nil {
		return time.Time{}, fmt.Errorf("tokens: day start: %w", err)
	}
	return at, nil
}

// Buy purchases energy tokens with value wei and returns the amount bought,
// value * tokenPrice / 10^18.
func (s *TokenService) Buy(ctx context.Context, caller string, value *big.Int) (*big.Int, error) {
	if value == nil || value.Sign() <= 0 {
		return nil, fmt.Errorf("tokens: buy: %w", domain.ErrInvalidAmount)
	}
	price, err := s.ledger.TokenPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("tokens: buy: token price: %w", err)
	}
	amount := new(big.Int).Mul(value, price)
	amount.Quo(amount, weiPerCoin)
	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("tokens: buy: value %s buys no tokens: %w", value, domain.ErrInvalidAmount)
	}
	if err := s.ledger.BuyTokens(ctx, caller, value); err != nil {
		s.logger.ErrorContext(ctx, "tokens: buy failed",
			slog.String("caller", caller),
			slog.String("value", value.String()),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("tokens: buy: %w", err)
	}
	if err := s.audit.Log(ctx, "tokens_bought", details("caller", caller, "value", value, "amount", amount)); err != nil {
		s.logger.WarnContext(ctx, "tokens: audit log failed", slog.String("error", err.Error()))
	}
	return amount, nil
}

// Balance returns the token balance of wallet.
func (s *TokenService) Balance(ctx context.Context, kind domain.TokenKind, wallet string) (*big.Int, error) {
	w, err := NormalizeWallet(wallet)
	if err != nil {
		return nil, fmt.Errorf("tokens: balance: %w", err)
	}
	bal, err := s.ledger.Balance(ctx, kind, w)
	if err != nil {
		return nil, fmt.Errorf("tokens: balance: %w", err)
	}
	return bal, nil
}
