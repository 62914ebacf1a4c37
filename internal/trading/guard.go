package trading

import (
	"fmt"

	"ghosttrader/internal/domain"
	"ghosttrader/internal/ports"
)

// GuardConfig holds the entry-time risk limits.
type GuardConfig struct {
	MaxOpenTrades  int     // per-user cap on concurrently open trades
	MaxEntryAmount float64 // cap on quote asset spent per entry, 0 = no cap
	MaxSlippageBps int     // cap on the slippage budget per swap
}

// Guard validates trade entries against the configured risk limits before
// any key recovery or swap execution happens. All rejections are validation
// errors: they are reported verbatim and never retried.
type Guard struct {
	cfg GuardConfig
}

// NewGuard creates a guard instance.
func NewGuard(cfg GuardConfig) *Guard {
	return &Guard{cfg: cfg}
}

// ValidateEntry checks the entry amount, slippage budget, exit parameters and
// the user's open-trade count.
func (g *Guard) ValidateEntry(amount float64, slippageBps int, exit domain.ExitParams, openCount int) error {
	if amount <= 0 {
		return fmt.Errorf("%w: entry amount must be positive", ports.ErrValidation)
	}
	if g.cfg.MaxEntryAmount > 0 && amount > g.cfg.MaxEntryAmount {
		return fmt.Errorf("%w: entry amount %.4f exceeds maximum %.4f", ports.ErrValidation, amount, g.cfg.MaxEntryAmount)
	}
	if slippageBps <= 0 {
		return fmt.Errorf("%w: slippage budget must be positive", ports.ErrValidation)
	}
	if g.cfg.MaxSlippageBps > 0 && slippageBps > g.cfg.MaxSlippageBps {
		return fmt.Errorf("%w: slippage budget %d bps exceeds maximum %d bps", ports.ErrValidation, slippageBps, g.cfg.MaxSlippageBps)
	}

	if exit.StopLossPct < 0 || exit.StopLossPct >= 100 {
		return fmt.Errorf("%w: stop-loss percentage must be within [0, 100)", ports.ErrValidation)
	}
	if exit.TrailingStopPct < 0 || exit.TrailingStopPct >= 100 {
		return fmt.Errorf("%w: trailing-stop percentage must be within [0, 100)", ports.ErrValidation)
	}
	if exit.TakeProfitPct < 0 {
		return fmt.Errorf("%w: take-profit percentage cannot be negative", ports.ErrValidation)
	}
	if exit.StopLossPct == 0 && exit.TakeProfitPct == 0 && exit.TrailingStopPct == 0 {
		return fmt.Errorf("%w: at least one exit condition must be set", ports.ErrValidation)
	}

	if g.cfg.MaxOpenTrades > 0 && openCount >= g.cfg.MaxOpenTrades {
		return fmt.Errorf("%w: open trade limit reached (%d/%d)", ports.ErrValidation, openCount, g.cfg.MaxOpenTrades)
	}
	return nil
}
