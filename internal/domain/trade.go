package domain

import "time"

// ExitParams are the percentage-based automatic exit triggers for a trade.
// A zero value disables the corresponding trigger.
type ExitParams struct {
	TakeProfitPct   float64 // gain relative to entry, e.g. 50 for +50%
	StopLossPct     float64 // loss relative to entry, e.g. 10 for -10%
	TrailingStopPct float64 // retracement from the high-water-mark
}

// Trade represents a position opened through a ghost wallet.
//
// A trade is created only once its entry swap is confirmed and reaches a
// terminal state only once an exit swap is confirmed. A failed exit attempt
// leaves the trade open; the monitor retries it on the next cycle.
type Trade struct {
	ID            int64
	UserID        string
	WalletID      string
	TokenMint     string  // on-chain token address
	TokenSymbol   string  // price-feed symbol for the token
	EntryAmount   float64 // quote asset spent on entry
	TokenQuantity float64 // tokens received on entry
	EntryPrice    float64

	TakeProfitPct   float64
	StopLossPct     float64
	TrailingStopPct float64
	HighWaterMark   float64 // highest price observed since entry

	// SessionCredential is the opaque server-decryptable token that lets the
	// monitor recover the owner's signing key without the owner being online.
	SessionCredential string

	Status      TradeStatus
	ExitReason  ExitReason
	ExitPrice   float64
	RealizedPnL float64 // in quote asset, set on close
	EntryTxSig  string
	ExitTxSig   string
	EntryTime   time.Time
	ExitTime    time.Time
}

// IsOpen checks if the trade status is open.
func (t *Trade) IsOpen() bool {
	return t.Status == TradeStatusOpen
}

// ExitParams returns the trade's configured exit triggers.
func (t *Trade) ExitParams() ExitParams {
	return ExitParams{
		TakeProfitPct:   t.TakeProfitPct,
		StopLossPct:     t.StopLossPct,
		TrailingStopPct: t.TrailingStopPct,
	}
}
