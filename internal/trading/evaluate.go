package trading

import "ghosttrader/internal/domain"

// Decision is the outcome of evaluating a trade against the current price,
// including the numbers that justified it.
type Decision struct {
	ShouldExit    bool
	Reason        domain.ExitReason
	PnLPercent    float64 // percentage gain/loss relative to entry
	HighWaterMark float64 // updated high-water-mark after this observation
	TriggerPrice  float64 // price level of the condition that fired, 0 if none
}

// Evaluate computes the exit decision for an open trade at the current price.
//
// The high-water-mark is raised first, then the exit conditions are checked
// in fixed priority order — stop-loss, take-profit, trailing-stop — with the
// first match winning, so capital preservation always takes precedence over
// profit taking when conditions coincide. The trailing stop is only armed
// once the high-water-mark has moved above the entry price; before that a
// retracement check would just duplicate the stop-loss.
func Evaluate(t *domain.Trade, currentPrice float64) Decision {
	hwm := t.HighWaterMark
	if currentPrice > hwm {
		hwm = currentPrice
	}

	d := Decision{HighWaterMark: hwm}
	if t.EntryPrice <= 0 {
		return d
	}
	gainFrac := (currentPrice - t.EntryPrice) / t.EntryPrice
	d.PnLPercent = gainFrac * 100

	switch {
	case t.StopLossPct > 0 && -gainFrac >= t.StopLossPct/100:
		d.ShouldExit = true
		d.Reason = domain.ExitReasonStopLoss
		d.TriggerPrice = t.EntryPrice * (1 - t.StopLossPct/100)
	case t.TakeProfitPct > 0 && gainFrac >= t.TakeProfitPct/100:
		d.ShouldExit = true
		d.Reason = domain.ExitReasonTakeProfit
		d.TriggerPrice = t.EntryPrice * (1 + t.TakeProfitPct/100)
	case t.TrailingStopPct > 0 && hwm > t.EntryPrice && (hwm-currentPrice)/hwm >= t.TrailingStopPct/100:
		d.ShouldExit = true
		d.Reason = domain.ExitReasonTrailingStop
		d.TriggerPrice = hwm * (1 - t.TrailingStopPct/100)
	}
	return d
}
