// Package monitor runs the unattended polling loop that watches open trades
// and triggers automatic exits.
package monitor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"ghosttrader/internal/domain"
	"ghosttrader/internal/ports"
	"ghosttrader/internal/trading"
)

const (
	defaultInterval    = 30 * time.Second
	defaultCallTimeout = 10 * time.Second
)

// Clock abstracts wall-clock time so tests can drive cycles deterministically.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) Ticker
}

// Ticker is the minimal ticker surface the scheduler needs.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) NewTicker(d time.Duration) Ticker { return &realTicker{t: time.NewTicker(d)} }

type realTicker struct{ t *time.Ticker }

func (rt *realTicker) C() <-chan time.Time { return rt.t.C }
func (rt *realTicker) Stop()               { rt.t.Stop() }

// TradeEvaluator is the slice of the trading service the monitor drives.
type TradeEvaluator interface {
	Evaluate(ctx context.Context, t *domain.Trade, currentPrice float64) trading.Decision
	Close(ctx context.Context, t *domain.Trade, reason domain.ExitReason, currentPrice float64) error
}

// Config holds the dependencies and settings for the scheduler.
type Config struct {
	Logger    ports.Logger
	Trades    ports.TradeRepository
	Prices    ports.PriceFeed
	Evaluator TradeEvaluator
	// Interval is the polling period between cycles.
	Interval time.Duration
	// CallTimeout bounds each external call made during a cycle, so one
	// stalled collaborator cannot hold up the rest of the cycle.
	CallTimeout time.Duration
	// Clock defaults to the wall clock; tests inject a fake.
	Clock Clock
}

// Scheduler polls open trades at a fixed interval and asks the trade
// evaluator whether each should be closed. Cycles never overlap: if a cycle
// is still running when the next tick arrives, the tick is skipped. The
// polling interval is also the retry mechanism, a trade whose close failed is
// simply picked up again on the next cycle.
type Scheduler struct {
	logger      ports.Logger
	trades      ports.TradeRepository
	prices      ports.PriceFeed
	evaluator   TradeEvaluator
	interval    time.Duration
	callTimeout time.Duration
	clock       Clock

	running int32 // single-flight guard for cycles
	started int32
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewScheduler creates a scheduler instance.
func NewScheduler(cfg Config) (*Scheduler, error) {
	if cfg.Logger == nil || cfg.Trades == nil || cfg.Prices == nil || cfg.Evaluator == nil {
		return nil, fmt.Errorf("missing required dependencies for scheduler")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaultCallTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = realClock{}
	}
	return &Scheduler{
		logger:      cfg.Logger,
		trades:      cfg.Trades,
		prices:      cfg.Prices,
		evaluator:   cfg.Evaluator,
		interval:    cfg.Interval,
		callTimeout: cfg.CallTimeout,
		clock:       cfg.Clock,
	}, nil
}

// Start launches the polling loop in a background goroutine. The first cycle
// runs immediately, subsequent cycles on every tick. Start returns an error
// if the scheduler is already running.
func (s *Scheduler) Start(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.started, 0, 1) {
		return fmt.Errorf("scheduler already started")
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.logger.Info(ctx, "monitor: starting", map[string]interface{}{"interval": s.interval.String()})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := s.clock.NewTicker(s.interval)
		defer ticker.Stop()

		s.runCycle(ctx)
		for {
			select {
			case <-ctx.Done():
				s.logger.Info(context.Background(), "monitor: stopped")
				return
			case <-ticker.C():
				s.runCycle(ctx)
			}
		}
	}()
	return nil
}

// Stop cancels the loop and blocks until the in-flight cycle, if any, has
// finished. A trade mid-close is never abandoned halfway by shutdown.
func (s *Scheduler) Stop() {
	if atomic.LoadInt32(&s.started) == 0 {
		return
	}
	s.cancel()
	s.wg.Wait()
}

// runCycle evaluates every open trade once. Failures are isolated per trade:
// a price lookup or close that fails is logged and the loop moves on.
func (s *Scheduler) runCycle(ctx context.Context) {
	if !atomic.CompareAndSwapInt32(&s.running, 0, 1) {
		s.logger.Warn(ctx, "monitor: previous cycle still running, skipping tick")
		return
	}
	defer atomic.StoreInt32(&s.running, 0)

	findCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	trades, err := s.trades.FindOpen(findCtx)
	cancel()
	if err != nil {
		s.logger.Error(ctx, err, "monitor: failed to load open trades")
		return
	}
	if len(trades) == 0 {
		return
	}
	s.logger.Debug(ctx, "monitor: cycle start", map[string]interface{}{"openTrades": len(trades)})

	for _, t := range trades {
		if ctx.Err() != nil {
			return
		}
		s.processTrade(ctx, t)
	}
}

func (s *Scheduler) processTrade(ctx context.Context, t *domain.Trade) {
	priceCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	price, err := s.prices.GetPrice(priceCtx, t.TokenSymbol)
	cancel()
	if err != nil {
		s.logger.Warn(ctx, "monitor: price lookup failed, skipping trade this cycle", map[string]interface{}{
			"tradeID": t.ID, "symbol": t.TokenSymbol, "error": err.Error(),
		})
		return
	}

	d := s.evaluator.Evaluate(ctx, t, price)
	if !d.ShouldExit {
		return
	}

	s.logger.Info(ctx, "monitor: exit condition met", map[string]interface{}{
		"tradeID": t.ID, "reason": string(d.Reason), "price": price, "pnlPercent": d.PnLPercent,
	})
	if err := s.evaluator.Close(ctx, t, d.Reason, price); err != nil {
		// The trade stays open and the next cycle retries.
		s.logger.Error(ctx, err, "monitor: automatic close failed", map[string]interface{}{"tradeID": t.ID})
	}
}
