// Package trading implements the trade lifecycle: entry execution through the
// routing collaborator, exit-condition evaluation and autonomous close, with
// every failed close attempt leaving the trade open and audited.
package trading

import (
	"context"
	"fmt"
	"time"

	"ghosttrader/internal/domain"
	"ghosttrader/internal/ports"
)

const defaultExecTimeout = 45 * time.Second

// SignerProvider is the slice of the custody service the trade lifecycle
// needs: recovering a wallet's signing key from a session credential.
type SignerProvider interface {
	RecoverSignerWithCredential(ctx context.Context, userID, credential string, index int64) (domain.Keypair, error)
}

// Config holds the dependencies and settings for the trading service.
type Config struct {
	Logger  ports.Logger
	Custody SignerProvider
	Wallets ports.WalletRepository
	Trades  ports.TradeRepository
	Audit   ports.AuditLogRepository
	Router  ports.SwapRouter
	Guard   GuardConfig
	// ExecTimeout bounds each swap execution (including confirmation
	// polling) so a stalled collaborator cannot stall the monitor cycle.
	ExecTimeout time.Duration
}

// Service manages the lifecycle of individual trades.
type Service struct {
	logger      ports.Logger
	custody     SignerProvider
	wallets     ports.WalletRepository
	trades      ports.TradeRepository
	auditRepo   ports.AuditLogRepository
	router      ports.SwapRouter
	guard       *Guard
	execTimeout time.Duration
}

// NewService creates a trading service instance.
func NewService(cfg Config) (*Service, error) {
	if cfg.Logger == nil || cfg.Custody == nil || cfg.Wallets == nil || cfg.Trades == nil ||
		cfg.Audit == nil || cfg.Router == nil {
		return nil, fmt.Errorf("missing required dependencies for trading service")
	}
	timeout := cfg.ExecTimeout
	if timeout <= 0 {
		timeout = defaultExecTimeout
	}
	return &Service{
		logger:      cfg.Logger,
		custody:     cfg.Custody,
		wallets:     cfg.Wallets,
		trades:      cfg.Trades,
		auditRepo:   cfg.Audit,
		router:      cfg.Router,
		guard:       NewGuard(cfg.Guard),
		execTimeout: timeout,
	}, nil
}

// CreateParams describes a trade entry request.
type CreateParams struct {
	UserID      string
	WalletID    string
	TokenMint   string
	TokenSymbol string
	EntryAmount float64 // quote asset to spend
	SlippageBps int
	Exit        domain.ExitParams
	// SessionCredential is stored with the trade so the monitor can walk the
	// custody chain later without the user being online.
	SessionCredential string
}

// Create executes a trade entry and persists the confirmed trade as open.
func (s *Service) Create(ctx context.Context, p CreateParams) (*domain.Trade, error) {
	op := "trading.Create"

	wallet, err := s.wallets.FindByID(ctx, p.WalletID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up wallet: %w", err)
	}
	if wallet == nil || wallet.UserID != p.UserID {
		return nil, fmt.Errorf("wallet %s: %w", p.WalletID, ports.ErrNotFound)
	}
	if !wallet.IsActive() {
		return nil, fmt.Errorf("wallet %s: %w", p.WalletID, ports.ErrWalletInactive)
	}

	openCount, err := s.trades.CountOpenByUser(ctx, p.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to count open trades: %w", err)
	}
	if err := s.guard.ValidateEntry(p.EntryAmount, p.SlippageBps, p.Exit, openCount); err != nil {
		return nil, err
	}

	signer, err := s.custody.RecoverSignerWithCredential(ctx, p.UserID, p.SessionCredential, wallet.DerivationIndex)
	if err != nil {
		return nil, fmt.Errorf("failed to recover signing key: %w", err)
	}

	swapCtx, cancel := context.WithTimeout(ctx, s.execTimeout)
	defer cancel()
	res, err := s.router.ExecuteSwap(swapCtx, ports.SwapRequest{
		Signer:      signer,
		TokenMint:   p.TokenMint,
		Side:        domain.SwapSideBuy,
		Amount:      p.EntryAmount,
		SlippageBps: p.SlippageBps,
	})
	if err != nil {
		s.logger.Error(ctx, err, op+": entry swap failed", map[string]interface{}{"userID": p.UserID, "tokenMint": p.TokenMint})
		return nil, fmt.Errorf("entry swap failed: %w", err)
	}

	trade := &domain.Trade{
		UserID:            p.UserID,
		WalletID:          wallet.ID,
		TokenMint:         p.TokenMint,
		TokenSymbol:       p.TokenSymbol,
		EntryAmount:       p.EntryAmount,
		TokenQuantity:     res.OutAmount,
		EntryPrice:        res.Price,
		TakeProfitPct:     p.Exit.TakeProfitPct,
		StopLossPct:       p.Exit.StopLossPct,
		TrailingStopPct:   p.Exit.TrailingStopPct,
		HighWaterMark:     res.Price,
		SessionCredential: p.SessionCredential,
		Status:            domain.TradeStatusOpen,
		EntryTxSig:        res.TxSignature,
		EntryTime:         time.Now().UTC(),
	}
	id, err := s.trades.Create(ctx, trade)
	if err != nil {
		// The entry swap already executed; the caller must reconcile manually.
		s.logger.Error(ctx, err, op+": failed to persist trade after confirmed entry", map[string]interface{}{
			"userID": p.UserID, "entryTxSig": res.TxSignature,
		})
		return nil, fmt.Errorf("failed to persist trade after entry (tx %s): %w", res.TxSignature, err)
	}
	trade.ID = id

	s.logger.Info(ctx, op+": trade opened", map[string]interface{}{
		"tradeID": id, "tokenMint": p.TokenMint, "entryPrice": res.Price, "quantity": res.OutAmount,
	})
	return trade, nil
}

// Evaluate runs the exit decision for a trade at the current price and
// persists a raised high-water-mark. A failed high-water-mark write is logged
// but does not invalidate the decision.
func (s *Service) Evaluate(ctx context.Context, t *domain.Trade, currentPrice float64) Decision {
	d := Evaluate(t, currentPrice)
	if d.HighWaterMark > t.HighWaterMark {
		if err := s.trades.UpdateHighWaterMark(ctx, t.ID, d.HighWaterMark); err != nil {
			s.logger.Warn(ctx, "failed to persist high-water-mark", map[string]interface{}{
				"tradeID": t.ID, "hwm": d.HighWaterMark, "error": err.Error(),
			})
		}
		t.HighWaterMark = d.HighWaterMark
	}
	return d
}

// Close executes a full-balance exit for an open trade and transitions it to
// closed. Any failure during key recovery or swap execution leaves the trade
// open — the next monitor cycle retries — and writes an audit entry with the
// reason, prices and error. Closing a trade that is no longer open is
// rejected without executing a swap.
func (s *Service) Close(ctx context.Context, t *domain.Trade, reason domain.ExitReason, currentPrice float64) error {
	op := "trading.Close"
	if !t.IsOpen() {
		return fmt.Errorf("trade %d: %w", t.ID, ports.ErrTradeNotOpen)
	}

	wallet, err := s.wallets.FindByID(ctx, t.WalletID)
	if err != nil || wallet == nil {
		if err == nil {
			err = ports.ErrNotFound
		}
		s.auditCloseFailure(ctx, t, reason, currentPrice, err)
		return fmt.Errorf("failed to look up wallet for trade %d: %w", t.ID, err)
	}

	signer, err := s.custody.RecoverSignerWithCredential(ctx, t.UserID, t.SessionCredential, wallet.DerivationIndex)
	if err != nil {
		s.auditCloseFailure(ctx, t, reason, currentPrice, err)
		return fmt.Errorf("failed to recover signing key for trade %d: %w", t.ID, err)
	}

	swapCtx, cancel := context.WithTimeout(ctx, s.execTimeout)
	defer cancel()
	res, err := s.router.ExecuteSwap(swapCtx, ports.SwapRequest{
		Signer:      signer,
		TokenMint:   t.TokenMint,
		Side:        domain.SwapSideSell,
		Amount:      t.TokenQuantity,
		SlippageBps: closeSlippageBps,
	})
	if err != nil {
		s.auditCloseFailure(ctx, t, reason, currentPrice, err)
		return fmt.Errorf("exit swap failed for trade %d: %w", t.ID, err)
	}

	exitPrice := res.Price
	if exitPrice == 0 {
		s.logger.Warn(ctx, op+": exit swap reported no price, using feed price", map[string]interface{}{"tradeID": t.ID, "fallbackPrice": currentPrice})
		exitPrice = currentPrice
	}
	pnl := (exitPrice - t.EntryPrice) * t.TokenQuantity

	t.Status = domain.TradeStatusClosed
	t.ExitReason = reason
	t.ExitPrice = exitPrice
	t.RealizedPnL = pnl
	t.ExitTxSig = res.TxSignature
	t.ExitTime = time.Now().UTC()

	if err := s.trades.MarkClosed(ctx, t); err != nil {
		// The exit swap already executed; keep the evidence in the audit log.
		s.auditCloseFailure(ctx, t, reason, exitPrice, err)
		return fmt.Errorf("failed to record close for trade %d (tx %s): %w", t.ID, res.TxSignature, err)
	}

	s.logger.Info(ctx, op+": trade closed", map[string]interface{}{
		"tradeID": t.ID, "reason": string(reason), "exitPrice": exitPrice, "pnl": pnl,
	})
	return nil
}

// closeSlippageBps is the slippage budget for exits. Exits are full-balance
// liquidations that must land, so the budget is wider than typical entries.
const closeSlippageBps = 300

// auditCloseFailure records a failed automatic close, best-effort.
func (s *Service) auditCloseFailure(ctx context.Context, t *domain.Trade, reason domain.ExitReason, price float64, cause error) {
	pnlPct := 0.0
	if t.EntryPrice > 0 {
		pnlPct = (price - t.EntryPrice) / t.EntryPrice * 100
	}
	entry := &domain.AuditLogEntry{
		Actor:        "monitor",
		Action:       domain.AuditActionAutoCloseFailed,
		ResourceType: "trade",
		ResourceID:   fmt.Sprintf("%d", t.ID),
		Metadata: map[string]interface{}{
			"reason":      string(reason),
			"price":       price,
			"pnl_percent": pnlPct,
			"error":       cause.Error(),
		},
		CreatedAt: time.Now().UTC(),
	}
	if err := s.auditRepo.Append(ctx, entry); err != nil {
		s.logger.Warn(ctx, "audit log write failed", map[string]interface{}{"tradeID": t.ID, "error": err.Error()})
	}
}
