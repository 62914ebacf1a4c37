package trading

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ghosttrader/internal/domain"
	"ghosttrader/internal/ports"
)

// --- Mocks ---

type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

type mockSigner struct {
	keypair domain.Keypair
	err     error
	calls   int
}

func (m *mockSigner) RecoverSignerWithCredential(ctx context.Context, userID, credential string, index int64) (domain.Keypair, error) {
	m.calls++
	if m.err != nil {
		return domain.Keypair{}, m.err
	}
	return m.keypair, nil
}

type mockWalletRepo struct {
	wallets map[string]*domain.GhostWallet
	findErr error
}

func newMockWalletRepo() *mockWalletRepo {
	return &mockWalletRepo{wallets: make(map[string]*domain.GhostWallet)}
}

func (m *mockWalletRepo) Create(ctx context.Context, w *domain.GhostWallet) error {
	m.wallets[w.ID] = w
	return nil
}

func (m *mockWalletRepo) FindByID(ctx context.Context, id string) (*domain.GhostWallet, error) {
	if m.findErr != nil {
		return nil, m.findErr
	}
	return m.wallets[id], nil
}

func (m *mockWalletRepo) FindByUser(ctx context.Context, userID string) ([]*domain.GhostWallet, error) {
	var out []*domain.GhostWallet
	for _, w := range m.wallets {
		if w.UserID == userID {
			out = append(out, w)
		}
	}
	return out, nil
}

func (m *mockWalletRepo) UpdateStatus(ctx context.Context, id string, status domain.WalletStatus) error {
	if w, ok := m.wallets[id]; ok {
		w.Status = status
	}
	return nil
}

type mockTradeRepo struct {
	trades       map[int64]*domain.Trade
	nextID       int64
	createErr    error
	markErr      error
	hwmErr       error
	countErr     error
	markedClosed []int64
}

func newMockTradeRepo() *mockTradeRepo {
	return &mockTradeRepo{trades: make(map[int64]*domain.Trade), nextID: 1}
}

func (m *mockTradeRepo) Create(ctx context.Context, t *domain.Trade) (int64, error) {
	if m.createErr != nil {
		return 0, m.createErr
	}
	id := m.nextID
	m.nextID++
	cp := *t
	cp.ID = id
	m.trades[id] = &cp
	return id, nil
}

func (m *mockTradeRepo) FindByID(ctx context.Context, id int64) (*domain.Trade, error) {
	return m.trades[id], nil
}

func (m *mockTradeRepo) FindOpen(ctx context.Context) ([]*domain.Trade, error) {
	var out []*domain.Trade
	for _, t := range m.trades {
		if t.IsOpen() {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *mockTradeRepo) CountOpenByUser(ctx context.Context, userID string) (int, error) {
	if m.countErr != nil {
		return 0, m.countErr
	}
	n := 0
	for _, t := range m.trades {
		if t.UserID == userID && t.IsOpen() {
			n++
		}
	}
	return n, nil
}

func (m *mockTradeRepo) UpdateHighWaterMark(ctx context.Context, id int64, hwm float64) error {
	if m.hwmErr != nil {
		return m.hwmErr
	}
	if t, ok := m.trades[id]; ok {
		t.HighWaterMark = hwm
	}
	return nil
}

func (m *mockTradeRepo) MarkClosed(ctx context.Context, t *domain.Trade) error {
	if m.markErr != nil {
		return m.markErr
	}
	stored, ok := m.trades[t.ID]
	if !ok || !stored.IsOpen() {
		return ports.ErrTradeNotOpen
	}
	cp := *t
	m.trades[t.ID] = &cp
	m.markedClosed = append(m.markedClosed, t.ID)
	return nil
}

type mockAuditRepo struct {
	entries   []*domain.AuditLogEntry
	appendErr error
}

func (m *mockAuditRepo) Append(ctx context.Context, e *domain.AuditLogEntry) error {
	if m.appendErr != nil {
		return m.appendErr
	}
	m.entries = append(m.entries, e)
	return nil
}

func (m *mockAuditRepo) lastAction() domain.AuditAction {
	if len(m.entries) == 0 {
		return ""
	}
	return m.entries[len(m.entries)-1].Action
}

type mockRouter struct {
	result *ports.SwapResult
	err    error
	calls  []ports.SwapRequest
}

func (m *mockRouter) ExecuteSwap(ctx context.Context, req ports.SwapRequest) (*ports.SwapResult, error) {
	m.calls = append(m.calls, req)
	if m.err != nil {
		return nil, m.err
	}
	return m.result, nil
}

// --- Fixture ---

type fixture struct {
	svc     *Service
	signer  *mockSigner
	wallets *mockWalletRepo
	trades  *mockTradeRepo
	audit   *mockAuditRepo
	router  *mockRouter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		signer:  &mockSigner{keypair: domain.Keypair{PrivateKey: make([]byte, 32), PublicKey: "02abcdef"}},
		wallets: newMockWalletRepo(),
		trades:  newMockTradeRepo(),
		audit:   &mockAuditRepo{},
		router: &mockRouter{result: &ports.SwapResult{
			TxSignature: "tx-entry-1",
			Price:       2.0,
			OutAmount:   50,
		}},
	}
	svc, err := NewService(Config{
		Logger:  &mockLogger{},
		Custody: f.signer,
		Wallets: f.wallets,
		Trades:  f.trades,
		Audit:   f.audit,
		Router:  f.router,
		Guard:   GuardConfig{MaxOpenTrades: 3, MaxEntryAmount: 1000, MaxSlippageBps: 500},
	})
	require.NoError(t, err)
	f.svc = svc

	f.wallets.wallets["w1"] = &domain.GhostWallet{
		ID:              "w1",
		UserID:          "u1",
		DerivationIndex: 0,
		PublicKey:       "02abcdef",
		Status:          domain.WalletStatusActive,
	}
	return f
}

func validCreateParams() CreateParams {
	return CreateParams{
		UserID:            "u1",
		WalletID:          "w1",
		TokenMint:         "mint-abc",
		TokenSymbol:       "ABC",
		EntryAmount:       100,
		SlippageBps:       100,
		Exit:              domain.ExitParams{TakeProfitPct: 50, StopLossPct: 10, TrailingStopPct: 5},
		SessionCredential: "cred-u1",
	}
}

func openTestTrade(f *fixture) *domain.Trade {
	trade := &domain.Trade{
		UserID:            "u1",
		WalletID:          "w1",
		TokenMint:         "mint-abc",
		EntryAmount:       100,
		TokenQuantity:     50,
		EntryPrice:        2.0,
		StopLossPct:       10,
		HighWaterMark:     2.0,
		SessionCredential: "cred-u1",
		Status:            domain.TradeStatusOpen,
		EntryTime:         time.Now().UTC(),
	}
	id, _ := f.trades.Create(context.Background(), trade)
	trade.ID = id
	return trade
}

// --- Create ---

func TestCreateOpensTrade(t *testing.T) {
	f := newFixture(t)

	trade, err := f.svc.Create(context.Background(), validCreateParams())
	require.NoError(t, err)
	require.NotNil(t, trade)

	assert.Equal(t, domain.TradeStatusOpen, trade.Status)
	assert.Equal(t, 2.0, trade.EntryPrice)
	assert.Equal(t, 2.0, trade.HighWaterMark, "high-water-mark starts at the entry price")
	assert.Equal(t, 50.0, trade.TokenQuantity)
	assert.Equal(t, "tx-entry-1", trade.EntryTxSig)
	assert.Equal(t, "cred-u1", trade.SessionCredential, "credential stored for unattended exit")
	assert.False(t, trade.EntryTime.IsZero())

	require.Len(t, f.router.calls, 1)
	assert.Equal(t, domain.SwapSideBuy, f.router.calls[0].Side)
	assert.Equal(t, 100.0, f.router.calls[0].Amount)
}

func TestCreateRejectsForeignWallet(t *testing.T) {
	f := newFixture(t)
	f.wallets.wallets["w2"] = &domain.GhostWallet{ID: "w2", UserID: "someone-else", Status: domain.WalletStatusActive}

	p := validCreateParams()
	p.WalletID = "w2"
	_, err := f.svc.Create(context.Background(), p)
	assert.ErrorIs(t, err, ports.ErrNotFound)
	assert.Empty(t, f.router.calls, "no swap for a wallet the user does not own")
}

func TestCreateRejectsInactiveWallet(t *testing.T) {
	f := newFixture(t)
	f.wallets.wallets["w1"].Status = domain.WalletStatusBurned

	_, err := f.svc.Create(context.Background(), validCreateParams())
	assert.ErrorIs(t, err, ports.ErrWalletInactive)
	assert.Empty(t, f.router.calls)
}

func TestCreateRejectsGuardViolations(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		mutate func(*CreateParams)
	}{
		{"zero amount", func(p *CreateParams) { p.EntryAmount = 0 }},
		{"amount over cap", func(p *CreateParams) { p.EntryAmount = 5000 }},
		{"zero slippage", func(p *CreateParams) { p.SlippageBps = 0 }},
		{"slippage over cap", func(p *CreateParams) { p.SlippageBps = 10000 }},
		{"no exit conditions", func(p *CreateParams) { p.Exit = domain.ExitParams{} }},
		{"stop loss out of range", func(p *CreateParams) { p.Exit.StopLossPct = 100 }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := validCreateParams()
			tc.mutate(&p)
			_, err := f.svc.Create(context.Background(), p)
			assert.ErrorIs(t, err, ports.ErrValidation)
		})
	}
	assert.Empty(t, f.router.calls, "guard rejections never reach the router")
	assert.Zero(t, f.signer.calls, "guard rejections never recover keys")
}

func TestCreateEnforcesOpenTradeLimit(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 3; i++ {
		openTestTrade(f)
	}

	_, err := f.svc.Create(context.Background(), validCreateParams())
	assert.ErrorIs(t, err, ports.ErrValidation)
	assert.Empty(t, f.router.calls)
}

func TestCreateSignerRecoveryFailure(t *testing.T) {
	f := newFixture(t)
	f.signer.err = ports.ErrInvalidCredentials

	_, err := f.svc.Create(context.Background(), validCreateParams())
	assert.ErrorIs(t, err, ports.ErrInvalidCredentials)
	assert.Empty(t, f.router.calls, "no swap without a signing key")
}

func TestCreateSwapFailure(t *testing.T) {
	f := newFixture(t)
	f.router.err = ports.ErrExchangeUnavailable

	_, err := f.svc.Create(context.Background(), validCreateParams())
	assert.ErrorIs(t, err, ports.ErrExchangeUnavailable)
	assert.Empty(t, f.trades.trades, "failed entry must not persist a trade")
}

// --- Evaluate ---

func TestServiceEvaluatePersistsRaisedHighWaterMark(t *testing.T) {
	f := newFixture(t)
	trade := openTestTrade(f)

	d := f.svc.Evaluate(context.Background(), trade, 3.0)
	assert.False(t, d.ShouldExit)
	assert.Equal(t, 3.0, trade.HighWaterMark)
	assert.Equal(t, 3.0, f.trades.trades[trade.ID].HighWaterMark)
}

func TestServiceEvaluateHWMWriteFailureKeepsDecision(t *testing.T) {
	f := newFixture(t)
	trade := openTestTrade(f)
	f.trades.hwmErr = errors.New("disk full")

	d := f.svc.Evaluate(context.Background(), trade, 1.7)
	require.True(t, d.ShouldExit, "15%% drawdown breaches the 10%% stop-loss")
	assert.Equal(t, domain.ExitReasonStopLoss, d.Reason)
}

// --- Close ---

func TestCloseLiquidatesAndRecords(t *testing.T) {
	f := newFixture(t)
	trade := openTestTrade(f)
	f.router.result = &ports.SwapResult{TxSignature: "tx-exit-1", Price: 1.8, OutAmount: 90}

	err := f.svc.Close(context.Background(), trade, domain.ExitReasonStopLoss, 1.8)
	require.NoError(t, err)

	assert.Equal(t, domain.TradeStatusClosed, trade.Status)
	assert.Equal(t, domain.ExitReasonStopLoss, trade.ExitReason)
	assert.Equal(t, 1.8, trade.ExitPrice)
	assert.InDelta(t, -10.0, trade.RealizedPnL, 1e-9) // (1.8-2.0)*50
	assert.Equal(t, "tx-exit-1", trade.ExitTxSig)
	assert.False(t, trade.ExitTime.IsZero())

	require.Len(t, f.router.calls, 1)
	assert.Equal(t, domain.SwapSideSell, f.router.calls[0].Side)
	assert.Equal(t, 50.0, f.router.calls[0].Amount, "exits liquidate the full token quantity")
	assert.Equal(t, []int64{trade.ID}, f.trades.markedClosed)
}

func TestCloseAlreadyClosedNeverSwaps(t *testing.T) {
	f := newFixture(t)
	trade := openTestTrade(f)
	trade.Status = domain.TradeStatusClosed

	err := f.svc.Close(context.Background(), trade, domain.ExitReasonStopLoss, 1.8)
	assert.ErrorIs(t, err, ports.ErrTradeNotOpen)
	assert.Empty(t, f.router.calls, "a closed trade must never execute a second exchange")
	assert.Zero(t, f.signer.calls)
}

func TestCloseSwapFailureLeavesTradeOpenAndAudits(t *testing.T) {
	f := newFixture(t)
	trade := openTestTrade(f)
	f.router.err = ports.ErrExchangeUnavailable

	err := f.svc.Close(context.Background(), trade, domain.ExitReasonStopLoss, 1.7)
	require.Error(t, err)

	assert.Equal(t, domain.TradeStatusOpen, trade.Status, "trade stays open for the next cycle to retry")
	assert.Equal(t, domain.TradeStatusOpen, f.trades.trades[trade.ID].Status)

	require.Len(t, f.audit.entries, 1)
	e := f.audit.entries[0]
	assert.Equal(t, "monitor", e.Actor)
	assert.Equal(t, domain.AuditActionAutoCloseFailed, e.Action)
	assert.Equal(t, "trade", e.ResourceType)
	assert.Equal(t, string(domain.ExitReasonStopLoss), e.Metadata["reason"])
	assert.Contains(t, e.Metadata["error"], "exchange")
}

func TestCloseSignerFailureLeavesTradeOpenAndAudits(t *testing.T) {
	f := newFixture(t)
	trade := openTestTrade(f)
	f.signer.err = ports.ErrInvalidCredentials

	err := f.svc.Close(context.Background(), trade, domain.ExitReasonTakeProfit, 3.0)
	require.Error(t, err)
	assert.Empty(t, f.router.calls)
	assert.Equal(t, domain.AuditActionAutoCloseFailed, f.audit.lastAction())
}

func TestCloseMarkFailureAfterSwapIsAudited(t *testing.T) {
	f := newFixture(t)
	trade := openTestTrade(f)
	f.router.result = &ports.SwapResult{TxSignature: "tx-exit-2", Price: 1.8, OutAmount: 90}
	f.trades.markErr = errors.New("database is locked")

	err := f.svc.Close(context.Background(), trade, domain.ExitReasonStopLoss, 1.8)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tx-exit-2", "the executed transaction reference survives in the error")
	assert.Equal(t, domain.AuditActionAutoCloseFailed, f.audit.lastAction())
}

func TestCloseFallsBackToFeedPriceWhenRouterReportsNone(t *testing.T) {
	f := newFixture(t)
	trade := openTestTrade(f)
	f.router.result = &ports.SwapResult{TxSignature: "tx-exit-3", Price: 0, OutAmount: 90}

	err := f.svc.Close(context.Background(), trade, domain.ExitReasonTakeProfit, 3.1)
	require.NoError(t, err)
	assert.Equal(t, 3.1, trade.ExitPrice)
}

func TestCloseAuditWriteFailureDoesNotMaskCause(t *testing.T) {
	f := newFixture(t)
	trade := openTestTrade(f)
	f.router.err = ports.ErrTimeout
	f.audit.appendErr = errors.New("audit store down")

	err := f.svc.Close(context.Background(), trade, domain.ExitReasonStopLoss, 1.7)
	assert.ErrorIs(t, err, ports.ErrTimeout)
	assert.Equal(t, domain.TradeStatusOpen, trade.Status)
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	_, err := NewService(Config{Logger: &mockLogger{}})
	assert.Error(t, err)
}
