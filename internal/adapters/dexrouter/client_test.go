package dexrouter

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ghosttrader/internal/domain"
	"ghosttrader/internal/ports"
)

type nopLogger struct{}

func (nopLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (nopLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (nopLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (nopLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

func testKeypair(t *testing.T) (domain.Keypair, *btcec.PublicKey) {
	t.Helper()
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	kp := domain.Keypair{
		PrivateKey: priv.Serialize(),
		PublicKey:  hex.EncodeToString(priv.PubKey().SerializeCompressed()),
	}
	return kp, priv.PubKey()
}

// routerStub is a minimal in-memory routing service.
type routerStub struct {
	mu           sync.Mutex
	digest       [32]byte
	quoteReq     quoteRequest
	execReq      executeRequest
	pendingPolls int // number of "pending" responses before confirming
	failTx       bool
	quoteStatus  int
}

func (s *routerStub) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/quote", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.quoteStatus != 0 {
			http.Error(w, "bad quote request", s.quoteStatus)
			return
		}
		json.NewDecoder(r.Body).Decode(&s.quoteReq)
		json.NewEncoder(w).Encode(quoteResponse{
			QuoteID:   "q-1",
			Price:     "2.0",
			OutAmount: "50000000000", // 50 tokens at 9 decimals
			TxDigest:  hex.EncodeToString(s.digest[:]),
		})
	})
	mux.HandleFunc("/v1/execute", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		json.NewDecoder(r.Body).Decode(&s.execReq)
		json.NewEncoder(w).Encode(executeResponse{TxSignature: "tx-sig-1"})
	})
	mux.HandleFunc("/v1/tx/", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		switch {
		case s.failTx:
			json.NewEncoder(w).Encode(txStatusResponse{Status: "failed", Error: "slippage exceeded"})
		case s.pendingPolls > 0:
			s.pendingPolls--
			json.NewEncoder(w).Encode(txStatusResponse{Status: "pending"})
		default:
			json.NewEncoder(w).Encode(txStatusResponse{Status: "confirmed"})
		}
	})
	return mux
}

func newTestClient(t *testing.T, stub *routerStub) *Client {
	t.Helper()
	srv := httptest.NewServer(stub.handler())
	t.Cleanup(srv.Close)
	c, err := New(Config{BaseURL: srv.URL, Logger: nopLogger{}})
	require.NoError(t, err)
	return c
}

func TestExecuteSwapFullFlow(t *testing.T) {
	stub := &routerStub{digest: sha256.Sum256([]byte("unsigned-tx"))}
	client := newTestClient(t, stub)
	signer, pubKey := testKeypair(t)

	res, err := client.ExecuteSwap(context.Background(), ports.SwapRequest{
		Signer:      signer,
		TokenMint:   "mint-abc",
		Side:        domain.SwapSideBuy,
		Amount:      100,
		SlippageBps: 100,
	})
	require.NoError(t, err)

	assert.Equal(t, "tx-sig-1", res.TxSignature)
	assert.Equal(t, 2.0, res.Price)
	assert.Equal(t, 50.0, res.OutAmount)

	// Quote carries the amount in quote-asset base units (6 decimals).
	assert.Equal(t, "100000000", stub.quoteReq.Amount)
	assert.Equal(t, "BUY", stub.quoteReq.Side)
	assert.Equal(t, signer.PublicKey, stub.quoteReq.PublicKey)

	// The submitted signature must verify against the wallet's public key.
	sigBytes, err := hex.DecodeString(stub.execReq.Signature)
	require.NoError(t, err)
	sig, err := ecdsa.ParseDERSignature(sigBytes)
	require.NoError(t, err)
	assert.True(t, sig.Verify(stub.digest[:], pubKey))
}

func TestExecuteSwapSellUsesTokenDecimals(t *testing.T) {
	stub := &routerStub{digest: sha256.Sum256([]byte("unsigned-tx"))}
	client := newTestClient(t, stub)
	signer, _ := testKeypair(t)

	_, err := client.ExecuteSwap(context.Background(), ports.SwapRequest{
		Signer:      signer,
		TokenMint:   "mint-abc",
		Side:        domain.SwapSideSell,
		Amount:      50, // tokens at 9 decimals
		SlippageBps: 300,
	})
	require.NoError(t, err)
	assert.Equal(t, "50000000000", stub.quoteReq.Amount)
	assert.Equal(t, "SELL", stub.quoteReq.Side)
}

func TestExecuteSwapWaitsThroughPendingPolls(t *testing.T) {
	stub := &routerStub{digest: sha256.Sum256([]byte("unsigned-tx")), pendingPolls: 2}
	client := newTestClient(t, stub)
	signer, _ := testKeypair(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	res, err := client.ExecuteSwap(ctx, ports.SwapRequest{
		Signer: signer, TokenMint: "mint-abc", Side: domain.SwapSideBuy, Amount: 10, SlippageBps: 100,
	})
	require.NoError(t, err)
	assert.Equal(t, "tx-sig-1", res.TxSignature)
}

func TestExecuteSwapUnconfirmedWithinDeadline(t *testing.T) {
	stub := &routerStub{digest: sha256.Sum256([]byte("unsigned-tx")), pendingPolls: 1 << 30}
	client := newTestClient(t, stub)
	signer, _ := testKeypair(t)

	ctx, cancel := context.WithTimeout(context.Background(), 700*time.Millisecond)
	defer cancel()
	_, err := client.ExecuteSwap(ctx, ports.SwapRequest{
		Signer: signer, TokenMint: "mint-abc", Side: domain.SwapSideBuy, Amount: 10, SlippageBps: 100,
	})
	assert.ErrorIs(t, err, ports.ErrTxNotConfirmed)
}

func TestExecuteSwapNetworkRejection(t *testing.T) {
	stub := &routerStub{digest: sha256.Sum256([]byte("unsigned-tx")), failTx: true}
	client := newTestClient(t, stub)
	signer, _ := testKeypair(t)

	_, err := client.ExecuteSwap(context.Background(), ports.SwapRequest{
		Signer: signer, TokenMint: "mint-abc", Side: domain.SwapSideBuy, Amount: 10, SlippageBps: 100,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrExchangeUnavailable)
	assert.Contains(t, err.Error(), "slippage exceeded")
}

func TestExecuteSwapQuoteRejected(t *testing.T) {
	stub := &routerStub{quoteStatus: http.StatusBadRequest}
	client := newTestClient(t, stub)
	signer, _ := testKeypair(t)

	_, err := client.ExecuteSwap(context.Background(), ports.SwapRequest{
		Signer: signer, TokenMint: "mint-abc", Side: domain.SwapSideBuy, Amount: 10, SlippageBps: 100,
	})
	assert.ErrorIs(t, err, ports.ErrValidation)
}

func TestExecuteSwapZeroAmountRejected(t *testing.T) {
	stub := &routerStub{digest: sha256.Sum256([]byte("unsigned-tx"))}
	client := newTestClient(t, stub)
	signer, _ := testKeypair(t)

	_, err := client.ExecuteSwap(context.Background(), ports.SwapRequest{
		Signer: signer, TokenMint: "mint-abc", Side: domain.SwapSideBuy, Amount: 0, SlippageBps: 100,
	})
	assert.ErrorIs(t, err, ports.ErrValidation)
}

func TestNewRequiresBaseURLAndLogger(t *testing.T) {
	_, err := New(Config{Logger: nopLogger{}})
	assert.Error(t, err)
	_, err = New(Config{BaseURL: "http://localhost"})
	assert.Error(t, err)
}
