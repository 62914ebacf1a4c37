// Package dexrouter implements the ports.SwapRouter interface against the
// HTTP liquidity-routing service. A swap is a three-step exchange: request a
// quote, sign the returned transaction digest with the ghost wallet's key,
// submit and poll the network for confirmation.
package dexrouter

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/jpillora/backoff"
	"github.com/shopspring/decimal"

	"ghosttrader/internal/domain"
	"ghosttrader/internal/ports"
)

const (
	defaultQuoteDecimals  = 6 // USDC-style quote asset
	defaultTokenDecimals  = 9 // native token precision on the target chain
	defaultRequestTimeout = 15 * time.Second
)

// Client talks to the routing service over HTTP.
type Client struct {
	baseURL       string
	httpClient    *http.Client
	logger        ports.Logger
	quoteDecimals int32
	tokenDecimals int32
}

// Config holds configuration for the routing client.
type Config struct {
	BaseURL       string
	HTTPClient    *http.Client
	Logger        ports.Logger
	QuoteDecimals int32 // base-unit decimals of the quote asset
	TokenDecimals int32 // base-unit decimals of traded tokens
}

// New creates a routing client instance.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for routing client")
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required for routing client")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultRequestTimeout}
	}
	quoteDecimals := cfg.QuoteDecimals
	if quoteDecimals <= 0 {
		quoteDecimals = defaultQuoteDecimals
	}
	tokenDecimals := cfg.TokenDecimals
	if tokenDecimals <= 0 {
		tokenDecimals = defaultTokenDecimals
	}
	return &Client{
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		httpClient:    httpClient,
		logger:        cfg.Logger,
		quoteDecimals: quoteDecimals,
		tokenDecimals: tokenDecimals,
	}, nil
}

type quoteRequest struct {
	TokenMint   string `json:"token_mint"`
	Side        string `json:"side"`
	Amount      string `json:"amount"` // base units of the input asset
	SlippageBps int    `json:"slippage_bps"`
	PublicKey   string `json:"public_key"`
}

type quoteResponse struct {
	QuoteID   string `json:"quote_id"`
	Price     string `json:"price"`
	OutAmount string `json:"out_amount"` // base units of the output asset
	TxDigest  string `json:"tx_digest"`  // hex, signed by the wallet key
}

type executeRequest struct {
	QuoteID   string `json:"quote_id"`
	Signature string `json:"signature"`
	PublicKey string `json:"public_key"`
}

type executeResponse struct {
	TxSignature string `json:"tx_signature"`
}

type txStatusResponse struct {
	Status string `json:"status"` // pending, confirmed, failed
	Error  string `json:"error,omitempty"`
}

// ExecuteSwap runs the quote/sign/execute/confirm sequence. Once the
// transaction is broadcast it cannot be cancelled: a confirmation that does
// not arrive before the context deadline is reported as ErrTxNotConfirmed so
// the caller can reconcile instead of retrying blindly.
func (c *Client) ExecuteSwap(ctx context.Context, req ports.SwapRequest) (*ports.SwapResult, error) {
	inDecimals := c.quoteDecimals
	outDecimals := c.tokenDecimals
	if req.Side == domain.SwapSideSell {
		inDecimals, outDecimals = outDecimals, inDecimals
	}

	quote, err := c.requestQuote(ctx, req, inDecimals)
	if err != nil {
		return nil, err
	}

	signature, err := signDigest(req.Signer, quote.TxDigest)
	if err != nil {
		return nil, fmt.Errorf("failed to sign swap transaction: %w", err)
	}

	txSig, err := c.execute(ctx, quote.QuoteID, signature, req.Signer.PublicKey)
	if err != nil {
		return nil, err
	}

	if err := c.awaitConfirmation(ctx, txSig); err != nil {
		return nil, err
	}

	price, err := decimal.NewFromString(quote.Price)
	if err != nil {
		return nil, fmt.Errorf("failed to parse quoted price %q: %w", quote.Price, err)
	}
	outBase, err := decimal.NewFromString(quote.OutAmount)
	if err != nil {
		return nil, fmt.Errorf("failed to parse quoted out amount %q: %w", quote.OutAmount, err)
	}

	result := &ports.SwapResult{
		TxSignature: txSig,
		Price:       price.InexactFloat64(),
		OutAmount:   outBase.Shift(-outDecimals).InexactFloat64(),
	}
	c.logger.Info(ctx, "swap confirmed", map[string]interface{}{
		"txSignature": txSig, "side": string(req.Side), "tokenMint": req.TokenMint, "price": result.Price,
	})
	return result, nil
}

func (c *Client) requestQuote(ctx context.Context, req ports.SwapRequest, inDecimals int32) (*quoteResponse, error) {
	// The wire format carries amounts in integer base units.
	amount := decimal.NewFromFloat(req.Amount).Shift(inDecimals).Truncate(0)
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: swap amount must be positive", ports.ErrValidation)
	}

	var quote quoteResponse
	err := c.postJSON(ctx, "/v1/quote", quoteRequest{
		TokenMint:   req.TokenMint,
		Side:        string(req.Side),
		Amount:      amount.String(),
		SlippageBps: req.SlippageBps,
		PublicKey:   req.Signer.PublicKey,
	}, &quote)
	if err != nil {
		return nil, fmt.Errorf("quote request failed: %w", err)
	}
	if quote.QuoteID == "" || quote.TxDigest == "" {
		return nil, fmt.Errorf("%w: incomplete quote response", ports.ErrExchangeUnavailable)
	}
	return &quote, nil
}

func (c *Client) execute(ctx context.Context, quoteID, signature, publicKey string) (string, error) {
	var resp executeResponse
	err := c.postJSON(ctx, "/v1/execute", executeRequest{
		QuoteID:   quoteID,
		Signature: signature,
		PublicKey: publicKey,
	}, &resp)
	if err != nil {
		return "", fmt.Errorf("execute request failed: %w", err)
	}
	if resp.TxSignature == "" {
		return "", fmt.Errorf("%w: execute response carried no transaction signature", ports.ErrExchangeUnavailable)
	}
	return resp.TxSignature, nil
}

// awaitConfirmation polls the transaction status with exponential backoff
// until it confirms, fails, or the context deadline passes.
func (c *Client) awaitConfirmation(ctx context.Context, txSig string) error {
	b := &backoff.Backoff{
		Min:    500 * time.Millisecond,
		Max:    5 * time.Second,
		Factor: 2,
		Jitter: true,
	}
	for {
		var status txStatusResponse
		err := c.getJSON(ctx, "/v1/tx/"+txSig, &status)
		switch {
		case err != nil:
			// Transient lookup failures are retried until the deadline.
			c.logger.Warn(ctx, "transaction status lookup failed", map[string]interface{}{"txSignature": txSig, "error": err.Error()})
		case status.Status == "confirmed":
			return nil
		case status.Status == "failed":
			return fmt.Errorf("transaction %s rejected by the network: %s: %w", txSig, status.Error, ports.ErrExchangeUnavailable)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("transaction %s: %w", txSig, ports.ErrTxNotConfirmed)
		case <-time.After(b.Duration()):
		}
	}
}

// signDigest produces a DER-encoded ECDSA signature over the hex digest.
func signDigest(signer domain.Keypair, digestHex string) (string, error) {
	digest, err := hex.DecodeString(digestHex)
	if err != nil {
		return "", fmt.Errorf("malformed transaction digest: %w", err)
	}
	if len(digest) != sha256.Size {
		return "", fmt.Errorf("transaction digest must be %d bytes, got %d", sha256.Size, len(digest))
	}
	priv, _ := btcec.PrivKeyFromBytes(signer.PrivateKey)
	sig := ecdsa.Sign(priv, digest)
	return hex.EncodeToString(sig.Serialize()), nil
}

func (c *Client) postJSON(ctx context.Context, path string, body, out interface{}) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return ports.ErrTimeout
		}
		return fmt.Errorf("%w: %v", ports.ErrExchangeUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: failed to read response: %v", ports.ErrExchangeUnavailable, err)
	}
	switch {
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: routing service returned %d", ports.ErrExchangeUnavailable, resp.StatusCode)
	case resp.StatusCode >= 400:
		return fmt.Errorf("%w: routing service rejected request (%d): %s", ports.ErrValidation, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: malformed response body: %v", ports.ErrExchangeUnavailable, err)
	}
	return nil
}
