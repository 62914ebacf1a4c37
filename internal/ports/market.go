package ports

import (
	"context"

	"ghosttrader/internal/domain"
)

// SwapRequest describes a swap to execute through the routing service.
// For a BUY the amount is the quote-asset amount to spend; for a SELL it is
// the token quantity to liquidate.
type SwapRequest struct {
	Signer      domain.Keypair
	TokenMint   string
	Side        domain.SwapSide
	Amount      float64
	SlippageBps int
}

// SwapResult is the confirmed outcome of a swap.
type SwapResult struct {
	TxSignature string  // network transaction reference
	Price       float64 // executed price in the quote asset
	OutAmount   float64 // amount received (tokens for BUY, quote for SELL)
}

// SwapRouter abstracts the liquidity-routing/exchange collaborator.
//
// ExecuteSwap submits the swap and polls the network for confirmation. Once
// broadcast, the transaction cannot be cancelled: implementations must
// reconcile the outcome rather than attempt to abort, and return
// ErrTxNotConfirmed when confirmation cannot be observed within the call's
// context deadline.
type SwapRouter interface {
	ExecuteSwap(ctx context.Context, req SwapRequest) (*SwapResult, error)
}

// PriceFeed abstracts the market-price collaborator. The returned price is in
// the quote asset per token.
type PriceFeed interface {
	GetPrice(ctx context.Context, symbol string) (float64, error)
}
