// Package pricefeed implements the ports.PriceFeed interface on the Binance
// spot ticker.
package pricefeed

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"

	"ghosttrader/internal/ports"
)

const defaultQuoteAsset = "USDT"

// Client fetches spot ticker prices from Binance. API keys are optional, the
// ticker endpoint is public.
type Client struct {
	spot       *binance.Client
	quoteAsset string
	logger     ports.Logger
}

// Config holds configuration for the Binance price feed adapter.
type Config struct {
	APIKey     string
	SecretKey  string
	QuoteAsset string // pair suffix for price lookups, defaults to USDT
	Logger     ports.Logger
}

// New creates a Binance price feed adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Binance price feed")
	}
	quote := strings.ToUpper(cfg.QuoteAsset)
	if quote == "" {
		quote = defaultQuoteAsset
	}
	return &Client{
		spot:       binance.NewClient(cfg.APIKey, cfg.SecretKey),
		quoteAsset: quote,
		logger:     cfg.Logger,
	}, nil
}

// GetPrice returns the current spot price of the token in the configured
// quote asset. The symbol is the token's ticker symbol, e.g. "ETH".
func (c *Client) GetPrice(ctx context.Context, symbol string) (float64, error) {
	pair := strings.ToUpper(symbol) + c.quoteAsset

	prices, err := c.spot.NewListPricesService().Symbol(pair).Do(ctx)
	if err != nil {
		return 0, c.handleError(ctx, err, pair)
	}
	if len(prices) == 0 {
		return 0, fmt.Errorf("%w: no ticker returned for %s", ports.ErrNotFound, pair)
	}

	price, err := strconv.ParseFloat(prices[0].Price, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse ticker price %q for %s: %w", prices[0].Price, pair, err)
	}
	if price <= 0 {
		return 0, fmt.Errorf("%w: non-positive ticker price for %s", ports.ErrExchangeUnavailable, pair)
	}
	c.logger.Debug(ctx, "ticker price fetched", map[string]interface{}{"pair": pair, "price": price})
	return price, nil
}

// handleError translates Binance API errors into standardized ports errors.
func (c *Client) handleError(ctx context.Context, err error, pair string) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("ticker request for %s: %w", pair, ports.ErrTimeout)
	}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		c.logger.Warn(ctx, "Binance API error", map[string]interface{}{
			"pair": pair, "code": apiErr.Code, "message": apiErr.Message,
		})
		switch apiErr.Code {
		case -1100, -1121: // bad parameter / invalid symbol
			return fmt.Errorf("unknown trading pair %s: %w", pair, ports.ErrValidation)
		default:
			return fmt.Errorf("ticker request for %s failed (code %d): %w", pair, apiErr.Code, ports.ErrExchangeUnavailable)
		}
	}
	return fmt.Errorf("ticker request for %s: %w: %v", pair, ports.ErrExchangeUnavailable, err)
}
