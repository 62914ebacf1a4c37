package domain

// TradeStatus represents the lifecycle status of a trade.
type TradeStatus string

const (
	TradeStatusOpen   TradeStatus = "open"
	TradeStatusClosed TradeStatus = "closed"
)

// WalletStatus represents the lifecycle status of a ghost wallet.
type WalletStatus string

const (
	WalletStatusActive   WalletStatus = "active"
	WalletStatusRecycled WalletStatus = "recycled"
	WalletStatusBurned   WalletStatus = "burned"
)

// ExitReason indicates which exit condition closed a trade.
type ExitReason string

const (
	ExitReasonStopLoss     ExitReason = "stop_loss"
	ExitReasonTakeProfit   ExitReason = "take_profit"
	ExitReasonTrailingStop ExitReason = "trailing_stop"
	ExitReasonManual       ExitReason = "manual"
)

// SwapSide represents the direction of a swap through the routing service.
type SwapSide string

const (
	SwapSideBuy  SwapSide = "BUY"
	SwapSideSell SwapSide = "SELL"
)

// Keypair is a signing keypair recovered from a user's master seed.
// PrivateKey is the raw 32-byte secp256k1 scalar; PublicKey is the
// compressed point in hex.
type Keypair struct {
	PrivateKey []byte
	PublicKey  string
}
