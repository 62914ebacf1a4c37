package ports

import (
	"context"
	"time"

	"ghosttrader/internal/domain"
)

// UserRepository defines storage for registered users.
type UserRepository interface {
	// Create saves a new user. Returns ErrDuplicateEntry if the username is taken.
	Create(ctx context.Context, user *domain.User) error
	// FindByID retrieves a user by ID. Returns nil, nil if not found.
	FindByID(ctx context.Context, id string) (*domain.User, error)
	// FindByUsername retrieves a user by username. Returns nil, nil if not found.
	FindByUsername(ctx context.Context, username string) (*domain.User, error)
	// AllocateWalletIndex atomically reserves the user's next derivation index
	// and advances the counter by exactly one. The returned index is never
	// handed out twice.
	AllocateWalletIndex(ctx context.Context, userID string) (int64, error)
}

// WalletRepository defines storage for ghost wallets.
type WalletRepository interface {
	Create(ctx context.Context, wallet *domain.GhostWallet) error
	// FindByID retrieves a wallet by ID. Returns nil, nil if not found.
	FindByID(ctx context.Context, id string) (*domain.GhostWallet, error)
	// FindByUser retrieves all wallets of a user, oldest first.
	FindByUser(ctx context.Context, userID string) ([]*domain.GhostWallet, error)
	UpdateStatus(ctx context.Context, id string, status domain.WalletStatus) error
}

// TradeRepository defines storage for trades.
type TradeRepository interface {
	// Create saves a new open trade and returns its assigned ID.
	Create(ctx context.Context, trade *domain.Trade) (int64, error)
	// FindByID retrieves a trade by ID. Returns nil, nil if not found.
	FindByID(ctx context.Context, id int64) (*domain.Trade, error)
	// FindOpen retrieves all open trades ordered oldest-entry-first, so the
	// trades that have waited longest are evaluated first each cycle.
	FindOpen(ctx context.Context) ([]*domain.Trade, error)
	// CountOpenByUser counts a user's currently open trades.
	CountOpenByUser(ctx context.Context, userID string) (int, error)
	// UpdateHighWaterMark persists a new high-water-mark for an open trade.
	UpdateHighWaterMark(ctx context.Context, id int64, hwm float64) error
	// MarkClosed transitions a trade to closed, writing exit price, reason,
	// PnL and transaction reference. It only succeeds while the stored status
	// is still open; otherwise it returns ErrTradeNotOpen, which makes close
	// idempotent under overlapping cycles.
	MarkClosed(ctx context.Context, trade *domain.Trade) error
}

// RefreshTokenRepository defines storage for opaque refresh tokens.
type RefreshTokenRepository interface {
	Create(ctx context.Context, userID, token string, expiresAt time.Time) error
	// Find returns the owning user and expiry. Returns ErrNotFound for an
	// unknown token.
	Find(ctx context.Context, token string) (userID string, expiresAt time.Time, err error)
	Delete(ctx context.Context, token string) error
}

// AuditLogRepository defines append-only storage for audit entries.
type AuditLogRepository interface {
	Append(ctx context.Context, entry *domain.AuditLogEntry) error
}
