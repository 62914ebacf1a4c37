package domain

import "time"

// GhostWallet is a per-use signing keypair derived from the owner's master
// seed. Only the public half is stored: the private key is a pure function of
// (master seed, DerivationIndex) and is re-derived on demand, which requires
// the owner's password to decrypt the seed.
type GhostWallet struct {
	ID              string
	UserID          string
	DerivationIndex int64 // unique per user, assigned in creation order
	PublicKey       string
	Status          WalletStatus
	CreatedAt       time.Time
}

// IsActive reports whether the wallet can still be used for new trades.
func (w *GhostWallet) IsActive() bool {
	return w.Status == WalletStatusActive
}
