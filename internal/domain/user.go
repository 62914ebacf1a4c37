package domain

import "time"

// User represents a registered account.
//
// The master seed is generated once at registration, encrypted under the
// user's password and stored only in packed envelope form; it is immutable
// thereafter. WalletIndex is the next derivation index to hand out: it
// increases by exactly one per wallet creation and is never reused or
// decremented.
type User struct {
	ID                string
	Username          string
	PasswordHash      string // bcrypt verifier, never reversed
	EncryptedSeed     string // packed envelope (salt:iv:tag:ciphertext)
	WalletIndex       int64
	HasCustomPassword bool // false when the password was system-generated once
	ExternalID        string
	IsActive          bool
	CreatedAt         time.Time
}
