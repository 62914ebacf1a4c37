package ports

import "errors"

// Standard application-level errors.
// Adapters and services wrap underlying failures with these so callers can
// classify them with errors.Is without seeing infrastructure details.
var (
	// ErrValidation covers malformed input, weak passwords and other requests
	// that are rejected immediately and never retried.
	ErrValidation = errors.New("invalid request parameters or format")

	// ErrInvalidCredentials is the single authentication error class. It is
	// deliberately generic: a wrong password, a corrupted encrypted payload, a
	// failed integrity check and an invalid token all map here so the message
	// cannot be used as an oracle.
	ErrInvalidCredentials = errors.New("invalid credentials")

	ErrNotFound       = errors.New("resource not found")
	ErrDuplicateEntry = errors.New("record already exists")
	ErrTimeout        = errors.New("operation timed out")

	// Trade lifecycle errors.
	ErrTradeNotOpen   = errors.New("trade is not open")
	ErrWalletInactive = errors.New("wallet is not active")

	// External collaborator errors. These are transient: the trade stays open
	// and the monitor's polling interval is the retry mechanism.
	ErrExchangeUnavailable = errors.New("exchange service is unavailable")
	ErrTxNotConfirmed      = errors.New("transaction not confirmed")

	// Database errors.
	ErrDBConnection = errors.New("database connection error")
	ErrQueryFailed  = errors.New("database query failed")
	ErrUpdateFailed = errors.New("database update failed")
)
