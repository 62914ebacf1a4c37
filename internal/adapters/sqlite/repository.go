// Package sqlite implements the repository ports on a single SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-sqlite3"

	"ghosttrader/internal/domain"
	"ghosttrader/internal/ports"
)

// Store owns the database connection and hands out the per-aggregate
// repositories. All repositories share the one connection.
type Store struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite store.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewStore opens (or creates) the database, verifies the connection and
// ensures the schema exists.
func NewStore(cfg Config) (*Store, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite store")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/ghosttrader.db"
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory %q: %w", filepath.Dir(dbPath), err)
	}

	// WAL keeps the monitor's reads from blocking writes.
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database at %q: %w", dbPath, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: failed to ping database at %q: %v", ports.ErrDBConnection, dbPath, err)
	}

	// SQLite serializes writers anyway; a single connection avoids
	// SQLITE_BUSY churn in the Go driver.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	s := &Store{db: db, logger: cfg.Logger}
	if err := s.initializeSchema(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}
	cfg.Logger.Info(context.Background(), "SQLite store ready", map[string]interface{}{"path": dbPath})
	return s, nil
}

func (s *Store) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		username TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		encrypted_seed TEXT NOT NULL,
		wallet_index INTEGER NOT NULL DEFAULT 0,
		has_custom_password INTEGER NOT NULL DEFAULT 0,
		external_id TEXT NOT NULL DEFAULT '',
		is_active INTEGER NOT NULL DEFAULT 1,
		created_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS ghost_wallets (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id),
		derivation_index INTEGER NOT NULL,
		public_key TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		UNIQUE(user_id, derivation_index)
	);

	CREATE TABLE IF NOT EXISTS trades (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		wallet_id TEXT NOT NULL,
		token_mint TEXT NOT NULL,
		token_symbol TEXT NOT NULL,
		entry_amount REAL NOT NULL,
		token_quantity REAL NOT NULL,
		entry_price REAL NOT NULL,
		take_profit_pct REAL NOT NULL DEFAULT 0,
		stop_loss_pct REAL NOT NULL DEFAULT 0,
		trailing_stop_pct REAL NOT NULL DEFAULT 0,
		high_water_mark REAL NOT NULL,
		session_credential TEXT NOT NULL,
		status TEXT NOT NULL,
		exit_reason TEXT DEFAULT NULL,
		exit_price REAL DEFAULT NULL,
		realized_pnl REAL DEFAULT NULL,
		entry_tx_sig TEXT NOT NULL,
		exit_tx_sig TEXT DEFAULT NULL,
		entry_time TIMESTAMP NOT NULL,
		exit_time TIMESTAMP DEFAULT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_trades_status_entry_time ON trades (status, entry_time);
	CREATE INDEX IF NOT EXISTS idx_trades_user_status ON trades (user_id, status);

	CREATE TABLE IF NOT EXISTS refresh_tokens (
		token TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		expires_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS audit_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		actor TEXT NOT NULL,
		action TEXT NOT NULL,
		resource_type TEXT NOT NULL,
		resource_id TEXT NOT NULL,
		metadata TEXT NOT NULL DEFAULT '{}',
		created_at TIMESTAMP NOT NULL
	);
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Users returns the user repository backed by this store.
func (s *Store) Users() ports.UserRepository { return &userRepo{s} }

// Wallets returns the ghost-wallet repository backed by this store.
func (s *Store) Wallets() ports.WalletRepository { return &walletRepo{s} }

// Trades returns the trade repository backed by this store.
func (s *Store) Trades() ports.TradeRepository { return &tradeRepo{s} }

// RefreshTokens returns the refresh-token repository backed by this store.
func (s *Store) RefreshTokens() ports.RefreshTokenRepository { return &refreshTokenRepo{s} }

// Audit returns the audit-log repository backed by this store.
func (s *Store) Audit() ports.AuditLogRepository { return &auditRepo{s} }

// isConstraintErr reports whether err is a SQLite uniqueness/constraint
// violation.
func isConstraintErr(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.Code == sqlite3.ErrConstraint
}

// scanner is the shared surface of *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

// --- UserRepository ---

type userRepo struct{ *Store }

func (r *userRepo) Create(ctx context.Context, u *domain.User) error {
	const query = `
	INSERT INTO users (id, username, password_hash, encrypted_seed, wallet_index,
	                   has_custom_password, external_id, is_active, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		u.ID, u.Username, u.PasswordHash, u.EncryptedSeed, u.WalletIndex,
		u.HasCustomPassword, u.ExternalID, u.IsActive, u.CreatedAt)
	if err != nil {
		if isConstraintErr(err) {
			return fmt.Errorf("username %q: %w", u.Username, ports.ErrDuplicateEntry)
		}
		return fmt.Errorf("failed to insert user %q: %w", u.Username, err)
	}
	r.logger.Debug(ctx, "user created", map[string]interface{}{"userID": u.ID})
	return nil
}

func (r *userRepo) FindByID(ctx context.Context, id string) (*domain.User, error) {
	const query = `
	SELECT id, username, password_hash, encrypted_seed, wallet_index,
	       has_custom_password, external_id, is_active, created_at
	FROM users WHERE id = ?`
	return r.findOne(ctx, query, id)
}

func (r *userRepo) FindByUsername(ctx context.Context, username string) (*domain.User, error) {
	const query = `
	SELECT id, username, password_hash, encrypted_seed, wallet_index,
	       has_custom_password, external_id, is_active, created_at
	FROM users WHERE username = ?`
	return r.findOne(ctx, query, username)
}

func (r *userRepo) findOne(ctx context.Context, query string, arg interface{}) (*domain.User, error) {
	u, err := scanUser(r.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return u, nil
}

// AllocateWalletIndex reserves the user's next derivation index inside a
// transaction so concurrent wallet creations never receive the same index.
func (r *userRepo) AllocateWalletIndex(ctx context.Context, userID string) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin index allocation: %w", err)
	}
	defer tx.Rollback()

	var index int64
	err = tx.QueryRowContext(ctx, `SELECT wallet_index FROM users WHERE id = ?`, userID).Scan(&index)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("user %s: %w", userID, ports.ErrNotFound)
		}
		return 0, fmt.Errorf("failed to read wallet index for user %s: %w", userID, err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE users SET wallet_index = wallet_index + 1 WHERE id = ?`, userID); err != nil {
		return 0, fmt.Errorf("failed to advance wallet index for user %s: %w", userID, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit index allocation for user %s: %w", userID, err)
	}
	return index, nil
}

func scanUser(s scanner) (*domain.User, error) {
	u := &domain.User{}
	err := s.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.EncryptedSeed, &u.WalletIndex,
		&u.HasCustomPassword, &u.ExternalID, &u.IsActive, &u.CreatedAt)
	if err != nil {
		return nil, err
	}
	return u, nil
}

// --- WalletRepository ---

type walletRepo struct{ *Store }

func (r *walletRepo) Create(ctx context.Context, w *domain.GhostWallet) error {
	const query = `
	INSERT INTO ghost_wallets (id, user_id, derivation_index, public_key, status, created_at)
	VALUES (?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		w.ID, w.UserID, w.DerivationIndex, w.PublicKey, w.Status, w.CreatedAt)
	if err != nil {
		if isConstraintErr(err) {
			return fmt.Errorf("wallet index %d for user %s: %w", w.DerivationIndex, w.UserID, ports.ErrDuplicateEntry)
		}
		return fmt.Errorf("failed to insert wallet for user %s: %w", w.UserID, err)
	}
	r.logger.Debug(ctx, "wallet created", map[string]interface{}{"walletID": w.ID, "index": w.DerivationIndex})
	return nil
}

func (r *walletRepo) FindByID(ctx context.Context, id string) (*domain.GhostWallet, error) {
	const query = `
	SELECT id, user_id, derivation_index, public_key, status, created_at
	FROM ghost_wallets WHERE id = ?`

	w, err := scanWallet(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query wallet %s: %w", id, err)
	}
	return w, nil
}

func (r *walletRepo) FindByUser(ctx context.Context, userID string) ([]*domain.GhostWallet, error) {
	const query = `
	SELECT id, user_id, derivation_index, public_key, status, created_at
	FROM ghost_wallets WHERE user_id = ? ORDER BY derivation_index ASC`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query wallets for user %s: %w", userID, err)
	}
	defer rows.Close()

	wallets := make([]*domain.GhostWallet, 0)
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan wallet row: %w", err)
		}
		wallets = append(wallets, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating wallet rows: %w", err)
	}
	return wallets, nil
}

func (r *walletRepo) UpdateStatus(ctx context.Context, id string, status domain.WalletStatus) error {
	result, err := r.db.ExecContext(ctx, `UPDATE ghost_wallets SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("failed to update wallet %s status: %w", id, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for wallet %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("wallet %s: %w", id, ports.ErrNotFound)
	}
	return nil
}

func scanWallet(s scanner) (*domain.GhostWallet, error) {
	w := &domain.GhostWallet{}
	var status string
	err := s.Scan(&w.ID, &w.UserID, &w.DerivationIndex, &w.PublicKey, &status, &w.CreatedAt)
	if err != nil {
		return nil, err
	}
	w.Status = domain.WalletStatus(status)
	return w, nil
}

// --- TradeRepository ---

type tradeRepo struct{ *Store }

const tradeColumns = `
	id, user_id, wallet_id, token_mint, token_symbol, entry_amount, token_quantity,
	entry_price, take_profit_pct, stop_loss_pct, trailing_stop_pct, high_water_mark,
	session_credential, status, COALESCE(exit_reason, ''), COALESCE(exit_price, 0),
	COALESCE(realized_pnl, 0), entry_tx_sig, COALESCE(exit_tx_sig, ''), entry_time, exit_time`

func (r *tradeRepo) Create(ctx context.Context, t *domain.Trade) (int64, error) {
	const query = `
	INSERT INTO trades (user_id, wallet_id, token_mint, token_symbol, entry_amount,
	                    token_quantity, entry_price, take_profit_pct, stop_loss_pct,
	                    trailing_stop_pct, high_water_mark, session_credential, status,
	                    entry_tx_sig, entry_time)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	result, err := r.db.ExecContext(ctx, query,
		t.UserID, t.WalletID, t.TokenMint, t.TokenSymbol, t.EntryAmount,
		t.TokenQuantity, t.EntryPrice, t.TakeProfitPct, t.StopLossPct,
		t.TrailingStopPct, t.HighWaterMark, t.SessionCredential, t.Status,
		t.EntryTxSig, t.EntryTime)
	if err != nil {
		return 0, fmt.Errorf("failed to insert trade for user %s: %w", t.UserID, err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for trade: %w", err)
	}
	t.ID = id
	r.logger.Debug(ctx, "trade created", map[string]interface{}{"tradeID": id, "tokenMint": t.TokenMint})
	return id, nil
}

func (r *tradeRepo) FindByID(ctx context.Context, id int64) (*domain.Trade, error) {
	query := `SELECT` + tradeColumns + ` FROM trades WHERE id = ?`

	t, err := scanTrade(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query trade %d: %w", id, err)
	}
	return t, nil
}

// FindOpen returns open trades oldest entry first, so the trades that have
// waited longest get evaluated first each monitor cycle.
func (r *tradeRepo) FindOpen(ctx context.Context) ([]*domain.Trade, error) {
	query := `SELECT` + tradeColumns + ` FROM trades WHERE status = ? ORDER BY entry_time ASC`

	rows, err := r.db.QueryContext(ctx, query, domain.TradeStatusOpen)
	if err != nil {
		return nil, fmt.Errorf("failed to query open trades: %w", err)
	}
	defer rows.Close()

	trades := make([]*domain.Trade, 0)
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade row: %w", err)
		}
		trades = append(trades, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trade rows: %w", err)
	}
	return trades, nil
}

func (r *tradeRepo) CountOpenByUser(ctx context.Context, userID string) (int, error) {
	const query = `SELECT COUNT(*) FROM trades WHERE user_id = ? AND status = ?`
	var count int
	if err := r.db.QueryRowContext(ctx, query, userID, domain.TradeStatusOpen).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count open trades for user %s: %w", userID, err)
	}
	return count, nil
}

func (r *tradeRepo) UpdateHighWaterMark(ctx context.Context, id int64, hwm float64) error {
	const query = `UPDATE trades SET high_water_mark = ? WHERE id = ? AND status = ?`
	if _, err := r.db.ExecContext(ctx, query, hwm, id, domain.TradeStatusOpen); err != nil {
		return fmt.Errorf("%w: high-water-mark for trade %d: %v", ports.ErrUpdateFailed, id, err)
	}
	return nil
}

// MarkClosed transitions a trade to closed only while the stored row is still
// open. The status guard in the WHERE clause is what makes the close
// idempotent: a second close attempt affects zero rows and reports
// ErrTradeNotOpen instead of overwriting the first close.
func (r *tradeRepo) MarkClosed(ctx context.Context, t *domain.Trade) error {
	const query = `
	UPDATE trades
	SET status = ?, exit_reason = ?, exit_price = ?, realized_pnl = ?, exit_tx_sig = ?, exit_time = ?
	WHERE id = ? AND status = ?`

	result, err := r.db.ExecContext(ctx, query,
		domain.TradeStatusClosed, t.ExitReason, t.ExitPrice, t.RealizedPnL, t.ExitTxSig, t.ExitTime,
		t.ID, domain.TradeStatusOpen)
	if err != nil {
		return fmt.Errorf("failed to mark trade %d closed: %w", t.ID, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for trade %d: %w", t.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("trade %d: %w", t.ID, ports.ErrTradeNotOpen)
	}
	r.logger.Debug(ctx, "trade closed", map[string]interface{}{"tradeID": t.ID, "reason": string(t.ExitReason)})
	return nil
}

func scanTrade(s scanner) (*domain.Trade, error) {
	t := &domain.Trade{}
	var status, exitReason string
	var exitTime sql.NullTime
	err := s.Scan(&t.ID, &t.UserID, &t.WalletID, &t.TokenMint, &t.TokenSymbol, &t.EntryAmount,
		&t.TokenQuantity, &t.EntryPrice, &t.TakeProfitPct, &t.StopLossPct, &t.TrailingStopPct,
		&t.HighWaterMark, &t.SessionCredential, &status, &exitReason, &t.ExitPrice,
		&t.RealizedPnL, &t.EntryTxSig, &t.ExitTxSig, &t.EntryTime, &exitTime)
	if err != nil {
		return nil, err
	}
	t.Status = domain.TradeStatus(status)
	t.ExitReason = domain.ExitReason(exitReason)
	if exitTime.Valid {
		t.ExitTime = exitTime.Time
	}
	return t, nil
}

// --- RefreshTokenRepository ---

type refreshTokenRepo struct{ *Store }

func (r *refreshTokenRepo) Create(ctx context.Context, userID, token string, expiresAt time.Time) error {
	const query = `INSERT INTO refresh_tokens (token, user_id, expires_at) VALUES (?, ?, ?)`
	if _, err := r.db.ExecContext(ctx, query, token, userID, expiresAt); err != nil {
		if isConstraintErr(err) {
			return fmt.Errorf("refresh token: %w", ports.ErrDuplicateEntry)
		}
		return fmt.Errorf("failed to insert refresh token for user %s: %w", userID, err)
	}
	return nil
}

func (r *refreshTokenRepo) Find(ctx context.Context, token string) (string, time.Time, error) {
	const query = `SELECT user_id, expires_at FROM refresh_tokens WHERE token = ?`
	var userID string
	var expiresAt time.Time
	err := r.db.QueryRowContext(ctx, query, token).Scan(&userID, &expiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", time.Time{}, fmt.Errorf("refresh token: %w", ports.ErrNotFound)
		}
		return "", time.Time{}, fmt.Errorf("failed to query refresh token: %w", err)
	}
	return userID, expiresAt, nil
}

func (r *refreshTokenRepo) Delete(ctx context.Context, token string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE token = ?`, token); err != nil {
		return fmt.Errorf("failed to delete refresh token: %w", err)
	}
	return nil
}

// --- AuditLogRepository ---

type auditRepo struct{ *Store }

func (r *auditRepo) Append(ctx context.Context, e *domain.AuditLogEntry) error {
	metadata := "{}"
	if len(e.Metadata) > 0 {
		raw, err := json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode audit metadata: %w", err)
		}
		metadata = string(raw)
	}
	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	const query = `
	INSERT INTO audit_log (actor, action, resource_type, resource_id, metadata, created_at)
	VALUES (?, ?, ?, ?, ?, ?)`

	result, err := r.db.ExecContext(ctx, query,
		e.Actor, e.Action, e.ResourceType, e.ResourceID, metadata, createdAt)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	if id, err := result.LastInsertId(); err == nil {
		e.ID = id
	}
	return nil
}
