// Package custody owns the non-custodial key-management chain: master seed
// generation and encrypted storage, password-gated recovery, ghost-wallet
// derivation, and the login surface that hands out tokens and session
// credentials. Nothing in this package ever persists a usable plaintext
// secret.
package custody

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"ghosttrader/internal/auth"
	"ghosttrader/internal/domain"
	"ghosttrader/internal/envelope"
	"ghosttrader/internal/hdwallet"
	"ghosttrader/internal/ports"
	"ghosttrader/internal/sessioncred"
)

const (
	minUsernameLength = 3
	minPasswordLength = 8
	// generatedPasswordBytes sizes the one-time password minted for users who
	// register through an external identity and never choose their own.
	generatedPasswordBytes = 16
)

// Config holds the dependencies and settings for the custody service.
type Config struct {
	Users         ports.UserRepository
	Wallets       ports.WalletRepository
	RefreshTokens ports.RefreshTokenRepository
	Audit         ports.AuditLogRepository
	Logger        ports.Logger
	Credentials   *sessioncred.Issuer

	JWTSecret       string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

// Service implements registration, authentication and signing-key recovery.
type Service struct {
	users       ports.UserRepository
	wallets     ports.WalletRepository
	refresh     ports.RefreshTokenRepository
	auditRepo   ports.AuditLogRepository
	logger      ports.Logger
	credentials *sessioncred.Issuer

	jwtSecret  []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// NewService creates a custody service instance.
func NewService(cfg Config) (*Service, error) {
	if cfg.Users == nil || cfg.Wallets == nil || cfg.RefreshTokens == nil || cfg.Audit == nil ||
		cfg.Logger == nil || cfg.Credentials == nil {
		return nil, fmt.Errorf("missing required dependencies for custody service")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT secret must be set")
	}
	if cfg.AccessTokenTTL <= 0 || cfg.RefreshTokenTTL <= 0 {
		return nil, fmt.Errorf("token TTLs must be positive")
	}
	return &Service{
		users:       cfg.Users,
		wallets:     cfg.Wallets,
		refresh:     cfg.RefreshTokens,
		auditRepo:   cfg.Audit,
		logger:      cfg.Logger,
		credentials: cfg.Credentials,
		jwtSecret:   []byte(cfg.JWTSecret),
		accessTTL:   cfg.AccessTokenTTL,
		refreshTTL:  cfg.RefreshTokenTTL,
	}, nil
}

// RegisterResult is the outcome of a successful registration.
type RegisterResult struct {
	User              *domain.User
	SessionCredential string
	// GeneratedPassword is set only when the service generated the password.
	// It is shown to the user exactly once and never again recoverable from
	// the server.
	GeneratedPassword string
}

// Register creates a user with a fresh encrypted master seed.
//
// When password is empty a one-time password is generated. The plaintext seed
// does not survive this call: it is zeroed before returning.
func (s *Service) Register(ctx context.Context, username, password string) (*RegisterResult, error) {
	username = strings.TrimSpace(username)
	if len(username) < minUsernameLength {
		return nil, fmt.Errorf("%w: username must be at least %d characters", ports.ErrValidation, minUsernameLength)
	}

	generated := ""
	hasCustomPassword := password != ""
	if hasCustomPassword {
		if len(password) < minPasswordLength {
			return nil, fmt.Errorf("%w: password must be at least %d characters", ports.ErrValidation, minPasswordLength)
		}
	} else {
		pw, err := randHex(generatedPasswordBytes)
		if err != nil {
			return nil, fmt.Errorf("failed to generate password: %w", err)
		}
		password, generated = pw, pw
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	seed := make([]byte, hdwallet.SeedSize)
	if _, err := rand.Read(seed); err != nil {
		return nil, fmt.Errorf("failed to generate master seed: %w", err)
	}
	defer zero(seed)

	packedSeed, err := envelope.EncryptPacked(seed, password)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt master seed: %w", err)
	}

	user := &domain.User{
		ID:                uuid.NewString(),
		Username:          username,
		PasswordHash:      string(hash),
		EncryptedSeed:     packedSeed,
		WalletIndex:       0,
		HasCustomPassword: hasCustomPassword,
		IsActive:          true,
		CreatedAt:         time.Now().UTC(),
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	credential, err := s.credentials.Issue(password, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to issue session credential: %w", err)
	}

	s.logger.Info(ctx, "user registered", map[string]interface{}{"userID": user.ID, "customPassword": hasCustomPassword})
	return &RegisterResult{User: user, SessionCredential: credential, GeneratedPassword: generated}, nil
}

// LoginResult is the outcome of a successful login.
type LoginResult struct {
	User         *domain.User
	AccessToken  string
	RefreshToken string
	// SessionCredential is empty for users whose password was
	// system-generated: the server cannot re-wrap a password it never sees
	// again, so such users received their only credential at generation time.
	SessionCredential string
}

// Login verifies the password against the stored verifier and hands out an
// access/refresh token pair plus, for users with a self-chosen password, a
// fresh session credential.
func (s *Service) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	user, err := s.users.FindByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	if user == nil || !user.IsActive {
		return nil, ports.ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return nil, ports.ErrInvalidCredentials
	}

	pair, err := s.issueTokenPair(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	credential := ""
	if user.HasCustomPassword {
		credential, err = s.credentials.Issue(password, user.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to issue session credential: %w", err)
		}
	}

	s.audit(ctx, user.ID, domain.AuditActionLogin, "user", user.ID, nil)
	return &LoginResult{User: user, AccessToken: pair.AccessToken, RefreshToken: pair.RefreshToken, SessionCredential: credential}, nil
}

// TokenPair is an access token plus the refresh token backing it.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// Refresh rotates a refresh token and mints a new access token.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	userID, expiresAt, err := s.refresh.Find(ctx, refreshToken)
	if err != nil {
		return nil, ports.ErrInvalidCredentials
	}
	if time.Now().After(expiresAt) {
		_ = s.refresh.Delete(ctx, refreshToken)
		return nil, ports.ErrInvalidCredentials
	}
	if err := s.refresh.Delete(ctx, refreshToken); err != nil {
		return nil, fmt.Errorf("failed to rotate refresh token: %w", err)
	}
	return s.issueTokenPair(ctx, userID)
}

// Logout revokes a refresh token.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	userID, _, err := s.refresh.Find(ctx, refreshToken)
	if err != nil {
		return ports.ErrInvalidCredentials
	}
	if err := s.refresh.Delete(ctx, refreshToken); err != nil {
		return fmt.Errorf("failed to revoke refresh token: %w", err)
	}
	s.audit(ctx, userID, domain.AuditActionLogout, "user", userID, nil)
	return nil
}

// Authenticate verifies an access token and returns the caller's user ID.
func (s *Service) Authenticate(accessToken string) (string, error) {
	userID, err := auth.GetUserIDFromToken(accessToken, s.jwtSecret)
	if err != nil {
		return "", ports.ErrInvalidCredentials
	}
	return userID, nil
}

// IssueCredential mints a session credential for the given password.
func (s *Service) IssueCredential(password, userID string) (string, error) {
	return s.credentials.Issue(password, userID)
}

// CreateWallet derives the user's next ghost wallet. The password gates the
// operation by decrypting the seed; the derivation index is allocated only
// after the seed decrypts, so a wrong password never burns an index.
func (s *Service) CreateWallet(ctx context.Context, userID, password string) (*domain.GhostWallet, error) {
	seed, err := s.decryptSeed(ctx, userID, password)
	if err != nil {
		return nil, err
	}
	defer zero(seed)

	index, err := s.users.AllocateWalletIndex(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate wallet index: %w", err)
	}

	kp, err := hdwallet.DeriveKeypair(seed, uint32(index))
	if err != nil {
		return nil, fmt.Errorf("failed to derive wallet %d: %w", index, err)
	}

	wallet := &domain.GhostWallet{
		ID:              uuid.NewString(),
		UserID:          userID,
		DerivationIndex: index,
		PublicKey:       kp.PublicKey,
		Status:          domain.WalletStatusActive,
		CreatedAt:       time.Now().UTC(),
	}
	if err := s.wallets.Create(ctx, wallet); err != nil {
		return nil, fmt.Errorf("failed to save wallet: %w", err)
	}

	s.logger.Info(ctx, "ghost wallet created", map[string]interface{}{"userID": userID, "index": index, "publicKey": kp.PublicKey})
	return wallet, nil
}

// CreateWalletWithCredential is CreateWallet for callers holding a session
// credential instead of the literal password.
func (s *Service) CreateWalletWithCredential(ctx context.Context, userID, credential string) (*domain.GhostWallet, error) {
	password, err := s.credentials.Recover(credential, userID)
	if err != nil {
		return nil, ports.ErrInvalidCredentials
	}
	return s.CreateWallet(ctx, userID, password)
}

// RecoverSigner re-derives the signing keypair for a wallet index. The
// password is the gate: it decrypts the seed, and a wrong password fails the
// envelope integrity check before any derivation happens.
func (s *Service) RecoverSigner(ctx context.Context, userID, password string, index int64) (domain.Keypair, error) {
	seed, err := s.decryptSeed(ctx, userID, password)
	if err != nil {
		return domain.Keypair{}, err
	}
	defer zero(seed)
	return hdwallet.DeriveKeypair(seed, uint32(index))
}

// RecoverSignerWithCredential recovers the password from a session credential
// first, then the signer. This is the custody chain the unattended monitor
// walks to close trades.
func (s *Service) RecoverSignerWithCredential(ctx context.Context, userID, credential string, index int64) (domain.Keypair, error) {
	password, err := s.credentials.Recover(credential, userID)
	if err != nil {
		return domain.Keypair{}, ports.ErrInvalidCredentials
	}
	return s.RecoverSigner(ctx, userID, password, index)
}

// ExportSeed returns the master seed as a BIP39 mnemonic for backup.
//
// The supplied password is re-verified against the stored verifier before any
// decryption work; a mismatch short-circuits with the same error class as a
// bad login. A successful export is audited.
func (s *Service) ExportSeed(ctx context.Context, userID, password string) (string, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("failed to look up user: %w", err)
	}
	if user == nil {
		return "", fmt.Errorf("user %s: %w", userID, ports.ErrNotFound)
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return "", ports.ErrInvalidCredentials
	}

	seed, err := envelope.DecryptPacked(user.EncryptedSeed, password)
	if err != nil {
		return "", ports.ErrInvalidCredentials
	}
	defer zero(seed)

	mnemonic, err := hdwallet.Mnemonic(seed)
	if err != nil {
		return "", fmt.Errorf("failed to encode seed: %w", err)
	}

	s.audit(ctx, userID, domain.AuditActionSeedViewed, "user", userID, nil)
	return mnemonic, nil
}

// decryptSeed loads a user and decrypts their master seed. Wrong password and
// corrupted stored payload both map to the generic authentication error.
func (s *Service) decryptSeed(ctx context.Context, userID, password string) ([]byte, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	if user == nil {
		return nil, fmt.Errorf("user %s: %w", userID, ports.ErrNotFound)
	}
	if !user.IsActive {
		return nil, ports.ErrInvalidCredentials
	}
	seed, err := envelope.DecryptPacked(user.EncryptedSeed, password)
	if err != nil {
		return nil, ports.ErrInvalidCredentials
	}
	return seed, nil
}

func (s *Service) issueTokenPair(ctx context.Context, userID string) (*TokenPair, error) {
	accessToken, err := auth.GenerateToken(userID, s.jwtSecret, s.accessTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to generate access token: %w", err)
	}
	refreshToken, err := randHex(32)
	if err != nil {
		return nil, fmt.Errorf("failed to generate refresh token: %w", err)
	}
	if err := s.refresh.Create(ctx, userID, refreshToken, time.Now().Add(s.refreshTTL)); err != nil {
		return nil, fmt.Errorf("failed to store refresh token: %w", err)
	}
	return &TokenPair{AccessToken: accessToken, RefreshToken: refreshToken}, nil
}

// audit appends an audit entry, best-effort. A failed write is logged and
// swallowed; it must never abort the operation being recorded.
func (s *Service) audit(ctx context.Context, actor string, action domain.AuditAction, resourceType, resourceID string, metadata map[string]interface{}) {
	entry := &domain.AuditLogEntry{
		Actor:        actor,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Metadata:     metadata,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.auditRepo.Append(ctx, entry); err != nil {
		s.logger.Warn(ctx, "audit log write failed", map[string]interface{}{"action": string(action), "error": err.Error()})
	}
}

func randHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
