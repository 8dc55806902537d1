package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"fitchat/internal/content"

	"github.com/c-pro/geche"
	"golang.org/x/crypto/blake2b"
)

const DefaultTokenExpiry = 24 * time.Hour

var (
	ErrUnauthorized = errors.New("unauthorized")
)

type IssueTokenRequest struct {
	Username string `json:"username"`
}

type TokenResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message,omitempty"`
	Username  string `json:"username,omitempty"`
	Token     string `json:"token,omitempty"`
	ExpiresAt int64  `json:"expiresAt,omitempty"`
}

// TokenRecord is what gets persisted: the keyed hash of a token, never the
// token itself.
type TokenRecord struct {
	Hash      string
	Username  string
	ExpiresAt int64
}

type tokenStorage interface {
	UpsertToken(record TokenRecord) error
	DeleteToken(hash string) error
	ListTokens() ([]TokenRecord, error)
}

type Config struct {
	Secret      string        `json:"secret"`
	TokenExpiry time.Duration `json:"tokenExpiry"`

	secretBytes []byte
}

func (c *Config) Validate() error {
	if c.Secret == "" {
		return errors.New("secret is required")
	}

	var err error
	c.secretBytes, err = base64.StdEncoding.DecodeString(c.Secret)
	if err != nil {
		return fmt.Errorf("auth secret is not a valid base64: %w", err)
	}

	if c.TokenExpiry == 0 {
		c.TokenExpiry = DefaultTokenExpiry
	}

	return nil
}

type AuthService struct {
	Config
	hashKey    []byte
	liveTokens geche.Geche[string, TokenRecord]
	storage    tokenStorage
	now        func() time.Time
}

func NewAuthService(ctx context.Context, config Config, storage tokenStorage) (*AuthService, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	// blake2b keys are limited to 64 bytes.
	key := blake2b.Sum512(config.secretBytes)

	as := &AuthService{
		Config:     config,
		hashKey:    key[:],
		liveTokens: geche.NewMapTTLCache[string, TokenRecord](ctx, config.TokenExpiry, time.Minute),
		storage:    storage,
		now:        time.Now,
	}

	if err := as.loadTokens(); err != nil {
		return nil, err
	}

	return as, nil
}

func (as *AuthService) loadTokens() error {
	if as.storage == nil {
		return nil
	}
	records, err := as.storage.ListTokens()
	if err != nil {
		return fmt.Errorf("failed to load tokens: %w", err)
	}

	now := as.now().Unix()
	for _, r := range records {
		if r.ExpiresAt <= now {
			if err := as.storage.DeleteToken(r.Hash); err != nil {
				slog.Warn("failed to drop expired token", "username", r.Username, "error", err)
			}
			continue
		}
		as.liveTokens.Set(r.Hash, r)
	}
	return nil
}

func (as *AuthService) hashToken(token string) (string, error) {
	h, err := blake2b.New256(as.hashKey)
	if err != nil {
		return "", err
	}
	h.Write([]byte(token))
	return hex.EncodeToString(h.Sum(nil)), nil
}

// IssueToken creates a bearer token for username.
func (as *AuthService) IssueToken(username string) (TokenResponse, error) {
	if err := content.ValidateUsername(username); err != nil {
		return TokenResponse{Success: false, Message: err.Error()}, err
	}

	token, err := as.generateToken()
	if err != nil {
		return TokenResponse{Success: false, Message: "internal error"}, err
	}
	hash, err := as.hashToken(token)
	if err != nil {
		return TokenResponse{Success: false, Message: "internal error"}, err
	}

	record := TokenRecord{
		Hash:      hash,
		Username:  username,
		ExpiresAt: as.now().Add(as.TokenExpiry).Unix(),
	}
	if as.storage != nil {
		if err := as.storage.UpsertToken(record); err != nil {
			slog.Error("token persist failed", "username", username, "error", err)
			return TokenResponse{Success: false, Message: "internal error"}, err
		}
	}
	as.liveTokens.Set(hash, record)

	return TokenResponse{
		Success:   true,
		Username:  username,
		Token:     token,
		ExpiresAt: record.ExpiresAt,
	}, nil
}

// GetUsername resolves a live token to its username.
func (as *AuthService) GetUsername(token string) (string, error) {
	if token == "" {
		return "", ErrUnauthorized
	}
	hash, err := as.hashToken(token)
	if err != nil {
		return "", err
	}
	record, err := as.liveTokens.Get(hash)
	if err != nil {
		return "", ErrUnauthorized
	}
	if record.ExpiresAt <= as.now().Unix() {
		_ = as.liveTokens.Del(hash)
		return "", ErrUnauthorized
	}
	return record.Username, nil
}

func (as *AuthService) Revoke(token string) error {
	hash, err := as.hashToken(token)
	if err != nil {
		return err
	}
	_ = as.liveTokens.Del(hash)
	if as.storage != nil {
		return as.storage.DeleteToken(hash)
	}
	return nil
}

func (as *AuthService) generateToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
