package service

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/user/llm-gateway-go/internal/config"
	"github.com/user/llm-gateway-go/internal/models"
	"github.com/user/llm-gateway-go/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// adminTokenVersion is bumped when the token payload layout changes.
const adminTokenVersion = 1

// adminTokenPayload is the signed portion of an admin token.
type adminTokenPayload struct {
	Version   int    `json:"v"`
	Subject   string `json:"sub"`
	IssuedAt  int64  `json:"iat"`
	ExpiresAt int64  `json:"exp"`
	Nonce     string `json:"nonce"`
}

// AuthService validates gateway API keys and manages admin console tokens.
type AuthService struct {
	keyRepo  repository.APIKeyRepository
	security config.SecurityConfig
	apiKey   config.APIKeyConfig
	logger   *zap.Logger

	signingKey []byte
}

// NewAuthService creates an AuthService. The admin token signing key is
// derived from the configured credentials, so changing either invalidates
// outstanding tokens.
func NewAuthService(keyRepo repository.APIKeyRepository, security config.SecurityConfig, apiKey config.APIKeyConfig, logger *zap.Logger) *AuthService {
	mac := sha256.New()
	mac.Write([]byte(security.AdminUsername))
	mac.Write([]byte{0})
	mac.Write([]byte(security.AdminPassword))
	return &AuthService{
		keyRepo:    keyRepo,
		security:   security,
		apiKey:     apiKey,
		logger:     logger,
		signingKey: mac.Sum(nil),
	}
}

// --- API key authentication ---

// ValidateAPIKey checks a raw gateway key and returns its row. The
// last-used timestamp is updated asynchronously. Missing, unknown, and
// inactive keys all reject with the same invalid_api_key code.
func (s *AuthService) ValidateAPIKey(ctx context.Context, rawKey string) (*models.APIKey, error) {
	if rawKey == "" {
		return nil, models.NewAuthenticationError("invalid_api_key", "missing API key")
	}

	key, err := s.keyRepo.FindByValue(ctx, rawKey)
	if err != nil {
		if err == repository.ErrNotFound {
			return nil, models.NewAuthenticationError("invalid_api_key", "invalid API key")
		}
		s.logger.Error("api key lookup failed", zap.Error(err))
		return nil, models.NewAppError("api key lookup failed")
	}
	if !key.IsActive {
		return nil, models.NewAuthenticationError("invalid_api_key", "API key is inactive")
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.keyRepo.UpdateLastUsed(ctx, key.ID); err != nil {
			s.logger.Debug("update API key last used", zap.Error(err))
		}
	}()

	return key, nil
}

// CreateAPIKey mints and stores a new gateway key. The plaintext value is
// returned exactly once, here.
func (s *AuthService) CreateAPIKey(ctx context.Context, name string) (*models.APIKey, string, error) {
	value, err := s.generateKeyValue()
	if err != nil {
		return nil, "", models.NewAppError("generate API key")
	}

	key := &models.APIKey{KeyName: name, KeyValue: value, IsActive: true}
	id, err := s.keyRepo.Insert(ctx, key)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return nil, "", models.NewConflictError("duplicate_key_name", fmt.Sprintf("API key %q already exists", name))
		}
		s.logger.Error("insert api key", zap.Error(err))
		return nil, "", models.NewAppError("store API key")
	}
	key.ID = id
	key.CreatedAt = time.Now()
	return key, value, nil
}

// generateKeyValue produces prefix + N hex characters from a CSPRNG.
func (s *AuthService) generateKeyValue() (string, error) {
	n := s.apiKey.Length
	if n < 8 {
		n = 32
	}
	buf := make([]byte, (n+1)/2)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return s.apiKey.Prefix + hex.EncodeToString(buf)[:n], nil
}

// --- Admin console authentication ---

// Login verifies the admin credentials and mints a signed token. A stored
// password beginning with a bcrypt marker is treated as a hash; otherwise
// it is compared in constant time.
func (s *AuthService) Login(username, password string) (string, time.Time, error) {
	if s.security.AdminPassword == "" {
		return "", time.Time{}, models.NewAuthenticationError("admin_disabled", "admin console is not configured")
	}
	if subtle.ConstantTimeCompare([]byte(username), []byte(s.security.AdminUsername)) != 1 {
		return "", time.Time{}, models.NewAuthenticationError("invalid_credentials", "invalid credentials")
	}
	if !s.verifyAdminPassword(password) {
		return "", time.Time{}, models.NewAuthenticationError("invalid_credentials", "invalid credentials")
	}

	now := time.Now()
	expires := now.Add(time.Duration(s.security.AdminTokenTTLSeconds) * time.Second)
	nonce := make([]byte, 8)
	if _, err := rand.Read(nonce); err != nil {
		return "", time.Time{}, models.NewAppError("generate token nonce")
	}

	payload, err := json.Marshal(adminTokenPayload{
		Version:   adminTokenVersion,
		Subject:   username,
		IssuedAt:  now.Unix(),
		ExpiresAt: expires.Unix(),
		Nonce:     hex.EncodeToString(nonce),
	})
	if err != nil {
		return "", time.Time{}, models.NewAppError("encode token payload")
	}

	encoded := base64.RawURLEncoding.EncodeToString(payload)
	return encoded + "." + s.sign(encoded), expires, nil
}

// ValidateAdminToken checks the token signature and expiry and returns the
// subject.
func (s *AuthService) ValidateAdminToken(token string) (string, error) {
	encoded, sig, ok := strings.Cut(token, ".")
	if !ok {
		return "", models.NewAuthenticationError("invalid_token", "malformed token")
	}
	expected := s.sign(encoded)
	if subtle.ConstantTimeCompare([]byte(sig), []byte(expected)) != 1 {
		return "", models.NewAuthenticationError("invalid_token", "invalid token signature")
	}

	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return "", models.NewAuthenticationError("invalid_token", "malformed token payload")
	}
	var payload adminTokenPayload
	if err := json.Unmarshal(raw, &payload); err != nil || payload.Version != adminTokenVersion {
		return "", models.NewAuthenticationError("invalid_token", "unsupported token payload")
	}
	if payload.Subject != s.security.AdminUsername {
		return "", models.NewAuthenticationError("invalid_token", "unknown token subject")
	}
	if time.Now().Unix() >= payload.ExpiresAt {
		return "", models.NewAuthenticationError("token_expired", "token expired")
	}
	return payload.Subject, nil
}

func (s *AuthService) sign(encoded string) string {
	mac := hmac.New(sha256.New, s.signingKey)
	mac.Write([]byte(encoded))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func (s *AuthService) verifyAdminPassword(password string) bool {
	stored := s.security.AdminPassword
	if strings.HasPrefix(stored, "$2a$") || strings.HasPrefix(stored, "$2b$") || strings.HasPrefix(stored, "$2y$") {
		return bcrypt.CompareHashAndPassword([]byte(stored), []byte(password)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(password), []byte(stored)) == 1
}
