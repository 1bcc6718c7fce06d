// Package identity verifies who is booking: one-time codes sent to a phone
// number, or an ID token from a federated provider.
package identity

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rshare/ride-booking-system/shared/models"
	"github.com/rshare/ride-booking-system/shared/validation"
	"go.uber.org/zap"
)

const (
	// CodeLength is the number of digits in a one-time code
	CodeLength = 6
	// DefaultCodeTTL is how long a sent code stays valid
	DefaultCodeTTL = 5 * time.Minute
	// MaxConfirmAttempts is how many wrong codes a handle survives
	MaxConfirmAttempts = 5
)

// Gateway is the identity provider used by the login stage
type Gateway interface {
	RequestCode(ctx context.Context, verifier *Verifier, phone models.PhoneNumber) (string, error)
	ConfirmCode(ctx context.Context, handle, code string) (string, error)
	FederatedSignIn(ctx context.Context, idToken string) (string, error)
}

// TokenVerifier checks a federated ID token and returns the display identity
type TokenVerifier interface {
	Verify(ctx context.Context, idToken string) (string, error)
}

// Service implements Gateway on a code store, a code sender and an optional
// federated token verifier
type Service struct {
	store  CodeStore
	sender Sender
	tokens TokenVerifier
	ttl    time.Duration
	logger *zap.Logger
}

var _ Gateway = (*Service)(nil)

// NewService creates the identity gateway. tokens may be nil, in which
// case federated sign-in is rejected.
func NewService(store CodeStore, sender Sender, tokens TokenVerifier, ttl time.Duration, logger *zap.Logger) *Service {
	if ttl <= 0 {
		ttl = DefaultCodeTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:  store,
		sender: sender,
		tokens: tokens,
		ttl:    ttl,
		logger: logger,
	}
}

// RequestCode sends a fresh code to the phone and returns the handle it is
// stored under
func (s *Service) RequestCode(ctx context.Context, verifier *Verifier, phone models.PhoneNumber) (string, error) {
	number, err := validation.Phone(phone.CountryCode, phone.Number)
	if err != nil {
		return "", err
	}
	if verifier != nil {
		if err := verifier.Verify(ctx); err != nil {
			return "", err
		}
	}

	code, err := generateCode(CodeLength)
	if err != nil {
		return "", fmt.Errorf("failed to generate code: %w", err)
	}
	handle := uuid.NewString()

	if err := s.store.Save(ctx, handle, CodeEntry{Code: code, Identity: number.String()}, s.ttl); err != nil {
		return "", fmt.Errorf("failed to store code: %w", err)
	}
	if err := s.sender.Send(ctx, number.E164(), code, s.ttl); err != nil {
		_ = s.store.Delete(ctx, handle)
		return "", &models.GatewayError{Message: "Could not send the verification code. Please try again.", Err: err}
	}

	s.logger.Info("Verification code sent", zap.String("handle", handle), zap.String("phone", maskPhone(number.E164())))
	return handle, nil
}

// ConfirmCode checks a code against the handle. A matching code is
// consumed; too many wrong codes invalidate the handle.
func (s *Service) ConfirmCode(ctx context.Context, handle, code string) (string, error) {
	if handle == "" {
		return "", models.ErrInvalidOrExpiredCode
	}
	entry, err := s.store.Get(ctx, handle)
	if err != nil {
		if errors.Is(err, ErrCodeNotFound) {
			return "", models.ErrInvalidOrExpiredCode
		}
		return "", fmt.Errorf("failed to load code: %w", err)
	}

	if subtle.ConstantTimeCompare([]byte(entry.Code), []byte(strings.TrimSpace(code))) != 1 {
		attempts, err := s.store.IncrementAttempts(ctx, handle)
		if err != nil {
			s.logger.Warn("Failed to count code attempt", zap.String("handle", handle), zap.Error(err))
		}
		if attempts >= MaxConfirmAttempts {
			_ = s.store.Delete(ctx, handle)
			s.logger.Warn("Code invalidated after repeated failures", zap.String("handle", handle))
		}
		return "", models.ErrInvalidOrExpiredCode
	}

	if err := s.store.Delete(ctx, handle); err != nil {
		s.logger.Error("Failed to delete code after verification", zap.String("handle", handle), zap.Error(err))
	}
	return entry.Identity, nil
}

// FederatedSignIn verifies a provider ID token
func (s *Service) FederatedSignIn(ctx context.Context, idToken string) (string, error) {
	if s.tokens == nil {
		return "", &models.GatewayError{Message: "Federated sign-in is not available."}
	}
	if strings.TrimSpace(idToken) == "" {
		return "", &models.GatewayError{Message: "Sign-in was cancelled."}
	}
	return s.tokens.Verify(ctx, idToken)
}

func generateCode(length int) (string, error) {
	limit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(length)), nil)
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", length, n.Int64()), nil
}

func maskPhone(phone string) string {
	if len(phone) <= 4 {
		return phone
	}
	return strings.Repeat("*", len(phone)-4) + phone[len(phone)-4:]
}
