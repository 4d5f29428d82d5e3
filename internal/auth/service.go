package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/vovakirdan/marketwire/internal/store"
)

var (
	// ErrMissingCredential is returned when no bearer token was presented.
	ErrMissingCredential = errors.New("missing credential")
	// ErrInvalidSignature is returned for malformed, forged or expired tokens.
	ErrInvalidSignature = errors.New("invalid signature")
	// ErrUnknownSubject is returned when the token subject is not a known user.
	ErrUnknownSubject = errors.New("unknown subject")
)

// Identity is an authenticated user bound to a connection.
type Identity struct {
	ID   string
	Name string
}

// Service verifies bearer credentials against the user store.
type Service struct {
	users     store.UserStore
	jwtConfig *JWTConfig
}

// NewService creates a new credential verifier.
func NewService(users store.UserStore, jwtConfig *JWTConfig) *Service {
	return &Service{
		users:     users,
		jwtConfig: jwtConfig,
	}
}

// Verify validates a bearer token and resolves its subject to an identity.
// Errors wrap one of ErrMissingCredential, ErrInvalidSignature or ErrUnknownSubject,
// except for user store outages which are returned wrapped as-is.
func (s *Service) Verify(ctx context.Context, token string) (*Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrMissingCredential
	}

	claims, err := ValidateToken(s.jwtConfig, token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if claims.Subject == "" {
		return nil, ErrUnknownSubject
	}

	user, err := s.users.GetUserByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownSubject, claims.Subject)
		}
		return nil, fmt.Errorf("lookup subject: %w", err)
	}

	return &Identity{ID: user.ID, Name: user.Name}, nil
}

// IssueToken mints a token for an existing user. Used by the dev CLI and tests;
// production tokens come from the marketplace login flow.
func (s *Service) IssueToken(ctx context.Context, userID string) (string, error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("lookup user: %w", err)
	}
	token, err := GenerateToken(s.jwtConfig, user.ID, user.Name)
	if err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return token, nil
}

// IsAuthError reports whether err should reject a handshake rather than
// signal a server fault.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrMissingCredential) ||
		errors.Is(err, ErrInvalidSignature) ||
		errors.Is(err, ErrUnknownSubject)
}
