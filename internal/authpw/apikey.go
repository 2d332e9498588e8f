package authpw

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"canvas/api/internal/store"
)

const maskRunes = "••••••••••••"

// APIKeyStatus is everything the client may learn about a stored key.
type APIKeyStatus struct {
	HasKey    bool   `json:"hasKey"`
	MaskedKey string `json:"maskedKey"`
}

// Mask shows the first and last four characters of key. Keys shorter than
// eight characters are hidden entirely.
func Mask(key string) string {
	runes := []rune(key)
	if len(runes) < 8 {
		return "••••••••••••••••"
	}
	return string(runes[:4]) + maskRunes + string(runes[len(runes)-4:])
}

// SetAPIKey encrypts and stores key, returning its masked form.
func (s *Service) SetAPIKey(ctx context.Context, userID, key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", invalid("apiKey", "apiKey is required")
	}
	sealed, err := s.box.Seal(key)
	if err != nil {
		return "", fmt.Errorf("encrypt api key: %w", err)
	}
	if err := s.store.SetUserAPIKey(ctx, userID, sealed); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("store api key: %w", err)
	}
	return Mask(key), nil
}

func (s *Service) APIKeyStatus(ctx context.Context, userID string) (APIKeyStatus, error) {
	key, err := s.APIKey(ctx, userID)
	if errors.Is(err, ErrNoAPIKey) {
		return APIKeyStatus{}, nil
	}
	if err != nil {
		return APIKeyStatus{}, err
	}
	return APIKeyStatus{HasKey: true, MaskedKey: Mask(key)}, nil
}

func (s *Service) RemoveAPIKey(ctx context.Context, userID string) error {
	if err := s.store.SetUserAPIKey(ctx, userID, ""); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("remove api key: %w", err)
	}
	return nil
}

// APIKey returns the decrypted key for server-side use only.
func (s *Service) APIKey(ctx context.Context, userID string) (string, error) {
	user, err := s.Get(ctx, userID)
	if err != nil {
		return "", err
	}
	if user.EncryptedAPIKey == "" {
		return "", ErrNoAPIKey
	}
	key, err := s.box.Open(user.EncryptedAPIKey)
	if err != nil {
		return "", fmt.Errorf("decrypt api key: %w", err)
	}
	return key, nil
}
