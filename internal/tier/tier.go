// Package tier resolves subscription tiers from granted user features.
package tier

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"pulsewatch/internal/apperr"
	"pulsewatch/internal/config"
	"pulsewatch/internal/storage"
)

// Limits is the quota and interval policy that applies to one user.
type Limits struct {
	Premium     bool
	MaxMonitors int
	MinInterval time.Duration
	MaxInterval time.Duration
}

// Service answers feature and tier lookups against user_features.
type Service struct {
	cfg      config.TiersConfig
	features *storage.Repository[storage.UserFeature]

	// Now is the clock used to expire grants.
	Now func() time.Time
}

// NewService creates a tier service.
func NewService(cfg config.TiersConfig, repos *storage.Repositories) *Service {
	return &Service{cfg: cfg, features: repos.UserFeatures, Now: time.Now}
}

// HasFeature reports whether userID holds a non-expired grant of featureID.
func (s *Service) HasFeature(ctx context.Context, userID, featureID string) (bool, error) {
	n, err := s.features.Count(ctx,
		"user_id = ? AND feature_id = ? AND (expires_at IS NULL OR expires_at > ?)",
		userID, featureID, storage.Millis(s.Now()),
	)
	if err != nil {
		return false, fmt.Errorf("failed to look up feature %s: %w", featureID, err)
	}
	return n > 0, nil
}

// IsPremium reports whether userID holds the premium feature.
func (s *Service) IsPremium(ctx context.Context, userID string) (bool, error) {
	return s.HasFeature(ctx, userID, s.cfg.PremiumFeature)
}

// Limits resolves the policy for userID.
func (s *Service) Limits(ctx context.Context, userID string) (Limits, error) {
	premium, err := s.IsPremium(ctx, userID)
	if err != nil {
		return Limits{}, err
	}

	tier := s.cfg.Free
	if premium {
		tier = s.cfg.Premium
	}
	return Limits{
		Premium:     premium,
		MaxMonitors: tier.MaxMonitors,
		MinInterval: tier.MinInterval,
		MaxInterval: s.cfg.MaxInterval,
	}, nil
}

// Grant gives featureID to userID, replacing any earlier grant.
// A nil expiresAt grants the feature indefinitely.
func (s *Service) Grant(ctx context.Context, userID, featureID string, expiresAt *time.Time) error {
	if userID == "" || featureID == "" {
		return apperr.Invalidf("user and feature are required")
	}

	existing, err := s.features.First(ctx, "user_id = ? AND feature_id = ?", userID, featureID)
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		grant := &storage.UserFeature{UserID: userID, FeatureID: featureID, ExpiresAt: expiresAt}
		if _, err := s.features.Create(ctx, grant); err != nil {
			return err
		}
	case err != nil:
		return err
	default:
		if _, err := s.features.UpdateColumns(ctx, existing.ID, map[string]any{"expires_at": expiresAt}); err != nil {
			return err
		}
	}

	log.Info().Str("user_id", userID).Str("feature_id", featureID).Msg("Feature granted")
	return nil
}

// Revoke removes featureID from userID. Revoking a missing grant is not an error.
func (s *Service) Revoke(ctx context.Context, userID, featureID string) error {
	n, err := s.features.DeleteWhere(ctx, "user_id = ? AND feature_id = ?", userID, featureID)
	if err != nil {
		return err
	}
	if n > 0 {
		log.Info().Str("user_id", userID).Str("feature_id", featureID).Msg("Feature revoked")
	}
	return nil
}
