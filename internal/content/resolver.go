// Package content resolves the latest generated content for a recipient.
package content

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"jarvisdaily/internal/domain"
)

type ResolverConfig struct {
	Store domain.ContentStore
	// Directory maps phones to advisor ids. When nil the canonical phone is
	// the advisor id.
	Directory   domain.RecipientDirectory
	CountryCode string
	Logger      *slog.Logger
}

// Resolver finds the bundle to deliver for an inbound recipient id.
type Resolver struct {
	store       domain.ContentStore
	directory   domain.RecipientDirectory
	countryCode string
	logger      *slog.Logger
}

func NewResolver(cfg ResolverConfig) *Resolver {
	if cfg.CountryCode == "" {
		cfg.CountryCode = DefaultCountryCode
	}
	return &Resolver{
		store:       cfg.Store,
		directory:   cfg.Directory,
		countryCode: cfg.CountryCode,
		logger:      cfg.Logger,
	}
}

// Resolve returns the most recent bundle for recipientID, or an error
// matching domain.ErrNotFound when the recipient is unknown or has no
// content yet.
func (r *Resolver) Resolve(ctx context.Context, recipientID string) (*domain.ContentBundle, error) {
	phone, err := CanonicalPhone(recipientID, r.countryCode)
	if err != nil {
		return nil, fmt.Errorf("recipient %q: %w", recipientID, domain.ErrNotFound)
	}

	advisorID := phone
	if r.directory != nil {
		advisorID, err = r.directory.LookupAdvisor(ctx, phone)
		if errors.Is(err, domain.ErrNotFound) {
			r.logger.Debug("recipient not in directory", "phone", phone)
			return nil, err
		}
		if err != nil {
			return nil, fmt.Errorf("lookup advisor for %s: %w", phone, err)
		}
	}

	bundle, err := r.store.LatestBundle(ctx, advisorID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("latest bundle for %s: %w", advisorID, err)
	}
	return bundle, nil
}

// CanonicalID exposes the canonical form used for lookups.
func (r *Resolver) CanonicalID(recipientID string) (string, error) {
	return CanonicalPhone(recipientID, r.countryCode)
}
