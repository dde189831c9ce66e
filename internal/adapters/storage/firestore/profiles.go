package firestore

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/rmaldonado/avachat/internal/domain"
	"github.com/rmaldonado/avachat/internal/observability"
)

// Profiles implements domain.ProfileStore.
type Profiles struct {
	s *Store
}

func (p *Profiles) doc(userID domain.UserID) *firestore.DocumentRef {
	return p.s.client.Collection("profiles").Doc(string(userID))
}

func (p *Profiles) Get(ctx context.Context, userID domain.UserID) (*domain.Profile, error) {
	snap, err := p.doc(userID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("firestore get profile: %w", err)
	}
	return decodeProfile(snap, userID)
}

// CreateIfAbsent writes the profile defaults inside a transaction, so a
// concurrent bootstrap on another device cannot overwrite remote state
// that already exists.
func (p *Profiles) CreateIfAbsent(ctx context.Context, profile *domain.Profile) error {
	ref := p.doc(profile.UserID)

	err := p.s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		_, err := tx.Get(ref)
		if err == nil {
			// Record exists; existing fields win.
			return nil
		}
		if status.Code(err) != codes.NotFound {
			return err
		}
		return tx.Create(ref, profileDoc{
			OnboardingComplete: profile.OnboardingComplete,
			ProfileColor:       profile.ProfileColor,
			CreationAppVersion: profile.CreationAppVersion,
		})
	})
	if err != nil {
		return fmt.Errorf("firestore create profile if absent: %w", err)
	}
	return nil
}

func (p *Profiles) SetOnboardingComplete(ctx context.Context, userID domain.UserID, complete bool) error {
	_, err := p.doc(userID).Update(ctx, []firestore.Update{
		{Path: "onboarding_complete", Value: complete},
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return domain.ErrNotFound
		}
		return fmt.Errorf("firestore set onboarding complete: %w", err)
	}
	return nil
}

func (p *Profiles) Delete(ctx context.Context, userID domain.UserID) error {
	// Doc deletes succeed whether or not the doc exists, which is exactly
	// the idempotency the cascade relies on.
	if _, err := p.doc(userID).Delete(ctx); err != nil {
		return fmt.Errorf("firestore delete profile: %w", err)
	}
	return nil
}

func (p *Profiles) Watch(ctx context.Context, userID domain.UserID, fn func(*domain.Profile)) (func(), error) {
	wctx, cancel := context.WithCancel(ctx)
	it := p.doc(userID).Snapshots(wctx)

	go func() {
		defer it.Stop()
		for {
			snap, err := it.Next()
			if err != nil {
				if status.Code(err) != codes.Canceled {
					observability.Logger().Error("profile snapshot stream ended", "user_id", userID, "error", err)
				}
				return
			}
			if !snap.Exists() {
				fn(nil)
				continue
			}
			profile, err := decodeProfile(snap, userID)
			if err != nil {
				observability.Logger().Error("decode profile snapshot", "user_id", userID, "error", err)
				continue
			}
			fn(profile)
		}
	}()

	return cancel, nil
}

func decodeProfile(snap *firestore.DocumentSnapshot, userID domain.UserID) (*domain.Profile, error) {
	var doc profileDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("decode profileDoc: %w", err)
	}
	return &domain.Profile{
		UserID:             userID,
		OnboardingComplete: doc.OnboardingComplete,
		ProfileColor:       doc.ProfileColor,
		CreationAppVersion: doc.CreationAppVersion,
	}, nil
}

// compile-time interface check
var _ domain.ProfileStore = (*Profiles)(nil)
