package service

import (
	"context"
	"fmt"

	"github.com/qasim313/Unbrandit/internal/repository"
)

// SubscriptionAuthorizer checks that a live session may watch a build or
// project and returns the snapshot it should start from.
type SubscriptionAuthorizer struct {
	store    repository.Store
	resolver *BlobResolver
}

func NewSubscriptionAuthorizer(store repository.Store, resolver *BlobResolver) *SubscriptionAuthorizer {
	return &SubscriptionAuthorizer{store: store, resolver: resolver}
}

func (a *SubscriptionAuthorizer) Authorize(ctx context.Context, userID, kind, id string) (any, error) {
	var snapshot any
	switch kind {
	case RoomBuild:
		b, err := a.store.GetBuildForOwner(ctx, id, userID)
		if err != nil {
			return nil, storeErr(err)
		}
		snapshot = b
	case RoomProject:
		p, err := a.store.GetProjectForOwner(ctx, id, userID)
		if err != nil {
			return nil, storeErr(err)
		}
		snapshot = p
	default:
		return nil, fmt.Errorf("%w: unknown room %q", ErrValidation, kind)
	}
	return a.resolver.Publicize(snapshot)
}
