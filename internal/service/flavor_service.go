package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/qasim313/Unbrandit/internal/logging"
	"github.com/qasim313/Unbrandit/internal/model"
	"github.com/qasim313/Unbrandit/internal/repository"
)

// FlavorService manages flavors and their append-only snapshot history.
// Existing snapshots are never rewritten; saves and rollbacks append.
type FlavorService struct {
	store    repository.Store
	resolver *BlobResolver
}

func NewFlavorService(store repository.Store, resolver *BlobResolver) *FlavorService {
	return &FlavorService{store: store, resolver: resolver}
}

func (s *FlavorService) Create(ctx context.Context, ownerID, projectID string, req *model.CreateFlavorRequest) (*model.FlavorDetail, error) {
	if _, err := s.store.GetProjectForOwner(ctx, projectID, ownerID); err != nil {
		return nil, storeErr(err)
	}
	cfg, err := s.resolver.Internalize(req.Config)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	flavor := &model.Flavor{ID: uuid.New().String(), ProjectID: projectID, Name: req.Name}
	first := &model.FlavorVersion{ID: uuid.New().String(), Config: cfg}
	if err := s.store.CreateFlavor(ctx, flavor, first); err != nil {
		return nil, fmt.Errorf("failed to save flavor: %w", err)
	}

	logging.Info().Str("flavor_id", flavor.ID).Str("project_id", projectID).Msg("flavor created")
	return &model.FlavorDetail{Flavor: *flavor, CurrentVersion: first}, nil
}

func (s *FlavorService) Get(ctx context.Context, ownerID, id string) (*model.FlavorDetail, error) {
	f, err := s.store.GetFlavorForOwner(ctx, id, ownerID)
	if err != nil {
		return nil, storeErr(err)
	}
	return s.detail(ctx, f)
}

func (s *FlavorService) detail(ctx context.Context, f *model.Flavor) (*model.FlavorDetail, error) {
	out := &model.FlavorDetail{Flavor: *f}
	v, err := s.store.LatestFlavorVersion(ctx, f.ID)
	switch {
	case err == nil:
		out.CurrentVersion = v
	case !errors.Is(err, repository.ErrNotFound):
		return nil, err
	}
	return out, nil
}

func (s *FlavorService) List(ctx context.Context, ownerID, projectID string) ([]model.FlavorDetail, error) {
	if _, err := s.store.GetProjectForOwner(ctx, projectID, ownerID); err != nil {
		return nil, storeErr(err)
	}
	flavors, err := s.store.ListFlavors(ctx, projectID)
	if err != nil {
		return nil, err
	}
	out := make([]model.FlavorDetail, 0, len(flavors))
	for i := range flavors {
		d, err := s.detail(ctx, &flavors[i])
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, nil
}

// SaveConfig appends a new snapshot holding cfg.
func (s *FlavorService) SaveConfig(ctx context.Context, ownerID, id string, cfg model.FlavorConfig) (*model.FlavorVersion, error) {
	if _, err := s.store.GetFlavorForOwner(ctx, id, ownerID); err != nil {
		return nil, storeErr(err)
	}
	return s.appendVersion(ctx, id, cfg)
}

// PatchConfig appends a snapshot on behalf of the toolchain, for example
// after it generated signing material.
func (s *FlavorService) PatchConfig(ctx context.Context, id string, cfg model.FlavorConfig) (*model.FlavorVersion, error) {
	if _, err := s.store.GetFlavor(ctx, id); err != nil {
		return nil, storeErr(err)
	}
	return s.appendVersion(ctx, id, cfg)
}

func (s *FlavorService) appendVersion(ctx context.Context, id string, cfg model.FlavorConfig) (*model.FlavorVersion, error) {
	internal, err := s.resolver.Internalize(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	v, err := s.store.AppendFlavorVersion(ctx, id, internal)
	if err != nil {
		return nil, storeErr(err)
	}
	logging.Info().Str("flavor_id", id).Int("version", v.Version).Msg("flavor snapshot saved")
	return v, nil
}

func (s *FlavorService) Versions(ctx context.Context, ownerID, id string) ([]model.FlavorVersion, error) {
	if _, err := s.store.GetFlavorForOwner(ctx, id, ownerID); err != nil {
		return nil, storeErr(err)
	}
	return s.store.ListFlavorVersions(ctx, id)
}

// Rollback copies the payload of a historical snapshot into a new newest one.
// The target snapshot itself is left as it was.
func (s *FlavorService) Rollback(ctx context.Context, ownerID, id, versionID string) (*model.FlavorVersion, error) {
	if _, err := s.store.GetFlavorForOwner(ctx, id, ownerID); err != nil {
		return nil, storeErr(err)
	}
	target, err := s.store.GetFlavorVersion(ctx, id, versionID)
	if err != nil {
		return nil, storeErr(err)
	}
	cfg, err := target.Config.Clone()
	if err != nil {
		return nil, err
	}
	v, err := s.store.AppendFlavorVersion(ctx, id, cfg)
	if err != nil {
		return nil, storeErr(err)
	}
	logging.Info().Str("flavor_id", id).Int("from_version", target.Version).Int("version", v.Version).Msg("flavor rolled back")
	return v, nil
}

func (s *FlavorService) Delete(ctx context.Context, ownerID, id string) error {
	if _, err := s.store.GetFlavorForOwner(ctx, id, ownerID); err != nil {
		return storeErr(err)
	}
	return storeErr(s.store.DeleteFlavor(ctx, id))
}
