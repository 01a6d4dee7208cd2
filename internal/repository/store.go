// Package repository persists projects, flavors, config snapshots and builds.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/qasim313/Unbrandit/internal/model"
)

var ErrNotFound = errors.New("record not found")

// Store is the typed record store behind the services. UpdateBuild and
// UpdateProject run fn on the current row inside a transaction and persist
// only the mutable lifecycle columns; a non-nil error from fn aborts the
// write and is returned unchanged.
type Store interface {
	CreateProject(ctx context.Context, p *model.Project) error
	GetProject(ctx context.Context, id string) (*model.Project, error)
	GetProjectForOwner(ctx context.Context, id, ownerID string) (*model.Project, error)
	ListProjects(ctx context.Context, ownerID string) ([]model.Project, error)
	UpdateProject(ctx context.Context, id string, fn func(*model.Project) error) (*model.Project, error)
	DeleteProject(ctx context.Context, id string) error

	CreateFlavor(ctx context.Context, f *model.Flavor, first *model.FlavorVersion) error
	GetFlavor(ctx context.Context, id string) (*model.Flavor, error)
	GetFlavorForOwner(ctx context.Context, id, ownerID string) (*model.Flavor, error)
	ListFlavors(ctx context.Context, projectID string) ([]model.Flavor, error)
	DeleteFlavor(ctx context.Context, id string) error

	AppendFlavorVersion(ctx context.Context, flavorID string, cfg model.FlavorConfig) (*model.FlavorVersion, error)
	LatestFlavorVersion(ctx context.Context, flavorID string) (*model.FlavorVersion, error)
	GetFlavorVersion(ctx context.Context, flavorID, versionID string) (*model.FlavorVersion, error)
	ListFlavorVersions(ctx context.Context, flavorID string) ([]model.FlavorVersion, error)

	CreateBuild(ctx context.Context, b *model.Build) error
	GetBuild(ctx context.Context, id string) (*model.Build, error)
	GetBuildForOwner(ctx context.Context, id, ownerID string) (*model.Build, error)
	ListBuilds(ctx context.Context, flavorID string) ([]model.Build, error)
	ListBuildsByStatus(ctx context.Context, status model.BuildStatus, updatedBefore time.Time) ([]model.Build, error)
	UpdateBuild(ctx context.Context, id string, fn func(*model.Build) error) (*model.Build, error)
	DeleteBuild(ctx context.Context, id string) error
}

// validID rejects ids that could never exist so lookups map them to not-found.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
