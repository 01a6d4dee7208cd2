package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/qasim313/Unbrandit/internal/model"
)

// MemoryStore is a process-local Store for development and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	projects map[string]model.Project
	flavors  map[string]model.Flavor
	versions map[string][]model.FlavorVersion // by flavor id, oldest first
	builds   map[string]model.Build
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		projects: make(map[string]model.Project),
		flavors:  make(map[string]model.Flavor),
		versions: make(map[string][]model.FlavorVersion),
		builds:   make(map[string]model.Build),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source used for timestamps.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Projects

func (s *MemoryStore) CreateProject(_ context.Context, p *model.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	s.projects[p.ID] = *p
	return nil
}

func (s *MemoryStore) GetProject(_ context.Context, id string) (*model.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.projects[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (s *MemoryStore) GetProjectForOwner(ctx context.Context, id, ownerID string) (*model.Project, error) {
	p, err := s.GetProject(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.OwnerID != ownerID {
		return nil, ErrNotFound
	}
	return p, nil
}

func (s *MemoryStore) ListProjects(_ context.Context, ownerID string) ([]model.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []model.Project{}
	for _, p := range s.projects {
		if p.OwnerID == ownerID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) UpdateProject(_ context.Context, id string, fn func(*model.Project) error) (*model.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.projects[id]
	if !ok {
		return nil, ErrNotFound
	}
	work := stored
	if err := fn(&work); err != nil {
		return nil, err
	}
	stored.Status = work.Status
	stored.Logs = work.Logs
	stored.PackageName = work.PackageName
	stored.VersionName = work.VersionName
	stored.VersionCode = work.VersionCode
	stored.AppName = work.AppName
	stored.LogoURL = work.LogoURL
	stored.SourceURL = work.SourceURL
	stored.UpdatedAt = s.now()
	s.projects[id] = stored
	return &stored, nil
}

func (s *MemoryStore) DeleteProject(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[id]; !ok {
		return ErrNotFound
	}
	for fid, f := range s.flavors {
		if f.ProjectID == id {
			s.deleteFlavorLocked(fid)
		}
	}
	delete(s.projects, id)
	return nil
}

// Flavors and snapshots

func (s *MemoryStore) CreateFlavor(_ context.Context, f *model.Flavor, first *model.FlavorVersion) error {
	cfg, err := first.Config.Clone()
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if f.CreatedAt.IsZero() {
		f.CreatedAt = now
	}
	first.FlavorID = f.ID
	first.Version = 1
	first.CreatedAt = now
	stored := *first
	stored.Config = cfg
	s.flavors[f.ID] = *f
	s.versions[f.ID] = []model.FlavorVersion{stored}
	return nil
}

func (s *MemoryStore) GetFlavor(_ context.Context, id string) (*model.Flavor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.flavors[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &f, nil
}

func (s *MemoryStore) GetFlavorForOwner(_ context.Context, id, ownerID string) (*model.Flavor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.flavors[id]
	if !ok {
		return nil, ErrNotFound
	}
	if p, ok := s.projects[f.ProjectID]; !ok || p.OwnerID != ownerID {
		return nil, ErrNotFound
	}
	return &f, nil
}

func (s *MemoryStore) ListFlavors(_ context.Context, projectID string) ([]model.Flavor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []model.Flavor{}
	for _, f := range s.flavors {
		if f.ProjectID == projectID {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) DeleteFlavor(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.flavors[id]; !ok {
		return ErrNotFound
	}
	s.deleteFlavorLocked(id)
	return nil
}

func (s *MemoryStore) deleteFlavorLocked(id string) {
	for bid, b := range s.builds {
		if b.FlavorID == id {
			delete(s.builds, bid)
		}
	}
	delete(s.versions, id)
	delete(s.flavors, id)
}

func (s *MemoryStore) AppendFlavorVersion(_ context.Context, flavorID string, cfg model.FlavorConfig) (*model.FlavorVersion, error) {
	cloned, err := cfg.Clone()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.flavors[flavorID]; !ok {
		return nil, ErrNotFound
	}
	history := s.versions[flavorID]
	next := 1
	if len(history) > 0 {
		next = history[len(history)-1].Version + 1
	}
	v := model.FlavorVersion{
		ID:        uuid.New().String(),
		FlavorID:  flavorID,
		Version:   next,
		Config:    cloned,
		CreatedAt: s.now(),
	}
	s.versions[flavorID] = append(history, v)
	return copyVersion(v)
}

func (s *MemoryStore) LatestFlavorVersion(_ context.Context, flavorID string) (*model.FlavorVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	history := s.versions[flavorID]
	if len(history) == 0 {
		return nil, ErrNotFound
	}
	return copyVersion(history[len(history)-1])
}

func (s *MemoryStore) GetFlavorVersion(_ context.Context, flavorID, versionID string) (*model.FlavorVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, v := range s.versions[flavorID] {
		if v.ID == versionID {
			return copyVersion(v)
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) ListFlavorVersions(_ context.Context, flavorID string) ([]model.FlavorVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	history := s.versions[flavorID]
	out := make([]model.FlavorVersion, 0, len(history))
	for i := len(history) - 1; i >= 0; i-- {
		v, err := copyVersion(history[i])
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	return out, nil
}

// copyVersion detaches the returned snapshot from the stored one.
func copyVersion(v model.FlavorVersion) (*model.FlavorVersion, error) {
	cfg, err := v.Config.Clone()
	if err != nil {
		return nil, err
	}
	v.Config = cfg
	return &v, nil
}

// Builds

func (s *MemoryStore) CreateBuild(_ context.Context, b *model.Build) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	if b.UpdatedAt.IsZero() {
		b.UpdatedAt = now
	}
	s.builds[b.ID] = *b
	return nil
}

func (s *MemoryStore) GetBuild(_ context.Context, id string) (*model.Build, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.builds[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &b, nil
}

func (s *MemoryStore) GetBuildForOwner(_ context.Context, id, ownerID string) (*model.Build, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.builds[id]
	if !ok {
		return nil, ErrNotFound
	}
	f, ok := s.flavors[b.FlavorID]
	if !ok {
		return nil, ErrNotFound
	}
	if p, ok := s.projects[f.ProjectID]; !ok || p.OwnerID != ownerID {
		return nil, ErrNotFound
	}
	return &b, nil
}

func (s *MemoryStore) ListBuilds(_ context.Context, flavorID string) ([]model.Build, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []model.Build{}
	for _, b := range s.builds {
		if b.FlavorID == flavorID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) ListBuildsByStatus(_ context.Context, status model.BuildStatus, updatedBefore time.Time) ([]model.Build, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []model.Build{}
	for _, b := range s.builds {
		if b.Status == status && b.UpdatedAt.Before(updatedBefore) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) UpdateBuild(_ context.Context, id string, fn func(*model.Build) error) (*model.Build, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.builds[id]
	if !ok {
		return nil, ErrNotFound
	}
	work := stored
	if err := fn(&work); err != nil {
		return nil, err
	}
	stored.Status = work.Status
	stored.Logs = work.Logs
	stored.DownloadURL = work.DownloadURL
	stored.DispatchAttempts = work.DispatchAttempts
	stored.UpdatedAt = s.now()
	s.builds[id] = stored
	return &stored, nil
}

func (s *MemoryStore) DeleteBuild(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.builds[id]; !ok {
		return ErrNotFound
	}
	delete(s.builds, id)
	return nil
}
