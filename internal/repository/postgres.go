package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/qasim313/Unbrandit/internal/config"
	"github.com/qasim313/Unbrandit/internal/model"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// PostgresStore implements Store on gorm.
type PostgresStore struct {
	db *gorm.DB
}

func NewPostgresStore(cfg config.DatabaseConfig) (*PostgresStore, error) {
	if cfg.DSN == "" {
		return nil, errors.New("empty DSN")
	}
	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(60 * time.Minute)

	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Migrate() error {
	return s.db.AutoMigrate(
		&model.Project{},
		&model.Flavor{},
		&model.FlavorVersion{},
		&model.Build{},
	)
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func mapErr(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// Projects

func (s *PostgresStore) CreateProject(ctx context.Context, p *model.Project) error {
	return s.db.WithContext(ctx).Create(p).Error
}

func (s *PostgresStore) GetProject(ctx context.Context, id string) (*model.Project, error) {
	if !validID(id) {
		return nil, ErrNotFound
	}
	var p model.Project
	if err := s.db.WithContext(ctx).First(&p, "id = ?", id).Error; err != nil {
		return nil, mapErr(err)
	}
	return &p, nil
}

func (s *PostgresStore) GetProjectForOwner(ctx context.Context, id, ownerID string) (*model.Project, error) {
	if !validID(id) {
		return nil, ErrNotFound
	}
	var p model.Project
	err := s.db.WithContext(ctx).
		Where("id = ? AND owner_id = ?", id, ownerID).
		First(&p).Error
	if err != nil {
		return nil, mapErr(err)
	}
	return &p, nil
}

func (s *PostgresStore) ListProjects(ctx context.Context, ownerID string) ([]model.Project, error) {
	var out []model.Project
	err := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at DESC").
		Find(&out).Error
	return out, err
}

func (s *PostgresStore) UpdateProject(ctx context.Context, id string, fn func(*model.Project) error) (*model.Project, error) {
	if !validID(id) {
		return nil, ErrNotFound
	}
	var p model.Project
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&p, "id = ?", id).Error; err != nil {
			return mapErr(err)
		}
		if err := fn(&p); err != nil {
			return err
		}
		p.UpdatedAt = time.Now().UTC()
		return tx.Model(&model.Project{}).Where("id = ?", id).Updates(map[string]interface{}{
			"status":       p.Status,
			"logs":         p.Logs,
			"package_name": p.PackageName,
			"version_name": p.VersionName,
			"version_code": p.VersionCode,
			"app_name":     p.AppName,
			"logo_url":     p.LogoURL,
			"source_url":   p.SourceURL,
			"updated_at":   p.UpdatedAt,
		}).Error
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PostgresStore) DeleteProject(ctx context.Context, id string) error {
	if !validID(id) {
		return ErrNotFound
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		flavorIDs := func() *gorm.DB {
			return tx.Model(&model.Flavor{}).Select("id").Where("project_id = ?", id)
		}
		if err := tx.Where("flavor_id IN (?)", flavorIDs()).Delete(&model.Build{}).Error; err != nil {
			return err
		}
		if err := tx.Where("flavor_id IN (?)", flavorIDs()).Delete(&model.FlavorVersion{}).Error; err != nil {
			return err
		}
		if err := tx.Where("project_id = ?", id).Delete(&model.Flavor{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&model.Project{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// Flavors and snapshots

func (s *PostgresStore) CreateFlavor(ctx context.Context, f *model.Flavor, first *model.FlavorVersion) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(f).Error; err != nil {
			return err
		}
		first.FlavorID = f.ID
		first.Version = 1
		return tx.Create(first).Error
	})
}

func (s *PostgresStore) GetFlavor(ctx context.Context, id string) (*model.Flavor, error) {
	if !validID(id) {
		return nil, ErrNotFound
	}
	var f model.Flavor
	if err := s.db.WithContext(ctx).First(&f, "id = ?", id).Error; err != nil {
		return nil, mapErr(err)
	}
	return &f, nil
}

func (s *PostgresStore) GetFlavorForOwner(ctx context.Context, id, ownerID string) (*model.Flavor, error) {
	if !validID(id) {
		return nil, ErrNotFound
	}
	var f model.Flavor
	err := s.db.WithContext(ctx).
		Joins("JOIN projects ON projects.id = flavors.project_id").
		Where("flavors.id = ? AND projects.owner_id = ?", id, ownerID).
		First(&f).Error
	if err != nil {
		return nil, mapErr(err)
	}
	return &f, nil
}

func (s *PostgresStore) ListFlavors(ctx context.Context, projectID string) ([]model.Flavor, error) {
	var out []model.Flavor
	err := s.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("created_at ASC").
		Find(&out).Error
	return out, err
}

func (s *PostgresStore) DeleteFlavor(ctx context.Context, id string) error {
	if !validID(id) {
		return ErrNotFound
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("flavor_id = ?", id).Delete(&model.Build{}).Error; err != nil {
			return err
		}
		if err := tx.Where("flavor_id = ?", id).Delete(&model.FlavorVersion{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&model.Flavor{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// AppendFlavorVersion locks the flavor row so concurrent saves get distinct
// version numbers.
func (s *PostgresStore) AppendFlavorVersion(ctx context.Context, flavorID string, cfg model.FlavorConfig) (*model.FlavorVersion, error) {
	if !validID(flavorID) {
		return nil, ErrNotFound
	}
	var v model.FlavorVersion
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var f model.Flavor
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&f, "id = ?", flavorID).Error; err != nil {
			return mapErr(err)
		}
		var latest int
		if err := tx.Model(&model.FlavorVersion{}).
			Where("flavor_id = ?", flavorID).
			Select("COALESCE(MAX(version), 0)").
			Scan(&latest).Error; err != nil {
			return err
		}
		v = model.FlavorVersion{
			ID:       uuid.New().String(),
			FlavorID: flavorID,
			Version:  latest + 1,
			Config:   cfg,
		}
		return tx.Create(&v).Error
	})
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (s *PostgresStore) LatestFlavorVersion(ctx context.Context, flavorID string) (*model.FlavorVersion, error) {
	if !validID(flavorID) {
		return nil, ErrNotFound
	}
	var v model.FlavorVersion
	err := s.db.WithContext(ctx).
		Where("flavor_id = ?", flavorID).
		Order("version DESC").
		First(&v).Error
	if err != nil {
		return nil, mapErr(err)
	}
	return &v, nil
}

func (s *PostgresStore) GetFlavorVersion(ctx context.Context, flavorID, versionID string) (*model.FlavorVersion, error) {
	if !validID(flavorID) || !validID(versionID) {
		return nil, ErrNotFound
	}
	var v model.FlavorVersion
	err := s.db.WithContext(ctx).
		Where("id = ? AND flavor_id = ?", versionID, flavorID).
		First(&v).Error
	if err != nil {
		return nil, mapErr(err)
	}
	return &v, nil
}

func (s *PostgresStore) ListFlavorVersions(ctx context.Context, flavorID string) ([]model.FlavorVersion, error) {
	var out []model.FlavorVersion
	err := s.db.WithContext(ctx).
		Where("flavor_id = ?", flavorID).
		Order("version DESC").
		Find(&out).Error
	return out, err
}

// Builds

func (s *PostgresStore) CreateBuild(ctx context.Context, b *model.Build) error {
	return s.db.WithContext(ctx).Create(b).Error
}

func (s *PostgresStore) GetBuild(ctx context.Context, id string) (*model.Build, error) {
	if !validID(id) {
		return nil, ErrNotFound
	}
	var b model.Build
	if err := s.db.WithContext(ctx).First(&b, "id = ?", id).Error; err != nil {
		return nil, mapErr(err)
	}
	return &b, nil
}

func (s *PostgresStore) GetBuildForOwner(ctx context.Context, id, ownerID string) (*model.Build, error) {
	if !validID(id) {
		return nil, ErrNotFound
	}
	var b model.Build
	err := s.db.WithContext(ctx).
		Joins("JOIN flavors ON flavors.id = builds.flavor_id").
		Joins("JOIN projects ON projects.id = flavors.project_id").
		Where("builds.id = ? AND projects.owner_id = ?", id, ownerID).
		First(&b).Error
	if err != nil {
		return nil, mapErr(err)
	}
	return &b, nil
}

func (s *PostgresStore) ListBuilds(ctx context.Context, flavorID string) ([]model.Build, error) {
	var out []model.Build
	err := s.db.WithContext(ctx).
		Where("flavor_id = ?", flavorID).
		Order("created_at DESC").
		Find(&out).Error
	return out, err
}

func (s *PostgresStore) ListBuildsByStatus(ctx context.Context, status model.BuildStatus, updatedBefore time.Time) ([]model.Build, error) {
	var out []model.Build
	err := s.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", status, updatedBefore).
		Order("created_at ASC").
		Find(&out).Error
	return out, err
}

// UpdateBuild holds a row lock for the read-modify-write so concurrent
// callbacks for one build are applied one after another.
func (s *PostgresStore) UpdateBuild(ctx context.Context, id string, fn func(*model.Build) error) (*model.Build, error) {
	if !validID(id) {
		return nil, ErrNotFound
	}
	var b model.Build
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&b, "id = ?", id).Error; err != nil {
			return mapErr(err)
		}
		if err := fn(&b); err != nil {
			return err
		}
		b.UpdatedAt = time.Now().UTC()
		return tx.Model(&model.Build{}).Where("id = ?", id).Updates(map[string]interface{}{
			"status":            b.Status,
			"logs":              b.Logs,
			"download_url":      b.DownloadURL,
			"dispatch_attempts": b.DispatchAttempts,
			"updated_at":        b.UpdatedAt,
		}).Error
	})
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *PostgresStore) DeleteBuild(ctx context.Context, id string) error {
	if !validID(id) {
		return ErrNotFound
	}
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&model.Build{})
	if res.Error != nil {
		return fmt.Errorf("delete build: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
