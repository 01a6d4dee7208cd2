package model

import (
	"encoding/json"
	"time"
)

// Flavor is a named branding variant of a project. Its current configuration
// is always its newest FlavorVersion.
type Flavor struct {
	ID        string    `json:"id" gorm:"type:uuid;primaryKey"`
	ProjectID string    `json:"projectId" gorm:"type:uuid;index;not null"`
	Name      string    `json:"name" gorm:"not null"`
	CreatedAt time.Time `json:"createdAt"`
}

// FlavorVersion is an immutable snapshot of a flavor's configuration.
type FlavorVersion struct {
	ID        string       `json:"id" gorm:"type:uuid;primaryKey"`
	FlavorID  string       `json:"flavorId" gorm:"type:uuid;not null;uniqueIndex:idx_flavor_version"`
	Version   int          `json:"version" gorm:"not null;uniqueIndex:idx_flavor_version"`
	Config    FlavorConfig `json:"config" gorm:"type:jsonb;serializer:json;not null"`
	CreatedAt time.Time    `json:"createdAt"`
}

// FlavorDetail is a flavor together with its current snapshot
type FlavorDetail struct {
	Flavor
	CurrentVersion *FlavorVersion `json:"currentVersion"`
}

// FlavorConfig is the branding payload frozen into each snapshot.
// Top-level keys it does not know are kept in Extra and written back verbatim.
type FlavorConfig struct {
	App       AppConfig                  `json:"app"`
	Branding  BrandingConfig             `json:"branding"`
	Services  map[string]any             `json:"services,omitempty"`
	Signing   *SigningConfig             `json:"signing,omitempty"`
	Overrides []Override                 `json:"overrides,omitempty" validate:"omitempty,dive"`
	Extra     map[string]json.RawMessage `json:"-"`
}

type AppConfig struct {
	Name                  string      `json:"name,omitempty" validate:"omitempty,max=120"`
	ApplicationID         string      `json:"applicationId,omitempty" validate:"omitempty,android_package"`
	VersionCode           json.Number `json:"versionCode,omitempty"`
	VersionName           string      `json:"versionName,omitempty" validate:"omitempty,max=64"`
	PrimaryColor          string      `json:"primaryColor,omitempty" validate:"omitempty,hexcolor"`
	SplashBackgroundColor string      `json:"splashBackgroundColor,omitempty" validate:"omitempty,hexcolor"`
}

type BrandingConfig struct {
	LogoURL string `json:"logoUrl,omitempty"`
}

type SigningConfig struct {
	KeystoreURL      string `json:"keystoreUrl,omitempty"`
	KeystorePassword string `json:"keystorePassword,omitempty"`
	KeyAlias         string `json:"keyAlias,omitempty"`
	KeyPassword      string `json:"keyPassword,omitempty"`
	DName            string `json:"dname,omitempty"`
}

// Override is a literal search/replace applied to strings or resource files
type Override struct {
	Type    OverrideType `json:"type" validate:"required,oneof=string resource"`
	Search  string       `json:"search" validate:"required"`
	Replace string       `json:"replace"`
}

var knownConfigKeys = map[string]bool{
	"app": true, "branding": true, "services": true, "signing": true, "overrides": true,
}

// flavorConfigAlias drops the methods so the default codec can be reused.
type flavorConfigAlias FlavorConfig

func (c FlavorConfig) MarshalJSON() ([]byte, error) {
	base, err := json.Marshal(flavorConfigAlias(c))
	if err != nil {
		return nil, err
	}
	if len(c.Extra) == 0 {
		return base, nil
	}
	merged := make(map[string]json.RawMessage, len(c.Extra)+len(knownConfigKeys))
	for k, v := range c.Extra {
		if !knownConfigKeys[k] {
			merged[k] = v
		}
	}
	var typed map[string]json.RawMessage
	if err := json.Unmarshal(base, &typed); err != nil {
		return nil, err
	}
	for k, v := range typed {
		merged[k] = v
	}
	return json.Marshal(merged)
}

func (c *FlavorConfig) UnmarshalJSON(data []byte) error {
	var typed flavorConfigAlias
	if err := json.Unmarshal(data, &typed); err != nil {
		return err
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	for k := range knownConfigKeys {
		delete(all, k)
	}
	if len(all) > 0 {
		typed.Extra = all
	}
	*c = FlavorConfig(typed)
	return nil
}

// Clone returns a deep copy, so a snapshot never shares maps with its source.
func (c FlavorConfig) Clone() (FlavorConfig, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return FlavorConfig{}, err
	}
	var out FlavorConfig
	if err := json.Unmarshal(data, &out); err != nil {
		return FlavorConfig{}, err
	}
	return out, nil
}

// CreateFlavorRequest represents the request to add a flavor to a project
type CreateFlavorRequest struct {
	Name   string       `json:"name" validate:"required,min=1,max=120"`
	Config FlavorConfig `json:"config"`
}

// SaveFlavorConfigRequest replaces the current configuration with a new snapshot
type SaveFlavorConfigRequest struct {
	Config FlavorConfig `json:"config"`
}

// RollbackFlavorRequest copies a historical snapshot into a new newest one
type RollbackFlavorRequest struct {
	VersionID string `json:"versionId" validate:"required,uuid"`
}
