package model

import "time"

// Project is the base template a set of flavors derives from.
type Project struct {
	ID          string        `json:"id" gorm:"type:uuid;primaryKey"`
	OwnerID     string        `json:"-" gorm:"index;not null"`
	Name        string        `json:"name" gorm:"not null"`
	ApkURL      string        `json:"apkUrl" gorm:"not null"`
	Status      ProjectStatus `json:"status" gorm:"type:varchar(16);not null"`
	Logs        string        `json:"logs" gorm:"type:text;not null;default:''"`
	PackageName string        `json:"packageName,omitempty"`
	VersionName string        `json:"versionName,omitempty"`
	VersionCode int           `json:"versionCode,omitempty"`
	AppName     string        `json:"appName,omitempty"`
	LogoURL     string        `json:"logoUrl,omitempty"`
	SourceURL   string        `json:"sourceUrl,omitempty"`
	CreatedAt   time.Time     `json:"createdAt"`
	UpdatedAt   time.Time     `json:"updatedAt"`
}

// CreateProjectRequest represents the request to register a base APK
type CreateProjectRequest struct {
	Name   string `json:"name" validate:"required,min=1,max=120"`
	ApkURL string `json:"apkUrl" validate:"required,max=2048"`
}

// ProjectMetadata holds what the decompiler detected in the base APK
type ProjectMetadata struct {
	PackageName string `json:"packageName"`
	VersionName string `json:"versionName"`
	VersionCode int    `json:"versionCode"`
	AppName     string `json:"appName"`
	LogoURL     string `json:"logoUrl"`
	SourceURL   string `json:"sourceUrl"`
}

// ProjectProgressRequest is the worker's decompile progress callback body
type ProjectProgressRequest struct {
	Append   string           `json:"append"`
	Status   *ProjectStatus   `json:"status" validate:"omitempty,oneof=PENDING DECOMPILING READY FAILED"`
	Metadata *ProjectMetadata `json:"metadata"`
}
