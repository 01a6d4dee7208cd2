package model

import "time"

// Build is one tracked attempt to produce an artifact for a flavor.
// FlavorID, FlavorVersionID, SourceURL, SourceType and BuildType never change
// after creation.
type Build struct {
	ID               string      `json:"id" gorm:"type:uuid;primaryKey"`
	FlavorID         string      `json:"flavorId" gorm:"type:uuid;index;not null"`
	FlavorVersionID  *string     `json:"flavorVersionId" gorm:"type:uuid"`
	SourceURL        string      `json:"sourceUrl" gorm:"not null"`
	SourceType       SourceType  `json:"sourceType" gorm:"type:varchar(32);not null"`
	BuildType        OutputKind  `json:"buildType" gorm:"type:varchar(16);not null"`
	Status           BuildStatus `json:"status" gorm:"type:varchar(16);index;not null"`
	Logs             string      `json:"logs" gorm:"type:text;not null;default:''"`
	DownloadURL      *string     `json:"downloadUrl"`
	DispatchAttempts int         `json:"dispatchAttempts" gorm:"not null;default:0"`
	CreatedAt        time.Time   `json:"createdAt"`
	UpdatedAt        time.Time   `json:"updatedAt" gorm:"index"`
}

// BuildStartRequest represents the request to enqueue a build
type BuildStartRequest struct {
	FlavorID   string     `json:"flavorId" validate:"required,uuid"`
	BuildType  OutputKind `json:"buildType" validate:"required,oneof=APK AAB BOTH"`
	SourceURL  string     `json:"sourceUrl" validate:"omitempty,max=2048"`
	SourceType SourceType `json:"sourceType" validate:"omitempty,oneof=APK SOURCE_ARCHIVE"`
}

// BuildProgressRequest is the worker's progress callback body
type BuildProgressRequest struct {
	Append      string       `json:"append"`
	Status      *BuildStatus `json:"status" validate:"omitempty,oneof=QUEUED RUNNING SUCCESS FAILED"`
	DownloadURL *string      `json:"downloadUrl" validate:"omitempty,max=2048"`
}

// BuildLogsResponse is returned when logs are cleared
type BuildLogsResponse struct {
	ID   string `json:"id"`
	Logs string `json:"logs"`
}
