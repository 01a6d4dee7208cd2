package model

// Build status
type BuildStatus string

const (
	BuildStatusQueued  BuildStatus = "QUEUED"
	BuildStatusRunning BuildStatus = "RUNNING"
	BuildStatusSuccess BuildStatus = "SUCCESS"
	BuildStatusFailed  BuildStatus = "FAILED"
)

var ValidBuildStatuses = []BuildStatus{
	BuildStatusQueued, BuildStatusRunning, BuildStatusSuccess, BuildStatusFailed,
}

// IsTerminal reports whether no further lifecycle change is accepted.
func (s BuildStatus) IsTerminal() bool {
	return s == BuildStatusSuccess || s == BuildStatusFailed
}

// CanTransitionTo reports whether a build in status s may move to next.
// Re-reporting the current non-terminal status is allowed so the worker can
// append logs while echoing RUNNING. QUEUED may fail directly when the
// worker was never reached.
func (s BuildStatus) CanTransitionTo(next BuildStatus) bool {
	switch s {
	case BuildStatusQueued:
		return next == BuildStatusQueued || next == BuildStatusRunning || next == BuildStatusFailed
	case BuildStatusRunning:
		return next == BuildStatusRunning || next == BuildStatusSuccess || next == BuildStatusFailed
	default:
		return false
	}
}

// Source kinds
type SourceType string

const (
	SourceTypeAPK           SourceType = "APK"
	SourceTypeSourceArchive SourceType = "SOURCE_ARCHIVE"
)

// Output kinds
type OutputKind string

const (
	OutputKindAPK  OutputKind = "APK"
	OutputKindAAB  OutputKind = "AAB"
	OutputKindBoth OutputKind = "BOTH"
)

// Project status
type ProjectStatus string

const (
	ProjectStatusPending     ProjectStatus = "PENDING"
	ProjectStatusDecompiling ProjectStatus = "DECOMPILING"
	ProjectStatusReady       ProjectStatus = "READY"
	ProjectStatusFailed      ProjectStatus = "FAILED"
)

func (s ProjectStatus) IsTerminal() bool {
	return s == ProjectStatusReady || s == ProjectStatusFailed
}

// CanTransitionTo mirrors the build rules for the decompile lifecycle.
func (s ProjectStatus) CanTransitionTo(next ProjectStatus) bool {
	switch s {
	case ProjectStatusPending:
		return next == ProjectStatusPending || next == ProjectStatusDecompiling || next == ProjectStatusFailed
	case ProjectStatusDecompiling:
		return next == ProjectStatusDecompiling || next == ProjectStatusReady || next == ProjectStatusFailed
	default:
		return false
	}
}

// Override types
type OverrideType string

const (
	OverrideTypeString   OverrideType = "string"
	OverrideTypeResource OverrideType = "resource"
)
