package model

// BuildJobPayload is the frozen job handed to the toolchain worker.
// Config is the snapshot content at dispatch time, never a live lookup.
type BuildJobPayload struct {
	BuildID          string       `json:"buildId"`
	FlavorID         string       `json:"flavorId"`
	SourceURL        string       `json:"sourceUrl"`
	SourceType       SourceType   `json:"sourceType"`
	Config           FlavorConfig `json:"config"`
	BuildType        OutputKind   `json:"buildType"`
	ProjectSourceURL string       `json:"projectSourceUrl,omitempty"`
}

// DecompileJobPayload asks the toolchain worker to analyse a base APK
type DecompileJobPayload struct {
	ProjectID string `json:"projectId"`
	ApkURL    string `json:"apkUrl"`
}
