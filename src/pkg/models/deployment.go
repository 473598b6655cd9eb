package models

// ArtifactStatus is the lifecycle status of an artifact version inside an environment
type ArtifactStatus string

const (
	ArtifactStatusPending   ArtifactStatus = "PENDING"
	ArtifactStatusApproved  ArtifactStatus = "APPROVED"
	ArtifactStatusDeploying ArtifactStatus = "DEPLOYING"
	ArtifactStatusCurrent   ArtifactStatus = "CURRENT"
	ArtifactStatusPrevious  ArtifactStatus = "PREVIOUS"
	ArtifactStatusVetoed    ArtifactStatus = "VETOED"
	ArtifactStatusSkipped   ArtifactStatus = "SKIPPED"
)

// EnvironmentStates is the deployment-state provider's answer for one application
type EnvironmentStates struct {
	Application *Application `json:"application"`
}

// Application holds the requested environments of an application
type Application struct {
	Name         string        `json:"name"`
	Environments []Environment `json:"environments"`
}

// Environment is a named deployment target
type Environment struct {
	Name  string           `json:"name"`
	State EnvironmentState `json:"state"`
}

// EnvironmentState lists the artifacts known to an environment
type EnvironmentState struct {
	Artifacts []Artifact `json:"artifacts"`
}

// Artifact is a deployable unit with its versions
type Artifact struct {
	Name      string            `json:"name"`
	Reference string            `json:"reference"`
	Versions  []ArtifactVersion `json:"versions"`
}

// ArtifactVersion is one build of an artifact and its status in the environment
type ArtifactVersion struct {
	Version     string         `json:"version"`
	BuildNumber *string        `json:"buildNumber"`
	Status      ArtifactStatus `json:"status"`
	GitMetadata *GitMetadata   `json:"gitMetadata"`
}

// GitMetadata ties an artifact version back to source control
type GitMetadata struct {
	Project  *string `json:"project"`
	RepoName *string `json:"repoName"`
	Commit   *string `json:"commit"`
}
