package changelog

import (
	"errors"
	"fmt"
)

// Resolution failures. Every one is a distinct condition and can be matched with errors.Is.
var (
	ErrApplicationNotFound      = errors.New("application not found")
	ErrEnvironmentNotFound      = errors.New("environment not found")
	ErrNoArtifactsInEnvironment = errors.New("no artifacts in environment")
	ErrNoPendingVersion         = errors.New("no pending version")
	ErrNoCurrentVersion         = errors.New("no current version")
	ErrMissingGitMetadata       = errors.New("missing git metadata")
	ErrMissingGitProject        = errors.New("missing git project")
	ErrMissingGitRepository     = errors.New("missing git repository")
	ErrMissingGitCommit         = errors.New("missing git commit")
)

// Bucket names the artifact-version bucket a resolution error came from
type Bucket string

const (
	BucketPending Bucket = "pending"
	BucketCurrent Bucket = "current"
)

// GitMetadataError reports a missing source-control field on the latest version of a bucket
type GitMetadataError struct {
	Bucket      Bucket
	Application string
	Environment string
	Version     string
	Err         error
}

func (e *GitMetadataError) Error() string {
	return fmt.Sprintf("latest %s version %s of application %s, environment %s: %v",
		e.Bucket, e.Version, e.Application, e.Environment, e.Err)
}

func (e *GitMetadataError) Unwrap() error {
	return e.Err
}
