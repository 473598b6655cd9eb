package changelog

import (
	"context"
	"fmt"
	"strconv"

	"github.com/gh-nvat/deployment-changelog/src/pkg/models"
	"github.com/gh-nvat/deployment-changelog/src/pkg/trace"
	"go.opentelemetry.io/otel/attribute"
)

// ResolveEnvironment turns an environment descriptor into the range between the pending
// and the current version of the environment. It performs exactly one upstream call.
func ResolveEnvironment(ctx context.Context, env EnvironmentDescriptor) (CommitRange, error) {
	ctx, span := trace.StartSpan(ctx, "resolve_environment")
	defer span.End()
	span.SetAttributes(
		attribute.String("app", env.ApplicationName),
		attribute.String("env", env.EnvironmentName),
	)

	if env.Client == nil {
		return CommitRange{}, fmt.Errorf("no deployment state provider for application %s", env.ApplicationName)
	}

	logger.WithField("app", env.ApplicationName).WithField("env", env.EnvironmentName).Info("Resolving commit range from environment state")
	states, err := env.Client.GetEnvironmentStates(ctx, env.ApplicationName, []string{env.EnvironmentName})
	if err != nil {
		return CommitRange{}, fmt.Errorf("failed to get environment states for application %s: %w", env.ApplicationName, err)
	}
	if states == nil || states.Application == nil {
		return CommitRange{}, fmt.Errorf("application %s: %w", env.ApplicationName, ErrApplicationNotFound)
	}

	environment := findEnvironment(states.Application.Environments, env.EnvironmentName)
	if environment == nil {
		return CommitRange{}, fmt.Errorf("environment %s of application %s: %w", env.EnvironmentName, env.ApplicationName, ErrEnvironmentNotFound)
	}

	var pending, current []models.ArtifactVersion
	total := 0
	for _, artifact := range environment.State.Artifacts {
		for _, v := range artifact.Versions {
			total++
			switch v.Status {
			case models.ArtifactStatusPending:
				pending = append(pending, v)
			case models.ArtifactStatusCurrent:
				current = append(current, v)
			}
		}
	}
	if total == 0 {
		return CommitRange{}, fmt.Errorf("environment %s of application %s: %w", env.EnvironmentName, env.ApplicationName, ErrNoArtifactsInEnvironment)
	}
	if len(pending) == 0 {
		return CommitRange{}, fmt.Errorf("environment %s of application %s: %w", env.EnvironmentName, env.ApplicationName, ErrNoPendingVersion)
	}
	if len(current) == 0 {
		return CommitRange{}, fmt.Errorf("environment %s of application %s: %w", env.EnvironmentName, env.ApplicationName, ErrNoCurrentVersion)
	}

	pendingProject, pendingRepo, pendingCommit, err := gitCoordinates(latestVersion(pending), BucketPending, env)
	if err != nil {
		return CommitRange{}, err
	}
	_, _, currentCommit, err := gitCoordinates(latestVersion(current), BucketCurrent, env)
	if err != nil {
		return CommitRange{}, err
	}

	resolved := CommitRange{
		Project:     pendingProject,
		Repository:  pendingRepo,
		StartCommit: pendingCommit,
		EndCommit:   currentCommit,
	}
	logger.WithField("project", resolved.Project).WithField("repo", resolved.Repository).
		WithField("start", resolved.StartCommit).WithField("end", resolved.EndCommit).
		Info("Resolved commit range")
	return resolved, nil
}

func findEnvironment(envs []models.Environment, name string) *models.Environment {
	for i := range envs {
		if envs[i].Name == name {
			return &envs[i]
		}
	}
	return nil
}

// latestVersion picks the version with the greatest build number. Versions without a
// parseable build number rank below every numbered one; ties keep the earliest version.
func latestVersion(versions []models.ArtifactVersion) models.ArtifactVersion {
	best := versions[0]
	bestNum, bestOK := parseBuildNumber(best.BuildNumber)
	for _, v := range versions[1:] {
		num, ok := parseBuildNumber(v.BuildNumber)
		if !ok {
			continue
		}
		if !bestOK || num > bestNum {
			best, bestNum, bestOK = v, num, true
		}
	}
	return best
}

func parseBuildNumber(s *string) (int64, bool) {
	if s == nil {
		return 0, false
	}
	n, err := strconv.ParseInt(*s, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func gitCoordinates(v models.ArtifactVersion, bucket Bucket, env EnvironmentDescriptor) (project, repo, commit string, err error) {
	fail := func(cause error) error {
		return &GitMetadataError{
			Bucket:      bucket,
			Application: env.ApplicationName,
			Environment: env.EnvironmentName,
			Version:     v.Version,
			Err:         cause,
		}
	}

	if v.GitMetadata == nil {
		return "", "", "", fail(ErrMissingGitMetadata)
	}
	if v.GitMetadata.Project == nil {
		return "", "", "", fail(ErrMissingGitProject)
	}
	if v.GitMetadata.RepoName == nil {
		return "", "", "", fail(ErrMissingGitRepository)
	}
	if v.GitMetadata.Commit == nil {
		return "", "", "", fail(ErrMissingGitCommit)
	}
	return *v.GitMetadata.Project, *v.GitMetadata.RepoName, *v.GitMetadata.Commit, nil
}
