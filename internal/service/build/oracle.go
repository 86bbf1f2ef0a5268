package build

import (
	"errors"
	"fmt"

	"github.com/tactilityproject/ttbuild/internal/config"
)

// SuccessOracle decides whether a finished tool run built the platform.
type SuccessOracle interface {
	Succeeded(projectDir, platform string, result *Result) bool
}

// ArtifactOracle succeeds when the ELF artifact exists after the run, whatever the exit code.
type ArtifactOracle struct{}

// Succeeded implements SuccessOracle.
func (ArtifactOracle) Succeeded(projectDir, platform string, _ *Result) bool {
	_, ok := FindArtifact(projectDir, platform)
	return ok
}

// ExitCodeOracle succeeds when the tool exited with status 0.
type ExitCodeOracle struct{}

// Succeeded implements SuccessOracle.
func (ExitCodeOracle) Succeeded(_, _ string, result *Result) bool {
	return result != nil && result.ExitCode == 0
}

var errUnknownOracle = errors.New("unknown success oracle")

// OracleFor maps a first_build_oracle setting to its oracle.
func OracleFor(name string) (SuccessOracle, error) {
	switch name {
	case config.OracleArtifact, "":
		return ArtifactOracle{}, nil
	case config.OracleExitCode:
		return ExitCodeOracle{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", errUnknownOracle, name)
	}
}
