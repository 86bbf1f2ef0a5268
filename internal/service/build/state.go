package build

import (
	"os"
	"path/filepath"
	"strings"
)

// State is the derived build state of one platform.
type State int

const (
	// NoArtifact means no ELF artifact exists; the next build is a first build.
	NoArtifact State = iota
	// ArtifactPresent means an ELF artifact exists; the next build is incremental.
	ArtifactPresent
)

// ArtifactSuffix identifies the app ELF produced by the build tool.
const ArtifactSuffix = ".app.elf"

// String implements fmt.Stringer.
func (s State) String() string {
	if s == ArtifactPresent {
		return "artifact-present"
	}

	return "no-artifact"
}

// Dir returns the build directory of platform relative to the project root.
func Dir(platform string) string {
	return filepath.Join("build", "cmake-build-"+platform)
}

// FindArtifact returns the first file ending in ArtifactSuffix directly
// inside the platform's build directory, in lexical order.
func FindArtifact(projectDir, platform string) (string, bool) {
	dir := filepath.Join(projectDir, Dir(platform))

	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false
	}

	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ArtifactSuffix) {
			return filepath.Join(dir, entry.Name()), true
		}
	}

	return "", false
}

// ProbeState inspects the filesystem; nothing is cached between calls.
func ProbeState(projectDir, platform string) State {
	if _, ok := FindArtifact(projectDir, platform); ok {
		return ArtifactPresent
	}

	return NoArtifact
}
