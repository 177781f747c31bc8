// Package version holds the version of the icore binary.
package version

// Flag marks development builds. Release builds leave it empty.
const Flag = "develop"

var (
	// Version is the full version string, including Flag and the short commit
	// hash when they are set.
	Version = "0.3.0"

	// GitCommit is set at build time with
	// --ldflags "-X github.com/Linkolnn/Icore/src/version.GitCommit=$(git rev-parse HEAD)"
	GitCommit string
)

func init() {
	if Flag != "" {
		Version += "-" + Flag
	}
	if len(GitCommit) >= 8 {
		Version += "-" + GitCommit[:8]
	}
}

// Info is the payload of the version endpoint and command.
type Info struct {
	Version   string `json:"version"`
	GitCommit string `json:"gitCommit,omitempty"`
}

// Current returns the version of the running binary.
func Current() Info {
	return Info{
		Version:   Version,
		GitCommit: GitCommit,
	}
}
