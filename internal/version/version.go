// Package version holds build metadata for the orderfeed binaries.
//
// Set at build time:
//
//	go build -ldflags "-X github.com/rickgao/orderfeed/internal/version.Version=0.3.0 \
//	                   -X github.com/rickgao/orderfeed/internal/version.Commit=$(git rev-parse --short HEAD) \
//	                   -X github.com/rickgao/orderfeed/internal/version.BuildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
package version

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// Info is the build metadata as reported by the health endpoint.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"buildTime"`
}

// Get returns the current build metadata.
func Get() Info {
	return Info{Version: Version, Commit: Commit, BuildTime: BuildTime}
}

// String formats the build metadata for logs and --version output.
func String() string {
	return Version + " (" + Commit + ") built " + BuildTime
}
