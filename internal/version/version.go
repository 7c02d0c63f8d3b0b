package version

import "fmt"

// ProtocolVersion is reported to the host in the handshake and in the
// captured description.
const ProtocolVersion = 770

var (
	// Version is the current application version
	Version = "dev"
	// GitSHA is the git commit SHA
	GitSHA = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)

// String formats the build information for -version.
func String() string {
	return fmt.Sprintf("caiman %s (protocol %d, commit %s, built %s)", Version, ProtocolVersion, GitSHA, BuildTime)
}
