package version

import "os"

// Build information, set via ldflags during build.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// Sandbox returns the sandbox image version surfaced by /api/version.
// The value comes from the SANDBOX_VERSION environment variable injected
// by the host when the container is built; absent means "unknown".
func Sandbox() string {
	if v := os.Getenv("SANDBOX_VERSION"); v != "" {
		return v
	}
	return "unknown"
}
