package version

// Build information, overridden at link time via -ldflags -X.
var (
	// Version is the semantic version of lexiad and lexiactl
	Version = "v0.1.0"

	// Commit is the git commit hash
	Commit = "unknown"

	// BuiltAt is the build timestamp
	BuiltAt = "unknown"
)

// Info returns the bare version string.
func Info() string {
	return Version
}

// FullInfo returns version, commit and build time in key=value form.
func FullInfo() string {
	return "version=" + Version + " commit=" + Commit + " built_at=" + BuiltAt
}
