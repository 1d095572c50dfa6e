package version

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/mod/semver"
)

// Version is the relay's released version.
// Override at build time:
//
//	go build -ldflags "-X github.com/hrygo/ccrelay/internal/version.Version=v0.3.0"
var Version = "0.0.0-dev"

// GitCommit is set via ldflags: -X github.com/hrygo/ccrelay/internal/version.GitCommit=$(git rev-parse HEAD)
var GitCommit = "unknown"

// BuildTime is set via ldflags in RFC3339 format.
var BuildTime = "unknown"

// MinCLIVersion is the oldest claude CLI whose stream-json output the relay
// understands.
var MinCLIVersion = "1.0.0"

var cliVersionPattern = regexp.MustCompile(`\b(\d+\.\d+\.\d+)\b`)

// ParseCLIVersion extracts "major.minor.patch" from `claude --version`
// output such as "1.0.51 (Claude Code)".
func ParseCLIVersion(output string) (string, bool) {
	m := cliVersionPattern.FindStringSubmatch(output)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// IsVersionGreaterOrEqualThan returns true if version is greater than or equal to target.
func IsVersionGreaterOrEqualThan(version, target string) bool {
	return semver.Compare(canonical(version), canonical(target)) > -1
}

func canonical(v string) string {
	if strings.HasPrefix(v, "v") {
		return v
	}
	return "v" + v
}

// String returns the version with a short commit hash when known.
func String() string {
	if GitCommit == "" || GitCommit == "unknown" {
		return Version
	}
	return fmt.Sprintf("%s-%s", Version, shortCommit())
}

// StringFull returns the version with all known build metadata.
func StringFull() string {
	parts := []string{"Version=" + Version}
	if GitCommit != "" && GitCommit != "unknown" {
		parts = append(parts, "Commit="+shortCommit())
	}
	if BuildTime != "" && BuildTime != "unknown" {
		parts = append(parts, "BuildTime="+BuildTime)
	}
	return strings.Join(parts, " ")
}

func shortCommit() string {
	if len(GitCommit) > 8 {
		return GitCommit[:8]
	}
	return GitCommit
}
