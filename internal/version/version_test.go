package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseCLIVersion(t *testing.T) {
	tests := []struct {
		output string
		want   string
		ok     bool
	}{
		{"1.0.51 (Claude Code)\n", "1.0.51", true},
		{"claude 2.3.0", "2.3.0", true},
		{"unknown", "", false},
	}
	for _, tt := range tests {
		got, ok := ParseCLIVersion(tt.output)
		assert.Equal(t, tt.ok, ok, tt.output)
		assert.Equal(t, tt.want, got, tt.output)
	}
}

func TestIsVersionGreaterOrEqualThan(t *testing.T) {
	assert.True(t, IsVersionGreaterOrEqualThan("1.0.51", "1.0.0"))
	assert.True(t, IsVersionGreaterOrEqualThan("1.0.0", "1.0.0"))
	assert.False(t, IsVersionGreaterOrEqualThan("0.9.9", "1.0.0"))
	assert.True(t, IsVersionGreaterOrEqualThan("v2.0.0", "1.0.0"))
}

func TestString(t *testing.T) {
	oldVersion, oldCommit := Version, GitCommit
	defer func() { Version, GitCommit = oldVersion, oldCommit }()

	Version, GitCommit = "0.3.0", "unknown"
	assert.Equal(t, "0.3.0", String())

	GitCommit = "0123456789abcdef"
	assert.Equal(t, "0.3.0-01234567", String())
	assert.Contains(t, StringFull(), "Commit=01234567")
}
