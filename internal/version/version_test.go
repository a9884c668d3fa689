package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCurrent(t *testing.T) {
	orig := Version
	defer func() { Version = orig }()
	Version = "1.2.3"

	info := Current()
	assert.Equal(t, "1.2.3", info.Version)
	assert.Equal(t, GitSHA, info.GitSHA)
	assert.Contains(t, String(), "immdemo 1.2.3")
}
