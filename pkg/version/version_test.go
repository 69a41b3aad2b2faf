package version

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetTrimsEmbeddedVersion(t *testing.T) {
	got := Get()
	assert.NotEmpty(t, got)
	assert.Equal(t, strings.TrimSpace(Version), got)
	assert.Equal(t, byte('v'), got[0])
}

func TestStringContainsVersion(t *testing.T) {
	assert.True(t, strings.HasPrefix(String(), "pushgate "+Get()))
}
