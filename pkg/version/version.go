package version

import (
	_ "embed"
	"fmt"
	"runtime"
	"strings"
)

//go:embed VERSION
var Version string

// Get returns the current version of the broker without surrounding whitespace.
func Get() string {
	return strings.TrimSpace(Version)
}

// String returns a one-line banner used by the version command and the startup log.
func String() string {
	return fmt.Sprintf("pushgate %s (%s %s/%s)", Get(), runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
