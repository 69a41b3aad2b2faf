package utils

import (
	"regexp"
	"strings"
)

// GlobToRegexp translates a glob supporting `*` (any run of characters) and
// `?` (exactly one character) into an anchored regular expression. Every other
// character matches literally.
func GlobToRegexp(glob string) (*regexp.Regexp, error) {
	var sb strings.Builder
	sb.WriteString("^")
	for _, r := range glob {
		switch r {
		case '*':
			sb.WriteString(".*")
		case '?':
			sb.WriteString(".")
		default:
			sb.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	sb.WriteString("$")
	return regexp.Compile(sb.String())
}

// MatchGlob reports whether name matches glob. An invalid glob matches nothing.
func MatchGlob(glob, name string) bool {
	re, err := GlobToRegexp(glob)
	if err != nil {
		return false
	}
	return re.MatchString(name)
}
