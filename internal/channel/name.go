package channel

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/amoylab/pushgate/internal/common/cnst"
)

// Type is the channel variant, derived once from the name prefix.
type Type string

const (
	Public   Type = "public"
	Private  Type = "private"
	Presence Type = "presence"
	Cache    Type = "cache"
)

var (
	validName = regexp.MustCompile(`^[A-Za-z0-9_\-=@,.;]+$`)

	bareNames = map[string]struct{}{
		cnst.PrefixPresence:  {},
		cnst.PrefixPrivate:   {},
		cnst.PrefixCache:     {},
		"private-encrypted-": {},
	}
)

// TypeOf dispatches on the name prefix.
func TypeOf(name string) Type {
	switch {
	case strings.HasPrefix(name, cnst.PrefixPresence):
		return Presence
	case strings.HasPrefix(name, cnst.PrefixPrivate):
		return Private
	case strings.HasPrefix(name, cnst.PrefixCache):
		return Cache
	default:
		return Public
	}
}

// RequiresAuth reports whether subscribing needs a signed auth token.
func (t Type) RequiresAuth() bool {
	return t == Private || t == Presence
}

// ValidateName checks a channel name before the channel is created.
func ValidateName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: empty", cnst.ErrInvalidChannelName)
	case len(name) > cnst.MaxChannelNameLength:
		return fmt.Errorf("%w: longer than %d characters", cnst.ErrInvalidChannelName, cnst.MaxChannelNameLength)
	case strings.HasPrefix(name, cnst.PrefixPusher):
		return fmt.Errorf("%w: reserved prefix %q", cnst.ErrInvalidChannelName, cnst.PrefixPusher)
	case !validName.MatchString(name):
		return fmt.Errorf("%w: %q contains invalid characters", cnst.ErrInvalidChannelName, name)
	}
	if _, bare := bareNames[name]; bare {
		return fmt.Errorf("%w: %q is only a prefix", cnst.ErrInvalidChannelName, name)
	}
	return nil
}
