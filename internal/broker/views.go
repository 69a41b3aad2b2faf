package broker

import (
	"errors"
	"fmt"
	"strings"

	"github.com/amoylab/pushgate/internal/channel"
	"github.com/amoylab/pushgate/internal/common/cnst"
	"github.com/amoylab/pushgate/internal/membership"
	"go.uber.org/zap"
)

// ErrNotPresence is returned by ChannelUsers for non-presence channels.
var ErrNotPresence = errors.New("channel is not a presence channel")

// ChannelInfo describes one occupied channel on this node.
type ChannelInfo struct {
	Occupied          bool `json:"occupied"`
	UserCount         *int `json:"user_count,omitempty"`
	SubscriptionCount *int `json:"subscription_count,omitempty"`
}

// ChannelsInfo lists the occupied channels of appID whose name starts with
// prefix. User counts are only reported for presence channels.
func (b *Broker) ChannelsInfo(appID, prefix string, withUserCount bool) map[string]ChannelInfo {
	out := make(map[string]ChannelInfo)
	reg, ok := b.existingRegistry(appID)
	if !ok {
		return out
	}
	var candidates []*channel.Channel
	switch {
	case strings.ContainsAny(prefix, "*?"):
		// Channel names never hold glob characters.
		return out
	case prefix == cnst.PrefixPresence:
		candidates = reg.ByType(channel.Presence)
	default:
		var err error
		if candidates, err = reg.ByNamePattern(prefix + "*"); err != nil {
			b.logger.Warn("bad channel prefix", zap.String("prefix", prefix), zap.Error(err))
			return out
		}
	}
	for _, ch := range candidates {
		if ch.ConnectionCount() == 0 {
			continue
		}
		info := ChannelInfo{Occupied: true}
		if withUserCount && ch.Type() == channel.Presence {
			n := ch.MemberCount()
			info.UserCount = &n
		}
		out[ch.Name()] = info
	}
	return out
}

// ChannelInfo reports the state of a single channel. Unknown channels are
// reported as unoccupied.
func (b *Broker) ChannelInfo(appID, name string, withUserCount, withSubscriptionCount bool) (ChannelInfo, error) {
	if err := channel.ValidateName(name); err != nil {
		return ChannelInfo{}, err
	}
	var info ChannelInfo
	ch, ok := b.lookup(appID, name)
	if ok {
		info.Occupied = ch.ConnectionCount() > 0
	}
	if withSubscriptionCount {
		n := 0
		if ok {
			n = ch.ConnectionCount()
		}
		info.SubscriptionCount = &n
	}
	if withUserCount && channel.TypeOf(name) == channel.Presence {
		n := 0
		if ok {
			n = ch.MemberCount()
		}
		info.UserCount = &n
	}
	return info, nil
}

// ChannelUsers returns the user ids present on a presence channel.
func (b *Broker) ChannelUsers(appID, name string) ([]string, error) {
	if err := channel.ValidateName(name); err != nil {
		return nil, err
	}
	if channel.TypeOf(name) != channel.Presence {
		return nil, fmt.Errorf("%s: %w", name, ErrNotPresence)
	}
	ch, ok := b.lookup(appID, name)
	if !ok {
		return []string{}, nil
	}
	return ch.PresenceSnapshot().IDs, nil
}

// AppStats returns the traffic counters of appID.
func (b *Broker) AppStats(appID string) membership.AppStats {
	return b.members.GetAppDetailedStats(appID)
}

// Close releases the limiter and the bridge.
func (b *Broker) Close() error {
	return errors.Join(b.bridge.Close(), b.limiter.Disconnect())
}

func (b *Broker) lookup(appID, name string) (*channel.Channel, bool) {
	reg, ok := b.existingRegistry(appID)
	if !ok {
		return nil, false
	}
	return reg.Get(name)
}
