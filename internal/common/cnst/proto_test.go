package cnst

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInternalEventsCarryReservedPrefixes(t *testing.T) {
	for _, e := range []string{EventSubscriptionSucceeded, EventSubscriptionError, EventMemberAdded, EventMemberRemoved} {
		assert.True(t, strings.HasPrefix(e, PrefixPusherInternal), e)
	}
	for _, e := range []string{EventConnectionEstablished, EventError, EventPing, EventPong, EventSubscribe, EventUnsubscribe, EventCacheMiss} {
		assert.True(t, strings.HasPrefix(e, PrefixPusher), e)
	}
}

func TestRedisClusterTypeConstants(t *testing.T) {
	assert.Equal(t, "single", RedisClusterTypeSingle)
	assert.Equal(t, "sentinel", RedisClusterTypeSentinel)
	assert.Equal(t, "cluster", RedisClusterTypeCluster)
}
