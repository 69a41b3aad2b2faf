package cnst

// Channel name prefixes. The prefix decides the channel type once, at creation.
const (
	PrefixPresence = "presence-"
	PrefixPrivate  = "private-"
	PrefixCache    = "cache-"
	PrefixClient   = "client-"
)

// Reserved event name prefixes. Events carrying them are never cached and
// never echoed back to the sender.
const (
	PrefixPusher         = "pusher:"
	PrefixPusherInternal = "pusher_internal:"
)

// Protocol events.
const (
	EventConnectionEstablished = "pusher:connection_established"
	EventError                 = "pusher:error"
	EventPing                  = "pusher:ping"
	EventPong                  = "pusher:pong"
	EventSubscribe             = "pusher:subscribe"
	EventUnsubscribe           = "pusher:unsubscribe"
	EventCacheMiss             = "pusher:cache_miss"

	EventSubscriptionSucceeded = "pusher_internal:subscription_succeeded"
	EventSubscriptionError     = "pusher_internal:subscription_error"
	EventMemberAdded           = "pusher_internal:member_added"
	EventMemberRemoved         = "pusher_internal:member_removed"
)

// Attribute keys written by the broker onto a connection's attribute bag.
const (
	AttrAppID   = "app_id"
	AttrUserID  = "user_id"
	AttrChannel = "channel_data:" // followed by the channel name
)

const (
	// MaxChannelNameLength is the longest accepted channel name
	MaxChannelNameLength = 200
	// DefaultMaxCachedMessages bounds a cache channel when no size is configured
	DefaultMaxCachedMessages = 100
	// Unlimited is the sentinel for "no limit" in application limits
	Unlimited = -1
)
