package membership

import (
	"sort"
	"sync"

	"github.com/amoylab/pushgate/internal/channel"
	"github.com/amoylab/pushgate/internal/common/cnst"
	"github.com/amoylab/pushgate/internal/common/errorx"
	"github.com/amoylab/pushgate/internal/conn"
	"go.uber.org/zap"
)

// AppStats aggregates activity for one application. No field goes below zero.
type AppStats struct {
	Connections    int64 `json:"connections"`
	Subscriptions  int64 `json:"subscriptions"`
	HTTPRequests   int64 `json:"http_requests"`
	WsMessagesIn   int64 `json:"ws_messages_in"`
	WsMessagesOut  int64 `json:"ws_messages_out"`
	BytesIn        int64 `json:"bytes_in"`
	BytesOut       int64 `json:"bytes_out"`
	NewConnections int64 `json:"new_connections"`
	Disconnections int64 `json:"disconnections"`
}

type channelKey struct {
	app  string
	name string
}

// Registry is the many-to-many index between connections and channels.
// A single mutex guards every index and the stats so that no caller can
// observe one side of a subscription without its mirror.
type Registry struct {
	logger *zap.Logger

	mu        sync.Mutex
	conns     map[string]conn.Connection                        // admitted connections
	byConn    map[string]map[string]*channel.Channel            // connection -> channel name -> channel
	byChannel map[channelKey]map[string]conn.Connection         // (app, channel) -> connection id -> connection
	byApp     map[string]map[string]map[string]*channel.Channel // app -> connection id -> channel name -> channel
	stats     map[string]*AppStats

	total int64 // subscriptions across all apps
}

func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		logger:    logger.Named("membership"),
		conns:     make(map[string]conn.Connection),
		byConn:    make(map[string]map[string]*channel.Channel),
		byChannel: make(map[channelKey]map[string]conn.Connection),
		byApp:     make(map[string]map[string]map[string]*channel.Channel),
		stats:     make(map[string]*AppStats),
	}
}

func (r *Registry) statsLocked(appID string) *AppStats {
	st, ok := r.stats[appID]
	if !ok {
		st = &AppStats{}
		r.stats[appID] = st
	}
	return st
}

func dec(v *int64, n int64) {
	*v -= n
	if *v < 0 {
		*v = 0
	}
}

// AddConnection admits c under its app. When maxConnections is not negative
// and the app already holds that many connections, c is rejected before it
// is registered. Adding c twice is a no-op; another connection with the same
// id is rejected with cnst.ErrDuplicateConnection.
func (r *Registry) AddConnection(c conn.Connection, maxConnections int) error {
	appID := conn.AppID(c)

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.conns[c.ID()]; ok {
		if existing == c {
			return nil
		}
		r.logger.Warn("connection id already in use", zap.String("app_id", appID), zap.String("connection_id", c.ID()))
		return cnst.ErrDuplicateConnection
	}
	st := r.statsLocked(appID)
	if maxConnections >= 0 && st.Connections >= int64(maxConnections) {
		r.logger.Debug("connection over quota", zap.String("app_id", appID), zap.Int("max_connections", maxConnections))
		return errorx.ErrConnectionLimitExceeded
	}

	r.conns[c.ID()] = c
	if _, ok := r.byApp[appID]; !ok {
		r.byApp[appID] = make(map[string]map[string]*channel.Channel)
	}
	r.byApp[appID][c.ID()] = make(map[string]*channel.Channel)
	st.Connections++
	r.recordNewConnectionLocked(appID)
	return nil
}

// RemoveConnection drops every subscription of c and forgets it. It returns
// the channels c was removed from and whether c had been admitted.
func (r *Registry) RemoveConnection(c conn.Connection) ([]*channel.Channel, bool) {
	appID := conn.AppID(c)

	r.mu.Lock()
	defer r.mu.Unlock()

	existing, admitted := r.conns[c.ID()]
	if admitted && existing != c {
		return nil, false
	}
	removed := r.unsubscribeAllLocked(c)
	if admitted {
		delete(r.conns, c.ID())
		if conns, ok := r.byApp[appID]; ok {
			delete(conns, c.ID())
			if len(conns) == 0 {
				delete(r.byApp, appID)
			}
		}
		dec(&r.statsLocked(appID).Connections, 1)
		r.recordDisconnectionLocked(appID)
	}
	return removed, admitted
}

// Subscribe records the edge between c and ch. It reports false when the
// edge already existed.
func (r *Registry) Subscribe(c conn.Connection, ch *channel.Channel) bool {
	appID := ch.AppID()
	key := channelKey{app: appID, name: ch.Name()}

	r.mu.Lock()
	defer r.mu.Unlock()

	chans, ok := r.byConn[c.ID()]
	if !ok {
		chans = make(map[string]*channel.Channel)
		r.byConn[c.ID()] = chans
	}
	if _, dup := chans[ch.Name()]; dup {
		return false
	}
	chans[ch.Name()] = ch

	members, ok := r.byChannel[key]
	if !ok {
		members = make(map[string]conn.Connection)
		r.byChannel[key] = members
	}
	members[c.ID()] = c

	appConns, ok := r.byApp[appID]
	if !ok {
		appConns = make(map[string]map[string]*channel.Channel)
		r.byApp[appID] = appConns
	}
	appChans, ok := appConns[c.ID()]
	if !ok {
		appChans = make(map[string]*channel.Channel)
		appConns[c.ID()] = appChans
	}
	appChans[ch.Name()] = ch

	r.statsLocked(appID).Subscriptions++
	r.total++
	return true
}

// Unsubscribe removes the edge between c and ch and reports whether it
// existed.
func (r *Registry) Unsubscribe(c conn.Connection, ch *channel.Channel) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unsubscribeLocked(c, ch.AppID(), ch.Name())
}

func (r *Registry) unsubscribeLocked(c conn.Connection, appID, name string) bool {
	chans, ok := r.byConn[c.ID()]
	if !ok {
		return false
	}
	if _, ok := chans[name]; !ok {
		return false
	}
	delete(chans, name)
	if len(chans) == 0 {
		delete(r.byConn, c.ID())
	}

	key := channelKey{app: appID, name: name}
	if members, ok := r.byChannel[key]; ok {
		delete(members, c.ID())
		if len(members) == 0 {
			delete(r.byChannel, key)
		}
	}
	if appChans, ok := r.byApp[appID][c.ID()]; ok {
		delete(appChans, name)
	}

	dec(&r.statsLocked(appID).Subscriptions, 1)
	dec(&r.total, 1)
	return true
}

// UnsubscribeAll removes every subscription of c and returns how many were
// removed.
func (r *Registry) UnsubscribeAll(c conn.Connection) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.unsubscribeAllLocked(c))
}

func (r *Registry) unsubscribeAllLocked(c conn.Connection) []*channel.Channel {
	chans, ok := r.byConn[c.ID()]
	if !ok {
		return nil
	}
	delete(r.byConn, c.ID())

	removed := make([]*channel.Channel, 0, len(chans))
	perApp := make(map[string]int64)
	for name, ch := range chans {
		key := channelKey{app: ch.AppID(), name: name}
		if members, ok := r.byChannel[key]; ok {
			delete(members, c.ID())
			if len(members) == 0 {
				delete(r.byChannel, key)
			}
		}
		if appChans, ok := r.byApp[ch.AppID()][c.ID()]; ok {
			delete(appChans, name)
		}
		perApp[ch.AppID()]++
		removed = append(removed, ch)
	}

	for appID, n := range perApp {
		dec(&r.statsLocked(appID).Subscriptions, n)
	}
	dec(&r.total, int64(len(removed)))
	sort.Slice(removed, func(i, j int) bool { return removed[i].Name() < removed[j].Name() })
	return removed
}

func (r *Registry) IsSubscribed(c conn.Connection, channelName string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.byConn[c.ID()][channelName]
	return ok
}

// Channels returns the channels c is subscribed to, sorted by name.
func (r *Registry) Channels(c conn.Connection) []*channel.Channel {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*channel.Channel, 0, len(r.byConn[c.ID()]))
	for _, ch := range r.byConn[c.ID()] {
		out = append(out, ch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

func (r *Registry) RecordWsMessageReceived(appID string, bytes int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.statsLocked(appID)
	st.WsMessagesIn++
	st.BytesIn += int64(bytes)
}

func (r *Registry) RecordWsMessageSent(appID string, bytes int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.statsLocked(appID)
	st.WsMessagesOut++
	st.BytesOut += int64(bytes)
}

func (r *Registry) RecordHTTPRequest(appID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statsLocked(appID).HTTPRequests++
}

// RecordNewConnection and RecordDisconnection only move counters; admission
// goes through AddConnection, which counts through the same paths.
func (r *Registry) RecordNewConnection(appID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recordNewConnectionLocked(appID)
}

func (r *Registry) RecordDisconnection(appID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recordDisconnectionLocked(appID)
}

func (r *Registry) recordNewConnectionLocked(appID string) {
	r.statsLocked(appID).NewConnections++
}

func (r *Registry) recordDisconnectionLocked(appID string) {
	r.statsLocked(appID).Disconnections++
}

// GetConnectionsForApp returns the admitted connections of appID.
func (r *Registry) GetConnectionsForApp(appID string) []conn.Connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]conn.Connection, 0, len(r.byApp[appID]))
	for id := range r.byApp[appID] {
		if c, ok := r.conns[id]; ok {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// GetSubscriptionsForApp maps each connection of appID to its sorted
// channel names.
func (r *Registry) GetSubscriptionsForApp(appID string) map[string][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string][]string, len(r.byApp[appID]))
	for id, chans := range r.byApp[appID] {
		names := make([]string, 0, len(chans))
		for name := range chans {
			names = append(names, name)
		}
		sort.Strings(names)
		out[id] = names
	}
	return out
}

// GetAppDetailedStats returns a copy of the stats of appID, zeroed when the
// app has no recorded activity.
func (r *Registry) GetAppDetailedStats(appID string) AppStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.stats[appID]; ok {
		return *st
	}
	return AppStats{}
}

func (r *Registry) ConnectionCount(appID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.stats[appID]; ok {
		return int(st.Connections)
	}
	return 0
}

// ChannelConnections returns the connections subscribed to a channel of appID.
func (r *Registry) ChannelConnections(appID, channelName string) []conn.Connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	members := r.byChannel[channelKey{app: appID, name: channelName}]
	out := make([]conn.Connection, 0, len(members))
	for _, c := range members {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// TotalSubscriptions counts subscription edges across all apps.
func (r *Registry) TotalSubscriptions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int(r.total)
}
