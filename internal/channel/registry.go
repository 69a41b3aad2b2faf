package channel

import (
	"sort"
	"sync"
	"time"

	"github.com/amoylab/pushgate/pkg/utils"
	"go.uber.org/zap"
)

// Registry holds the live channels of one application.
type Registry struct {
	logger    *zap.Logger
	chLogger  *zap.Logger
	appID     string
	apps      AppFinder
	maxCached int
	now       func() time.Time

	mu       sync.RWMutex
	channels map[string]*Channel
	counts   map[Type]int
}

func NewRegistry(logger *zap.Logger, appID string, apps AppFinder, maxCached int) *Registry {
	chLogger := logger.Named("channel").With(zap.String("app_id", appID))
	return &Registry{
		logger:    chLogger.Named("registry"),
		chLogger:  chLogger,
		appID:     appID,
		apps:      apps,
		maxCached: maxCached,
		now:       time.Now,
		channels:  make(map[string]*Channel),
		counts:    make(map[Type]int),
	}
}

// GetOrCreate returns the channel called name, creating the variant its
// prefix selects. At most one instance exists per name.
func (r *Registry) GetOrCreate(name string, metadata map[string]any) (*Channel, error) {
	r.mu.RLock()
	ch, ok := r.channels[name]
	r.mu.RUnlock()
	if ok {
		return ch, nil
	}

	if err := ValidateName(name); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if ch, ok := r.channels[name]; ok {
		return ch, nil
	}
	ch = New(r.chLogger, r.appID, name, r.optionsFor(name, metadata))
	r.channels[name] = ch
	r.counts[ch.Type()]++
	r.logger.Debug("channel created", zap.String("channel", name), zap.String("type", string(ch.Type())))
	return ch, nil
}

func (r *Registry) optionsFor(name string, metadata map[string]any) Options {
	opts := Options{Metadata: metadata}
	switch TypeOf(name) {
	case Private:
		opts.Authenticator = NewSignatureAuthenticator(r.apps, r.appID)
	case Presence:
		opts.Authenticator = NewSignatureAuthenticator(r.apps, r.appID)
		opts.Members = NewMembers()
	case Cache:
		opts.Cache = NewMessageCache(r.maxCached, r.now)
	}
	return opts
}

func (r *Registry) Get(name string) (*Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.channels[name]
	return ch, ok
}

// RemoveIfEmpty drops the channel when it has no connections and reports
// whether it did.
func (r *Registry) RemoveIfEmpty(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.channels[name]
	if !ok || !ch.closeIfEmpty() {
		return false
	}
	delete(r.channels, name)
	if r.counts[ch.Type()] > 0 {
		r.counts[ch.Type()]--
	}
	r.logger.Debug("channel removed", zap.String("channel", name))
	return true
}

func (r *Registry) ByType(t Type) []*Channel {
	return r.filter(func(ch *Channel) bool { return ch.Type() == t })
}

// ByNamePattern returns channels whose name matches a glob using `*` and `?`.
func (r *Registry) ByNamePattern(glob string) ([]*Channel, error) {
	re, err := utils.GlobToRegexp(glob)
	if err != nil {
		return nil, err
	}
	return r.filter(func(ch *Channel) bool { return re.MatchString(ch.Name()) }), nil
}

// All returns every live channel sorted by name.
func (r *Registry) All() []*Channel {
	return r.filter(func(*Channel) bool { return true })
}

// Counts returns the number of live channels per type.
func (r *Registry) Counts() map[Type]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[Type]int, len(r.counts))
	for t, n := range r.counts {
		out[t] = n
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels)
}

func (r *Registry) filter(keep func(*Channel) bool) []*Channel {
	r.mu.RLock()
	out := make([]*Channel, 0, len(r.channels))
	for _, ch := range r.channels {
		if keep(ch) {
			out = append(out, ch)
		}
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}
