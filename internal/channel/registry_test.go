package channel

import (
	"context"
	"sync"
	"testing"

	"github.com/amoylab/pushgate/internal/common/cnst"
	"github.com/amoylab/pushgate/internal/conn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_GetOrCreateIsIdempotent(t *testing.T) {
	r := newTestRegistry()

	var wg sync.WaitGroup
	got := make([]*Channel, 32)
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ch, err := r.GetOrCreate("presence-room", map[string]any{"i": i})
			assert.NoError(t, err)
			got[i] = ch
		}(i)
	}
	wg.Wait()

	for _, ch := range got {
		assert.Same(t, got[0], ch)
	}
	assert.Equal(t, 1, r.Len())
	assert.Equal(t, 1, r.Counts()[Presence])
}

func TestRegistry_VariantsByPrefix(t *testing.T) {
	r := newTestRegistry()
	for name, typ := range map[string]Type{"a": Public, "private-a": Private, "presence-a": Presence, "cache-a": Cache} {
		ch, err := r.GetOrCreate(name, nil)
		require.NoError(t, err)
		assert.Equal(t, typ, ch.Type())
	}
	counts := r.Counts()
	assert.Equal(t, 1, counts[Public])
	assert.Equal(t, 1, counts[Private])
	assert.Equal(t, 1, counts[Presence])
	assert.Equal(t, 1, counts[Cache])
}

func TestRegistry_RejectsInvalidNames(t *testing.T) {
	r := newTestRegistry()
	_, err := r.GetOrCreate("pusher:nope", nil)
	assert.ErrorIs(t, err, cnst.ErrInvalidChannelName)
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_RemoveIfEmpty(t *testing.T) {
	r := newTestRegistry()
	ch, _ := r.GetOrCreate("news", nil)
	c := conn.NewRecorder("1.1")
	require.NoError(t, ch.Subscribe(context.Background(), c, "", ""))

	assert.False(t, r.RemoveIfEmpty("news"))
	ch.Unsubscribe(c)
	assert.True(t, r.RemoveIfEmpty("news"))
	assert.False(t, r.RemoveIfEmpty("news"))
	_, ok := r.Get("news")
	assert.False(t, ok)
	assert.Equal(t, 0, r.Counts()[Public])

	// The dropped instance refuses new subscribers; a fresh one is created.
	assert.ErrorIs(t, ch.Subscribe(context.Background(), c, "", ""), ErrChannelClosed)
	fresh, err := r.GetOrCreate("news", nil)
	require.NoError(t, err)
	assert.NotSame(t, ch, fresh)
}

func TestRegistry_Views(t *testing.T) {
	r := newTestRegistry()
	for _, n := range []string{"presence-a", "presence-b", "private-a", "room-1", "room-22"} {
		_, err := r.GetOrCreate(n, nil)
		require.NoError(t, err)
	}

	names := func(chs []*Channel) []string {
		out := make([]string, 0, len(chs))
		for _, ch := range chs {
			out = append(out, ch.Name())
		}
		return out
	}

	assert.Equal(t, []string{"presence-a", "presence-b"}, names(r.ByType(Presence)))

	m, err := r.ByNamePattern("room-?")
	require.NoError(t, err)
	assert.Equal(t, []string{"room-1"}, names(m))

	m, err = r.ByNamePattern("*-a")
	require.NoError(t, err)
	assert.Equal(t, []string{"presence-a", "private-a"}, names(m))

	assert.Len(t, r.All(), 5)
}
