package channel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMessage(t *testing.T) {
	t.Run("object data string is decoded", func(t *testing.T) {
		m, err := ParseMessage([]byte(`{"event":"pusher:subscribe","data":"{\"channel\":\"a\"}"}`))
		require.NoError(t, err)
		assert.Equal(t, "pusher:subscribe", m.Event)
		assert.Equal(t, map[string]interface{}{"channel": "a"}, m.Data)
	})

	t.Run("plain string data is kept", func(t *testing.T) {
		m, err := ParseMessage([]byte(`{"event":"client-x","channel":"private-a","data":"hello"}`))
		require.NoError(t, err)
		assert.Equal(t, "hello", m.Data)
		assert.Equal(t, "private-a", m.Channel)
	})

	t.Run("scalar json string is kept as string", func(t *testing.T) {
		m, err := ParseMessage([]byte(`{"event":"e","data":"42"}`))
		require.NoError(t, err)
		assert.Equal(t, "42", m.Data)
	})

	t.Run("structured data", func(t *testing.T) {
		m, err := ParseMessage([]byte(`{"event":"e","data":{"a":[1,2]}}`))
		require.NoError(t, err)
		assert.Equal(t, map[string]interface{}{"a": []interface{}{float64(1), float64(2)}}, m.Data)
	})

	t.Run("missing data", func(t *testing.T) {
		m, err := ParseMessage([]byte(`{"event":"pusher:ping"}`))
		require.NoError(t, err)
		assert.Nil(t, m.Data)
	})

	for _, raw := range []string{`nope`, `[]`, `{"data":"x"}`, `{"event":5}`, `{"event":""}`} {
		_, err := ParseMessage([]byte(raw))
		assert.ErrorIs(t, err, ErrMalformedMessage, raw)
	}
}

func TestMessageDataString(t *testing.T) {
	assert.Equal(t, "", (&Message{}).DataString())
	assert.Equal(t, "x", (&Message{Data: "x"}).DataString())
	assert.Equal(t, `{"a":1}`, (&Message{Data: map[string]int{"a": 1}}).DataString())
}

func TestMessageEncodeOmitsEmpty(t *testing.T) {
	b, err := (&Message{Event: "pusher:pong"}).Encode()
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"pusher:pong"}`, string(b))
}

func TestEventClassification(t *testing.T) {
	assert.True(t, IsInternalEvent("pusher:ping"))
	assert.True(t, IsInternalEvent("pusher_internal:member_added"))
	assert.False(t, IsInternalEvent("order-shipped"))
	assert.True(t, IsClientEvent("client-typing"))
	assert.False(t, IsClientEvent("typing"))
	assert.True(t, (&Message{Event: "pusher:cache_miss"}).IsInternal())
}
