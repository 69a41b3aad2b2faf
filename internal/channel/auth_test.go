package channel

import (
	"context"
	"testing"

	"github.com/amoylab/pushgate/internal/common/cnst"
	"github.com/stretchr/testify/assert"
)

func TestSigningString(t *testing.T) {
	assert.Equal(t, "1.2:private-a", SigningString("1.2", "private-a", ""))
	assert.Equal(t, `1.2:presence-a:{"user_id":"u"}`, SigningString("1.2", "presence-a", `{"user_id":"u"}`))
}

func TestSignKnownVector(t *testing.T) {
	// Pusher documentation example.
	sig := Sign("7ad3773142a6692b25b8", "1234.1234", "private-foobar", "")
	assert.Equal(t, "58df8b0c36d6982b82c3ecf6b4662e34fe8c25bba48f5369f135bf843651c3a4", sig)
}

func TestSignatureAuthenticator(t *testing.T) {
	ctx := context.Background()
	a := NewSignatureAuthenticator(testApps(), testAppID)
	data := `{"user_id":"u1"}`
	token := Token(testKey, testSecret, "1.1", "presence-room", data)
	flipped := token[:len(token)-1] + "0"
	if token[len(token)-1] == '0' {
		flipped = token[:len(token)-1] + "1"
	}

	assert.NoError(t, a.Verify(ctx, "1.1", "presence-room", token, data))

	mutations := []struct {
		name                       string
		connID, channel, auth, dat string
	}{
		{"connection id", "1.2", "presence-room", token, data},
		{"channel", "1.1", "presence-roon", token, data},
		{"data", "1.1", "presence-room", token, `{"user_id":"u2"}`},
		{"auth", "1.1", "presence-room", flipped, data},
		{"missing data", "1.1", "presence-room", token, ""},
	}
	for _, m := range mutations {
		t.Run(m.name, func(t *testing.T) {
			assert.ErrorIs(t, a.Verify(ctx, m.connID, m.channel, m.auth, m.dat), cnst.ErrUnauthorized)
		})
	}
}

func TestSignatureAuthenticator_Rejections(t *testing.T) {
	ctx := context.Background()
	a := NewSignatureAuthenticator(testApps(), testAppID)

	for _, auth := range []string{"", "nocolon", ":sig", "key-1:", "key-1:a:b"} {
		assert.ErrorIs(t, a.Verify(ctx, "1.1", "private-a", auth, ""), cnst.ErrUnauthorized, auth)
	}

	unknown := Token("nope", testSecret, "1.1", "private-a", "")
	assert.ErrorIs(t, a.Verify(ctx, "1.1", "private-a", unknown, ""), cnst.ErrUnauthorized)

	// A valid token from another application does not open this app's channel.
	foreign := Token("key-2", "secret-2", "1.1", "private-a", "")
	assert.ErrorIs(t, a.Verify(ctx, "1.1", "private-a", foreign, ""), cnst.ErrUnauthorized)
}
