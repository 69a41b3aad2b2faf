package channel

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/amoylab/pushgate/internal/app"
	"github.com/amoylab/pushgate/internal/common/cnst"
)

// Authenticator decides whether a connection may join an auth-gated channel.
type Authenticator interface {
	Verify(ctx context.Context, connectionID, channel, auth, data string) error
}

// AppFinder is the slice of app.Manager the authenticator needs.
type AppFinder interface {
	FindByKey(ctx context.Context, key string) (*app.Application, error)
}

// SignatureAuthenticator checks "{key}:{hex hmac-sha256}" tokens. The key
// must belong to the application owning the channel.
type SignatureAuthenticator struct {
	apps  AppFinder
	appID string
}

func NewSignatureAuthenticator(apps AppFinder, appID string) *SignatureAuthenticator {
	return &SignatureAuthenticator{apps: apps, appID: appID}
}

func (a *SignatureAuthenticator) Verify(ctx context.Context, connectionID, channel, auth, data string) error {
	key, signature, ok := strings.Cut(auth, ":")
	if !ok || key == "" || signature == "" || strings.Contains(signature, ":") {
		return fmt.Errorf("%w: malformed auth token", cnst.ErrUnauthorized)
	}

	application, err := a.apps.FindByKey(ctx, key)
	if err != nil {
		return fmt.Errorf("%w: unknown app key", cnst.ErrUnauthorized)
	}
	if a.appID != "" && application.ID != a.appID {
		return fmt.Errorf("%w: app key does not own channel", cnst.ErrUnauthorized)
	}

	expected := Sign(application.Secret, connectionID, channel, data)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return fmt.Errorf("%w: invalid signature", cnst.ErrUnauthorized)
	}
	return nil
}

// SigningString is "{connectionID}:{channel}" with ":{data}" appended when
// data is not empty.
func SigningString(connectionID, channel, data string) string {
	s := connectionID + ":" + channel
	if data != "" {
		s += ":" + data
	}
	return s
}

// Sign returns the hex HMAC-SHA256 of the signing string under secret.
func Sign(secret, connectionID, channel, data string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(SigningString(connectionID, channel, data)))
	return hex.EncodeToString(mac.Sum(nil))
}

// Token builds a complete auth token for key and secret.
func Token(key, secret, connectionID, channel, data string) string {
	return key + ":" + Sign(secret, connectionID, channel, data)
}
