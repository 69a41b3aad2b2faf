package server

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// maxRequestSkew bounds how far auth_timestamp may drift from the server clock.
const maxRequestSkew = 600 * time.Second

var (
	errMissingSignature = errors.New("missing auth_signature")
	errWrongKey         = errors.New("auth_key does not belong to this app")
	errStaleTimestamp   = errors.New("auth_timestamp outside the allowed window")
	errBodyMismatch     = errors.New("body_md5 does not match the request body")
	errBadSignature     = errors.New("invalid auth_signature")
)

// stringToSign builds "METHOD\nPATH\nQUERY" where QUERY holds every
// parameter except auth_signature, keys lowercased and sorted.
func stringToSign(method, path string, query url.Values) string {
	keys := make([]string, 0, len(query))
	params := make(map[string]string, len(query))
	for k, v := range query {
		lk := strings.ToLower(k)
		if lk == "auth_signature" || len(v) == 0 {
			continue
		}
		keys = append(keys, lk)
		params[lk] = v[0]
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+params[k])
	}
	return strings.ToUpper(method) + "\n" + path + "\n" + strings.Join(pairs, "&")
}

func signRequest(secret, method, path string, query url.Values) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(stringToSign(method, path, query)))
	return hex.EncodeToString(mac.Sum(nil))
}

func bodyMD5(body []byte) string {
	sum := md5.Sum(body)
	return hex.EncodeToString(sum[:])
}

// verifyRequest checks a signed HTTP API request against the app's key and
// secret.
func verifyRequest(key, secret, method, path string, query url.Values, body []byte, now time.Time) error {
	sig := query.Get("auth_signature")
	if sig == "" {
		return errMissingSignature
	}
	if query.Get("auth_key") != key {
		return errWrongKey
	}

	ts, err := strconv.ParseInt(query.Get("auth_timestamp"), 10, 64)
	if err != nil {
		return errStaleTimestamp
	}
	skew := now.Sub(time.Unix(ts, 0))
	if skew > maxRequestSkew || skew < -maxRequestSkew {
		return errStaleTimestamp
	}

	if len(body) > 0 && query.Get("body_md5") != bodyMD5(body) {
		return errBodyMismatch
	}

	expected := signRequest(secret, method, path, query)
	if !hmac.Equal([]byte(expected), []byte(sig)) {
		return errBadSignature
	}
	return nil
}

// SignQuery adds the auth parameters to query for a request signed with key
// and secret. It is what HTTP API clients do before calling the broker.
func SignQuery(key, secret, method, path string, query url.Values, body []byte, now time.Time) url.Values {
	out := url.Values{}
	for k, v := range query {
		out[k] = append([]string(nil), v...)
	}
	out.Set("auth_key", key)
	out.Set("auth_timestamp", strconv.FormatInt(now.Unix(), 10))
	out.Set("auth_version", "1.0")
	if len(body) > 0 {
		out.Set("body_md5", bodyMD5(body))
	}
	out.Set("auth_signature", signRequest(secret, method, path, out))
	return out
}
