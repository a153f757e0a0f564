package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// DefaultRecvWindow is the validity window, in milliseconds, sent with every
// signed request.
const DefaultRecvWindow = 5000

// HMACAuth holds the credentials required for HMAC-authenticated requests
// against the Bybit v5 REST and WebSocket APIs.
type HMACAuth struct {
	Key        string // API key
	Secret     string // API secret
	RecvWindow int64  // milliseconds; DefaultRecvWindow when zero
}

// RESTHeaders returns the HTTP headers for a signed REST request. payload is
// the raw query string for GET requests and the JSON body otherwise.
//
// The signature is hex(HMAC-SHA256(secret, timestamp+key+recvWindow+payload)).
//
// Returned header keys:
//   - X-BAPI-API-KEY
//   - X-BAPI-TIMESTAMP
//   - X-BAPI-RECV-WINDOW
//   - X-BAPI-SIGN
func (h *HMACAuth) RESTHeaders(payload string) map[string]string {
	return h.RESTHeadersAt(payload, time.Now().UnixMilli())
}

// RESTHeadersAt is like RESTHeaders but lets the caller supply the Unix
// millisecond timestamp (useful for deterministic testing).
func (h *HMACAuth) RESTHeadersAt(payload string, unixMS int64) map[string]string {
	ts := strconv.FormatInt(unixMS, 10)
	rw := strconv.FormatInt(h.recvWindow(), 10)

	sig := hmacSHA256Hex([]byte(h.Secret), ts+h.Key+rw+payload)

	return map[string]string{
		"X-BAPI-API-KEY":     h.Key,
		"X-BAPI-TIMESTAMP":   ts,
		"X-BAPI-RECV-WINDOW": rw,
		"X-BAPI-SIGN":        sig,
	}
}

// WSAuthArgs returns the args of an {"op":"auth"} frame for the private and
// trade WebSocket streams: the key, an expiry one recv window ahead, and the
// signature over "GET/realtime"+expires.
func (h *HMACAuth) WSAuthArgs() []any {
	return h.WSAuthArgsAt(time.Now().UnixMilli())
}

// WSAuthArgsAt is like WSAuthArgs but lets the caller supply the current Unix
// millisecond timestamp.
func (h *HMACAuth) WSAuthArgsAt(unixMS int64) []any {
	expires := unixMS + h.recvWindow()
	sig := hmacSHA256Hex([]byte(h.Secret), "GET/realtime"+strconv.FormatInt(expires, 10))
	return []any{h.Key, expires, sig}
}

// Configured reports whether both key and secret are set.
func (h *HMACAuth) Configured() bool {
	return h != nil && h.Key != "" && h.Secret != ""
}

// String returns a redacted representation suitable for logging.
func (h *HMACAuth) String() string {
	redact := func(s string) string {
		if len(s) <= 4 {
			return "****"
		}
		return s[:4] + "****"
	}
	return fmt.Sprintf("HMACAuth{key=%s, secret=%s}", redact(h.Key), redact(h.Secret))
}

func (h *HMACAuth) recvWindow() int64 {
	if h.RecvWindow <= 0 {
		return DefaultRecvWindow
	}
	return h.RecvWindow
}

// hmacSHA256Hex computes HMAC-SHA256 of message using key and returns the
// lowercase hex digest.
func hmacSHA256Hex(key []byte, message string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}
