package common

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"strconv"
	"time"
)

// DefaultHMACSecret is the shared secret used when KB_HMAC_SECRET isn't set. Server and clients must agree on it.
const DefaultHMACSecret = "kinetic-ball-v1-shared-hmac-secret-2024"

// HMACSecret returns the shared secret, honouring the KB_HMAC_SECRET environment variable
func HMACSecret() []byte {
	if s := os.Getenv("KB_HMAC_SECRET"); s != "" {
		return []byte(s)
	}
	return []byte(DefaultHMACSecret)
}

// UnixMinutes converts a time to the minute resolution used by X-Client-Time
func UnixMinutes(t time.Time) int64 {
	return t.Unix() / 60
}

// ComputeHMAC returns the hex HMAC-SHA256 of "{version}:{timestamp}" keyed by secret
func ComputeHMAC(version string, timestamp int64, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(version + ":" + strconv.FormatInt(timestamp, 10)))
	return hex.EncodeToString(mac.Sum(nil))
}

// ValidateHMAC checks a hex token against the expected digest in constant time
func ValidateHMAC(version string, timestamp int64, token string, secret []byte) bool {
	given, err := hex.DecodeString(token)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(version + ":" + strconv.FormatInt(timestamp, 10)))
	return hmac.Equal(given, mac.Sum(nil))
}

// AuthHeaders returns the three headers that must accompany every registry request
func AuthHeaders(version string, secret []byte, now time.Time) map[string]string {
	timestamp := UnixMinutes(now)
	return map[string]string{
		HeaderClientVersion: version,
		HeaderClientTime:    strconv.FormatInt(timestamp, 10),
		HeaderClientToken:   ComputeHMAC(version, timestamp, secret),
	}
}
