package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Header names carried by signed oracle requests.
const (
	HeaderKey       = "X-Geomarket-Key"
	HeaderTimestamp = "X-Geomarket-Timestamp"
	HeaderSignature = "X-Geomarket-Signature"
)

// ErrBadSignature is returned by Verify for a missing, stale or forged
// signature.
var ErrBadSignature = errors.New("crypto: bad request signature")

// HMACAuth signs outgoing oracle requests as
// base64(HMAC-SHA256(secret, timestamp+method+path+body)).
type HMACAuth struct {
	Key    string
	Secret string
}

// Sign sets the signature headers on req for the given body.
func (h *HMACAuth) Sign(req *http.Request, body []byte) {
	h.SignAt(req, body, time.Now().Unix())
}

// SignAt is Sign with a caller-supplied Unix timestamp.
func (h *HMACAuth) SignAt(req *http.Request, body []byte, unixTS int64) {
	ts := strconv.FormatInt(unixTS, 10)
	req.Header.Set(HeaderKey, h.Key)
	req.Header.Set(HeaderTimestamp, ts)
	req.Header.Set(HeaderSignature, h.signature(ts, req.Method, req.URL.Path, body))
}

// Verify checks the signature headers of req against body. Timestamps more
// than skew away from now are rejected.
func (h *HMACAuth) Verify(req *http.Request, body []byte, now time.Time, skew time.Duration) error {
	ts := req.Header.Get(HeaderTimestamp)
	sig := req.Header.Get(HeaderSignature)
	if ts == "" || sig == "" || req.Header.Get(HeaderKey) != h.Key {
		return ErrBadSignature
	}
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: timestamp %q", ErrBadSignature, ts)
	}
	if d := now.Sub(time.Unix(unix, 0)); d > skew || d < -skew {
		return fmt.Errorf("%w: timestamp outside window", ErrBadSignature)
	}
	want := h.signature(ts, req.Method, req.URL.Path, body)
	if !hmac.Equal([]byte(sig), []byte(want)) {
		return ErrBadSignature
	}
	return nil
}

func (h *HMACAuth) signature(ts, method, path string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(h.Secret))
	mac.Write([]byte(ts + method + path))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
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
