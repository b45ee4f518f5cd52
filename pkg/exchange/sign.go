package exchange

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// signedRequest carries the per-request auth material for a signed REST call. Mirrors the
// access-key/nonce/timestamp/HMAC shape common to exchange APIs (grounded on the Binance spot
// client's query-string HMAC signing, generalized to a ticket/nonce style payload).
type signedRequest struct {
	AccessKey string
	Nonce     string
	TimestampMs int64
	Signature string
}

// sign computes the request token for payload using accessKey/secret. The payload is whatever
// canonical string the caller built from the request's query parameters plus nonce and timestamp;
// callers must build it deterministically so the exchange can reproduce the signature.
func sign(payload, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// newSignedRequest builds the auth envelope for one outbound call. ts comes from the client's
// timeSync.Now(), which applies the measured server clock offset (zero with the local-clock time
// source exchange.New installs). The secret itself is never retained in the returned struct;
// only the computed signature is.
func newSignedRequest(accessKey, secret, canonicalPayload string, ts int64) signedRequest {
	nonce := uuid.NewString()
	payload := fmt.Sprintf("%s&nonce=%s&timestamp=%d", canonicalPayload, nonce, ts)
	return signedRequest{
		AccessKey:   accessKey,
		Nonce:       nonce,
		TimestampMs: ts,
		Signature:   sign(payload, secret),
	}
}

// maskSecret never lets a credential reach a log line (invariant I4: secrets never logged).
func maskSecret(s string) string {
	return "***"
}
