package webhook

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const signaturePrefix = "sha256="

var (
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrStaleDelivery    = errors.New("webhook timestamp outside tolerance")
)

// Sign returns the signature header value: an HMAC-SHA256 over
// "<timestamp>.<body>", hex encoded behind a "sha256=" prefix.
func Sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%s.", timestamp)
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

func Verify(secret, timestamp, signature string, body []byte) error {
	digest, ok := strings.CutPrefix(signature, signaturePrefix)
	if !ok || digest == "" {
		return ErrInvalidSignature
	}
	if !hmac.Equal([]byte(Sign(secret, timestamp, body)), []byte(signature)) {
		return ErrInvalidSignature
	}
	return nil
}

// VerifyRequest checks an incoming delivery and returns its body. Deliveries
// stamped further than tolerance from now are refused; a zero tolerance skips
// the freshness check. The request body is replaced so handlers can read it
// again.
func VerifyRequest(r *http.Request, secret string, tolerance time.Duration, now time.Time) ([]byte, error) {
	timestamp := r.Header.Get(HeaderTimestamp)
	sent, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return nil, ErrInvalidSignature
	}
	if tolerance > 0 {
		skew := now.Sub(time.Unix(sent, 0))
		if skew < 0 {
			skew = -skew
		}
		if skew > tolerance {
			return nil, ErrStaleDelivery
		}
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, fmt.Errorf("read webhook body: %w", err)
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	if err := Verify(secret, timestamp, r.Header.Get(HeaderSignature), body); err != nil {
		return nil, err
	}
	return body, nil
}
