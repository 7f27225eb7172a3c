// Package auth computes Paradise request signatures for REST and stream access.
package auth

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"net/http"
	"strconv"
	"time"

	"github.com/quantfabric/paradise/errs"
	"github.com/quantfabric/paradise/internal/clock"
)

const (
	// HeaderAPIKey carries the account API key on authenticated REST calls.
	HeaderAPIKey = "request-api"
	// HeaderNonce carries the epoch-millisecond nonce.
	HeaderNonce = "request-nonce"
	// HeaderSignature carries the hex HMAC-SHA384 signature.
	HeaderSignature = "request-sign"

	// wsSignPrefix is the fixed string signed together with the expiry for
	// stream authentication.
	wsSignPrefix = "/ws/futures"
	// wsAuthExpirySkew is added to the current time when building the stream
	// auth expiry.
	wsAuthExpirySkew = 5 // seconds
)

// WSAuthMessage is the stream control message that authenticates a private
// session.
type WSAuthMessage struct {
	Op   string   `json:"op"`
	Args []string `json:"args"`
}

// Signer holds the account credentials and signs outgoing requests. Methods
// are pure functions of their input and the wall clock.
type Signer struct {
	apiKey string
	secret []byte
	clock  clock.Clock
}

// NewSigner validates the credential pair and returns a signer. Malformed
// credentials are a construction-time error.
func NewSigner(apiKey, secret string, clk clock.Clock) (*Signer, error) {
	if apiKey == "" || secret == "" {
		return nil, errs.New("auth/signer", errs.CodeConfig, errs.WithMessage("api key and secret required"))
	}
	if clk == nil {
		clk = clock.System{}
	}
	return &Signer{apiKey: apiKey, secret: []byte(secret), clock: clk}, nil
}

// SignREST attaches the authentication headers for a REST call. The signed
// message is path + nonce, with the raw body appended for POST requests.
func (s *Signer) SignREST(method, path string, body []byte, headers http.Header) {
	nonce := strconv.FormatInt(s.clock.Now().UnixMilli(), 10)
	message := path + nonce
	if method == http.MethodPost && len(body) > 0 {
		message += string(body)
	}
	headers.Set(HeaderAPIKey, s.apiKey)
	headers.Set(HeaderNonce, nonce)
	headers.Set(HeaderSignature, s.sign(message))
}

// WSAuthPayload builds the authKeyExpires control message for a private
// stream session. The expiry is the current time rounded to seconds plus a
// fixed skew, in epoch milliseconds.
func (s *Signer) WSAuthPayload() WSAuthMessage {
	expires := strconv.FormatInt((s.clock.Now().Round(time.Second).Unix()+wsAuthExpirySkew)*1000, 10)
	return WSAuthMessage{
		Op:   "authKeyExpires",
		Args: []string{s.apiKey, expires, s.sign(wsSignPrefix + expires)},
	}
}

func (s *Signer) sign(message string) string {
	mac := hmac.New(sha512.New384, s.secret)
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}
