// Package signing authenticates service-to-service HTTP calls with an
// HMAC-SHA256 digest over timestamp, method, path and body.
package signing

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	HeaderTimestamp = "x-timestamp"
	HeaderSignature = "x-signature"

	DefaultMaxSkew = 5 * time.Minute
)

var (
	ErrUnauthorized   = errors.New("transport_unauthorized")
	ErrMissingHeaders = fmt.Errorf("%w: missing signature headers", ErrUnauthorized)
	ErrStaleTimestamp = fmt.Errorf("%w: timestamp outside freshness window", ErrUnauthorized)
	ErrBadSignature   = fmt.Errorf("%w: signature mismatch", ErrUnauthorized)
	ErrEmptySecret    = errors.New("signing secret is empty")

	errInvalidTimestamp = fmt.Errorf("%w: malformed timestamp", ErrUnauthorized)
)

// Sign returns the lowercase hex HMAC-SHA256 of "{ts}|{method}|{path}|{body}".
func Sign(secret []byte, timestamp, method, path string, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(timestamp))
	mac.Write([]byte{'|'})
	mac.Write([]byte(strings.ToUpper(method)))
	mac.Write([]byte{'|'})
	mac.Write([]byte(path))
	mac.Write([]byte{'|'})
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// IsMultipart reports whether a body with this content type is signed as empty.
func IsMultipart(contentType string) bool {
	if contentType == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.HasPrefix(strings.ToLower(contentType), "multipart/")
	}
	return strings.HasPrefix(mediaType, "multipart/")
}

type Signer struct {
	secret []byte
	now    func() time.Time
}

func NewSigner(secret string) (*Signer, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	return &Signer{secret: []byte(secret), now: time.Now}, nil
}

// Headers computes the timestamp and signature for one outbound call. path is
// the decoded path, as the receiver sees it in r.URL.Path.
func (s *Signer) Headers(method, path string, body []byte) (string, string) {
	ts := strconv.FormatInt(s.now().UnixMilli(), 10)
	return ts, Sign(s.secret, ts, method, path, body)
}

// SignRequest attaches x-timestamp and x-signature to r. body must be the exact
// bytes that will be sent; it is ignored for multipart requests.
func (s *Signer) SignRequest(r *http.Request, body []byte) {
	if IsMultipart(r.Header.Get("Content-Type")) {
		body = nil
	}
	ts, sig := s.Headers(r.Method, r.URL.Path, body)
	r.Header.Set(HeaderTimestamp, ts)
	r.Header.Set(HeaderSignature, sig)
}

type Verifier struct {
	secret  []byte
	maxSkew time.Duration
	now     func() time.Time
}

func NewVerifier(secret string, maxSkew time.Duration) (*Verifier, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	if maxSkew <= 0 {
		maxSkew = DefaultMaxSkew
	}
	return &Verifier{secret: []byte(secret), maxSkew: maxSkew, now: time.Now}, nil
}

// Verify checks the signature headers of r against its method, path and raw
// body. The body is read fully and restored so handlers can decode it again.
func (v *Verifier) Verify(r *http.Request) error {
	ts := r.Header.Get(HeaderTimestamp)
	sig := r.Header.Get(HeaderSignature)
	if ts == "" || sig == "" {
		return ErrMissingHeaders
	}

	millis, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return errInvalidTimestamp
	}
	skew := v.now().Sub(time.UnixMilli(millis))
	if skew < 0 {
		skew = -skew
	}
	if skew > v.maxSkew {
		return ErrStaleTimestamp
	}

	var body []byte
	if !IsMultipart(r.Header.Get("Content-Type")) && r.Body != nil {
		body, err = io.ReadAll(r.Body)
		if err != nil {
			return fmt.Errorf("%w: read body: %v", ErrUnauthorized, err)
		}
		r.Body.Close()
		r.Body = io.NopCloser(bytes.NewReader(body))
	}

	expected := Sign(v.secret, ts, r.Method, r.URL.Path, body)
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(sig))) {
		return ErrBadSignature
	}
	return nil
}
