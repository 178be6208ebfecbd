package security

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const (
	HeaderSignature = "X-Flood-Signature"
	HeaderDate      = "X-Flood-Date"
	HeaderNonce     = "X-Flood-Nonce"
)

// NonceStore records a nonce once; Claim reports false when it was already seen.
type NonceStore interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

func ComputeBodyHash(body []byte) string {
	sum := sha256.Sum256(body)
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func ComputeSignature(secret string, deviceID string, method string, path string, query string, bodyHash string, date string, nonce string) string {
	data := strings.Join([]string{
		deviceID,
		strings.ToUpper(method),
		path,
		query,
		bodyHash,
		date,
		nonce,
	}, "\n")

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(data))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func ValidateSignature(secret string, deviceID string, signature string, method string, path string, query string, body []byte, date string, nonce string) bool {
	expected := ComputeSignature(secret, deviceID, method, path, query, ComputeBodyHash(body), date, nonce)
	return hmac.Equal([]byte(signature), []byte(expected))
}

// SignRequest sets the signature headers on an outgoing request.
func SignRequest(req *http.Request, secret string, deviceID string, body []byte, now time.Time) error {
	nonceBuf := make([]byte, 16)
	if _, err := rand.Read(nonceBuf); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}
	nonce := base64.RawURLEncoding.EncodeToString(nonceBuf)
	date := now.UTC().Format(time.RFC3339)

	path, query := CanonicalPath(req)
	signature := ComputeSignature(secret, deviceID, req.Method, path, query, ComputeBodyHash(body), date, nonce)

	req.Header.Set(HeaderDate, date)
	req.Header.Set(HeaderNonce, nonce)
	req.Header.Set(HeaderSignature, signature)
	return nil
}

func ExtractSignatureHeaders(h http.Header) (date string, nonce string, signature string, err error) {
	date = h.Get(HeaderDate)
	nonce = h.Get(HeaderNonce)
	signature = h.Get(HeaderSignature)

	if date == "" || nonce == "" || signature == "" {
		return "", "", "", fmt.Errorf("missing signature headers")
	}
	return date, nonce, signature, nil
}

func CanonicalPath(r *http.Request) (string, string) {
	return r.URL.Path, r.URL.RawQuery
}
