package security

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fastParams = Argon2Params{Time: 1, Memory: 8 * 1024, Threads: 1, KeyLen: 32, SaltLen: 16}

func TestPassword_RoundTrip(t *testing.T) {
	hash, err := HashPasswordWithParams("correct horse", fastParams)
	require.NoError(t, err)

	ok, err := VerifyPassword("correct horse", hash)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = VerifyPassword("wrong horse", hash)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPassword_MalformedHash(t *testing.T) {
	_, err := VerifyPassword("x", []byte("$bcrypt$nope"))
	assert.ErrorIs(t, err, ErrMalformedHash)
}

func TestAccessToken_RoundTrip(t *testing.T) {
	token, err := GenerateAccessToken("secret", AccessTokenInput{
		UserID:    "u1",
		SessionID: "s1",
		DeviceID:  "d1",
		Email:     "a@example.com",
		Role:      "reporter",
		IssuedAt:  time.Now(),
		TTL:       time.Minute,
	})
	require.NoError(t, err)

	claims, err := ParseAccessToken(token, "secret")
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, "s1", claims.SessionID)
	assert.Equal(t, "d1", claims.DeviceID)
	assert.Equal(t, "a@example.com", claims.Email)

	_, err = ParseAccessToken(token, "other-secret")
	assert.Error(t, err)
}

func TestAccessToken_Expired(t *testing.T) {
	token, err := GenerateAccessToken("secret", AccessTokenInput{
		UserID:   "u1",
		IssuedAt: time.Now().Add(-time.Hour),
		TTL:      time.Minute,
	})
	require.NoError(t, err)

	_, err = ParseAccessToken(token, "secret")
	assert.Error(t, err)
}

func TestRefreshToken_HashMatches(t *testing.T) {
	token, hash, err := GenerateRefreshToken(32)
	require.NoError(t, err)
	assert.Equal(t, hash, HashRefreshToken(token))
}

func TestSignRequest_Validates(t *testing.T) {
	body := []byte(`{"severity":3}`)
	req := httptest.NewRequest("POST", "/api/v1/reports?x=1", nil)

	require.NoError(t, SignRequest(req, "sig-secret", "device-1", body, time.Now()))

	date, nonce, sig, err := ExtractSignatureHeaders(req.Header)
	require.NoError(t, err)

	path, query := CanonicalPath(req)
	assert.True(t, ValidateSignature("sig-secret", "device-1", sig, "POST", path, query, body, date, nonce))
	assert.False(t, ValidateSignature("sig-secret", "device-2", sig, "POST", path, query, body, date, nonce))
	assert.False(t, ValidateSignature("sig-secret", "device-1", sig, "POST", path, query, []byte(`{}`), date, nonce))
}

func TestExtractSignatureHeaders_Missing(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	_, _, _, err := ExtractSignatureHeaders(req.Header)
	assert.Error(t, err)
}
