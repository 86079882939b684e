package attestation

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proxed/gateway/common/client"
	"github.com/proxed/gateway/common/config"
)

func init() {
	client.Init()
}

func testKey(t *testing.T) (*ecdsa.PrivateKey, string) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	der, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der})
	return key, string(pemBytes)
}

func TestSignClientToken(t *testing.T) {
	key, pemStr := testKey(t)
	creds := Credentials{
		AppleTeamID:   "TEAM123456",
		KeyID:         "KEY9876543",
		PrivateKeyPEM: pemStr,
	}

	now := time.Unix(1_700_000_000, 0)
	signed, err := signClientToken(creds, now)
	require.NoError(t, err)

	parsed, err := jwt.ParseWithClaims(signed, &jwt.StandardClaims{}, func(tok *jwt.Token) (any, error) {
		return &key.PublicKey, nil
	})
	require.NoError(t, err)
	require.True(t, parsed.Valid)

	assert.Equal(t, "KEY9876543", parsed.Header["kid"])
	claims := parsed.Claims.(*jwt.StandardClaims)
	assert.Equal(t, "TEAM123456", claims.Issuer)
	assert.Equal(t, now.Unix(), claims.IssuedAt)
	assert.Equal(t, now.Add(10*time.Minute).Unix(), claims.ExpiresAt)
}

func TestSignClientTokenBadPEM(t *testing.T) {
	_, err := signClientToken(Credentials{PrivateKeyPEM: "not a key"}, time.Now())
	assert.Error(t, err)
}

func TestVerify(t *testing.T) {
	_, pemStr := testKey(t)
	creds := Credentials{
		AppleTeamID:   "TEAM123456",
		KeyID:         "KEY9876543",
		PrivateKeyPEM: pemStr,
	}

	var gotPath string
	var gotAuth string
	var gotBody validateRequest
	status := http.StatusOK

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		w.WriteHeader(status)
	}))
	defer srv.Close()

	orig := config.DeviceCheckEndpoint
	config.DeviceCheckEndpoint = srv.URL
	defer func() { config.DeviceCheckEndpoint = orig }()

	err := Verify(context.Background(), creds, "device-token-abc")
	require.NoError(t, err)
	assert.Equal(t, "/v1/validate_device_token", gotPath)
	assert.Contains(t, gotAuth, "Bearer ")
	assert.Equal(t, "device-token-abc", gotBody.DeviceToken)
	assert.NotEmpty(t, gotBody.TransactionID)
	assert.NotZero(t, gotBody.Timestamp)

	// Anything but 200 is a rejection, including Apple's "bad device token".
	status = http.StatusBadRequest
	assert.Error(t, Verify(context.Background(), creds, "device-token-abc"))

	status = http.StatusInternalServerError
	assert.Error(t, Verify(context.Background(), creds, "device-token-abc"))
}

func TestVerifyUnreachableService(t *testing.T) {
	_, pemStr := testKey(t)
	creds := Credentials{AppleTeamID: "T", KeyID: "K", PrivateKeyPEM: pemStr}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	orig := config.DeviceCheckEndpoint
	config.DeviceCheckEndpoint = srv.URL
	defer func() { config.DeviceCheckEndpoint = orig }()

	assert.Error(t, Verify(context.Background(), creds, "tok"))
}
