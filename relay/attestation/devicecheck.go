// Package attestation verifies Apple DeviceCheck tokens for device-bound
// authentication.
package attestation

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"net/http"
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/golang-jwt/jwt"
	"github.com/google/uuid"

	"github.com/proxed/gateway/common/client"
	"github.com/proxed/gateway/common/config"
)

// Credentials is the per-project DeviceCheck signing material.
type Credentials struct {
	// AppleTeamID is the 10-character Apple developer team identifier.
	AppleTeamID string
	// KeyID identifies the p8 signing key within the team.
	KeyID string
	// PrivateKeyPEM is the ES256 private key in PEM form.
	PrivateKeyPEM string
}

// validateRequest is the body Apple expects on validate_device_token.
type validateRequest struct {
	DeviceToken   string `json:"device_token"`
	TransactionID string `json:"transaction_id"`
	Timestamp     int64  `json:"timestamp"`
}

// signClientToken builds the short-lived ES256 JWT that authenticates the
// gateway to Apple's DeviceCheck API.
func signClientToken(creds Credentials, now time.Time) (string, error) {
	key, err := jwt.ParseECPrivateKeyFromPEM([]byte(creds.PrivateKeyPEM))
	if err != nil {
		return "", errors.Wrap(err, "parse devicecheck private key")
	}
	return signWithKey(creds, key, now)
}

func signWithKey(creds Credentials, key *ecdsa.PrivateKey, now time.Time) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodES256, jwt.StandardClaims{
		Issuer:   creds.AppleTeamID,
		IssuedAt: now.Unix(),
		// Apple rejects tokens valid longer than 20 minutes.
		ExpiresAt: now.Add(10 * time.Minute).Unix(),
	})
	token.Header["kid"] = creds.KeyID

	signed, err := token.SignedString(key)
	if err != nil {
		return "", errors.Wrap(err, "sign devicecheck client token")
	}
	return signed, nil
}

// Verify submits a device token to Apple's DeviceCheck service. Only an HTTP
// 200 answer counts as a valid device; every other outcome, including
// transport failure, is a verification failure.
func Verify(ctx context.Context, creds Credentials, deviceToken string) error {
	clientToken, err := signClientToken(creds, time.Now())
	if err != nil {
		return err
	}

	body, err := json.Marshal(validateRequest{
		DeviceToken:   deviceToken,
		TransactionID: uuid.NewString(),
		Timestamp:     time.Now().UnixMilli(),
	})
	if err != nil {
		return errors.Wrap(err, "marshal devicecheck request")
	}

	url := config.DeviceCheckEndpoint + "/v1/validate_device_token"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "build devicecheck request")
	}
	req.Header.Set("Authorization", "Bearer "+clientToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.AttestationClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "call devicecheck service")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("devicecheck rejected token with status %d", resp.StatusCode)
	}
	return nil
}
