// Package auth issues and validates the short-lived session tokens that
// gate websocket upgrades. Tokens are stateless: validity is determined
// purely by HMAC signature and expiry, with no server-side session store.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SubprotocolPrefix is the websocket subprotocol convention clients use to
// carry their token through the upgrade handshake, since browsers cannot
// set arbitrary headers on a WebSocket.
const SubprotocolPrefix = "access_token."

var (
	// ErrNoToken means no access_token.* entry was offered in the handshake.
	ErrNoToken = errors.New("no access token subprotocol offered")

	// ErrInvalidToken means the offered token failed signature or expiry checks.
	ErrInvalidToken = errors.New("invalid or expired token")
)

// Issuer creates and verifies session tokens with a process-wide secret.
type Issuer struct {
	secret []byte
	expiry time.Duration
}

// NewIssuer returns an Issuer signing with secret; tokens expire after expiry.
func NewIssuer(secret string, expiry time.Duration) *Issuer {
	return &Issuer{secret: []byte(secret), expiry: expiry}
}

// Expiry returns the configured token lifetime.
func (i *Issuer) Expiry() time.Duration {
	return i.expiry
}

// Issue creates a new signed session token.
func (i *Issuer) Issue() (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(i.expiry)

	claims := jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// Validate checks the signature and expiry of a token string.
func (i *Issuer) Validate(tokenString string) error {
	token, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return i.secret, nil
	})
	if err != nil || !token.Valid {
		return ErrInvalidToken
	}
	return nil
}

// FromSubprotocols scans the subprotocols offered during a websocket
// upgrade for an access_token.* entry and validates the embedded token.
// On success it returns the exact matching subprotocol value, which the
// server must echo back in the handshake response — omitting it breaks
// the browser-side connection.
func (i *Issuer) FromSubprotocols(protocols []string) (string, error) {
	for _, proto := range protocols {
		if !strings.HasPrefix(proto, SubprotocolPrefix) {
			continue
		}
		if err := i.Validate(strings.TrimPrefix(proto, SubprotocolPrefix)); err != nil {
			return "", err
		}
		return proto, nil
	}
	return "", ErrNoToken
}
