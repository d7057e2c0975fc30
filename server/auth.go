// Copyright 2025 The Moneta Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"

	"github.com/go-json-experiment/json"
	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/lestrrat-go/jwx/v3/jwt"
)

// requestBodyClaim is the JWT claim binding a push notification to the
// payload it was signed for.
const requestBodyClaim = "request_body_sha256"

// maxTokenAge is the acceptance window for signed notifications on the
// receiver side.
const maxTokenAge = 5 * time.Minute

// PushNotificationSenderAuth signs outgoing push notifications. Each
// notification carries a JWT with the issue time and a digest of the
// payload, verifiable against the JWKS the server publishes.
type PushNotificationSenderAuth struct {
	key    jwk.Key
	public jwk.Set
}

// NewPushNotificationSenderAuth generates a fresh RSA signing key.
func NewPushNotificationSenderAuth() (*PushNotificationSenderAuth, error) {
	raw, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("generate signing key: %w", err)
	}

	key, err := jwk.Import(raw)
	if err != nil {
		return nil, fmt.Errorf("import signing key: %w", err)
	}
	if err := key.Set(jwk.KeyIDKey, uuid.NewString()); err != nil {
		return nil, err
	}
	if err := key.Set(jwk.AlgorithmKey, jwa.RS256()); err != nil {
		return nil, err
	}

	pub, err := jwk.PublicKeyOf(key)
	if err != nil {
		return nil, fmt.Errorf("derive public key: %w", err)
	}
	set := jwk.NewSet()
	if err := set.AddKey(pub); err != nil {
		return nil, err
	}

	return &PushNotificationSenderAuth{key: key, public: set}, nil
}

// Sign produces the JWT for one notification payload.
func (a *PushNotificationSenderAuth) Sign(payload []byte) (string, error) {
	digest := sha256.Sum256(payload)
	token, err := jwt.NewBuilder().
		IssuedAt(time.Now().UTC()).
		Claim(requestBodyClaim, hex.EncodeToString(digest[:])).
		Build()
	if err != nil {
		return "", fmt.Errorf("build token: %w", err)
	}

	signed, err := jwt.Sign(token, jwt.WithKey(jwa.RS256(), a.key))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return string(signed), nil
}

// Keys returns the public key set notifications are verified against.
func (a *PushNotificationSenderAuth) Keys() jwk.Set {
	return a.public
}

// JWKSHandler serves the public key set, typically mounted at
// a2a.JWKSWellKnownPath.
func (a *PushNotificationSenderAuth) JWKSHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.MarshalWrite(w, a.public); err != nil {
			http.Error(w, "failed to encode JWKS", http.StatusInternalServerError)
		}
	}
}

// PushNotificationReceiverAuth verifies signed push notifications on the
// receiving side.
type PushNotificationReceiverAuth struct {
	keys jwk.Set
}

// NewPushNotificationReceiverAuth creates a receiver verifying against the
// given key set.
func NewPushNotificationReceiverAuth(keys jwk.Set) *PushNotificationReceiverAuth {
	return &PushNotificationReceiverAuth{keys: keys}
}

// FetchJWKS loads a key set from a JWKS endpoint.
func FetchJWKS(ctx context.Context, url string) (jwk.Set, error) {
	return jwk.Fetch(ctx, url)
}

// Verify checks the notification signature, its age, and that the token was
// issued for exactly this payload.
func (a *PushNotificationReceiverAuth) Verify(token string, payload []byte) error {
	parsed, err := jwt.Parse([]byte(token), jwt.WithKeySet(a.keys), jwt.WithValidate(true))
	if err != nil {
		return fmt.Errorf("parse notification token: %w", err)
	}

	if iat, ok := parsed.IssuedAt(); !ok || time.Since(iat) > maxTokenAge {
		return fmt.Errorf("notification token is too old")
	}

	var claimed string
	if err := parsed.Get(requestBodyClaim, &claimed); err != nil {
		return fmt.Errorf("notification token is missing the payload digest: %w", err)
	}
	digest := sha256.Sum256(payload)
	if claimed != hex.EncodeToString(digest[:]) {
		return fmt.Errorf("notification payload does not match the signed digest")
	}
	return nil
}
