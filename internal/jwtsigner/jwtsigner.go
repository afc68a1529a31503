// Package jwtsigner holds the process-wide key access tokens are signed with.
package jwtsigner

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

const minHMACKeyLen = 32

var (
	ErrWeakKey    = errors.New("hs256 signing key must be at least 32 bytes")
	ErrBadEd25519 = errors.New("invalid ed25519 private key size")
	ErrUnknownKID = errors.New("unknown key id")
)

// Signer signs and verifies JWTs with a single key, either an HS256 secret
// or an Ed25519 keypair.
type Signer struct {
	method jwt.SigningMethod
	sign   any
	verify any
	public ed25519.PublicKey
	KeyID  string
}

func NewHMAC(secret []byte, kid string) (*Signer, error) {
	if len(secret) < minHMACKeyLen {
		return nil, ErrWeakKey
	}
	key := append([]byte(nil), secret...)
	return &Signer{method: jwt.SigningMethodHS256, sign: key, verify: key, KeyID: kid}, nil
}

// NewEd25519FromBase64 creates a signer from base64-encoded ed25519 private
// key bytes. An empty privB64 generates an ephemeral key for local dev.
func NewEd25519FromBase64(privB64, kid string) (*Signer, error) {
	var priv ed25519.PrivateKey
	if privB64 == "" {
		_, generated, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("generate ed25519 key: %w", err)
		}
		priv = generated
	} else {
		raw, err := base64.StdEncoding.DecodeString(privB64)
		if err != nil {
			return nil, fmt.Errorf("decode ed25519 key: %w", err)
		}
		if len(raw) != ed25519.PrivateKeySize {
			return nil, ErrBadEd25519
		}
		priv = ed25519.PrivateKey(raw)
	}
	pub := priv.Public().(ed25519.PublicKey)
	return &Signer{method: jwt.SigningMethodEdDSA, sign: priv, verify: pub, public: pub, KeyID: kid}, nil
}

func (s *Signer) Alg() string { return s.method.Alg() }

func (s *Signer) Sign(claims jwt.Claims) (string, error) {
	t := jwt.NewWithClaims(s.method, claims)
	if s.KeyID != "" {
		t.Header["kid"] = s.KeyID
	}
	return t.SignedString(s.sign)
}

// Keyfunc resolves the verification key for jwt.Parse. Tokens naming a
// different kid are refused.
func (s *Signer) Keyfunc(t *jwt.Token) (any, error) {
	if kid, ok := t.Header["kid"].(string); ok && s.KeyID != "" && kid != s.KeyID {
		return nil, ErrUnknownKID
	}
	return s.verify, nil
}

// PublicJWK renders the public key for a JWKS endpoint. Symmetric keys have
// nothing to publish and report false.
func (s *Signer) PublicJWK() (map[string]any, bool) {
	if s.public == nil {
		return nil, false
	}
	return map[string]any{
		"kty": "OKP",
		"crv": "Ed25519",
		"alg": "EdDSA",
		"use": "sig",
		"kid": s.KeyID,
		"x":   base64.RawURLEncoding.EncodeToString(s.public),
	}, true
}
