// auth.go adds the two ambient-security primitives spec §4.7 calls for
// beyond blob encryption: bcrypt password hashing and HMAC-signed bearer
// tokens. These sit in pkg/security (the teacher's crypto-primitives
// package) rather than pkg/auth, which owns the user/token *lifecycle*
// (store, mint, verify) built on top of these primitives.
package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// HashPassword bcrypt-hashes a plaintext password for storage.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// VerifyPassword checks a plaintext password against a bcrypt hash.
func VerifyPassword(hash, password string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return fmt.Errorf("verify password: %w", err)
	}
	return nil
}

type tokenPayload struct {
	Subject   string `json:"sub"`
	IssuedAt  int64  `json:"iat"`
	ExpiresAt int64  `json:"exp"` // 0 means no expiry
}

// SignToken mints a compact base64(payload).base64(sig) bearer token
// carrying subject, issued-at, and expiry, verifiable by anyone holding
// key without a server-side lookup table. ttl <= 0 mints a token that
// never expires.
func SignToken(key []byte, subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	p := tokenPayload{Subject: subject, IssuedAt: now.Unix()}
	if ttl > 0 {
		p.ExpiresAt = now.Add(ttl).Unix()
	}
	payload, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	payloadB64 := base64.RawURLEncoding.EncodeToString(payload)
	sig := sign(key, payloadB64)
	return payloadB64 + "." + base64.RawURLEncoding.EncodeToString(sig), nil
}

// VerifyToken checks the token's signature and expiry (with leeway
// tolerance for clock skew) and returns its subject.
func VerifyToken(key []byte, token string, leeway time.Duration) (string, error) {
	dot := -1
	for i := len(token) - 1; i >= 0; i-- {
		if token[i] == '.' {
			dot = i
			break
		}
	}
	if dot < 0 {
		return "", fmt.Errorf("verify token: malformed token")
	}
	payloadB64, sigB64 := token[:dot], token[dot+1:]

	sig, err := base64.RawURLEncoding.DecodeString(sigB64)
	if err != nil {
		return "", fmt.Errorf("verify token: malformed signature: %w", err)
	}
	expected := sign(key, payloadB64)
	if subtle.ConstantTimeCompare(sig, expected) != 1 {
		return "", fmt.Errorf("verify token: signature mismatch")
	}

	payload, err := base64.RawURLEncoding.DecodeString(payloadB64)
	if err != nil {
		return "", fmt.Errorf("verify token: malformed payload: %w", err)
	}
	var p tokenPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return "", fmt.Errorf("verify token: malformed payload: %w", err)
	}

	if p.ExpiresAt != 0 {
		expiry := time.Unix(p.ExpiresAt, 0).Add(leeway)
		if time.Now().After(expiry) {
			return "", fmt.Errorf("verify token: expired")
		}
	}
	return p.Subject, nil
}

func sign(key []byte, payloadB64 string) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(payloadB64))
	return mac.Sum(nil)
}
