package httpapi

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"
)

const sessionCookieName = "leadconsole_session"

type authError struct {
	status  int
	code    string
	message string
}

func (e *authError) Error() string {
	return e.message
}

type sessionClaims struct {
	Subject string
	Exp     int64
}

// mintSessionToken issues an HS256-signed session token for the operator.
func mintSessionToken(secret, subject string, now time.Time, ttl time.Duration) string {
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`))
	payload, _ := json.Marshal(map[string]any{
		"sub": subject,
		"aud": "leadconsole",
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	})
	body := header + "." + base64.RawURLEncoding.EncodeToString(payload)
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(body))
	return body + "." + base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func verifySessionToken(secret, token string, now time.Time) (sessionClaims, *authError) {
	parts := strings.Split(strings.TrimSpace(token), ".")
	if len(parts) != 3 {
		return sessionClaims{}, &authError{status: 401, code: "unauthorized", message: "invalid session token"}
	}

	headerBytes, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return sessionClaims{}, &authError{status: 401, code: "unauthorized", message: "invalid token header"}
	}
	var header struct {
		Alg string `json:"alg"`
	}
	if err := json.Unmarshal(headerBytes, &header); err != nil || header.Alg != "HS256" {
		return sessionClaims{}, &authError{status: 401, code: "unauthorized", message: "unsupported token algorithm"}
	}

	payloadBytes, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return sessionClaims{}, &authError{status: 401, code: "unauthorized", message: "invalid token payload"}
	}
	sigBytes, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return sessionClaims{}, &authError{status: 401, code: "unauthorized", message: "invalid token signature"}
	}

	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(parts[0] + "." + parts[1]))
	if !hmac.Equal(sigBytes, mac.Sum(nil)) {
		return sessionClaims{}, &authError{status: 401, code: "unauthorized", message: "token signature mismatch"}
	}

	var payload struct {
		Sub string `json:"sub"`
		Aud string `json:"aud"`
		Exp int64  `json:"exp"`
	}
	if err := json.Unmarshal(payloadBytes, &payload); err != nil {
		return sessionClaims{}, &authError{status: 401, code: "unauthorized", message: "invalid token payload"}
	}
	if payload.Aud != "leadconsole" {
		return sessionClaims{}, &authError{status: 401, code: "unauthorized", message: "invalid aud claim"}
	}
	if payload.Sub == "" {
		return sessionClaims{}, &authError{status: 401, code: "unauthorized", message: "missing sub claim"}
	}
	if now.Unix() >= payload.Exp {
		return sessionClaims{}, &authError{status: 401, code: "unauthorized", message: "session expired"}
	}
	return sessionClaims{Subject: payload.Sub, Exp: payload.Exp}, nil
}
