// Package livekit signs LiveKit access tokens and verifies webhook signatures.
package livekit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const defaultTTL = time.Hour

// VideoGrant is the "video" claim LiveKit checks before allowing room operations.
type VideoGrant struct {
	Room         string `json:"room,omitempty"`
	RoomJoin     bool   `json:"roomJoin,omitempty"`
	RoomCreate   bool   `json:"roomCreate,omitempty"`
	RoomAdmin    bool   `json:"roomAdmin,omitempty"`
	CanPublish   *bool  `json:"canPublish,omitempty"`
	CanSubscribe *bool  `json:"canSubscribe,omitempty"`
}

// AccessToken holds everything needed to sign a LiveKit JWT.
type AccessToken struct {
	APIKey    string
	APISecret string
	Identity  string
	Name      string
	// Metadata is delivered to the participant on join; agents carry the business context here.
	Metadata string
	TTL      time.Duration
	Grant    VideoGrant
}

type claims struct {
	jwt.RegisteredClaims
	Name     string     `json:"name,omitempty"`
	Video    VideoGrant `json:"video"`
	Metadata string     `json:"metadata,omitempty"`
}

// Sign returns the HS256 signed token.
func (t AccessToken) Sign() (string, error) {
	if t.APIKey == "" || t.APISecret == "" {
		return "", errors.New("livekit api key/secret required")
	}
	ttl := t.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	now := time.Now()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    t.APIKey,
			Subject:   t.Identity,
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Name:     t.Name,
		Video:    t.Grant,
		Metadata: t.Metadata,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString([]byte(t.APISecret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// GenerateAccessToken creates a participant token that may join room.
func GenerateAccessToken(apiKey, apiSecret, room, identity string, ttlSeconds int) (string, error) {
	yes := true
	return AccessToken{
		APIKey:    apiKey,
		APISecret: apiSecret,
		Identity:  identity,
		Name:      identity,
		TTL:       time.Duration(ttlSeconds) * time.Second,
		Grant:     VideoGrant{Room: room, RoomJoin: true, CanPublish: &yes, CanSubscribe: &yes},
	}.Sign()
}

// ParseAccessToken verifies a token signed with apiSecret and returns its grant and identity.
func ParseAccessToken(token, apiSecret string) (VideoGrant, string, error) {
	var c claims
	_, err := jwt.ParseWithClaims(token, &c, func(*jwt.Token) (any, error) {
		return []byte(apiSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return VideoGrant{}, "", fmt.Errorf("parse token: %w", err)
	}
	return c.Video, c.Subject, nil
}

// VerifySignature checks a hex encoded HMAC-SHA256 of body. An empty secret disables the check.
func VerifySignature(secret string, body []byte, signature string) bool {
	if secret == "" {
		return true
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
