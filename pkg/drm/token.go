// Package drm mints and validates the short-lived tokens that gate all
// streaming access: stream session tokens, signed range URLs, and chapter
// stream tokens.
package drm

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/audiovault/audiovault/pkg/models"
)

// TokenType discriminates the three token kinds. A token of one kind is
// never accepted where another is expected.
type TokenType string

const (
	// TokenStreamSession authorizes streaming a whole file.
	TokenStreamSession TokenType = "stream"

	// TokenSignedURL authorizes streaming a time window of a file.
	TokenSignedURL TokenType = "signed-url"

	// TokenChapter authorizes streaming a single chapter.
	TokenChapter TokenType = "chapter"
)

// Claims is the authenticated payload of a DRM token.
type Claims struct {
	Type      TokenType
	FileID    string
	ChapterID string

	// StartMs/EndMs bound signed-URL tokens to a playback window.
	// Zero for other token types.
	StartMs int64
	EndMs   int64

	SessionID string
	DeviceID  string
	ExpiresAt time.Time
}

// Token wire format: base64url(payload) "." base64url(hmac-sha256(payload)).
// The payload is a fixed-order field list, so there is no parser ambiguity
// to exploit:
//
//	type|fileId|chapterId|startMs|endMs|sessionId|deviceId|expiresUnixMs
const payloadFields = 8

func (c *Claims) encode() []byte {
	parts := []string{
		string(c.Type),
		c.FileID,
		c.ChapterID,
		strconv.FormatInt(c.StartMs, 10),
		strconv.FormatInt(c.EndMs, 10),
		c.SessionID,
		c.DeviceID,
		strconv.FormatInt(c.ExpiresAt.UnixMilli(), 10),
	}
	return []byte(strings.Join(parts, "|"))
}

func decodeClaims(payload []byte) (*Claims, error) {
	parts := strings.Split(string(payload), "|")
	if len(parts) != payloadFields {
		return nil, models.ErrInvalidToken
	}
	startMs, err := strconv.ParseInt(parts[3], 10, 64)
	if err != nil {
		return nil, models.ErrInvalidToken
	}
	endMs, err := strconv.ParseInt(parts[4], 10, 64)
	if err != nil {
		return nil, models.ErrInvalidToken
	}
	expMs, err := strconv.ParseInt(parts[7], 10, 64)
	if err != nil {
		return nil, models.ErrInvalidToken
	}
	return &Claims{
		Type:      TokenType(parts[0]),
		FileID:    parts[1],
		ChapterID: parts[2],
		StartMs:   startMs,
		EndMs:     endMs,
		SessionID: parts[5],
		DeviceID:  parts[6],
		ExpiresAt: time.UnixMilli(expMs),
	}, nil
}

// Signer signs and verifies DRM tokens with a rotatable HMAC key. Rotation
// invalidates every outstanding token; clients re-issue through the mint
// endpoints, which re-check authorization anyway.
type Signer struct {
	mu      sync.RWMutex
	current []byte
	ttl     time.Duration
	now     func() time.Time
}

// NewSigner creates a Signer with the initial key and token lifetime.
func NewSigner(key []byte, ttl time.Duration) (*Signer, error) {
	if len(key) == 0 {
		return nil, fmt.Errorf("signing key must not be empty")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("token ttl must be positive")
	}
	return &Signer{
		current: append([]byte(nil), key...),
		ttl:     ttl,
		now:     time.Now,
	}, nil
}

// TTL returns the configured token lifetime.
func (s *Signer) TTL() time.Duration {
	return s.ttl
}

// Rotate swaps in a new signing key. Tokens signed with the displaced key
// fail verification from this point on.
func (s *Signer) Rotate(key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("signing key must not be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if subtle.ConstantTimeCompare(key, s.current) == 1 {
		return nil
	}
	s.current = append([]byte(nil), key...)
	return nil
}

func sign(key, payload []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(payload)
	return mac.Sum(nil)
}

// Sign stamps the expiry and returns the wire token.
func (s *Signer) Sign(claims Claims) (string, time.Time) {
	claims.ExpiresAt = s.now().Add(s.ttl)

	s.mu.RLock()
	key := s.current
	s.mu.RUnlock()

	payload := claims.encode()
	mac := sign(key, payload)
	token := base64.RawURLEncoding.EncodeToString(payload) + "." +
		base64.RawURLEncoding.EncodeToString(mac)
	return token, claims.ExpiresAt
}

// Verify checks the signature and expiry and returns the claims. An expired
// token with a valid signature yields ErrTokenExpired; everything else
// invalid yields ErrInvalidToken.
func (s *Signer) Verify(token string) (*Claims, error) {
	dot := strings.LastIndexByte(token, '.')
	if dot <= 0 {
		return nil, models.ErrInvalidToken
	}
	payload, err := base64.RawURLEncoding.DecodeString(token[:dot])
	if err != nil {
		return nil, models.ErrInvalidToken
	}
	mac, err := base64.RawURLEncoding.DecodeString(token[dot+1:])
	if err != nil {
		return nil, models.ErrInvalidToken
	}

	s.mu.RLock()
	current := s.current
	s.mu.RUnlock()

	if !hmac.Equal(mac, sign(current, payload)) {
		return nil, models.ErrInvalidToken
	}

	claims, err := decodeClaims(payload)
	if err != nil {
		return nil, err
	}
	if s.now().After(claims.ExpiresAt) {
		return nil, models.ErrTokenExpired
	}
	return claims, nil
}
