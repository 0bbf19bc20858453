package storage

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrTokenMalformed = errors.New("malformed download token")
	ErrTokenSignature = errors.New("download token signature mismatch")
	ErrTokenExpired   = errors.New("download token expired")
)

// DownloadGrant names the certificate a download token was issued for and its holder.
type DownloadGrant struct {
	CertificateID string
	LearnerID     string
	Number        string
	ExpiresAt     time.Time
}

type grantClaims struct {
	CertificateID string `json:"cid"`
	LearnerID     string `json:"sub"`
	Number        string `json:"num"`
	ExpiresAt     int64  `json:"exp"`
}

// DownloadSigner issues HMAC-signed certificate download tokens of the form
// base64url(claims) "." base64url(mac). Tokens carry no storage path; the holder
// resolves the document from the certificate record.
type DownloadSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewDownloadSigner constructs a signer. A non-positive ttl defaults to 30 minutes.
func NewDownloadSigner(secret string, ttl time.Duration) *DownloadSigner {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &DownloadSigner{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Sign returns a token for grant and its expiry. grant.ExpiresAt is ignored.
func (s *DownloadSigner) Sign(grant DownloadGrant) (string, time.Time, error) {
	if len(s.secret) == 0 {
		return "", time.Time{}, errors.New("download signing secret missing")
	}
	if grant.CertificateID == "" || grant.LearnerID == "" || grant.Number == "" {
		return "", time.Time{}, errors.New("download grant requires certificate, learner and number")
	}
	expiresAt := s.now().Add(s.ttl).Truncate(time.Second)
	raw, err := json.Marshal(grantClaims{
		CertificateID: grant.CertificateID,
		LearnerID:     grant.LearnerID,
		Number:        grant.Number,
		ExpiresAt:     expiresAt.Unix(),
	})
	if err != nil {
		return "", time.Time{}, fmt.Errorf("encode download grant: %w", err)
	}
	payload := base64.RawURLEncoding.EncodeToString(raw)
	return payload + "." + base64.RawURLEncoding.EncodeToString(s.mac(payload)), expiresAt, nil
}

// Verify checks the token signature and expiry and returns the grant it carries.
func (s *DownloadSigner) Verify(token string) (DownloadGrant, error) {
	payload, sig, ok := strings.Cut(token, ".")
	if !ok || payload == "" || sig == "" {
		return DownloadGrant{}, ErrTokenMalformed
	}
	given, err := base64.RawURLEncoding.DecodeString(sig)
	if err != nil {
		return DownloadGrant{}, ErrTokenMalformed
	}
	if !hmac.Equal(given, s.mac(payload)) {
		return DownloadGrant{}, ErrTokenSignature
	}

	raw, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return DownloadGrant{}, ErrTokenMalformed
	}
	var claims grantClaims
	if err := json.Unmarshal(raw, &claims); err != nil {
		return DownloadGrant{}, fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	}
	expiresAt := time.Unix(claims.ExpiresAt, 0)
	if !s.now().Before(expiresAt) {
		return DownloadGrant{}, ErrTokenExpired
	}
	return DownloadGrant{
		CertificateID: claims.CertificateID,
		LearnerID:     claims.LearnerID,
		Number:        claims.Number,
		ExpiresAt:     expiresAt,
	}, nil
}

func (s *DownloadSigner) mac(payload string) []byte {
	h := hmac.New(sha256.New, s.secret)
	_, _ = h.Write([]byte(payload))
	return h.Sum(nil)
}
