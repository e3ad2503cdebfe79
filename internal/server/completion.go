package server

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// CompletionClaims bind a completion token to one job and its audit entry,
// so only the worker that received the job can close the trail for it.
type CompletionClaims struct {
	JobID   string `json:"job_id"`
	AuditID string `json:"audit_id"`
	jwt.RegisteredClaims
}

// CompletionSigner mints and verifies the HS256 tokens handed to workers at
// admission time and presented back on POST /job/{id}/outcome.
type CompletionSigner struct {
	secret []byte
	ttl    time.Duration
}

func NewCompletionSigner(secret string, ttl time.Duration) *CompletionSigner {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &CompletionSigner{secret: []byte(secret), ttl: ttl}
}

func (s *CompletionSigner) Mint(jobID, auditID string) (string, error) {
	now := time.Now()
	claims := CompletionClaims{
		JobID:   jobID,
		AuditID: auditID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "opskernel",
			Subject:   jobID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign completion token: %w", err)
	}
	return signed, nil
}

// Verify checks signature and expiry, and that the token was minted for the
// job it is being presented against.
func (s *CompletionSigner) Verify(tokenStr, jobID string) (*CompletionClaims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &CompletionClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("invalid completion token: %w", err)
	}

	claims, ok := token.Claims.(*CompletionClaims)
	if !ok {
		return nil, errors.New("invalid completion claims")
	}
	if claims.JobID != jobID {
		return nil, errors.New("completion token bound to a different job")
	}
	return claims, nil
}
