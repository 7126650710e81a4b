package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"chrono-battle/models"

	"github.com/golang-jwt/jwt/v5"
)

// Verifier проверяет токены входа, подписанные HS256 общим секретом.
// Subject токена содержит идентификатор аккаунта.
type Verifier struct {
	secret []byte
	now    func() time.Time
}

// NewVerifier создает проверяющего для секрета
func NewVerifier(secret string) (*Verifier, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is empty")
	}
	return &Verifier{secret: []byte(secret), now: time.Now}, nil
}

// Verify возвращает идентификатор аккаунта из токена
func (v *Verifier) Verify(token string) (int64, error) {
	if token == "" {
		return 0, fmt.Errorf("%w: empty token", models.ErrInvalidToken)
	}

	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", models.ErrInvalidToken, err)
	}

	accountID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || accountID <= 0 {
		return 0, fmt.Errorf("%w: bad subject %q", models.ErrInvalidToken, claims.Subject)
	}
	return accountID, nil
}

// Issue подписывает токен для аккаунта. При ttl == 0 срок не ограничен.
func (v *Verifier) Issue(accountID int64, ttl time.Duration) (string, error) {
	now := v.now()
	claims := jwt.RegisteredClaims{
		Subject:  strconv.FormatInt(accountID, 10),
		IssuedAt: jwt.NewNumericDate(now),
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}
