package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims identify the host app allowed to drive the control API.
type Claims struct {
	Host string `json:"host"`
	jwt.RegisteredClaims
}

const DefaultTokenTTL = 30 * 24 * time.Hour

var errUnexpectedMethod = errors.New("unexpected signing method")

// IssueToken signs a control token for host. A zero ttl means no expiry.
func IssueToken(secret, host string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("auth: control secret not configured")
	}
	now := time.Now()
	claims := Claims{
		Host: host,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  host,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func parseToken(secret, token string) (*Claims, error) {
	parsed, err := parseClaimsFn(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errUnexpectedMethod
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, errors.New("token invalid")
	}
	return claims, nil
}

var parseClaimsFn = jwt.ParseWithClaims
