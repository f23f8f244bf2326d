package session

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// BearerToken returns the identity's access token unless it is missing or expired.
func (s *Store) BearerToken() string {
	id, ok := s.Identity()
	if !ok || id.AccessToken == "" {
		return ""
	}
	if exp, ok := TokenExpiry(id.AccessToken); ok && !s.now().Before(exp) {
		return ""
	}
	return id.AccessToken
}

// TokenExpiry reads the exp claim without verifying the signature; the
// backend is the one that validates the token.
func TokenExpiry(token string) (time.Time, bool) {
	var claims jwt.RegisteredClaims
	_, _, err := jwt.NewParser().ParseUnverified(token, &claims)
	if err != nil || claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}
