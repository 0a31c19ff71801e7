package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type UserRole string

const (
	RoleSuperAdmin    UserRole = "SUPER_ADMIN"
	RoleMerchantOwner UserRole = "MERCHANT_OWNER"
	RoleMerchantStaff UserRole = "MERCHANT_STAFF"
	RoleKitchen       UserRole = "KITCHEN"
)

// Claims carries the merchant identity plus the locations the token may act
// on. An empty LocationIDs means all of the merchant's locations.
type Claims struct {
	UserID      string   `json:"userId"`
	Role        UserRole `json:"role"`
	Email       string   `json:"email,omitempty"`
	MerchantID  string   `json:"merchantId,omitempty"`
	LocationIDs []string `json:"locationIds,omitempty"`
	jwt.RegisteredClaims
}

// AllowsLocation reports whether the token may touch the given location.
func (c *Claims) AllowsLocation(locationID string) bool {
	if len(c.LocationIDs) == 0 {
		return true
	}
	for _, id := range c.LocationIDs {
		if id == locationID {
			return true
		}
	}
	return false
}

func ParseBearerToken(authHeader string) string {
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func VerifyAccessToken(tokenString string, secret string) (*Claims, error) {
	if tokenString == "" {
		return nil, errors.New("token required")
	}

	claims := &Claims{}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{"HS256"}))
	_, err := parser.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}

	if claims.ExpiresAt == nil || claims.ExpiresAt.Time.Before(time.Now()) {
		return nil, errors.New("token expired")
	}
	return claims, nil
}

// IssueAccessToken signs a token for the given claims with the standard
// expiry applied. Used by the auth service that fronts this one, and by
// tests.
func IssueAccessToken(claims Claims, secret string, expiry time.Duration) (string, error) {
	now := time.Now()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}
