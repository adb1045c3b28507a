package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Device roles.
const (
	RoleAdmin   = "admin"
	RoleTeacher = "teacher"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrInvalidRole  = errors.New("role must be admin or teacher")
)

// DeviceToken is a signed token for a registered device.
type DeviceToken struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Claims represents the JWT payload.
type Claims struct {
	DeviceID string `json:"device_id"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// ValidRole reports whether role is one a device may register as.
func ValidRole(role string) bool {
	return role == RoleAdmin || role == RoleTeacher
}

// Issue signs a device token valid for ttl.
func Issue(deviceID, role, issuer, key string, ttl time.Duration) (DeviceToken, error) {
	if !ValidRole(role) {
		return DeviceToken{}, ErrInvalidRole
	}
	now := time.Now()
	exp := now.Add(ttl)
	claims := Claims{
		DeviceID: deviceID,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   deviceID,
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	if err != nil {
		return DeviceToken{}, err
	}
	return DeviceToken{Token: token, ExpiresAt: exp}, nil
}

// Parse validates a token and returns claims.
func Parse(tokenStr, key, issuer string) (Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(key), nil
	}, jwt.WithIssuer(issuer))
	if err != nil {
		return Claims{}, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.DeviceID == "" {
		return Claims{}, ErrInvalidToken
	}
	return *claims, nil
}
