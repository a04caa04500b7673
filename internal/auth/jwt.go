// Package auth issues and validates staff tokens.
package auth

import (
	"crypto/subtle"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
	ErrNoSecret           = errors.New("jwt secret is not configured")
)

const issuer = "missbott-backend"

// Claims represents staff JWT claims.
type Claims struct {
	Sub   string `json:"sub"`
	Staff bool   `json:"staff"`
	jwt.RegisteredClaims
}

// Manager checks staff credentials and handles token generation and validation.
type Manager struct {
	secret       []byte
	expiration   time.Duration
	username     string
	passwordHash []byte
}

func NewManager(secret string, expiration time.Duration, username, passwordHash string) *Manager {
	if expiration <= 0 {
		expiration = 12 * time.Hour
	}
	return &Manager{
		secret:       []byte(secret),
		expiration:   expiration,
		username:     username,
		passwordHash: []byte(passwordHash),
	}
}

// Login verifies the staff username and bcrypt password and returns a token.
func (m *Manager) Login(username, password string) (string, error) {
	if len(m.passwordHash) == 0 {
		return "", ErrInvalidCredentials
	}
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(m.username)) == 1
	if err := bcrypt.CompareHashAndPassword(m.passwordHash, []byte(password)); err != nil || !userOK {
		return "", ErrInvalidCredentials
	}
	return m.GenerateToken(username)
}

func (m *Manager) GenerateToken(subject string) (string, error) {
	if len(m.secret) == 0 {
		return "", ErrNoSecret
	}

	now := time.Now()
	claims := &Claims{
		Sub:   subject,
		Staff: true,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(m.expiration)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

// ValidateToken validates a JWT token and returns the claims.
func (m *Manager) ValidateToken(tokenString string) (*Claims, error) {
	if len(m.secret) == 0 {
		return nil, ErrNoSecret
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return m.secret, nil
	}, jwt.WithIssuer(issuer))
	if err != nil {
		return nil, errors.Join(ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || !claims.Staff {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// HashPassword returns a bcrypt hash suitable for auth.staffPasswordHash.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
