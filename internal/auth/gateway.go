// Package auth resolves caller credentials into a trusted user id. The core
// services never see raw credentials; they receive the resolved user id as an
// explicit parameter on every call.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"

	"github.com/peertransfer/ledger/internal/models"
)

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrInvalidToken       = errors.New("invalid or expired token")
)

const DefaultTokenTTL = 24 * time.Hour

// Credentials is what a caller presents to log in.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Caller is a resolved identity: the user id the ledger trusts plus a bearer
// token for subsequent requests.
type Caller struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	Token    string `json:"token"`
}

type Gateway struct {
	db       *pgxpool.Pool
	secret   []byte
	tokenTTL time.Duration
}

func NewGateway(db *pgxpool.Pool, secret []byte, tokenTTL time.Duration) *Gateway {
	if tokenTTL <= 0 {
		tokenTTL = DefaultTokenTTL
	}
	return &Gateway{db: db, secret: secret, tokenTTL: tokenTTL}
}

// ResolveCaller verifies the credentials and issues a signed token. Unknown
// usernames and wrong passwords are indistinguishable to the caller.
func (g *Gateway) ResolveCaller(ctx context.Context, creds Credentials) (*Caller, error) {
	var u models.User
	err := g.db.QueryRow(ctx,
		"SELECT user_id, username, password_hash FROM users WHERE username = $1",
		creds.Username).Scan(&u.ID, &u.Username, &u.PasswordHash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("user lookup failed: %w", err)
	}

	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(creds.Password)) != nil {
		return nil, ErrInvalidCredentials
	}

	token, err := g.issueToken(u.ID)
	if err != nil {
		return nil, err
	}
	return &Caller{UserID: u.ID, Username: u.Username, Token: token}, nil
}

// VerifyToken validates a bearer token and returns the user id it was issued
// for.
func (g *Gateway) VerifyToken(tokenString string) (int64, error) {
	token, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return g.secret, nil
	})
	if err != nil || !token.Valid {
		return 0, ErrInvalidToken
	}

	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok {
		return 0, ErrInvalidToken
	}
	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return 0, ErrInvalidToken
	}
	return userID, nil
}

func (g *Gateway) issueToken(userID int64) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   strconv.FormatInt(userID, 10),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(g.tokenTTL)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(g.secret)
	if err != nil {
		return "", fmt.Errorf("token signing failed: %w", err)
	}
	return token, nil
}

// HashPassword produces a bcrypt hash for storage, shared with the seeder.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
