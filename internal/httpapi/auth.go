package httpapi

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"warungpos/backend/internal/domain"
)

var (
	errInvalidCredentials = errors.New("invalid credentials")
	errInvalidToken       = errors.New("invalid token")
	errTooManyAttempts    = errors.New("too many attempts")
)

type accountClaims struct {
	BusinessID string `json:"business_id"`
	Role       string `json:"role"`
	jwt.RegisteredClaims
}

// EmployeeStore is the slice of the repository the auth layer needs.
type EmployeeStore interface {
	ListEmployees(ctx context.Context) ([]domain.EmployeeAccount, error)
}

// AuthManager issues and verifies HS256 access tokens for employee accounts.
type AuthManager struct {
	store    EmployeeStore
	secret   []byte
	tokenTTL time.Duration
	limiter  *attemptLimiter
}

func NewAuthManager(store EmployeeStore, secret string, tokenTTL time.Duration) *AuthManager {
	if secret == "" {
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			log.Fatalf("[auth] failed to generate secret: %v", err)
		}
		secret = hex.EncodeToString(buf)
		log.Println("[auth] WARNING: AUTH_SECRET not set, generated an ephemeral secret. Tokens will not survive a restart.")
	}
	if tokenTTL <= 0 {
		tokenTTL = 12 * time.Hour
	}
	return &AuthManager{
		store:    store,
		secret:   []byte(secret),
		tokenTTL: tokenTTL,
		limiter:  newAttemptLimiter(5, time.Minute),
	}
}

func (a *AuthManager) Login(ctx context.Context, username string, password string) (*domain.LoginResponse, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || password == "" {
		return nil, errInvalidCredentials
	}
	if !a.limiter.allow(username) {
		return nil, errTooManyAttempts
	}

	employees, err := a.store.ListEmployees(ctx)
	if err != nil {
		return nil, fmt.Errorf("load employees: %w", err)
	}
	var account *domain.EmployeeAccount
	for i := range employees {
		if employees[i].Username == username && employees[i].Active {
			account = &employees[i]
			break
		}
	}
	if account == nil {
		// Burn comparable time so a missing user is indistinguishable from a
		// wrong password.
		bcrypt.CompareHashAndPassword([]byte("$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"), []byte(password))
		return nil, errInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(account.Password), []byte(password)); err != nil {
		return nil, errInvalidCredentials
	}
	a.limiter.reset(username)

	expiresAt := time.Now().UTC().Add(a.tokenTTL)
	claims := accountClaims{
		BusinessID: account.BusinessID,
		Role:       account.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   account.ID,
			IssuedAt:  jwt.NewNumericDate(time.Now().UTC()),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}
	return &domain.LoginResponse{
		AccessToken: token,
		BusinessID:  account.BusinessID,
		Role:        account.Role,
		ExpiresAt:   expiresAt.Format(time.RFC3339),
	}, nil
}

func (a *AuthManager) ParseToken(tokenString string) (domain.Actor, error) {
	claims := &accountClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil || !token.Valid || claims.Subject == "" || claims.BusinessID == "" {
		return domain.Actor{}, errInvalidToken
	}
	return domain.Actor{
		EmployeeID: claims.Subject,
		BusinessID: claims.BusinessID,
		Role:       claims.Role,
	}, nil
}

// attemptLimiter caps failed logins per username within a sliding window.
type attemptLimiter struct {
	mu       sync.Mutex
	attempts map[string][]time.Time
	max      int
	window   time.Duration
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	return &attemptLimiter{
		attempts: make(map[string][]time.Time),
		max:      max,
		window:   window,
	}
}

func (l *attemptLimiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	recent := l.attempts[key][:0]
	for _, at := range l.attempts[key] {
		if now.Sub(at) < l.window {
			recent = append(recent, at)
		}
	}
	if len(recent) >= l.max {
		l.attempts[key] = recent
		return false
	}
	l.attempts[key] = append(recent, now)
	return true
}

func (l *attemptLimiter) reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.attempts, key)
}
