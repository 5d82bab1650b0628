package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"facewatch/internal/database"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserExists         = errors.New("username already exists")
	ErrInvalidPhone       = errors.New("phone number must contain at least 10 digits")
	ErrMissingFields      = errors.New("username and password are required")
)

// UserStore persists operator accounts.
type UserStore interface {
	CreateUser(ctx context.Context, u *database.UserRecord) error
	GetUser(ctx context.Context, username string) (*database.UserRecord, error)
}

// Profile is the non-secret part of a user.
type Profile struct {
	Username string `json:"username"`
	Name     string `json:"name,omitempty"`
	Email    string `json:"email,omitempty"`
	Phone    string `json:"phone,omitempty"`
}

// Registration is the input to Register.
type Registration struct {
	Username string `validate:"required,min=3,max=64"`
	Password string `validate:"required,min=6"`
	Name     string `validate:"omitempty,max=128"`
	Email    string `validate:"omitempty,email"`
	Phone    string
}

// Session is returned by a successful login.
type Session struct {
	Token     string   `json:"access_token"`
	TokenType string   `json:"token_type"`
	ExpiresAt int64    `json:"expires_at"`
	User      *Profile `json:"user"`
}

// Authenticator handles user registration, login and token validation.
type Authenticator struct {
	enabled    bool
	users      UserStore
	jwtManager *JWTManager
}

// NewAuthenticator creates an authenticator. When disabled, HTTP requests are
// treated as anonymous but accounts can still be created and logged into.
func NewAuthenticator(enabled bool, users UserStore, jwtManager *JWTManager) *Authenticator {
	return &Authenticator{enabled: enabled, users: users, jwtManager: jwtManager}
}

// IsEnabled returns whether authentication is enabled
func (a *Authenticator) IsEnabled() bool {
	return a.enabled
}

// Register creates a user. The phone, when given, is normalized to "+digits".
func (a *Authenticator) Register(ctx context.Context, r Registration) (*Profile, error) {
	r.Username = strings.TrimSpace(r.Username)
	if r.Username == "" || r.Password == "" {
		return nil, ErrMissingFields
	}

	phone := ""
	if strings.TrimSpace(r.Phone) != "" {
		var ok bool
		if phone, ok = normalizePhone(r.Phone); !ok {
			return nil, ErrInvalidPhone
		}
	}

	hash, err := HashPassword(r.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	u := &database.UserRecord{
		Username:     r.Username,
		PasswordHash: hash,
		Name:         strings.TrimSpace(r.Name),
		Email:        strings.TrimSpace(r.Email),
		Phone:        phone,
		CreatedAt:    time.Now(),
	}
	if err := a.users.CreateUser(ctx, u); err != nil {
		if errors.Is(err, database.ErrDuplicate) {
			return nil, ErrUserExists
		}
		return nil, err
	}
	return toProfile(u), nil
}

// Login validates credentials and returns a signed token with the profile.
func (a *Authenticator) Login(ctx context.Context, username, password string) (*Session, error) {
	u, err := a.users.GetUser(ctx, strings.TrimSpace(username))
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	profile := toProfile(u)
	token, expiresAt, err := a.jwtManager.Issue(profile)
	if err != nil {
		return nil, err
	}
	return &Session{Token: token, TokenType: "bearer", ExpiresAt: expiresAt.Unix(), User: profile}, nil
}

// ValidateToken verifies a session token.
func (a *Authenticator) ValidateToken(token string) (*Claims, error) {
	return a.jwtManager.Parse(token)
}

// HashPassword creates a bcrypt hash of a password
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func toProfile(u *database.UserRecord) *Profile {
	return &Profile{Username: u.Username, Name: u.Name, Email: u.Email, Phone: u.Phone}
}

func normalizePhone(phone string) (string, bool) {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	if b.Len() < 10 {
		return "", false
	}
	return "+" + b.String(), true
}
