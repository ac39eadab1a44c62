// Package auth registers users, checks credentials and issues the bearer
// tokens that carry a session across requests.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"budgeteer/internal/core"
	"budgeteer/internal/log"
	"budgeteer/internal/store"
)

const (
	minPasswordLength = 8
	bcryptCost        = 12
	defaultTTL        = 24 * time.Hour
	issuer            = "budgeteer"
)

// Credentials is the login form.
type Credentials struct {
	Email    string
	Password string
}

type Config struct {
	Secret string
	TTL    time.Duration
	// Cost overrides the bcrypt cost; zero uses the package default.
	Cost int
}

// Claims is the JWT payload. The subject is the user id.
type Claims struct {
	jwt.RegisteredClaims
}

type Provider struct {
	users  store.Users
	secret []byte
	ttl    time.Duration
	cost   int
	now    func() time.Time
	logger *log.Logger
}

func New(users store.Users, cfg Config, logger *log.Logger) (*Provider, error) {
	if cfg.Secret == "" {
		return nil, errors.New("auth: token secret is required")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}
	if cfg.Cost == 0 {
		cfg.Cost = bcryptCost
	}
	if logger == nil {
		logger = log.Discard()
	}
	return &Provider{
		users:  users,
		secret: []byte(cfg.Secret),
		ttl:    cfg.TTL,
		cost:   cfg.Cost,
		now:    time.Now,
		logger: logger.WithComponent(log.ComponentAuth),
	}, nil
}

// Register creates a user with a bcrypt password hash. The email is stored
// trimmed and must not be held by another user.
func (p *Provider) Register(ctx context.Context, email, password, name string) (core.User, error) {
	if len(password) < minPasswordLength {
		return core.User{}, &core.ValidationError{Field: "password", Reason: fmt.Sprintf("must be at least %d characters", minPasswordLength)}
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), p.cost)
	if err != nil {
		return core.User{}, fmt.Errorf("hash password: %w", err)
	}

	u := core.User{
		ID:           core.NewID(),
		Email:        strings.TrimSpace(email),
		PasswordHash: string(hash),
		Name:         strings.TrimSpace(name),
		CreatedAt:    p.now().UTC(),
	}
	if err := u.Validate(); err != nil {
		return core.User{}, err
	}
	if _, err := p.users.PutUser(ctx, u); err != nil {
		return core.User{}, err
	}

	p.logger.InfoContext(ctx, "User registered", log.FieldRecordID, u.ID)
	return u, nil
}

// Authenticate checks the credentials. Unknown emails and wrong passwords
// both yield core.ErrAuthenticationFailed.
func (p *Provider) Authenticate(ctx context.Context, c Credentials) (core.Session, error) {
	u, err := p.users.GetUserByEmail(ctx, strings.TrimSpace(c.Email))
	if errors.Is(err, core.ErrNotFound) {
		return core.Session{}, core.ErrAuthenticationFailed
	}
	if err != nil {
		return core.Session{}, fmt.Errorf("lookup user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(c.Password)); err != nil {
		p.logger.WarnContext(ctx, "Authentication failed", log.FieldRecordID, u.ID)
		return core.Session{}, core.ErrAuthenticationFailed
	}
	return core.Session{UserID: u.ID}, nil
}

// IssueToken signs an HS256 token for the session.
func (p *Provider) IssueToken(s core.Session) (string, time.Time, error) {
	if s.UserID == "" {
		return "", time.Time{}, errors.New("auth: empty session")
	}
	now := p.now()
	expires := now.Add(p.ttl)
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   s.UserID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expires, nil
}

// ParseToken verifies a token and returns its session. Any failure is
// reported as core.ErrAuthenticationFailed wrapping the cause.
func (p *Provider) ParseToken(token string) (core.Session, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return p.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(p.now),
	)
	if err != nil {
		return core.Session{}, fmt.Errorf("%w: %v", core.ErrAuthenticationFailed, err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return core.Session{}, core.ErrAuthenticationFailed
	}
	return core.Session{UserID: claims.Subject}, nil
}
