package identity

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
)

const (
	defaultLocalIssuer   = "tickerdesk-local"
	defaultLocalTokenTTL = 12 * time.Hour
	minLocalSecretLength = 32
)

// dummyHash is compared against when the email is unknown so both paths cost a bcrypt round.
var (
	dummyHashOnce sync.Once
	dummyHash     []byte
)

func unknownAccountHash() []byte {
	dummyHashOnce.Do(func() {
		dummyHash, _ = bcrypt.GenerateFromPassword([]byte(uuid.NewString()), bcrypt.DefaultCost)
	})
	return dummyHash
}

// Account is one entry of the local accounts file.
type Account struct {
	UID          string   `yaml:"uid"`
	Email        string   `yaml:"email"`
	DisplayName  string   `yaml:"displayName"`
	PasswordHash string   `yaml:"passwordHash"`
	Roles        []string `yaml:"roles"`
	Disabled     bool     `yaml:"disabled"`
}

type accountsFile struct {
	Accounts []Account `yaml:"accounts"`
}

// LoadAccounts reads accounts from a YAML file.
func LoadAccounts(path string) ([]Account, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open accounts file: %w", err)
	}
	defer f.Close()
	return ParseAccounts(f)
}

// ParseAccounts decodes the YAML accounts document.
func ParseAccounts(r io.Reader) ([]Account, error) {
	var doc accountsFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("decode accounts: %w", err)
	}
	for i, acc := range doc.Accounts {
		if NormalizeEmail(acc.Email) == "" {
			return nil, fmt.Errorf("decode accounts: entry %d has no email", i)
		}
		if strings.TrimSpace(acc.PasswordHash) == "" {
			return nil, fmt.Errorf("decode accounts: %s has no passwordHash", acc.Email)
		}
	}
	return doc.Accounts, nil
}

// HashPassword produces a bcrypt hash for the accounts file.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", errors.New("password is empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// LocalBackend authenticates against a fixed account list and issues HS256 tokens.
// It is meant for development and tests.
type LocalBackend struct {
	accounts map[string]Account
	secret   []byte
	issuer   string
	ttl      time.Duration
	now      func() time.Time
}

// LocalOption customises a LocalBackend.
type LocalOption func(*LocalBackend)

// WithTokenTTL sets the lifetime of issued tokens.
func WithTokenTTL(ttl time.Duration) LocalOption {
	return func(b *LocalBackend) {
		if ttl > 0 {
			b.ttl = ttl
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) LocalOption {
	return func(b *LocalBackend) {
		if now != nil {
			b.now = now
		}
	}
}

type localClaims struct {
	Email string   `json:"email"`
	Name  string   `json:"name,omitempty"`
	Roles []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// NewLocalBackend constructs a LocalBackend. secret signs issued tokens.
func NewLocalBackend(accounts []Account, secret []byte, opts ...LocalOption) (*LocalBackend, error) {
	if len(secret) < minLocalSecretLength {
		return nil, fmt.Errorf("local backend: token secret must be at least %d bytes", minLocalSecretLength)
	}
	b := &LocalBackend{
		accounts: make(map[string]Account, len(accounts)),
		secret:   append([]byte(nil), secret...),
		issuer:   defaultLocalIssuer,
		ttl:      defaultLocalTokenTTL,
		now:      time.Now,
	}
	for _, acc := range accounts {
		if acc.UID == "" {
			acc.UID = uuid.NewSHA1(uuid.NameSpaceURL, []byte("mailto:"+NormalizeEmail(acc.Email))).String()
		}
		b.accounts[NormalizeEmail(acc.Email)] = acc
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Login checks the password and issues a signed token.
func (b *LocalBackend) Login(ctx context.Context, creds Credentials) (*Outcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	acc, ok := b.accounts[NormalizeEmail(creds.Email)]
	if !ok {
		_ = bcrypt.CompareHashAndPassword(unknownAccountHash(), []byte(creds.Password))
		return nil, NewAuthError(ReasonInvalidCredentials, ErrUnauthorized)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(acc.PasswordHash), []byte(creds.Password)); err != nil {
		return nil, NewAuthError(ReasonInvalidCredentials, ErrUnauthorized)
	}
	if acc.Disabled {
		return nil, NewAuthError(ReasonUserDisabled, ErrUnauthorized)
	}

	now := b.now().UTC()
	expires := now.Add(b.ttl)
	claims := localClaims{
		Email: acc.Email,
		Name:  acc.DisplayName,
		Roles: append([]string(nil), acc.Roles...),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    b.issuer,
			Subject:   acc.UID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(b.secret)
	if err != nil {
		return nil, fmt.Errorf("sign local token: %w", err)
	}

	return &Outcome{
		SignedIn: true,
		User: &User{
			UID:         acc.UID,
			Email:       acc.Email,
			DisplayName: acc.DisplayName,
			Roles:       append([]string(nil), acc.Roles...),
			Token:       signed,
		},
		Token:     signed,
		ExpiresAt: expires,
	}, nil
}

// Verify parses a token issued by Login.
func (b *LocalBackend) Verify(_ context.Context, token string) (*User, error) {
	if strings.TrimSpace(token) == "" {
		return nil, NewAuthError(ReasonMissingToken, ErrUnauthorized)
	}

	var claims localClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return b.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(b.issuer),
		jwt.WithTimeFunc(b.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, NewAuthError(ReasonTokenExpired, err)
		}
		return nil, NewAuthError(ReasonTokenInvalid, err)
	}

	acc, ok := b.accounts[NormalizeEmail(claims.Email)]
	if !ok || acc.UID != claims.Subject {
		return nil, NewAuthError(ReasonTokenInvalid, ErrUnauthorized)
	}
	if acc.Disabled {
		return nil, NewAuthError(ReasonUserDisabled, ErrUnauthorized)
	}

	return &User{
		UID:         acc.UID,
		Email:       acc.Email,
		DisplayName: acc.DisplayName,
		Roles:       append([]string(nil), acc.Roles...),
		Token:       token,
	}, nil
}
