package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	firebaseauth "firebase.google.com/go/v4/auth"
)

const defaultSignInEndpoint = "https://identitytoolkit.googleapis.com/v1/accounts:signInWithPassword"

// ErrTokenExpired is returned when the Firebase token has expired.
var ErrTokenExpired = errors.New("firebase token expired")

// FirebaseTokenVerifier abstracts the Firebase Admin SDK client for testability.
type FirebaseTokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error)
}

// FirebaseBackend signs users in with the Identity Toolkit password endpoint and
// verifies the returned ID tokens with the Admin SDK.
type FirebaseBackend struct {
	verifier FirebaseTokenVerifier
	apiKey   string
	endpoint string
	client   *http.Client
	now      func() time.Time
}

// FirebaseOption customises a FirebaseBackend.
type FirebaseOption func(*FirebaseBackend)

// WithSignInEndpoint overrides the Identity Toolkit URL (emulator or tests).
func WithSignInEndpoint(endpoint string) FirebaseOption {
	return func(b *FirebaseBackend) {
		if strings.TrimSpace(endpoint) != "" {
			b.endpoint = endpoint
		}
	}
}

// WithHTTPClient sets the client used for the sign-in call.
func WithHTTPClient(client *http.Client) FirebaseOption {
	return func(b *FirebaseBackend) {
		if client != nil {
			b.client = client
		}
	}
}

// NewFirebaseBackend constructs a Backend backed by the provided verifier and web API key.
func NewFirebaseBackend(verifier FirebaseTokenVerifier, apiKey string, opts ...FirebaseOption) *FirebaseBackend {
	if verifier == nil {
		panic("firebase token verifier is required")
	}
	b := &FirebaseBackend{
		verifier: verifier,
		apiKey:   strings.TrimSpace(apiKey),
		endpoint: defaultSignInEndpoint,
		client:   &http.Client{Timeout: 30 * time.Second},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

type signInRequest struct {
	Email             string `json:"email"`
	Password          string `json:"password"`
	ReturnSecureToken bool   `json:"returnSecureToken"`
}

type signInResponse struct {
	LocalID      string `json:"localId"`
	Email        string `json:"email"`
	DisplayName  string `json:"displayName"`
	IDToken      string `json:"idToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    string `json:"expiresIn"`
	Registered   bool   `json:"registered"`
}

type signInErrorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Login exchanges the credentials for a Firebase ID token.
func (f *FirebaseBackend) Login(ctx context.Context, creds Credentials) (*Outcome, error) {
	if f.apiKey == "" {
		return nil, NewAuthError(ReasonUnavailable, errors.New("firebase api key not configured"))
	}

	body, err := json.Marshal(signInRequest{
		Email:             strings.TrimSpace(creds.Email),
		Password:          creds.Password,
		ReturnSecureToken: true,
	})
	if err != nil {
		return nil, fmt.Errorf("encode sign-in request: %w", err)
	}

	endpoint, err := url.Parse(f.endpoint)
	if err != nil {
		return nil, NewAuthError(ReasonUnavailable, fmt.Errorf("parse sign-in endpoint: %w", err))
	}
	q := endpoint.Query()
	q.Set("key", f.apiKey)
	endpoint.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build sign-in request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, NewAuthError(ReasonUnavailable, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, NewAuthError(ReasonUnavailable, fmt.Errorf("read sign-in response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr signInErrorResponse
		_ = json.Unmarshal(payload, &apiErr)
		return nil, signInError(resp.StatusCode, apiErr.Error.Message)
	}

	var out signInResponse
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, NewAuthError(ReasonUnavailable, fmt.Errorf("decode sign-in response: %w", err))
	}
	if strings.TrimSpace(out.IDToken) == "" {
		return &Outcome{SignedIn: false}, nil
	}

	user, err := f.Verify(ctx, out.IDToken)
	if err != nil {
		return nil, err
	}
	if user.Email == "" {
		user.Email = out.Email
	}
	if user.DisplayName == "" {
		user.DisplayName = out.DisplayName
	}

	outcome := &Outcome{
		SignedIn:     true,
		User:         user,
		Token:        out.IDToken,
		RefreshToken: out.RefreshToken,
	}
	if secs, err := strconv.Atoi(out.ExpiresIn); err == nil && secs > 0 {
		outcome.ExpiresAt = f.now().Add(time.Duration(secs) * time.Second).UTC()
	}
	return outcome, nil
}

// Verify verifies the supplied ID token using Firebase and builds a User object.
func (f *FirebaseBackend) Verify(ctx context.Context, token string) (*User, error) {
	if strings.TrimSpace(token) == "" {
		return nil, NewAuthError(ReasonMissingToken, ErrUnauthorized)
	}

	verified, err := f.verifier.VerifyIDToken(ctx, token)
	if err != nil {
		switch {
		case firebaseauth.IsIDTokenExpired(err), errors.Is(err, ErrTokenExpired):
			return nil, NewAuthError(ReasonTokenExpired, err)
		default:
			return nil, NewAuthError(ReasonTokenInvalid, err)
		}
	}

	return &User{
		UID:         verified.UID,
		Email:       claimString(verified.Claims["email"]),
		DisplayName: claimString(verified.Claims["name"]),
		Roles:       claimStringSlice(verified.Claims["role"], verified.Claims["roles"]),
		Token:       token,
	}, nil
}

// signInError maps Identity Toolkit error codes onto reason codes. Codes may carry a
// suffix such as "TOO_MANY_ATTEMPTS_TRY_LATER : Access to this account ...".
func signInError(status int, message string) error {
	code := strings.TrimSpace(message)
	if idx := strings.Index(code, " "); idx > 0 {
		code = code[:idx]
	}
	cause := fmt.Errorf("identity toolkit: status=%d code=%s", status, code)
	switch code {
	case "EMAIL_NOT_FOUND", "INVALID_PASSWORD", "INVALID_LOGIN_CREDENTIALS", "INVALID_EMAIL", "MISSING_PASSWORD":
		return NewAuthError(ReasonInvalidCredentials, cause)
	case "USER_DISABLED":
		return NewAuthError(ReasonUserDisabled, cause)
	case "TOO_MANY_ATTEMPTS_TRY_LATER":
		return NewAuthError(ReasonRateLimited, cause)
	}
	if status >= http.StatusInternalServerError {
		return NewAuthError(ReasonUnavailable, cause)
	}
	if status == http.StatusBadRequest || status == http.StatusUnauthorized {
		return NewAuthError(ReasonInvalidCredentials, cause)
	}
	return NewAuthError(ReasonUnavailable, cause)
}

func claimString(value any) string {
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v)
	case *string:
		if v == nil {
			return ""
		}
		return strings.TrimSpace(*v)
	default:
		return ""
	}
}

func claimStringSlice(values ...any) []string {
	seen := make(map[string]struct{})
	var result []string

	appendValue := func(val string) {
		val = strings.TrimSpace(val)
		if val == "" {
			return
		}
		if _, ok := seen[val]; !ok {
			seen[val] = struct{}{}
			result = append(result, val)
		}
	}

	for _, value := range values {
		switch v := value.(type) {
		case string:
			appendValue(v)
		case []string:
			for _, item := range v {
				appendValue(item)
			}
		case []any:
			for _, item := range v {
				if s, ok := item.(string); ok {
					appendValue(s)
				}
			}
		case map[string]any:
			for key, val := range v {
				if b, ok := val.(bool); ok && b {
					appendValue(key)
				}
			}
		case nil:
			continue
		}
	}
	return result
}
