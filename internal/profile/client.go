package profile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/jonathan/job-autofill/internal/schemas"
)

// DefaultTimeout bounds a profile fetch.
const DefaultTimeout = 8 * time.Second

// profilePath is the platform endpoint serving the signed-in user's profile.
const profilePath = "/api/extension/profile"

// ErrTokenExpired is returned before any request when the bearer token has expired.
var ErrTokenExpired = errors.New("api token expired")

// ErrUnauthorized is returned when the platform rejects the token.
var ErrUnauthorized = errors.New("api token rejected")

// Error represents a failed profile fetch.
type Error struct {
	Message string
	Status  int
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("profile fetch failed: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("profile fetch failed: %s", e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Fetcher retrieves a fresh profile.
type Fetcher interface {
	Fetch(ctx context.Context) (*Profile, error)
}

// Client fetches the profile from the platform API.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	Timeout    time.Duration
	now        func() time.Time
}

// NewClient creates a client for the platform at baseURL.
func NewClient(baseURL, token string) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Token:      token,
		HTTPClient: &http.Client{},
		Timeout:    DefaultTimeout,
		now:        time.Now,
	}
}

// Fetch performs GET {base}/api/extension/profile with the bearer token.
func (c *Client) Fetch(ctx context.Context) (*Profile, error) {
	if err := CheckTokenExpiry(c.Token, c.now()); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+profilePath, nil)
	if err != nil {
		return nil, &Error{Message: "failed to create request", Cause: err}
	}
	req.Header.Set("Accept", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, &Error{Message: "HTTP request failed", Cause: err}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, &Error{Message: "failed to read response body", Cause: err}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &Error{Message: fmt.Sprintf("HTTP status %d", resp.StatusCode), Status: resp.StatusCode, Cause: ErrUnauthorized}
	case resp.StatusCode != http.StatusOK:
		return nil, &Error{Message: fmt.Sprintf("HTTP status %d", resp.StatusCode), Status: resp.StatusCode}
	}

	p, err := New(body)
	if err != nil {
		return nil, &Error{Message: "invalid profile payload", Cause: err}
	}
	if err := schemas.ValidateBytes(schemas.Profile, p.raw); err != nil {
		return nil, &Error{Message: "profile does not match schema", Cause: err}
	}
	return p, nil
}

// CheckTokenExpiry reports ErrTokenExpired for a JWT whose exp claim is past.
// The signature is not verified; the platform does that. Opaque tokens pass.
func CheckTokenExpiry(token string, now time.Time) error {
	if strings.Count(token, ".") != 2 {
		return nil
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil
	}
	if !exp.After(now) {
		return fmt.Errorf("%w at %s", ErrTokenExpired, exp.Time.Format(time.RFC3339))
	}
	return nil
}
