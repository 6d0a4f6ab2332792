// ABOUTME: Bearer token discovery and client-side JWT inspection
// ABOUTME: Reads COVEN_TOKEN or the XDG token file and refuses tokens past their expiry

package transport

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenEnv is the environment variable holding the bearer token.
const TokenEnv = "COVEN_TOKEN"

// Token is a bearer credential and what could be read from it without the
// signing key.
type Token struct {
	Raw     string
	Subject string
	Expires time.Time
}

// TokenPath returns the token file location: $XDG_CONFIG_HOME/coven/token,
// falling back to ~/.config/coven/token.
func TokenPath() (string, error) {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("locating home directory: %w", err)
		}
		configDir = filepath.Join(home, ".config")
	}
	return filepath.Join(configDir, "coven", "token"), nil
}

// LoadToken returns the raw token from COVEN_TOKEN, then the token file.
// It returns "" when neither is set.
func LoadToken() string {
	if token := os.Getenv(TokenEnv); token != "" {
		return token
	}
	path, err := TokenPath()
	if err != nil {
		return ""
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// InspectToken reads the claims of a JWT without verifying its signature;
// the gateway verifies. Opaque tokens are accepted as they are. A token
// whose exp claim has passed returns ErrTokenExpired.
func InspectToken(raw string, now time.Time) (*Token, error) {
	tok := &Token{Raw: raw}
	if strings.Count(raw, ".") != 2 {
		return tok, nil
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return nil, fmt.Errorf("parsing token: %w", err)
	}
	if sub, err := claims.GetSubject(); err == nil {
		tok.Subject = sub
	}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return nil, fmt.Errorf("parsing token: %w", err)
	}
	if exp != nil {
		tok.Expires = exp.Time
		if !now.Before(exp.Time) {
			return tok, fmt.Errorf("%w at %s", ErrTokenExpired, exp.Time.Format(time.RFC3339))
		}
	}
	return tok, nil
}

// IsExpired reports whether err is an expired token.
func IsExpired(err error) bool {
	return errors.Is(err, ErrTokenExpired)
}
