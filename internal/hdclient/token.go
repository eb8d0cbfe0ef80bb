package hdclient

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
)

// TokenSource supplies the bearer token attached to each request. An empty
// token means the request is sent unauthenticated.
type TokenSource interface {
	Token() (string, error)
}

// StaticToken is a fixed token.
type StaticToken string

func (t StaticToken) Token() (string, error) { return strings.TrimSpace(string(t)), nil }

// FileToken reads the token from a file on every request, so a login that
// rewrites the file is picked up without restarting. A missing file yields
// no token.
type FileToken string

func (p FileToken) Token() (string, error) {
	if p == "" {
		return "", nil
	}
	b, err := os.ReadFile(string(p))
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read token file: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}
