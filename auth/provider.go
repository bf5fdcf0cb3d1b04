package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/golang-jwt/jwt/v4"

	"github.com/zenibako/scenario-sync/scenario"
)

// Options configures where the bearer token comes from
type Options struct {
	// Token is used when set; otherwise TokenFile is read on every call
	Token     string
	TokenFile string
	// Leeway treats tokens expiring within this window as already expired
	Leeway time.Duration
	Now    func() time.Time
}

// Provider hands out a currently valid bearer token
type Provider struct {
	mu        sync.RWMutex
	token     string
	tokenFile string
	leeway    time.Duration
	now       func() time.Time
}

// NewProvider creates a token provider
func NewProvider(opts Options) *Provider {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Provider{
		token:     strings.TrimSpace(opts.Token),
		tokenFile: opts.TokenFile,
		leeway:    opts.Leeway,
		now:       now,
	}
}

// SetToken replaces the in-memory token, as after a fresh sign-in
func (p *Provider) SetToken(token string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.token = strings.TrimSpace(token)
}

// Token returns a valid bearer token, or a *scenario.AuthError when none is
// available or the token's exp claim has passed. Opaque tokens that are not
// JWTs are passed through unchecked.
func (p *Provider) Token(_ context.Context) (string, error) {
	token, err := p.current()
	if err != nil {
		return "", err
	}
	if token == "" {
		return "", &scenario.AuthError{Kind: scenario.AuthMissing}
	}

	expiresAt, ok := ExpiresAt(token)
	if ok && !p.now().Add(p.leeway).Before(expiresAt) {
		log.Debug("Access token expired", "expiresAt", expiresAt)
		return "", &scenario.AuthError{Kind: scenario.AuthExpired}
	}
	return token, nil
}

func (p *Provider) current() (string, error) {
	p.mu.RLock()
	token, file := p.token, p.tokenFile
	p.mu.RUnlock()

	if token != "" || file == "" {
		return token, nil
	}

	data, err := os.ReadFile(file)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read token file %s: %w", file, err)
	}
	return strings.TrimSpace(string(data)), nil
}

// ExpiresAt reads the exp claim of a JWT without verifying its signature.
// The bool is false for opaque tokens and tokens without exp.
func ExpiresAt(token string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	switch exp := claims["exp"].(type) {
	case float64:
		return time.Unix(int64(exp), 0), true
	case int64:
		return time.Unix(exp, 0), true
	default:
		return time.Time{}, false
	}
}
