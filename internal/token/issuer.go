// Package token issues and redeems single-use auth tokens: password reset
// tokens and long-lived remember-me tokens. Each kind lives in its own
// dedicated table with an explicit expiry, and redemption is atomic so a
// token is honored at most once even under concurrent requests.
package token

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/specter/community-engine/internal/model"
	"github.com/specter/community-engine/internal/store"
)

// Token lifetimes.
const (
	ResetTTL    = 1 * time.Hour
	RememberTTL = 30 * 24 * time.Hour
)

// ErrInvalidToken is returned when a token is unknown, expired, or already
// used. The cases are indistinguishable to the caller.
var ErrInvalidToken = errors.New("token: invalid or expired")

// Issuer mints and redeems tokens.
type Issuer struct {
	store store.Store
	now   func() time.Time
}

// NewIssuer creates a token issuer. Pass nil for now to use the wall clock.
func NewIssuer(st store.Store, now func() time.Time) *Issuer {
	if now == nil {
		now = time.Now
	}
	return &Issuer{store: st, now: now}
}

// generate returns 32 bytes of crypto/rand entropy, hex encoded.
func generate() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("token: entropy: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// IssueReset mints a password reset token for the account.
func (i *Issuer) IssueReset(ctx context.Context, accountID string) (*model.PasswordResetToken, error) {
	raw, err := generate()
	if err != nil {
		return nil, err
	}
	t := &model.PasswordResetToken{
		Token:     raw,
		AccountID: accountID,
		ExpiresAt: i.now().UTC().Add(ResetTTL),
	}
	if err := i.store.InsertResetToken(ctx, t); err != nil {
		return nil, fmt.Errorf("insert reset token: %w", err)
	}
	return t, nil
}

// ConsumeReset redeems a reset token and returns the account it belongs to.
// A token redeems at most once; the losing side of a race gets
// ErrInvalidToken, same as an expired or unknown token.
func (i *Issuer) ConsumeReset(ctx context.Context, raw string) (string, error) {
	t, err := i.store.ConsumeResetToken(ctx, raw, i.now().UTC())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", ErrInvalidToken
		}
		return "", err
	}
	return t.AccountID, nil
}

// IssueRemember mints a remember-me token for the account.
func (i *Issuer) IssueRemember(ctx context.Context, accountID string) (*model.RememberToken, error) {
	raw, err := generate()
	if err != nil {
		return nil, err
	}
	t := &model.RememberToken{
		Token:     raw,
		AccountID: accountID,
		ExpiresAt: i.now().UTC().Add(RememberTTL),
	}
	if err := i.store.InsertRememberToken(ctx, t); err != nil {
		return nil, fmt.Errorf("insert remember token: %w", err)
	}
	return t, nil
}

// ConsumeRemember redeems a remember-me token and rotates it: the old token
// is spent and a fresh one is issued for the same account.
func (i *Issuer) ConsumeRemember(ctx context.Context, raw string) (string, *model.RememberToken, error) {
	t, err := i.store.ConsumeRememberToken(ctx, raw, i.now().UTC())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", nil, ErrInvalidToken
		}
		return "", nil, err
	}

	fresh, err := i.IssueRemember(ctx, t.AccountID)
	if err != nil {
		return "", nil, err
	}
	return t.AccountID, fresh, nil
}

// Purge deletes expired and consumed tokens. Run periodically by the
// scheduler.
func (i *Issuer) Purge(ctx context.Context) (int, error) {
	return i.store.PurgeDeadTokens(ctx, i.now().UTC())
}
