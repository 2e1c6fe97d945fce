// Package service implements the synchronization core: credential
// verification, the session authority, and the subscription and episode
// reconcilers, all written against the repository port.
package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"go.uber.org/zap"

	"github.com/atinyakov/podsync/internal/models"
	"github.com/atinyakov/podsync/internal/repository"
)

// HashPassword returns the hex-encoded SHA-256 digest of password, the
// format stored in Account.PasswordHash.
func HashPassword(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}

// CredentialVerifier validates username/password pairs against stored
// password hashes.
type CredentialVerifier struct {
	repo repository.AccountStore
	log  *zap.Logger
}

// NewCredentialVerifier constructs a verifier over the given account store.
func NewCredentialVerifier(repo repository.AccountStore, log *zap.Logger) *CredentialVerifier {
	return &CredentialVerifier{repo: repo, log: log}
}

// Verify fetches the account and compares the password digest byte for
// byte against the stored hash. A missing account and a storage failure
// are logged differently but both surface as ErrUnauthorized so the two
// cases are indistinguishable to clients. The raw password is never
// logged.
func (v *CredentialVerifier) Verify(ctx context.Context, username, password string) (models.Account, error) {
	account, err := v.repo.FindAccount(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			v.log.Debug("login for unknown account", zap.String("username", username))
		} else {
			v.log.Error("account lookup failed", zap.String("username", username), zap.Error(err))
		}
		return models.Account{}, ErrUnauthorized
	}

	if account.PasswordHash != HashPassword(password) {
		v.log.Debug("password mismatch", zap.String("username", username))
		return models.Account{}, ErrUnauthorized
	}

	return account, nil
}
