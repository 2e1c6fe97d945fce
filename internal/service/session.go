package service

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/atinyakov/podsync/internal/models"
	"github.com/atinyakov/podsync/internal/repository"
)

// NewSessionToken mints a random 128-bit session token rendered as a
// 32-character hex string.
func NewSessionToken() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}

// ParseSessionToken validates a client-presented token and normalizes it
// to the canonical 32-character hex form. Returns ErrBadRequest for
// anything that is not a 128-bit identifier.
func ParseSessionToken(s string) (string, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return "", fmt.Errorf("%w: malformed session token", ErrBadRequest)
	}
	return hex.EncodeToString(id[:]), nil
}

// SyncService is the synchronization facade: it authenticates sessions and
// hands out handles exposing the device, subscription and episode
// operations. All state lives behind the repository port; the service
// itself carries no mutable state and is safe for concurrent use.
type SyncService struct {
	store    repository.Store
	verifier *CredentialVerifier
	subs     *SubscriptionService
	episodes *EpisodeService
	log      *zap.Logger
}

// NewSyncService constructs the facade and its reconcilers over one store.
func NewSyncService(store repository.Store, log *zap.Logger) *SyncService {
	return &SyncService{
		store:    store,
		verifier: NewCredentialVerifier(store, log),
		subs:     NewSubscriptionService(store, log),
		episodes: NewEpisodeService(store, log),
		log:      log,
	}
}

// Login verifies credentials and reconciles the client-presented token
// against the account's stored one:
//
//   - neither side has a token: mint a new one and persist it (the only
//     branch that writes)
//   - both sides agree: re-validate the existing session, no write
//   - both sides disagree: ErrSessionMismatch
//   - client has a token but the account is logged out: ErrUnauthorized
//   - client forgot its token but credentials hold: reuse the stored one
//
// The minting branch is a read-then-write without a lock; two concurrent
// first logins race and one caller may end up holding the other's token.
// Either outcome leaves exactly one stored token for the account.
func (s *SyncService) Login(ctx context.Context, username, password string, clientToken *string) (*Session, error) {
	account, err := s.verifier.Verify(ctx, username, password)
	if err != nil {
		return nil, err
	}

	stored := account.SessionToken

	switch {
	case clientToken == nil && stored == nil:
		token := NewSessionToken()
		if err := s.store.SetSessionToken(ctx, username, &token); err != nil {
			s.log.Error("storing session token failed", zap.String("username", username), zap.Error(err))
			return nil, ErrInternal
		}
		s.log.Info("new session", zap.String("username", username))
		return s.session(username, token), nil

	case clientToken != nil && stored != nil:
		if *clientToken != *stored {
			s.log.Warn("client session token does not match stored token", zap.String("username", username))
			return nil, ErrSessionMismatch
		}
		return s.session(username, *stored), nil

	case clientToken != nil: // stored == nil: logged out server-side
		s.log.Debug("client token for logged-out account", zap.String("username", username))
		return nil, ErrUnauthorized

	default: // clientToken == nil, stored != nil: client forgot its token
		return s.session(username, *stored), nil
	}
}

// Authenticate resolves a session token to the account owning it. Zero
// matches is ErrUnauthorized. More than one match breaks the one-token
// invariant and is surfaced as ErrInternal rather than silently picking a
// winner.
func (s *SyncService) Authenticate(ctx context.Context, token string) (*Session, error) {
	accounts, err := s.store.AccountsWithToken(ctx, token)
	if err != nil {
		s.log.Error("session lookup failed", zap.Error(err))
		return nil, ErrInternal
	}

	switch len(accounts) {
	case 0:
		return nil, ErrUnauthorized
	case 1:
		return s.session(accounts[0].Username, token), nil
	default:
		s.log.Error("session token held by multiple accounts",
			zap.Int("accounts", len(accounts)))
		return nil, ErrInternal
	}
}

func (s *SyncService) session(username, token string) *Session {
	return &Session{svc: s, username: username, token: token}
}

// Session is an authenticated handle bound to one account's live token.
// It cannot perform sync operations directly: callers must first prove
// which account they intend to act on via WithUser.
type Session struct {
	svc      *SyncService
	username string
	token    string
}

// Username returns the account the session belongs to.
func (s *Session) Username() string { return s.username }

// Token returns the session token the handle is bound to.
func (s *Session) Token() string { return s.token }

// WithUser narrows the session to "authenticated and acting as name".
// Authentication alone is not enough to touch account data; the path-level
// account must match the session's account or the call fails
// ErrUnauthorized.
func (s *Session) WithUser(name string) (*ScopedSession, error) {
	if name != s.username {
		s.svc.log.Debug("session scope mismatch",
			zap.String("session", s.username), zap.String("requested", name))
		return nil, ErrUnauthorized
	}
	return &ScopedSession{svc: s.svc, username: s.username}, nil
}

// ScopedSession is a session proven to act on behalf of one account. It is
// the capability required for every reconciler operation.
type ScopedSession struct {
	svc      *SyncService
	username string
}

// Username returns the account the scope is bound to.
func (s *ScopedSession) Username() string { return s.username }

// Logout clears the account's stored session token unconditionally.
// Idempotent: logging out an already logged-out account succeeds.
func (s *ScopedSession) Logout(ctx context.Context) error {
	if err := s.svc.store.SetSessionToken(ctx, s.username, nil); err != nil {
		s.svc.log.Error("logout failed", zap.String("username", s.username), zap.Error(err))
		return ErrInternal
	}
	s.svc.log.Info("logged out", zap.String("username", s.username))
	return nil
}

// Devices lists the account's devices.
func (s *ScopedSession) Devices(ctx context.Context) ([]models.Device, error) {
	devices, err := s.svc.store.ListDevices(ctx, s.username)
	if err != nil {
		s.svc.log.Error("listing devices failed", zap.String("username", s.username), zap.Error(err))
		return nil, ErrInternal
	}
	return devices, nil
}

// UpdateDevice applies a partial update to one device, creating it with
// defaults when unknown.
func (s *ScopedSession) UpdateDevice(ctx context.Context, id string, update models.DeviceUpdate) error {
	if id == "" {
		return fmt.Errorf("%w: empty device id", ErrBadRequest)
	}
	if err := update.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	if err := s.svc.store.UpsertDevice(ctx, s.username, id, update); err != nil {
		s.svc.log.Error("device update failed",
			zap.String("username", s.username), zap.String("device", id), zap.Error(err))
		return ErrInternal
	}
	return nil
}

// Subscriptions answers "what changed on this device since the cursor".
func (s *ScopedSession) Subscriptions(ctx context.Context, device string, since models.Timestamp) (*SubscriptionChanges, error) {
	return s.svc.subs.Changes(ctx, s.username, device, since)
}

// UpdateSubscriptions applies the client's add/remove lists and returns
// the new cursor. The device is created implicitly on first reference.
func (s *ScopedSession) UpdateSubscriptions(ctx context.Context, device string, add, remove []string) (*AppliedSubscriptions, error) {
	if device == "" {
		return nil, fmt.Errorf("%w: empty device id", ErrBadRequest)
	}
	if err := s.ensureDevice(ctx, device); err != nil {
		return nil, err
	}
	return s.svc.subs.Apply(ctx, s.username, device, add, remove, models.Now())
}

// Episodes answers "which episode actions changed since the cursor",
// optionally narrowed by podcast and device.
func (s *ScopedSession) Episodes(ctx context.Context, filter repository.EpisodeFilter) (*EpisodeChanges, error) {
	return s.svc.episodes.Changes(ctx, s.username, filter)
}

// UpdateEpisodes merges the client's episode actions and returns the new
// cursor. Devices named by the actions are created implicitly.
func (s *ScopedSession) UpdateEpisodes(ctx context.Context, actions []models.EpisodeAction) (models.Timestamp, error) {
	seen := make(map[string]bool)
	for _, action := range actions {
		if action.Device != nil && !seen[*action.Device] {
			seen[*action.Device] = true
			if err := s.ensureDevice(ctx, *action.Device); err != nil {
				return 0, err
			}
		}
	}
	return s.svc.episodes.Apply(ctx, s.username, models.Now(), actions)
}

// ensureDevice creates the device with defaults if it is unknown; an empty
// patch never overwrites existing caption or type.
func (s *ScopedSession) ensureDevice(ctx context.Context, device string) error {
	if err := s.svc.store.UpsertDevice(ctx, s.username, device, models.DeviceUpdate{}); err != nil {
		s.svc.log.Error("implicit device creation failed",
			zap.String("username", s.username), zap.String("device", device), zap.Error(err))
		return ErrInternal
	}
	return nil
}
