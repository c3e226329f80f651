package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/jonboulle/clockwork"

	"github.com/jonwraymond/mediacache/blobstore"
	"github.com/jonwraymond/mediacache/observe"
)

// Blob names the session persists under.
const (
	TokenBlob = "token"
	UserBlob  = "user"
)

// LogoutHook runs after a session has been cleared.
type LogoutHook func(ctx context.Context)

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithSessionClock sets the clock used for token expiry.
func WithSessionClock(c clockwork.Clock) SessionOption {
	return func(s *Session) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithSessionLogger sets the session logger.
func WithSessionLogger(l observe.Logger) SessionOption {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// Session is the signed-in state of the client.
//
// Contract:
// - Concurrency: safe for concurrent use.
// - Persistence: every setter writes through to storage before returning.
type Session struct {
	storage blobstore.Storage
	clock   clockwork.Clock
	logger  observe.Logger

	mu    sync.RWMutex
	token string
	user  *User
	hooks []LogoutHook
}

// NewSession creates an empty session over storage. Call Load to restore a
// previously persisted token and user.
func NewSession(storage blobstore.Storage, opts ...SessionOption) (*Session, error) {
	if storage == nil {
		return nil, ErrNilStorage
	}
	s := &Session{
		storage: storage,
		clock:   clockwork.NewRealClock(),
		logger:  observe.NopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Load restores the token and user from storage. An unreadable user blob is
// discarded rather than failing the load.
func (s *Session) Load(ctx context.Context) error {
	tokenBlob, ok, err := s.storage.Read(ctx, TokenBlob)
	if err != nil {
		return fmt.Errorf("auth: load token: %w", err)
	}
	token := ""
	if ok {
		token = strings.TrimSpace(string(tokenBlob))
	}

	userBlob, ok, err := s.storage.Read(ctx, UserBlob)
	if err != nil {
		return fmt.Errorf("auth: load user: %w", err)
	}
	var user *User
	if ok {
		var u User
		if err := json.Unmarshal(userBlob, &u); err != nil {
			s.logger.Warn(ctx, "discarding unreadable user", observe.Err(err))
		} else {
			user = &u
		}
	}

	s.mu.Lock()
	s.token = token
	s.user = user
	s.mu.Unlock()
	return nil
}

// SetToken stores the bearer token. An empty token removes it.
func (s *Session) SetToken(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)

	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	if token == "" {
		err = s.storage.Remove(ctx, TokenBlob)
	} else {
		err = s.storage.Write(ctx, TokenBlob, []byte(token))
	}
	if err != nil {
		return fmt.Errorf("auth: persist token: %w", err)
	}
	s.token = token
	return nil
}

// SetUser stores the signed-in user.
func (s *Session) SetUser(ctx context.Context, user User) error {
	blob, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("auth: encode user: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.storage.Write(ctx, UserBlob, blob); err != nil {
		return fmt.Errorf("auth: persist user: %w", err)
	}
	s.user = &user
	return nil
}

// Token returns the bearer token, or "" when there is none or it has
// expired.
func (s *Session) Token() string {
	s.mu.RLock()
	token := s.token
	s.mu.RUnlock()

	if token == "" || expired(token, s.clock.Now()) {
		return ""
	}
	return token
}

// BearerToken implements the fetch token source. The error is always nil;
// a missing token yields "".
func (s *Session) BearerToken(context.Context) (string, error) {
	return s.Token(), nil
}

// User returns the signed-in user.
func (s *Session) User() (User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return User{}, false
	}
	return *s.user, true
}

// Authenticated reports whether a usable token is present.
func (s *Session) Authenticated() bool {
	return s.Token() != ""
}

// Identity decodes the current token.
func (s *Session) Identity() (*Identity, error) {
	s.mu.RLock()
	token := s.token
	s.mu.RUnlock()

	id, err := ParseIdentity(token)
	if err != nil {
		return nil, err
	}
	if id.IsExpired(s.clock.Now()) {
		return nil, ErrTokenExpired
	}
	return id, nil
}

// OnLogout registers a hook run after every Logout.
func (s *Session) OnLogout(hook LogoutHook) {
	if hook == nil {
		return
	}
	s.mu.Lock()
	s.hooks = append(s.hooks, hook)
	s.mu.Unlock()
}

// Logout clears the token and user in memory and in storage, then runs the
// logout hooks. Hooks run even when removing a blob fails.
func (s *Session) Logout(ctx context.Context) error {
	s.mu.Lock()
	s.token = ""
	s.user = nil
	hooks := make([]LogoutHook, len(s.hooks))
	copy(hooks, s.hooks)
	err := errors.Join(
		s.storage.Remove(ctx, TokenBlob),
		s.storage.Remove(ctx, UserBlob),
	)
	s.mu.Unlock()

	if err != nil {
		s.logger.Error(ctx, "logout: clear persisted session", observe.Err(err))
		err = fmt.Errorf("auth: logout: %w", err)
	}
	for _, hook := range hooks {
		hook(ctx)
	}
	s.logger.Info(ctx, "logged out")
	return err
}
