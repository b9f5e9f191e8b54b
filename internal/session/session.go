// Package session owns the back-office authentication state: who is logged
// in, with which token, and whether an auth transition is in flight.
package session

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"sync"

	"github.com/atinyakov/buildsite/internal/client/api"
	"github.com/atinyakov/buildsite/internal/models"
	"github.com/atinyakov/buildsite/internal/notify"
	"go.uber.org/zap"
)

// AuthAPI is the subset of the backend used for authentication.
type AuthAPI interface {
	Login(ctx context.Context, creds models.Credentials) (*api.LoginResponse, error)
	Logout(ctx context.Context) error
	Me(ctx context.Context) (*models.User, error)
}

// TokenStore is the durable storage for the bearer token.
type TokenStore interface {
	Token(ctx context.Context) (string, error)
	SetToken(ctx context.Context, token string) error
	ClearToken(ctx context.Context) error
}

// UserStore is implemented by token stores that also keep the user the
// token was verified for, so the session can later be restored without
// asking the backend.
type UserStore interface {
	SetUser(ctx context.Context, user *models.User) error
}

// State is a snapshot of the session.
type State struct {
	User    *models.User
	Token   string
	Loading bool
}

// IsAuthenticated reports whether both a user and a token are held.
func (s State) IsAuthenticated() bool {
	return s.User != nil && s.Token != ""
}

// LoginResult is the outcome of Login. Exactly one of User (on success),
// Errors (field validation) or Error (anything else) is meaningful.
type LoginResult struct {
	Success bool
	User    *models.User
	Message string
	Errors  map[string][]string
	Error   string
}

// Manager holds one session. The zero value is not usable; use New.
type Manager struct {
	api      AuthAPI
	store    TokenStore
	log      *zap.Logger
	notifier notify.Notifier

	mu      sync.RWMutex
	user    *models.User
	token   string
	loading int
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// WithNotifier sets where user-facing outcomes are reported.
func WithNotifier(n notify.Notifier) Option {
	return func(m *Manager) { m.notifier = n }
}

// New returns an anonymous, idle session manager.
func New(authAPI AuthAPI, store TokenStore, opts ...Option) *Manager {
	m := &Manager{
		api:      authAPI,
		store:    store,
		log:      zap.NewNop(),
		notifier: notify.Discard,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// State returns a snapshot of the session.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return State{User: m.user, Token: m.token, Loading: m.loading > 0}
}

// IsAuthenticated reports whether a user and token are held.
func (m *Manager) IsAuthenticated() bool {
	return m.State().IsAuthenticated()
}

// User returns the current user, or nil.
func (m *Manager) User() *models.User {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.user
}

// Token returns the held token, falling back to the persisted one so the
// manager can serve as the API client's token source before Initialize.
func (m *Manager) Token(ctx context.Context) (string, error) {
	m.mu.RLock()
	token := m.token
	m.mu.RUnlock()
	if token != "" {
		return token, nil
	}
	return m.store.Token(ctx)
}

func (m *Manager) begin() {
	m.mu.Lock()
	m.loading++
	m.mu.Unlock()
}

func (m *Manager) end() {
	m.mu.Lock()
	m.loading--
	m.mu.Unlock()
}

// set stores user and token together; a nil user or empty token clears both.
func (m *Manager) set(user *models.User, token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if user == nil || token == "" {
		m.user, m.token = nil, ""
		return
	}
	u := *user
	m.user, m.token = &u, token
}

// Restore adopts a user and token verified earlier without a network call.
// A nil user or empty token leaves the session anonymous.
func (m *Manager) Restore(user *models.User, token string) {
	m.set(user, token)
}

// rememberUser hands the verified user to stores that keep it.
func (m *Manager) rememberUser(ctx context.Context, user *models.User) {
	us, ok := m.store.(UserStore)
	if !ok {
		return
	}
	if err := us.SetUser(ctx, user); err != nil {
		m.log.Warn("persist verified user", zap.Error(err))
	}
}

// Initialize restores the session from the persisted token. With no token it
// makes no network call. A token the backend does not accept is removed.
func (m *Manager) Initialize(ctx context.Context) {
	m.begin()
	defer m.end()

	token, err := m.store.Token(ctx)
	if err != nil {
		m.log.Warn("read persisted token", zap.Error(err))
		m.clear(ctx)
		return
	}
	if token == "" {
		return
	}

	user, err := m.api.Me(ctx)
	if err != nil {
		m.log.Info("persisted token rejected", zap.Error(err))
		m.clear(ctx)
		return
	}
	m.set(user, token)
	m.rememberUser(ctx, user)
	m.log.Debug("session restored", zap.Int64("user_id", user.ID))
}

// Login authenticates with the backend. It never returns an error value:
// every failure is described by the result, and the previous session is
// left untouched unless the login succeeds.
func (m *Manager) Login(ctx context.Context, creds models.Credentials) LoginResult {
	if msg := validateCredentials(creds); msg != "" {
		return LoginResult{Error: msg}
	}

	m.begin()
	defer m.end()

	res, err := m.api.Login(ctx, creds)
	if err != nil {
		var ve *api.ValidationError
		if errors.As(err, &ve) {
			return LoginResult{Errors: ve.Fields, Message: ve.Message}
		}
		m.log.Info("login failed", zap.String("email", creds.Email), zap.Error(err))
		msg := api.Message(err)
		var se *api.StatusError
		if errors.Is(err, api.ErrUnauthorized) && (!errors.As(err, &se) || se.Message == "") {
			msg = "invalid email or password"
		}
		return LoginResult{Error: msg}
	}

	if err := m.store.SetToken(ctx, res.Token); err != nil {
		m.log.Error("persist token", zap.Error(err))
		return LoginResult{Error: "could not save the session"}
	}
	m.set(res.User, res.Token)
	m.rememberUser(ctx, res.User)
	m.log.Info("logged in", zap.Int64("user_id", res.User.ID), zap.String("role", res.User.Role))
	m.notifier.Notify(notify.Success, messageOr(res.Message, "Logged in"))

	return LoginResult{Success: true, User: m.User(), Message: res.Message}
}

func validateCredentials(creds models.Credentials) string {
	email := strings.TrimSpace(creds.Email)
	if email == "" || creds.Password == "" {
		return "email and password are required"
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || !strings.Contains(email[strings.LastIndex(email, "@"):], ".") {
		return "email is not valid"
	}
	return ""
}

// Logout ends the session. The server is told on a best-effort basis; the
// local session is cleared whatever it answers. Logging out while anonymous
// with nothing persisted is a no-op; when the store cannot be read it is
// cleared anyway. The error only reports a failure to clear the durable
// store.
func (m *Manager) Logout(ctx context.Context) error {
	m.begin()
	defer m.end()

	token, err := m.store.Token(ctx)
	if err != nil {
		m.log.Warn("read persisted token", zap.Error(err))
	} else if token == "" && !m.IsAuthenticated() {
		return nil
	}
	if err := m.api.Logout(ctx); err != nil {
		m.log.Info("server logout failed", zap.Error(err))
	}
	err = m.clear(ctx)
	m.notifier.Notify(notify.Info, "Logged out")
	return err
}

// Refresh re-fetches the current user. On failure the session is logged out
// so a stale user is never paired with a rejected token.
func (m *Manager) Refresh(ctx context.Context) error {
	m.begin()
	user, err := m.api.Me(ctx)
	if err == nil {
		token, terr := m.store.Token(ctx)
		if terr != nil || token == "" {
			err = errors.New("no persisted token")
		} else {
			m.set(user, token)
			m.rememberUser(ctx, user)
		}
	}
	m.end()

	if err != nil {
		m.log.Info("refresh failed", zap.Error(err))
		_ = m.Logout(ctx)
		return err
	}
	return nil
}

// Expire is the forced logout after a request was rejected for its token.
// It does not call the server.
func (m *Manager) Expire(ctx context.Context) {
	if !m.IsAuthenticated() {
		if token, err := m.store.Token(ctx); err == nil && token == "" {
			return
		}
	}
	m.log.Info("session expired")
	_ = m.clear(ctx)
	m.notifier.Notify(notify.Warning, "Your session has expired, please log in again")
}

func (m *Manager) clear(ctx context.Context) error {
	m.set(nil, "")
	if err := m.store.ClearToken(ctx); err != nil {
		m.log.Error("clear persisted token", zap.Error(err))
		return err
	}
	return nil
}

func messageOr(msg, fallback string) string {
	if msg == "" {
		return fallback
	}
	return msg
}
