// Package service binds browser sessions to the projects backend: every
// browser carries a session id whose bearer token is kept server side.
package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/atinyakov/buildsite/internal/client/api"
	"github.com/atinyakov/buildsite/internal/models"
	"github.com/atinyakov/buildsite/internal/notify"
	"github.com/atinyakov/buildsite/internal/repository"
	"github.com/atinyakov/buildsite/internal/session"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SessionRepository defines the persistence operations
// required by the session service.
type SessionRepository interface {
	CreateSession(ctx context.Context, sid string) error
	// GetToken returns the token of sid and whether sid exists.
	GetToken(ctx context.Context, sid string) (string, bool, error)
	// GetSession returns the token of sid with the user it was verified for.
	GetSession(ctx context.Context, sid string) (repository.SessionRecord, bool, error)
	SaveToken(ctx context.Context, sid, token string) error
	SaveUser(ctx context.Context, sid string, user *models.User) error
	ClearToken(ctx context.Context, sid string) error
	Touch(ctx context.Context, sid string) error
	DeleteSessions(ctx context.Context, sids ...string) error
}

// SessionService opens per-request views of browser sessions.
type SessionService struct {
	repo       SessionRepository
	apiBase    string
	httpClient *http.Client
	log        *zap.Logger
}

// NewSessionService constructs a SessionService. hc may be nil to use the
// API client's default transport.
func NewSessionService(repo SessionRepository, apiBase string, hc *http.Client, log *zap.Logger) *SessionService {
	if log == nil {
		log = zap.NewNop()
	}
	return &SessionService{repo: repo, apiBase: apiBase, httpClient: hc, log: log}
}

// Browser is one browser session resolved for the current request.
type Browser struct {
	SID     string
	API     *api.Client
	Session *session.Manager
}

// sidStore is the token store of a single session id.
type sidStore struct {
	repo SessionRepository
	sid  string
}

func (s sidStore) Token(ctx context.Context) (string, error) {
	token, _, err := s.repo.GetToken(ctx, s.sid)
	return token, err
}

func (s sidStore) SetToken(ctx context.Context, token string) error {
	return s.repo.SaveToken(ctx, s.sid, token)
}

func (s sidStore) ClearToken(ctx context.Context) error {
	return s.repo.ClearToken(ctx, s.sid)
}

func (s sidStore) SetUser(ctx context.Context, user *models.User) error {
	return s.repo.SaveUser(ctx, s.sid, user)
}

// NewSID issues and registers a fresh session id.
func (s *SessionService) NewSID(ctx context.Context) (string, error) {
	sid := uuid.NewString()
	if err := s.repo.CreateSession(ctx, sid); err != nil {
		return "", err
	}
	return sid, nil
}

// Known reports whether sid is a registered session.
func (s *SessionService) Known(ctx context.Context, sid string) (bool, error) {
	if sid == "" {
		return false, nil
	}
	_, ok, err := s.repo.GetToken(ctx, sid)
	return ok, err
}

// Open restores the session bound to sid. A session whose user was already
// verified is restored from storage without calling the backend. A token
// bound without a user is verified once with the backend: a rejected token
// is dropped, any other failure leaves it stored for the next request.
// Backend requests made through Browser.API that are rejected for their
// token expire the session.
func (s *SessionService) Open(ctx context.Context, sid string, n notify.Notifier) *Browser {
	store := sidStore{repo: s.repo, sid: sid}
	opts := []api.Option{api.WithLogger(s.log)}
	if s.httpClient != nil {
		opts = append(opts, api.WithHTTPClient(s.httpClient))
	}
	client := api.New(s.apiBase, store, opts...)

	if n == nil {
		n = notify.Discard
	}
	log := s.log.With(zap.String("sid", shortSID(sid)))
	mgr := session.New(client, store,
		session.WithLogger(log),
		session.WithNotifier(n),
	)
	client.OnUnauthorized(mgr.Expire)
	s.bind(ctx, sid, client, mgr, log)

	if err := s.repo.Touch(ctx, sid); err != nil {
		s.log.Warn("touch session", zap.Error(err))
	}
	return &Browser{SID: sid, API: client, Session: mgr}
}

func (s *SessionService) bind(ctx context.Context, sid string, client *api.Client, mgr *session.Manager, log *zap.Logger) {
	rec, _, err := s.repo.GetSession(ctx, sid)
	if err != nil {
		log.Warn("load session", zap.Error(err))
		return
	}
	if rec.Token == "" {
		return
	}
	if rec.User != nil {
		mgr.Restore(rec.User, rec.Token)
		return
	}

	user, err := client.Me(ctx)
	switch {
	case err == nil:
		mgr.Restore(user, rec.Token)
		if err := s.repo.SaveUser(ctx, sid, user); err != nil {
			log.Warn("save session user", zap.Error(err))
		}
	case errors.Is(err, api.ErrUnauthorized):
		log.Info("stored token rejected", zap.Error(err))
		mgr.Expire(ctx)
	default:
		log.Warn("verify stored token", zap.Error(err))
	}
}

// Rotate moves the session stored under sid to a new id and removes the old
// one. It is used after login so a pre-login id never carries a token.
func (s *SessionService) Rotate(ctx context.Context, sid string) (string, error) {
	rec, _, err := s.repo.GetSession(ctx, sid)
	if err != nil {
		return "", fmt.Errorf("rotate session: %w", err)
	}
	next := uuid.NewString()
	if err := s.repo.SaveToken(ctx, next, rec.Token); err != nil {
		return "", fmt.Errorf("rotate session: %w", err)
	}
	if rec.User != nil {
		if err := s.repo.SaveUser(ctx, next, rec.User); err != nil {
			return "", fmt.Errorf("rotate session: %w", err)
		}
	}
	if err := s.repo.DeleteSessions(ctx, sid); err != nil {
		s.log.Warn("delete rotated session", zap.Error(err))
	}
	return next, nil
}

// Forget removes sid entirely.
func (s *SessionService) Forget(ctx context.Context, sid string) error {
	return s.repo.DeleteSessions(ctx, sid)
}

func shortSID(sid string) string {
	if len(sid) > 8 {
		return sid[:8]
	}
	return sid
}
