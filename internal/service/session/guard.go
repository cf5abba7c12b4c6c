// Package session проверяет PIN-сессии кассы.
//
// Проверка fail-open: если сервер недоступен, действующая по локальному сроку
// сессия считается валидной. Касса не должна блокироваться из-за сети.
package session

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/posync/internal/domain"
)

// Option настраивает Guard.
type Option func(*Guard)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(g *Guard) {
		g.logger = logger
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(g *Guard) {
		g.now = now
	}
}

// Guard выдаёт и проверяет сессии, кэшируя их локально.
type Guard struct {
	cache     domain.SessionCache
	issuer    domain.SessionIssuer
	validator domain.SessionValidator
	conn      domain.Connectivity
	logger    *log.Entry
	now       func() time.Time
}

// NewGuard создаёт Guard.
func NewGuard(cache domain.SessionCache, issuer domain.SessionIssuer, validator domain.SessionValidator, conn domain.Connectivity, options ...Option) *Guard {
	g := &Guard{
		cache:     cache,
		issuer:    issuer,
		validator: validator,
		conn:      conn,
		logger:    log.WithField("component", "session-guard"),
		now:       time.Now,
	}
	for _, option := range options {
		option(g)
	}
	return g
}

// Login обменивает PIN на сессию и сохраняет её в кэше.
func (g *Guard) Login(ctx context.Context, pin string, sessionType domain.SessionType) (domain.Session, error) {
	if !sessionType.Valid() {
		return domain.Session{}, domain.ErrSessionTypeInvalid
	}
	if g.issuer == nil {
		return domain.Session{}, fmt.Errorf("%w: session issuer is not configured", domain.ErrRemoteUnavailable)
	}

	session, err := g.issuer.Issue(ctx, pin, sessionType)
	if err != nil {
		return domain.Session{}, err
	}
	if err := g.cache.SaveSession(ctx, session); err != nil {
		return domain.Session{}, fmt.Errorf("%w: save session: %v", domain.ErrLocalStorageUnavailable, err)
	}

	g.logger.WithFields(log.Fields{
		"session_type": sessionType,
		"expires_at":   session.ExpiresAt,
	}).Info("session issued")
	return session, nil
}

// Logout удаляет сессию из кэша.
func (g *Guard) Logout(ctx context.Context, sessionType domain.SessionType) error {
	if err := g.cache.DropSession(ctx, sessionType); err != nil {
		return fmt.Errorf("%w: drop session: %v", domain.ErrLocalStorageUnavailable, err)
	}
	return nil
}

// Check сообщает, есть ли действующая сессия указанного типа.
func (g *Guard) Check(ctx context.Context, sessionType domain.SessionType) bool {
	entry := g.logger.WithField("session_type", sessionType)

	if !sessionType.Valid() {
		return false
	}
	session, ok, err := g.cache.LoadSession(ctx, sessionType)
	if err != nil {
		entry.WithError(err).Error("failed to load cached session")
		return false
	}
	if !ok {
		return false
	}
	if session.Expired(g.now()) {
		g.drop(ctx, entry, sessionType)
		return false
	}
	if g.validator == nil || (g.conn != nil && !g.conn.Online()) {
		return true
	}

	valid, err := g.validator.Validate(ctx, session)
	if err != nil {
		entry.WithError(err).Warn("session validation unavailable, keeping cached session")
		return true
	}
	if !valid {
		entry.Info("session rejected by server")
		g.drop(ctx, entry, sessionType)
		return false
	}
	return true
}

func (g *Guard) drop(ctx context.Context, entry *log.Entry, sessionType domain.SessionType) {
	if err := g.cache.DropSession(ctx, sessionType); err != nil {
		entry.WithError(err).Warn("failed to drop session")
	}
}
