package memory

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/posync/internal/domain"
)

// SessionCache — in-memory кэш сессий по типу.
type SessionCache struct {
	mu       sync.RWMutex
	sessions map[domain.SessionType]domain.Session
}

// NewSessionCache создаёт пустой кэш сессий.
func NewSessionCache() *SessionCache {
	return &SessionCache{sessions: make(map[domain.SessionType]domain.Session)}
}

func (c *SessionCache) LoadSession(_ context.Context, sessionType domain.SessionType) (domain.Session, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	session, ok := c.sessions[sessionType]
	return session, ok, nil
}

func (c *SessionCache) SaveSession(_ context.Context, session domain.Session) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions[session.Type] = session
	return nil
}

func (c *SessionCache) DropSession(_ context.Context, sessionType domain.SessionType) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, sessionType)
	return nil
}

var _ domain.SessionCache = (*SessionCache)(nil)
