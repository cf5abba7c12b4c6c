package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/vladislavdragonenkov/posync/internal/domain"
)

const (
	adminSessionTTL   = 10 * time.Minute
	defaultSessionTTL = 2 * time.Hour
	pinHashCost       = 10
)

var (
	pinFormat       = regexp.MustCompile(`^\d{4,6}$`)
	bcryptHashShape = regexp.MustCompile(`^\$2[aby]\$\d{2}\$.{53}$`)
)

// SessionRepository выдаёт и проверяет сессии по PIN (таблицы app_pins и app_sessions).
type SessionRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSessionRepository создаёт PostgreSQL-реализацию SessionIssuer и SessionValidator.
func NewSessionRepository(store *Store) *SessionRepository {
	return &SessionRepository{
		db:  store.DB(),
		now: func() time.Time { return time.Now().UTC() },
	}
}

// SessionTTL возвращает срок жизни сессии: админская короче остальных.
func SessionTTL(sessionType domain.SessionType) time.Duration {
	if sessionType == domain.SessionAdmin {
		return adminSessionTTL
	}
	return defaultSessionTTL
}

// SetPIN сохраняет bcrypt-хэш PIN для типа сессии.
func (r *SessionRepository) SetPIN(ctx context.Context, sessionType domain.SessionType, pin string) error {
	if !sessionType.Valid() {
		return domain.ErrSessionTypeInvalid
	}
	if !pinFormat.MatchString(pin) {
		return fmt.Errorf("%w: must be 4-6 digits", domain.ErrInvalidPIN)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(pin), pinHashCost)
	if err != nil {
		return fmt.Errorf("hash pin: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO app_pins (pin_type, pin_hash, updated_at)
		VALUES ($1,$2,NOW())
		ON CONFLICT (pin_type) DO UPDATE SET pin_hash = EXCLUDED.pin_hash, updated_at = NOW()
	`, string(sessionType), string(hash)); err != nil {
		return fmt.Errorf("store pin %s: %w", sessionType, err)
	}
	return nil
}

// Issue проверяет PIN и создаёт новую сессию.
// Хэш в старом открытом виде при успешной проверке перехэшируется в bcrypt.
func (r *SessionRepository) Issue(ctx context.Context, pin string, sessionType domain.SessionType) (domain.Session, error) {
	if !sessionType.Valid() {
		return domain.Session{}, domain.ErrSessionTypeInvalid
	}

	queryCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var stored string
	err := r.db.QueryRowContext(queryCtx, `SELECT pin_hash FROM app_pins WHERE pin_type = $1`, string(sessionType)).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Session{}, domain.ErrInvalidPIN
	}
	if err != nil {
		return domain.Session{}, fmt.Errorf("load pin %s: %w", sessionType, err)
	}

	if bcryptHashShape.MatchString(stored) {
		if bcrypt.CompareHashAndPassword([]byte(stored), []byte(pin)) != nil {
			return domain.Session{}, domain.ErrInvalidPIN
		}
	} else {
		if stored != pin {
			return domain.Session{}, domain.ErrInvalidPIN
		}
		if err := r.SetPIN(ctx, sessionType, pin); err != nil {
			return domain.Session{}, fmt.Errorf("migrate legacy pin: %w", err)
		}
	}

	session := domain.Session{
		Type:      sessionType,
		ExpiresAt: r.now().Add(SessionTTL(sessionType)),
	}
	// При коллизии токена делается одна повторная попытка.
	for attempt := 0; attempt < 2; attempt++ {
		session.Token = uuid.NewString()
		_, err = r.db.ExecContext(queryCtx, `
			INSERT INTO app_sessions (session_token, session_type, expires_at)
			VALUES ($1,$2,$3)
		`, session.Token, string(session.Type), session.ExpiresAt)
		if err == nil {
			return session, nil
		}
		if !isUniqueViolation(err) {
			break
		}
	}
	return domain.Session{}, fmt.Errorf("create session: %w", err)
}

// Validate проверяет токен на сервере. Истёкшая сессия удаляется.
// Ошибка возвращается только при сбое запроса, невалидная сессия — это (false, nil).
func (r *SessionRepository) Validate(ctx context.Context, session domain.Session) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var expiresAt time.Time
	err := r.db.QueryRowContext(ctx, `
		SELECT expires_at
		FROM app_sessions
		WHERE session_token = $1 AND session_type = $2
	`, session.Token, string(session.Type)).Scan(&expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load session: %w", err)
	}

	if r.now().Before(expiresAt) {
		return true, nil
	}
	if _, err := r.db.ExecContext(ctx, `DELETE FROM app_sessions WHERE session_token = $1`, session.Token); err != nil {
		return false, fmt.Errorf("delete expired session: %w", err)
	}
	return false, nil
}

// DeleteExpired удаляет до limit сессий с expires_at <= before.
func (r *SessionRepository) DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error) {
	if limit <= 0 {
		return 0, fmt.Errorf("delete expired sessions: limit must be > 0")
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		DELETE FROM app_sessions
		WHERE session_token IN (
			SELECT session_token FROM app_sessions
			WHERE expires_at <= $1
			ORDER BY expires_at
			LIMIT $2
		)
	`, before.UTC(), limit)
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	return int(n), nil
}

var (
	_ domain.SessionPurger    = (*SessionRepository)(nil)
	_ domain.SessionIssuer    = (*SessionRepository)(nil)
	_ domain.SessionValidator = (*SessionRepository)(nil)
)
