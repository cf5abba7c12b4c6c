package domain

import "time"

// SessionType разделяет сессии по зонам доступа.
type SessionType string

const (
	SessionMainApp        SessionType = "main_app"
	SessionHistorySummary SessionType = "history_summary"
	SessionOwner          SessionType = "owner"
	SessionAdmin          SessionType = "admin"
)

// Valid сообщает, является ли тип сессии известным.
func (t SessionType) Valid() bool {
	switch t {
	case SessionMainApp, SessionHistorySummary, SessionOwner, SessionAdmin:
		return true
	default:
		return false
	}
}

// Session — выданный по PIN токен доступа.
type Session struct {
	Token     string      `json:"token"`
	Type      SessionType `json:"type"`
	ExpiresAt time.Time   `json:"expires_at"`
}

// Expired сообщает, истёк ли срок сессии к моменту now.
func (s Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
