package domain

import "time"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type ChatTurn struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Session is the per-user interaction context. It lives only in memory and
// is discarded when the session ends or expires.
type Session struct {
	ID         string             `json:"id"`
	APIKey     string             `json:"-"`
	Processed  *ProcessedDocument `json:"processed,omitempty"`
	Turns      []ChatTurn         `json:"turns"`
	CreatedAt  time.Time          `json:"created_at"`
	LastSeenAt time.Time          `json:"last_seen_at"`
}

func (s *Session) HasAPIKey() bool { return s != nil && s.APIKey != "" }

// Clone returns a copy that does not share the turns slice.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.Turns = append([]ChatTurn(nil), s.Turns...)
	return &out
}
