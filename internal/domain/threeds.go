package domain

import "time"

// ThreeDSSession correlates an out-of-band 3DS challenge with a ledger entry.
// Sessions are short-lived: consumed exactly once by the first resolver, and
// discarded after ExpiresAt whether or not anyone consumed them.
type ThreeDSSession struct {
	CreatedAt      time.Time `json:"created_at"`
	ExpiresAt      time.Time `json:"expires_at"`
	ConversationID string    `json:"conversation_id"`
	TransactionID  string    `json:"transaction_id"`
	RedirectURL    string    `json:"redirect_url"`
	Consumed       bool      `json:"consumed"`
}

// Expired reports whether the session has passed its deadline.
func (s *ThreeDSSession) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}
