package threeds

import (
	"sync"
	"time"

	"github.com/shoplink/payment-orchestrator/internal/domain"
)

// sessionStore is an in-memory TTL store for 3DS sessions. Sessions are
// short-lived by contract, so process-local storage with a janitor sweep is
// the whole persistence story; a restart simply fails the affected challenges
// through the normal expiry path.
type sessionStore struct {
	sessions map[string]*domain.ThreeDSSession
	stopCh   chan struct{}
	interval time.Duration
	mu       sync.Mutex
}

func newSessionStore(janitorInterval time.Duration) *sessionStore {
	if janitorInterval <= 0 {
		janitorInterval = 30 * time.Second
	}
	return &sessionStore{
		sessions: make(map[string]*domain.ThreeDSSession),
		interval: janitorInterval,
		stopCh:   make(chan struct{}),
	}
}

// put registers a session keyed by conversation id.
func (st *sessionStore) put(session *domain.ThreeDSSession) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.sessions[session.ConversationID] = session
}

// consume marks the session consumed exactly once. The second caller gets
// ErrSessionAlreadyConsumed; a caller arriving after ExpiresAt (or after the
// janitor discarded the session) gets ErrSessionExpired.
func (st *sessionStore) consume(conversationID string, now time.Time) (*domain.ThreeDSSession, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	session, ok := st.sessions[conversationID]
	if !ok {
		return nil, domain.ErrSessionExpired.WithDetail("conversation_id", conversationID)
	}
	if session.Expired(now) {
		return nil, domain.ErrSessionExpired.WithDetail("conversation_id", conversationID)
	}
	if session.Consumed {
		return session, domain.ErrSessionAlreadyConsumed.WithDetail("conversation_id", conversationID)
	}
	session.Consumed = true
	return session, nil
}

// snapshot returns a copy of all live sessions for admin inspection.
func (st *sessionStore) snapshot() []domain.ThreeDSSession {
	st.mu.Lock()
	defer st.mu.Unlock()

	sessions := make([]domain.ThreeDSSession, 0, len(st.sessions))
	for _, session := range st.sessions {
		sessions = append(sessions, *session)
	}
	return sessions
}

// sweep removes expired sessions and returns the ones that expired without
// ever being consumed, so the service can fail their transactions.
func (st *sessionStore) sweep(now time.Time) []*domain.ThreeDSSession {
	st.mu.Lock()
	defer st.mu.Unlock()

	var abandoned []*domain.ThreeDSSession
	for key, session := range st.sessions {
		if !session.Expired(now) {
			continue
		}
		delete(st.sessions, key)
		if !session.Consumed {
			abandoned = append(abandoned, session)
		}
	}
	return abandoned
}

// startJanitor sweeps on an interval until stop is called. onAbandoned runs
// outside the store lock.
func (st *sessionStore) startJanitor(onAbandoned func(*domain.ThreeDSSession)) {
	go func() {
		ticker := time.NewTicker(st.interval)
		defer ticker.Stop()
		for {
			select {
			case <-st.stopCh:
				return
			case <-ticker.C:
				for _, session := range st.sweep(time.Now().UTC()) {
					onAbandoned(session)
				}
			}
		}
	}()
}

func (st *sessionStore) stop() {
	close(st.stopCh)
}
