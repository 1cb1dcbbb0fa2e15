package audit

import (
	"context"
	"sync"
	"time"

	"github.com/shoplink/payment-orchestrator/internal/domain"
	"github.com/shoplink/payment-orchestrator/internal/domain/ports"
)

// Service is the append-only debug trail. Record never blocks and never
// fails the caller: events land in a bounded in-memory ring immediately and
// are flushed to the repository by a background writer on a best-effort
// basis. A full write queue drops the persistence attempt, not the payment.
type Service struct {
	repo    ports.AuditRepository
	logger  ports.Logger
	writeCh chan *domain.DebugEvent
	done    chan struct{}

	mu      sync.Mutex
	ring    []*domain.DebugEvent
	next    int
	filled  bool
	closed  bool
	dropped int64
}

// NewService creates the audit service. repo may be nil; events then live
// only in the ring.
func NewService(repo ports.AuditRepository, capacity int, logger ports.Logger) *Service {
	if capacity <= 0 {
		capacity = 1024
	}
	s := &Service{
		repo:    repo,
		logger:  logger,
		ring:    make([]*domain.DebugEvent, capacity),
		writeCh: make(chan *domain.DebugEvent, 256),
		done:    make(chan struct{}),
	}
	go s.writeLoop()
	return s
}

// Record appends an event. Safe for concurrent use; never returns an error.
func (s *Service) Record(kind domain.EventKind, payload map[string]any, transactionID *string) {
	event := &domain.DebugEvent{
		Timestamp:     time.Now().UTC(),
		Kind:          kind,
		Payload:       payload,
		TransactionID: transactionID,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.ring[s.next] = event
	s.next = (s.next + 1) % len(s.ring)
	if s.next == 0 {
		s.filled = true
	}

	// The queue send stays under the mutex so it cannot race Close closing
	// the channel. Recording after Close still lands in the ring.
	if s.repo == nil || s.closed {
		return
	}
	select {
	case s.writeCh <- event:
	default:
		s.dropped++
	}
}

// RecentEvents returns up to limit events, newest first, from the ring.
func (s *Service) RecentEvents(limit int) []*domain.DebugEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	size := s.next
	if s.filled {
		size = len(s.ring)
	}
	if limit <= 0 || limit > size {
		limit = size
	}

	events := make([]*domain.DebugEvent, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (s.next - i + len(s.ring)) % len(s.ring)
		events = append(events, s.ring[idx])
	}
	return events
}

// TransactionHistory returns up to limit events for one transaction, newest
// first. Reads from the repository when one is configured so history survives
// ring eviction, falling back to the ring otherwise.
func (s *Service) TransactionHistory(ctx context.Context, transactionID string, limit int) ([]*domain.DebugEvent, error) {
	if s.repo != nil {
		return s.repo.ByTransaction(ctx, transactionID, limit)
	}

	var events []*domain.DebugEvent
	for _, event := range s.RecentEvents(0) {
		if event.TransactionID != nil && *event.TransactionID == transactionID {
			events = append(events, event)
			if limit > 0 && len(events) == limit {
				break
			}
		}
	}
	return events, nil
}

// Dropped returns how many events could not be queued for persistence.
func (s *Service) Dropped() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Close stops the background writer after draining queued events. Safe to
// call more than once; Record calls racing or following Close keep the ring
// working and skip persistence.
func (s *Service) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		<-s.done
		return
	}
	s.closed = true
	close(s.writeCh)
	s.mu.Unlock()
	<-s.done
}

func (s *Service) writeLoop() {
	defer close(s.done)
	for event := range s.writeCh {
		if s.repo == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := s.repo.Append(ctx, event); err != nil {
			s.logger.Warn("audit event persistence failed",
				ports.String("kind", string(event.Kind)),
				ports.Err(err))
		}
		cancel()
	}
}
