// README: A connected client and its bounded outbox.
package dispatch

import (
	"sync"

	"github.com/google/uuid"

	"lastmile/internal/types"
)

// Session is one live connection. Principal and ID are fixed at connect time;
// the registration fields are owned by the hub and guarded by its lock.
type Session struct {
	ID        string
	Principal types.Principal

	driver          *types.Driver
	watchAll        bool
	subscribedOrder types.ID

	mu     sync.RWMutex
	outbox chan []byte
	closed bool
}

func newSession(p types.Principal, outboxSize int) *Session {
	return &Session{
		ID:        uuid.NewString(),
		Principal: p,
		outbox:    make(chan []byte, outboxSize),
	}
}

func (s *Session) Role() types.Role {
	return s.Principal.Role
}

// Outbox is drained by the connection writer. It is closed on disconnect.
func (s *Session) Outbox() <-chan []byte {
	return s.outbox
}

// enqueue never blocks. It reports false when the outbox is full or closed.
func (s *Session) enqueue(msg []byte) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}
	select {
	case s.outbox <- msg:
		return true
	default:
		return false
	}
}

func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.outbox)
}
