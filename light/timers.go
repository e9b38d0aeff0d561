package light

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// timerScheduler is the default Scheduler, backed by time.AfterFunc with
// uuid handles.
type timerScheduler struct {
	mu     sync.Mutex
	timers map[uuid.UUID]*time.Timer
}

func NewScheduler() Scheduler {
	return &timerScheduler{timers: make(map[uuid.UUID]*time.Timer)}
}

func (s *timerScheduler) Schedule(delay time.Duration, fn func(context.Context, uuid.UUID)) uuid.UUID {
	id := uuid.New()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.timers[id] = time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.timers, id)
		s.mu.Unlock()

		fn(context.Background(), id)
	})

	return id
}

func (s *timerScheduler) Cancel(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if timer, ok := s.timers[id]; ok {
		timer.Stop()
		delete(s.timers, id)
	}
}
