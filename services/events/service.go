package events

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/disqualifier/mailtime/interfaces"
	"github.com/disqualifier/mailtime/internal/logger"
	"github.com/disqualifier/mailtime/internal/utils"
)

type subscriber struct {
	id      string
	ch      chan interfaces.MailEvent
	dropped atomic.Int64
}

// eventsService fans engine events out to in-process subscribers. Publish
// never blocks: a subscriber whose buffer is full loses the event.
type eventsService struct {
	log logger.Logger

	mu          sync.RWMutex
	subscribers map[string]*subscriber
	closed      bool
}

func NewEventsService(log logger.Logger) interfaces.EventsService {
	return &eventsService{
		log:         log,
		subscribers: make(map[string]*subscriber),
	}
}

func (s *eventsService) Publish(ctx context.Context, event interfaces.MailEvent) {
	if event.ID == "" {
		event.ID = utils.GenerateEventID()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = utils.Now()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return
	}

	for _, sub := range s.subscribers {
		select {
		case sub.ch <- event:
		default:
			s.log.Warnf("Dropping %s event for slow subscriber %s (%d dropped so far)",
				event.Type, sub.id, sub.dropped.Add(1))
		}
	}
}

func (s *eventsService) Subscribe(buffer int) (<-chan interfaces.MailEvent, func()) {
	if buffer < 1 {
		buffer = 1
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		ch := make(chan interfaces.MailEvent)
		close(ch)
		return ch, func() {}
	}

	id := uuid.New().String()
	sub := &subscriber{id: id, ch: make(chan interfaces.MailEvent, buffer)}
	s.subscribers[id] = sub

	return sub.ch, func() { s.unsubscribe(id) }
}

// unsubscribe takes the write lock, so no Publish can be mid-send on the
// channel when it closes.
func (s *eventsService) unsubscribe(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, exists := s.subscribers[id]
	if !exists {
		return
	}
	delete(s.subscribers, id)
	close(sub.ch)
}

func (s *eventsService) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true

	for id, sub := range s.subscribers {
		delete(s.subscribers, id)
		close(sub.ch)
	}
}
