package bus

import (
	"log/slog"
	"sync"

	"github.com/sentinelstack/sentinel-engine/internal/metrics"
	"github.com/sentinelstack/sentinel-engine/internal/models"
)

// Publisher broadcasts pipeline events to subscribers without ever blocking
// the publishing side. Each subscriber owns a bounded queue; when it fills,
// the oldest buffered event is dropped so the newest always lands.
type Publisher struct {
	mu      sync.Mutex
	logger  *slog.Logger
	bufSize int
	nextID  int
	subs    map[int]chan models.Event
	closed  bool
}

// Subscription is one subscriber's view of the event stream. Reconnecting
// subscribers start fresh; there is no backfill.
type Subscription struct {
	id  int
	ch  chan models.Event
	pub *Publisher
}

// Events returns the subscriber's receive channel. It is closed when the
// subscription or the publisher shuts down.
func (s *Subscription) Events() <-chan models.Event { return s.ch }

// Close detaches the subscription and closes its channel.
func (s *Subscription) Close() {
	s.pub.unsubscribe(s.id)
}

// NewPublisher creates a publisher with the given per-subscriber buffer size.
func NewPublisher(logger *slog.Logger, bufSize int) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	if bufSize < 1 {
		bufSize = 64
	}
	return &Publisher{
		logger:  logger.With(slog.String("component", "publisher")),
		bufSize: bufSize,
		subs:    make(map[int]chan models.Event),
	}
}

// Subscribe registers a new subscriber starting at the current point in the
// stream.
func (p *Publisher) Subscribe() *Subscription {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.nextID++
	ch := make(chan models.Event, p.bufSize)
	if p.closed {
		close(ch)
	} else {
		p.subs[p.nextID] = ch
	}
	return &Subscription{id: p.nextID, ch: ch, pub: p}
}

// Publish fans the event out to every subscriber. Fire-and-forget: a slow
// or gone subscriber loses its oldest buffered events, never stalls the
// pipeline.
func (p *Publisher) Publish(ev models.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for id, ch := range p.subs {
		select {
		case ch <- ev:
			continue
		default:
		}
		// Queue full: evict the oldest buffered event, then retry once.
		select {
		case <-ch:
			metrics.CountDroppedEvent()
			p.logger.Debug("subscriber queue overflow", slog.Int("subscriber", id), slog.String("kind", string(ev.Kind)))
		default:
		}
		select {
		case ch <- ev:
		default:
		}
	}
}

// Close detaches and closes every subscription.
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.closed = true
	for id, ch := range p.subs {
		close(ch)
		delete(p.subs, id)
	}
}

func (p *Publisher) unsubscribe(id int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if ch, ok := p.subs[id]; ok {
		close(ch)
		delete(p.subs, id)
	}
}
