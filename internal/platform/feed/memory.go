// Package feed delivers compile events to subscribers, either in-process or
// through Redis pub/sub.
package feed

import (
	"context"
	"log/slog"
	"sync"

	"github.com/vitae-app/vitae/internal/domain"
)

const subscriberBuffer = 16

// MemoryFeed fans events out to subscribers in the same process.
// A subscriber that falls behind loses events rather than blocking publishers.
type MemoryFeed struct {
	mu     sync.RWMutex
	subs   map[int]chan domain.CompileEvent
	nextID int
	logger *slog.Logger
}

var _ domain.CompileFeed = (*MemoryFeed)(nil)

// NewMemoryFeed creates an empty in-process feed.
func NewMemoryFeed(logger *slog.Logger) *MemoryFeed {
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryFeed{subs: make(map[int]chan domain.CompileEvent), logger: logger}
}

// Publish delivers ev to every current subscriber.
func (f *MemoryFeed) Publish(_ context.Context, ev domain.CompileEvent) error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	for id, ch := range f.subs {
		select {
		case ch <- ev:
		default:
			f.logger.Warn("dropping compile event for slow subscriber", "subscriber", id, "document_id", ev.DocumentID)
		}
	}
	return nil
}

// Subscribe registers a subscriber; the channel closes when ctx is done.
func (f *MemoryFeed) Subscribe(ctx context.Context) (<-chan domain.CompileEvent, error) {
	ch := make(chan domain.CompileEvent, subscriberBuffer)

	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.subs[id] = ch
	f.mu.Unlock()

	go func() {
		<-ctx.Done()
		f.mu.Lock()
		delete(f.subs, id)
		close(ch)
		f.mu.Unlock()
	}()

	return ch, nil
}

// Subscribers returns the number of active subscribers.
func (f *MemoryFeed) Subscribers() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subs)
}
