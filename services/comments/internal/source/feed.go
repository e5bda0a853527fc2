package source

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Feed carries change notifications between writers and subscribers.
type Feed interface {
	Publish(ctx context.Context, ch Change) error
	Subscribe(fn func(Change)) (unsubscribe func(), err error)
}

// stamp fills in the envelope fields a publisher owns.
func stamp(ch Change) Change {
	if ch.EventID == "" {
		ch.EventID = uuid.NewString()
	}
	if ch.OccurredAt.IsZero() {
		ch.OccurredAt = time.Now().UTC()
	}
	return ch
}

// LocalFeed fans changes out to subscribers of the same process. Each
// delivery runs on its own goroutine so a slow subscriber never blocks the
// writer.
type LocalFeed struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]func(Change)
}

func NewLocalFeed() *LocalFeed {
	return &LocalFeed{subs: make(map[int]func(Change))}
}

func (f *LocalFeed) Publish(_ context.Context, ch Change) error {
	ch = stamp(ch)
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, fn := range f.subs {
		go fn(ch)
	}
	return nil
}

func (f *LocalFeed) Subscribe(fn func(Change)) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	f.subs[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs, id)
			f.mu.Unlock()
		})
	}, nil
}
