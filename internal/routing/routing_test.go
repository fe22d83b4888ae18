package routing

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Priya8975/model-webhooks/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

// memorySource behaves like the subscribers table: it filters by active flag
// and topic membership on every call.
type memorySource struct {
	mu          sync.Mutex
	subscribers []domain.Subscriber
	err         error
	calls       int
	gate        chan struct{}
}

func (s *memorySource) ListActiveSubscribersForTopic(ctx context.Context, topic string) ([]domain.Subscriber, error) {
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	var out []domain.Subscriber
	for _, sub := range s.subscribers {
		if sub.Active && sub.SubscribedTo(topic) {
			out = append(out, sub.Clone())
		}
	}
	return out, nil
}

func (s *memorySource) setActive(id int64, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.subscribers {
		if s.subscribers[i].ID == id {
			s.subscribers[i].Active = active
		}
	}
}

func (s *memorySource) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *memorySource) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func subscriber(id int64, topics []string, filters map[string]domain.Filter) domain.Subscriber {
	return domain.Subscriber{
		ID:      id,
		UUID:    uuid.New(),
		URL:     "https://example.com/hooks/" + uuid.NewString(),
		Active:  true,
		Topics:  topics,
		Filters: filters,
	}
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func recipientIDs(recipients []domain.Recipient) []int64 {
	ids := make([]int64, 0, len(recipients))
	for _, r := range recipients {
		ids = append(ids, r.SubscriberID)
	}
	return ids
}

var errConnRefused = errors.New("dial tcp 127.0.0.1:5432: connect: connection refused")
