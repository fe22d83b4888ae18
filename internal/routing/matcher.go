// Package routing resolves which subscribers receive a lifecycle event.
package routing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Priya8975/model-webhooks/internal/domain"
	"github.com/Priya8975/model-webhooks/internal/errs"
	"github.com/Priya8975/model-webhooks/internal/filter"
)

// DefaultStoreTimeout bounds a single subscriber query.
const DefaultStoreTimeout = 2 * time.Second

// SubscriberSource returns the active subscribers of a topic. Implementations
// must report an outage as an error, never as an empty slice.
type SubscriberSource interface {
	ListActiveSubscribersForTopic(ctx context.Context, topic string) ([]domain.Subscriber, error)
}

// Matcher combines a SubscriberSource with per-subscriber filters.
type Matcher struct {
	source    SubscriberSource
	evaluator *filter.Evaluator
	timeout   time.Duration
	logger    *slog.Logger
}

func NewMatcher(source SubscriberSource, evaluator *filter.Evaluator, timeout time.Duration, logger *slog.Logger) *Matcher {
	if evaluator == nil {
		evaluator = filter.NewEvaluator()
	}
	if timeout <= 0 {
		timeout = DefaultStoreTimeout
	}
	return &Matcher{
		source:    source,
		evaluator: evaluator,
		timeout:   timeout,
		logger:    logger,
	}
}

// Match returns the recipients for topic. A nil subject skips filtering.
// Order of the result carries no meaning.
func (m *Matcher) Match(ctx context.Context, topic string, subject domain.Subject) ([]domain.Recipient, error) {
	subscribers, err := m.fetch(ctx, topic)
	if err != nil {
		return nil, err
	}

	recipients := make([]domain.Recipient, 0, len(subscribers))
	for _, sub := range subscribers {
		if subject != nil && !m.passes(sub, subject) {
			continue
		}
		recipients = append(recipients, domain.Recipient{
			SubscriberID:   sub.ID,
			SubscriberUUID: sub.UUID,
		})
	}
	return recipients, nil
}

func (m *Matcher) passes(sub domain.Subscriber, subject domain.Subject) bool {
	if sub.FiltersInvalid {
		m.logger.Warn("subscriber filters could not be decoded, excluding subscriber",
			"subscriber_id", sub.ID,
			"model", subject.Model(),
		)
		return false
	}

	f, ok := sub.FilterFor(subject.Model())
	if !ok || f.Empty() {
		return true
	}

	pass, err := m.evaluator.Evaluate(f, subject)
	if err != nil {
		m.logger.Warn("filter evaluation failed, excluding subscriber",
			"subscriber_id", sub.ID,
			"model", subject.Model(),
			"error", err,
		)
		return false
	}
	return pass
}

type fetchResult struct {
	subscribers []domain.Subscriber
	err         error
}

// fetch queries the source under the store timeout. The query runs on its own
// goroutine so an adapter that ignores ctx still cannot hang the caller.
func (m *Matcher) fetch(ctx context.Context, topic string) ([]domain.Subscriber, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	done := make(chan fetchResult, 1)
	go func() {
		subs, err := m.source.ListActiveSubscribersForTopic(ctx, topic)
		done <- fetchResult{subscribers: subs, err: err}
	}()

	select {
	case res := <-done:
		if res.err == nil {
			return res.subscribers, nil
		}
		if errs.IsStoreUnavailable(res.err) {
			return nil, res.err
		}
		return nil, errs.StoreUnavailable(res.err, fmt.Sprintf("listing subscribers for %s", topic))
	case <-ctx.Done():
		return nil, errs.StoreUnavailable(ctx.Err(), fmt.Sprintf("listing subscribers for %s timed out after %s", topic, m.timeout))
	}
}
