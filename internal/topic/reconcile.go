package topic

import (
	"context"
	"fmt"
	"log/slog"
)

// Record is a persisted topic row.
type Record struct {
	Name        string
	DisplayName string
}

// Store is the persistence surface Reconcile needs.
type Store interface {
	ListTopics(ctx context.Context) ([]Record, error)
	DeleteTopicsExcept(ctx context.Context, keep []string) (int64, error)
	CreateTopic(ctx context.Context, rec Record) error
}

// Reconcile makes the persisted topic set equal to the allow-list derived from
// models: anything outside it is purged, missing topics are created.
func Reconcile(ctx context.Context, store Store, models []string, logger *slog.Logger) error {
	allowed := Allowed(models)
	if len(allowed) == 0 {
		logger.Info("no watched models configured, skipping topic reconciliation")
		return nil
	}

	purged, err := store.DeleteTopicsExcept(ctx, allowed)
	if err != nil {
		return fmt.Errorf("purging topics: %w", err)
	}
	if purged > 0 {
		logger.Info("purged topics outside allow-list", "purged", purged)
	}

	existing, err := store.ListTopics(ctx)
	if err != nil {
		return fmt.Errorf("listing topics: %w", err)
	}
	have := make(map[string]struct{}, len(existing))
	for _, rec := range existing {
		have[rec.Name] = struct{}{}
	}

	for _, name := range allowed {
		if _, ok := have[name]; ok {
			continue
		}
		if err := store.CreateTopic(ctx, Record{Name: name, DisplayName: DisplayName(name)}); err != nil {
			return fmt.Errorf("creating topic %s: %w", name, err)
		}
		logger.Info("added topic", "topic", name)
	}
	return nil
}
