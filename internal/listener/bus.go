// Package listener turns model lifecycle events into queued webhook deliveries.
package listener

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Priya8975/model-webhooks/internal/domain"
	"github.com/Priya8975/model-webhooks/internal/errs"
	"github.com/Priya8975/model-webhooks/internal/topic"
)

// Signal is the kind of lifecycle notification a model emits.
type Signal string

const (
	PostSave   Signal = "post_save"
	PostDelete Signal = "post_delete"
)

// Signals lists every signal a watched model is connected for.
var Signals = []Signal{PostSave, PostDelete}

// LifecycleEvent reports that a model instance was saved or deleted.
// Created distinguishes an insert from an update on PostSave.
type LifecycleEvent struct {
	Model   string
	Signal  Signal
	Created bool
	Subject domain.Subject
}

// Action maps the signal onto a topic action.
func (e LifecycleEvent) Action() (topic.Action, error) {
	switch e.Signal {
	case PostSave:
		if e.Created {
			return topic.Create, nil
		}
		return topic.Update, nil
	case PostDelete:
		return topic.Delete, nil
	default:
		return "", errs.Validation("signal", fmt.Sprintf("unknown signal %q", e.Signal))
	}
}

// ParseSignal accepts the wire name of a signal.
func ParseSignal(s string) (Signal, error) {
	switch Signal(s) {
	case PostSave, PostDelete:
		return Signal(s), nil
	default:
		return "", errs.Validation("signal", fmt.Sprintf("unknown signal %q", s))
	}
}

// Handler reacts to one lifecycle event.
type Handler func(ctx context.Context, ev LifecycleEvent) error

type busKey struct {
	model  string
	signal Signal
}

type registration struct {
	uid     string
	handler Handler
}

// Bus is the registration table from (model, signal) to handlers. Each
// registration carries a uid; connecting the same uid twice is a no-op.
type Bus struct {
	mu       sync.RWMutex
	handlers map[busKey][]registration
	uids     map[string]busKey
	logger   *slog.Logger
}

func NewBus(logger *slog.Logger) *Bus {
	return &Bus{
		handlers: make(map[busKey][]registration),
		uids:     make(map[string]busKey),
		logger:   logger,
	}
}

// Connect registers h for model and signal under uid. It returns false when
// uid is already connected.
func (b *Bus) Connect(model string, signal Signal, uid string, h Handler) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.uids[uid]; ok {
		return false
	}
	key := busKey{model: model, signal: signal}
	b.handlers[key] = append(b.handlers[key], registration{uid: uid, handler: h})
	b.uids[uid] = key
	b.logger.Debug("listener connected", "model", model, "signal", signal, "uid", uid)
	return true
}

// Disconnect removes the registration under uid, if any.
func (b *Bus) Disconnect(uid string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	key, ok := b.uids[uid]
	if !ok {
		return
	}
	delete(b.uids, uid)
	regs := b.handlers[key]
	for i, reg := range regs {
		if reg.uid == uid {
			b.handlers[key] = append(regs[:i:i], regs[i+1:]...)
			break
		}
	}
	if len(b.handlers[key]) == 0 {
		delete(b.handlers, key)
	}
}

// Watches reports whether anything is connected for model and signal.
func (b *Bus) Watches(model string, signal Signal) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[busKey{model: model, signal: signal}]) > 0
}

// Len returns the number of registrations.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.uids)
}

// Emit runs every handler connected for the event's model and signal, in
// registration order, on the caller's goroutine. handled is false when no
// handler is connected. Handler errors are joined.
func (b *Bus) Emit(ctx context.Context, ev LifecycleEvent) (handled bool, err error) {
	b.mu.RLock()
	regs := append([]registration(nil), b.handlers[busKey{model: ev.Model, signal: ev.Signal}]...)
	b.mu.RUnlock()

	if len(regs) == 0 {
		return false, nil
	}

	var failures []error
	for _, reg := range regs {
		if err := reg.handler(ctx, ev); err != nil {
			failures = append(failures, err)
		}
	}
	return true, errors.Join(failures...)
}
