package broadcast

import (
	"context"
	"errors"
)

// Notifier publishes a named live event. Delivery is best effort: no
// subscribers is not an error.
type Notifier interface {
	Publish(ctx context.Context, event string, payload interface{}) error
}

// NopNotifier discards every event
type NopNotifier struct{}

func (NopNotifier) Publish(context.Context, string, interface{}) error { return nil }

// MultiNotifier publishes to each notifier in order; every notifier is tried
// even if an earlier one fails.
type MultiNotifier []Notifier

func (m MultiNotifier) Publish(ctx context.Context, event string, payload interface{}) error {
	var errs []error
	for _, n := range m {
		if err := n.Publish(ctx, event, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
