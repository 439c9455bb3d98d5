package notify

import (
	"context"
	"errors"
)

// Fanout delivers to every sink and joins their errors.
type Fanout []Sink

func (f Fanout) SendNotification(ctx context.Context, n Notification) error {
	var errs []error
	for _, s := range f {
		errs = append(errs, s.SendNotification(ctx, n))
	}
	return errors.Join(errs...)
}

func (f Fanout) SendEmail(ctx context.Context, e Email) error {
	var errs []error
	for _, s := range f {
		errs = append(errs, s.SendEmail(ctx, e))
	}
	return errors.Join(errs...)
}

func (f Fanout) PublishLifecycle(ctx context.Context, e LifecycleEvent) error {
	var errs []error
	for _, s := range f {
		errs = append(errs, s.PublishLifecycle(ctx, e))
	}
	return errors.Join(errs...)
}
