package notify

import (
	"context"
	"errors"
)

// Notifier delivers a short message about a finished operation.
type Notifier interface {
	Send(ctx context.Context, title, body string) error
}

// MultiNotifier fans a message out to several notifiers.
type MultiNotifier struct {
	notifiers []Notifier
}

func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	return &MultiNotifier{notifiers: notifiers}
}

// Send delivers to every notifier, even after one fails, and returns the
// joined errors.
func (m *MultiNotifier) Send(ctx context.Context, title, body string) error {
	var errs []error
	for _, n := range m.notifiers {
		if err := n.Send(ctx, title, body); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NoOpNotifier does nothing.
type NoOpNotifier struct{}

func (n *NoOpNotifier) Send(context.Context, string, string) error {
	return nil
}

// FromSettings builds the notifier configured for the daemon.
func FromSettings(barkEnabled bool, barkURL string) (Notifier, error) {
	var notifiers []Notifier
	if barkEnabled {
		bark, err := NewBarkNotifier(barkURL)
		if err != nil {
			return nil, err
		}
		notifiers = append(notifiers, bark)
	}
	if len(notifiers) == 0 {
		return &NoOpNotifier{}, nil
	}
	return NewMultiNotifier(notifiers...), nil
}
