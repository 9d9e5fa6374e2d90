package notify

import (
	"context"
	"errors"
)

// MultiNotifier fans out notifications to multiple notifiers.
type MultiNotifier struct {
	notifiers []Notifier
}

// NewMultiNotifier creates a notifier that dispatches to all provided notifiers.
// Typed nil pointers returned by optional constructors and disabled channels
// are skipped.
func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	filtered := make([]Notifier, 0, len(notifiers))
	for _, notifier := range notifiers {
		if isNil(notifier) {
			continue
		}
		filtered = append(filtered, notifier)
	}
	return &MultiNotifier{notifiers: filtered}
}

func isNil(n Notifier) bool {
	switch v := n.(type) {
	case nil:
		return true
	case *WebhookNotifier:
		return v == nil
	case *EmailNotifier:
		return v == nil
	case *NoopNotifier:
		return true
	}
	return false
}

// Len reports how many notifiers receive messages.
func (m *MultiNotifier) Len() int {
	return len(m.notifiers)
}

// NotifyFailure implements Notifier.
func (m *MultiNotifier) NotifyFailure(ctx context.Context, event FailureEvent) error {
	return m.each(func(n Notifier) error { return n.NotifyFailure(ctx, event) })
}

// NotifyRecovery implements Notifier.
func (m *MultiNotifier) NotifyRecovery(ctx context.Context, event RecoveryEvent) error {
	return m.each(func(n Notifier) error { return n.NotifyRecovery(ctx, event) })
}

// NotifyReport implements Notifier.
func (m *MultiNotifier) NotifyReport(ctx context.Context, report Report) error {
	return m.each(func(n Notifier) error { return n.NotifyReport(ctx, report) })
}

// each delivers to every notifier even when one fails and joins the errors.
func (m *MultiNotifier) each(send func(Notifier) error) error {
	var errs []error
	for _, notifier := range m.notifiers {
		if err := send(notifier); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
