package notifications

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/fitmart/api/internal/domain"
)

// Message is a rendered email ready for transport.
type Message struct {
	To      string
	Subject string
	HTML    string
}

// Mailer delivers rendered messages. Implementations must be safe for
// concurrent use.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// Logger mirrors the service logging adapter.
type Logger func(ctx context.Context, event string, fields map[string]any)

// Dispatcher renders and delivers lifecycle emails. Delivery is best effort:
// failures are logged and never propagate to the caller's transaction.
type Dispatcher struct {
	mailer  Mailer
	logger  Logger
	timeout time.Duration
}

// DispatcherOption configures optional dispatcher behaviour.
type DispatcherOption func(*Dispatcher)

// WithDispatcherLogger injects the logging adapter.
func WithDispatcherLogger(logger Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithDispatcherTimeout bounds every delivery attempt.
func WithDispatcherTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// NewDispatcher constructs a Dispatcher over the given transport.
func NewDispatcher(mailer Mailer, opts ...DispatcherOption) (*Dispatcher, error) {
	if mailer == nil {
		return nil, errors.New("notifications: mailer is required")
	}
	d := &Dispatcher{
		mailer:  mailer,
		logger:  func(context.Context, string, map[string]any) {},
		timeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// NotifyOrderStatus delivers the status email for the order synchronously and
// reports whether delivery succeeded. A missing template counts as success
// with nothing sent.
func (d *Dispatcher) NotifyOrderStatus(ctx context.Context, order domain.Order, email, name string, trigger domain.TriggeredBy) bool {
	if d == nil || d.mailer == nil {
		return false
	}
	email = strings.TrimSpace(email)
	if email == "" {
		d.logger(ctx, "notifications.order.skipped", map[string]any{
			"orderId": order.ID,
			"reason":  "no recipient",
		})
		return false
	}

	subject, html, ok := OrderStatusEmail(order, name, trigger)
	if !ok {
		return true
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	if err := d.mailer.Send(ctx, Message{To: email, Subject: subject, HTML: html}); err != nil {
		d.logger(ctx, "notifications.order.failed", map[string]any{
			"orderId": order.ID,
			"status":  string(order.Status),
			"error":   err.Error(),
		})
		return false
	}
	d.logger(ctx, "notifications.order.sent", map[string]any{
		"orderId": order.ID,
		"status":  string(order.Status),
	})
	return true
}

// NotifyOrderStatusAsync fires the delivery on a detached context so a
// committed transition never waits on the mail transport.
func (d *Dispatcher) NotifyOrderStatusAsync(ctx context.Context, order domain.Order, email, name string, trigger domain.TriggeredBy) {
	if d == nil {
		return
	}
	go func() {
		d.NotifyOrderStatus(context.WithoutCancel(ctx), order, email, name, trigger)
	}()
}

// NotifyOTP delivers the account verification code.
func (d *Dispatcher) NotifyOTP(ctx context.Context, email, name, code string, ttl time.Duration) bool {
	if d == nil || d.mailer == nil {
		return false
	}
	email = strings.TrimSpace(email)
	if email == "" {
		return false
	}

	subject, html := OTPEmail(name, code, ttl)

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	if err := d.mailer.Send(ctx, Message{To: email, Subject: subject, HTML: html}); err != nil {
		d.logger(ctx, "notifications.otp.failed", map[string]any{
			"error": err.Error(),
		})
		return false
	}
	return true
}
