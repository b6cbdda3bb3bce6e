package notifications

import (
	"fmt"
	"html"
	"strings"
	"time"

	domain "github.com/fitmart/api/internal/domain"
)

// DefaultSender is the From header used for every storefront email.
const DefaultSender = `"FitMart" <noreply@fitmart.com>`

type statusCopy struct {
	headline string
	body     string
}

// Customer-facing copy keyed by order status; used when the customer caused
// the change (placement, payment, cancellation).
var customerStatusCopy = map[domain.OrderStatus]statusCopy{
	domain.OrderStatusPending: {
		headline: "We received your order!",
		body:     "Thank you for shopping with FitMart. Your order has been placed and is awaiting confirmation.",
	},
	domain.OrderStatusConfirmed: {
		headline: "Payment successful - order confirmed!",
		body:     "We received your payment and your order is confirmed. We will start preparing it right away.",
	},
	domain.OrderStatusCancelled: {
		headline: "Your order has been cancelled",
		body:     "Your order was cancelled as requested. Any reserved items have been returned to stock.",
	},
}

// Back-office copy keyed by order status; used when an operator moved the
// order.
var adminStatusCopy = map[domain.OrderStatus]statusCopy{
	domain.OrderStatusConfirmed: {
		headline: "Your order is confirmed!",
		body:     "Good news! Your order has been confirmed and will be processed shortly.",
	},
	domain.OrderStatusProcessing: {
		headline: "Your order is being processed",
		body:     "Our team has started processing your order.",
	},
	domain.OrderStatusInProcess: {
		headline: "Your order is being prepared",
		body:     "Your items are being picked and packed at our warehouse.",
	},
	domain.OrderStatusInShipping: {
		headline: "Your order is on the way",
		body:     "Your order has been handed over to our delivery partner.",
	},
	domain.OrderStatusShipped: {
		headline: "Your order has shipped!",
		body:     "Your order is out for delivery. It should reach you soon.",
	},
	domain.OrderStatusDelivered: {
		headline: "Your order has been delivered!",
		body:     "Your order was delivered. We hope you enjoy your new gear - thank you for choosing FitMart!",
	},
	domain.OrderStatusCancelled: {
		headline: "Your order has been cancelled",
		body:     "Unfortunately your order was cancelled. If you already paid, the amount will be refunded.",
	},
	domain.OrderStatusRejected: {
		headline: "Your order could not be accepted",
		body:     "We are sorry, but we could not accept your order. Please contact support for details.",
	},
}

// OrderStatusEmail renders the status notification for the given order. The
// second return is false when no template exists for the (status, trigger)
// pair, which callers treat as "nothing to send".
func OrderStatusEmail(order domain.Order, recipientName string, trigger domain.TriggeredBy) (subject string, body string, ok bool) {
	var copySet map[domain.OrderStatus]statusCopy
	switch trigger {
	case domain.TriggeredByAdmin:
		copySet = adminStatusCopy
	default:
		copySet = customerStatusCopy
	}
	tpl, found := copySet[order.Status]
	if !found {
		return "", "", false
	}

	// User names and product titles are free text; escape them before they
	// land in markup.
	name := html.EscapeString(strings.TrimSpace(recipientName))
	if name == "" {
		name = "there"
	}

	subject = fmt.Sprintf("Order Status Update - Order #%s", order.ShortRef())

	var b strings.Builder
	b.WriteString(`<div style="font-family:Arial,sans-serif;max-width:600px;margin:0 auto;">`)
	fmt.Fprintf(&b, `<h2 style="color:#1a1a2e;">%s</h2>`, tpl.headline)
	fmt.Fprintf(&b, `<p>Hi %s,</p>`, name)
	fmt.Fprintf(&b, `<p>%s</p>`, tpl.body)
	fmt.Fprintf(&b, `<p><strong>Order #%s</strong></p>`, order.ShortRef())
	b.WriteString(`<table style="width:100%;border-collapse:collapse;">`)
	for _, item := range order.Items {
		fmt.Fprintf(&b,
			`<tr><td style="padding:6px 0;border-bottom:1px solid #eee;">%s x%d</td><td style="text-align:right;border-bottom:1px solid #eee;">Rs. %s</td></tr>`,
			html.EscapeString(item.Title), item.Quantity, FormatRupees(item.Subtotal()))
	}
	fmt.Fprintf(&b,
		`<tr><td style="padding:8px 0;font-weight:bold;">Total</td><td style="text-align:right;font-weight:bold;">Rs. %s</td></tr>`,
		FormatRupees(order.TotalAmount))
	b.WriteString(`</table>`)
	b.WriteString(`<p style="color:#888;font-size:12px;">FitMart - gear up, show up.</p>`)
	b.WriteString(`</div>`)

	return subject, b.String(), true
}

// OTPEmail renders the account verification mail.
func OTPEmail(recipientName, code string, ttl time.Duration) (subject string, body string) {
	name := html.EscapeString(strings.TrimSpace(recipientName))
	if name == "" {
		name = "there"
	}
	minutes := int(ttl.Minutes())
	if minutes <= 0 {
		minutes = 5
	}

	subject = "Verify your FitMart account"

	var b strings.Builder
	b.WriteString(`<div style="font-family:Arial,sans-serif;max-width:600px;margin:0 auto;">`)
	b.WriteString(`<h2 style="color:#1a1a2e;">Verify your email</h2>`)
	fmt.Fprintf(&b, `<p>Hi %s,</p>`, name)
	b.WriteString(`<p>Use the code below to verify your FitMart account:</p>`)
	fmt.Fprintf(&b, `<p style="font-size:28px;letter-spacing:6px;font-weight:bold;">%s</p>`, code)
	fmt.Fprintf(&b, `<p>The code expires in %d minutes. If you did not create an account, you can ignore this email.</p>`, minutes)
	b.WriteString(`</div>`)

	return subject, b.String()
}

// FormatRupees renders a paisa amount as rupees with two decimal places.
func FormatRupees(paisa int64) string {
	sign := ""
	if paisa < 0 {
		sign = "-"
		paisa = -paisa
	}
	return fmt.Sprintf("%s%d.%02d", sign, paisa/100, paisa%100)
}
