package shared

import (
	"context"
	"time"
)

// Severity of an operator notification
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Notification categories
const (
	CategoryWebhook    = "webhook"
	CategoryWithdrawal = "withdrawal"
	CategoryDispute    = "dispute"
	CategoryLedger     = "ledger"
)

// Notification is an operator-facing alert published for the notification service
type Notification struct {
	Title     string            `json:"title"`
	Message   string            `json:"message"`
	Severity  Severity          `json:"severity"`
	Category  string            `json:"category"`
	Details   map[string]string `json:"details,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// Notifier delivers operator notifications. Delivery is fire-and-forget: a
// failure is logged by the implementation and never reaches the caller.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// NewNotification builds a notification stamped with now
func NewNotification(title, message string, severity Severity, category string, now time.Time) Notification {
	return Notification{
		Title:     title,
		Message:   message,
		Severity:  severity,
		Category:  category,
		Details:   map[string]string{},
		CreatedAt: now,
	}
}

// With adds a detail and returns the notification for chaining
func (n Notification) With(key, value string) Notification {
	if n.Details == nil {
		n.Details = map[string]string{}
	}
	n.Details[key] = value
	return n
}
