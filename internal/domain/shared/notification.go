package shared

import "context"

// Severity is the level of a user-facing notification
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Notification is a transient message shown to the operator
type Notification struct {
	Severity Severity `json:"severity"`
	Title    string   `json:"title"`
	Message  string   `json:"message"`
}

// Notifier delivers notifications to the operator. Implementations must not block.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// NopNotifier drops every notification
type NopNotifier struct{}

// Notify implements Notifier
func (NopNotifier) Notify(context.Context, Notification) {}
